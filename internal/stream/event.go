package stream

import (
	"errors"
	"time"
)

var ErrIngestion = errors.New("ingestion_failed")

// Event is one anonymous behavioral event. It is immutable once appended.
type Event struct {
	EventID    string         `json:"eventId" cbor:"1,keyasint"`
	APIKey     string         `json:"apiKey" cbor:"2,keyasint"`
	AnonID     string         `json:"anonId" cbor:"3,keyasint"`
	SessionID  string         `json:"sessionId" cbor:"4,keyasint"`
	EventName  string         `json:"eventName" cbor:"5,keyasint"`
	Timestamp  time.Time      `json:"timestamp" cbor:"6,keyasint"`
	Platform   string         `json:"platform" cbor:"7,keyasint"`
	Properties map[string]any `json:"properties,omitempty" cbor:"8,keyasint,omitempty"`
	IngestedAt time.Time      `json:"ingestedAt" cbor:"9,keyasint"`
}

// PartitionKey groups the events of one user of one tenant. Events sharing
// a partition key are appended in order.
func PartitionKey(apiKey, anonID string) string {
	return apiKey + "#" + anonID
}

func (e Event) PartitionKey() string {
	return PartitionKey(e.APIKey, e.AnonID)
}
