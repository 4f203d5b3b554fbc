package stream

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang/snappy"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(err)
	}
	decOpts := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(err)
	}
}

// Encode serializes an event as deterministic CBOR compressed with snappy.
func Encode(event Event) ([]byte, error) {
	raw, err := encMode.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

// Decode is the inverse of Encode.
func Decode(payload []byte) (Event, error) {
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return Event{}, fmt.Errorf("decompress event: %w", err)
	}
	var event Event
	if err := decMode.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
