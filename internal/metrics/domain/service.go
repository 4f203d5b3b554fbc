package domain

import (
	"context"
	"errors"
	"time"
)

// Service aggregates per-tenant counters into one-minute buckets.
type Service interface {
	// Increment never fails the caller; errors are logged and counted.
	Increment(ctx context.Context, apiKey, dimension string, amount int64)
	Read(ctx context.Context, apiKey, dimension string, window time.Duration) (int64, error)
	CurrentHour(ctx context.Context, apiKey, dimension string) (int64, error)
	Breakdown(ctx context.Context, apiKey, prefix string, window time.Duration) (map[string]int64, error)
	RecordEvent(ctx context.Context, apiKey string, facts EventFacts) Snapshot
}

// Store persists bucket counters. IncrBy must be atomic under concurrency.
type Store interface {
	IncrBy(ctx context.Context, apiKey, dimension string, bucket time.Time, amount int64) error
	Sum(ctx context.Context, apiKey, dimension string, buckets []time.Time) (int64, error)
	Dimensions(ctx context.Context, apiKey string) ([]string, error)
}

// EventFacts is what the aggregator needs to know about one processed event.
type EventFacts struct {
	Platform      string
	EventName     string
	ClusterID     *int
	PrimaryIntent string
	NewSession    bool
	NewUser       bool
}

// Snapshot holds the counter deltas applied for one event, keyed by
// dimension.
type Snapshot map[string]int64

var ErrMetrics = errors.New("metrics_unavailable")
