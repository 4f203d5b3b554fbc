package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/intentflow/internal/clock"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
)

type memoryCounter struct {
	value  atomic.Int64
	bucket time.Time
}

type memoryStore struct {
	clock     clock.Clock
	retention time.Duration

	counters sync.Map // bucket key -> *memoryCounter
	dims     sync.Map // api key -> *sync.Map of dimension -> struct{}

	pruneMu sync.Mutex
	pruneAt time.Time
}

// NewMemory keeps counters in process. Buckets older than retention are
// pruned at most once a minute from the write path.
func NewMemory(clk clock.Clock, retention time.Duration) metricsdomain.Store {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &memoryStore{clock: clk, retention: retention}
}

func (s *memoryStore) IncrBy(ctx context.Context, apiKey, dimension string, bucket time.Time, amount int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := bucketKey(apiKey, dimension, bucket)
	counter, ok := s.counters.Load(key)
	if !ok {
		counter, _ = s.counters.LoadOrStore(key, &memoryCounter{bucket: bucket})
	}
	counter.(*memoryCounter).value.Add(amount)

	set, _ := s.dims.LoadOrStore(apiKey, &sync.Map{})
	set.(*sync.Map).Store(dimension, struct{}{})

	s.maybePrune()
	return nil
}

func (s *memoryStore) Sum(ctx context.Context, apiKey, dimension string, buckets []time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total int64
	for _, bucket := range buckets {
		if counter, ok := s.counters.Load(bucketKey(apiKey, dimension, bucket)); ok {
			total += counter.(*memoryCounter).value.Load()
		}
	}
	return total, nil
}

func (s *memoryStore) Dimensions(ctx context.Context, apiKey string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set, ok := s.dims.Load(apiKey)
	if !ok {
		return nil, nil
	}
	var out []string
	set.(*sync.Map).Range(func(key, _ any) bool {
		out = append(out, key.(string))
		return true
	})
	sort.Strings(out)
	return out, nil
}

func (s *memoryStore) maybePrune() {
	now := s.clock.Now()
	if !s.pruneMu.TryLock() {
		return
	}
	defer s.pruneMu.Unlock()
	if now.Before(s.pruneAt) {
		return
	}
	s.pruneAt = now.Add(time.Minute)

	cutoff := now.Add(-s.retention)
	s.counters.Range(func(key, value any) bool {
		if value.(*memoryCounter).bucket.Before(cutoff) {
			s.counters.Delete(key)
		}
		return true
	})
}
