package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	bucketWidth      = time.Minute
	defaultRetention = 48 * time.Hour
	defaultTimeout   = 250 * time.Millisecond
)

type Params struct {
	fx.In

	Store   metricsdomain.Store
	Clock   clock.Clock
	Log     *zap.Logger
	Config  config.Config
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	store   metricsdomain.Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	retention time.Duration
	timeout   time.Duration
}

func New(p Params) metricsdomain.Service {
	retention := p.Config.Metrics.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	timeout := p.Config.Metrics.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		store:     p.Store,
		clock:     p.Clock,
		log:       p.Log.Named("metrics.service"),
		metrics:   p.Metrics,
		retention: retention,
		timeout:   timeout,
	}
}

func (s *Service) Increment(ctx context.Context, apiKey, dimension string, amount int64) {
	if amount == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	bucket := s.clock.Now().Truncate(bucketWidth)
	if err := s.store.IncrBy(ctx, apiKey, dimension, bucket, amount); err != nil {
		s.metrics.RecordMetricsWriteError(ctx, metricsdomain.Kind(dimension))
		s.log.Warn("metrics increment failed",
			zap.String("dimension", dimension),
			zap.Error(err),
		)
	}
}

// Read sums the buckets covering the last window, clipped to retention.
func (s *Service) Read(ctx context.Context, apiKey, dimension string, window time.Duration) (int64, error) {
	now := s.clock.Now()
	if window > s.retention {
		window = s.retention
	}
	return s.sum(ctx, apiKey, dimension, bucketsBetween(now.Add(-window).Add(bucketWidth), now))
}

// CurrentHour sums the buckets from the top of the wall-clock hour to now.
func (s *Service) CurrentHour(ctx context.Context, apiKey, dimension string) (int64, error) {
	now := s.clock.Now()
	return s.sum(ctx, apiKey, dimension, bucketsBetween(now.Truncate(time.Hour), now))
}

// Breakdown returns per-suffix totals for every indexed dimension sharing
// prefix. Zero totals are omitted.
func (s *Service) Breakdown(ctx context.Context, apiKey, prefix string, window time.Duration) (map[string]int64, error) {
	listCtx, cancel := context.WithTimeout(ctx, s.timeout)
	dims, err := s.store.Dimensions(listCtx, apiKey)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: list dimensions: %v", metricsdomain.ErrMetrics, err)
	}

	out := make(map[string]int64)
	for _, dim := range dims {
		if !strings.HasPrefix(dim, prefix) {
			continue
		}
		n, err := s.Read(ctx, apiKey, dim, window)
		if err != nil {
			return nil, err
		}
		if n != 0 {
			out[strings.TrimPrefix(dim, prefix)] = n
		}
	}
	return out, nil
}

// RecordEvent applies the counters implied by one processed event and
// returns the deltas.
func (s *Service) RecordEvent(ctx context.Context, apiKey string, facts metricsdomain.EventFacts) metricsdomain.Snapshot {
	snapshot := metricsdomain.Snapshot{
		metricsdomain.DimensionTotalEvents:              1,
		metricsdomain.PlatformDimension(facts.Platform): 1,
		metricsdomain.EventDimension(facts.EventName):   1,
	}
	if facts.NewSession {
		snapshot[metricsdomain.DimensionSessions] = 1
	}
	if facts.NewUser {
		snapshot[metricsdomain.DimensionUsers] = 1
	}
	if facts.ClusterID != nil {
		snapshot[metricsdomain.ClusterDimension(*facts.ClusterID)] = 1
	}
	if facts.PrimaryIntent != "" {
		snapshot[metricsdomain.IntentDimension(facts.PrimaryIntent)] = 1
	}

	for dim, delta := range snapshot {
		s.Increment(ctx, apiKey, dim, delta)
	}
	return snapshot
}

func (s *Service) sum(ctx context.Context, apiKey, dimension string, buckets []time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.store.Sum(ctx, apiKey, dimension, buckets)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", metricsdomain.ErrMetrics, err)
	}
	return n, nil
}

// bucketsBetween lists the minute buckets from floor(from) to floor(to),
// inclusive.
func bucketsBetween(from, to time.Time) []time.Time {
	first := from.Truncate(bucketWidth)
	last := to.Truncate(bucketWidth)
	if last.Before(first) {
		return []time.Time{last}
	}
	buckets := make([]time.Time, 0, int(last.Sub(first)/bucketWidth)+1)
	for b := first; !b.After(last); b = b.Add(bucketWidth) {
		buckets = append(buckets, b)
	}
	return buckets
}
