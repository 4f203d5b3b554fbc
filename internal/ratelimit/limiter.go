package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrCounterUnavailable = errors.New("rate_limit_counter_unavailable")

// Counter reads the running total of a dimension for the current wall-clock
// hour.
type Counter interface {
	CurrentHour(ctx context.Context, apiKey, dimension string) (int64, error)
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	FailedOpen bool
	// RetryAfter is the time until the hourly window rolls over. Only set
	// when the request was rejected.
	RetryAfter time.Duration
}

type LimiterParams struct {
	fx.In

	Counter metricsdomain.Service
	Clock   clock.Clock
	Config  config.Config
	Log     *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Limiter admits events against a per-tenant hourly ceiling.
type Limiter struct {
	counter  Counter
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	failOpen bool
}

func NewLimiter(p LimiterParams) *Limiter {
	return &Limiter{
		counter:  p.Counter,
		clock:    p.Clock,
		log:      p.Log.Named("ratelimit.limiter"),
		metrics:  p.Metrics,
		failOpen: p.Config.RateLimit.FailOpen,
	}
}

// Admit allows the request iff the current hour's total_events count is
// below limit. A limit of zero or less is unlimited. When the counter cannot
// be read the request is admitted if the limiter fails open, and rejected
// with ErrCounterUnavailable otherwise.
//
// Admit only reads the counter. total_events is incremented once the event
// has been scored, so requests admitted concurrently all see the same count
// and an hour can overshoot limit by the number of requests in flight.
func (l *Limiter) Admit(ctx context.Context, apiKey string, limit int) (Decision, error) {
	decision := Decision{Limit: limit}
	if limit <= 0 {
		decision.Allowed = true
		return decision, nil
	}

	count, err := l.counter.CurrentHour(ctx, apiKey, metricsdomain.DimensionTotalEvents)
	if err != nil {
		if !l.failOpen {
			decision.RetryAfter = l.untilNextHour()
			return decision, fmt.Errorf("%w: %v", ErrCounterUnavailable, err)
		}
		l.metrics.RecordRateLimitFailOpen(ctx)
		logger.WithContext(ctx, l.log).Warn("rate limit counter unavailable, failing open", zap.Error(err))
		decision.Allowed = true
		decision.FailedOpen = true
		return decision, nil
	}

	decision.Count = count
	decision.Allowed = count < int64(limit)
	if !decision.Allowed {
		decision.RetryAfter = l.untilNextHour()
	}
	return decision, nil
}

func (l *Limiter) untilNextHour() time.Duration {
	now := l.clock.Now()
	return now.Truncate(time.Hour).Add(time.Hour).Sub(now)
}
