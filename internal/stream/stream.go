package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/intentflow/internal/config"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultAppendTimeout = 500 * time.Millisecond

// Log is a partitioned append-only event log.
type Log interface {
	Append(ctx context.Context, partition string, event Event) error
}

type Params struct {
	fx.In

	Log     Log
	Config  config.Config
	Logger  *zap.Logger
	Metrics *obsmetrics.Metrics `optional:"true"`
}

// Stream is the ingestion entry point in front of a Log. Every append is
// bounded by the configured timeout and failures surface as ErrIngestion.
type Stream struct {
	log     Log
	logger  *zap.Logger
	metrics *obsmetrics.Metrics
	timeout time.Duration
}

func New(p Params) *Stream {
	timeout := p.Config.Stream.AppendTimeout
	if timeout <= 0 {
		timeout = defaultAppendTimeout
	}
	return &Stream{
		log:     p.Log,
		logger:  p.Logger.Named("stream"),
		metrics: p.Metrics,
		timeout: timeout,
	}
}

func (s *Stream) Append(ctx context.Context, event Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.log.Append(ctx, event.PartitionKey(), event); err != nil {
		s.metrics.RecordStreamAppendFailure(ctx)
		logger.WithContext(ctx, s.logger).Warn("event append failed",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrIngestion, err)
	}
	return nil
}
