package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	eventsProcessed   metric.Int64Counter
	processDuration   metric.Int64Histogram
	rateLimitDenied   metric.Int64Counter
	rateLimitFailOpen metric.Int64Counter
	streamFailures    metric.Int64Counter
	scoringErrors     metric.Int64Counter
	metricsWriteErrs  metric.Int64Counter
	tenantCache       metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "intentflow"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.eventsProcessed, err = meter.Int64Counter("intentflow_events_processed_total"); err != nil {
		return nil, err
	}
	if m.processDuration, err = meter.Int64Histogram("intentflow_event_process_duration_ms", metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("intentflow_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.rateLimitFailOpen, err = meter.Int64Counter("intentflow_rate_limit_fail_open_total"); err != nil {
		return nil, err
	}
	if m.streamFailures, err = meter.Int64Counter("intentflow_stream_append_failures_total"); err != nil {
		return nil, err
	}
	if m.scoringErrors, err = meter.Int64Counter("intentflow_scoring_branch_errors_total"); err != nil {
		return nil, err
	}
	if m.metricsWriteErrs, err = meter.Int64Counter("intentflow_metrics_write_errors_total"); err != nil {
		return nil, err
	}
	if m.tenantCache, err = meter.Int64Counter("intentflow_tenant_cache_lookups_total"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordEventProcessed counts a finished Process call by terminal state.
func (m *Metrics) RecordEventProcessed(ctx context.Context, state, planType string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("state", strings.TrimSpace(state)),
		attribute.String("plan_type", strings.TrimSpace(planType)),
	)
	m.eventsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.processDuration.Record(ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, planType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("plan_type", strings.TrimSpace(planType)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitFailOpen counts admissions granted because the counter
// store could not be read.
func (m *Metrics) RecordRateLimitFailOpen(ctx context.Context) {
	if m == nil {
		return
	}
	m.rateLimitFailOpen.Add(ctx, 1)
}

func (m *Metrics) RecordStreamAppendFailure(ctx context.Context) {
	if m == nil {
		return
	}
	m.streamFailures.Add(ctx, 1)
}

// RecordScoringBranchError counts a failed or timed-out scoring branch.
func (m *Metrics) RecordScoringBranchError(ctx context.Context, branch, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("branch", strings.TrimSpace(branch)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.scoringErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordMetricsWriteError(ctx context.Context, dimensionKind string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("dimension_kind", strings.TrimSpace(dimensionKind)))
	m.metricsWriteErrs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTenantCache counts cache lookups by result: hit, miss or error.
func (m *Metrics) RecordTenantCache(ctx context.Context, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.tenantCache.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// API keys and anon ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"state":          {},
	"plan_type":      {},
	"branch":         {},
	"reason":         {},
	"dimension_kind": {},
	"result":         {},
	"status_code":    {},
	"endpoint":       {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
