package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("plan_type", "trial"),
		attribute.String("api_key", "ak_deadbeef_x"),
		attribute.String("anon_id", "anon-1"),
		attribute.String("branch", "cluster"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.ElementsMatch(t, []attribute.Key{"plan_type", "branch"}, keys)
}

func TestRecordFailOpenCounts(t *testing.T) {
	m, reader, err := NewForTest()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRateLimitFailOpen(ctx)
	m.RecordRateLimitFailOpen(ctx)
	m.RecordEventProcessed(ctx, "responded", "trial", 12*time.Millisecond)

	got, err := CounterValue(ctx, reader, "intentflow_rate_limit_fail_open_total")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	processed, err := CounterValue(ctx, reader, "intentflow_events_processed_total")
	require.NoError(t, err)
	assert.Equal(t, int64(1), processed)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRateLimitFailOpen(context.Background())
		m.RecordScoringBranchError(context.Background(), "cluster", "timeout")
	})
}
