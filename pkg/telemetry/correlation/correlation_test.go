package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "req-1")
	_, cid := EnsureCorrelationID(ctx)
	assert.Equal(t, "req-1", cid)

	ctx, generated := EnsureCorrelationID(context.Background())
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, ExtractCorrelationID(ctx))
}

func TestDetachDropsDeadline(t *testing.T) {
	parent, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	parent = ContextWithCorrelationID(parent, "req-2")
	parent = ContextWithRemoteSpan(parent, "0102030405060708090a0b0c0d0e0f10", "0102030405060708")

	detached := Detach(parent)
	<-parent.Done()

	require.NoError(t, detached.Err())
	_, hasDeadline := detached.Deadline()
	assert.False(t, hasDeadline)
	assert.Equal(t, "req-2", ExtractCorrelationID(detached))
	assert.True(t, trace.SpanContextFromContext(detached).IsValid())
}
