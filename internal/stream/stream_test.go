package stream

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/config"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleEvent(anonID string, seq int) Event {
	return Event{
		EventID:   fmt.Sprintf("evt_%s_%d", anonID, seq),
		APIKey:    "ak_test",
		AnonID:    anonID,
		SessionID: "sess_1",
		EventName: "page_view",
		Timestamp: time.Date(2026, 6, 1, 12, 0, seq, 0, time.UTC),
		Platform:  "web",
		Properties: map[string]any{
			"path":  "/pricing",
			"score": 1.5,
		},
		IngestedAt: time.Date(2026, 6, 1, 12, 0, seq, 500, time.UTC),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := sampleEvent("anon_1", 1)

	payload, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = Decode([]byte("not snappy"))
	assert.Error(t, err)
}

func TestCodecIsDeterministic(t *testing.T) {
	a, err := Encode(sampleEvent("anon_1", 1))
	require.NoError(t, err)
	b, err := Encode(sampleEvent("anon_1", 1))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMemoryLogPreservesPartitionOrder(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(ctx, PartitionKey("ak_test", "a"), sampleEvent("a", i)))
		require.NoError(t, log.Append(ctx, PartitionKey("ak_test", "b"), sampleEvent("b", i)))
	}

	events := log.Partition("ak_test#a")
	require.Len(t, events, 5)
	for i, e := range events {
		assert.Equal(t, fmt.Sprintf("evt_a_%d", i), e.EventID)
	}
	assert.Equal(t, 10, log.Len())
}

func TestRedisLogShardsAndOrder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	log := NewRedisLog(client, 4, 1000)
	ctx := context.Background()
	partition := PartitionKey("ak_test", "anon_1")

	shard := log.ShardFor(partition)
	assert.Equal(t, shard, log.ShardFor(partition))
	assert.GreaterOrEqual(t, shard, 0)
	assert.Less(t, shard, 4)

	for i := 0; i < 3; i++ {
		require.NoError(t, log.Append(ctx, partition, sampleEvent("anon_1", i)))
	}

	records, err := log.Range(ctx, shard, 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, partition, r.Partition)
		assert.Equal(t, sampleEvent("anon_1", i), r.Event)
	}
}

type failingLog struct{}

func (failingLog) Append(context.Context, string, Event) error {
	return errors.New("broker unavailable")
}

func TestStreamWrapsFailures(t *testing.T) {
	m, reader, err := obsmetrics.NewForTest()
	require.NoError(t, err)
	s := New(Params{Log: failingLog{}, Config: config.Config{}, Logger: zap.NewNop(), Metrics: m})

	err = s.Append(context.Background(), sampleEvent("anon_1", 0))
	assert.ErrorIs(t, err, ErrIngestion)

	n, err := obsmetrics.CounterValue(context.Background(), reader, "intentflow_stream_append_failures_total")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStreamAppendsUnderPartitionKey(t *testing.T) {
	log := NewMemoryLog()
	s := New(Params{Log: log, Config: config.Config{}, Logger: zap.NewNop()})

	require.NoError(t, s.Append(context.Background(), sampleEvent("anon_9", 0)))
	assert.Len(t, log.Partition("ak_test#anon_9"), 1)
}
