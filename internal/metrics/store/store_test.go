package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/clock"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)

func stores(t *testing.T) map[string]metricsdomain.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]metricsdomain.Store{
		"memory": NewMemory(clock.NewFakeClock(epoch), time.Hour),
		"redis":  NewRedis(client, time.Hour),
	}
}

func TestBucketKeyFormat(t *testing.T) {
	assert.Equal(t, "metrics:ak_1:total_events:202606010930", bucketKey("ak_1", "total_events", epoch.Add(15*time.Second)))
	assert.Equal(t, "metrics:ak_1:dims", dimsKey("ak_1"))
}

func TestStoreSumAndDimensions(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			b0 := epoch
			b1 := epoch.Add(time.Minute)

			require.NoError(t, s.IncrBy(ctx, "ak", "total_events", b0, 2))
			require.NoError(t, s.IncrBy(ctx, "ak", "total_events", b1, 3))
			require.NoError(t, s.IncrBy(ctx, "ak", "platform:web", b1, 1))
			require.NoError(t, s.IncrBy(ctx, "other", "total_events", b1, 100))

			got, err := s.Sum(ctx, "ak", "total_events", []time.Time{b0, b1, b1.Add(time.Minute)})
			require.NoError(t, err)
			assert.Equal(t, int64(5), got)

			dims, err := s.Dimensions(ctx, "ak")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"total_events", "platform:web"}, dims)
		})
	}
}

func TestRedisStoreSetsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedis(client, 48*time.Hour)
	require.NoError(t, s.IncrBy(context.Background(), "ak", "total_events", epoch, 1))

	assert.Equal(t, 48*time.Hour, mr.TTL(bucketKey("ak", "total_events", epoch)))
	assert.Equal(t, 48*time.Hour, mr.TTL(dimsKey("ak")))
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			parameters := gopter.DefaultTestParameters()
			parameters.MinSuccessfulTests = 15
			properties := gopter.NewProperties(parameters)

			round := 0
			properties.Property("n parallel increments sum to n", prop.ForAll(
				func(n int) bool {
					round++
					ctx := context.Background()
					bucket := epoch.Add(time.Duration(round) * time.Minute)

					var wg sync.WaitGroup
					for i := 0; i < n; i++ {
						wg.Add(1)
						go func() {
							defer wg.Done()
							_ = s.IncrBy(ctx, "ak_prop", "total_events", bucket, 1)
						}()
					}
					wg.Wait()

					got, err := s.Sum(ctx, "ak_prop", "total_events", []time.Time{bucket})
					return err == nil && got == int64(n)
				},
				gen.IntRange(1, 64),
			))
			properties.TestingRun(t)
		})
	}
}

func TestMemoryStorePrunesExpiredBuckets(t *testing.T) {
	clk := clock.NewFakeClock(epoch)
	s := NewMemory(clk, time.Hour)
	ctx := context.Background()

	require.NoError(t, s.IncrBy(ctx, "ak", "total_events", epoch, 1))
	clk.Advance(2 * time.Hour)
	require.NoError(t, s.IncrBy(ctx, "ak", "total_events", clk.Now(), 1))

	got, err := s.Sum(ctx, "ak", "total_events", []time.Time{epoch})
	require.NoError(t, err)
	assert.Zero(t, got)
}
