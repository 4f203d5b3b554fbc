package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCounter struct {
	count int64
	err   error
	calls int
}

func (s *stubCounter) CurrentHour(context.Context, string, string) (int64, error) {
	s.calls++
	return s.count, s.err
}

func newLimiter(counter Counter, failOpen bool, m *obsmetrics.Metrics) *Limiter {
	return &Limiter{
		counter:  counter,
		clock:    clock.NewFakeClock(time.Date(2026, 6, 1, 9, 45, 0, 0, time.UTC)),
		log:      zap.NewNop(),
		metrics:  m,
		failOpen: failOpen,
	}
}

func TestAdmitBelowAndAtLimit(t *testing.T) {
	counter := &stubCounter{count: 1}
	l := newLimiter(counter, true, nil)

	d, err := l.Admit(context.Background(), "ak_test", 2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(1), d.Count)

	counter.count = 2
	d, err = l.Admit(context.Background(), "ak_test", 2)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)
}

func TestAdmitDoesNotReserve(t *testing.T) {
	counter := &stubCounter{count: 1}
	l := newLimiter(counter, true, nil)

	// Until the first admitted event is counted, every concurrent request
	// reads the same count and is admitted.
	for i := 0; i < 3; i++ {
		d, err := l.Admit(context.Background(), "ak_test", 2)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, int64(1), d.Count)
	}
	assert.Equal(t, 3, counter.calls)
}

func TestAdmitUnlimited(t *testing.T) {
	counter := &stubCounter{count: 1_000_000}
	l := newLimiter(counter, true, nil)

	d, err := l.Admit(context.Background(), "ak", 0)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, counter.calls)
}

func TestAdmitFailsOpen(t *testing.T) {
	m, reader, err := obsmetrics.NewForTest()
	require.NoError(t, err)
	l := newLimiter(&stubCounter{err: errors.New("redis down")}, true, m)

	d, err := l.Admit(context.Background(), "ak", 10)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, d.FailedOpen)

	n, err := obsmetrics.CounterValue(context.Background(), reader, "intentflow_rate_limit_fail_open_total")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAdmitFailsClosedWhenConfigured(t *testing.T) {
	l := newLimiter(&stubCounter{err: errors.New("redis down")}, false, nil)

	d, err := l.Admit(context.Background(), "ak", 10)
	assert.ErrorIs(t, err, ErrCounterUnavailable)
	assert.False(t, d.Allowed)
	assert.False(t, d.FailedOpen)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTenantCreateLimiterBurst(t *testing.T) {
	_, client := newRedis(t)
	l := NewTenantCreateLimiter(client, config.Config{RateLimit: config.RateLimitConfig{
		ProvisioningRate:  0.01,
		ProvisioningBurst: 2,
	}})
	require.True(t, l.Enabled())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	res, err = l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "buckets are per client")
}

func TestTenantCreateLimiterDisabledWithoutRedis(t *testing.T) {
	l := NewTenantCreateLimiter(nil, config.Config{RateLimit: config.RateLimitConfig{ProvisioningRate: 1, ProvisioningBurst: 1}})
	assert.False(t, l.Enabled())

	res, err := l.Allow(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLockerSingleHolder(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "provisioning:lock:ak", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "provisioning:lock:ak", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "provisioning:lock:ak", "someone-else"))
	assert.True(t, mr.Exists("provisioning:lock:ak"))

	require.NoError(t, locker.Release(ctx, "provisioning:lock:ak", token))
	assert.False(t, mr.Exists("provisioning:lock:ak"))
}

func TestNilLocker(t *testing.T) {
	var locker *Locker
	_, _, err := locker.TryLock(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLimiterNotConfigured)
	assert.NoError(t, locker.Release(context.Background(), "k", "t"))
}
