package provisioning

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"github.com/smallbiznis/intentflow/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingTrainer struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
	delay time.Duration
	// failKind fails only that model kind when set.
	failKind string
}

func (c *countingTrainer) Train(ctx context.Context, apiKey, kind string) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[apiKey+"/"+kind]++
	if c.failKind != "" && c.failKind != kind {
		return nil
	}
	return c.err
}

func (c *countingTrainer) heal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = nil
}

func (c *countingTrainer) count(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[key]
}

func (c *countingTrainer) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func newWorkflow(t *testing.T, registry Registry, trainer Trainer, locker *ratelimit.Locker, cfg config.ProvisioningConfig, m *obsmetrics.WorkerMetrics) *Workflow {
	t.Helper()
	cfg.Enabled = true
	w := New(Params{
		Registry: registry,
		Trainer:  trainer,
		Locker:   locker,
		Clock:    clock.New(),
		Config:   config.Config{Provisioning: cfg},
		Log:      zap.NewNop(),
		Metrics:  m,
	})
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func TestConcurrentTriggersTrainOnce(t *testing.T) {
	trainer := &countingTrainer{delay: 20 * time.Millisecond}
	registry := NewMemoryRegistry()
	w := newWorkflow(t, registry, trainer, nil, config.ProvisioningConfig{Workers: 4, QueueSize: 16}, nil)
	w.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.EnsureModelsProvisioned(context.Background(), "ak_trial")
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		missing, _ := registry.MissingKinds(context.Background(), "ak_trial", modelKinds)
		return len(missing) == 0 && trainer.total() == 2
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 10; i++ {
		w.EnsureModelsProvisioned(context.Background(), "ak_trial")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, trainer.count("ak_trial/clustering"))
	assert.Equal(t, 1, trainer.count("ak_trial/intent"))
}

func TestExistingModelsSkipTraining(t *testing.T) {
	trainer := &countingTrainer{}
	registry := NewMemoryRegistry()
	require.NoError(t, registry.MarkRequested(context.Background(), "ak_1", KindClustering, time.Now()))
	require.NoError(t, registry.MarkRequested(context.Background(), "ak_1", KindIntent, time.Now()))

	w := newWorkflow(t, registry, trainer, nil, config.ProvisioningConfig{}, nil)
	require.NoError(t, w.provision(context.Background(), "ak_1"))
	assert.Zero(t, trainer.total())
	_, done := w.provisioned.Load("ak_1")
	assert.True(t, done)
}

func TestOnlyMissingKindsAreTrained(t *testing.T) {
	trainer := &countingTrainer{}
	registry := NewMemoryRegistry()
	require.NoError(t, registry.MarkRequested(context.Background(), "ak_1", KindClustering, time.Now()))

	w := newWorkflow(t, registry, trainer, nil, config.ProvisioningConfig{}, nil)
	require.NoError(t, w.provision(context.Background(), "ak_1"))
	assert.Zero(t, trainer.count("ak_1/clustering"))
	assert.Equal(t, 1, trainer.count("ak_1/intent"))

	missing, err := registry.MissingKinds(context.Background(), "ak_1", modelKinds)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestFailureIsRetriedLater(t *testing.T) {
	cases := []struct {
		name           string
		failKind       string
		wantClustering int
		wantIntent     int
	}{
		{name: "both branches fail", wantClustering: 2, wantIntent: 2},
		{name: "intent fails, clustering succeeds", failKind: KindIntent, wantClustering: 1, wantIntent: 2},
		{name: "clustering fails, intent succeeds", failKind: KindClustering, wantClustering: 2, wantIntent: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trainer := &countingTrainer{err: errors.New("trainer unavailable"), failKind: tc.failKind}
			registry := NewMemoryRegistry()
			w := newWorkflow(t, registry, trainer, nil, config.ProvisioningConfig{}, nil)

			err := w.provision(context.Background(), "ak_1")
			assert.ErrorIs(t, err, ErrProvisioning)
			_, done := w.provisioned.Load("ak_1")
			assert.False(t, done, "a partial run must not mark the tenant provisioned")

			trainer.heal()
			require.NoError(t, w.provision(context.Background(), "ak_1"))
			assert.Equal(t, tc.wantClustering, trainer.count("ak_1/clustering"))
			assert.Equal(t, tc.wantIntent, trainer.count("ak_1/intent"))

			missing, err := registry.MissingKinds(context.Background(), "ak_1", modelKinds)
			require.NoError(t, err)
			assert.Empty(t, missing)
		})
	}
}

func TestQueueFullDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obsmetrics.NewWorkerMetrics(reg)
	w := newWorkflow(t, NewMemoryRegistry(), &countingTrainer{}, nil, config.ProvisioningConfig{QueueSize: 1}, m)

	w.EnsureModelsProvisioned(context.Background(), "ak_1")
	w.EnsureModelsProvisioned(context.Background(), "ak_1")
	w.EnsureModelsProvisioned(context.Background(), "ak_2")

	expected := `
# HELP intentflow_worker_jobs_dropped_total Jobs not enqueued, by reason.
# TYPE intentflow_worker_jobs_dropped_total counter
intentflow_worker_jobs_dropped_total{job="provision_models",reason="in_flight"} 1
intentflow_worker_jobs_dropped_total{job="provision_models",reason="queue_full"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "intentflow_worker_jobs_dropped_total"))

	_, pending := w.inflight.Load("ak_2")
	assert.False(t, pending, "dropped jobs release their in-flight slot")
}

func TestDisabledIsNoop(t *testing.T) {
	w := New(Params{
		Registry: NewMemoryRegistry(),
		Trainer:  &countingTrainer{},
		Clock:    clock.New(),
		Config:   config.Config{},
		Log:      zap.NewNop(),
	})
	w.EnsureModelsProvisioned(context.Background(), "ak_1")
	assert.Zero(t, len(w.queue))
}

func TestLockHeldElsewhereSkips(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	require.NoError(t, mr.Set("provisioning:lock:ak_1", "other-instance"))

	trainer := &countingTrainer{}
	w := newWorkflow(t, NewMemoryRegistry(), trainer, ratelimit.NewLocker(client), config.ProvisioningConfig{}, nil)

	require.NoError(t, w.provision(context.Background(), "ak_1"))
	assert.Zero(t, trainer.total())

	mr.Del("provisioning:lock:ak_1")
	require.NoError(t, w.provision(context.Background(), "ak_1"))
	assert.Equal(t, 2, trainer.total())
	assert.False(t, mr.Exists("provisioning:lock:ak_1"), "lock released after training")
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	prefix := aws.ToString(in.Prefix)
	for key := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
			break
		}
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Registry(t *testing.T) {
	api := &fakeS3{}
	registry := newS3RegistryWithClient(api, "models-bucket")
	ctx := context.Background()

	missing, err := registry.MissingKinds(ctx, "ak_1", modelKinds)
	require.NoError(t, err)
	assert.Equal(t, []string{KindClustering, KindIntent}, missing)

	require.NoError(t, registry.MarkRequested(ctx, "ak_1", KindIntent, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Contains(t, string(api.objects["models/ak_1/intent/manifest.json"]), `"kind":"intent"`)

	missing, err = registry.MissingKinds(ctx, "ak_1", modelKinds)
	require.NoError(t, err)
	assert.Equal(t, []string{KindClustering}, missing, "one kind does not stand in for the other")

	require.NoError(t, registry.MarkRequested(ctx, "ak_1", KindClustering, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))
	missing, err = registry.MissingKinds(ctx, "ak_1", modelKinds)
	require.NoError(t, err)
	assert.Empty(t, missing)

	missing, err = registry.MissingKinds(ctx, "ak_10", modelKinds)
	require.NoError(t, err)
	assert.Len(t, missing, 2, "prefix includes the trailing slash")
}
