package provisioning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"github.com/smallbiznis/intentflow/internal/ratelimit"
	"github.com/smallbiznis/intentflow/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	jobName = "provision_models"

	KindClustering = "clustering"
	KindIntent     = "intent"

	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultTimeout   = 2 * time.Minute
	defaultLockTTL   = 10 * time.Minute
)

var ErrProvisioning = errors.New("provisioning_failed")

// modelKinds are the models every tenant needs. Only kinds without a
// recorded model are trained.
var modelKinds = []string{KindClustering, KindIntent}

// Trainer starts model training for a tenant.
type Trainer interface {
	Train(ctx context.Context, apiKey, kind string) error
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Registry  Registry
	Trainer   Trainer
	Locker    *ratelimit.Locker `optional:"true"`
	Clock     clock.Clock
	Config    config.Config
	Log       *zap.Logger
	Metrics   *obsmetrics.WorkerMetrics `optional:"true"`
}

type job struct {
	ctx    context.Context
	apiKey string
}

// Workflow bootstraps scoring models for new tenants on a fixed pool of
// workers. Enqueueing never blocks; a full queue drops the job.
type Workflow struct {
	registry Registry
	trainer  Trainer
	locker   *ratelimit.Locker
	clock    clock.Clock
	log      *zap.Logger
	metrics  *obsmetrics.WorkerMetrics

	enabled bool
	workers int
	timeout time.Duration
	lockTTL time.Duration

	queue       chan job
	inflight    sync.Map // api key -> struct{}
	provisioned sync.Map // api key -> time.Time

	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

func New(p Params) *Workflow {
	cfg := p.Config.Provisioning
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w := &Workflow{
		registry: p.Registry,
		trainer:  p.Trainer,
		locker:   p.Locker,
		clock:    p.Clock,
		log:      p.Log.Named("provisioning.workflow"),
		metrics:  p.Metrics,
		enabled:  cfg.Enabled,
		workers:  workers,
		timeout:  timeout,
		lockTTL:  lockTTL,
		queue:    make(chan job, queueSize),
		runCtx:   runCtx,
		cancel:   cancel,
	}

	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(context.Context) error {
				w.Start()
				return nil
			},
			OnStop: w.Stop,
		})
	}
	return w
}

// Start launches the workers. It is safe to call more than once.
func (w *Workflow) Start() {
	if !w.enabled || !w.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.work()
	}
	w.log.Info("provisioning workers started", zap.Int("workers", w.workers))
}

// Stop cancels running jobs and waits for the workers to exit, bounded by
// ctx.
func (w *Workflow) Stop(ctx context.Context) error {
	if !w.stopped.CompareAndSwap(false, true) {
		return nil
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Provision is called once a tenant has been created.
func (w *Workflow) Provision(ctx context.Context, apiKey, planType string) {
	logger.WithContext(ctx, w.log).Debug("provisioning requested for new tenant", zap.String("plan_type", planType))
	w.EnsureModelsProvisioned(ctx, apiKey)
}

// EnsureModelsProvisioned schedules model bootstrap for apiKey unless the
// models are known to exist or a job for the key is already pending.
func (w *Workflow) EnsureModelsProvisioned(ctx context.Context, apiKey string) {
	if !w.enabled || apiKey == "" {
		return
	}
	if _, ok := w.provisioned.Load(apiKey); ok {
		return
	}
	if w.stopped.Load() {
		w.metrics.IncDropped(jobName, obsmetrics.DropReasonStopped)
		return
	}
	if _, loaded := w.inflight.LoadOrStore(apiKey, struct{}{}); loaded {
		w.metrics.IncDropped(jobName, obsmetrics.DropReasonInFlight)
		return
	}

	select {
	case w.queue <- job{ctx: correlation.Detach(ctx), apiKey: apiKey}:
		w.metrics.SetQueueDepth(len(w.queue))
	default:
		w.inflight.Delete(apiKey)
		w.metrics.IncDropped(jobName, obsmetrics.DropReasonQueueFull)
		logger.WithContext(ctx, w.log).Warn("provisioning queue full, job dropped")
	}
}

func (w *Workflow) work() {
	defer w.wg.Done()
	for {
		select {
		case <-w.runCtx.Done():
			return
		case j := <-w.queue:
			w.metrics.SetQueueDepth(len(w.queue))
			w.handle(j)
		}
	}
}

func (w *Workflow) handle(j job) {
	defer w.inflight.Delete(j.apiKey)

	ctx, cancel := context.WithTimeout(j.ctx, w.timeout)
	defer cancel()
	stop := context.AfterFunc(w.runCtx, cancel)
	defer stop()

	log := logger.WithTenant(logger.WithContext(ctx, w.log), j.apiKey)
	start := w.clock.Now()
	err := w.provision(ctx, j.apiKey)
	w.metrics.ObserveJob(jobName, w.clock.Now().Sub(start), err)
	if err != nil {
		log.Warn("model provisioning failed", zap.Error(err))
		return
	}
	log.Debug("model provisioning finished")
}

func (w *Workflow) provision(ctx context.Context, apiKey string) error {
	kinds, err := w.registry.MissingKinds(ctx, apiKey, modelKinds)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProvisioning, err)
	}
	if len(kinds) == 0 {
		w.provisioned.Store(apiKey, w.clock.Now())
		return nil
	}

	if w.locker != nil {
		lockKey := "provisioning:lock:" + apiKey
		token, ok, err := w.locker.TryLock(ctx, lockKey, w.lockTTL)
		if err != nil {
			return fmt.Errorf("%w: lock: %v", ErrProvisioning, err)
		}
		if !ok {
			// Another instance is provisioning this tenant.
			return nil
		}
		defer func() {
			if err := w.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
				w.log.Warn("provisioning lock release failed", zap.Error(err))
			}
		}()
	}

	errs := make([]error, len(kinds))
	var wg sync.WaitGroup
	for i, kind := range kinds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.trainer.Train(ctx, apiKey, kind); err != nil {
				errs[i] = fmt.Errorf("train %s: %w", kind, err)
				return
			}
			if err := w.registry.MarkRequested(ctx, apiKey, kind, w.clock.Now()); err != nil {
				errs[i] = fmt.Errorf("record %s: %w", kind, err)
			}
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	w.provisioned.Store(apiKey, w.clock.Now())
	return nil
}
