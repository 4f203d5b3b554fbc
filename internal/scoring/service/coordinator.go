package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smallbiznis/intentflow/internal/config"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultCallTimeout = 800 * time.Millisecond

type Params struct {
	fx.In

	Features scoringdomain.FeatureExtractor
	Clusters scoringdomain.ClusterPredictor
	Intents  scoringdomain.IntentPredictor
	Config   config.Config
	Log      *zap.Logger
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Coordinator struct {
	features scoringdomain.FeatureExtractor
	clusters scoringdomain.ClusterPredictor
	intents  scoringdomain.IntentPredictor
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
	timeout  time.Duration
}

func New(p Params) scoringdomain.Service {
	timeout := p.Config.Scoring.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Coordinator{
		features: p.Features,
		clusters: p.Clusters,
		intents:  p.Intents,
		log:      p.Log.Named("scoring.service"),
		metrics:  p.Metrics,
		timeout:  timeout,
	}
}

func (c *Coordinator) Score(ctx context.Context, req scoringdomain.ScoreRequest) scoringdomain.Result {
	var result scoringdomain.Result

	features, err := call(ctx, c.timeout, func(ctx context.Context) (scoringdomain.FeatureMap, error) {
		return c.features.Extract(ctx, req.APIKey, req.AnonID, req.Window)
	})
	if err == nil && len(features) == 0 {
		err = scoringdomain.ErrEmptyFeatures
	}
	if err != nil {
		c.branchFailed(ctx, &result, scoringdomain.BranchFeatures, err)
		return result
	}
	result.Features = features

	var (
		wg         sync.WaitGroup
		cluster    *scoringdomain.ClusterAssignment
		clusterErr error
		intent     *scoringdomain.IntentScores
		intentErr  error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cluster, clusterErr = call(ctx, c.timeout, func(ctx context.Context) (*scoringdomain.ClusterAssignment, error) {
			return c.clusters.PredictCluster(ctx, req.APIKey, req.AnonID, features)
		})
	}()
	go func() {
		defer wg.Done()
		intent, intentErr = call(ctx, c.timeout, func(ctx context.Context) (*scoringdomain.IntentScores, error) {
			return c.intents.PredictIntent(ctx, req.APIKey, req.AnonID, features)
		})
	}()
	wg.Wait()

	if clusterErr != nil {
		c.branchFailed(ctx, &result, scoringdomain.BranchCluster, clusterErr)
	} else {
		result.Cluster = cluster
	}
	if intentErr != nil {
		c.branchFailed(ctx, &result, scoringdomain.BranchIntent, intentErr)
	} else {
		intent.Normalize()
		result.Intent = intent
	}
	return result
}

func (c *Coordinator) Features(ctx context.Context, apiKey, anonID, window string) (scoringdomain.FeatureMap, error) {
	return wrap(call(ctx, c.timeout, func(ctx context.Context) (scoringdomain.FeatureMap, error) {
		return c.features.Extract(ctx, apiKey, anonID, window)
	}))
}

func (c *Coordinator) LatestCluster(ctx context.Context, apiKey, anonID string) (*scoringdomain.ClusterAssignment, error) {
	return wrap(call(ctx, c.timeout, func(ctx context.Context) (*scoringdomain.ClusterAssignment, error) {
		return c.clusters.LatestCluster(ctx, apiKey, anonID)
	}))
}

func (c *Coordinator) LatestIntent(ctx context.Context, apiKey, anonID string) (*scoringdomain.IntentScores, error) {
	scores, err := wrap(call(ctx, c.timeout, func(ctx context.Context) (*scoringdomain.IntentScores, error) {
		return c.intents.LatestIntent(ctx, apiKey, anonID)
	}))
	scores.Normalize()
	return scores, err
}

func (c *Coordinator) ClusterSummary(ctx context.Context, apiKey string) (*scoringdomain.ClusterSummary, error) {
	return wrap(call(ctx, c.timeout, func(ctx context.Context) (*scoringdomain.ClusterSummary, error) {
		return c.clusters.ClusterSummary(ctx, apiKey)
	}))
}

func (c *Coordinator) IntentDistribution(ctx context.Context, apiKey string) (*scoringdomain.IntentDistribution, error) {
	return wrap(call(ctx, c.timeout, func(ctx context.Context) (*scoringdomain.IntentDistribution, error) {
		return c.intents.IntentDistribution(ctx, apiKey)
	}))
}

func (c *Coordinator) branchFailed(ctx context.Context, result *scoringdomain.Result, branch string, err error) {
	reason := "error"
	if errors.Is(err, scoringdomain.ErrBranchTimeout) {
		reason = "timeout"
	} else if errors.Is(err, scoringdomain.ErrEmptyFeatures) {
		reason = "empty"
	}
	result.Errors = append(result.Errors, scoringdomain.BranchError{Branch: branch, Err: err})
	c.metrics.RecordScoringBranchError(ctx, branch, reason)
	logger.WithContext(ctx, c.log).Warn("scoring branch failed",
		zap.String("branch", branch),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

type outcome[T any] struct {
	value T
	err   error
}

// call runs fn under its own timeout. The result channel is buffered so a
// call that outlives its deadline finishes without blocking; its result is
// discarded.
func call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- outcome[T]{value: zero, err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		if out.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, scoringdomain.ErrBranchTimeout
		}
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, scoringdomain.ErrBranchTimeout
		}
		return zero, ctx.Err()
	}
}

func wrap[T any](v T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", scoringdomain.ErrScoring, err)
	}
	return v, nil
}
