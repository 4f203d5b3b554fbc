package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/intentflow/internal/cache"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	"github.com/smallbiznis/intentflow/internal/ratelimit"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
	"github.com/smallbiznis/intentflow/internal/stream"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"github.com/smallbiznis/intentflow/pkg/tenantctx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	unknownValue          = "unknown"
	defaultScoringWindow  = "7d"
	defaultSessionTimeout = 500 * time.Millisecond
)

type RateLimiter interface {
	Admit(ctx context.Context, apiKey string, limit int) (ratelimit.Decision, error)
}

type EventAppender interface {
	Append(ctx context.Context, event stream.Event) error
}

type SessionTracker interface {
	Touch(ctx context.Context, apiKey, anonID, sessionID, platform string, now time.Time) (cache.Touch, error)
	Get(ctx context.Context, apiKey, anonID string) (*cache.Session, error)
}

type ModelProvisioner interface {
	EnsureModelsProvisioned(ctx context.Context, apiKey string)
}

type Params struct {
	fx.In

	Tenants     tenantdomain.Service
	Limiter     RateLimiter
	Stream      EventAppender
	Scoring     scoringdomain.Service
	Aggregator  metricsdomain.Service
	Sessions    SessionTracker
	Provisioner ModelProvisioner
	Clock       clock.Clock
	Config      config.Config
	Log         *zap.Logger
	Metrics     *obsmetrics.Metrics `optional:"true"`
}

// Orchestrator runs one event through validation, admission, ingestion,
// scoring and metrics aggregation, and serves the tenant read paths.
type Orchestrator struct {
	tenants     tenantdomain.Service
	limiter     RateLimiter
	stream      EventAppender
	scoring     scoringdomain.Service
	aggregator  metricsdomain.Service
	sessions    SessionTracker
	provisioner ModelProvisioner
	clock       clock.Clock
	log         *zap.Logger
	metrics     *obsmetrics.Metrics

	scoringWindow  string
	sessionTimeout time.Duration
}

func New(p Params) *Orchestrator {
	window := strings.TrimSpace(p.Config.Scoring.Window)
	if window == "" {
		window = defaultScoringWindow
	}
	sessionTimeout := p.Config.Tenant.LookupTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = defaultSessionTimeout
	}
	return &Orchestrator{
		tenants:        p.Tenants,
		limiter:        p.Limiter,
		stream:         p.Stream,
		scoring:        p.Scoring,
		aggregator:     p.Aggregator,
		sessions:       p.Sessions,
		provisioner:    p.Provisioner,
		clock:          p.Clock,
		log:            p.Log.Named("orchestrator"),
		metrics:        p.Metrics,
		scoringWindow:  window,
		sessionTimeout: sessionTimeout,
	}
}

// Process never returns nil and never panics. Rejections carry ErrAuth or
// ErrRateLimited in Err; failures after admission keep the partial result.
func (o *Orchestrator) Process(ctx context.Context, apiKey string, req EventRequest) *ProcessResult {
	start := o.clock.Now()
	ctx = tenantctx.WithAPIKey(ctx, apiKey)
	result := &ProcessResult{
		State:     StateReceived,
		AnonID:    orUnknown(req.AnonID),
		SessionID: orUnknown(req.SessionID),
	}
	planType := unknownValue
	defer func() {
		elapsed := o.clock.Now().Sub(start)
		result.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000
		o.metrics.RecordEventProcessed(ctx, string(result.State), planType, elapsed)
	}()

	result.State = StateValidating
	tenant, err := o.tenants.Resolve(ctx, apiKey)
	if err != nil || !tenant.CanIngest() {
		o.reject(ctx, result, StateRejectedInvalidKey, ErrAuth, ReasonInvalidKey)
		return result
	}
	planType = tenant.PlanType
	ctx = tenantctx.WithPlanType(ctx, planType)

	result.State = StateRateLimiting
	decision, err := o.limiter.Admit(ctx, apiKey, tenant.RateLimit)
	if err != nil || !decision.Allowed {
		o.metrics.RecordRateLimitDenied(ctx, planType)
		result.RetryAfter = decision.RetryAfter
		o.reject(ctx, result, StateRejectedRateLimited, ErrRateLimited, ReasonRateLimited)
		return result
	}

	if err := o.enrich(ctx, tenant, req, result); err != nil {
		result.Success = false
		result.Err = err
		result.Error = err.Error()
		logger.WithContext(ctx, o.log).Error("event processing failed",
			zap.String("state", string(result.State)),
			zap.Error(err),
		)
		return result
	}

	if tenant.IsTrial() {
		result.State = StateProvisioningIfTrial
		o.provisioner.EnsureModelsProvisioned(ctx, apiKey)
	}

	result.State = StateResponded
	result.Success = true
	return result
}

func (o *Orchestrator) reject(ctx context.Context, result *ProcessResult, state State, err error, reason string) {
	result.State = state
	result.Err = err
	result.Error = reason
	logger.WithContext(ctx, o.log).Debug("event rejected", zap.String("state", string(state)))
}

// enrich covers Ingesting through AggregatingMetrics. A panic in any of them
// becomes an ErrProcessing error; result keeps whatever was gathered.
func (o *Orchestrator) enrich(ctx context.Context, tenant *tenantdomain.Tenant, req EventRequest, result *ProcessResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during %s: %v", ErrProcessing, result.State, r)
		}
	}()

	result.State = StateIngesting
	now := o.clock.Now()
	event := o.buildEvent(tenant.APIKey, req, now)

	touch, touched := o.touchSession(ctx, event, now)
	event.SessionID = touch.Session.SessionID
	result.EventID = event.EventID
	result.AnonID = event.AnonID
	result.SessionID = event.SessionID

	if err := o.stream.Append(ctx, event); err != nil {
		logger.WithContext(ctx, o.log).Debug("continuing without durable record", zap.Error(err))
	} else {
		result.Ingested = true
	}

	result.State = StateScoring
	scored := o.scoring.Score(ctx, scoringdomain.ScoreRequest{
		APIKey: tenant.APIKey,
		AnonID: event.AnonID,
		Window: o.scoringWindow,
	})
	result.Features = scored.Features
	result.Cluster = scored.Cluster
	result.IntentScores = scored.Intent

	result.State = StateAggregatingMetrics
	facts := metricsdomain.EventFacts{
		Platform:   event.Platform,
		EventName:  event.EventName,
		NewSession: touched && touch.NewSession,
		NewUser:    touched && touch.NewUser,
	}
	if scored.Cluster != nil {
		clusterID := scored.Cluster.ClusterID
		facts.ClusterID = &clusterID
	}
	if scored.Intent != nil {
		facts.PrimaryIntent = scored.Intent.PrimaryIntent
	}
	result.Metrics = o.aggregator.RecordEvent(ctx, tenant.APIKey, facts)
	return nil
}

func (o *Orchestrator) buildEvent(apiKey string, req EventRequest, now time.Time) stream.Event {
	event := stream.Event{
		EventID:    strings.TrimSpace(req.EventID),
		APIKey:     apiKey,
		AnonID:     orUnknown(req.AnonID),
		SessionID:  strings.TrimSpace(req.SessionID),
		EventName:  orUnknown(req.EventName),
		Timestamp:  now,
		Platform:   orUnknown(req.Platform),
		Properties: req.Properties,
		IngestedAt: now,
	}
	if event.EventID == "" {
		event.EventID = ulid.Make().String()
	}
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		event.Timestamp = req.Timestamp.UTC()
	}
	return event
}

// touchSession refreshes the user's session. On cache failure the event
// keeps its own session id, or a fresh one, and the session counters are
// not incremented.
func (o *Orchestrator) touchSession(ctx context.Context, event stream.Event, now time.Time) (cache.Touch, bool) {
	sessionCtx, cancel := context.WithTimeout(ctx, o.sessionTimeout)
	defer cancel()

	touch, err := o.sessions.Touch(sessionCtx, event.APIKey, event.AnonID, event.SessionID, event.Platform, now)
	if err == nil {
		return touch, true
	}
	logger.WithContext(ctx, o.log).Warn("session cache update failed", zap.Error(err))

	sessionID := event.SessionID
	if sessionID == "" {
		sessionID = ulid.Make().String()
	}
	return cache.Touch{Session: cache.Session{SessionID: sessionID, AnonID: event.AnonID}}, false
}

func orUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return unknownValue
	}
	return value
}
