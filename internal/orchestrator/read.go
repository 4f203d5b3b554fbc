package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/smallbiznis/intentflow/internal/cache"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	"github.com/smallbiznis/intentflow/internal/observability/logger"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"github.com/smallbiznis/intentflow/pkg/tenantctx"
	"go.uber.org/zap"
)

const (
	defaultInsightsWindow  = "7d"
	defaultDashboardWindow = "1h"

	defaultEngagement  = 0.5
	highEngagement     = 0.7
	lowEngagement      = 0.3
	strongPurchaseSign = 0.7

	defaultPrimaryIntent = "browse_intent"
	purchaseIntent       = "purchase_intent"
)

// GetUserInsights gathers features, the latest cluster and intent, and the
// cached session for one user concurrently. A failed lookup leaves its field
// empty.
func (o *Orchestrator) GetUserInsights(ctx context.Context, apiKey, anonID, window string) (*Insights, error) {
	ctx = tenantctx.WithAPIKey(ctx, apiKey)
	if _, err := o.tenants.Resolve(ctx, apiKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	w := metricsdomain.ParseWindow(window, defaultInsightsWindow)
	log := logger.WithContext(ctx, o.log)

	out := &Insights{AnonID: anonID, Window: w.Label, GeneratedAt: o.clock.Now()}
	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		features, err := o.scoring.Features(ctx, apiKey, anonID, w.Label)
		if err != nil {
			log.Debug("insights features unavailable", zap.Error(err))
			return
		}
		out.Features = features
	}()
	go func() {
		defer wg.Done()
		cluster, err := o.scoring.LatestCluster(ctx, apiKey, anonID)
		if err != nil {
			log.Debug("insights cluster unavailable", zap.Error(err))
			return
		}
		out.Cluster = cluster
	}()
	go func() {
		defer wg.Done()
		intent, err := o.scoring.LatestIntent(ctx, apiKey, anonID)
		if err != nil {
			log.Debug("insights intent unavailable", zap.Error(err))
			return
		}
		out.IntentScores = intent
	}()
	go func() {
		defer wg.Done()
		sessionCtx, cancel := context.WithTimeout(ctx, o.sessionTimeout)
		defer cancel()
		session, err := o.sessions.Get(sessionCtx, apiKey, anonID)
		if err != nil {
			if !errors.Is(err, cache.ErrMiss) {
				log.Debug("insights session unavailable", zap.Error(err))
			}
			return
		}
		out.Session = session
	}()
	wg.Wait()

	out.Summary = summarize(out.Features, out.Cluster, out.IntentScores)
	return out, nil
}

func summarize(features scoringdomain.FeatureMap, cluster *scoringdomain.ClusterAssignment, intent *scoringdomain.IntentScores) Summary {
	summary := Summary{
		EngagementLevel: "medium",
		PrimaryIntent:   defaultPrimaryIntent,
		Recommendations: []string{},
	}
	if cluster != nil {
		summary.BehavioralType = fmt.Sprintf("user_type_%d", cluster.ClusterID)
	}

	engagement := features.Get("engagement_score", defaultEngagement)
	switch {
	case engagement > highEngagement:
		summary.EngagementLevel = "high"
	case engagement < lowEngagement:
		summary.EngagementLevel = "low"
	}

	if intent != nil && intent.PrimaryIntent != "" {
		summary.PrimaryIntent = intent.PrimaryIntent
	}

	if engagement < lowEngagement {
		summary.Recommendations = append(summary.Recommendations, "Consider showing more engaging content")
	}
	if intent != nil && intent.Scores[purchaseIntent] > strongPurchaseSign {
		summary.Recommendations = append(summary.Recommendations, "High purchase intent - show relevant offers")
	}
	if cluster != nil && cluster.IsOutlier {
		summary.Recommendations = append(summary.Recommendations, "Unusual behavior pattern detected")
	}
	return summary
}

// GetDashboard reads live counters, breakdowns and model summaries for a
// tenant concurrently. A failed lookup leaves its field empty.
func (o *Orchestrator) GetDashboard(ctx context.Context, apiKey, window string) (*Dashboard, error) {
	ctx = tenantctx.WithAPIKey(ctx, apiKey)
	tenant, err := o.tenants.Resolve(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	w := metricsdomain.ParseWindow(window, defaultDashboardWindow)
	log := logger.WithContext(ctx, o.log)

	out := &Dashboard{Window: w.Label, GeneratedAt: o.clock.Now(), Status: string(tenant.Status)}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	breakdown := func(prefix string, assign func(map[string]int64)) {
		defer wg.Done()
		values, err := o.aggregator.Breakdown(ctx, apiKey, prefix, w.Duration)
		if err != nil {
			log.Debug("dashboard breakdown unavailable", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		mu.Lock()
		assign(values)
		mu.Unlock()
	}

	wg.Add(7)
	go func() {
		defer wg.Done()
		live, err := o.liveMetrics(ctx, apiKey, w)
		if err != nil {
			log.Debug("dashboard live metrics unavailable", zap.Error(err))
			return
		}
		mu.Lock()
		out.LiveMetrics = live
		mu.Unlock()
	}()
	go breakdown(metricsdomain.PrefixCluster, func(v map[string]int64) { out.ClusterBreakdown = v })
	go breakdown(metricsdomain.PrefixIntent, func(v map[string]int64) { out.IntentBreakdown = v })
	go breakdown(metricsdomain.PrefixPlatform, func(v map[string]int64) { out.PlatformBreakdown = v })
	go breakdown(metricsdomain.PrefixEvent, func(v map[string]int64) { out.EventBreakdown = v })
	go func() {
		defer wg.Done()
		summary, err := o.scoring.ClusterSummary(ctx, apiKey)
		if err != nil {
			log.Debug("dashboard cluster summary unavailable", zap.Error(err))
			return
		}
		mu.Lock()
		out.ClusterSummary = summary
		mu.Unlock()
	}()
	go func() {
		defer wg.Done()
		dist, err := o.scoring.IntentDistribution(ctx, apiKey)
		if err != nil {
			log.Debug("dashboard intent distribution unavailable", zap.Error(err))
			return
		}
		mu.Lock()
		out.IntentDistribution = dist
		mu.Unlock()
	}()
	wg.Wait()

	return out, nil
}

func (o *Orchestrator) liveMetrics(ctx context.Context, apiKey string, w metricsdomain.Window) (*LiveMetrics, error) {
	total, err := o.aggregator.Read(ctx, apiKey, metricsdomain.DimensionTotalEvents, w.Duration)
	if err != nil {
		return nil, err
	}
	sessions, err := o.aggregator.Read(ctx, apiKey, metricsdomain.DimensionSessions, w.Duration)
	if err != nil {
		return nil, err
	}
	users, err := o.aggregator.Read(ctx, apiKey, metricsdomain.DimensionUsers, w.Duration)
	if err != nil {
		return nil, err
	}
	return &LiveMetrics{TotalEvents: total, Sessions: sessions, Users: users}, nil
}

// CreateTenant registers a tenant and returns its key and plan limits.
// Model provisioning is started by the registry and not awaited.
func (o *Orchestrator) CreateTenant(ctx context.Context, req tenantdomain.CreateRequest) (*Provisioned, error) {
	tenant, err := o.tenants.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	logger.WithTenant(logger.WithContext(ctx, o.log), tenant.APIKey).Info("tenant created",
		zap.String("plan_type", tenant.PlanType),
	)
	return &Provisioned{
		APIKey:          tenant.APIKey,
		Status:          string(tenant.Status),
		PlanType:        tenant.PlanType,
		RateLimit:       tenant.RateLimit,
		FeaturesEnabled: append([]string{}, tenant.FeaturesEnabled...),
		TrialExpiresAt:  tenant.TrialExpiresAt,
	}, nil
}
