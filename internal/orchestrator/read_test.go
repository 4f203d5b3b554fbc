package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/intentflow/internal/config"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	cases := []struct {
		name     string
		features scoringdomain.FeatureMap
		cluster  *scoringdomain.ClusterAssignment
		intent   *scoringdomain.IntentScores
		want     Summary
	}{
		{
			name: "nothing known",
			want: Summary{EngagementLevel: "medium", PrimaryIntent: "browse_intent", Recommendations: []string{}},
		},
		{
			name:     "engaged buyer",
			features: scoringdomain.FeatureMap{"engagement_score": 0.9},
			cluster:  &scoringdomain.ClusterAssignment{ClusterID: 4},
			intent:   &scoringdomain.IntentScores{Scores: map[string]float64{"purchase_intent": 0.8}, PrimaryIntent: "purchase_intent"},
			want: Summary{
				BehavioralType:  "user_type_4",
				EngagementLevel: "high",
				PrimaryIntent:   "purchase_intent",
				Recommendations: []string{"High purchase intent - show relevant offers"},
			},
		},
		{
			name:     "disengaged outlier",
			features: scoringdomain.FeatureMap{"engagement_score": 0.1},
			cluster:  &scoringdomain.ClusterAssignment{ClusterID: 0, IsOutlier: true},
			want: Summary{
				BehavioralType:  "user_type_0",
				EngagementLevel: "low",
				PrimaryIntent:   "browse_intent",
				Recommendations: []string{"Consider showing more engaging content", "Unusual behavior pattern detected"},
			},
		},
		{
			name:     "boundaries are exclusive",
			features: scoringdomain.FeatureMap{"engagement_score": 0.7},
			intent:   &scoringdomain.IntentScores{Scores: map[string]float64{"purchase_intent": 0.7}, PrimaryIntent: "research_intent"},
			want:     Summary{EngagementLevel: "medium", PrimaryIntent: "research_intent", Recommendations: []string{}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, summarize(tc.features, tc.cluster, tc.intent))
		})
	}
}

func TestGetUserInsights(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.scoring.features = scoringdomain.FeatureMap{"engagement_score": 0.2}
	f.scoring.cluster = &scoringdomain.ClusterAssignment{ClusterID: 1}
	f.scoring.intent = &scoringdomain.IntentScores{Scores: map[string]float64{"purchase_intent": 0.9}, PrimaryIntent: "purchase_intent"}

	require.True(t, f.orch.Process(ctx, "ak_active", pageView("anon_1")).Success)

	insights, err := f.orch.GetUserInsights(ctx, "ak_active", "anon_1", "")
	require.NoError(t, err)
	assert.Equal(t, "7d", insights.Window)
	require.NotNil(t, insights.Session)
	assert.Equal(t, int64(1), insights.Session.EventCount)
	assert.Equal(t, "user_type_1", insights.Summary.BehavioralType)
	assert.Equal(t, "low", insights.Summary.EngagementLevel)
	assert.Equal(t, []string{"Consider showing more engaging content", "High purchase intent - show relevant offers"}, insights.Summary.Recommendations)
}

func TestGetUserInsightsDegradesPerLookup(t *testing.T) {
	f := newFixture(t, nil)
	f.scoring.readErr = errors.New("scoring down")

	insights, err := f.orch.GetUserInsights(context.Background(), "ak_active", "anon_unknown", "30d")
	require.NoError(t, err)
	assert.Equal(t, "30d", insights.Window)
	assert.Nil(t, insights.Features)
	assert.Nil(t, insights.Cluster)
	assert.Nil(t, insights.Session)
	assert.Equal(t, "medium", insights.Summary.EngagementLevel)
}

func TestReadPathsRequireKnownKey(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.orch.GetUserInsights(ctx, "ak_bogus", "anon_1", "")
	assert.ErrorIs(t, err, ErrAuth)
	_, err = f.orch.GetDashboard(ctx, "ak_bogus", "")
	assert.ErrorIs(t, err, ErrAuth)

	dash, err := f.orch.GetDashboard(ctx, "ak_suspended", "")
	require.NoError(t, err, "suspended tenants can still read their dashboard")
	assert.Equal(t, "suspended", dash.Status)
}

func TestGetDashboard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	clusterID := 0
	f.scoring.score = func(req scoringdomain.ScoreRequest) scoringdomain.Result {
		clusterID++
		return scoringdomain.Result{
			Cluster: &scoringdomain.ClusterAssignment{ClusterID: clusterID % 2},
			Intent:  &scoringdomain.IntentScores{PrimaryIntent: "purchase_intent"},
		}
	}
	f.scoring.summary = &scoringdomain.ClusterSummary{ModelVersion: "v3"}

	for _, anon := range []string{"anon_1", "anon_2", "anon_3"} {
		require.True(t, f.orch.Process(ctx, "ak_active", pageView(anon)).Success)
	}
	req := pageView("anon_1")
	req.Platform = "ios"
	req.EventName = "add_to_cart"
	require.True(t, f.orch.Process(ctx, "ak_active", req).Success)

	dash, err := f.orch.GetDashboard(ctx, "ak_active", "")
	require.NoError(t, err)
	assert.Equal(t, "1h", dash.Window)
	assert.Equal(t, "active", dash.Status)
	assert.Equal(t, &LiveMetrics{TotalEvents: 4, Sessions: 3, Users: 3}, dash.LiveMetrics)
	assert.Equal(t, map[string]int64{"0": 2, "1": 2}, dash.ClusterBreakdown)
	assert.Equal(t, map[string]int64{"purchase_intent": 4}, dash.IntentBreakdown)
	assert.Equal(t, map[string]int64{"web": 3, "ios": 1}, dash.PlatformBreakdown)
	assert.Equal(t, map[string]int64{"page_view": 3, "add_to_cart": 1}, dash.EventBreakdown)
	assert.Equal(t, "v3", dash.ClusterSummary.ModelVersion)
	assert.Nil(t, dash.IntentDistribution)
}

func TestCreateTenant(t *testing.T) {
	f := newFixture(t, nil)

	out, err := f.orch.CreateTenant(context.Background(), tenantdomain.CreateRequest{CustomerID: "cus_1"})
	require.NoError(t, err)
	assert.Equal(t, "ak_new", out.APIKey)
	assert.Equal(t, "trial", out.Status)
	assert.Equal(t, config.PlanTrial, out.PlanType)
	assert.Equal(t, 1000, out.RateLimit)
	assert.NotNil(t, out.TrialExpiresAt)

	res := f.orch.Process(context.Background(), "ak_new", pageView("anon_1"))
	assert.True(t, res.Success)

	_, err = f.orch.CreateTenant(context.Background(), tenantdomain.CreateRequest{})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidCustomer)
}
