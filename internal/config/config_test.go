package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("SCORING_BASE_URL", "http://scoring:9000")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.Tenant.CacheTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.Tenant.TrialPeriod)
	assert.True(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, 16, cfg.Stream.Shards)
	assert.Equal(t, 800*time.Millisecond, cfg.Scoring.CallTimeout)
	assert.Equal(t, "http://scoring:9000", cfg.Scoring.FeatureURL)
	assert.Equal(t, "http://scoring:9000", cfg.Scoring.ClusteringURL)
	assert.Equal(t, "http://scoring:9000", cfg.Provisioning.TrainURL)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Telemetry.OtelEnabled)
	assert.Equal(t, "grpc", cfg.Telemetry.OTLPProtocol)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("METRICS_TIMEOUT", "1s")
	t.Setenv("RATE_LIMIT_FAIL_OPEN", "off")
	t.Setenv("SCORING_INTENT_URL", "http://intent:9100")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP/protobuf")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 90*time.Second, cfg.Session.TTL)
	assert.Equal(t, time.Second, cfg.Metrics.Timeout)
	assert.False(t, cfg.RateLimit.FailOpen)
	assert.Equal(t, "http://intent:9100", cfg.Scoring.IntentURL)
	assert.True(t, cfg.Telemetry.OtelEnabled)
	assert.Equal(t, "http/protobuf", cfg.Telemetry.OTLPProtocol)
}

func TestPlanCatalogLookup(t *testing.T) {
	catalog := DefaultPlanCatalog()

	pro := catalog.Lookup("pro")
	assert.Equal(t, PlanPro, pro.Name)
	assert.Equal(t, 100_000, pro.RateLimit)
	assert.Contains(t, pro.Features, FeatureClustering)

	fallback := catalog.Lookup("platinum")
	assert.Equal(t, PlanTrial, fallback.Name)
	assert.NotContains(t, fallback.Features, FeatureClustering)

	assert.True(t, catalog.Known("enterprise"))
	assert.False(t, catalog.Known("platinum"))

	// Lookup hands out copies.
	pro.Features[0] = "mutated"
	assert.Equal(t, FeatureBasicAnalytics, catalog.Lookup("pro").Features[0])
}

func TestValidatePlanCatalog(t *testing.T) {
	require.NoError(t, validatePlanCatalog(DefaultPlanCatalog()))

	cases := []struct {
		name    string
		catalog PlanCatalog
	}{
		{name: "empty", catalog: PlanCatalog{}},
		{name: "no trial", catalog: PlanCatalog{Plans: []Plan{{Name: PlanPro, RateLimit: 10}}}},
		{name: "blank name", catalog: PlanCatalog{Plans: []Plan{{Name: PlanTrial}, {Name: " "}}}},
		{name: "negative limit", catalog: PlanCatalog{Plans: []Plan{{Name: PlanTrial, RateLimit: -1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, validatePlanCatalog(tc.catalog))
		})
	}
}
