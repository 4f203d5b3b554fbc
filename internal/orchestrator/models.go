package orchestrator

import (
	"time"

	"github.com/smallbiznis/intentflow/internal/cache"
	metricsdomain "github.com/smallbiznis/intentflow/internal/metrics/domain"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
)

type State string

const (
	StateReceived            State = "received"
	StateValidating          State = "validating"
	StateRateLimiting        State = "rate_limiting"
	StateIngesting           State = "ingesting"
	StateScoring             State = "scoring"
	StateAggregatingMetrics  State = "aggregating_metrics"
	StateProvisioningIfTrial State = "provisioning_if_trial"
	StateResponded           State = "responded"

	StateRejectedInvalidKey  State = "rejected_invalid_key"
	StateRejectedRateLimited State = "rejected_rate_limited"
)

// EventRequest is the tenant-submitted event body.
type EventRequest struct {
	EventID    string         `json:"eventId"`
	AnonID     string         `json:"anonId"`
	SessionID  string         `json:"sessionId"`
	EventName  string         `json:"eventName"`
	Timestamp  *time.Time     `json:"timestamp"`
	Platform   string         `json:"platform"`
	Properties map[string]any `json:"properties"`
}

// ProcessResult is returned for every processed event, successful or not.
type ProcessResult struct {
	Success          bool                             `json:"success"`
	EventID          string                           `json:"eventId,omitempty"`
	AnonID           string                           `json:"anonId"`
	SessionID        string                           `json:"sessionId"`
	Features         scoringdomain.FeatureMap         `json:"features,omitempty"`
	Cluster          *scoringdomain.ClusterAssignment `json:"cluster,omitempty"`
	IntentScores     *scoringdomain.IntentScores      `json:"intentScores,omitempty"`
	Metrics          metricsdomain.Snapshot           `json:"metrics,omitempty"`
	Ingested         bool                             `json:"ingested"`
	ProcessingTimeMS float64                          `json:"processingTimeMs"`
	Error            string                           `json:"error,omitempty"`
	State            State                            `json:"state"`

	// Err classifies a rejection: ErrAuth, ErrRateLimited or ErrProcessing.
	Err error `json:"-"`
	// RetryAfter is set on rate-limit rejections.
	RetryAfter time.Duration `json:"-"`
}

type Summary struct {
	BehavioralType  string   `json:"behavioralType"`
	EngagementLevel string   `json:"engagementLevel"`
	PrimaryIntent   string   `json:"primaryIntent"`
	Recommendations []string `json:"recommendations"`
}

type Insights struct {
	AnonID       string                           `json:"anonId"`
	Window       string                           `json:"window"`
	GeneratedAt  time.Time                        `json:"generatedAt"`
	Features     scoringdomain.FeatureMap         `json:"features,omitempty"`
	Cluster      *scoringdomain.ClusterAssignment `json:"cluster,omitempty"`
	IntentScores *scoringdomain.IntentScores      `json:"intentScores,omitempty"`
	Session      *cache.Session                   `json:"session,omitempty"`
	Summary      Summary                          `json:"summary"`
}

type LiveMetrics struct {
	TotalEvents int64 `json:"totalEvents"`
	Sessions    int64 `json:"sessions"`
	Users       int64 `json:"users"`
}

type Dashboard struct {
	Window             string                            `json:"window"`
	GeneratedAt        time.Time                         `json:"generatedAt"`
	LiveMetrics        *LiveMetrics                      `json:"liveMetrics,omitempty"`
	ClusterBreakdown   map[string]int64                  `json:"clusterBreakdown,omitempty"`
	IntentBreakdown    map[string]int64                  `json:"intentBreakdown,omitempty"`
	PlatformBreakdown  map[string]int64                  `json:"platformBreakdown,omitempty"`
	EventBreakdown     map[string]int64                  `json:"eventBreakdown,omitempty"`
	ClusterSummary     *scoringdomain.ClusterSummary     `json:"clusterSummary,omitempty"`
	IntentDistribution *scoringdomain.IntentDistribution `json:"intentDistribution,omitempty"`
	Status             string                            `json:"status"`
}

// Provisioned is returned to the operator that created a tenant.
type Provisioned struct {
	APIKey          string     `json:"apiKey"`
	Status          string     `json:"status"`
	PlanType        string     `json:"planType"`
	RateLimit       int        `json:"rateLimit"`
	FeaturesEnabled []string   `json:"featuresEnabled"`
	TrialExpiresAt  *time.Time `json:"trialExpiresAt,omitempty"`
}
