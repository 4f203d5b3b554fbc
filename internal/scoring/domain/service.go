package domain

import "context"

type FeatureExtractor interface {
	Extract(ctx context.Context, apiKey, anonID, window string) (FeatureMap, error)
}

type ClusterPredictor interface {
	PredictCluster(ctx context.Context, apiKey, anonID string, features FeatureMap) (*ClusterAssignment, error)
	LatestCluster(ctx context.Context, apiKey, anonID string) (*ClusterAssignment, error)
	ClusterSummary(ctx context.Context, apiKey string) (*ClusterSummary, error)
}

type IntentPredictor interface {
	PredictIntent(ctx context.Context, apiKey, anonID string, features FeatureMap) (*IntentScores, error)
	LatestIntent(ctx context.Context, apiKey, anonID string) (*IntentScores, error)
	IntentDistribution(ctx context.Context, apiKey string) (*IntentDistribution, error)
}

// ScoreRequest identifies the user to enrich.
type ScoreRequest struct {
	APIKey string
	AnonID string
	Window string
}

// Service runs feature extraction and then clustering and intent scoring in
// parallel. Score never returns an error; failed branches are left nil and
// reported in Result.Errors.
type Service interface {
	Score(ctx context.Context, req ScoreRequest) Result

	Features(ctx context.Context, apiKey, anonID, window string) (FeatureMap, error)
	LatestCluster(ctx context.Context, apiKey, anonID string) (*ClusterAssignment, error)
	LatestIntent(ctx context.Context, apiKey, anonID string) (*IntentScores, error)
	ClusterSummary(ctx context.Context, apiKey string) (*ClusterSummary, error)
	IntentDistribution(ctx context.Context, apiKey string) (*IntentDistribution, error)
}
