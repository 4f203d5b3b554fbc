package domain

import (
	"errors"
	"sort"
	"time"
)

var (
	ErrScoring       = errors.New("scoring_failed")
	ErrBranchTimeout = errors.New("scoring_branch_timeout")
	ErrEmptyFeatures = errors.New("empty_feature_map")
)

const (
	BranchFeatures = "features"
	BranchCluster  = "cluster"
	BranchIntent   = "intent"
)

// FeatureMap is a behavioral feature vector keyed by feature name. A nil map
// means extraction did not produce a result.
type FeatureMap map[string]float64

// Get returns the named feature or fallback when it is absent.
func (f FeatureMap) Get(name string, fallback float64) float64 {
	if v, ok := f[name]; ok {
		return v
	}
	return fallback
}

// ClusterAssignment places a user in a behavioral segment. OutlierScore is
// reported by the clustering collaborator as is.
type ClusterAssignment struct {
	ClusterID    int     `json:"clusterId"`
	IsOutlier    bool    `json:"isOutlier"`
	OutlierScore float64 `json:"outlierScore"`
	Distance     float64 `json:"distance,omitempty"`
	ModelVersion string  `json:"modelVersion,omitempty"`
}

// IntentScores maps intent names to scores in [0,1].
type IntentScores struct {
	Scores        map[string]float64 `json:"scores"`
	PrimaryIntent string             `json:"primaryIntent"`
	Confidence    float64            `json:"confidence"`
}

// Normalize fills PrimaryIntent and Confidence from Scores when the
// collaborator left them empty. Ties resolve to the lexically smallest name.
func (s *IntentScores) Normalize() {
	if s == nil || s.PrimaryIntent != "" || len(s.Scores) == 0 {
		return
	}
	names := make([]string, 0, len(s.Scores))
	for name := range s.Scores {
		names = append(names, name)
	}
	sort.Strings(names)
	best := names[0]
	for _, name := range names[1:] {
		if s.Scores[name] > s.Scores[best] {
			best = name
		}
	}
	s.PrimaryIntent = best
	s.Confidence = s.Scores[best]
}

// BranchError records why one scoring branch produced no result.
type BranchError struct {
	Branch string
	Err    error
}

func (e BranchError) Error() string {
	return e.Branch + ": " + e.Err.Error()
}

func (e BranchError) Unwrap() error {
	return e.Err
}

// Result is the enrichment for one event. Each field is nil when its branch
// failed, timed out, or was skipped.
type Result struct {
	Features FeatureMap         `json:"features,omitempty"`
	Cluster  *ClusterAssignment `json:"cluster,omitempty"`
	Intent   *IntentScores      `json:"intentScores,omitempty"`
	Errors   []BranchError      `json:"-"`
}

type ClusterStat struct {
	ClusterID int    `json:"clusterId"`
	Size      int64  `json:"size"`
	Label     string `json:"label,omitempty"`
}

type ClusterSummary struct {
	ModelVersion string        `json:"modelVersion,omitempty"`
	TrainedAt    *time.Time    `json:"trainedAt,omitempty"`
	Clusters     []ClusterStat `json:"clusters"`
}

type IntentDistribution struct {
	ModelVersion string             `json:"modelVersion,omitempty"`
	Importance   map[string]float64 `json:"importance"`
}
