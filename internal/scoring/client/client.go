package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/smallbiznis/intentflow/internal/config"
	obstracing "github.com/smallbiznis/intentflow/internal/observability/tracing"
	scoringdomain "github.com/smallbiznis/intentflow/internal/scoring/domain"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 512
)

// StatusError is returned for non-2xx collaborator responses.
type StatusError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.Status, e.Body)
}

// Client talks JSON to the feature extraction, clustering, intent scoring
// and training collaborators.
type Client struct {
	httpClient *http.Client

	featureURL    string
	clusteringURL string
	intentURL     string
	trainURL      string
}

func New(cfg config.Config) *Client {
	return NewWithHTTPClient(cfg, &http.Client{Timeout: defaultHTTPTimeout})
}

func NewWithHTTPClient(cfg config.Config, httpClient *http.Client) *Client {
	return &Client{
		httpClient:    obstracing.WrapHTTPClient(httpClient),
		featureURL:    trimBase(cfg.Scoring.FeatureURL),
		clusteringURL: trimBase(cfg.Scoring.ClusteringURL),
		intentURL:     trimBase(cfg.Scoring.IntentURL),
		trainURL:      trimBase(cfg.Provisioning.TrainURL),
	}
}

type extractRequest struct {
	APIKey     string `json:"api_key"`
	AnonID     string `json:"anon_id"`
	TimeWindow string `json:"time_window"`
}

type extractResponse struct {
	Features map[string]float64 `json:"features"`
}

type predictRequest struct {
	APIKey   string             `json:"api_key"`
	AnonID   string             `json:"anon_id"`
	Features map[string]float64 `json:"features"`
}

type clusterPayload struct {
	ClusterID    int     `json:"cluster_id"`
	IsOutlier    bool    `json:"is_outlier"`
	OutlierScore float64 `json:"outlier_score"`
	Distance     float64 `json:"distance"`
	ModelVersion string  `json:"model_version"`
}

func (p clusterPayload) toDomain() *scoringdomain.ClusterAssignment {
	return &scoringdomain.ClusterAssignment{
		ClusterID:    p.ClusterID,
		IsOutlier:    p.IsOutlier,
		OutlierScore: p.OutlierScore,
		Distance:     p.Distance,
		ModelVersion: p.ModelVersion,
	}
}

type intentPayload struct {
	IntentScores  map[string]float64 `json:"intent_scores"`
	PrimaryIntent string             `json:"primary_intent"`
	Confidence    float64            `json:"confidence"`
}

func (p intentPayload) toDomain() *scoringdomain.IntentScores {
	scores := &scoringdomain.IntentScores{
		Scores:        p.IntentScores,
		PrimaryIntent: p.PrimaryIntent,
		Confidence:    p.Confidence,
	}
	scores.Normalize()
	return scores
}

type clusterSummaryPayload struct {
	ModelVersion string     `json:"model_version"`
	TrainedAt    *time.Time `json:"trained_at"`
	Clusters     []struct {
		ClusterID int    `json:"cluster_id"`
		Size      int64  `json:"size"`
		Label     string `json:"label"`
	} `json:"clusters"`
}

type importancePayload struct {
	ModelVersion string             `json:"model_version"`
	Importance   map[string]float64 `json:"importance"`
}

type trainRequest struct {
	Kind string `json:"kind"`
}

func (c *Client) Extract(ctx context.Context, apiKey, anonID, window string) (scoringdomain.FeatureMap, error) {
	var out extractResponse
	err := c.do(ctx, http.MethodPost, c.featureURL+"/v1/features/extract",
		extractRequest{APIKey: apiKey, AnonID: anonID, TimeWindow: window}, &out)
	if err != nil {
		return nil, err
	}
	return scoringdomain.FeatureMap(out.Features), nil
}

func (c *Client) PredictCluster(ctx context.Context, apiKey, anonID string, features scoringdomain.FeatureMap) (*scoringdomain.ClusterAssignment, error) {
	var out clusterPayload
	err := c.do(ctx, http.MethodPost, c.clusteringURL+"/v1/clusters/predict",
		predictRequest{APIKey: apiKey, AnonID: anonID, Features: features}, &out)
	if err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

// LatestCluster returns the last stored assignment for a user, or nil when
// the collaborator has none.
func (c *Client) LatestCluster(ctx context.Context, apiKey, anonID string) (*scoringdomain.ClusterAssignment, error) {
	var out clusterPayload
	endpoint := fmt.Sprintf("%s/v1/clusters/%s/users/%s", c.clusteringURL, url.PathEscape(apiKey), url.PathEscape(anonID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *Client) ClusterSummary(ctx context.Context, apiKey string) (*scoringdomain.ClusterSummary, error) {
	var out clusterSummaryPayload
	endpoint := fmt.Sprintf("%s/v1/clusters/%s/summary", c.clusteringURL, url.PathEscape(apiKey))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	summary := &scoringdomain.ClusterSummary{
		ModelVersion: out.ModelVersion,
		TrainedAt:    out.TrainedAt,
		Clusters:     make([]scoringdomain.ClusterStat, 0, len(out.Clusters)),
	}
	for _, cl := range out.Clusters {
		summary.Clusters = append(summary.Clusters, scoringdomain.ClusterStat{
			ClusterID: cl.ClusterID,
			Size:      cl.Size,
			Label:     cl.Label,
		})
	}
	return summary, nil
}

func (c *Client) PredictIntent(ctx context.Context, apiKey, anonID string, features scoringdomain.FeatureMap) (*scoringdomain.IntentScores, error) {
	var out intentPayload
	err := c.do(ctx, http.MethodPost, c.intentURL+"/v1/intents/predict",
		predictRequest{APIKey: apiKey, AnonID: anonID, Features: features}, &out)
	if err != nil {
		return nil, err
	}
	return out.toDomain(), nil
}

// LatestIntent returns the last stored intent scores for a user, or nil when
// the collaborator has none.
func (c *Client) LatestIntent(ctx context.Context, apiKey, anonID string) (*scoringdomain.IntentScores, error) {
	var out intentPayload
	endpoint := fmt.Sprintf("%s/v1/intents/%s/users/%s", c.intentURL, url.PathEscape(apiKey), url.PathEscape(anonID))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return out.toDomain(), nil
}

func (c *Client) IntentDistribution(ctx context.Context, apiKey string) (*scoringdomain.IntentDistribution, error) {
	var out importancePayload
	endpoint := fmt.Sprintf("%s/v1/intents/%s/importance", c.intentURL, url.PathEscape(apiKey))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &scoringdomain.IntentDistribution{ModelVersion: out.ModelVersion, Importance: out.Importance}, nil
}

// Train asks the training collaborator to build a model of the given kind
// for a tenant.
func (c *Client) Train(ctx context.Context, apiKey, kind string) error {
	endpoint := fmt.Sprintf("%s/v1/models/%s/train", c.trainURL, url.PathEscape(apiKey))
	return c.do(ctx, http.MethodPost, endpoint, trainRequest{Kind: kind}, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			URL:    endpoint,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == http.StatusNotFound
}

func trimBase(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
