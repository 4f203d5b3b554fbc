package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/smallbiznis/intentflow/internal/config"
)

// Registry records which model kinds a tenant already has.
type Registry interface {
	// MissingKinds returns the subset of kinds with no recorded model, in
	// the order given.
	MissingKinds(ctx context.Context, apiKey string, kinds []string) ([]string, error)
	MarkRequested(ctx context.Context, apiKey, kind string, at time.Time) error
}

func modelPrefix(apiKey string) string {
	return "models/" + apiKey + "/"
}

func kindPrefix(apiKey, kind string) string {
	return modelPrefix(apiKey) + kind + "/"
}

type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Registry treats any object under models/{apiKey}/{kind}/ as evidence
// that the tenant's model of that kind exists or is being built.
type S3Registry struct {
	client s3API
	bucket string
}

func NewS3Registry(ctx context.Context, cfg config.ProvisioningConfig) (*S3Registry, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		})
	}
	if cfg.S3UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return newS3RegistryWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.S3Bucket), nil
}

func newS3RegistryWithClient(client s3API, bucket string) *S3Registry {
	return &S3Registry{client: client, bucket: strings.TrimSpace(bucket)}
}

func (r *S3Registry) MissingKinds(ctx context.Context, apiKey string, kinds []string) ([]string, error) {
	var missing []string
	for _, kind := range kinds {
		out, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(r.bucket),
			Prefix:  aws.String(kindPrefix(apiKey, kind)),
			MaxKeys: aws.Int32(1),
		})
		if err != nil {
			return nil, fmt.Errorf("list %s models: %w", kind, err)
		}
		if aws.ToInt32(out.KeyCount) == 0 && len(out.Contents) == 0 {
			missing = append(missing, kind)
		}
	}
	return missing, nil
}

type manifest struct {
	APIKey      string    `json:"api_key"`
	Kind        string    `json:"kind"`
	RequestedAt time.Time `json:"requested_at"`
}

func (r *S3Registry) MarkRequested(ctx context.Context, apiKey, kind string, at time.Time) error {
	body, err := json.Marshal(manifest{APIKey: apiKey, Kind: kind, RequestedAt: at.UTC()})
	if err != nil {
		return err
	}
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(kindPrefix(apiKey, kind) + "manifest.json"),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// MemoryRegistry is the single-node registry used without an S3 bucket.
type MemoryRegistry struct {
	mu     sync.RWMutex
	models map[string]map[string]time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{models: make(map[string]map[string]time.Time)}
}

func (r *MemoryRegistry) MissingKinds(ctx context.Context, apiKey string, kinds []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []string
	for _, kind := range kinds {
		if _, ok := r.models[apiKey][kind]; !ok {
			missing = append(missing, kind)
		}
	}
	return missing, nil
}

func (r *MemoryRegistry) MarkRequested(ctx context.Context, apiKey, kind string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.models[apiKey] == nil {
		r.models[apiKey] = make(map[string]time.Time)
	}
	r.models[apiKey][kind] = at
	return nil
}
