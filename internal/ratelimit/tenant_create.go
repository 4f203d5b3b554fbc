package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/intentflow/internal/config"
)

const keyTenantCreate = "ratelimit:tenant_create:%s"

// TenantCreateLimiter throttles tenant provisioning requests per client. It
// is disabled when redis is not configured.
type TenantCreateLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewTenantCreateLimiter(client *redis.Client, cfg config.Config) *TenantCreateLimiter {
	if client == nil || cfg.RateLimit.ProvisioningRate <= 0 || cfg.RateLimit.ProvisioningBurst <= 0 {
		return nil
	}
	return &TenantCreateLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.ProvisioningRate,
		burst:  cfg.RateLimit.ProvisioningBurst,
	}
}

func (l *TenantCreateLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *TenantCreateLimiter) Allow(ctx context.Context, clientID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		clientID = "unknown"
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyTenantCreate, clientID), l.rate, l.burst)
}
