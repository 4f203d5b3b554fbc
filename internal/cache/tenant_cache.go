package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/smallbiznis/intentflow/internal/config"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
)

const defaultTenantTTL = time.Minute

// TenantCache holds read-only tenant projections in front of the registry.
type TenantCache struct {
	store Store
	ttl   time.Duration
}

func NewTenantCache(store Store, cfg config.Config) *TenantCache {
	ttl := cfg.Tenant.CacheTTL
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	return &TenantCache{store: store, ttl: ttl}
}

// Get returns ErrMiss when the key is not cached.
func (c *TenantCache) Get(ctx context.Context, apiKey string) (*tenantdomain.Tenant, error) {
	raw, err := c.store.Get(ctx, tenantKey(apiKey))
	if err != nil {
		return nil, err
	}
	var tenant tenantdomain.Tenant
	if err := unmarshal(raw, &tenant); err != nil {
		return nil, fmt.Errorf("decode cached tenant: %w", err)
	}
	return &tenant, nil
}

func (c *TenantCache) Set(ctx context.Context, tenant *tenantdomain.Tenant) error {
	if tenant == nil || tenant.APIKey == "" {
		return nil
	}
	raw, err := marshal(tenant)
	if err != nil {
		return fmt.Errorf("encode tenant: %w", err)
	}
	return c.store.Set(ctx, tenantKey(tenant.APIKey), raw, c.ttl)
}

func (c *TenantCache) Invalidate(ctx context.Context, apiKey string) error {
	return c.store.Delete(ctx, tenantKey(apiKey))
}

func tenantKey(apiKey string) string {
	return cacheKey("tenant", apiKey)
}
