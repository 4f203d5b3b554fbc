package repository

import (
	"context"

	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Create(tenant).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, tenant *tenantdomain.Tenant) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tenants
		 SET status = ?, plan_type = ?, rate_limit = ?, features_enabled = ?, trial_expires_at = ?, metadata = ?, updated_at = ?
		 WHERE api_key = ?`,
		tenant.Status,
		tenant.PlanType,
		tenant.RateLimit,
		tenant.FeaturesEnabled,
		tenant.TrialExpiresAt,
		tenant.Metadata,
		tenant.UpdatedAt,
		tenant.APIKey,
	).Error
}

func (r *repo) FindByAPIKey(ctx context.Context, db *gorm.DB, apiKey string) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT api_key, customer_id, status, plan_type, rate_limit, features_enabled, metadata, trial_expires_at, created_at, updated_at
		 FROM tenants WHERE api_key = ?`,
		apiKey,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.APIKey == "" {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, apiKey string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM tenants WHERE api_key = ?`, apiKey).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, customerID string, after *tenantdomain.Cursor, limit int) ([]tenantdomain.Tenant, error) {
	query := db.WithContext(ctx).
		Model(&tenantdomain.Tenant{}).
		Where("customer_id = ?", customerID)
	if after != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND api_key < ?)", after.CreatedAt, after.CreatedAt, after.APIKey)
	}

	var tenants []tenantdomain.Tenant
	err := query.
		Order("created_at DESC").
		Order("api_key DESC").
		Limit(limit).
		Find(&tenants).Error
	if err != nil {
		return nil, err
	}
	return tenants, nil
}
