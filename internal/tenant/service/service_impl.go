package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/intentflow/internal/cache"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	obsmetrics "github.com/smallbiznis/intentflow/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"github.com/smallbiznis/intentflow/pkg/db"
	"github.com/smallbiznis/intentflow/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultLookupTimeout = 500 * time.Millisecond

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        tenantdomain.Repository
	Cache       *cache.TenantCache
	Plans       *config.PlanCatalogHolder
	Clock       clock.Clock
	Config      config.Config
	Provisioner tenantdomain.Provisioner `optional:"true"`
	Metrics     *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        tenantdomain.Repository
	cache       *cache.TenantCache
	plans       *config.PlanCatalogHolder
	clock       clock.Clock
	provisioner tenantdomain.Provisioner
	metrics     *obsmetrics.Metrics

	lookupTimeout time.Duration
	trialPeriod   time.Duration
}

func New(p Params) tenantdomain.Service {
	lookupTimeout := p.Config.Tenant.LookupTimeout
	if lookupTimeout <= 0 {
		lookupTimeout = defaultLookupTimeout
	}
	trialPeriod := p.Config.Tenant.TrialPeriod
	if trialPeriod <= 0 {
		trialPeriod = 14 * 24 * time.Hour
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("tenant.service"),
		repo:          p.Repo,
		cache:         p.Cache,
		plans:         p.Plans,
		clock:         p.Clock,
		provisioner:   p.Provisioner,
		metrics:       p.Metrics,
		lookupTimeout: lookupTimeout,
		trialPeriod:   trialPeriod,
	}
}

// Resolve reads through the cache. Concurrent misses on one key may both
// populate it; the last write wins.
func (s *Service) Resolve(ctx context.Context, apiKey string) (*tenantdomain.Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, tenantdomain.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	cached, err := s.cache.Get(ctx, apiKey)
	switch {
	case err == nil:
		s.metrics.RecordTenantCache(ctx, "hit")
		return cached, nil
	case errors.Is(err, cache.ErrMiss):
		s.metrics.RecordTenantCache(ctx, "miss")
	default:
		s.metrics.RecordTenantCache(ctx, "error")
		s.log.Debug("tenant cache read failed, treating as miss", zap.Error(err))
	}

	tenant, err := s.repo.FindByAPIKey(ctx, s.db, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tenantdomain.ErrStoreUnavailable, err)
	}
	if tenant == nil {
		return nil, tenantdomain.ErrNotFound
	}

	if err := s.cache.Set(ctx, tenant); err != nil {
		s.log.Debug("tenant cache write failed", zap.Error(err))
	}
	return tenant, nil
}

func (s *Service) Create(ctx context.Context, req tenantdomain.CreateRequest) (*tenantdomain.Tenant, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, tenantdomain.ErrInvalidCustomer
	}

	plan := s.plans.Get().Lookup(req.PlanType)
	now := s.clock.Now()

	tenant := &tenantdomain.Tenant{
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if len(req.Metadata) > 0 {
		tenant.Metadata = datatypes.JSONMap(req.Metadata)
	}
	s.applyPlan(tenant, plan, now)

	inserted := false
	for attempt := 0; attempt < maxKeyAttempts && !inserted; attempt++ {
		key, err := generateAPIKey(customerID)
		if err != nil {
			return nil, err
		}

		exists, err := s.repo.Exists(ctx, s.db, key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", tenantdomain.ErrStoreUnavailable, err)
		}
		if exists {
			s.log.Warn("generated api key collided, retrying", zap.Int("attempt", attempt+1))
			continue
		}

		tenant.APIKey = key
		err = s.repo.Insert(ctx, s.db, tenant)
		switch {
		case err == nil:
			inserted = true
		case db.IsDuplicateKeyErr(err):
			s.log.Warn("api key insert raced, retrying", zap.Int("attempt", attempt+1))
		default:
			return nil, fmt.Errorf("insert tenant: %w", err)
		}
	}
	if !inserted {
		return nil, tenantdomain.ErrKeyGenerationExhausted
	}

	log := s.log.With(zap.String("customer_id", customerID), zap.String("plan_type", tenant.PlanType))
	if err := s.cache.Set(ctx, tenant); err != nil {
		log.Debug("tenant cache warm failed", zap.Error(err))
	}
	if s.provisioner != nil {
		s.provisioner.Provision(ctx, tenant.APIKey, tenant.PlanType)
	}
	log.Info("tenant created", zap.String("status", string(tenant.Status)))
	return tenant, nil
}

func (s *Service) Suspend(ctx context.Context, apiKey string) (*tenantdomain.Tenant, error) {
	return s.mutate(ctx, apiKey, func(t *tenantdomain.Tenant, _ time.Time) error {
		if t.Status == tenantdomain.StatusSuspended {
			return nil
		}
		t.Status = tenantdomain.StatusSuspended
		return nil
	})
}

// Reactivate restores a suspended or inactive tenant to the status its plan
// implies.
func (s *Service) Reactivate(ctx context.Context, apiKey string) (*tenantdomain.Tenant, error) {
	return s.mutate(ctx, apiKey, func(t *tenantdomain.Tenant, _ time.Time) error {
		if t.CanIngest() {
			return nil
		}
		if t.PlanType == config.PlanTrial {
			t.Status = tenantdomain.StatusTrial
		} else {
			t.Status = tenantdomain.StatusActive
		}
		return nil
	})
}

func (s *Service) ChangePlan(ctx context.Context, apiKey, planType string) (*tenantdomain.Tenant, error) {
	catalog := s.plans.Get()
	if !catalog.Known(planType) {
		return nil, tenantdomain.ErrInvalidPlan
	}
	plan := catalog.Lookup(planType)

	return s.mutate(ctx, apiKey, func(t *tenantdomain.Tenant, now time.Time) error {
		if t.Status == tenantdomain.StatusSuspended {
			return tenantdomain.ErrInvalidTransition
		}
		s.applyPlan(t, plan, now)
		return nil
	})
}

func (s *Service) List(ctx context.Context, req tenantdomain.ListRequest) (*tenantdomain.ListResponse, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return nil, tenantdomain.ErrInvalidCustomer
	}

	page := pagination.Pagination{PageToken: req.PageToken, PageSize: req.PageSize}
	limit := page.Size()

	var after *tenantdomain.Cursor
	if token := strings.TrimSpace(page.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return nil, tenantdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil || decoded.ID == "" {
			return nil, tenantdomain.ErrInvalidPageToken
		}
		after = &tenantdomain.Cursor{CreatedAt: createdAt, APIKey: decoded.ID}
	}

	rows, err := s.repo.ListByCustomer(ctx, s.db, customerID, after, limit+1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", tenantdomain.ErrStoreUnavailable, err)
	}

	rows, info := pagination.BuildCursorPageInfo(rows, limit, func(t *tenantdomain.Tenant) string {
		token, _ := pagination.EncodeCursor(pagination.Cursor{
			ID:        t.APIKey,
			CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
		return token
	})

	return &tenantdomain.ListResponse{
		Tenants:       rows,
		NextPageToken: info.NextPageToken,
		HasMore:       info.HasMore,
	}, nil
}

// mutate loads the tenant from durable storage, applies fn, persists, and
// invalidates the cached projection.
func (s *Service) mutate(ctx context.Context, apiKey string, fn func(*tenantdomain.Tenant, time.Time) error) (*tenantdomain.Tenant, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, tenantdomain.ErrInvalidAPIKey
	}

	var updated *tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tenant, err := s.repo.FindByAPIKey(ctx, tx, apiKey)
		if err != nil {
			return err
		}
		if tenant == nil {
			return tenantdomain.ErrNotFound
		}

		now := s.clock.Now()
		if err := fn(tenant, now); err != nil {
			return err
		}
		tenant.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, tenant); err != nil {
			return err
		}
		updated = tenant
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, apiKey); err != nil {
		s.log.Warn("tenant cache invalidate failed, stale until ttl", zap.Error(err))
	}
	s.log.Info("tenant updated",
		zap.String("status", string(updated.Status)),
		zap.String("plan_type", updated.PlanType),
	)
	return updated, nil
}

func (s *Service) applyPlan(t *tenantdomain.Tenant, plan config.Plan, now time.Time) {
	t.PlanType = plan.Name
	t.RateLimit = plan.RateLimit
	t.FeaturesEnabled = datatypes.JSONSlice[string](plan.Features)

	if plan.Name == config.PlanTrial {
		expires := now.Add(s.trialPeriod)
		t.TrialExpiresAt = &expires
		t.Status = tenantdomain.StatusTrial
		return
	}
	t.TrialExpiresAt = nil
	if t.Status == "" || t.Status == tenantdomain.StatusTrial {
		t.Status = tenantdomain.StatusActive
	}
}
