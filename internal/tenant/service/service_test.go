package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/intentflow/internal/cache"
	"github.com/smallbiznis/intentflow/internal/clock"
	"github.com/smallbiznis/intentflow/internal/config"
	tenantdomain "github.com/smallbiznis/intentflow/internal/tenant/domain"
	"github.com/smallbiznis/intentflow/internal/tenant/repository"
	"github.com/smallbiznis/intentflow/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type countingRepo struct {
	tenantdomain.Repository
	finds  atomic.Int32
	exists func(key string) (bool, error)
	insert func(t *tenantdomain.Tenant) error
	find   func() error
}

func (r *countingRepo) FindByAPIKey(ctx context.Context, conn *gorm.DB, apiKey string) (*tenantdomain.Tenant, error) {
	r.finds.Add(1)
	if r.find != nil {
		if err := r.find(); err != nil {
			return nil, err
		}
	}
	return r.Repository.FindByAPIKey(ctx, conn, apiKey)
}

func (r *countingRepo) Exists(ctx context.Context, conn *gorm.DB, apiKey string) (bool, error) {
	if r.exists != nil {
		return r.exists(apiKey)
	}
	return r.Repository.Exists(ctx, conn, apiKey)
}

func (r *countingRepo) Insert(ctx context.Context, conn *gorm.DB, t *tenantdomain.Tenant) error {
	if r.insert != nil {
		if err := r.insert(t); err != nil {
			return err
		}
	}
	return r.Repository.Insert(ctx, conn, t)
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) Provision(ctx context.Context, apiKey, planType string) {
	m.Called(apiKey, planType)
}

type fixture struct {
	svc         tenantdomain.Service
	repo        *countingRepo
	clock       *clock.FakeClock
	provisioner *mockProvisioner
	db          *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&tenantdomain.Tenant{}))

	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{Tenant: config.TenantConfig{
		CacheTTL:      time.Minute,
		LookupTimeout: time.Second,
		TrialPeriod:   14 * 24 * time.Hour,
	}}
	repo := &countingRepo{Repository: repository.Provide()}
	prov := &mockProvisioner{}
	prov.On("Provision", mock.Anything, mock.Anything).Maybe()

	svc := New(Params{
		DB:          conn,
		Log:         zap.NewNop(),
		Repo:        repo,
		Cache:       cache.NewTenantCache(cache.NewMemoryStore(clk), cfg),
		Plans:       config.NewStaticPlanCatalogHolder(config.DefaultPlanCatalog()),
		Clock:       clk,
		Config:      cfg,
		Provisioner: prov,
	})
	return &fixture{svc: svc, repo: repo, clock: clk, provisioner: prov, db: conn}
}

func TestCreateTrialThenResolveFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, tenantdomain.CreateRequest{CustomerID: "c1", PlanType: "trial"})
	require.NoError(t, err)

	assert.True(t, ValidKeyFormat(created.APIKey), created.APIKey)
	assert.Equal(t, tenantdomain.StatusTrial, created.Status)
	assert.Equal(t, 1000, created.RateLimit)
	assert.ElementsMatch(t, []string{config.FeatureBasicAnalytics, config.FeatureIntentScoring}, []string(created.FeaturesEnabled))
	require.NotNil(t, created.TrialExpiresAt)
	assert.Equal(t, f.clock.Now().Add(14*24*time.Hour), *created.TrialExpiresAt)
	f.provisioner.AssertCalled(t, "Provision", created.APIKey, "trial")

	resolved, err := f.svc.Resolve(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, created.APIKey, resolved.APIKey)
	assert.Equal(t, created.RateLimit, resolved.RateLimit)
	assert.Equal(t, int32(0), f.repo.finds.Load(), "resolve within ttl must not hit the store")
}

func TestResolveMissPopulatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, tenantdomain.CreateRequest{CustomerID: "c2", PlanType: "pro"})
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusActive, created.Status)
	assert.Nil(t, created.TrialExpiresAt)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Resolve(ctx, created.APIKey)
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, int32(1), f.repo.finds.Load())
}

func TestResolveUnknownAndStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Resolve(ctx, "ak_bogus")
	assert.ErrorIs(t, err, tenantdomain.ErrNotFound)

	_, err = f.svc.Resolve(ctx, "   ")
	assert.ErrorIs(t, err, tenantdomain.ErrNotFound)

	f.repo.find = func() error { return errors.New("connection refused") }
	_, err = f.svc.Resolve(ctx, "ak_other")
	assert.ErrorIs(t, err, tenantdomain.ErrStoreUnavailable)
}

func TestCreateValidatesCustomer(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), tenantdomain.CreateRequest{CustomerID: " "})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidCustomer)
}

func TestCreateUnknownPlanFallsBackToTrial(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(context.Background(), tenantdomain.CreateRequest{CustomerID: "c3", PlanType: "platinum"})
	require.NoError(t, err)
	assert.Equal(t, config.PlanTrial, created.PlanType)
	assert.Equal(t, tenantdomain.StatusTrial, created.Status)
}

func TestCreateRetriesOnCollision(t *testing.T) {
	f := newFixture(t)
	var calls int
	f.repo.exists = func(string) (bool, error) {
		calls++
		return calls < 3, nil
	}

	created, err := f.svc.Create(context.Background(), tenantdomain.CreateRequest{CustomerID: "c4", PlanType: "basic"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.NotEmpty(t, created.APIKey)
}

func TestCreateExhaustsAttempts(t *testing.T) {
	f := newFixture(t)
	f.repo.exists = func(string) (bool, error) { return true, nil }

	created, err := f.svc.Create(context.Background(), tenantdomain.CreateRequest{CustomerID: "c5"})
	assert.ErrorIs(t, err, tenantdomain.ErrKeyGenerationExhausted)
	assert.Nil(t, created)
	f.provisioner.AssertNotCalled(t, "Provision", mock.Anything, mock.Anything)
}

func TestCreateInsertFailureReturnsNoTenant(t *testing.T) {
	f := newFixture(t)
	f.repo.insert = func(*tenantdomain.Tenant) error { return errors.New("disk full") }

	created, err := f.svc.Create(context.Background(), tenantdomain.CreateRequest{CustomerID: "c6"})
	assert.Error(t, err)
	assert.Nil(t, created)
}

func TestSuspendInvalidatesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, tenantdomain.CreateRequest{CustomerID: "c7", PlanType: "basic"})
	require.NoError(t, err)

	suspended, err := f.svc.Suspend(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusSuspended, suspended.Status)

	resolved, err := f.svc.Resolve(ctx, created.APIKey)
	require.NoError(t, err)
	assert.False(t, resolved.CanIngest())

	_, err = f.svc.ChangePlan(ctx, created.APIKey, "pro")
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidTransition)

	reactivated, err := f.svc.Reactivate(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusActive, reactivated.Status)
}

func TestChangePlanFromTrial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.Create(ctx, tenantdomain.CreateRequest{CustomerID: "c8"})
	require.NoError(t, err)

	_, err = f.svc.ChangePlan(ctx, created.APIKey, "gold")
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidPlan)

	upgraded, err := f.svc.ChangePlan(ctx, created.APIKey, "enterprise")
	require.NoError(t, err)
	assert.Equal(t, tenantdomain.StatusActive, upgraded.Status)
	assert.Equal(t, 1_000_000, upgraded.RateLimit)
	assert.Nil(t, upgraded.TrialExpiresAt)
	assert.True(t, upgraded.HasFeature(config.FeatureCustomModels))

	resolved, err := f.svc.Resolve(ctx, created.APIKey)
	require.NoError(t, err)
	assert.Equal(t, "enterprise", resolved.PlanType)
}

func TestListPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, tenantdomain.CreateRequest{CustomerID: "acme", PlanType: "basic"})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	_, err := f.svc.Create(ctx, tenantdomain.CreateRequest{CustomerID: "other"})
	require.NoError(t, err)

	first, err := f.svc.List(ctx, tenantdomain.ListRequest{CustomerID: "acme", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, first.Tenants, 2)
	assert.True(t, first.HasMore)
	assert.True(t, first.Tenants[0].CreatedAt.After(first.Tenants[1].CreatedAt))

	second, err := f.svc.List(ctx, tenantdomain.ListRequest{CustomerID: "acme", PageSize: 2, PageToken: first.NextPageToken})
	require.NoError(t, err)
	require.Len(t, second.Tenants, 1)
	assert.False(t, second.HasMore)

	_, err = f.svc.List(ctx, tenantdomain.ListRequest{CustomerID: "acme", PageToken: "not-a-token"})
	assert.ErrorIs(t, err, tenantdomain.ErrInvalidPageToken)
}
