package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Service interface {
	Resolve(ctx context.Context, apiKey string) (*Tenant, error)
	Create(ctx context.Context, req CreateRequest) (*Tenant, error)
	Suspend(ctx context.Context, apiKey string) (*Tenant, error)
	Reactivate(ctx context.Context, apiKey string) (*Tenant, error)
	ChangePlan(ctx context.Context, apiKey, planType string) (*Tenant, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	Update(ctx context.Context, db *gorm.DB, tenant *Tenant) error
	FindByAPIKey(ctx context.Context, db *gorm.DB, apiKey string) (*Tenant, error)
	Exists(ctx context.Context, db *gorm.DB, apiKey string) (bool, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, customerID string, after *Cursor, limit int) ([]Tenant, error)
}

// Provisioner prepares per-tenant scoring infrastructure after creation.
// Implementations must not block the caller.
type Provisioner interface {
	Provision(ctx context.Context, apiKey, planType string)
}

type CreateRequest struct {
	CustomerID string         `json:"customer_id"`
	PlanType   string         `json:"plan_type"`
	Metadata   map[string]any `json:"metadata"`
}

type ListRequest struct {
	CustomerID string `form:"customer_id"`
	PageToken  string `form:"page_token"`
	PageSize   int    `form:"page_size"`
}

type ListResponse struct {
	Tenants       []Tenant `json:"tenants"`
	NextPageToken string   `json:"next_page_token,omitempty"`
	HasMore       bool     `json:"has_more"`
}

// Cursor positions keyset pagination over (created_at, api_key).
type Cursor struct {
	CreatedAt time.Time
	APIKey    string
}

var (
	ErrNotFound               = errors.New("tenant_not_found")
	ErrStoreUnavailable       = errors.New("tenant_store_unavailable")
	ErrInvalidCustomer        = errors.New("invalid_customer_id")
	ErrInvalidPlan            = errors.New("invalid_plan_type")
	ErrInvalidAPIKey          = errors.New("invalid_api_key")
	ErrInvalidPageToken       = errors.New("invalid_page_token")
	ErrKeyGenerationExhausted = errors.New("api_key_generation_exhausted")
	ErrInvalidTransition      = errors.New("invalid_status_transition")
)
