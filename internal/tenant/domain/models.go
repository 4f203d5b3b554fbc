package domain

import (
	"slices"
	"time"

	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
	StatusTrial     Status = "trial"
)

// Tenant is one API key and the plan it is entitled to. Rows are never
// deleted; lifecycle is expressed through Status.
type Tenant struct {
	APIKey          string                      `gorm:"column:api_key;primaryKey;type:varchar(64)" json:"api_key" cbor:"1,keyasint"`
	CustomerID      string                      `gorm:"column:customer_id;type:varchar(191);not null;index:ix_tenants_customer_created,priority:1" json:"customer_id" cbor:"2,keyasint"`
	Status          Status                      `gorm:"column:status;type:varchar(16);not null" json:"status" cbor:"3,keyasint"`
	PlanType        string                      `gorm:"column:plan_type;type:varchar(32);not null" json:"plan_type" cbor:"4,keyasint"`
	RateLimit       int                         `gorm:"column:rate_limit;not null" json:"rate_limit" cbor:"5,keyasint"`
	FeaturesEnabled datatypes.JSONSlice[string] `gorm:"column:features_enabled" json:"features_enabled" cbor:"6,keyasint"`
	Metadata        datatypes.JSONMap           `gorm:"column:metadata" json:"metadata,omitempty" cbor:"7,keyasint,omitempty"`
	TrialExpiresAt  *time.Time                  `gorm:"column:trial_expires_at" json:"trial_expires_at,omitempty" cbor:"8,keyasint,omitempty"`
	CreatedAt       time.Time                   `gorm:"column:created_at;not null;index:ix_tenants_customer_created,priority:2" json:"created_at" cbor:"9,keyasint"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at;not null" json:"updated_at" cbor:"10,keyasint"`
}

// TableName sets the database table name.
func (Tenant) TableName() string { return "tenants" }

// CanIngest reports whether events may be accepted for this tenant. Trial
// expiry is not enforced here.
func (t *Tenant) CanIngest() bool {
	if t == nil {
		return false
	}
	return t.Status == StatusActive || t.Status == StatusTrial
}

func (t *Tenant) HasFeature(feature string) bool {
	if t == nil {
		return false
	}
	return slices.Contains([]string(t.FeaturesEnabled), feature)
}

func (t *Tenant) IsTrial() bool {
	return t != nil && t.Status == StatusTrial
}
