package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	PlanTrial      = "trial"
	PlanBasic      = "basic"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

const (
	FeatureBasicAnalytics   = "basic_analytics"
	FeatureIntentScoring    = "intent_scoring"
	FeatureClustering       = "clustering"
	FeatureAdvancedFeatures = "advanced_features"
	FeatureCustomModels     = "custom_models"
)

// Plan describes the limits and capabilities granted by a plan type.
type Plan struct {
	Name      string   `mapstructure:"name"`
	RateLimit int      `mapstructure:"rate_limit"`
	Features  []string `mapstructure:"features"`
}

// PlanCatalog is the set of known plans. Unknown plan types resolve to the
// trial plan.
type PlanCatalog struct {
	Plans []Plan `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []Plan{
			{Name: PlanTrial, RateLimit: 1_000, Features: []string{FeatureBasicAnalytics, FeatureIntentScoring}},
			{Name: PlanBasic, RateLimit: 10_000, Features: []string{FeatureBasicAnalytics, FeatureIntentScoring, FeatureClustering}},
			{Name: PlanPro, RateLimit: 100_000, Features: []string{FeatureBasicAnalytics, FeatureIntentScoring, FeatureClustering, FeatureAdvancedFeatures}},
			{Name: PlanEnterprise, RateLimit: 1_000_000, Features: []string{FeatureBasicAnalytics, FeatureIntentScoring, FeatureClustering, FeatureAdvancedFeatures, FeatureCustomModels}},
		},
	}
}

// Lookup returns the plan with the given name, falling back to trial.
func (c PlanCatalog) Lookup(name string) Plan {
	name = strings.ToLower(strings.TrimSpace(name))
	var trial Plan
	for _, plan := range c.Plans {
		if plan.Name == name {
			return clonePlan(plan)
		}
		if plan.Name == PlanTrial {
			trial = plan
		}
	}
	return clonePlan(trial)
}

// Known reports whether the catalogue defines the plan.
func (c PlanCatalog) Known(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, plan := range c.Plans {
		if plan.Name == name {
			return true
		}
	}
	return false
}

func clonePlan(p Plan) Plan {
	p.Features = append([]string(nil), p.Features...)
	return p
}

type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

// NewStaticPlanCatalogHolder wraps a fixed catalogue, mostly for tests.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) *PlanCatalogHolder {
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder
}

// NewPlanCatalogHolder loads plans.yml and keeps it hot-reloaded. A missing
// file yields the built-in catalogue.
func NewPlanCatalogHolder() (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/intentflow")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INTENTFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return NewStaticPlanCatalogHolder(DefaultPlanCatalog()), nil
	}

	var catalog PlanCatalog
	if err := v.Unmarshal(&catalog); err != nil {
		return nil, err
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := NewStaticPlanCatalogHolder(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.Unmarshal(&updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validatePlanCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("plans cannot be empty")
	}
	hasTrial := false
	for _, plan := range catalog.Plans {
		if strings.TrimSpace(plan.Name) == "" {
			return errors.New("plan name cannot be empty")
		}
		if plan.RateLimit < 0 {
			return fmt.Errorf("plan %s: rate_limit must not be negative", plan.Name)
		}
		if plan.Name == PlanTrial {
			hasTrial = true
		}
	}
	if !hasTrial {
		return errors.New("plans must define a trial plan")
	}
	return nil
}
