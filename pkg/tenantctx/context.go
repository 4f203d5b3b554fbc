package tenantctx

import (
	"context"
	"strings"
)

type keyType string

const (
	APIKeyKey   keyType = "api_key"
	PlanTypeKey keyType = "plan_type"
)

// WithAPIKey stores the caller's API key on the context.
func WithAPIKey(ctx context.Context, apiKey string) context.Context {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ctx
	}
	return context.WithValue(ctx, APIKeyKey, apiKey)
}

func APIKey(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	key, ok := ctx.Value(APIKeyKey).(string)
	return key, ok && key != ""
}

func WithPlanType(ctx context.Context, planType string) context.Context {
	return context.WithValue(ctx, PlanTypeKey, strings.TrimSpace(planType))
}

func PlanType(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	plan, ok := ctx.Value(PlanTypeKey).(string)
	return plan, ok && plan != ""
}

// Mask keeps the non-secret prefix of a key for logs and metric labels.
// Keys look like ak_<8 hex>_<32 hex>; only "ak_<8 hex>" is retained.
func Mask(apiKey string) string {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ""
	}
	if idx := strings.LastIndex(apiKey, "_"); idx > 0 && idx < len(apiKey)-1 {
		return apiKey[:idx] + "_***"
	}
	if len(apiKey) <= 6 {
		return "***"
	}
	return apiKey[:6] + "***"
}
