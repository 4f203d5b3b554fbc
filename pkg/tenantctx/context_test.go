package tenantctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMask(t *testing.T) {
	assert.Equal(t, "ak_1a2b3c4d_***", Mask("ak_1a2b3c4d_0123456789abcdef0123456789abcdef"))
	assert.Equal(t, "", Mask("  "))
	assert.Equal(t, "***", Mask("short"))
	assert.Equal(t, "plainl***", Mask("plainlongkey"))
}

func TestAPIKeyRoundTrip(t *testing.T) {
	ctx := WithAPIKey(context.Background(), " ak_test ")
	key, ok := APIKey(ctx)
	assert.True(t, ok)
	assert.Equal(t, "ak_test", key)

	_, ok = APIKey(WithAPIKey(context.Background(), ""))
	assert.False(t, ok)
}
