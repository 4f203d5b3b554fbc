package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseWindow(t *testing.T) {
	cases := []struct {
		raw, fallback string
		want          Window
	}{
		{raw: "1h", want: Window{Label: "1h", Duration: time.Hour}},
		{raw: " 7D ", want: Window{Label: "7d", Duration: 7 * 24 * time.Hour}},
		{raw: "", fallback: "30d", want: Window{Label: "30d", Duration: 30 * 24 * time.Hour}},
		{raw: "90m", fallback: "1h", want: Window{Label: "24h", Duration: 24 * time.Hour}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseWindow(tc.raw, tc.fallback), "raw=%q", tc.raw)
	}
}

func TestDimensions(t *testing.T) {
	assert.Equal(t, "platform:web", PlatformDimension(" Web "))
	assert.Equal(t, "event:unknown", EventDimension(""))
	assert.Equal(t, "cluster:3", ClusterDimension(3))
	assert.Equal(t, "intent", Kind(IntentDimension("purchase_intent")))
	assert.Equal(t, "total_events", Kind(DimensionTotalEvents))
}
