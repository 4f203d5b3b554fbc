package domain

import (
	"strings"
	"time"
)

// Window is a named lookback period.
type Window struct {
	Label    string
	Duration time.Duration
}

var windows = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

// ParseWindow resolves raw, using fallback when raw is empty. Unknown labels
// resolve to 24h.
func ParseWindow(raw, fallback string) Window {
	label := strings.ToLower(strings.TrimSpace(raw))
	if label == "" {
		label = strings.ToLower(strings.TrimSpace(fallback))
	}
	if d, ok := windows[label]; ok {
		return Window{Label: label, Duration: d}
	}
	return Window{Label: "24h", Duration: 24 * time.Hour}
}
