package domain

import (
	"strconv"
	"strings"
)

const (
	DimensionTotalEvents = "total_events"
	DimensionSessions    = "sessions"
	DimensionUsers       = "users"

	PrefixPlatform = "platform:"
	PrefixEvent    = "event:"
	PrefixCluster  = "cluster:"
	PrefixIntent   = "intent:"
)

func PlatformDimension(platform string) string {
	return PrefixPlatform + normalize(platform)
}

func EventDimension(eventName string) string {
	return PrefixEvent + normalize(eventName)
}

func ClusterDimension(clusterID int) string {
	return PrefixCluster + strconv.Itoa(clusterID)
}

func IntentDimension(intent string) string {
	return PrefixIntent + normalize(intent)
}

// Kind returns the bounded family of a dimension, usable as a metric label.
func Kind(dimension string) string {
	if idx := strings.IndexByte(dimension, ':'); idx > 0 {
		return dimension[:idx]
	}
	return dimension
}

func normalize(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "unknown"
	}
	return value
}
