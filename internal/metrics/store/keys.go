package store

import (
	"fmt"
	"time"
)

const (
	bucketLayout     = "200601021504"
	defaultRetention = 48 * time.Hour
)

func bucketKey(apiKey, dimension string, bucket time.Time) string {
	return fmt.Sprintf("metrics:%s:%s:%s", apiKey, dimension, bucket.UTC().Format(bucketLayout))
}

func dimsKey(apiKey string) string {
	return fmt.Sprintf("metrics:%s:dims", apiKey)
}
