package orchestrator

import "errors"

// Only ErrAuth and ErrRateLimited fail a request. Every other failure
// degrades the result instead.
var (
	ErrAuth        = errors.New("invalid_api_key")
	ErrRateLimited = errors.New("rate_limited")
	ErrProcessing  = errors.New("event_processing_failed")
)

const (
	ReasonInvalidKey  = "invalid or inactive API key"
	ReasonRateLimited = "rate limit exceeded"
)
