package provider

import (
	"fmt"
	"time"
)

// RateLimitError reports a provider rejection (HTTP 429).
type RateLimitError struct {
	Path       string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s, retry after %s", e.Path, e.RetryAfter)
}

// StatusError reports any other non-2xx answer.
type StatusError struct {
	Path       string
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request %s failed with status %d: %s: %s", e.Path, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request %s failed with status %d", e.Path, e.StatusCode)
}
