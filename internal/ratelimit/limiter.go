// Package ratelimit limits inbound API requests per client with token buckets
// and sets the X-RateLimit-* response headers.
package ratelimit

import "time"

// Limiter decides whether the client identified by key may proceed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(key string) (allowed bool, info Info)
	Close()
}

// Info is the bucket state reported in response headers.
type Info struct {
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration // only meaningful when denied
}
