package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"quotaguard/internal/models"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a MemoryLimiter.
type Option func(*MemoryLimiter)

func WithClock(clock clockwork.Clock) Option {
	return func(m *MemoryLimiter) { m.clock = clock }
}

// MemoryLimiter keeps one token bucket per key in memory. Buckets idle for
// twice the cleanup interval are evicted by a background goroutine.
type MemoryLimiter struct {
	rate            rate.Limit
	burst           int
	limit           int
	cleanupInterval time.Duration
	clock           clockwork.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
	closed  bool
}

// NewMemoryLimiter creates a limiter allowing cfg.RequestsPerMinute with
// bursts of cfg.BurstSize (at least 1).
func NewMemoryLimiter(cfg models.RateLimitConfig, opts ...Option) (*MemoryLimiter, error) {
	if cfg.RequestsPerMinute <= 0 {
		return nil, fmt.Errorf("requests per minute must be positive, got %d", cfg.RequestsPerMinute)
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = 5 * time.Minute
	}

	m := &MemoryLimiter{
		rate:            rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute)),
		burst:           burst,
		limit:           cfg.RequestsPerMinute,
		cleanupInterval: cleanup,
		clock:           clockwork.NewRealClock(),
		buckets:         make(map[string]*bucket),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanup()
	return m, nil
}

func (m *MemoryLimiter) Allow(key string) (bool, Info) {
	now := m.clock.Now()

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	m.mu.Unlock()

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)

	info := Info{
		Limit:     m.limit,
		Remaining: int(math.Max(0, math.Floor(tokens))),
		ResetAt:   now,
	}
	if missing := float64(m.burst) - tokens; missing > 0 {
		info.ResetAt = now.Add(time.Duration(missing / float64(m.rate) * float64(time.Second)))
	}
	if !allowed {
		r := b.limiter.ReserveN(now, 1)
		info.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	return allowed, info
}

// Len reports the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

func (m *MemoryLimiter) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}

func (m *MemoryLimiter) cleanup() {
	ticker := m.clock.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.Chan():
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	cutoff := m.clock.Now().Add(-2 * m.cleanupInterval)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, b := range m.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(m.buckets, key)
		}
	}
}
