// Package quota tracks the provider's read quota window from response headers
// and paces outgoing calls with the delay chosen by the throttler.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"quotaguard/internal/throttler"
)

// DefaultRemainingReadsHeader is the header Azure Resource Manager uses to
// report the reads left in the current subscription window.
const DefaultRemainingReadsHeader = "x-ms-ratelimit-remaining-subscription-reads"

// Config describes the provider's quota window.
type Config struct {
	DefaultReads         int64
	WindowWidth          time.Duration
	RemainingReadsHeader string
}

// Snapshot is the adapter state exposed for status reporting.
type Snapshot struct {
	DefaultReads   int64         `json:"default_reads"`
	RemainingReads int64         `json:"remaining_reads"`
	WindowStart    time.Time     `json:"window_start"`
	WindowWidth    time.Duration `json:"window_width"`
	ThrottlerTime  time.Duration `json:"throttler_time"`
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(a *Adapter) {
		a.clock = clock
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// Adapter implements throttler.Adapter for a header-reporting provider.
type Adapter struct {
	clock   clockwork.Clock
	header  string
	limiter *rate.Limiter
	logger  *slog.Logger

	mu             sync.Mutex
	defaultReads   int64
	remainingReads int64
	windowStart    time.Time
	windowWidth    time.Duration
	throttlerTime  time.Duration
}

var _ throttler.Adapter = (*Adapter)(nil)

// New creates an Adapter with a full window starting now.
func New(cfg Config, opts ...Option) (*Adapter, error) {
	if cfg.DefaultReads < 0 {
		return nil, fmt.Errorf("default reads cannot be negative, got %d", cfg.DefaultReads)
	}
	if cfg.WindowWidth < 0 {
		return nil, fmt.Errorf("window width cannot be negative, got %s", cfg.WindowWidth)
	}
	header := cfg.RemainingReadsHeader
	if header == "" {
		header = DefaultRemainingReadsHeader
	}

	a := &Adapter{
		clock:        clockwork.NewRealClock(),
		header:       header,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       slog.Default(),
		defaultReads: cfg.DefaultReads,
		windowWidth:  cfg.WindowWidth,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.remainingReads = a.defaultReads
	a.windowStart = a.clock.Now()
	return a, nil
}

func (a *Adapter) DefaultReads() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	return a.defaultReads
}

func (a *Adapter) RemainingReads() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	return a.remainingReads
}

func (a *Adapter) WindowStart() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	return a.windowStart
}

func (a *Adapter) WindowWidth() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windowWidth
}

// SetThrottlerTime sets the minimum spacing between remote calls. A zero
// delay removes pacing.
func (a *Adapter) SetThrottlerTime(delay time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if delay < 0 {
		delay = 0
	}
	if delay != a.throttlerTime {
		a.logger.Debug("Throttler time changed", "previous", a.throttlerTime, "current", delay)
	}
	a.throttlerTime = delay
	if delay == 0 {
		a.limiter.SetLimit(rate.Inf)
		return
	}
	a.limiter.SetLimit(rate.Every(delay))
}

// ThrottlerTime returns the delay last set by the throttler.
func (a *Adapter) ThrottlerTime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.throttlerTime
}

// Wait blocks until the next remote call may be issued.
func (a *Adapter) Wait(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for throttler: %w", err)
	}
	return nil
}

// Observe updates the window from a provider response. Responses without the
// remaining-reads header are ignored.
func (a *Adapter) Observe(h http.Header) {
	raw := strings.TrimSpace(h.Get(a.header))
	if raw == "" {
		return
	}
	remaining, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || remaining < 0 {
		a.logger.Debug("Ignoring malformed remaining reads header", "header", a.header, "value", raw)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()

	if remaining > a.remainingReads {
		// The provider replenished the quota: a new window started.
		a.windowStart = a.clock.Now()
	}
	if remaining > a.defaultReads {
		a.defaultReads = remaining
	}
	a.remainingReads = remaining
}

// Snapshot returns the current window and delay.
func (a *Adapter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollLocked()
	return Snapshot{
		DefaultReads:   a.defaultReads,
		RemainingReads: a.remainingReads,
		WindowStart:    a.windowStart,
		WindowWidth:    a.windowWidth,
		ThrottlerTime:  a.throttlerTime,
	}
}

// rollLocked starts a fresh window once the current one has elapsed.
func (a *Adapter) rollLocked() {
	if a.windowWidth <= 0 {
		return
	}
	now := a.clock.Now()
	if now.Before(a.windowStart.Add(a.windowWidth)) {
		return
	}
	elapsed := now.Sub(a.windowStart) / a.windowWidth
	a.windowStart = a.windowStart.Add(elapsed * a.windowWidth)
	a.remainingReads = a.defaultReads
}

// ErrNoRetryHint is returned by ParseRetryAfter when the header is absent or
// unparsable.
var ErrNoRetryHint = errors.New("no retry-after hint")

// ParseRetryAfter reads the Retry-After header as delta seconds or an HTTP
// date relative to now.
func ParseRetryAfter(h http.Header, now time.Time) (time.Duration, error) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, ErrNoRetryHint
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds < 0 {
			return 0, nil
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := at.Sub(now); d > 0 {
			return d.Round(time.Second), nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrNoRetryHint, raw)
}
