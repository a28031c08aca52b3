// Package task implements cacheable read tasks whose lifetimes are steered by
// the throttler, and the registry that owns them.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"quotaguard/internal/throttler"
)

// CallRecorder counts remote calls issued by one execution.
type CallRecorder interface {
	RecordCall()
}

// Query performs one execution of a task. It must call RecordCall once per
// remote request it issues.
type Query[T any] func(ctx context.Context, calls CallRecorder) (T, error)

// FetchHook is invoked after every successful execution.
type FetchHook func(id string, value any, fetchedAt time.Time)

// Result is the outcome of Fetch.
type Result struct {
	Value     any
	FetchedAt time.Time
	// Cached is set when the value came from the cache without an execution.
	Cached bool
	// Stale is set when the value outlived its lifetime: served during a
	// penalty window or after a failed execution.
	Stale bool
}

// Entry is the type-erased view of a task used by the container and engine.
type Entry interface {
	throttler.Task
	Fetch(ctx context.Context) (Result, error)
	Seed(raw json.RawMessage, fetchedAt time.Time) error
	RefreshIn() time.Duration
	Info(windowStart time.Time) Info
}

// Info describes a task for status reporting.
type Info struct {
	ID               string               `json:"id"`
	ExecutionType    string               `json:"execution_type"`
	TTL              time.Duration        `json:"ttl"`
	ThrottlerTimeout time.Duration        `json:"throttler_timeout"`
	EffectiveTTL     time.Duration        `json:"effective_ttl"`
	PenaltyUntil     *time.Time           `json:"penalty_until,omitempty"`
	FetchedAt        *time.Time           `json:"fetched_at,omitempty"`
	HasValue         bool                 `json:"has_value"`
	Statistics       throttler.Statistics `json:"statistics"`
}

// Config describes a task.
type Config struct {
	ID               string
	ExecutionType    throttler.ExecutionType
	TTL              time.Duration
	HistoryRetention time.Duration
}

// ExecutionTimeout bounds one shared execution of a query.
const ExecutionTimeout = 2 * time.Minute

// Option configures a Task.
type Option func(*options)

type options struct {
	clock     clockwork.Clock
	logger    *slog.Logger
	onFetched FetchHook
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithOnFetched registers a hook called with every fresh value.
func WithOnFetched(hook FetchHook) Option {
	return func(o *options) { o.onFetched = hook }
}

// Task caches the result of a Query.
type Task[T any] struct {
	id            string
	executionType throttler.ExecutionType
	baseTTL       time.Duration
	query         Query[T]
	clock         clockwork.Clock
	logger        *slog.Logger
	onFetched     FetchHook
	group         singleflight.Group

	mu               sync.Mutex
	value            T
	hasValue         bool
	fetchedAt        time.Time
	throttlerTimeout time.Duration
	penaltyUntil     time.Time
	history          history
}

var _ Entry = (*Task[int])(nil)

// New creates a task. The ID must be non-empty and the TTL non-negative.
func New[T any](cfg Config, query Query[T], opts ...Option) (*Task[T], error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("task id is required")
	}
	if query == nil {
		return nil, fmt.Errorf("task %s: query is required", cfg.ID)
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("task %s: ttl cannot be negative", cfg.ID)
	}
	o := options{clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	retention := cfg.HistoryRetention
	if retention == 0 {
		retention = DefaultHistoryRetention
	}
	return &Task[T]{
		id:            cfg.ID,
		executionType: cfg.ExecutionType,
		baseTTL:       cfg.TTL,
		query:         query,
		clock:         o.clock,
		logger:        o.logger.With("task_id", cfg.ID),
		onFetched:     o.onFetched,
		history:       history{retention: retention},
	}, nil
}

func (t *Task[T]) ID() string {
	return t.id
}

func (t *Task[T]) ExecutionType() throttler.ExecutionType {
	return t.executionType
}

func (t *Task[T]) Statistics(windowStart time.Time) throttler.Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history.prune(t.clock.Now())
	return t.history.statistics(windowStart)
}

// SetCacheTimeout applies a lifetime change. Adapter timeouts open a penalty
// window; throttler timeouts extend the cache lifetime.
func (t *Task[T]) SetCacheTimeout(timeout time.Duration, source throttler.Source) {
	if timeout < 0 {
		timeout = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	switch source {
	case throttler.SourceAdapter:
		t.penaltyUntil = t.clock.Now().Add(timeout)
	case throttler.SourceThrottler:
		t.throttlerTimeout = timeout
	}
}

// ResetCache clears penalty and throttler timeout. A throttler reset also
// evicts the cached value; an adapter reset keeps it as a stale fallback.
func (t *Task[T]) ResetCache(source throttler.Source) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.penaltyUntil = time.Time{}
	t.throttlerTimeout = 0
	if source == throttler.SourceThrottler {
		var zero T
		t.value = zero
		t.hasValue = false
		t.fetchedAt = time.Time{}
	}
}

// Get returns the cached value or executes the query.
func (t *Task[T]) Get(ctx context.Context) (T, error) {
	res, err := t.Fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.Value.(T)
	return v, nil
}

// Fetch returns the cached value when it is still valid, or during a
// penalty window; otherwise it executes the query. Concurrent fetches share
// one execution.
func (t *Task[T]) Fetch(ctx context.Context) (Result, error) {
	t.mu.Lock()
	now := t.clock.Now()
	if now.Before(t.penaltyUntil) {
		defer t.mu.Unlock()
		if t.hasValue {
			return Result{Value: t.value, FetchedAt: t.fetchedAt, Cached: true, Stale: true}, nil
		}
		return Result{}, &ThrottledError{TaskID: t.id, RetryAfter: t.penaltyUntil.Sub(now)}
	}
	if t.hasValue && now.Before(t.fetchedAt.Add(t.effectiveTTLLocked())) {
		defer t.mu.Unlock()
		return Result{Value: t.value, FetchedAt: t.fetchedAt, Cached: true}, nil
	}
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	// The shared execution outlives any single caller: a caller that goes
	// away stops waiting but does not cancel the others.
	ch := t.group.DoChan(t.id, func() (interface{}, error) {
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ExecutionTimeout)
		defer cancel()
		return t.execute(execCtx)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (t *Task[T]) execute(ctx context.Context) (Result, error) {
	recorder := &callCounter{}
	started := t.clock.Now()
	value, err := t.query(ctx, recorder)
	finished := t.clock.Now()

	t.mu.Lock()
	t.history.add(started, recorder.count.Load())
	t.history.prune(finished)
	if err != nil {
		defer t.mu.Unlock()
		if t.hasValue {
			t.logger.Warn("Execution failed, serving previous value", "error", err, "fetched_at", t.fetchedAt)
			return Result{Value: t.value, FetchedAt: t.fetchedAt, Cached: true, Stale: true}, nil
		}
		return Result{}, fmt.Errorf("executing task %s: %w", t.id, err)
	}
	t.value = value
	t.hasValue = true
	t.fetchedAt = finished
	hook := t.onFetched
	t.mu.Unlock()

	t.logger.Debug("Task executed", "calls", recorder.count.Load(), "duration", finished.Sub(started))
	if hook != nil {
		hook(t.id, value, finished)
	}
	return Result{Value: value, FetchedAt: finished}, nil
}

// Seed installs a persisted value unless the task already holds one.
func (t *Task[T]) Seed(raw json.RawMessage, fetchedAt time.Time) error {
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		return fmt.Errorf("decoding cached value for task %s: %w", t.id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hasValue {
		return nil
	}
	t.value = value
	t.hasValue = true
	t.fetchedAt = fetchedAt
	return nil
}

// RefreshIn reports how long until the task needs another execution.
func (t *Task[T]) RefreshIn() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if now.Before(t.penaltyUntil) {
		return t.penaltyUntil.Sub(now)
	}
	if !t.hasValue {
		return 0
	}
	if d := t.fetchedAt.Add(t.effectiveTTLLocked()).Sub(now); d > 0 {
		return d
	}
	return 0
}

func (t *Task[T]) Info(windowStart time.Time) Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	t.history.prune(now)
	info := Info{
		ID:               t.id,
		ExecutionType:    t.executionType.String(),
		TTL:              t.baseTTL,
		ThrottlerTimeout: t.throttlerTimeout,
		EffectiveTTL:     t.effectiveTTLLocked(),
		HasValue:         t.hasValue,
		Statistics:       t.history.statistics(windowStart),
	}
	if now.Before(t.penaltyUntil) {
		until := t.penaltyUntil
		info.PenaltyUntil = &until
	}
	if t.hasValue {
		at := t.fetchedAt
		info.FetchedAt = &at
	}
	return info
}

func (t *Task[T]) effectiveTTLLocked() time.Duration {
	if t.throttlerTimeout > t.baseTTL {
		return t.throttlerTimeout
	}
	return t.baseTTL
}

type callCounter struct {
	count atomic.Int64
}

func (c *callCounter) RecordCall() {
	c.count.Inc()
}
