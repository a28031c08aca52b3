package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"quotaguard/internal/logger"
	"quotaguard/internal/models"
	"quotaguard/internal/observability"
	"quotaguard/internal/provider"
	"quotaguard/internal/quota"
	"quotaguard/internal/storage"
	"quotaguard/internal/task"
	"quotaguard/internal/throttler"
)

type recordingMetrics struct {
	mu         sync.Mutex
	lookups    map[string]int
	rejections int
	recoveries int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{lookups: make(map[string]int)}
}

func (m *recordingMetrics) RecordLookup(_ context.Context, taskID, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[taskID+"/"+outcome]++
}

func (m *recordingMetrics) RecordRejection(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejections++
}

func (m *recordingMetrics) RecordRecovery(context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recoveries++
}

func (m *recordingMetrics) lookup(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups[key]
}

// stubQuery returns the configured value or error and counts executions.
type stubQuery struct {
	calls atomic.Int64
	mu    sync.Mutex
	value []string
	err   error
}

func (q *stubQuery) set(value []string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.value, q.err = value, err
}

func (q *stubQuery) run(_ context.Context, calls task.CallRecorder) ([]string, error) {
	q.calls.Inc()
	calls.RecordCall()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.value, q.err
}

type fixture struct {
	clock   clockwork.FakeClock
	adapter *quota.Adapter
	store   storage.Storage
	metrics *recordingMetrics
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	adapter, err := quota.New(quota.Config{DefaultReads: 1000, WindowWidth: time.Hour}, quota.WithClock(clock))
	require.NoError(t, err)
	strategy, err := throttler.NewStrategy(adapter, throttler.DefaultConfig(), throttler.WithLogger(logger.Discard()))
	require.NoError(t, err)
	store, err := storage.NewMemoryStorage(storage.Config{})
	require.NoError(t, err)
	metrics := newRecordingMetrics()

	svc, err := New(Config{ReconcileInterval: 30 * time.Second, MinRefreshInterval: 5 * time.Second},
		strategy, adapter, task.NewContainer(),
		WithStorage(store), WithMetrics(metrics), WithClock(clock), WithLogger(logger.Discard()))
	require.NoError(t, err)

	return &fixture{clock: clock, adapter: adapter, store: store, metrics: metrics, svc: svc}
}

func (f *fixture) addTask(t *testing.T, id string, executionType throttler.ExecutionType, ttl time.Duration, q *stubQuery) *task.Task[[]string] {
	t.Helper()
	tk, err := task.New(task.Config{ID: id, ExecutionType: executionType, TTL: ttl}, q.run,
		task.WithClock(f.clock), task.WithLogger(logger.Discard()), task.WithOnFetched(f.svc.Persist))
	require.NoError(t, err)
	require.NoError(t, f.svc.Register(context.Background(), tk))
	return tk
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := New(Config{ReconcileInterval: time.Second}, nil, f.adapter, task.NewContainer())
	assert.Error(t, err)

	strategy, err := throttler.NewStrategy(f.adapter, throttler.DefaultConfig())
	require.NoError(t, err)
	_, err = New(Config{}, strategy, f.adapter, task.NewContainer())
	assert.Error(t, err)

	svc, err := New(Config{ReconcileInterval: time.Second}, strategy, f.adapter, task.NewContainer())
	require.NoError(t, err)
	assert.Equal(t, DefaultMinRefreshInterval, svc.cfg.MinRefreshInterval)
}

func TestFetch_MissThenHitAndPersist(t *testing.T) {
	f := newFixture(t)
	q := &stubQuery{value: []string{"westeurope", "northeurope"}}
	f.addTask(t, "locations", throttler.ExecutionOnDemand, time.Minute, q)
	ctx := context.Background()

	first, err := f.svc.Fetch(ctx, "locations")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.JSONEq(t, `["westeurope","northeurope"]`, string(first.Value))

	second, err := f.svc.Fetch(ctx, "locations")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.False(t, second.Stale)
	assert.Equal(t, int64(1), q.calls.Load())

	assert.Equal(t, 1, f.metrics.lookup("locations/"+observability.LookupMiss))
	assert.Equal(t, 1, f.metrics.lookup("locations/"+observability.LookupHit))

	stored, err := f.store.Load(ctx, "locations")
	require.NoError(t, err)
	assert.JSONEq(t, `["westeurope","northeurope"]`, string(stored.Payload))
	assert.True(t, f.clock.Now().Equal(stored.FetchedAt))
}

func TestRegister_SeedsFromStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	fetchedAt := f.clock.Now().Add(-10 * time.Second)
	require.NoError(t, f.store.Save(ctx, &models.CacheEntry{
		TaskID: "subscriptions", Payload: json.RawMessage(`["sub-a"]`), FetchedAt: fetchedAt,
	}))

	q := &stubQuery{value: []string{"sub-b"}}
	f.addTask(t, "subscriptions", throttler.ExecutionOnDemand, time.Minute, q)

	got, err := f.svc.Fetch(ctx, "subscriptions")
	require.NoError(t, err)
	assert.True(t, got.Cached)
	assert.JSONEq(t, `["sub-a"]`, string(got.Value))
	assert.Zero(t, q.calls.Load())
}

func TestRegister_IgnoresUndecodableStoredValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Save(ctx, &models.CacheEntry{
		TaskID: "subscriptions", Payload: json.RawMessage(`{"not":"a list"}`), FetchedAt: f.clock.Now(),
	}))

	q := &stubQuery{value: []string{"sub-b"}}
	f.addTask(t, "subscriptions", throttler.ExecutionOnDemand, time.Minute, q)

	got, err := f.svc.Fetch(ctx, "subscriptions")
	require.NoError(t, err)
	assert.JSONEq(t, `["sub-b"]`, string(got.Value))
}

func TestRegister_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "a", throttler.ExecutionOnDemand, 0, &stubQuery{})

	dup, err := task.New(task.Config{ID: "a"}, (&stubQuery{}).run)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Register(context.Background(), dup), task.ErrDuplicateTask)
}

func TestFetch_UnknownTask(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Fetch(context.Background(), "missing")
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusNotFound, svcErr.StatusCode)
	assert.Equal(t, models.ErrorCodeTaskNotFound, svcErr.Code)

	_, err = f.svc.Task("missing")
	assert.ErrorAs(t, err, &svcErr)
	assert.ErrorAs(t, f.svc.Reset(context.Background(), "missing"), &svcErr)
}

func TestFetch_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantRetry  time.Duration
	}{
		{
			name:       "provider rejection",
			err:        &provider.RateLimitError{Path: "/subscriptions", RetryAfter: 20 * time.Second},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   models.ErrorCodeThrottled,
			wantRetry:  20 * time.Second,
		},
		{
			name:       "provider failure",
			err:        &provider.StatusError{Path: "/subscriptions", StatusCode: 500},
			wantStatus: http.StatusBadGateway,
			wantCode:   models.ErrorCodeUpstreamError,
		},
		{
			name:       "cancelled",
			err:        context.Canceled,
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   models.ErrorCodeServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.addTask(t, "subs", throttler.ExecutionOnDemand, time.Minute, &stubQuery{err: tt.err})

			_, err := f.svc.Fetch(context.Background(), "subs")
			var svcErr *ServiceError
			require.ErrorAs(t, err, &svcErr)
			assert.Equal(t, tt.wantStatus, svcErr.StatusCode)
			assert.Equal(t, tt.wantCode, svcErr.Code)
			assert.Equal(t, tt.wantRetry, svcErr.RetryAfter)
			assert.True(t, errors.Is(err, tt.err) || errors.As(err, new(*provider.RateLimitError)) || errors.As(err, new(*provider.StatusError)))
			assert.Equal(t, 1, f.metrics.lookup("subs/"+observability.LookupError))
		})
	}
}

func TestRateLimitAndRecovery(t *testing.T) {
	f := newFixture(t)
	withValue := &stubQuery{value: []string{"vm-1"}}
	f.addTask(t, "vms", throttler.ExecutionPeriodical, time.Second, withValue)
	empty := &stubQuery{value: []string{"net-1"}}
	f.addTask(t, "networks", throttler.ExecutionOnDemand, time.Minute, empty)
	ctx := context.Background()

	_, err := f.svc.Fetch(ctx, "vms")
	require.NoError(t, err)

	f.svc.RateLimitReached(10 * time.Second)
	assert.Equal(t, "suspended", f.svc.Status().Flow)
	assert.True(t, f.svc.Gauges().Suspended)

	// The held value is served stale while the penalty lasts.
	f.clock.Advance(2 * time.Second)
	got, err := f.svc.Fetch(ctx, "vms")
	require.NoError(t, err)
	assert.True(t, got.Stale)
	assert.Equal(t, int64(1), withValue.calls.Load())

	// Without a value the caller is told when to come back.
	_, err = f.svc.Fetch(ctx, "networks")
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusTooManyRequests, svcErr.StatusCode)
	assert.Equal(t, 10*time.Second+throttler.SafetyMargin-2*time.Second, svcErr.RetryAfter)
	assert.Zero(t, empty.calls.Load())

	f.svc.Recovered()
	f.svc.Recovered()
	assert.Equal(t, "normal", f.svc.Status().Flow)
	assert.Equal(t, 1, f.metrics.rejections)
	assert.Equal(t, 1, f.metrics.recoveries)

	// Recovery evicts cached values so the next fetch executes again.
	got, err = f.svc.Fetch(ctx, "vms")
	require.NoError(t, err)
	assert.False(t, got.Cached)
	assert.Equal(t, int64(2), withValue.calls.Load())
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	q := &stubQuery{value: []string{"rg-1"}}
	f.addTask(t, "groups", throttler.ExecutionPeriodical, time.Hour, q)
	ctx := context.Background()

	_, err := f.svc.Fetch(ctx, "groups")
	require.NoError(t, err)
	_, err = f.store.Load(ctx, "groups")
	require.NoError(t, err)

	require.NoError(t, f.svc.Reset(ctx, "groups"))

	_, err = f.store.Load(ctx, "groups")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	info, err := f.svc.Task("groups")
	require.NoError(t, err)
	assert.False(t, info.HasValue)

	_, err = f.svc.Fetch(ctx, "groups")
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.calls.Load())
}

func TestStatusAndTasks(t *testing.T) {
	f := newFixture(t)
	f.addTask(t, "groups", throttler.ExecutionPeriodical, time.Minute, &stubQuery{value: []string{"a"}})
	f.addTask(t, "sizes", throttler.ExecutionOnDemand, time.Hour, &stubQuery{value: []string{"b"}})

	_, err := f.svc.Fetch(context.Background(), "groups")
	require.NoError(t, err)

	status := f.svc.Status()
	assert.Equal(t, "normal", status.Flow)
	assert.Equal(t, int64(1000), status.DefaultReads)
	assert.Equal(t, time.Hour, status.WindowWidth)
	assert.Equal(t, 2, status.TaskCount)
	assert.Equal(t, 50, status.Config.OnDemandReservationPercent)

	tasks := f.svc.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "groups", tasks[0].ID)
	assert.Equal(t, "periodical", tasks[0].ExecutionType)
	assert.True(t, tasks[0].HasValue)
	require.NotNil(t, tasks[0].Statistics.ExecutionCount)
	assert.Equal(t, int64(1), *tasks[0].Statistics.ExecutionCount)
	assert.Equal(t, int64(1), tasks[0].Statistics.TotalCallCount)
	assert.Equal(t, "on_demand", tasks[1].ExecutionType)
	assert.False(t, tasks[1].HasValue)

	gauges := f.svc.Gauges()
	assert.Equal(t, int64(1000), gauges.RemainingReads)
	assert.Contains(t, gauges.TaskTimeouts, "sizes")
}

func TestReconcile_AppliesDelay(t *testing.T) {
	f := newFixture(t)
	header := http.Header{}
	header.Set(quota.DefaultRemainingReadsHeader, "50")
	f.adapter.Observe(header)

	f.svc.Reconcile()

	// 95% of the window is used, above the aggressive threshold.
	assert.Equal(t, time.Hour/50, f.svc.Status().ThrottlerTime)
}

func TestRun_RefreshesPeriodicalTasks(t *testing.T) {
	f := newFixture(t)
	periodical := &stubQuery{value: []string{"vm"}}
	f.addTask(t, "vms", throttler.ExecutionPeriodical, time.Minute, periodical)
	onDemand := &stubQuery{value: []string{"size"}}
	f.addTask(t, "sizes", throttler.ExecutionOnDemand, time.Minute, onDemand)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	require.Eventually(t, func() bool { return periodical.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		f.clock.Advance(30 * time.Second)
		return periodical.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	assert.Zero(t, onDemand.calls.Load())
}

func TestPersist_WithoutStorage(t *testing.T) {
	f := newFixture(t)
	f.svc.storage = nil

	assert.NotPanics(t, func() { f.svc.Persist("x", []string{"a"}, time.Now()) })
	assert.NoError(t, f.svc.Ping(context.Background()))
}

func TestDrain_StopsPersistence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.svc.Persist("before", []string{"a"}, f.clock.Now())
	_, err := f.store.Load(ctx, "before")
	require.NoError(t, err)

	f.svc.Drain()
	f.svc.Persist("after", []string{"b"}, f.clock.Now())
	_, err = f.store.Load(ctx, "after")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestServiceError(t *testing.T) {
	inner := errors.New("boom")
	err := NewUpstreamError("task failed", inner)
	assert.Equal(t, "task failed: boom", err.Error())
	assert.ErrorIs(t, err, inner)

	assert.Equal(t, "task 'x' not found", NewTaskNotFoundError("x").Error())
	assert.Equal(t, http.StatusInternalServerError, NewInternalError("x", nil).StatusCode)
}
