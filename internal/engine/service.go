// Package engine runs the throttler: it owns the strategy, the task
// container and the quota adapter, keeps periodical tasks warm, persists
// fetched values and answers the API's queries.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"quotaguard/internal/models"
	"quotaguard/internal/observability"
	"quotaguard/internal/provider"
	"quotaguard/internal/quota"
	"quotaguard/internal/storage"
	"quotaguard/internal/task"
	"quotaguard/internal/throttler"
)

const (
	// DefaultMinRefreshInterval bounds how often a refresh loop may run when a
	// task has no usable lifetime.
	DefaultMinRefreshInterval = time.Second

	persistTimeout = 5 * time.Second
)

// Metrics is the subset of throttler metrics the engine records.
type Metrics interface {
	RecordLookup(ctx context.Context, taskID, outcome string)
	RecordRejection(ctx context.Context)
	RecordRecovery(ctx context.Context)
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string, string) {}
func (noopMetrics) RecordRejection(context.Context)              {}
func (noopMetrics) RecordRecovery(context.Context)               {}

// Config holds the engine cadence.
type Config struct {
	ReconcileInterval  time.Duration
	MinRefreshInterval time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithStorage enables warm-up and persistence of task values.
func WithStorage(s storage.Storage) Option {
	return func(svc *Service) { svc.storage = s }
}

func WithMetrics(m Metrics) Option {
	return func(svc *Service) {
		if m != nil {
			svc.metrics = m
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(svc *Service) { svc.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(svc *Service) {
		if logger != nil {
			svc.logger = logger
		}
	}
}

// Service is the running throttler.
type Service struct {
	cfg       Config
	strategy  *throttler.Strategy
	adapter   *quota.Adapter
	container *task.Container
	storage   storage.Storage
	metrics   Metrics
	clock     clockwork.Clock
	logger    *slog.Logger

	// persistMu is held shared by Persist and exclusively by Drain.
	persistMu sync.RWMutex
	drained   bool
}

var (
	_ provider.Listener         = (*Service)(nil)
	_ observability.GaugeSource = (*Service)(nil)
)

// New attaches container to strategy and returns the engine. Tasks are added
// with Register.
func New(cfg Config, strategy *throttler.Strategy, adapter *quota.Adapter, container *task.Container, opts ...Option) (*Service, error) {
	if strategy == nil || adapter == nil || container == nil {
		return nil, errors.New("engine: strategy, adapter and container are required")
	}
	if cfg.ReconcileInterval <= 0 {
		return nil, fmt.Errorf("engine: reconcile interval must be positive, got %s", cfg.ReconcileInterval)
	}
	if cfg.MinRefreshInterval <= 0 {
		cfg.MinRefreshInterval = DefaultMinRefreshInterval
	}

	svc := &Service{
		cfg:       cfg,
		strategy:  strategy,
		adapter:   adapter,
		container: container,
		metrics:   noopMetrics{},
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.logger = svc.logger.With("component", "engine")

	strategy.SetContainer(container)
	return svc, nil
}

// Register adds entries to the container and seeds each one from storage.
// A missing or undecodable stored value is not an error.
func (s *Service) Register(ctx context.Context, entries ...task.Entry) error {
	for _, e := range entries {
		if err := s.container.Register(e); err != nil {
			return err
		}
		s.warmUp(ctx, e)
	}
	return nil
}

func (s *Service) warmUp(ctx context.Context, e task.Entry) {
	if s.storage == nil {
		return
	}
	entry, err := s.storage.Load(ctx, e.ID())
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Warn("Failed to load cached value", "task", e.ID(), "error", err)
		return
	}
	if err := e.Seed(entry.Payload, entry.FetchedAt); err != nil {
		s.logger.Warn("Discarding cached value", "task", e.ID(), "error", err)
		return
	}
	s.logger.Info("Seeded task from storage", "task", e.ID(), "fetched_at", entry.FetchedAt)
}

// Persist stores a freshly fetched value. It has the task.FetchHook
// signature and is installed on every task with task.WithOnFetched.
func (s *Service) Persist(id string, value any, fetchedAt time.Time) {
	if s.storage == nil {
		return
	}
	s.persistMu.RLock()
	defer s.persistMu.RUnlock()
	if s.drained {
		s.logger.Debug("Dropping value fetched after drain", "task", id)
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.Error("Failed to encode task value", "task", id, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.storage.Save(ctx, &models.CacheEntry{TaskID: id, Payload: payload, FetchedAt: fetchedAt}); err != nil {
		s.logger.Error("Failed to persist task value", "task", id, "error", err)
	}
}

// Drain waits for in-flight Persist calls and makes later ones no-ops, so
// storage can be closed. Executions still running when Run returns may
// complete afterwards.
func (s *Service) Drain() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	s.drained = true
}

// RateLimitReached forwards a provider rejection to the strategy.
func (s *Service) RateLimitReached(retryAfter time.Duration) {
	s.strategy.NotifyRateLimitReached(retryAfter)
	s.metrics.RecordRejection(context.Background())
}

// Recovered forwards the first success after a rejection to the strategy.
func (s *Service) Recovered() {
	if s.strategy.Flow() == throttler.FlowSuspended {
		s.metrics.RecordRecovery(context.Background())
	}
	s.strategy.NotifyCompleted()
}

// Reconcile runs one allocation pass.
func (s *Service) Reconcile() {
	s.strategy.ApplyTaskChanges()
}

// Run reconciles every ReconcileInterval and keeps each periodical task
// refreshed until ctx is cancelled. Tasks must be registered before Run.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.reconcileLoop(ctx)
	})
	for _, e := range s.container.Entries() {
		if e.ExecutionType() != throttler.ExecutionPeriodical {
			continue
		}
		e := e
		g.Go(func() error {
			return s.refreshLoop(ctx, e)
		})
	}

	s.logger.Info("Engine started", "tasks", s.container.Len(), "reconcile_interval", s.cfg.ReconcileInterval)
	err := g.Wait()
	s.logger.Info("Engine stopped")
	return err
}

func (s *Service) reconcileLoop(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	s.Reconcile()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.Reconcile()
		}
	}
}

func (s *Service) refreshLoop(ctx context.Context, e task.Entry) error {
	log := s.logger.With("task", e.ID())
	for {
		if e.RefreshIn() <= 0 {
			if _, err := e.Fetch(ctx); err != nil {
				var throttled *task.ThrottledError
				if errors.As(err, &throttled) || ctx.Err() != nil {
					log.Debug("Refresh skipped", "error", err)
				} else {
					log.Warn("Refresh failed", "error", err)
				}
			}
		}

		wait := e.RefreshIn()
		if wait < s.cfg.MinRefreshInterval {
			wait = s.cfg.MinRefreshInterval
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.clock.After(wait):
		}
	}
}

// Status reports the strategy flow and quota window.
func (s *Service) Status() models.ThrottlerStatusResponse {
	snap := s.adapter.Snapshot()
	cfg := s.strategy.Config()
	return models.ThrottlerStatusResponse{
		Flow:           s.strategy.Flow().String(),
		DefaultReads:   snap.DefaultReads,
		RemainingReads: snap.RemainingReads,
		WindowStart:    snap.WindowStart,
		WindowWidth:    snap.WindowWidth,
		ThrottlerTime:  snap.ThrottlerTime,
		TaskCount:      s.container.Len(),
		Config: models.StrategyInfo{
			OnDemandReservationPercent:  cfg.OnDemandReservationPercent,
			ReservationPercent:          cfg.ReservationPercent,
			AggressiveThrottlingPercent: cfg.AggressiveThrottlingPercent,
		},
	}
}

// Tasks describes every registered task in registration order.
func (s *Service) Tasks() []models.TaskInfo {
	windowStart := s.adapter.WindowStart()
	entries := s.container.Entries()
	out := make([]models.TaskInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, toTaskInfo(e.Info(windowStart)))
	}
	return out
}

func (s *Service) Task(id string) (*models.TaskInfo, error) {
	e, err := s.container.Get(id)
	if err != nil {
		return nil, NewTaskNotFoundError(id)
	}
	info := toTaskInfo(e.Info(s.adapter.WindowStart()))
	return &info, nil
}

// Fetch returns the value of a task, executing it when the cache allows.
func (s *Service) Fetch(ctx context.Context, id string) (*models.TaskValueResponse, error) {
	e, err := s.container.Get(id)
	if err != nil {
		return nil, NewTaskNotFoundError(id)
	}

	res, err := e.Fetch(ctx)
	if err != nil {
		s.metrics.RecordLookup(ctx, id, observability.LookupError)
		return nil, s.mapFetchError(id, err)
	}

	outcome := observability.LookupMiss
	switch {
	case res.Stale:
		outcome = observability.LookupStale
	case res.Cached:
		outcome = observability.LookupHit
	}
	s.metrics.RecordLookup(ctx, id, outcome)

	payload, err := json.Marshal(res.Value)
	if err != nil {
		return nil, NewInternalError("failed to encode task value", err)
	}
	return &models.TaskValueResponse{
		ID:        id,
		Value:     payload,
		FetchedAt: res.FetchedAt,
		Cached:    res.Cached,
		Stale:     res.Stale,
	}, nil
}

func (s *Service) mapFetchError(id string, err error) error {
	var (
		throttled *task.ThrottledError
		limited   *provider.RateLimitError
	)
	switch {
	case errors.As(err, &throttled):
		return NewThrottledError(id, throttled.RetryAfter, err)
	case errors.As(err, &limited):
		return NewThrottledError(id, limited.RetryAfter, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewUnavailableError("request cancelled before the task completed", err)
	default:
		return NewUpstreamError(fmt.Sprintf("task '%s' failed", id), err)
	}
}

// Reset evicts the cached value of a task, in memory and in storage.
func (s *Service) Reset(ctx context.Context, id string) error {
	e, err := s.container.Get(id)
	if err != nil {
		return NewTaskNotFoundError(id)
	}
	e.ResetCache(throttler.SourceThrottler)

	if s.storage != nil {
		if err := s.storage.Delete(ctx, id); err != nil {
			return NewInternalError("failed to delete stored value", err)
		}
	}
	s.logger.Info("Task cache reset", "task", id)
	return nil
}

// Ping checks the storage backend, if any.
func (s *Service) Ping(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Ping(ctx)
}

// Gauges samples the state exported as observable gauges.
func (s *Service) Gauges() observability.GaugeSnapshot {
	snap := s.adapter.Snapshot()
	timeouts := make(map[string]time.Duration)
	for _, e := range s.container.Entries() {
		timeouts[e.ID()] = e.Info(snap.WindowStart).ThrottlerTimeout
	}
	return observability.GaugeSnapshot{
		DefaultReads:   snap.DefaultReads,
		RemainingReads: snap.RemainingReads,
		Delay:          snap.ThrottlerTime,
		Suspended:      s.strategy.Flow() == throttler.FlowSuspended,
		TaskTimeouts:   timeouts,
	}
}

func toTaskInfo(info task.Info) models.TaskInfo {
	return models.TaskInfo{
		ID:               info.ID,
		ExecutionType:    info.ExecutionType,
		TTL:              info.TTL,
		ThrottlerTimeout: info.ThrottlerTimeout,
		EffectiveTTL:     info.EffectiveTTL,
		PenaltyUntil:     info.PenaltyUntil,
		FetchedAt:        info.FetchedAt,
		HasValue:         info.HasValue,
		Statistics: models.TaskStatistics{
			LastCallTime:   info.Statistics.LastCallTime,
			ExecutionCount: info.Statistics.ExecutionCount,
			TotalCallCount: info.Statistics.TotalCallCount,
		},
	}
}
