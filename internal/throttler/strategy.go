package throttler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SafetyMargin is added to every provider retry hint before tasks may call
// the provider again.
const SafetyMargin = 5 * time.Second

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger used for flow transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Strategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Strategy is the throttling state machine. All exported methods are
// serialized by one mutex, so reconciliation and transport notifications may
// arrive from different goroutines.
type Strategy struct {
	adapter Adapter
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	container TaskContainer
	flow      Flow
}

// NewStrategy creates a Strategy in FlowNormal. The container is supplied
// later through SetContainer.
func NewStrategy(adapter Adapter, config Config, opts ...Option) (*Strategy, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: adapter is required", ErrInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Strategy{
		adapter: adapter,
		config:  config,
		logger:  slog.Default(),
		flow:    FlowNormal,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetContainer attaches the task container the strategy operates on.
func (s *Strategy) SetContainer(container TaskContainer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.container = container
}

// Flow returns the current mode.
func (s *Strategy) Flow() Flow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flow
}

// Config returns the allocation settings.
func (s *Strategy) Config() Config {
	return s.config
}

// ApplyTaskChanges pushes the global delay to the adapter and assigns cache
// timeouts to periodical tasks. It never changes the flow.
func (s *Strategy) ApplyTaskChanges() {
	s.mu.Lock()
	defer s.mu.Unlock()

	quota := QuotaSnapshot{
		DefaultReads:   s.adapter.DefaultReads(),
		RemainingReads: s.adapter.RemainingReads(),
		WindowStart:    s.adapter.WindowStart(),
		WindowWidth:    s.adapter.WindowWidth(),
	}

	delay := throttlerTime(quota, s.config.AggressiveThrottlingPercent)
	s.adapter.SetThrottlerTime(delay)

	tasks := s.tasks()
	if len(tasks) == 0 {
		return
	}

	type periodicalTask struct {
		task  Task
		stats Statistics
	}
	var (
		periodical      []periodicalTask
		periodicalReads int64
		onDemandReads   int64
	)
	for _, task := range tasks {
		stats := task.Statistics(quota.WindowStart)
		switch task.ExecutionType() {
		case ExecutionPeriodical:
			periodical = append(periodical, periodicalTask{task: task, stats: stats})
			periodicalReads += stats.TotalCallCount
		case ExecutionOnDemand:
			onDemandReads += stats.TotalCallCount
		}
	}

	alloc := newAllocation(quota, s.config, periodicalReads, onDemandReads)
	for _, p := range periodical {
		p.task.SetCacheTimeout(alloc.timeout(p.stats), SourceThrottler)
	}

	s.logger.Debug("Applied throttler changes",
		"throttler_time", delay,
		"default_reads", quota.DefaultReads,
		"remaining_reads", quota.RemainingReads,
		"periodical_tasks", len(periodical),
		"periodical_reads", periodicalReads,
		"on_demand_reads", onDemandReads,
		"periodical_reads_left", alloc.left,
	)
}

// NotifyRateLimitReached holds every task on its cache for the retry hint
// plus SafetyMargin and suspends the strategy. Repeated rejections re-apply
// the newest hint.
func (s *Strategy) NotifyRateLimitReached(retryAfter time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retryAfter < 0 {
		retryAfter = 0
	}
	timeout := retryAfter + SafetyMargin
	for _, task := range s.tasks() {
		task.SetCacheTimeout(timeout, SourceAdapter)
	}

	if s.flow != FlowSuspended {
		s.logger.Warn("Provider rate limit reached, suspending tasks", "retry_after", retryAfter, "timeout", timeout)
	}
	s.flow = FlowSuspended
}

// NotifyCompleted reports a successful call after a rejection. Only the first
// notification after a suspension has an effect.
func (s *Strategy) NotifyCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.flow != FlowSuspended {
		return
	}
	for _, task := range s.tasks() {
		task.ResetCache(SourceThrottler)
	}
	s.flow = FlowNormal
	s.logger.Info("Provider accepted calls again, resuming normal flow")
}

func (s *Strategy) tasks() []Task {
	if s.container == nil {
		return nil
	}
	return s.container.Tasks()
}
