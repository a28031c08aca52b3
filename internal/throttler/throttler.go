// Package throttler decides when calls to a quota-limited provider may happen.
//
// A Strategy observes the provider's quota window through an Adapter and the
// recent call volume of every registered Task. From those it computes a global
// delay between remote calls and a cache timeout for each periodically polled
// task. Explicit rate-limit rejections switch the strategy into the Suspended
// flow, which holds every task on its cached value until the provider accepts
// calls again.
package throttler

//go:generate mockgen -package throttler -source throttler.go -destination throttler_mock.go

import "time"

// Flow is the operating mode of a Strategy.
type Flow int

const (
	// FlowNormal is the initial mode: fair-share pacing only.
	FlowNormal Flow = iota
	// FlowSuspended follows a provider rejection until a call succeeds again.
	FlowSuspended
)

func (f Flow) String() string {
	switch f {
	case FlowNormal:
		return "normal"
	case FlowSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Source records who caused a cache timeout or reset.
type Source int

const (
	// SourceAdapter marks changes caused by an explicit provider rejection.
	SourceAdapter Source = iota
	// SourceThrottler marks changes made by the fair-share allocation.
	SourceThrottler
)

func (s Source) String() string {
	switch s {
	case SourceAdapter:
		return "adapter"
	case SourceThrottler:
		return "throttler"
	default:
		return "unknown"
	}
}

// ExecutionType tells how a task is scheduled.
type ExecutionType int

const (
	// ExecutionPeriodical tasks are polled on a recurring schedule.
	ExecutionPeriodical ExecutionType = iota
	// ExecutionOnDemand tasks run only when somebody asks for their value.
	ExecutionOnDemand
)

func (e ExecutionType) String() string {
	switch e {
	case ExecutionPeriodical:
		return "periodical"
	case ExecutionOnDemand:
		return "on_demand"
	default:
		return "unknown"
	}
}

// ParseExecutionType is the inverse of ExecutionType.String.
func ParseExecutionType(s string) (ExecutionType, bool) {
	switch s {
	case "periodical":
		return ExecutionPeriodical, true
	case "on_demand":
		return ExecutionOnDemand, true
	default:
		return 0, false
	}
}

// Statistics is a snapshot of one task's activity since a window start.
type Statistics struct {
	// LastCallTime is the time of the most recent execution, if any.
	LastCallTime *time.Time `json:"last_call_time,omitempty"`
	// ExecutionCount is the number of executions queued or performed.
	ExecutionCount *int64 `json:"execution_count,omitempty"`
	// TotalCallCount is the number of remote reads those executions issued.
	TotalCallCount int64 `json:"total_call_count"`
}

// QuotaSnapshot is the provider's rate-limit window as seen by one pass.
type QuotaSnapshot struct {
	DefaultReads   int64
	RemainingReads int64
	WindowStart    time.Time
	WindowWidth    time.Duration
}

// Adapter exposes the provider's quota window and accepts the global delay.
// The getters may change between calls.
type Adapter interface {
	DefaultReads() int64
	RemainingReads() int64
	WindowStart() time.Time
	WindowWidth() time.Duration
	// SetThrottlerTime sets the minimum delay before the next remote call.
	SetThrottlerTime(delay time.Duration)
}

// Task is the narrow view of a throttled unit of work.
type Task interface {
	ID() string
	ExecutionType() ExecutionType
	Statistics(windowStart time.Time) Statistics
	SetCacheTimeout(timeout time.Duration, source Source)
	ResetCache(source Source)
}

// TaskContainer holds the registered tasks. Tasks must return a copy that
// stays stable while the caller iterates it.
type TaskContainer interface {
	Tasks() []Task
}
