package task

import (
	"time"

	"quotaguard/internal/throttler"
)

// DefaultHistoryRetention covers two default quota windows.
const DefaultHistoryRetention = 2 * time.Hour

type execution struct {
	at    time.Time
	calls int64
}

// history keeps one entry per execution, oldest first. Callers hold the task lock.
type history struct {
	retention time.Duration
	entries   []execution
}

func (h *history) add(at time.Time, calls int64) {
	h.entries = append(h.entries, execution{at: at, calls: calls})
}

func (h *history) prune(now time.Time) {
	if h.retention <= 0 {
		return
	}
	cutoff := now.Add(-h.retention)
	i := 0
	for i < len(h.entries) && h.entries[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.entries = append(h.entries[:0], h.entries[i:]...)
	}
}

func (h *history) statistics(windowStart time.Time) throttler.Statistics {
	var stats throttler.Statistics
	var count int64
	for _, e := range h.entries {
		if e.at.Before(windowStart) {
			continue
		}
		count++
		stats.TotalCallCount += e.calls
		at := e.at
		stats.LastCallTime = &at
	}
	if count > 0 {
		stats.ExecutionCount = &count
	}
	return stats
}
