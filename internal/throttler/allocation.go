package throttler

import "time"

// throttlerTime returns the global delay for a quota window. With no quota
// left the whole window is waited out; past the aggressive threshold the
// remaining reads are spread evenly over the window.
func throttlerTime(q QuotaSnapshot, aggressivePercent int) time.Duration {
	width := q.WindowWidth
	if width < 0 {
		width = 0
	}
	if q.DefaultReads <= 0 || q.RemainingReads <= 0 {
		return width
	}

	usedPercent := (q.DefaultReads - q.RemainingReads) * 100 / q.DefaultReads
	if usedPercent >= int64(aggressivePercent) {
		return width / time.Duration(q.RemainingReads)
	}
	return 0
}

// allocation is the per-pass budget split between task classes.
type allocation struct {
	width time.Duration
	// left is the number of reads periodical tasks may still spend in the
	// window. Zero or less means the periodical budget is exhausted.
	left     int64
	abundant bool
}

func newAllocation(q QuotaSnapshot, cfg Config, periodicalReads, onDemandReads int64) allocation {
	a := allocation{width: q.WindowWidth}
	if a.width < 0 {
		a.width = 0
	}
	if q.DefaultReads <= 0 || q.RemainingReads >= q.DefaultReads {
		a.abundant = true
		return a
	}

	usable := q.DefaultReads * int64(100-cfg.ReservationPercent) / 100
	free := usable - onDemandReads
	budget := free * int64(100-cfg.OnDemandReservationPercent) / 100

	a.left = budget - periodicalReads
	if q.RemainingReads < a.left {
		a.left = q.RemainingReads
	}
	return a
}

// timeout returns the cache timeout for one periodical task. Tasks spending
// more reads per execution get proportionally longer timeouts; the result is
// capped at the window width and truncated to whole seconds.
func (a allocation) timeout(stats Statistics) time.Duration {
	if a.abundant {
		return 0
	}
	if a.left <= 0 {
		return a.width.Truncate(time.Second)
	}
	if stats.ExecutionCount == nil || *stats.ExecutionCount <= 0 || stats.TotalCallCount <= 0 {
		return 0
	}

	share := float64(a.width) * float64(stats.TotalCallCount) /
		(float64(*stats.ExecutionCount) * float64(a.left))
	timeout := time.Duration(share)
	if share >= float64(a.width) {
		timeout = a.width
	}
	return timeout.Truncate(time.Second)
}
