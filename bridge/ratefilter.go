package bridge

import (
	"sync/atomic"
	"time"
)

// RateFilter drops samples that arrive sooner than the interval after the
// last accepted one. Allow must only be called from one goroutine; the
// interval may be changed concurrently.
type RateFilter struct {
	interval atomic.Int64
	last     time.Time
}

// NewRateFilter starts the window at start.
func NewRateFilter(interval time.Duration, start time.Time) *RateFilter {
	f := &RateFilter{last: start}
	f.SetInterval(interval)
	return f
}

// SetInterval changes the minimum spacing between accepted samples.
func (f *RateFilter) SetInterval(d time.Duration) {
	if d < 0 {
		d = 0
	}
	f.interval.Store(int64(d))
}

// Interval returns the current minimum spacing.
func (f *RateFilter) Interval() time.Duration {
	return time.Duration(f.interval.Load())
}

// Allow reports whether a sample at now is accepted. Rejected samples do not
// move the window.
func (f *RateFilter) Allow(now time.Time) bool {
	interval := f.Interval()
	if interval > 0 && now.Sub(f.last) < interval {
		return false
	}
	f.last = now
	return true
}
