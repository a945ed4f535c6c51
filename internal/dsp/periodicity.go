// internal/dsp/periodicity.go
package dsp

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// MaxQueuedEvents is the hard cap on the periodicity queue, independent of the
// time-based eviction. A safety bound, not a tuning parameter.
const MaxQueuedEvents = 20

// DetectionCallback is invoked when enough candidate events accumulate inside
// the rolling window. It runs on the pipeline worker goroutine; marshaling to
// a UI or mute-trigger context is the caller's responsibility. Must be fast
// and non-blocking.
type DetectionCallback func()

// PeriodicitySnapshot is a point-in-time view of the queue for UI polling.
type PeriodicitySnapshot struct {
	// Count is the current number of queued events
	Count int
	// OldestTimestamp is the timestamp of the front event (zero when empty)
	OldestTimestamp time.Time
}

// PeriodicityTracker confirms a snoring episode when N candidate events land
// inside a rolling time window. Events arrive in real time, so the queue is
// always in non-decreasing timestamp order and eviction only ever removes from
// the front. Owned by the single pipeline worker; no internal locking.
type PeriodicityTracker struct {
	queue []SnoreEvent

	// now is replaceable from tests
	now func() time.Time

	callbackPtr atomic.Pointer[DetectionCallback]
}

// NewPeriodicityTracker creates a tracker with an empty queue.
func NewPeriodicityTracker() *PeriodicityTracker {
	return &PeriodicityTracker{
		queue: make([]SnoreEvent, 0, MaxQueuedEvents),
		now:   time.Now,
	}
}

// SetCallback registers the detection callback. Safe to call from any
// goroutine.
func (p *PeriodicityTracker) SetCallback(cb DetectionCallback) {
	if cb == nil {
		p.callbackPtr.Store(nil)
	} else {
		p.callbackPtr.Store(&cb)
	}
}

// OnEvent appends one candidate event, evicts stale events, and fires the
// detection callback when the configured count is reached inside the rolling
// window. Returns true when this call confirmed a detection. After a
// confirmation the queue is cleared, so the count restarts from zero - a
// deliberate cool-down, not a bug.
func (p *PeriodicityTracker) OnEvent(event SnoreEvent, t Thresholds) bool {
	if len(p.queue) >= MaxQueuedEvents {
		copy(p.queue, p.queue[1:])
		p.queue = p.queue[:len(p.queue)-1]
	}
	p.queue = append(p.queue, event)

	// Evict events that fell out of the rolling window before counting, so a
	// stale event never contributes to a confirmation.
	cutoff := p.now().Add(-time.Duration(t.PeriodicityWindowSeconds) * time.Second)
	evict := 0
	for evict < len(p.queue) && p.queue[evict].Timestamp.Before(cutoff) {
		evict++
	}
	if evict > 0 {
		copy(p.queue, p.queue[evict:])
		p.queue = p.queue[:len(p.queue)-evict]
	}

	if len(p.queue) < t.PeriodicityEventCount {
		return false
	}

	slog.Info("snoring episode confirmed",
		"events_in_window", len(p.queue),
		"window_seconds", t.PeriodicityWindowSeconds)

	if cb := p.callbackPtr.Load(); cb != nil {
		(*cb)()
	}
	p.queue = p.queue[:0]
	return true
}

// Snapshot returns the current queue length and the oldest queued timestamp
// for UI polling.
func (p *PeriodicityTracker) Snapshot() PeriodicitySnapshot {
	s := PeriodicitySnapshot{Count: len(p.queue)}
	if len(p.queue) > 0 {
		s.OldestTimestamp = p.queue[0].Timestamp
	}
	return s
}

// Reset clears the queue so a new session starts from zero.
func (p *PeriodicityTracker) Reset() {
	p.queue = p.queue[:0]
}
