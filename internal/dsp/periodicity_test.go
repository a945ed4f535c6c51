package dsp

import (
	"testing"
	"time"
)

func testEvent(at time.Time) SnoreEvent {
	return SnoreEvent{Timestamp: at, Duration: 0.5, F0Hz: 100, Energy: 0.05}
}

func newTestTracker(at time.Time) (*PeriodicityTracker, *time.Time) {
	now := at
	tr := NewPeriodicityTracker()
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestOnEvent_FiresAtCount(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(base)

	fired := 0
	tr.SetCallback(func() { fired++ })

	th := DefaultThresholds() // 4 events in 45 s

	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * 5 * time.Second)
		if tr.OnEvent(testEvent(at), th) {
			t.Fatalf("OnEvent #%d confirmed early", i+1)
		}
	}
	if fired != 0 {
		t.Fatalf("callback fired %d times before reaching the count", fired)
	}

	if !tr.OnEvent(testEvent(base.Add(15*time.Second)), th) {
		t.Fatal("OnEvent #4 should confirm the episode")
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
}

func TestOnEvent_QueueClearsAfterConfirmation(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(base)
	th := DefaultThresholds()

	for i := 0; i < 4; i++ {
		tr.OnEvent(testEvent(base.Add(time.Duration(i)*time.Second)), th)
	}

	snap := tr.Snapshot()
	if snap.Count != 0 {
		t.Errorf("Snapshot().Count after confirmation = %d, want 0 (cool-down)", snap.Count)
	}
	if !snap.OldestTimestamp.IsZero() {
		t.Errorf("OldestTimestamp = %v, want zero", snap.OldestTimestamp)
	}
}

func TestOnEvent_StaleEventsEvicted(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(base)
	th := DefaultThresholds()

	// Three events early in the window.
	for i := 0; i < 3; i++ {
		tr.OnEvent(testEvent(base.Add(time.Duration(i)*time.Second)), th)
	}

	// The fourth arrives after the first three fell out of the 45 s window:
	// no confirmation, queue holds only the fresh event.
	*now = base.Add(60 * time.Second)
	if tr.OnEvent(testEvent(*now), th) {
		t.Error("stale events must not contribute to a confirmation")
	}

	snap := tr.Snapshot()
	if snap.Count != 1 {
		t.Errorf("Snapshot().Count = %d, want 1 after eviction", snap.Count)
	}
	if !snap.OldestTimestamp.Equal(*now) {
		t.Errorf("OldestTimestamp = %v, want %v", snap.OldestTimestamp, *now)
	}
}

func TestOnEvent_EvictionBeforeCounting(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(base)

	th := DefaultThresholds()
	th.PeriodicityEventCount = 2
	th.PeriodicityWindowSeconds = 10

	tr.OnEvent(testEvent(base), th)

	// Second event lands just outside the window relative to the first:
	// the first is evicted before counting, so only one remains.
	*now = base.Add(11 * time.Second)
	if tr.OnEvent(testEvent(*now), th) {
		t.Error("confirmation must consider only events inside the window")
	}
}

func TestOnEvent_CapEvictsFront(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(base)

	// A count above the cap keeps confirmations from clearing the queue, so
	// the hard bound itself is observable.
	th := DefaultThresholds()
	th.PeriodicityEventCount = MaxQueuedEvents + 5
	th.PeriodicityWindowSeconds = 3600

	for i := 0; i < MaxQueuedEvents+3; i++ {
		if tr.OnEvent(testEvent(base.Add(time.Duration(i)*time.Second)), th) {
			t.Fatalf("OnEvent #%d confirmed below the configured count", i+1)
		}
	}

	snap := tr.Snapshot()
	if snap.Count != MaxQueuedEvents {
		t.Errorf("Count = %d, want cap %d", snap.Count, MaxQueuedEvents)
	}
	// Three oldest events were pushed out the front.
	if want := base.Add(3 * time.Second); !snap.OldestTimestamp.Equal(want) {
		t.Errorf("OldestTimestamp = %v, want %v", snap.OldestTimestamp, want)
	}
}

func TestOnEvent_NilCallback(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(base)
	th := DefaultThresholds()

	// No callback registered; confirmation must still work.
	for i := 0; i < 3; i++ {
		tr.OnEvent(testEvent(base.Add(time.Duration(i)*time.Second)), th)
	}
	if !tr.OnEvent(testEvent(base.Add(3*time.Second)), th) {
		t.Error("confirmation should not require a callback")
	}
}

func TestSetCallback_NilClears(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(base)
	th := DefaultThresholds()

	fired := 0
	tr.SetCallback(func() { fired++ })
	tr.SetCallback(nil)

	for i := 0; i < 4; i++ {
		tr.OnEvent(testEvent(base.Add(time.Duration(i)*time.Second)), th)
	}
	if fired != 0 {
		t.Errorf("cleared callback fired %d times, want 0", fired)
	}
}

func TestSnapshot_Empty(t *testing.T) {
	tr := NewPeriodicityTracker()

	snap := tr.Snapshot()
	if snap.Count != 0 || !snap.OldestTimestamp.IsZero() {
		t.Errorf("Snapshot() of empty tracker = %+v, want zero value", snap)
	}
}

func TestReset_ClearsQueue(t *testing.T) {
	base := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(base)
	th := DefaultThresholds()

	tr.OnEvent(testEvent(base), th)
	tr.OnEvent(testEvent(base.Add(time.Second)), th)
	tr.Reset()

	if got := tr.Snapshot().Count; got != 0 {
		t.Errorf("Count after Reset = %d, want 0", got)
	}
}
