// internal/dsp/segment.go
package dsp

import (
	"time"
)

// SnoreEvent is one candidate snore-like sound, pending periodicity
// confirmation. Immutable once created.
type SnoreEvent struct {
	// Timestamp is the wall-clock instant the event was aggregated
	Timestamp time.Time
	// Duration is the event length derived from the masked frame run
	Duration float64
	// F0Hz is the mean fundamental frequency over voiced frames (0 if none)
	F0Hz float64
	// Energy is the mean RMS over the event's frames
	Energy float64
}

// SegmentAggregator scans a combined mask for contiguous true-runs and turns
// duration-valid runs into candidate events. Each analysis window is scanned
// independently; a run touching the window edge is closed at the boundary, so
// a sound straddling two windows may yield two candidates. That split is an
// accepted approximation at one-second windows.
type SegmentAggregator struct {
	hopLength  int
	sampleRate int

	// now is replaceable from tests
	now func() time.Time

	// events is reusable output storage
	events []SnoreEvent
}

// NewSegmentAggregator creates an aggregator for the given framing parameters.
func NewSegmentAggregator(hopLength, sampleRate int) (*SegmentAggregator, error) {
	if hopLength <= 0 {
		return nil, ErrInvalidHopLength
	}
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	return &SegmentAggregator{
		hopLength:  hopLength,
		sampleRate: sampleRate,
		now:        time.Now,
	}, nil
}

// Aggregate emits zero or more candidate events from the combined mask.
// A run of L frames lasts L*hop/sampleRate seconds and is kept only when that
// duration lies inside [MinDurationSeconds, MaxDurationSeconds], inclusive on
// both ends. The returned slice is reused across calls.
func (a *SegmentAggregator) Aggregate(combined []bool, features FrameFeatures, t Thresholds) []SnoreEvent {
	a.events = a.events[:0]

	start := -1
	for i := 0; i <= len(combined); i++ {
		active := i < len(combined) && combined[i]
		switch {
		case active && start < 0:
			start = i
		case !active && start >= 0:
			if ev, ok := a.buildEvent(start, i, features, t); ok {
				a.events = append(a.events, ev)
			}
			start = -1
		}
	}

	return a.events
}

// buildEvent validates one contiguous run [start, end) and summarizes it.
func (a *SegmentAggregator) buildEvent(start, end int, features FrameFeatures, t Thresholds) (SnoreEvent, bool) {
	frames := end - start
	duration := float64(frames*a.hopLength) / float64(a.sampleRate)
	if duration < t.MinDurationSeconds || duration > t.MaxDurationSeconds {
		return SnoreEvent{}, false
	}

	var energySum float64
	var f0Sum float64
	voiced := 0
	for i := start; i < end; i++ {
		energySum += features.RMS[i]
		if features.F0[i] > 0 {
			f0Sum += features.F0[i]
			voiced++
		}
	}

	f0 := 0.0
	if voiced > 0 {
		f0 = f0Sum / float64(voiced)
	}

	return SnoreEvent{
		Timestamp: a.now(),
		Duration:  duration,
		F0Hz:      f0,
		Energy:    energySum / float64(frames),
	}, true
}
