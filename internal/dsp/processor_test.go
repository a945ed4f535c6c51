package dsp

import (
	"errors"
	"testing"
)

func newTestProcessor(t *testing.T, cb DetectionCallback) *RuleProcessor {
	t.Helper()
	p, err := NewRuleProcessor(testFeatureConfig(), cb)
	if err != nil {
		t.Fatalf("NewRuleProcessor() error = %v", err)
	}
	return p
}

// snoreWindow returns one analysis window of a synthetic snore: a steady
// 100 Hz tone loud enough to clear the energy gate.
func snoreWindow() []float32 {
	return sineWave(100, 0.2, 16000, 16000)
}

func TestNewRuleProcessor_InvalidConfig(t *testing.T) {
	cfg := testFeatureConfig()
	cfg.HopLength = 0

	if _, err := NewRuleProcessor(cfg, nil); err == nil {
		t.Error("expected error for invalid framing configuration")
	}
}

func TestNewRuleProcessor_SampleRateTooLowForFilter(t *testing.T) {
	// The fixed 80-1600 Hz band needs a Nyquist above 1600 Hz.
	cfg := testFeatureConfig()
	cfg.SampleRate = 3000
	cfg.WindowSamples = 3000

	if _, err := NewRuleProcessor(cfg, nil); err == nil {
		t.Error("expected filter design error for a 3 kHz sample rate")
	}
}

func TestProcessWindow_WrongWindowLength(t *testing.T) {
	p := newTestProcessor(t, nil)

	_, err := p.ProcessWindow(make([]float32, 100), DefaultThresholds())
	if !errors.Is(err, ErrWindowLength) {
		t.Errorf("ProcessWindow(short window) error = %v, want ErrWindowLength", err)
	}
}

func TestProcessWindow_DetectsSnoreLikeTone(t *testing.T) {
	p := newTestProcessor(t, nil)

	r, err := p.ProcessWindow(snoreWindow(), DefaultThresholds())
	if err != nil {
		t.Fatalf("ProcessWindow() error = %v", err)
	}

	if len(r.Events) != 1 {
		t.Fatalf("got %d events, want 1", len(r.Events))
	}
	ev := r.Events[0]
	if ev.F0Hz < 90 || ev.F0Hz > 110 {
		t.Errorf("event F0Hz = %.2f, want near 100", ev.F0Hz)
	}
	if ev.Duration < 0.2 || ev.Duration > 1.0 {
		t.Errorf("event Duration = %.3f, want within (0.2, 1.0]", ev.Duration)
	}

	// One event is far from the periodicity count.
	if r.Detected {
		t.Error("a single event must not confirm an episode")
	}
	if r.RecentEventsCount != 1 {
		t.Errorf("RecentEventsCount = %d, want 1", r.RecentEventsCount)
	}
	if r.FirstEventTimestamp.IsZero() {
		t.Error("FirstEventTimestamp should be set while an event is queued")
	}

	if r.Stats.EnergyPassRate < 0.9 {
		t.Errorf("EnergyPassRate = %.2f, want > 0.9 for a loud tone", r.Stats.EnergyPassRate)
	}
	if r.Stats.F0RangePassRate < 0.9 {
		t.Errorf("F0RangePassRate = %.2f, want > 0.9 for an in-band tone", r.Stats.F0RangePassRate)
	}
}

func TestProcessWindow_SilenceProducesNothing(t *testing.T) {
	p := newTestProcessor(t, nil)

	r, err := p.ProcessWindow(make([]float32, 16000), DefaultThresholds())
	if err != nil {
		t.Fatalf("ProcessWindow() error = %v", err)
	}

	if len(r.Events) != 0 {
		t.Errorf("got %d events for silence, want 0", len(r.Events))
	}
	if r.Stats.EnergyPassRate != 0 {
		t.Errorf("EnergyPassRate = %v for silence, want 0", r.Stats.EnergyPassRate)
	}
}

func TestProcessWindow_PeriodicityAcrossWindows(t *testing.T) {
	fired := 0
	p := newTestProcessor(t, func() { fired++ })
	th := DefaultThresholds()

	var last WindowResult
	for i := 0; i < 4; i++ {
		r, err := p.ProcessWindow(snoreWindow(), th)
		if err != nil {
			t.Fatalf("ProcessWindow() #%d error = %v", i+1, err)
		}
		if i < 3 && r.Detected {
			t.Fatalf("window %d confirmed early", i+1)
		}
		last = r
	}

	if !last.Detected {
		t.Error("fourth consecutive event should confirm the episode")
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}
	if last.RecentEventsCount != 0 {
		t.Errorf("RecentEventsCount after confirmation = %d, want 0", last.RecentEventsCount)
	}
}

func TestProcessWindow_ResultOwnsItsSlices(t *testing.T) {
	p := newTestProcessor(t, nil)
	th := DefaultThresholds()

	r1, err := p.ProcessWindow(snoreWindow(), th)
	if err != nil {
		t.Fatalf("ProcessWindow() error = %v", err)
	}
	r2, err := p.ProcessWindow(snoreWindow(), th)
	if err != nil {
		t.Fatalf("ProcessWindow() error = %v", err)
	}

	if &r1.Features.RMS[0] == &r2.Features.RMS[0] {
		t.Error("Features must be copied out of scratch storage")
	}
	if &r1.Masks.Combined[0] == &r2.Masks.Combined[0] {
		t.Error("Masks must be copied out of scratch storage")
	}
	if len(r1.Events) > 0 && len(r2.Events) > 0 && &r1.Events[0] == &r2.Events[0] {
		t.Error("Events must be copied out of scratch storage")
	}
}

func TestResetPeriodicity(t *testing.T) {
	p := newTestProcessor(t, nil)
	th := DefaultThresholds()

	if _, err := p.ProcessWindow(snoreWindow(), th); err != nil {
		t.Fatalf("ProcessWindow() error = %v", err)
	}
	if p.Snapshot().Count != 1 {
		t.Fatalf("Snapshot().Count = %d, want 1", p.Snapshot().Count)
	}

	p.ResetPeriodicity()
	if p.Snapshot().Count != 0 {
		t.Errorf("Snapshot().Count after reset = %d, want 0", p.Snapshot().Count)
	}
}

func TestRuleProcessor_NumFrames(t *testing.T) {
	p := newTestProcessor(t, nil)

	if got := p.NumFrames(); got != 65 {
		t.Errorf("NumFrames() = %d, want 65", got)
	}
}
