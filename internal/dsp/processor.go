// internal/dsp/processor.go
package dsp

import (
	"fmt"
	"math"
	"time"
)

// Band-pass pre-filter parameters. Fixed by the detection design: the band
// keeps snoring fundamentals (roughly 70-150 Hz) and their low harmonics.
const (
	filterOrder  = 5
	filterLowHz  = 80
	filterHighHz = 1600
)

// FeatureStats summarizes one feature sequence over a window.
type FeatureStats struct {
	Min  float64
	Max  float64
	Mean float64
}

// WindowStats carries per-window summary statistics for the diagnostics layer.
type WindowStats struct {
	RMS              FeatureStats
	SpectralCentroid FeatureStats
	ZCR              FeatureStats
	F0               FeatureStats
	VoicedProb       FeatureStats

	// Pass rates are the fraction of frames passing each criterion.
	EnergyPassRate           float64
	F0ConfidencePassRate     float64
	F0RangePassRate          float64
	SpectralCentroidPassRate float64
	ZCRPassRate              float64
}

// WindowResult is the per-window output handed to the visualization and
// diagnostics consumer. All slices are owned by the result (copied out of the
// pipeline's scratch storage) so the consumer may hold them freely.
type WindowResult struct {
	// Features are the five per-frame feature sequences
	Features FrameFeatures
	// Masks are the five per-criterion pass masks plus the combined AND
	Masks Masks
	// Events are the candidate events emitted by this window
	Events []SnoreEvent
	// Detected is true when this window's events confirmed an episode
	Detected bool
	// RecentEventsCount is the periodicity queue length after this window
	RecentEventsCount int
	// FirstEventTimestamp is the oldest queued event's timestamp (zero when empty)
	FirstEventTimestamp time.Time
	// Stats are the per-window summary statistics
	Stats WindowStats
}

// RuleProcessor runs the full rule-based detection chain on one analysis
// window at a time: band-pass filter, feature extraction, per-frame
// classification, segmentation and periodicity tracking. It is owned by a
// single pipeline worker; the Thresholds value is passed per window so the
// settings layer can swap parameters between windows without coordination.
type RuleProcessor struct {
	cfg FeatureConfig

	filter    *BandpassFilter
	extractor *FeatureExtractor
	masks     *MaskEngine
	segments  *SegmentAggregator
	tracker   *PeriodicityTracker
}

// NewRuleProcessor creates a processor for the given framing configuration.
// The callback fires when a snoring episode is confirmed; it runs on the
// worker goroutine.
func NewRuleProcessor(cfg FeatureConfig, callback DetectionCallback) (*RuleProcessor, error) {
	filter, err := NewBandpassFilter(filterOrder, filterLowHz, filterHighHz, float64(cfg.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("design band-pass filter: %w", err)
	}

	extractor, err := NewFeatureExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create feature extractor: %w", err)
	}

	segments, err := NewSegmentAggregator(cfg.HopLength, cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("create segment aggregator: %w", err)
	}

	tracker := NewPeriodicityTracker()
	tracker.SetCallback(callback)

	return &RuleProcessor{
		cfg:       cfg,
		filter:    filter,
		extractor: extractor,
		masks:     NewMaskEngine(extractor.NumFrames()),
		segments:  segments,
		tracker:   tracker,
	}, nil
}

// ProcessWindow runs the chain on one analysis window. The window slice is
// filtered in place and may be reused by the caller afterwards. The only
// error is a wrong-sized window, which is a caller bug; every runtime
// condition inside the chain degrades gracefully instead.
func (r *RuleProcessor) ProcessWindow(window []float32, t Thresholds) (WindowResult, error) {
	r.filter.Apply(window)

	features, err := r.extractor.Extract(window, t.F0MinHz, t.F0MaxHz)
	if err != nil {
		return WindowResult{}, err
	}

	masks := r.masks.Classify(features, t)

	detected := false
	events := r.segments.Aggregate(masks.Combined, features, t)
	for _, ev := range events {
		if r.tracker.OnEvent(ev, t) {
			detected = true
		}
	}

	snap := r.tracker.Snapshot()

	result := WindowResult{
		Features:            copyFeatures(features),
		Masks:               copyMasks(masks),
		Events:              append([]SnoreEvent(nil), events...),
		Detected:            detected,
		RecentEventsCount:   snap.Count,
		FirstEventTimestamp: snap.OldestTimestamp,
	}
	result.Stats = computeStats(result.Features, result.Masks)

	return result, nil
}

// ResetPeriodicity clears the event queue (session reset).
func (r *RuleProcessor) ResetPeriodicity() {
	r.tracker.Reset()
}

// Snapshot returns the current periodicity queue state for UI polling.
func (r *RuleProcessor) Snapshot() PeriodicitySnapshot {
	return r.tracker.Snapshot()
}

// NumFrames returns the number of frames per analysis window.
func (r *RuleProcessor) NumFrames() int {
	return r.extractor.NumFrames()
}

func copyFeatures(f FrameFeatures) FrameFeatures {
	return FrameFeatures{
		RMS:              append([]float64(nil), f.RMS...),
		SpectralCentroid: append([]float64(nil), f.SpectralCentroid...),
		ZCR:              append([]float64(nil), f.ZCR...),
		F0:               append([]float64(nil), f.F0...),
		VoicedProb:       append([]float64(nil), f.VoicedProb...),
	}
}

func copyMasks(m Masks) Masks {
	return Masks{
		Energy:           append([]bool(nil), m.Energy...),
		F0Confidence:     append([]bool(nil), m.F0Confidence...),
		F0Range:          append([]bool(nil), m.F0Range...),
		SpectralCentroid: append([]bool(nil), m.SpectralCentroid...),
		ZCR:              append([]bool(nil), m.ZCR...),
		Combined:         append([]bool(nil), m.Combined...),
	}
}

func computeStats(f FrameFeatures, m Masks) WindowStats {
	return WindowStats{
		RMS:              summarize(f.RMS),
		SpectralCentroid: summarize(f.SpectralCentroid),
		ZCR:              summarize(f.ZCR),
		F0:               summarize(f.F0),
		VoicedProb:       summarize(f.VoicedProb),

		EnergyPassRate:           passRate(m.Energy),
		F0ConfidencePassRate:     passRate(m.F0Confidence),
		F0RangePassRate:          passRate(m.F0Range),
		SpectralCentroidPassRate: passRate(m.SpectralCentroid),
		ZCRPassRate:              passRate(m.ZCR),
	}
}

func summarize(xs []float64) FeatureStats {
	if len(xs) == 0 {
		return FeatureStats{}
	}
	s := FeatureStats{Min: math.Inf(1), Max: math.Inf(-1)}
	var sum float64
	for _, x := range xs {
		s.Min = math.Min(s.Min, x)
		s.Max = math.Max(s.Max, x)
		sum += x
	}
	s.Mean = sum / float64(len(xs))
	return s
}

func passRate(mask []bool) float64 {
	if len(mask) == 0 {
		return 0
	}
	pass := 0
	for _, ok := range mask {
		if ok {
			pass++
		}
	}
	return float64(pass) / float64(len(mask))
}
