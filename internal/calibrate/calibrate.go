// internal/calibrate/calibrate.go
// Package calibrate derives personalized detection thresholds from short
// guided recordings. The user records four stages (room silence, normal
// breathing, deliberate light snoring, normal speech); the calibrator
// compares their feature distributions and places each threshold between the
// snore and non-snore populations.
package calibrate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/snoreguard/snoreguard/internal/dsp"
)

// Stage labels. These are stable identifiers, not display strings.
const (
	LabelSilence   = "silence"
	LabelBreathing = "breathing"
	LabelSnore     = "snore"
	LabelSpeech    = "speech"
)

var (
	ErrTooFewSamples = errors.New("calibration needs at least 3 recorded stages")
	ErrEmptyStage    = errors.New("recorded stage contains no audio")
)

// Stage describes one guided recording step.
type Stage struct {
	Label       string
	Name        string
	Instruction string
	Seconds     int
}

// Stages returns the guided recording plan in order. Durations come from the
// application settings.
func Stages(silence, breathing, snore, speech int) []Stage {
	return []Stage{
		{LabelSilence, "Room noise", "Stay as quiet as possible.", silence},
		{LabelBreathing, "Normal breathing", "Breathe naturally near the microphone.", breathing},
		{LabelSnore, "Light snoring", "Imitate a light snore repeatedly.", snore},
		{LabelSpeech, "Normal speech", "Read any text aloud at a normal volume.", speech},
	}
}

// FeatureStats summarizes one feature across a recording after outlier
// removal.
type FeatureStats struct {
	Mean float64
	Std  float64
	P25  float64
	P75  float64
}

// Sample is one analyzed stage recording.
type Sample struct {
	Label string
	// Stats maps feature name (rms, spectral_centroid, zcr, f0, voiced_probs)
	// to its summary over the recording.
	Stats map[string]FeatureStats
}

// Analyzer extracts feature statistics from a raw stage recording using the
// same filter and framing as live detection.
type Analyzer struct {
	cfg       dsp.FeatureConfig
	filter    *dsp.BandpassFilter
	extractor *dsp.FeatureExtractor
}

// NewAnalyzer creates an analyzer for the given framing configuration.
func NewAnalyzer(cfg dsp.FeatureConfig) (*Analyzer, error) {
	filter, err := dsp.NewBandpassFilter(5, 80, 1600, float64(cfg.SampleRate))
	if err != nil {
		return nil, fmt.Errorf("design band-pass filter: %w", err)
	}
	extractor, err := dsp.NewFeatureExtractor(cfg)
	if err != nil {
		return nil, fmt.Errorf("create feature extractor: %w", err)
	}
	return &Analyzer{cfg: cfg, filter: filter, extractor: extractor}, nil
}

// Analyze runs the detection front-end over a whole stage recording and
// summarizes each feature. The recording is processed in consecutive analysis
// windows; a trailing partial window is discarded.
func (a *Analyzer) Analyze(recording []float32, label string) (Sample, error) {
	n := a.cfg.WindowSamples
	if len(recording) < n {
		return Sample{}, fmt.Errorf("%w: %s stage has %d samples, need at least %d",
			ErrEmptyStage, label, len(recording), n)
	}

	// Pitch search uses the widest plausible band during calibration so the
	// snore stage determines the personalized range afterwards.
	const calF0Min, calF0Max = 50.0, 400.0

	var rms, centroid, zcr, f0, voiced []float64
	window := make([]float32, n)
	for off := 0; off+n <= len(recording); off += n {
		copy(window, recording[off:off+n])
		a.filter.Apply(window)

		features, err := a.extractor.Extract(window, calF0Min, calF0Max)
		if err != nil {
			return Sample{}, fmt.Errorf("extract features: %w", err)
		}
		rms = append(rms, features.RMS...)
		centroid = append(centroid, features.SpectralCentroid...)
		zcr = append(zcr, features.ZCR...)
		f0 = append(f0, features.F0...)
		voiced = append(voiced, features.VoicedProb...)
	}

	sample := Sample{
		Label: label,
		Stats: map[string]FeatureStats{
			"rms":               summarize(rms, true),
			"spectral_centroid": summarize(centroid, false),
			"zcr":               summarize(zcr, false),
			"f0":                summarize(f0, true),
			"voiced_probs":      summarize(voiced, false),
		},
	}

	slog.Info("stage analyzed", "label", label,
		"frames", len(rms), "rms_mean", sample.Stats["rms"].Mean)
	return sample, nil
}

// summarize computes mean/std/quartiles after IQR outlier removal.
// positiveOnly drops zero and near-zero values first (unvoiced frames for f0,
// silent frames for rms).
func summarize(values []float64, positiveOnly bool) FeatureStats {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if positiveOnly && v <= 1e-6 {
			continue
		}
		valid = append(valid, v)
	}
	if len(valid) == 0 {
		return FeatureStats{}
	}

	sort.Float64s(valid)
	q1 := stat.Quantile(0.25, stat.Empirical, valid, nil)
	q3 := stat.Quantile(0.75, stat.Empirical, valid, nil)
	iqr := q3 - q1
	lo, hi := q1-1.5*iqr, q3+1.5*iqr

	kept := valid[:0]
	for _, v := range valid {
		if v >= lo && v <= hi {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return FeatureStats{}
	}

	return FeatureStats{
		Mean: stat.Mean(kept, nil),
		Std:  stat.PopStdDev(kept, nil),
		P25:  stat.Quantile(0.25, stat.Empirical, kept, nil),
		P75:  stat.Quantile(0.75, stat.Empirical, kept, nil),
	}
}

// Result is the calibration outcome.
type Result struct {
	// Thresholds are the personalized detection parameters
	Thresholds dsp.Thresholds
	// Confidence scores in 0..1: overall_separation, data_balance,
	// signal_quality and total_confidence
	Confidence map[string]float64
	// Separation quality per feature in 0..1
	Separation map[string]float64
}

// Calibrator accumulates stage samples and computes optimal thresholds.
type Calibrator struct {
	samples []Sample
	base    dsp.Thresholds
}

// NewCalibrator creates a calibrator. base supplies the parameters that
// calibration does not touch (durations, periodicity).
func NewCalibrator(base dsp.Thresholds) *Calibrator {
	return &Calibrator{base: base}
}

// AddSample records one analyzed stage.
func (c *Calibrator) AddSample(s Sample) {
	c.samples = append(c.samples, s)
	slog.Info("calibration sample added", "label", s.Label, "total", len(c.samples))
}

// Compute derives the personalized thresholds. At least three stages must
// have been recorded.
func (c *Calibrator) Compute() (Result, error) {
	if len(c.samples) < 3 {
		return Result{}, ErrTooFewSamples
	}

	t := c.base

	// Energy: between the noise floor (silence mean + 2 sigma) and a fraction
	// of the breathing level, never below the hardware noise fallback.
	silence := c.stageStats(LabelSilence, "rms")
	breathing := c.stageStats(LabelBreathing, "rms")
	noiseFloor := silence.Mean + 2*silence.Std
	breathingLevel := breathing.Mean
	if breathingLevel == 0 {
		breathingLevel = 0.01
	}
	t.EnergyThreshold = math.Max(0.005, (noiseFloor+breathingLevel*0.7)/2)

	// Centroid and ZCR: midpoint between the snore 75th percentile and the
	// lowest non-snore 75th percentile.
	t.SpectralCentroidThreshold = midpointBelow(
		c.stageStats(LabelSnore, "spectral_centroid").P75, 600,
		c.nonSnoreP75("spectral_centroid"), 800)
	t.ZCRThreshold = midpointBelow(
		c.stageStats(LabelSnore, "zcr").P75, 0.05,
		c.nonSnoreP75("zcr"), 0.08)

	// Voicing confidence: midpoint between the snore 25th percentile and the
	// highest non-snore 75th percentile.
	snoreConf := c.stageStats(LabelSnore, "voiced_probs").P25
	if snoreConf == 0 {
		snoreConf = 0.3
	}
	nonSnoreConf := 0.03
	for _, label := range []string{LabelBreathing, LabelSpeech} {
		if v := c.stageStats(label, "voiced_probs").P75; v > nonSnoreConf {
			nonSnoreConf = v
		}
	}
	t.F0ConfidenceThreshold = (snoreConf + nonSnoreConf) / 2

	// Pitch band: snore mean plus/minus a margin of at least 20 Hz, clamped
	// to physiologically plausible bounds.
	snoreF0 := c.stageStats(LabelSnore, "f0")
	if snoreF0.Mean > 0 {
		margin := math.Max(2*snoreF0.Std, 20)
		t.F0MinHz = clamp(snoreF0.Mean-margin, 70, 150)
		t.F0MaxHz = clamp(snoreF0.Mean+margin, 100, 300)
		if t.F0MaxHz < t.F0MinHz+20 {
			t.F0MaxHz = clamp(t.F0MinHz+20, 100, 300)
		}
	}

	separation := c.separationQuality()
	confidence := c.confidenceScores(separation)

	if err := t.Validate(); err != nil {
		return Result{}, fmt.Errorf("calibrated thresholds invalid: %w", err)
	}

	slog.Info("calibration complete",
		"energy", t.EnergyThreshold,
		"centroid", t.SpectralCentroidThreshold,
		"zcr", t.ZCRThreshold,
		"f0_confidence", t.F0ConfidenceThreshold,
		"f0_band_hz", fmt.Sprintf("%.0f-%.0f", t.F0MinHz, t.F0MaxHz),
		"total_confidence", confidence["total_confidence"])

	return Result{Thresholds: t, Confidence: confidence, Separation: separation}, nil
}

// stageStats returns the mean stats over all samples with the given label.
// Multiple recordings of the same stage are averaged.
func (c *Calibrator) stageStats(label, feature string) FeatureStats {
	var agg FeatureStats
	n := 0
	for _, s := range c.samples {
		if s.Label != label {
			continue
		}
		st, ok := s.Stats[feature]
		if !ok {
			continue
		}
		agg.Mean += st.Mean
		agg.Std += st.Std
		agg.P25 += st.P25
		agg.P75 += st.P75
		n++
	}
	if n == 0 {
		return FeatureStats{}
	}
	f := float64(n)
	return FeatureStats{Mean: agg.Mean / f, Std: agg.Std / f, P25: agg.P25 / f, P75: agg.P75 / f}
}

// nonSnoreP75 returns the smallest 75th percentile among breathing and speech
// stages, or 0 when neither was recorded.
func (c *Calibrator) nonSnoreP75(feature string) float64 {
	v := math.Inf(1)
	for _, label := range []string{LabelBreathing, LabelSpeech} {
		if st := c.stageStats(label, feature); st.P75 > 0 && st.P75 < v {
			v = st.P75
		}
	}
	if math.IsInf(v, 1) {
		return 0
	}
	return v
}

// midpointBelow averages the snore and non-snore statistics, substituting
// defaults when a stage was skipped.
func midpointBelow(snoreP75, snoreDefault, nonSnoreMin, nonSnoreDefault float64) float64 {
	if snoreP75 == 0 {
		snoreP75 = snoreDefault
	}
	if nonSnoreMin == 0 {
		nonSnoreMin = nonSnoreDefault
	}
	return (snoreP75 + nonSnoreMin) / 2
}

// separationQuality scores how well each feature separates snoring from
// breathing and speech (0 = overlapping, 1 = fully separated).
func (c *Calibrator) separationQuality() map[string]float64 {
	quality := make(map[string]float64)
	for _, feature := range []string{"rms", "spectral_centroid", "zcr", "voiced_probs"} {
		snore := c.stageStats(LabelSnore, feature)
		var seps []float64
		for _, opponent := range []string{LabelBreathing, LabelSpeech} {
			other := c.stageStats(opponent, feature)
			if snore.Mean == 0 && other.Mean == 0 {
				continue
			}
			sep := math.Abs(snore.Mean-other.Mean) / (snore.Std + other.Std + 1e-6)
			seps = append(seps, math.Min(1, sep/2))
		}
		if len(seps) > 0 {
			quality[feature] = stat.Mean(seps, nil)
		}
	}
	return quality
}

func (c *Calibrator) confidenceScores(separation map[string]float64) map[string]float64 {
	scores := make(map[string]float64)

	if len(separation) > 0 {
		vals := make([]float64, 0, len(separation))
		for _, v := range separation {
			vals = append(vals, v)
		}
		scores["overall_separation"] = stat.Mean(vals, nil)
	} else {
		scores["overall_separation"] = 0.5
	}

	haveAll := true
	for _, label := range []string{LabelSilence, LabelBreathing, LabelSnore, LabelSpeech} {
		found := false
		for _, s := range c.samples {
			if s.Label == label {
				found = true
				break
			}
		}
		if !found {
			haveAll = false
			break
		}
	}
	if haveAll {
		scores["data_balance"] = 1.0
	} else {
		scores["data_balance"] = 0.3
	}

	if snore := c.stageStats(LabelSnore, "rms"); snore.Mean > 0 {
		scores["signal_quality"] = math.Min(1, snore.Mean/0.02)
	} else {
		scores["signal_quality"] = 0.3
	}

	scores["total_confidence"] = scores["overall_separation"]*0.5 +
		scores["data_balance"]*0.25 +
		scores["signal_quality"]*0.25

	return scores
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
