// internal/dsp/features.go
package dsp

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/mjibson/go-dsp/fft"
)

var (
	// ErrInvalidSampleRate indicates sample rate must be positive
	ErrInvalidSampleRate = errors.New("sample rate must be positive")
	// ErrInvalidFrameLength indicates frame length must be positive and fit the window
	ErrInvalidFrameLength = errors.New("frame length must be positive and no larger than the analysis window")
	// ErrInvalidHopLength indicates hop length must be positive and no larger than frame length
	ErrInvalidHopLength = errors.New("hop length must be positive and no larger than frame length")
	// ErrWindowLength indicates the caller passed a window of the wrong size.
	// This is a contract violation, not a runtime condition.
	ErrWindowLength = errors.New("analysis window has wrong sample count")

	errNonFinite = errors.New("non-finite value in feature output")
)

const (
	// yinThreshold is the CMNDF acceptance threshold for the YIN pitch
	// estimator (de Cheveigné & Kawahara 2002 recommend 0.1-0.2).
	yinThreshold = 0.15

	// fallbackCoarseWindows is the number of coarse sub-windows used by the
	// manual RMS fallback when the framed computation fails.
	fallbackCoarseWindows = 20

	// fallbackZCR is the constant substituted when ZCR extraction fails.
	fallbackZCR = 0.1
)

// FeatureConfig holds the framing parameters for feature extraction.
// All values should come from the application config file.
type FeatureConfig struct {
	// SampleRate is the audio sample rate in Hz (from config: sample_rate)
	SampleRate int
	// WindowSamples is the analysis window length in samples (sample_rate * window_seconds)
	WindowSamples int
	// FrameLength is the short-time frame length in samples (from config: frame_length)
	FrameLength int
	// HopLength is the frame advance in samples (from config: hop_length)
	HopLength int
}

// FrameFeatures holds synchronized per-frame feature sequences for one
// analysis window. All slices have the same length.
type FrameFeatures struct {
	// RMS is the root-mean-square amplitude per frame (short-time energy)
	RMS []float64
	// SpectralCentroid is the amplitude-weighted mean frequency per frame in Hz
	SpectralCentroid []float64
	// ZCR is the fraction of sign changes per sample within each frame
	ZCR []float64
	// F0 is the fundamental frequency estimate per frame in Hz (0 when unvoiced)
	F0 []float64
	// VoicedProb is the per-frame voicing confidence in [0,1]
	VoicedProb []float64
}

// NumFrames returns the number of frames in the window.
func (f FrameFeatures) NumFrames() int {
	return len(f.RMS)
}

// FeatureExtractor converts one analysis window of mono audio into per-frame
// feature sequences. All scratch storage is allocated at construction and
// reused; Extract performs no allocation in the steady state.
//
// If any single feature computation fails on degenerate input, that feature
// falls back to a deterministic default without disturbing the others; the
// failure is logged and extraction continues. Only a wrong-sized window is an
// error, since that indicates a caller bug.
type FeatureExtractor struct {
	cfg       FeatureConfig
	numFrames int

	hann    []float64 // precomputed Hann window of FrameLength
	frame64 []float64 // windowed frame scratch for the FFT

	yinDiff  []float64 // YIN difference function scratch
	yinCMNDF []float64 // YIN cumulative mean normalized difference scratch

	rms      []float64
	centroid []float64
	zcr      []float64
	f0       []float64
	voiced   []float64

	// Fault-injection switches, set only from tests to verify that one
	// feature's fallback never disturbs the other features.
	failRMS      bool
	failCentroid bool
	failZCR      bool
	failF0       bool
}

// NewFeatureExtractor creates an extractor for the given framing configuration.
func NewFeatureExtractor(cfg FeatureConfig) (*FeatureExtractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if cfg.FrameLength <= 0 || cfg.FrameLength > cfg.WindowSamples {
		return nil, ErrInvalidFrameLength
	}
	if cfg.HopLength <= 0 || cfg.HopLength > cfg.FrameLength {
		return nil, ErrInvalidHopLength
	}

	numFrames := (cfg.WindowSamples-cfg.FrameLength)/cfg.HopLength + 1

	hann := make([]float64, cfg.FrameLength)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(cfg.FrameLength-1)))
	}

	half := cfg.FrameLength / 2

	return &FeatureExtractor{
		cfg:       cfg,
		numFrames: numFrames,
		hann:      hann,
		frame64:   make([]float64, cfg.FrameLength),
		yinDiff:   make([]float64, half),
		yinCMNDF:  make([]float64, half),
		rms:       make([]float64, numFrames),
		centroid:  make([]float64, numFrames),
		zcr:       make([]float64, numFrames),
		f0:        make([]float64, numFrames),
		voiced:    make([]float64, numFrames),
	}, nil
}

// NumFrames returns the number of frames produced per analysis window.
func (e *FeatureExtractor) NumFrames() int {
	return e.numFrames
}

// Extract computes all per-frame features for one analysis window. The f0
// search band is passed per call because the threshold settings may change
// between windows. The returned slices alias internal scratch storage and are
// valid until the next Extract call.
func (e *FeatureExtractor) Extract(window []float32, f0Min, f0Max float64) (FrameFeatures, error) {
	if len(window) != e.cfg.WindowSamples {
		return FrameFeatures{}, fmt.Errorf("%w: got %d, want %d",
			ErrWindowLength, len(window), e.cfg.WindowSamples)
	}

	if err := e.computeRMS(window); err != nil {
		slog.Error("rms extraction failed, using coarse-block fallback", "error", err)
		e.fallbackRMS(window)
	}
	if err := e.computeCentroid(window); err != nil {
		slog.Error("spectral centroid extraction failed, using constant fallback", "error", err)
		fill(e.centroid, float64(e.cfg.SampleRate)/4)
	}
	if err := e.computeZCR(window); err != nil {
		slog.Error("zcr extraction failed, using constant fallback", "error", err)
		fill(e.zcr, fallbackZCR)
	}
	if err := e.computeF0(window, f0Min, f0Max); err != nil {
		slog.Error("f0 extraction failed, using zero fallback", "error", err)
		fill(e.f0, 0)
		fill(e.voiced, 0)
	}

	return FrameFeatures{
		RMS:              e.rms,
		SpectralCentroid: e.centroid,
		ZCR:              e.zcr,
		F0:               e.f0,
		VoicedProb:       e.voiced,
	}, nil
}

// computeRMS fills the per-frame root-mean-square energy.
func (e *FeatureExtractor) computeRMS(window []float32) error {
	if e.failRMS {
		return errors.New("injected rms fault")
	}

	for i := 0; i < e.numFrames; i++ {
		start := i * e.cfg.HopLength
		var sum float64
		for _, s := range window[start : start+e.cfg.FrameLength] {
			sum += float64(s) * float64(s)
		}
		e.rms[i] = math.Sqrt(sum / float64(e.cfg.FrameLength))
	}

	if !allFinite(e.rms) {
		return errNonFinite
	}
	return nil
}

// fallbackRMS approximates frame energy from a few coarse sub-windows when
// the framed computation fails. Non-finite samples are treated as silence so
// the fallback itself can never fail.
func (e *FeatureExtractor) fallbackRMS(window []float32) {
	coarse := make([]float64, 0, fallbackCoarseWindows)
	hop := len(window) / fallbackCoarseWindows
	if hop == 0 {
		hop = len(window)
	}
	for start := 0; start < len(window); start += hop {
		end := min(start+hop, len(window))
		var sum float64
		for _, s := range window[start:end] {
			v := float64(s)
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				sum += v * v
			}
		}
		coarse = append(coarse, math.Sqrt(sum/float64(end-start)))
	}

	// Spread the coarse values over the frame grid.
	for i := 0; i < e.numFrames; i++ {
		e.rms[i] = coarse[i*len(coarse)/e.numFrames]
	}
}

// computeCentroid fills the per-frame spectral centroid using an FFT of size
// equal to the frame length, Hann windowed.
func (e *FeatureExtractor) computeCentroid(window []float32) error {
	if e.failCentroid {
		return errors.New("injected centroid fault")
	}

	binHz := float64(e.cfg.SampleRate) / float64(e.cfg.FrameLength)

	for i := 0; i < e.numFrames; i++ {
		start := i * e.cfg.HopLength
		for j := 0; j < e.cfg.FrameLength; j++ {
			e.frame64[j] = float64(window[start+j]) * e.hann[j]
		}

		spectrum := fft.FFTReal(e.frame64)

		var weighted, total float64
		for k := 0; k <= e.cfg.FrameLength/2; k++ {
			mag := cmplxAbs(spectrum[k])
			weighted += float64(k) * binHz * mag
			total += mag
		}
		if total > 0 {
			e.centroid[i] = weighted / total
		} else {
			e.centroid[i] = 0
		}
	}

	if !allFinite(e.centroid) {
		return errNonFinite
	}
	return nil
}

// computeZCR fills the per-frame zero-crossing rate.
func (e *FeatureExtractor) computeZCR(window []float32) error {
	if e.failZCR {
		return errors.New("injected zcr fault")
	}

	for i := 0; i < e.numFrames; i++ {
		start := i * e.cfg.HopLength
		frame := window[start : start+e.cfg.FrameLength]
		crossings := 0
		for j := 1; j < len(frame); j++ {
			if (frame[j-1] >= 0) != (frame[j] >= 0) {
				crossings++
			}
		}
		e.zcr[i] = float64(crossings) / float64(e.cfg.FrameLength)
	}

	if !allFinite(e.zcr) {
		return errNonFinite
	}
	return nil
}

// computeF0 fills the per-frame fundamental frequency and voicing confidence
// using the YIN estimator restricted to [f0Min, f0Max]. Frames with no
// reliable pitch report f0 = 0 and confidence 0.
func (e *FeatureExtractor) computeF0(window []float32, f0Min, f0Max float64) error {
	if e.failF0 {
		return errors.New("injected f0 fault")
	}

	half := e.cfg.FrameLength / 2
	sr := float64(e.cfg.SampleRate)

	tauMin := 2
	if f0Max > 0 {
		tauMin = max(2, int(sr/f0Max))
	}
	tauMax := half - 1
	if f0Min > 0 {
		tauMax = min(half-1, int(sr/f0Min)+1)
	}
	if tauMin >= tauMax {
		// Degenerate band: every frame is unvoiced.
		fill(e.f0, 0)
		fill(e.voiced, 0)
		return nil
	}

	for i := 0; i < e.numFrames; i++ {
		start := i * e.cfg.HopLength
		frame := window[start : start+e.cfg.FrameLength]
		e.f0[i], e.voiced[i] = e.yinFrame(frame, tauMin, tauMax, f0Min, f0Max)
	}

	if !allFinite(e.f0) || !allFinite(e.voiced) {
		return errNonFinite
	}
	return nil
}

// yinFrame runs YIN on a single frame and returns (f0Hz, confidence).
func (e *FeatureExtractor) yinFrame(frame []float32, tauMin, tauMax int, f0Min, f0Max float64) (float64, float64) {
	half := len(frame) / 2

	// Difference function.
	for tau := 1; tau <= tauMax; tau++ {
		var sum float64
		for j := 0; j < half; j++ {
			delta := float64(frame[j]) - float64(frame[j+tau])
			sum += delta * delta
		}
		e.yinDiff[tau-1] = sum
	}

	// Cumulative mean normalized difference function.
	e.yinCMNDF[0] = 1
	running := 0.0
	for tau := 1; tau <= tauMax; tau++ {
		running += e.yinDiff[tau-1]
		if running > 0 {
			e.yinCMNDF[tau-1] = e.yinDiff[tau-1] * float64(tau) / running
		} else {
			e.yinCMNDF[tau-1] = 1
		}
	}

	// First local minimum below threshold inside the search band, otherwise
	// the global minimum of the band.
	best := -1
	for tau := tauMin; tau < tauMax; tau++ {
		if e.yinCMNDF[tau-1] < yinThreshold && e.yinCMNDF[tau-1] <= e.yinCMNDF[tau] {
			best = tau
			break
		}
	}
	if best < 0 {
		bestVal := math.Inf(1)
		for tau := tauMin; tau <= tauMax; tau++ {
			if e.yinCMNDF[tau-1] < bestVal {
				bestVal = e.yinCMNDF[tau-1]
				best = tau
			}
		}
	}
	if best < 0 {
		// Every candidate was NaN (poisoned frame): treat as unvoiced.
		return 0, 0
	}

	val := e.yinCMNDF[best-1]
	if val >= yinThreshold {
		return 0, 0
	}

	period := parabolicMin(e.yinCMNDF, best-1) + 1
	freq := float64(e.cfg.SampleRate) / period
	if freq < f0Min || freq > f0Max {
		return 0, 0
	}

	conf := 1 - val
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}
	return freq, conf
}

// parabolicMin refines a discrete minimum location by fitting a parabola
// through the point and its neighbors. Returns the (fractional) index.
func parabolicMin(d []float64, i int) float64 {
	if i <= 0 || i >= len(d)-1 {
		return float64(i)
	}
	s0, s1, s2 := d[i-1], d[i], d[i+1]
	denom := s0 - 2*s1 + s2
	if denom == 0 {
		return float64(i)
	}
	return float64(i) + 0.5*(s0-s2)/denom
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

func allFinite(xs []float64) bool {
	for _, x := range xs {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func fill(xs []float64, v float64) {
	for i := range xs {
		xs[i] = v
	}
}
