// internal/dsp/thresholds.go
package dsp

import (
	"errors"
	"fmt"
)

// Thresholds holds the rule-based detection parameters for one session.
// All values should come from the application config file (or a calibration
// run). The pipeline reads the current value at each window boundary, so a
// settings UI may swap it between windows at any time.
type Thresholds struct {
	// EnergyThreshold is the minimum per-frame RMS (from config: energy_threshold)
	EnergyThreshold float64
	// F0ConfidenceThreshold is the minimum voicing confidence (from config: f0_confidence_threshold)
	F0ConfidenceThreshold float64
	// SpectralCentroidThreshold is the maximum centroid in Hz (from config: spectral_centroid_threshold)
	SpectralCentroidThreshold float64
	// ZCRThreshold is the maximum zero-crossing rate (from config: zcr_threshold)
	ZCRThreshold float64

	// F0MinHz / F0MaxHz bound the valid pitch band (from config: f0_min_hz, f0_max_hz)
	F0MinHz float64
	F0MaxHz float64

	// MinDurationSeconds / MaxDurationSeconds bound a valid event length
	// (from config: min_duration_seconds, max_duration_seconds)
	MinDurationSeconds float64
	MaxDurationSeconds float64

	// PeriodicityEventCount is the number of events inside the rolling window
	// needed to confirm an episode (from config: periodicity_event_count)
	PeriodicityEventCount int
	// PeriodicityWindowSeconds is the rolling window length (from config: periodicity_window_seconds)
	PeriodicityWindowSeconds int
}

var (
	// ErrInvalidF0Band indicates f0_min_hz must be below f0_max_hz
	ErrInvalidF0Band = errors.New("f0_min_hz must be less than f0_max_hz")
	// ErrInvalidDurationBounds indicates min duration must not exceed max duration
	ErrInvalidDurationBounds = errors.New("min_duration_seconds must not exceed max_duration_seconds")
	// ErrInvalidEventCount indicates the periodicity event count must be at least 1
	ErrInvalidEventCount = errors.New("periodicity_event_count must be at least 1")
	// ErrInvalidPeriodicityWindow indicates the periodicity window must be positive
	ErrInvalidPeriodicityWindow = errors.New("periodicity_window_seconds must be positive")
	// ErrNegativeThreshold indicates feature thresholds must be non-negative
	ErrNegativeThreshold = errors.New("feature thresholds must be non-negative")
)

// DefaultThresholds returns the reference parameters tuned for snore
// detection on a 16 kHz microphone signal.
func DefaultThresholds() Thresholds {
	return Thresholds{
		EnergyThreshold:           0.015,
		F0ConfidenceThreshold:     0.05,
		SpectralCentroidThreshold: 500,
		ZCRThreshold:              0.06,
		F0MinHz:                   70,
		F0MaxHz:                   150,
		MinDurationSeconds:        0.2,
		MaxDurationSeconds:        3.0,
		PeriodicityEventCount:     4,
		PeriodicityWindowSeconds:  45,
	}
}

// Validate checks the invariants the detection core relies on.
func (t Thresholds) Validate() error {
	var errs []error

	if t.EnergyThreshold < 0 || t.F0ConfidenceThreshold < 0 ||
		t.SpectralCentroidThreshold < 0 || t.ZCRThreshold < 0 {
		errs = append(errs, ErrNegativeThreshold)
	}
	if t.F0MinHz >= t.F0MaxHz {
		errs = append(errs, fmt.Errorf("%w: got [%v, %v]", ErrInvalidF0Band, t.F0MinHz, t.F0MaxHz))
	}
	if t.MinDurationSeconds > t.MaxDurationSeconds {
		errs = append(errs, fmt.Errorf("%w: got [%v, %v]",
			ErrInvalidDurationBounds, t.MinDurationSeconds, t.MaxDurationSeconds))
	}
	if t.PeriodicityEventCount < 1 {
		errs = append(errs, ErrInvalidEventCount)
	}
	if t.PeriodicityWindowSeconds <= 0 {
		errs = append(errs, ErrInvalidPeriodicityWindow)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
