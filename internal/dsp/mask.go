// internal/dsp/mask.go
package dsp

// Masks holds the per-criterion pass/fail sequences for one analysis window
// plus their combined AND. All five per-criterion masks are part of the output
// contract: the diagnostics layer renders them as indicator lamps.
type Masks struct {
	Energy           []bool
	F0Confidence     []bool
	F0Range          []bool
	SpectralCentroid []bool
	ZCR              []bool
	Combined         []bool
}

// NumFrames returns the number of frames covered by the masks.
func (m Masks) NumFrames() int {
	return len(m.Combined)
}

// MaskEngine evaluates the five detection predicates per frame. Each predicate
// is pure and frame-local; there is no cross-frame state. Mask storage is
// allocated once and reused across windows.
type MaskEngine struct {
	energy   []bool
	f0Conf   []bool
	f0Range  []bool
	centroid []bool
	zcr      []bool
	combined []bool
}

// NewMaskEngine creates an engine with storage for maxFrames frames.
func NewMaskEngine(maxFrames int) *MaskEngine {
	return &MaskEngine{
		energy:   make([]bool, maxFrames),
		f0Conf:   make([]bool, maxFrames),
		f0Range:  make([]bool, maxFrames),
		centroid: make([]bool, maxFrames),
		zcr:      make([]bool, maxFrames),
		combined: make([]bool, maxFrames),
	}
}

// Classify evaluates all predicates against the given thresholds and returns
// the per-criterion masks and their AND. The returned slices alias internal
// storage and are valid until the next Classify call. Windows longer than the
// engine's capacity are truncated.
func (m *MaskEngine) Classify(features FrameFeatures, t Thresholds) Masks {
	n := min(features.NumFrames(), len(m.combined))

	for i := 0; i < n; i++ {
		m.energy[i] = features.RMS[i] > t.EnergyThreshold
		m.f0Conf[i] = features.VoicedProb[i] > t.F0ConfidenceThreshold
		m.f0Range[i] = features.F0[i] > 0 &&
			features.F0[i] >= t.F0MinHz && features.F0[i] <= t.F0MaxHz
		m.centroid[i] = features.SpectralCentroid[i] < t.SpectralCentroidThreshold
		m.zcr[i] = features.ZCR[i] < t.ZCRThreshold

		m.combined[i] = m.energy[i] && m.f0Conf[i] && m.f0Range[i] &&
			m.centroid[i] && m.zcr[i]
	}

	return Masks{
		Energy:           m.energy[:n],
		F0Confidence:     m.f0Conf[:n],
		F0Range:          m.f0Range[:n],
		SpectralCentroid: m.centroid[:n],
		ZCR:              m.zcr[:n],
		Combined:         m.combined[:n],
	}
}
