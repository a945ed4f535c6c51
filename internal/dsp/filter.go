// internal/dsp/filter.go
package dsp

import (
	"errors"
	"math"
	"math/cmplx"
)

var (
	// ErrInvalidFilterOrder indicates the filter order must be positive
	ErrInvalidFilterOrder = errors.New("filter order must be positive")
	// ErrInvalidFilterBand indicates the pass band must satisfy 0 < low < high < Nyquist
	ErrInvalidFilterBand = errors.New("filter band must satisfy 0 < low < high < Nyquist frequency")
)

// biquad is one second-order section in transposed direct-form II.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// BandpassFilter is a Butterworth band-pass filter realized as a cascade of
// second-order sections. Coefficients are designed once at construction via
// the analog prototype -> band-pass transform -> bilinear transform route.
// Each analysis window is filtered independently with zero initial state, so
// the filter carries no memory across windows.
type BandpassFilter struct {
	sections []biquad
	state    [][2]float64
}

// NewBandpassFilter designs a Butterworth band-pass filter of the given
// prototype order (the digital filter has twice that order). The reference
// configuration for snore detection is order 5, 80-1600 Hz at 16 kHz: wide
// enough to keep snoring fundamentals and their first harmonics, narrow
// enough to reject rumble and hiss.
func NewBandpassFilter(order int, lowHz, highHz, sampleRate float64) (*BandpassFilter, error) {
	if order <= 0 {
		return nil, ErrInvalidFilterOrder
	}
	nyquist := sampleRate / 2
	if lowHz <= 0 || lowHz >= highHz || highHz >= nyquist {
		return nil, ErrInvalidFilterBand
	}

	// Pre-warp the band edges so the bilinear transform lands them exactly.
	w1 := 2 * sampleRate * math.Tan(math.Pi*lowHz/sampleRate)
	w2 := 2 * sampleRate * math.Tan(math.Pi*highHz/sampleRate)
	w0 := math.Sqrt(w1 * w2)
	bw := w2 - w1

	// Analog low-pass prototype poles on the unit circle, left half-plane.
	// The band-pass transform maps each prototype pole to a pair of s-poles.
	zPoles := make([]complex128, 0, 2*order)
	fs2 := complex(2*sampleRate, 0)
	for k := 0; k < order; k++ {
		theta := math.Pi/2 + math.Pi*float64(2*k+1)/float64(2*order)
		p := cmplx.Rect(1, theta)

		bp := complex(bw, 0) * p
		d := cmplx.Sqrt(bp*bp - complex(4*w0*w0, 0))
		s1 := (bp + d) / 2
		s2 := (bp - d) / 2

		// Bilinear transform to the z-plane.
		zPoles = append(zPoles, (fs2+s1)/(fs2-s1), (fs2+s2)/(fs2-s2))
	}

	sections := pairPoles(zPoles)

	// The band-pass zeros are n at z=1 and n at z=-1; each section takes one
	// of each, giving the numerator (1 - z^-2).
	for i := range sections {
		sections[i].b0 = 1
		sections[i].b1 = 0
		sections[i].b2 = -1
	}

	// Normalize to unit gain at the (digital) center frequency.
	wc := 2 * math.Atan(w0/(2*sampleRate))
	mag := cascadeMagnitude(sections, wc)
	if mag > 0 {
		g := math.Pow(1/mag, 1/float64(len(sections)))
		for i := range sections {
			sections[i].b0 *= g
			sections[i].b1 *= g
			sections[i].b2 *= g
		}
	}

	return &BandpassFilter{
		sections: sections,
		state:    make([][2]float64, len(sections)),
	}, nil
}

// pairPoles groups z-plane poles into complex-conjugate (or real) pairs and
// returns one denominator per pair. Poles of a real-coefficient filter always
// admit such a grouping.
func pairPoles(poles []complex128) []biquad {
	const tol = 1e-8

	used := make([]bool, len(poles))
	sections := make([]biquad, 0, len(poles)/2)

	for i := range poles {
		if used[i] {
			continue
		}
		used[i] = true
		pi := poles[i]

		// Find the matching conjugate (or another real pole).
		match := -1
		want := cmplx.Conj(pi)
		best := math.Inf(1)
		for j := i + 1; j < len(poles); j++ {
			if used[j] {
				continue
			}
			if math.Abs(imag(pi)) < tol {
				// Real pole: pair with the nearest unused real pole.
				if math.Abs(imag(poles[j])) < tol {
					d := cmplx.Abs(poles[j] - pi)
					if d < best {
						best = d
						match = j
					}
				}
				continue
			}
			d := cmplx.Abs(poles[j] - want)
			if d < best {
				best = d
				match = j
			}
		}
		if match < 0 {
			// Odd leftover real pole: first-order section expressed as a biquad.
			sections = append(sections, biquad{a1: -real(pi)})
			continue
		}
		used[match] = true
		pj := poles[match]

		sections = append(sections, biquad{
			a1: -real(pi + pj),
			a2: real(pi * pj),
		})
	}

	return sections
}

// cascadeMagnitude evaluates the cascade's magnitude response at the given
// normalized frequency (radians per sample).
func cascadeMagnitude(sections []biquad, w float64) float64 {
	z1 := cmplx.Rect(1, -w) // z^-1
	z2 := z1 * z1

	h := complex(1, 0)
	for _, s := range sections {
		num := complex(s.b0, 0) + complex(s.b1, 0)*z1 + complex(s.b2, 0)*z2
		den := complex(1, 0) + complex(s.a1, 0)*z1 + complex(s.a2, 0)*z2
		h *= num / den
	}
	return cmplx.Abs(h)
}

// Apply filters one analysis window in place. State is cleared first, so each
// window is filtered independently (single-direction IIR, zero-phase not
// required for thresholding features).
func (f *BandpassFilter) Apply(samples []float32) {
	for i := range f.state {
		f.state[i][0] = 0
		f.state[i][1] = 0
	}

	for n := range samples {
		x := float64(samples[n])
		for i, s := range f.sections {
			y := s.b0*x + f.state[i][0]
			f.state[i][0] = s.b1*x - s.a1*y + f.state[i][1]
			f.state[i][1] = s.b2*x - s.a2*y
			x = y
		}
		samples[n] = float32(x)
	}
}

// Sections returns the number of second-order sections (for inspection).
func (f *BandpassFilter) Sections() int {
	return len(f.sections)
}
