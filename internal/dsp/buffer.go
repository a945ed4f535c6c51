// internal/dsp/buffer.go
// Package dsp implements the real-time snore detection pipeline: streaming
// buffer management, band-pass filtering, short-time feature extraction,
// rule-based frame classification and periodicity tracking.
package dsp

import (
	"errors"
	"log/slog"
)

var (
	// ErrInvalidWindowSize indicates the analysis window size must be positive
	ErrInvalidWindowSize = errors.New("analysis window size must be positive")
	// ErrInvalidCapacity indicates capacity must be at least one analysis window
	ErrInvalidCapacity = errors.New("buffer capacity must be at least one analysis window")
)

// AnalysisBuffer accumulates arbitrary-sized capture blocks into fixed-duration
// analysis windows. The backing array is allocated once at construction and
// reused for the lifetime of the buffer; steady-state operation performs no
// allocation. Not safe for concurrent use - a single pipeline worker owns it.
type AnalysisBuffer struct {
	data       []float32 // fixed-capacity backing storage
	fill       int       // logical fill length, never exceeds len(data)
	windowSize int       // samples per analysis window

	// window is the reusable output slice handed to the caller. Its contents
	// are valid until the next Push call.
	window []float32

	// dropped counts samples discarded by capacity overflows
	dropped uint64
}

// NewAnalysisBuffer creates a buffer that slices off windows of windowSize
// samples. Capacity must be at least windowSize; the reference configuration
// uses twice the window size to tolerate bursty capture blocks.
func NewAnalysisBuffer(windowSize, capacity int) (*AnalysisBuffer, error) {
	if windowSize <= 0 {
		return nil, ErrInvalidWindowSize
	}
	if capacity < windowSize {
		return nil, ErrInvalidCapacity
	}

	return &AnalysisBuffer{
		data:       make([]float32, capacity),
		windowSize: windowSize,
		window:     make([]float32, windowSize),
	}, nil
}

// Push appends a capture block and returns one complete analysis window if
// enough samples have accumulated, or nil otherwise. If appending would exceed
// capacity, the oldest overflowing samples are discarded first; this is a
// bounded data-loss path, never an error. The returned slice is reused across
// calls - consume it before the next Push.
func (b *AnalysisBuffer) Push(block []float32) []float32 {
	if len(block) > len(b.data) {
		// Block alone exceeds capacity: keep only its newest samples.
		lost := len(block) - len(b.data)
		b.dropped += uint64(b.fill + lost)
		slog.Warn("analysis buffer overflow, dropping oldest samples",
			"dropped", b.fill+lost, "block", len(block), "capacity", len(b.data))
		copy(b.data, block[lost:])
		b.fill = len(b.data)
	} else {
		if overflow := b.fill + len(block) - len(b.data); overflow > 0 {
			copy(b.data, b.data[overflow:b.fill])
			b.fill -= overflow
			b.dropped += uint64(overflow)
			slog.Warn("analysis buffer overflow, dropping oldest samples",
				"dropped", overflow, "fill", b.fill, "capacity", len(b.data))
		}
		copy(b.data[b.fill:], block)
		b.fill += len(block)
	}

	if b.fill < b.windowSize {
		return nil
	}

	copy(b.window, b.data[:b.windowSize])
	remaining := b.fill - b.windowSize
	if remaining > 0 {
		copy(b.data, b.data[b.windowSize:b.fill])
	}
	b.fill = remaining

	return b.window
}

// Fill returns the current logical fill length in samples.
func (b *AnalysisBuffer) Fill() int {
	return b.fill
}

// WindowSize returns the configured analysis window size in samples.
func (b *AnalysisBuffer) WindowSize() int {
	return b.windowSize
}

// Capacity returns the fixed backing capacity in samples.
func (b *AnalysisBuffer) Capacity() int {
	return len(b.data)
}

// Dropped returns the total number of samples discarded by overflows.
func (b *AnalysisBuffer) Dropped() uint64 {
	return b.dropped
}

// Reset discards all buffered samples so a new session starts clean.
func (b *AnalysisBuffer) Reset() {
	b.fill = 0
}
