// internal/detector/service.go
// Package detector glues microphone capture to the rule-based detection
// chain: capture blocks accumulate in an analysis buffer, and every full
// window runs through the RuleProcessor on a single worker goroutine.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snoreguard/snoreguard/internal/audio"
	"github.com/snoreguard/snoreguard/internal/dsp"
	"github.com/snoreguard/snoreguard/internal/recovery"
)

var (
	ErrAlreadyRunning = errors.New("detector already running")
	ErrNotRunning     = errors.New("detector not running")
	ErrStopTimeout    = errors.New("detector worker did not stop in time")
)

// stopTimeout bounds how long Stop waits for the worker to drain.
const stopTimeout = time.Second

// Config holds the pipeline configuration derived from application settings.
type Config struct {
	Audio   audio.Config
	Feature dsp.FeatureConfig
}

// Service runs the detection pipeline. Results are published on the Results
// channel with drop-on-full semantics so a slow UI never stalls detection;
// confirmed episodes are additionally delivered through the detection
// callback and the Detections channel.
type Service struct {
	cfg Config

	capture   *audio.Capture
	buffer    *dsp.AnalysisBuffer
	processor *dsp.RuleProcessor

	// thresholds is swapped atomically by UpdateThresholds; the worker reads
	// it once per window.
	thresholds atomic.Pointer[dsp.Thresholds]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Results delivers one WindowResult per analysis window
	Results chan dsp.WindowResult
	// Detections delivers one timestamp per confirmed snoring episode
	Detections chan time.Time
}

// New creates a detection service. The capture backend is initialized but not
// started. callback, if non-nil, runs on the worker goroutine for every
// confirmed episode.
func New(cfg Config, t dsp.Thresholds, callback dsp.DetectionCallback) (*Service, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	s := &Service{
		cfg:        cfg,
		Results:    make(chan dsp.WindowResult, 8),
		Detections: make(chan time.Time, 8),
	}
	s.thresholds.Store(&t)

	buffer, err := dsp.NewAnalysisBuffer(cfg.Feature.WindowSamples, 2*cfg.Feature.WindowSamples)
	if err != nil {
		return nil, fmt.Errorf("create analysis buffer: %w", err)
	}
	s.buffer = buffer

	processor, err := dsp.NewRuleProcessor(cfg.Feature, func() {
		if callback != nil {
			callback()
		}
		select {
		case s.Detections <- time.Now():
		default:
		}
	})
	if err != nil {
		return nil, err
	}
	s.processor = processor

	s.capture = audio.New(cfg.Audio)
	if err := s.capture.Init(); err != nil {
		return nil, fmt.Errorf("init capture: %w", err)
	}

	return s, nil
}

// UpdateThresholds swaps the detection parameters. Takes effect at the next
// window boundary. Safe to call from any goroutine.
func (s *Service) UpdateThresholds(t dsp.Thresholds) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	s.thresholds.Store(&t)
	slog.Info("detection thresholds updated")
	return nil
}

// Thresholds returns the currently active detection parameters.
func (s *Service) Thresholds() dsp.Thresholds {
	return *s.thresholds.Load()
}

// Start begins capture and detection. Calling Start while running is a no-op
// besides a warning.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		slog.Warn("detector start ignored, already running")
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := s.capture.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}

	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer recovery.HandlePanicFunc(func() {
			close(s.done)
		})
		s.run(runCtx)
		close(s.done)
	}()

	slog.Info("detector started",
		"sample_rate", s.cfg.Feature.SampleRate,
		"window_samples", s.cfg.Feature.WindowSamples)
	return nil
}

// Stop halts capture, joins the worker and resets per-session state. The
// periodicity queue and the analysis buffer are cleared so a later Start
// begins a fresh session.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNotRunning
	}

	s.cancel()
	if err := s.capture.Stop(); err != nil && !errors.Is(err, audio.ErrNotRunning) {
		slog.Warn("stop capture", "error", err)
	}

	select {
	case <-s.done:
	case <-time.After(stopTimeout):
		s.running = false
		return ErrStopTimeout
	}

	s.buffer.Reset()
	s.processor.ResetPeriodicity()
	s.running = false

	slog.Info("detector stopped", "blocks_dropped", s.buffer.Dropped())
	return nil
}

// Close stops detection if needed and releases the audio backend.
func (s *Service) Close() error {
	if s.IsRunning() {
		if err := s.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
			slog.Warn("stop on close", "error", err)
		}
	}
	return s.capture.Close()
}

// IsRunning returns true while the pipeline worker is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ResetSession clears the periodicity queue without stopping capture.
func (s *Service) ResetSession() {
	s.processor.ResetPeriodicity()
}

// run is the pipeline worker loop: one goroutine owns the buffer and the
// processor, so none of the dsp types need locking.
func (s *Service) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-s.capture.Samples:
			if !ok {
				return
			}
			window := s.buffer.Push(block)
			if window == nil {
				continue
			}
			s.processWindow(window)
		}
	}
}

func (s *Service) processWindow(window []float32) {
	t := *s.thresholds.Load()

	result, err := s.processor.ProcessWindow(window, t)
	if err != nil {
		// Only a framing bug produces an error here; log and keep running.
		slog.Error("process window", "error", err)
		return
	}

	select {
	case s.Results <- result:
	default:
		// UI consumer is behind; detection state already advanced, so
		// dropping the visualization payload is harmless.
	}
}
