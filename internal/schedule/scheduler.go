// internal/schedule/scheduler.go
// Package schedule starts and stops detection at configured times of day.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snoreguard/snoreguard/internal/recovery"
)

var ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM in 24-hour form")

// TimeOfDay is a minute-resolution wall-clock time.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	if _, err := fmt.Sscanf(s, "%02d:%02d", &t.Hour, &t.Minute); err != nil {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	return t, nil
}

// String formats the time back to HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// matches reports whether the instant falls inside this minute.
func (t TimeOfDay) matches(at time.Time) bool {
	return at.Hour() == t.Hour && at.Minute() == t.Minute
}

// Scheduler fires OnStart at the daily start time and OnStop at the daily
// stop time, once per matching minute. An overnight range (start after stop)
// works naturally since both triggers are independent.
type Scheduler struct {
	start TimeOfDay
	stop  TimeOfDay

	// OnStart and OnStop run on the scheduler goroutine
	OnStart func()
	OnStop  func()

	// now and tick are replaceable from tests
	now  func() time.Time
	tick time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	lastFired string
}

// New creates a scheduler for the given daily start and stop times.
func New(start, stop TimeOfDay, onStart, onStop func()) *Scheduler {
	return &Scheduler{
		start:   start,
		stop:    stop,
		OnStart: onStart,
		OnStop:  onStop,
		now:     time.Now,
		tick:    10 * time.Second,
	}
}

// Run starts the background scheduler goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer recovery.HandlePanicFunc(func() {
			close(s.done)
		})
		s.loop(runCtx)
		close(s.done)
	}()

	slog.Info("schedule active", "start", s.start, "stop", s.stop)
	return nil
}

// Stop halts the scheduler and waits for the goroutine to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	<-s.done
	s.running = false
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.check(s.now())
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-ticker.C:
			s.check(at)
		}
	}
}

// check fires at most one trigger per wall-clock minute.
func (s *Scheduler) check(at time.Time) {
	minute := at.Format("2006-01-02 15:04")
	if minute == s.lastFired {
		return
	}

	switch {
	case s.start.matches(at):
		s.lastFired = minute
		slog.Info("scheduled start", "at", s.start)
		if s.OnStart != nil {
			s.OnStart()
		}
	case s.stop.matches(at):
		s.lastFired = minute
		slog.Info("scheduled stop", "at", s.stop)
		if s.OnStop != nil {
			s.OnStop()
		}
	}
}
