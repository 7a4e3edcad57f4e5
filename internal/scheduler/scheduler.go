// Package scheduler triggers automatic backups after data changes and on a
// fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"expensia/internal/clock"
)

// Config holds the scheduler timings
type Config struct {
	// Debounce is how long the data must stay unchanged before a backup (default: 5s)
	Debounce time.Duration

	// Interval is the periodic backup interval (default: 1h)
	Interval time.Duration
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		Debounce: 5 * time.Second,
		Interval: time.Hour,
	}
}

// BackupFunc performs one backup.
type BackupFunc func(ctx context.Context) error

// Gate reports whether automatic backups may run right now. It is evaluated
// each time a trigger fires, never cached.
type Gate func(ctx context.Context) bool

// Scheduler runs BackupFunc after bursts of changes settle and periodically,
// whenever Gate allows it.
type Scheduler struct {
	backup BackupFunc
	gate   Gate
	clock  clock.Clock
	config Config

	// Lifecycle management
	mu      sync.Mutex
	running bool
	ctx     context.Context
	pending clock.Timer
	gen     uint64
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(backup BackupFunc, gate Gate, clk clock.Clock, config Config) *Scheduler {
	def := DefaultConfig()
	if config.Debounce <= 0 {
		config.Debounce = def.Debounce
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{backup: backup, gate: gate, clock: clk, config: config}
}

// Start begins the periodic loop and accepts change notifications. Returns an
// error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.ctx = ctx
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	stop, done := s.stopCh, s.doneCh
	ticker := s.clock.NewTicker(s.config.Interval)
	s.mu.Unlock()

	go s.runLoop(ctx, ticker, stop, done)

	slog.InfoContext(ctx, "Auto-backup scheduler started",
		"debounce", s.config.Debounce,
		"interval", s.config.Interval)
	return nil
}

// Stop cancels any pending debounced backup and waits for the loop to exit.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
		slog.InfoContext(ctx, "Auto-backup scheduler stopped")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Auto-backup scheduler stop timed out")
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NotifyChange restarts the debounce window. Only the last of a burst of
// changes leads to a backup. Ignored while stopped.
func (s *Scheduler) NotifyChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if s.pending != nil {
		s.pending.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending = s.clock.AfterFunc(s.config.Debounce, func() { s.fireDebounced(gen) })
}

func (s *Scheduler) fireDebounced(gen uint64) {
	s.mu.Lock()
	// A newer change or Stop superseded this timer after it was already due.
	if !s.running || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	ctx := s.ctx
	s.mu.Unlock()

	s.run(ctx, "change")
}

func (s *Scheduler) runLoop(ctx context.Context, ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.run(ctx, "periodic")
		}
	}
}

func (s *Scheduler) run(ctx context.Context, trigger string) {
	if !s.gate(ctx) {
		slog.DebugContext(ctx, "Auto-backup skipped", "trigger", trigger)
		return
	}
	if err := s.backup(ctx); err != nil {
		slog.WarnContext(ctx, "Auto-backup failed", "trigger", trigger, "error", err)
		return
	}
	slog.InfoContext(ctx, "Auto-backup completed", "trigger", trigger)
}
