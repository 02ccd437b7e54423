// Package watchdog supervises the control loop heartbeat and fires a
// timeout callback when the loop stalls.
//
// The watchdog runs on its own goroutine so a wedged control loop cannot
// prevent detection. It fires once per stall episode: after firing it
// stays latched until Rearm, and resumed heartbeats alone never clear it.
// The latch is what lets the safety layer require an explicit supervisor
// action before leaving the fault state.
package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/photarc/lumacore/internal/hal"
)

// ErrNoClock is returned when a watchdog is constructed without a clock.
var ErrNoClock = errors.New("watchdog: clock is required")

// Logger defines the logging interface the watchdog requires.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Config holds watchdog timing parameters.
type Config struct {
	// Timeout is the maximum silence between heartbeats before the
	// watchdog fires.
	Timeout time.Duration

	// CheckInterval is how often the supervision goroutine evaluates
	// the heartbeat age.
	CheckInterval time.Duration
}

// Watchdog watches for control loop stalls.
type Watchdog struct {
	clock     hal.Clock
	cfg       Config
	onTimeout func(silence time.Duration)
	log       Logger

	mu       sync.Mutex
	lastBeat time.Duration
	fired    bool
	firedAt  time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// New creates a watchdog. The timeout callback runs on the supervision
// goroutine when a stall is detected, at most once per episode.
func New(clock hal.Clock, cfg Config, onTimeout func(silence time.Duration), log Logger) (*Watchdog, error) {
	if clock == nil {
		return nil, ErrNoClock
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 100 * time.Millisecond
	}
	if log == nil {
		log = noopLogger{}
	}
	return &Watchdog{
		clock:     clock,
		cfg:       cfg,
		onTimeout: onTimeout,
		log:       log,
		lastBeat:  clock.Monotonic(),
		done:      make(chan struct{}),
	}, nil
}

// Heartbeat records liveness from the control loop. Calling it while the
// watchdog is latched does not clear the latch; it only refreshes the
// beat timestamp so FreshBeatSinceTimeout can observe recovery.
func (w *Watchdog) Heartbeat() {
	w.mu.Lock()
	w.lastBeat = w.clock.Monotonic()
	w.mu.Unlock()
}

// Check evaluates the heartbeat age once and fires the timeout callback
// if the loop has stalled and the watchdog is not already latched.
// Run calls this periodically; tests call it directly.
func (w *Watchdog) Check() {
	w.mu.Lock()
	now := w.clock.Monotonic()
	silence := now - w.lastBeat
	shouldFire := !w.fired && silence > w.cfg.Timeout
	if shouldFire {
		w.fired = true
		w.firedAt = now
	}
	cb := w.onTimeout
	w.mu.Unlock()

	if shouldFire {
		w.log.Error("watchdog timeout", "silence_ms", silence.Milliseconds())
		if cb != nil {
			cb(silence)
		}
	}
}

// Fired reports whether the watchdog is latched from a stall.
func (w *Watchdog) Fired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fired
}

// FreshBeatSinceTimeout reports whether a heartbeat has arrived after the
// watchdog fired. The safety layer requires this before a supervisor may
// clear a watchdog fault, proving the control loop actually recovered.
func (w *Watchdog) FreshBeatSinceTimeout() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fired {
		return false
	}
	return w.lastBeat > w.firedAt
}

// Rearm releases the latch so the watchdog can fire on a future stall.
// Rearm fails silently if the control loop has not produced a heartbeat
// since the timeout; callers check FreshBeatSinceTimeout first.
func (w *Watchdog) Rearm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.fired || w.lastBeat <= w.firedAt {
		return
	}
	w.fired = false
	w.firedAt = 0
	w.log.Info("watchdog rearmed")
}

// Run supervises the heartbeat until the context is cancelled or Stop is
// called.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	w.log.Info("watchdog started",
		"timeout_ms", w.cfg.Timeout.Milliseconds(),
		"check_interval_ms", w.cfg.CheckInterval.Milliseconds())

	for {
		select {
		case <-ctx.Done():
			w.log.Info("watchdog stopped", "reason", "context cancelled")
			return
		case <-w.done:
			w.log.Info("watchdog stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			w.Check()
		}
	}
}

// Stop terminates the Run loop. Safe to call multiple times.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}
