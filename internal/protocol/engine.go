package protocol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/safety"
)

// Logger defines the logging interface the engine requires.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// Issuer is the narrow contract the engine holds with the safety
// authority: ask permission, issue commands. Command failures escalate to
// a fault inside Issue, so the engine never needs a separate fault path.
type Issuer interface {
	PermitEmission() bool
	Issue(ctx context.Context, dev hal.DeviceID, cmd hal.Command) error
}

// Config holds engine tuning parameters.
type Config struct {
	// TickInterval is the period of the execution loop.
	TickInterval time.Duration
}

// actState tracks one in-flight action within the current line.
type actState struct {
	action  Action
	elapsed time.Duration
	started bool
	done    bool
}

// Engine executes a loaded protocol in time, one tick at a time. It
// handles both layouts: the sequential variant runs as single-action
// lines. Every power command asks the safety authority first; a denial
// aborts the whole run.
type Engine struct {
	issuer Issuer
	limits safety.Limits
	cfg    Config
	log    Logger

	mu           sync.Mutex
	proto        *Protocol
	lines        []Line
	state        ExecState
	lineIdx      int
	acts         []actState
	lineElapsed  time.Duration
	totalElapsed time.Duration
	abortReason  string

	stopOnce sync.Once
	done     chan struct{}
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an idle engine.
func NewEngine(issuer Issuer, limits safety.Limits, cfg Config, opts ...Option) (*Engine, error) {
	if issuer == nil {
		return nil, fmt.Errorf("protocol: issuer is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 50 * time.Millisecond
	}
	e := &Engine{
		issuer: issuer,
		limits: limits,
		cfg:    cfg,
		log:    noopLogger{},
		state:  ExecIdle,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Load validates and accepts a protocol. The whole protocol is rejected
// on the first limit violation; nothing is retained from a failed load.
func (e *Engine) Load(p Protocol) error {
	if err := Validate(p, e.limits); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == ExecRunning || e.state == ExecPaused {
		return ErrAlreadyRunning
	}
	e.proto = &p
	e.lines = p.lines()
	e.resetLocked()
	e.log.Info("protocol loaded",
		"protocol_id", p.ID, "variant", string(p.Variant()), "lines", len(e.lines))
	return nil
}

func (e *Engine) resetLocked() {
	e.state = ExecIdle
	e.lineIdx = 0
	e.acts = nil
	e.lineElapsed = 0
	e.totalElapsed = 0
	e.abortReason = ""
}

// Start begins execution from the first line. Commands are issued by the
// following ticks, never by Start itself.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proto == nil {
		return ErrNoProtocol
	}
	if e.state == ExecRunning || e.state == ExecPaused {
		return ErrAlreadyRunning
	}
	e.resetLocked()
	e.enterLineLocked(0)
	e.state = ExecRunning
	e.log.Info("protocol started", "protocol_id", e.proto.ID)
	return nil
}

func (e *Engine) enterLineLocked(idx int) {
	e.lineIdx = idx
	e.lineElapsed = 0
	if idx >= len(e.lines) {
		e.acts = nil
		return
	}
	line := e.lines[idx]
	e.acts = make([]actState, len(line.Actions))
	for i, a := range line.Actions {
		e.acts[i] = actState{action: a}
	}
}

// Tick advances execution by dt. Due commands are issued in action order;
// a permission denial or command failure aborts the run before any further
// command is issued. Run calls this on its loop; tests call it directly
// with a recorded dt sequence.
func (e *Engine) Tick(ctx context.Context, dt time.Duration) error {
	e.mu.Lock()
	if e.state != ExecRunning {
		e.mu.Unlock()
		return nil
	}

	e.lineElapsed += dt
	e.totalElapsed += dt

	lineDone := true
	for i := range e.acts {
		st := &e.acts[i]
		if st.done {
			continue
		}
		if err := e.advanceActionLocked(ctx, st, dt); err != nil {
			reason := err.Error()
			e.abortLocked(reason)
			e.mu.Unlock()
			e.disable(ctx)
			return fmt.Errorf("%w: %s", ErrAborted, reason)
		}
		if !st.done {
			lineDone = false
		}
	}

	if lineDone {
		nextIdx := e.lineIdx + 1
		if nextIdx >= len(e.lines) {
			e.state = ExecCompleted
			e.lineIdx = len(e.lines)
			e.acts = nil
			e.log.Info("protocol completed",
				"protocol_id", e.proto.ID, "elapsed", e.totalElapsed.String())
			e.mu.Unlock()
			e.disable(ctx)
			return nil
		}
		e.enterLineLocked(nextIdx)
	}
	e.mu.Unlock()
	return nil
}

// advanceActionLocked starts an action on its first tick, advances its
// elapsed time and issues whatever command is due. Ramps issue a fresh
// setpoint every tick.
func (e *Engine) advanceActionLocked(ctx context.Context, st *actState, dt time.Duration) error {
	a := st.action

	if !st.started {
		st.started = true
		if err := e.issueInitialLocked(ctx, a); err != nil {
			return err
		}
	}

	st.elapsed += dt
	if st.elapsed > a.Duration.Std() {
		st.elapsed = a.Duration.Std()
	}

	if a.Kind == KindRamp {
		if err := e.issuePowerLocked(ctx, Setpoint(a, st.elapsed)); err != nil {
			return err
		}
	}

	if st.elapsed >= a.Duration.Std() {
		st.done = true
	}
	return nil
}

func (e *Engine) issueInitialLocked(ctx context.Context, a Action) error {
	switch a.Kind {
	case KindSetPower:
		return e.issuePowerLocked(ctx, a.Watts)
	case KindRamp:
		return e.issuePowerLocked(ctx, Setpoint(a, 0))
	case KindMoveTo:
		return e.issuer.Issue(ctx, a.Device, hal.MoveTo{PositionMM: a.PositionMM})
	case KindSetTemperature:
		return e.issuer.Issue(ctx, a.Device, hal.SetTemperature{Celsius: a.Celsius})
	case KindAimingBeam:
		return e.issuer.Issue(ctx, a.Device, hal.AimingBeam{On: a.On})
	case KindWait:
		return nil
	}
	return nil
}

// issuePowerLocked gates every emission command on the authority before
// issuing it. Denial means the authority is not in a treating state, so
// the caller aborts the whole run.
func (e *Engine) issuePowerLocked(ctx context.Context, watts float64) error {
	if watts > 0 && !e.issuer.PermitEmission() {
		return safety.ErrEmissionDenied
	}
	return e.issuer.Issue(ctx, hal.DeviceLaser, hal.LaserPower{Watts: watts})
}

// abortLocked marks the run aborted, preserving the cursor position for
// the audit trail.
func (e *Engine) abortLocked(reason string) {
	e.state = ExecAborted
	e.abortReason = reason
	e.log.Warn("protocol aborted", "protocol_id", e.proto.ID, "reason", reason)
}

// disable commands the laser off outside the engine lock. Disable is not
// permission-gated and is safe to repeat.
func (e *Engine) disable(ctx context.Context) {
	if err := e.issuer.Issue(ctx, hal.DeviceLaser, hal.LaserDisable{}); err != nil {
		e.log.Error("laser disable failed", "error", err)
	}
}

// Pause freezes the cursor and in-flight action state, commanding the
// laser off while frozen.
func (e *Engine) Pause(ctx context.Context) error {
	e.mu.Lock()
	if e.state != ExecRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.state = ExecPaused
	id := e.proto.ID
	e.mu.Unlock()

	e.disable(ctx)
	e.log.Info("protocol paused", "protocol_id", id)
	return nil
}

// Resume continues from the exact frozen position. In-flight commands are
// re-issued at their frozen values, which requires the authority to be
// treating again; if any re-issue fails the engine stays paused.
func (e *Engine) Resume(ctx context.Context) error {
	e.mu.Lock()
	if e.state != ExecPaused {
		e.mu.Unlock()
		return ErrNotPaused
	}

	for i := range e.acts {
		st := e.acts[i]
		if !st.started || st.done {
			continue
		}
		if err := e.reissueLocked(ctx, st); err != nil {
			e.mu.Unlock()
			e.disable(ctx)
			return fmt.Errorf("protocol: resume: %w", err)
		}
	}
	e.state = ExecRunning
	id := e.proto.ID
	e.mu.Unlock()

	e.log.Info("protocol resumed", "protocol_id", id)
	return nil
}

func (e *Engine) reissueLocked(ctx context.Context, st actState) error {
	a := st.action
	switch a.Kind {
	case KindSetPower:
		return e.issuePowerLocked(ctx, a.Watts)
	case KindRamp:
		return e.issuePowerLocked(ctx, Setpoint(a, st.elapsed))
	default:
		// Positioning and thermal targets persist at the device; waits
		// simply continue counting.
		return nil
	}
}

// Abort cancels the active run, if any, and commands the laser off. Safe
// to call in any state; used by both the operator surface and the safety
// authority's fault path.
func (e *Engine) Abort(ctx context.Context, reason string) {
	e.mu.Lock()
	if e.state != ExecRunning && e.state != ExecPaused {
		e.mu.Unlock()
		return
	}
	e.abortLocked(reason)
	e.mu.Unlock()
	e.disable(ctx)
}

// Progress returns a read-only snapshot of the execution cursor.
func (e *Engine) Progress() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := Cursor{
		State:        e.state,
		Line:         e.lineIdx,
		TotalLines:   len(e.lines),
		LineElapsed:  e.lineElapsed,
		TotalElapsed: e.totalElapsed,
		AbortReason:  e.abortReason,
	}
	if e.proto != nil {
		c.ProtocolID = e.proto.ID
		c.Variant = e.proto.Variant()
	}
	if len(e.acts) > 0 {
		c.Actions = make([]ActionProgress, len(e.acts))
		for i, st := range e.acts {
			c.Actions[i] = ActionProgress{
				Kind:    st.action.Kind,
				Device:  st.action.Device,
				Elapsed: st.elapsed,
				Done:    st.done,
			}
		}
	}
	return c
}

// State returns the current execution state.
func (e *Engine) State() ExecState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Run drives the engine at the configured tick rate until the context is
// cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Info("protocol engine started", "tick_interval", e.cfg.TickInterval.String())

	for {
		select {
		case <-ctx.Done():
			e.Abort(context.Background(), "shutdown")
			e.log.Info("protocol engine stopped", "reason", "context cancelled")
			return
		case <-e.done:
			e.Abort(context.Background(), "shutdown")
			e.log.Info("protocol engine stopped", "reason", "stop requested")
			return
		case <-ticker.C:
			if err := e.Tick(ctx, e.cfg.TickInterval); err != nil {
				e.log.Warn("tick aborted execution", "error", err)
			}
		}
	}
}

// Stop terminates the Run loop. Safe to call multiple times.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}
