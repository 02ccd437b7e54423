package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/interlock"
)

// Logger defines the logging interface the authority requires.
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

// WatchdogStatus is what the authority needs from the hardware watchdog
// to gate fault recovery.
type WatchdogStatus interface {
	Fired() bool
	FreshBeatSinceTimeout() bool
	Rearm()
}

// Config holds authority tuning parameters.
type Config struct {
	// StalenessWindow is the maximum age of an interlock snapshot that
	// may ground an emission permission.
	StalenessWindow time.Duration
}

// Authority is the single point of permission for laser emission. It owns
// the operating state and the latest interlock snapshot; every other
// component sees read-only copies. All device commands from the protocol
// layer pass through Issue so limits and permission are enforced on every
// command, not once at load.
type Authority struct {
	clock    hal.Clock
	sender   hal.CommandSender
	recorder EventRecorder
	limits   Limits
	cfg      Config
	log      Logger

	watchdog  WatchdogStatus
	heartbeat func()

	// onAbort is invoked on every fault entry so the protocol layer can
	// cancel execution without polling.
	onAbort func()

	mu          sync.RWMutex
	state       State
	latest      interlock.Status
	faultActive bool
	lastFault   *FaultRecord

	// lastWatts and lastWattsAt ground the per-command ramp check.
	lastWatts   float64
	lastWattsAt time.Duration
}

// Option configures optional authority collaborators.
type Option func(*Authority)

// WithLogger sets the authority logger.
func WithLogger(log Logger) Option {
	return func(a *Authority) { a.log = log }
}

// WithRecorder sets the event stream recorder.
func WithRecorder(r EventRecorder) Option {
	return func(a *Authority) { a.recorder = r }
}

// WithWatchdog wires the hardware watchdog for heartbeating and recovery
// gating.
func WithWatchdog(w WatchdogStatus, heartbeat func()) Option {
	return func(a *Authority) {
		a.watchdog = w
		a.heartbeat = heartbeat
	}
}

// WithAbortHandler registers a callback invoked once per fault episode.
// The protocol engine uses it to abort execution. It runs on its own
// goroutine because a fault can be raised from inside an engine-initiated
// Issue call; hardware outputs are already disabled before it fires.
func WithAbortHandler(fn func()) Option {
	return func(a *Authority) { a.onAbort = fn }
}

// NewAuthority creates an authority in the Off state.
//
// Parameters:
//   - clock: monotonic and wall time source
//   - sender: device command channel, used for safety disables and for
//     every command issued through Issue
//   - limits: hard ceilings applied per command
//   - cfg: staleness window and related tuning
//
// Returns:
//   - *Authority: authority in StateOff
//   - error: if clock or sender is nil
func NewAuthority(clock hal.Clock, sender hal.CommandSender, limits Limits, cfg Config, opts ...Option) (*Authority, error) {
	if clock == nil {
		return nil, fmt.Errorf("safety: clock is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("safety: command sender is required")
	}
	if cfg.StalenessWindow <= 0 {
		cfg.StalenessWindow = time.Second
	}

	a := &Authority{
		clock:    clock,
		sender:   sender,
		recorder: noopRecorder{},
		limits:   limits,
		cfg:      cfg,
		log:      noopLogger{},
		state:    StateOff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// State returns the current operating state.
func (a *Authority) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Interlocks returns a copy of the latest interlock snapshot.
func (a *Authority) Interlocks() interlock.Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest
}

// LastFault returns a copy of the most recent fault record, or false if
// no fault has occurred.
func (a *Authority) LastFault() (FaultRecord, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastFault == nil {
		return FaultRecord{}, false
	}
	return *a.lastFault, true
}

// CommandedWatts returns the most recently commanded laser power. The
// interlock monitor uses it as the reference for power verification.
func (a *Authority) CommandedWatts() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastWatts
}

// PermitEmission reports whether laser emission is permitted right now:
// state is Treating and the latest interlock snapshot is fresh and
// entirely ok. Side-effect-free and cheap enough for per-command use.
func (a *Authority) PermitEmission() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.permitLocked()
}

func (a *Authority) permitLocked() bool {
	if a.state != StateTreating {
		return false
	}
	if !a.latest.Fresh(a.clock.Monotonic(), a.cfg.StalenessWindow) {
		return false
	}
	return a.latest.AllOK()
}

// BeginInit starts hardware initialisation. Off -> Initializing.
func (a *Authority) BeginInit() error {
	return a.transition(TriggerBeginInit, nil)
}

// CompleteInit marks initialisation done. Initializing -> Safe.
func (a *Authority) CompleteInit() error {
	return a.transition(TriggerInitComplete, nil)
}

// Arm moves Safe -> Armed. Requires a fresh interlock snapshot with every
// signal except the deadman ok; the deadman is only held during
// engagement.
func (a *Authority) Arm() error {
	return a.transition(TriggerArm, func() error {
		if !a.latest.Fresh(a.clock.Monotonic(), a.cfg.StalenessWindow) {
			return ErrStaleInterlocks
		}
		if !a.latest.ReadyToArm() {
			return fmt.Errorf("%w: %v", ErrInterlocksNotReady, a.latest.Faulted())
		}
		return nil
	})
}

// Engage moves Armed -> Treating. Requires the deadman held and every
// interlock ok on a fresh snapshot.
func (a *Authority) Engage() error {
	return a.transition(TriggerEngage, a.requireAllOK)
}

// Disarm moves Armed -> Safe.
func (a *Authority) Disarm() error {
	return a.transition(TriggerDisarm, nil)
}

// Pause moves Treating -> Paused.
func (a *Authority) Pause() error {
	return a.transition(TriggerPause, nil)
}

// Resume moves Paused -> Treating under the same preconditions as Engage.
func (a *Authority) Resume() error {
	return a.transition(TriggerResume, a.requireAllOK)
}

// EndTreatment moves Paused -> Safe.
func (a *Authority) EndTreatment() error {
	return a.transition(TriggerEndTreatment, nil)
}

// requireAllOK is the precondition for entering Treating.
func (a *Authority) requireAllOK() error {
	if !a.latest.Fresh(a.clock.Monotonic(), a.cfg.StalenessWindow) {
		return ErrStaleInterlocks
	}
	if a.latest.Deadman.State != interlock.StateOK {
		return ErrDeadmanReleased
	}
	if !a.latest.AllOK() {
		return fmt.Errorf("%w: %v", ErrInterlocksNotReady, a.latest.Faulted())
	}
	return nil
}

// transition attempts one table-driven transition. The precondition, if
// any, is evaluated under the lock at decision time; a request whose
// precondition fails is rejected, never queued.
func (a *Authority) transition(trig Trigger, precondition func() error) error {
	a.mu.Lock()

	from := a.state
	to, ok := next(from, trig)
	if !ok {
		a.mu.Unlock()
		a.log.Warn("transition rejected", "from", string(from), "trigger", string(trig))
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, trig, from)
	}
	if precondition != nil {
		if err := precondition(); err != nil {
			a.mu.Unlock()
			a.log.Warn("transition precondition failed",
				"from", string(from), "trigger", string(trig), "error", err)
			return err
		}
	}

	a.state = to
	rec := TransitionRecord{
		ID:         newRecordID("trn"),
		Monotonic:  a.clock.Monotonic(),
		WallTime:   a.clock.Wall(),
		From:       from,
		To:         to,
		Trigger:    trig,
		Interlocks: a.latest,
	}
	a.mu.Unlock()

	a.log.Info("state transition", "from", string(from), "to", string(to), "trigger", string(trig))
	a.recorder.StateChanged(rec)
	return nil
}

// UpdateInterlocks ingests a completed interlock snapshot. It forwards a
// watchdog heartbeat, converts a released deadman during Treating into a
// pause, and escalates any other signal fault to the Fault state. Called
// once per monitor tick.
func (a *Authority) UpdateInterlocks(status interlock.Status) {
	if a.heartbeat != nil {
		a.heartbeat()
	}

	a.mu.Lock()
	a.latest = status
	state := a.state
	faultActive := a.faultActive
	a.mu.Unlock()

	if state == StateOff {
		return
	}

	// A released deadman is quick-pause behaviour, not a fault, unless
	// the switch itself was unreadable.
	if state == StateTreating &&
		status.Deadman.State != interlock.StateOK && !status.Deadman.ReadError {
		if err := a.transition(TriggerDeadmanReleased, nil); err == nil {
			a.log.Info("deadman released, treatment paused")
		}
	}

	if faultActive {
		return
	}

	if sig, detail, sev, ok := classifyFault(status); ok {
		a.raiseFault(SourceInterlock, sig, sev, detail, "disabled emission, protocol aborted")
	}
}

// classifyFault finds the first fault-worthy signal in a snapshot. The
// deadman only qualifies on a read error; release is pause behaviour.
func classifyFault(status interlock.Status) (hal.SignalID, string, Severity, bool) {
	if status.UncommandedEmission {
		return hal.SignalOpticalPower, status.OpticalPower.Detail, SeverityCritical, true
	}
	for _, sig := range hal.AllSignals() {
		r := status.Signal(sig)
		if r.State != interlock.StateFault {
			continue
		}
		if sig == hal.SignalDeadman && !r.ReadError {
			continue
		}
		sev := SeveritySustained
		switch {
		case sig == hal.SignalEStopClear:
			sev = SeverityCritical
		case sig == hal.SignalOpticalPower && !r.ReadError:
			// Measured power outside the fault band means the laser is
			// not doing what it was told. That is a hardware integrity
			// failure, not a tripped interlock.
			sev = SeverityCritical
		}
		return sig, r.Detail, sev, true
	}
	return "", "", "", false
}

// EmergencyStop forces the Fault state from any state except Off. It is
// idempotent per fault episode: a second press while already faulted
// produces no additional record.
func (a *Authority) EmergencyStop() error {
	a.mu.RLock()
	state := a.state
	faultActive := a.faultActive
	a.mu.RUnlock()

	if state == StateOff {
		return fmt.Errorf("%w: emergency stop while off", ErrInvalidTransition)
	}
	if faultActive {
		a.log.Info("emergency stop repeated within active fault episode")
		return nil
	}

	a.raiseFault(SourceEmergencyStop, "", SeverityCritical,
		"emergency stop activated", "disabled emission, protocol aborted")
	return nil
}

// WatchdogTimeout is wired as the hardware watchdog's timeout callback.
func (a *Authority) WatchdogTimeout(silence time.Duration) {
	a.mu.RLock()
	state := a.state
	faultActive := a.faultActive
	a.mu.RUnlock()
	if state == StateOff || faultActive {
		return
	}
	a.raiseFault(SourceWatchdog, "", SeverityCritical,
		fmt.Sprintf("control loop silent for %s", silence),
		"disabled emission, protocol aborted")
}

// ReportCommandFailure escalates a device I/O failure during execution to
// a fault. The protocol engine never retries hardware on its own.
func (a *Authority) ReportCommandFailure(dev hal.DeviceID, err error) {
	a.mu.RLock()
	faultActive := a.faultActive
	a.mu.RUnlock()
	if faultActive {
		return
	}
	a.raiseFault(SourceCommandIO, "", SeverityTransient,
		fmt.Sprintf("command to %s failed: %v", dev, err),
		"disabled emission, protocol aborted")
}

// raiseFault transitions to Fault from any state, emits exactly one
// FaultRecord for the episode, disables hardware output and notifies the
// abort handler.
func (a *Authority) raiseFault(src Source, sig hal.SignalID, sev Severity, detail, action string) {
	a.mu.Lock()
	if a.faultActive {
		a.mu.Unlock()
		return
	}
	from := a.state
	if _, ok := next(from, TriggerFault); !ok {
		a.mu.Unlock()
		return
	}
	a.faultActive = true
	a.state = StateFault
	rec := FaultRecord{
		ID:          newRecordID("flt"),
		Monotonic:   a.clock.Monotonic(),
		WallTime:    a.clock.Wall(),
		Source:      src,
		Signal:      sig,
		Severity:    sev,
		Detail:      detail,
		Interlocks:  a.latest,
		PriorState:  from,
		ActionTaken: action,
	}
	a.lastFault = &rec
	a.lastWatts = 0
	trn := TransitionRecord{
		ID:         newRecordID("trn"),
		Monotonic:  rec.Monotonic,
		WallTime:   rec.WallTime,
		From:       from,
		To:         StateFault,
		Trigger:    TriggerFault,
		Interlocks: a.latest,
	}
	a.mu.Unlock()

	a.log.Error("fault raised",
		"source", string(src), "signal", string(sig),
		"severity", string(sev), "detail", detail, "prior_state", string(from))

	a.disableOutputs()
	if a.onAbort != nil {
		go a.onAbort()
	}
	a.recorder.FaultRaised(rec)
	a.recorder.StateChanged(trn)
}

// disableOutputs commands every emission path off. Disable commands are
// idempotent-safe at the device layer, so errors here are logged and not
// escalated further.
func (a *Authority) disableOutputs() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := a.sender.Send(ctx, hal.DeviceLaser, hal.LaserDisable{}); err != nil {
		a.log.Error("laser disable failed", "error", err)
	}
	if err := a.sender.Send(ctx, hal.DeviceShutter, hal.ShutterSet{Open: false}); err != nil {
		a.log.Error("shutter close failed", "error", err)
	}
}

// SupervisorClear acknowledges a fault after human review. It requires
// interlocks currently fresh and clear, and for watchdog faults a
// recovery heartbeat, then moves Fault -> SafeShutdown. Authentication of
// the supervisor happens at the API layer before this is reachable.
func (a *Authority) SupervisorClear() error {
	if a.watchdog != nil && a.watchdog.Fired() && !a.watchdog.FreshBeatSinceTimeout() {
		return ErrRecoveryBlocked
	}

	err := a.transition(TriggerSupervisorClear, func() error {
		if !a.latest.Fresh(a.clock.Monotonic(), a.cfg.StalenessWindow) {
			return ErrStaleInterlocks
		}
		if !a.latest.ReadyToArm() {
			return fmt.Errorf("%w: %v", ErrInterlocksNotReady, a.latest.Faulted())
		}
		return nil
	})
	if err != nil {
		return err
	}

	if a.watchdog != nil {
		a.watchdog.Rearm()
	}
	a.mu.Lock()
	a.faultActive = false
	a.mu.Unlock()

	a.disableOutputs()
	return nil
}

// ResetComplete finishes the post-fault shutdown sequence.
// SafeShutdown -> Safe.
func (a *Authority) ResetComplete() error {
	return a.transition(TriggerResetComplete, nil)
}

// Issue validates and sends one device command. It is the exclusive
// command path for the protocol layer: limits are checked on every
// command and emission commands additionally require PermitEmission. A
// hardware send failure is escalated as a fault before the error is
// returned.
func (a *Authority) Issue(ctx context.Context, dev hal.DeviceID, cmd hal.Command) error {
	switch c := cmd.(type) {
	case hal.LaserPower:
		if err := a.limits.CheckPower(c.Watts); err != nil {
			return err
		}
		a.mu.RLock()
		prevWatts, prevAt := a.lastWatts, a.lastWattsAt
		a.mu.RUnlock()
		if err := a.limits.CheckRamp(prevWatts, c.Watts, a.clock.Monotonic()-prevAt); err != nil {
			return err
		}
		if c.Watts > 0 && !a.PermitEmission() {
			return ErrEmissionDenied
		}
	case hal.MoveTo:
		if err := a.limits.CheckTravel(c.PositionMM); err != nil {
			return err
		}
	}

	if err := a.sender.Send(ctx, dev, cmd); err != nil {
		a.ReportCommandFailure(dev, err)
		return fmt.Errorf("safety: command to %s: %w", dev, err)
	}

	switch c := cmd.(type) {
	case hal.LaserPower:
		a.mu.Lock()
		a.lastWatts = c.Watts
		a.lastWattsAt = a.clock.Monotonic()
		a.mu.Unlock()
	case hal.LaserDisable:
		a.mu.Lock()
		a.lastWatts = 0
		a.lastWattsAt = a.clock.Monotonic()
		a.mu.Unlock()
	}
	return nil
}

// RaiseAdvisory forwards a non-fault observation to the event stream.
func (a *Authority) RaiseAdvisory(sig hal.SignalID, detail string) {
	a.log.Warn("advisory", "signal", string(sig), "detail", detail)
	a.recorder.AdvisoryRaised(sig, detail)
}
