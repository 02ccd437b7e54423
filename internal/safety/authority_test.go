package safety

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/interlock"
)

// mockRecorder captures the emitted event stream.
type mockRecorder struct {
	mu          sync.Mutex
	transitions []TransitionRecord
	faults      []FaultRecord
	advisories  []string
}

func (m *mockRecorder) StateChanged(r TransitionRecord) {
	m.mu.Lock()
	m.transitions = append(m.transitions, r)
	m.mu.Unlock()
}

func (m *mockRecorder) FaultRaised(r FaultRecord) {
	m.mu.Lock()
	m.faults = append(m.faults, r)
	m.mu.Unlock()
}

func (m *mockRecorder) AdvisoryRaised(sig hal.SignalID, detail string) {
	m.mu.Lock()
	m.advisories = append(m.advisories, detail)
	m.mu.Unlock()
}

func (m *mockRecorder) faultCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.faults)
}

func (m *mockRecorder) lastFault() FaultRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.faults[len(m.faults)-1]
}

// mockWatchdog implements WatchdogStatus with settable answers.
type mockWatchdog struct {
	mu     sync.Mutex
	fired  bool
	fresh  bool
	rearms int
	beats  int
}

func (m *mockWatchdog) Fired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fired
}

func (m *mockWatchdog) FreshBeatSinceTimeout() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fresh
}

func (m *mockWatchdog) Rearm() {
	m.mu.Lock()
	m.rearms++
	m.fired = false
	m.mu.Unlock()
}

func (m *mockWatchdog) beat() {
	m.mu.Lock()
	m.beats++
	m.mu.Unlock()
}

func testLimits() Limits {
	return Limits{AbsoluteMaxWatts: 30, MaxRampWattsPerSecond: 15, MaxTravelMM: 50}
}

func newTestAuthority(t *testing.T, opts ...Option) (*Authority, *hal.Simulator, *hal.ManualClock, *mockRecorder) {
	t.Helper()
	sim := hal.NewSimulator()
	clock := hal.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &mockRecorder{}
	opts = append([]Option{WithRecorder(rec)}, opts...)
	a, err := NewAuthority(clock, sim, testLimits(), Config{StalenessWindow: time.Second}, opts...)
	if err != nil {
		t.Fatalf("NewAuthority: %v", err)
	}
	return a, sim, clock, rec
}

// okStatus builds a fresh all-ok snapshot at the clock's current time.
func okStatus(clock *hal.ManualClock, seq uint64, deadmanHeld bool) interlock.Status {
	ok := interlock.Reading{State: interlock.StateOK}
	s := interlock.Status{
		Deadman:         ok,
		BeamConditioner: ok,
		OpticalPower:    ok,
		SessionValid:    ok,
		VisualFeed:      ok,
		EStopClear:      ok,
		Sequence:        seq,
		SampledAt:       clock.Monotonic(),
		WallTime:        clock.Wall(),
	}
	if !deadmanHeld {
		s.Deadman = interlock.Reading{State: interlock.StateFault, Detail: "signal not asserted"}
	}
	return s
}

// toTreating walks a fresh authority to the Treating state.
func toTreating(t *testing.T, a *Authority, clock *hal.ManualClock) {
	t.Helper()
	if err := a.BeginInit(); err != nil {
		t.Fatalf("BeginInit: %v", err)
	}
	if err := a.CompleteInit(); err != nil {
		t.Fatalf("CompleteInit: %v", err)
	}
	a.UpdateInterlocks(okStatus(clock, 1, false))
	if err := a.Arm(); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	a.UpdateInterlocks(okStatus(clock, 2, true))
	if err := a.Engage(); err != nil {
		t.Fatalf("Engage: %v", err)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)

	if a.State() != StateOff {
		t.Fatalf("initial state = %s, want off", a.State())
	}
	toTreating(t, a, clock)
	if a.State() != StateTreating {
		t.Fatalf("state = %s, want treating", a.State())
	}

	if err := a.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	a.UpdateInterlocks(okStatus(clock, 3, true))
	if err := a.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if err := a.Pause(); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if err := a.EndTreatment(); err != nil {
		t.Fatalf("EndTreatment: %v", err)
	}
	if a.State() != StateSafe {
		t.Errorf("final state = %s, want safe", a.State())
	}
}

func TestInvalidTransitionRejected(t *testing.T) {
	a, _, _, rec := newTestAuthority(t)

	if err := a.Arm(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Arm from off: err = %v, want ErrInvalidTransition", err)
	}
	if err := a.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause from off: err = %v, want ErrInvalidTransition", err)
	}
	if a.State() != StateOff {
		t.Errorf("state = %s, want off after rejected requests", a.State())
	}
	if rec.faultCount() != 0 {
		t.Errorf("faults = %d, caller bugs must not escalate", rec.faultCount())
	}
}

func TestArmRequiresFreshInterlocks(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)
	a.BeginInit()
	a.CompleteInit()

	// Never sampled: stale by definition.
	if err := a.Arm(); !errors.Is(err, ErrStaleInterlocks) {
		t.Errorf("Arm without samples: err = %v, want ErrStaleInterlocks", err)
	}

	a.UpdateInterlocks(okStatus(clock, 1, false))
	clock.Advance(2 * time.Second)
	if err := a.Arm(); !errors.Is(err, ErrStaleInterlocks) {
		t.Errorf("Arm with aged sample: err = %v, want ErrStaleInterlocks", err)
	}
}

func TestArmRejectedWhenInterlocksFaulted(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)
	a.BeginInit()
	a.CompleteInit()

	s := okStatus(clock, 1, false)
	s.SessionValid = interlock.Reading{State: interlock.StateFault, Detail: "no active session"}
	a.UpdateInterlocks(s)

	// The fault escalated; arming from Fault is also invalid.
	if a.State() != StateFault {
		t.Fatalf("state = %s, want fault after session interlock trip", a.State())
	}
	if err := a.Arm(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Arm from fault: err = %v, want ErrInvalidTransition", err)
	}
}

func TestPermitEmissionInvariant(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)

	if a.PermitEmission() {
		t.Fatal("permit granted in off state")
	}
	toTreating(t, a, clock)
	if !a.PermitEmission() {
		t.Fatal("permit denied in treating with fresh all-ok interlocks")
	}

	// Stale snapshot: permission must lapse even though state is Treating.
	clock.Advance(1100 * time.Millisecond)
	if a.PermitEmission() {
		t.Error("permit granted against stale snapshot")
	}

	// Fresh again but with a faulted signal: deadman released drops the
	// state to Armed, so permission is denied on both grounds.
	a.UpdateInterlocks(okStatus(clock, 3, false))
	if a.PermitEmission() {
		t.Error("permit granted with deadman released")
	}
	if a.State() != StateArmed {
		t.Errorf("state = %s, want armed after deadman release", a.State())
	}
}

func TestDeadmanReleasePausesWithoutFault(t *testing.T) {
	a, _, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	a.UpdateInterlocks(okStatus(clock, 3, false))

	if a.State() != StateArmed {
		t.Fatalf("state = %s, want armed", a.State())
	}
	if rec.faultCount() != 0 {
		t.Errorf("faults = %d, deadman release must not fault", rec.faultCount())
	}

	// Re-engage once the deadman is held again.
	a.UpdateInterlocks(okStatus(clock, 4, true))
	if err := a.Engage(); err != nil {
		t.Errorf("re-Engage: %v", err)
	}
}

func TestDeadmanReadErrorFaults(t *testing.T) {
	a, _, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	s := okStatus(clock, 3, true)
	s.Deadman = interlock.Reading{State: interlock.StateFault, Detail: "read failed", ReadError: true}
	a.UpdateInterlocks(s)

	if a.State() != StateFault {
		t.Fatalf("state = %s, want fault when deadman is unreadable", a.State())
	}
	if rec.faultCount() != 1 {
		t.Fatalf("faults = %d, want 1", rec.faultCount())
	}
	if got := rec.lastFault().Signal; got != hal.SignalDeadman {
		t.Errorf("fault signal = %s, want deadman", got)
	}
}

func TestInterlockFaultEscalatesAndDisables(t *testing.T) {
	a, sim, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	s := okStatus(clock, 3, true)
	s.BeamConditioner = interlock.Reading{State: interlock.StateFault, Detail: "flow low"}
	a.UpdateInterlocks(s)

	if a.State() != StateFault {
		t.Fatalf("state = %s, want fault", a.State())
	}
	fr := rec.lastFault()
	if fr.Severity != SeveritySustained {
		t.Errorf("severity = %s, want sustained", fr.Severity)
	}
	if fr.PriorState != StateTreating {
		t.Errorf("prior state = %s, want treating", fr.PriorState)
	}
	if fr.Interlocks.BeamConditioner.State != interlock.StateFault {
		t.Error("fault record is missing the interlock snapshot")
	}

	// The disable path must have commanded the laser off and the shutter
	// closed.
	if cmd, ok := sim.LastCommand(hal.DeviceLaser); !ok {
		t.Error("no laser command issued on fault")
	} else if _, isDisable := cmd.(hal.LaserDisable); !isDisable {
		t.Errorf("last laser command = %T, want LaserDisable", cmd)
	}
	if cmd, ok := sim.LastCommand(hal.DeviceShutter); !ok {
		t.Error("no shutter command issued on fault")
	} else if sh := cmd.(hal.ShutterSet); sh.Open {
		t.Error("shutter commanded open on fault")
	}
}

func TestUncommandedEmissionIsCritical(t *testing.T) {
	a, _, clock, rec := newTestAuthority(t)
	a.BeginInit()
	a.CompleteInit()

	s := okStatus(clock, 1, false)
	s.OpticalPower = interlock.Reading{State: interlock.StateFault, Detail: "emission with no power commanded"}
	s.UncommandedEmission = true
	a.UpdateInterlocks(s)

	if rec.faultCount() != 1 {
		t.Fatalf("faults = %d, want 1", rec.faultCount())
	}
	if got := rec.lastFault().Severity; got != SeverityCritical {
		t.Errorf("severity = %s, want critical", got)
	}
}

func TestPowerDeviationFaultIsCritical(t *testing.T) {
	a, _, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	// 40% below commanded, well past the 30% fault band. The monitor
	// reports the deviation; the authority must treat it as a hardware
	// integrity failure, not an ordinary tripped interlock.
	s := okStatus(clock, 3, true)
	s.CommandedWatts = 10
	s.MeasuredWatts = 6
	s.OpticalPower = interlock.Reading{State: interlock.StateFault, Detail: "measured 6.00W, commanded 10.00W"}
	a.UpdateInterlocks(s)

	if a.State() != StateFault {
		t.Fatalf("state = %s, want fault", a.State())
	}
	if rec.faultCount() != 1 {
		t.Fatalf("faults = %d, want 1", rec.faultCount())
	}
	fr := rec.lastFault()
	if fr.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", fr.Severity)
	}
	if fr.Signal != hal.SignalOpticalPower {
		t.Errorf("fault signal = %s, want optical_power", fr.Signal)
	}
}

// An unreadable power sensor is a tripped interlock, not evidence the
// laser misbehaved.
func TestPowerReadErrorStaysSustained(t *testing.T) {
	a, _, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	s := okStatus(clock, 3, true)
	s.OpticalPower = interlock.Reading{State: interlock.StateFault, Detail: "read failed", ReadError: true}
	a.UpdateInterlocks(s)

	if a.State() != StateFault {
		t.Fatalf("state = %s, want fault", a.State())
	}
	if got := rec.lastFault().Severity; got != SeveritySustained {
		t.Errorf("severity = %s, want sustained", got)
	}
}

func TestEmergencyStopIdempotentPerEpisode(t *testing.T) {
	a, _, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	if err := a.EmergencyStop(); err != nil {
		t.Fatalf("EmergencyStop: %v", err)
	}
	if err := a.EmergencyStop(); err != nil {
		t.Fatalf("second EmergencyStop: %v", err)
	}
	if rec.faultCount() != 1 {
		t.Errorf("faults = %d, want exactly 1 for a double press", rec.faultCount())
	}
	if got := rec.lastFault().Severity; got != SeverityCritical {
		t.Errorf("severity = %s, want critical", got)
	}
	if a.State() != StateFault {
		t.Errorf("state = %s, want fault", a.State())
	}
}

func TestSupervisorClearPath(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)
	toTreating(t, a, clock)
	a.EmergencyStop()

	// Interlocks still show the pre-fault snapshot; a fresh clear one is
	// required before clearance.
	clock.Advance(2 * time.Second)
	if err := a.SupervisorClear(); !errors.Is(err, ErrStaleInterlocks) {
		t.Fatalf("SupervisorClear with stale interlocks: err = %v", err)
	}

	a.UpdateInterlocks(okStatus(clock, 10, false))
	if err := a.SupervisorClear(); err != nil {
		t.Fatalf("SupervisorClear: %v", err)
	}
	if a.State() != StateSafeShutdown {
		t.Fatalf("state = %s, want safe_shutdown", a.State())
	}
	if err := a.ResetComplete(); err != nil {
		t.Fatalf("ResetComplete: %v", err)
	}
	if a.State() != StateSafe {
		t.Errorf("state = %s, want safe", a.State())
	}
}

func TestNoSelfHealFromFault(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)
	toTreating(t, a, clock)

	s := okStatus(clock, 3, true)
	s.VisualFeed = interlock.Reading{State: interlock.StateFault, Detail: "feed lost"}
	a.UpdateInterlocks(s)
	if a.State() != StateFault {
		t.Fatal("fault did not latch")
	}

	// The interlocks clear on their own; the state must stay Fault.
	a.UpdateInterlocks(okStatus(clock, 4, true))
	if a.State() != StateFault {
		t.Errorf("state = %s, fault must not self-heal", a.State())
	}
	if a.PermitEmission() {
		t.Error("permit granted while faulted")
	}
}

func TestWatchdogFaultRequiresRecoveryBeat(t *testing.T) {
	wd := &mockWatchdog{}
	a, _, clock, rec := newTestAuthority(t, WithWatchdog(wd, wd.beat))
	toTreating(t, a, clock)

	wd.mu.Lock()
	wd.fired = true
	wd.mu.Unlock()
	a.WatchdogTimeout(1500 * time.Millisecond)

	if a.State() != StateFault {
		t.Fatalf("state = %s, want fault", a.State())
	}
	if got := rec.lastFault().Source; got != SourceWatchdog {
		t.Errorf("source = %s, want watchdog", got)
	}

	a.UpdateInterlocks(okStatus(clock, 3, false))
	if err := a.SupervisorClear(); !errors.Is(err, ErrRecoveryBlocked) {
		t.Fatalf("SupervisorClear before recovery beat: err = %v", err)
	}

	wd.mu.Lock()
	wd.fresh = true
	wd.mu.Unlock()
	if err := a.SupervisorClear(); err != nil {
		t.Fatalf("SupervisorClear after recovery: %v", err)
	}
	wd.mu.Lock()
	rearms := wd.rearms
	wd.mu.Unlock()
	if rearms != 1 {
		t.Errorf("rearms = %d, want 1", rearms)
	}
}

func TestUpdateInterlocksHeartbeats(t *testing.T) {
	wd := &mockWatchdog{}
	a, _, clock, _ := newTestAuthority(t, WithWatchdog(wd, wd.beat))

	a.UpdateInterlocks(okStatus(clock, 1, false))
	a.UpdateInterlocks(okStatus(clock, 2, false))

	wd.mu.Lock()
	beats := wd.beats
	wd.mu.Unlock()
	if beats != 2 {
		t.Errorf("beats = %d, want one per update", beats)
	}
}

func TestIssueEnforcesLimits(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)
	toTreating(t, a, clock)
	ctx := context.Background()

	if err := a.Issue(ctx, hal.DeviceLaser, hal.LaserPower{Watts: 31}); !errors.Is(err, ErrPowerLimit) {
		t.Errorf("over-ceiling power: err = %v, want ErrPowerLimit", err)
	}
	if err := a.Issue(ctx, hal.DeviceActuator, hal.MoveTo{PositionMM: 60}); !errors.Is(err, ErrTravelLimit) {
		t.Errorf("over-range move: err = %v, want ErrTravelLimit", err)
	}

	// A step within ramp rate passes; refresh the snapshot afterwards so
	// the mirrored power reading does not matter here.
	clock.Advance(time.Second)
	a.UpdateInterlocks(okStatus(clock, 3, true))
	if err := a.Issue(ctx, hal.DeviceLaser, hal.LaserPower{Watts: 10}); err != nil {
		t.Fatalf("Issue 10 W after 1s: %v", err)
	}

	// Jumping 10 -> 30 W in 100 ms is 200 W/s, far over the 15 W/s limit.
	clock.Advance(100 * time.Millisecond)
	if err := a.Issue(ctx, hal.DeviceLaser, hal.LaserPower{Watts: 30}); !errors.Is(err, ErrRampLimit) {
		t.Errorf("fast ramp: err = %v, want ErrRampLimit", err)
	}
}

func TestIssueDeniedOutsideTreating(t *testing.T) {
	a, sim, clock, _ := newTestAuthority(t)
	a.BeginInit()
	a.CompleteInit()
	a.UpdateInterlocks(okStatus(clock, 1, false))
	a.Arm()

	clock.Advance(time.Second)
	a.UpdateInterlocks(okStatus(clock, 2, true))
	err := a.Issue(context.Background(), hal.DeviceLaser, hal.LaserPower{Watts: 5})
	if !errors.Is(err, ErrEmissionDenied) {
		t.Fatalf("emission from armed: err = %v, want ErrEmissionDenied", err)
	}
	if _, ok := sim.LastCommand(hal.DeviceLaser); ok {
		t.Error("denied command still reached hardware")
	}

	// Non-emission commands are not gated on Treating.
	if err := a.Issue(context.Background(), hal.DeviceAiming, hal.AimingBeam{On: true}); err != nil {
		t.Errorf("aiming beam from armed: %v", err)
	}
}

func TestIssueIOFailureEscalates(t *testing.T) {
	a, sim, clock, rec := newTestAuthority(t)
	toTreating(t, a, clock)

	sim.SetSendError(hal.DeviceTEC, hal.ErrDeviceNAK)
	err := a.Issue(context.Background(), hal.DeviceTEC, hal.SetTemperature{Celsius: 18})
	if !errors.Is(err, hal.ErrDeviceNAK) {
		t.Fatalf("err = %v, want wrapped ErrDeviceNAK", err)
	}
	if a.State() != StateFault {
		t.Errorf("state = %s, want fault after device NAK", a.State())
	}
	if rec.faultCount() != 1 {
		t.Fatalf("faults = %d, want 1", rec.faultCount())
	}
	fr := rec.lastFault()
	if fr.Source != SourceCommandIO {
		t.Errorf("source = %s, want command_io", fr.Source)
	}
	if fr.Severity != SeverityTransient {
		t.Errorf("severity = %s, want transient", fr.Severity)
	}
}

func TestFaultNotifiesAbortHandler(t *testing.T) {
	aborts := make(chan struct{}, 4)
	a, _, clock, _ := newTestAuthority(t, WithAbortHandler(func() { aborts <- struct{}{} }))
	toTreating(t, a, clock)

	a.EmergencyStop()
	a.EmergencyStop()

	select {
	case <-aborts:
	case <-time.After(time.Second):
		t.Fatal("abort handler not invoked")
	}
	time.Sleep(20 * time.Millisecond)
	select {
	case <-aborts:
		t.Error("abort handler invoked more than once per episode")
	default:
	}
}

func TestCommandedWattsTracksIssue(t *testing.T) {
	a, _, clock, _ := newTestAuthority(t)
	toTreating(t, a, clock)

	clock.Advance(time.Second)
	a.UpdateInterlocks(okStatus(clock, 3, true))
	if err := a.Issue(context.Background(), hal.DeviceLaser, hal.LaserPower{Watts: 8}); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if got := a.CommandedWatts(); got != 8 {
		t.Errorf("CommandedWatts = %v, want 8", got)
	}
	if err := a.Issue(context.Background(), hal.DeviceLaser, hal.LaserDisable{}); err != nil {
		t.Fatalf("Issue disable: %v", err)
	}
	if got := a.CommandedWatts(); got != 0 {
		t.Errorf("CommandedWatts after disable = %v, want 0", got)
	}
}
