package protocol

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/safety"
)

// mockIssuer stands in for the safety authority: a switchable permit and
// a record of every command it accepted.
type mockIssuer struct {
	mu         sync.Mutex
	permit     bool
	failDevice hal.DeviceID
	failErr    error
	commands   []issuedCmd
}

type issuedCmd struct {
	dev hal.DeviceID
	cmd hal.Command
}

func (m *mockIssuer) PermitEmission() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permit
}

func (m *mockIssuer) Issue(ctx context.Context, dev hal.DeviceID, cmd hal.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil && dev == m.failDevice {
		return m.failErr
	}
	m.commands = append(m.commands, issuedCmd{dev: dev, cmd: cmd})
	return nil
}

func (m *mockIssuer) setPermit(v bool) {
	m.mu.Lock()
	m.permit = v
	m.mu.Unlock()
}

// powers returns every commanded laser power in issue order; LaserDisable
// records as a trailing -1 marker.
func (m *mockIssuer) powers() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, c := range m.commands {
		switch v := c.cmd.(type) {
		case hal.LaserPower:
			out = append(out, v.Watts)
		case hal.LaserDisable:
			out = append(out, -1)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *mockIssuer) {
	t.Helper()
	iss := &mockIssuer{permit: true}
	limits := safety.Limits{AbsoluteMaxWatts: 30, MaxRampWattsPerSecond: 15, MaxTravelMM: 50}
	e, err := NewEngine(iss, limits, Config{TickInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, iss
}

func sequentialProtocol() Protocol {
	return Protocol{
		ID: "seq-1",
		Actions: []Action{
			{Device: hal.DeviceLaser, Kind: KindSetPower, Watts: 5, Duration: Duration(2 * time.Second)},
			{Kind: KindWait, Duration: Duration(time.Second)},
		},
	}
}

func lineProtocol() Protocol {
	return Protocol{
		ID: "line-1",
		Lines: []Line{
			{Actions: []Action{
				{Device: hal.DeviceLaser, Kind: KindRamp, StartWatts: 0, Watts: 10, Duration: Duration(2 * time.Second)},
				{Kind: KindWait, Duration: Duration(5 * time.Second)},
			}},
		},
	}
}

func mustLoadAndStart(t *testing.T, e *Engine, p Protocol) {
	t.Helper()
	if err := e.Load(p); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func tickN(t *testing.T, e *Engine, n int, dt time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := e.Tick(context.Background(), dt); err != nil {
			t.Fatalf("Tick %d: %v", i, err)
		}
	}
}

func TestSequentialExecution(t *testing.T) {
	e, iss := newTestEngine(t)
	mustLoadAndStart(t, e, sequentialProtocol())

	tickN(t, e, 6, 500*time.Millisecond)

	if got := e.State(); got != ExecCompleted {
		t.Fatalf("state = %s, want completed", got)
	}
	// One set-power at action start, one disable at completion.
	want := []float64{5, -1}
	got := iss.powers()
	if len(got) != len(want) {
		t.Fatalf("laser commands = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("laser commands = %v, want %v", got, want)
		}
	}
	if p := e.Progress(); p.TotalElapsed != 3*time.Second {
		t.Errorf("TotalElapsed = %s, want 3s", p.TotalElapsed)
	}
}

func TestLineAdvancesOnlyWhenAllActionsDone(t *testing.T) {
	e, _ := newTestEngine(t)
	mustLoadAndStart(t, e, lineProtocol())

	// After 3 s the ramp is done but the wait is mid-flight: partial
	// completion is a valid line state.
	tickN(t, e, 3, time.Second)
	p := e.Progress()
	if p.State != ExecRunning || p.Line != 0 {
		t.Fatalf("mid-line: state = %s line = %d, want running line 0", p.State, p.Line)
	}
	if len(p.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(p.Actions))
	}
	if !p.Actions[0].Done {
		t.Error("ramp not marked done after 3s")
	}
	if p.Actions[1].Done {
		t.Error("wait marked done after 3s of 5s")
	}

	tickN(t, e, 2, time.Second)
	if got := e.State(); got != ExecCompleted {
		t.Errorf("state = %s, want completed after 5s", got)
	}
}

func TestRampIssuesMonotonicSetpoints(t *testing.T) {
	e, iss := newTestEngine(t)
	mustLoadAndStart(t, e, lineProtocol())

	tickN(t, e, 10, 200*time.Millisecond)

	powers := iss.powers()
	if len(powers) == 0 {
		t.Fatal("no laser commands issued")
	}
	prev := powers[0]
	for _, w := range powers[1:] {
		if w < 0 {
			continue
		}
		if w < prev {
			t.Fatalf("setpoints not monotonic: %v", powers)
		}
		prev = w
	}
	if math.Abs(prev-10) > 1e-9 {
		t.Errorf("final setpoint = %v, want ramp end 10", prev)
	}
}

func TestAbortOnPermissionDenied(t *testing.T) {
	e, iss := newTestEngine(t)
	mustLoadAndStart(t, e, sequentialProtocol())
	iss.setPermit(false)

	err := e.Tick(context.Background(), 100*time.Millisecond)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Tick err = %v, want ErrAborted", err)
	}
	if got := e.State(); got != ExecAborted {
		t.Fatalf("state = %s, want aborted", got)
	}
	p := e.Progress()
	if p.AbortReason == "" {
		t.Error("abort reason not recorded")
	}

	// The abort path must end with a disable, and nothing after it.
	powers := iss.powers()
	if len(powers) != 1 || powers[0] != -1 {
		t.Errorf("laser commands = %v, want only a disable", powers)
	}
	if err := e.Tick(context.Background(), 100*time.Millisecond); err != nil {
		t.Errorf("Tick after abort: %v, want no-op", err)
	}
	if got := iss.powers(); len(got) != 1 {
		t.Errorf("commands after aborted tick = %v, aborted run must stay silent", got)
	}
}

func TestCommandFailureAborts(t *testing.T) {
	e, iss := newTestEngine(t)
	iss.failDevice = hal.DeviceActuator
	iss.failErr = hal.ErrDeviceNAK

	p := Protocol{
		ID: "mv",
		Actions: []Action{
			{Device: hal.DeviceActuator, Kind: KindMoveTo, PositionMM: 10},
		},
	}
	mustLoadAndStart(t, e, p)

	err := e.Tick(context.Background(), 50*time.Millisecond)
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("Tick err = %v, want ErrAborted", err)
	}
	if got := e.State(); got != ExecAborted {
		t.Errorf("state = %s, want aborted", got)
	}
}

func TestPauseFreezesAndResumeContinues(t *testing.T) {
	e, iss := newTestEngine(t)
	mustLoadAndStart(t, e, lineProtocol())
	ctx := context.Background()

	tickN(t, e, 2, 500*time.Millisecond)
	if err := e.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	frozen := e.Progress()
	if frozen.State != ExecPaused {
		t.Fatalf("state = %s, want paused", frozen.State)
	}
	// Ticks while paused must not advance anything.
	tickN(t, e, 5, 500*time.Millisecond)
	if p := e.Progress(); p.TotalElapsed != frozen.TotalElapsed {
		t.Errorf("elapsed advanced while paused: %s -> %s", frozen.TotalElapsed, p.TotalElapsed)
	}

	// Pause ends with the laser off.
	powers := iss.powers()
	if powers[len(powers)-1] != -1 {
		t.Errorf("last laser command before resume = %v, want disable", powers[len(powers)-1])
	}

	if err := e.Resume(ctx); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	// Resume re-issues the frozen ramp setpoint: 1s into a 0->10 W ramp
	// over 2s is 5 W.
	powers = iss.powers()
	if got := powers[len(powers)-1]; math.Abs(got-5) > 1e-9 {
		t.Errorf("re-issued setpoint = %v, want 5", got)
	}

	tickN(t, e, 8, 500*time.Millisecond)
	if got := e.State(); got != ExecCompleted {
		t.Errorf("state = %s, want completed after resume", got)
	}
}

func TestResumeDeniedStaysPaused(t *testing.T) {
	e, iss := newTestEngine(t)
	mustLoadAndStart(t, e, lineProtocol())
	ctx := context.Background()

	tickN(t, e, 2, 500*time.Millisecond)
	if err := e.Pause(ctx); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	iss.setPermit(false)
	if err := e.Resume(ctx); !errors.Is(err, safety.ErrEmissionDenied) {
		t.Fatalf("Resume err = %v, want ErrEmissionDenied", err)
	}
	if got := e.State(); got != ExecPaused {
		t.Errorf("state = %s, want still paused after denied resume", got)
	}

	iss.setPermit(true)
	if err := e.Resume(ctx); err != nil {
		t.Errorf("Resume after permit restored: %v", err)
	}
}

func TestAbortStopsRun(t *testing.T) {
	e, _ := newTestEngine(t)
	mustLoadAndStart(t, e, sequentialProtocol())

	e.Abort(context.Background(), "operator abort")
	if got := e.State(); got != ExecAborted {
		t.Fatalf("state = %s, want aborted", got)
	}
	if p := e.Progress(); p.AbortReason != "operator abort" {
		t.Errorf("AbortReason = %q", p.AbortReason)
	}
}

func TestLoadRejectedWhileRunning(t *testing.T) {
	e, _ := newTestEngine(t)
	mustLoadAndStart(t, e, sequentialProtocol())

	if err := e.Load(lineProtocol()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Load during run: err = %v, want ErrAlreadyRunning", err)
	}
	if err := e.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Start during run: err = %v, want ErrAlreadyRunning", err)
	}
}

func TestLoadRejectsInvalidProtocol(t *testing.T) {
	e, _ := newTestEngine(t)
	p := Protocol{
		ID: "bad",
		Actions: []Action{
			{Device: hal.DeviceLaser, Kind: KindSetPower, Watts: 99, Duration: Duration(time.Second)},
		},
	}
	if err := e.Load(p); !errors.Is(err, ErrValidation) {
		t.Fatalf("Load err = %v, want ErrValidation", err)
	}
	if err := e.Start(); !errors.Is(err, ErrNoProtocol) {
		t.Errorf("Start after failed load: err = %v, want ErrNoProtocol", err)
	}
}

func TestRestartAfterCompletion(t *testing.T) {
	e, _ := newTestEngine(t)
	mustLoadAndStart(t, e, sequentialProtocol())
	tickN(t, e, 6, 500*time.Millisecond)
	if got := e.State(); got != ExecCompleted {
		t.Fatalf("state = %s, want completed", got)
	}

	if err := e.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p := e.Progress(); p.TotalElapsed != 0 || p.Line != 0 {
		t.Errorf("restart did not reset cursor: %+v", p)
	}
}
