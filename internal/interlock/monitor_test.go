package interlock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/photarc/lumacore/internal/hal"
)

func testConfig() Config {
	return Config{
		SampleInterval:          10 * time.Millisecond,
		SignalReadTimeout:       5 * time.Millisecond,
		DebounceCount:           2,
		PowerWarnBand:           0.15,
		PowerFaultBand:          0.30,
		PowerZeroToleranceWatts: 0.05,
	}
}

func newTestMonitor(t *testing.T, sim *hal.Simulator, commanded func() float64, opts ...Option) (*Monitor, *hal.ManualClock) {
	t.Helper()
	clock := hal.NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	m, err := NewMonitor(sim, clock, testConfig(), NewCalibration(nil), commanded, opts...)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	return m, clock
}

func TestSampleBenchDefaults(t *testing.T) {
	sim := hal.NewSimulator()
	m, _ := newTestMonitor(t, sim, nil)

	status := m.Sample(context.Background())

	if status.Sequence != 1 {
		t.Errorf("Sequence = %d, want 1", status.Sequence)
	}
	// Deadman starts released; everything else is clear on the bench.
	if status.Deadman.State != StateFault {
		t.Errorf("Deadman.State = %q, want fault while released", status.Deadman.State)
	}
	if !status.ReadyToArm() {
		t.Error("ReadyToArm() = false, want true on safe bench")
	}
	if status.AllOK() {
		t.Error("AllOK() = true with deadman released, want false")
	}
}

func TestSampleAllOKWithDeadmanHeld(t *testing.T) {
	sim := hal.NewSimulator()
	sim.SetSignal(hal.SignalDeadman, hal.SignalValue{Asserted: true})
	m, _ := newTestMonitor(t, sim, nil)

	status := m.Sample(context.Background())
	if !status.AllOK() {
		t.Errorf("AllOK() = false, faulted: %v", status.Faulted())
	}
}

func TestReadErrorReportsFault(t *testing.T) {
	sim := hal.NewSimulator()
	sim.SetSignalError(hal.SignalVisualFeed, hal.ErrDisconnected)
	m, _ := newTestMonitor(t, sim, nil)

	status := m.Sample(context.Background())
	if status.VisualFeed.State != StateFault {
		t.Fatalf("VisualFeed.State = %q, want fault", status.VisualFeed.State)
	}
	if !strings.Contains(status.VisualFeed.Detail, "read failed") {
		t.Errorf("Detail = %q, want read failure detail", status.VisualFeed.Detail)
	}
}

func TestDebounceFaultImmediateRecoverySlow(t *testing.T) {
	sim := hal.NewSimulator()
	m, _ := newTestMonitor(t, sim, nil)
	ctx := context.Background()

	// Trip the beam conditioner: fault must appear on the very next sample.
	sim.SetSignal(hal.SignalBeamConditioner, hal.SignalValue{Asserted: false})
	if got := m.Sample(ctx).BeamConditioner.State; got != StateFault {
		t.Fatalf("after trip: state = %q, want immediate fault", got)
	}

	// Clear it: recovery needs two consecutive ok reads.
	sim.SetSignal(hal.SignalBeamConditioner, hal.SignalValue{Asserted: true})
	first := m.Sample(ctx).BeamConditioner
	if first.State != StateFault {
		t.Fatalf("first ok read: state = %q, want still fault", first.State)
	}
	if !strings.Contains(first.Detail, "recovering") {
		t.Errorf("first ok read: Detail = %q, want recovery progress", first.Detail)
	}
	if got := m.Sample(ctx).BeamConditioner.State; got != StateOK {
		t.Errorf("second ok read: state = %q, want ok", got)
	}
}

func TestDebounceStreakResetsOnFault(t *testing.T) {
	sim := hal.NewSimulator()
	m, _ := newTestMonitor(t, sim, nil)
	ctx := context.Background()

	sim.SetSignal(hal.SignalSessionValid, hal.SignalValue{Asserted: false})
	m.Sample(ctx)

	// One ok read, then a bounce back to fault: the streak must restart.
	sim.SetSignal(hal.SignalSessionValid, hal.SignalValue{Asserted: true})
	m.Sample(ctx)
	sim.SetSignal(hal.SignalSessionValid, hal.SignalValue{Asserted: false})
	m.Sample(ctx)
	sim.SetSignal(hal.SignalSessionValid, hal.SignalValue{Asserted: true})

	if got := m.Sample(ctx).SessionValid.State; got != StateFault {
		t.Errorf("after bounce, first ok read: state = %q, want fault", got)
	}
	if got := m.Sample(ctx).SessionValid.State; got != StateOK {
		t.Errorf("after bounce, second ok read: state = %q, want ok", got)
	}
}

func TestUncommandedEmissionFaults(t *testing.T) {
	sim := hal.NewSimulator()
	sim.SetMirror(false)
	sim.SetSignal(hal.SignalOpticalPower, hal.SignalValue{Raw: 1.2})
	m, _ := newTestMonitor(t, sim, func() float64 { return 0 })

	status := m.Sample(context.Background())
	if !status.UncommandedEmission {
		t.Fatal("UncommandedEmission = false, want true")
	}
	if status.OpticalPower.State != StateFault {
		t.Errorf("OpticalPower.State = %q, want fault", status.OpticalPower.State)
	}
}

func TestPowerBands(t *testing.T) {
	tests := []struct {
		name         string
		measured     float64
		commanded    float64
		wantState    SignalState
		wantAdvisory bool
	}{
		{"exact match", 10, 10, StateOK, false},
		{"within warn band", 11, 10, StateOK, false},
		{"advisory band", 12, 10, StateOK, true},
		{"beyond fault band", 14, 10, StateFault, false},
		{"low side fault", 6, 10, StateFault, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := hal.NewSimulator()
			sim.SetMirror(false)
			sim.SetSignal(hal.SignalOpticalPower, hal.SignalValue{Raw: tt.measured})

			var advisories []Advisory
			m, _ := newTestMonitor(t, sim,
				func() float64 { return tt.commanded },
				WithAdvisoryHandler(func(a Advisory) { advisories = append(advisories, a) }))

			status := m.Sample(context.Background())
			if status.OpticalPower.State != tt.wantState {
				t.Errorf("OpticalPower.State = %q, want %q (detail: %s)",
					status.OpticalPower.State, tt.wantState, status.OpticalPower.Detail)
			}
			if got := len(advisories) > 0; got != tt.wantAdvisory {
				t.Errorf("advisory raised = %v, want %v", got, tt.wantAdvisory)
			}
			if status.MeasuredWatts != tt.measured {
				t.Errorf("MeasuredWatts = %v, want %v", status.MeasuredWatts, tt.measured)
			}
		})
	}
}

func TestStaleness(t *testing.T) {
	sim := hal.NewSimulator()
	m, clock := newTestMonitor(t, sim, nil)

	var none Status
	if none.Fresh(clock.Monotonic(), time.Second) {
		t.Error("zero-sequence snapshot reported fresh")
	}

	status := m.Sample(context.Background())
	clock.Advance(500 * time.Millisecond)
	if !status.Fresh(clock.Monotonic(), time.Second) {
		t.Error("snapshot stale after 500ms with 1s window")
	}
	clock.Advance(600 * time.Millisecond)
	if status.Fresh(clock.Monotonic(), time.Second) {
		t.Error("snapshot fresh after 1.1s with 1s window")
	}
}

func TestLatestTracksSample(t *testing.T) {
	sim := hal.NewSimulator()
	m, _ := newTestMonitor(t, sim, nil)

	if got := m.Latest(); got.Sequence != 0 {
		t.Errorf("Latest before sampling: Sequence = %d, want 0", got.Sequence)
	}
	m.Sample(context.Background())
	m.Sample(context.Background())
	if got := m.Latest(); got.Sequence != 2 {
		t.Errorf("Latest.Sequence = %d, want 2", got.Sequence)
	}
}

func TestNewMonitorRequiresReader(t *testing.T) {
	_, err := NewMonitor(nil, hal.NewManualClock(time.Time{}), testConfig(), nil, nil)
	if !errors.Is(err, ErrNoReader) {
		t.Errorf("err = %v, want ErrNoReader", err)
	}
}
