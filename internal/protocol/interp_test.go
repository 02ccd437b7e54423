package protocol

import (
	"math"
	"testing"
	"time"

	"github.com/photarc/lumacore/internal/hal"
)

func rampAction(shape RampShape, start, end float64, d time.Duration) Action {
	return Action{
		Device:     hal.DeviceLaser,
		Kind:       KindRamp,
		StartWatts: start,
		Watts:      end,
		Shape:      shape,
		Duration:   Duration(d),
	}
}

func TestSetpointEndpoints(t *testing.T) {
	for _, shape := range []RampShape{RampLinear, RampLogarithmic, RampExponential} {
		a := rampAction(shape, 2, 12, 2*time.Second)
		if got := Setpoint(a, 0); got != 2 {
			t.Errorf("%s: Setpoint(0) = %v, want start 2", shape, got)
		}
		if got := Setpoint(a, 2*time.Second); got != 12 {
			t.Errorf("%s: Setpoint(duration) = %v, want end 12", shape, got)
		}
		// Past the end the setpoint holds.
		if got := Setpoint(a, 3*time.Second); got != 12 {
			t.Errorf("%s: Setpoint past end = %v, want 12", shape, got)
		}
	}
}

func TestSetpointLinearMidpoint(t *testing.T) {
	a := rampAction(RampLinear, 0, 10, 2*time.Second)
	if got := Setpoint(a, time.Second); math.Abs(got-5) > 1e-9 {
		t.Errorf("Setpoint(1s) = %v, want 5", got)
	}
}

func TestSetpointCurveShapes(t *testing.T) {
	lin := rampAction(RampLinear, 0, 10, 2*time.Second)
	log := rampAction(RampLogarithmic, 0, 10, 2*time.Second)
	exp := rampAction(RampExponential, 0, 10, 2*time.Second)

	// At the midpoint the logarithmic curve leads the linear one and the
	// exponential curve lags it.
	mid := time.Second
	if !(Setpoint(log, mid) > Setpoint(lin, mid)) {
		t.Error("logarithmic ramp does not lead linear at midpoint")
	}
	if !(Setpoint(exp, mid) < Setpoint(lin, mid)) {
		t.Error("exponential ramp does not lag linear at midpoint")
	}
}

func TestSetpointMonotonic(t *testing.T) {
	for _, shape := range []RampShape{RampLinear, RampLogarithmic, RampExponential} {
		a := rampAction(shape, 1, 20, 5*time.Second)
		prev := Setpoint(a, 0)
		for e := 100 * time.Millisecond; e <= 5*time.Second; e += 100 * time.Millisecond {
			cur := Setpoint(a, e)
			if cur < prev {
				t.Fatalf("%s: setpoint decreased at %s: %v -> %v", shape, e, prev, cur)
			}
			prev = cur
		}
	}
}

func TestSetpointDeterministic(t *testing.T) {
	a := rampAction(RampExponential, 0.5, 18, 3*time.Second)
	for _, e := range []time.Duration{0, 700 * time.Millisecond, 2 * time.Second} {
		if Setpoint(a, e) != Setpoint(a, e) {
			t.Fatalf("Setpoint(%s) not reproducible", e)
		}
	}
}
