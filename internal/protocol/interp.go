package protocol

import (
	"math"
	"time"
)

// rampCurvature shapes the logarithmic and exponential ramps. The two
// curves are exact inverses of each other around the linear diagonal.
const rampCurvature = 9.0

// Setpoint computes the instantaneous power for a ramp action as a pure
// function of elapsed time. The same elapsed value always yields the same
// setpoint, so a recorded dt sequence replays identically.
//
// Elapsed time is clamped to the action duration; past the end the
// setpoint holds at the ramp endpoint.
func Setpoint(a Action, elapsed time.Duration) float64 {
	if a.Kind != KindRamp || a.Duration <= 0 {
		return a.Watts
	}

	t := float64(elapsed) / float64(a.Duration)
	if t <= 0 {
		return a.StartWatts
	}
	if t >= 1 {
		return a.Watts
	}

	var frac float64
	switch a.Shape {
	case RampLogarithmic:
		frac = math.Log1p(rampCurvature*t) / math.Log1p(rampCurvature)
	case RampExponential:
		frac = (math.Pow(1+rampCurvature, t) - 1) / rampCurvature
	default:
		frac = t
	}
	return a.StartWatts + (a.Watts-a.StartWatts)*frac
}
