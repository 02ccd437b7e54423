package safety

import (
	"fmt"
	"math"
	"time"
)

// Limits holds the hard safety ceilings applied to every permitted
// command. These are evaluated per command, not once at protocol load.
type Limits struct {
	// AbsoluteMaxWatts is the hardware emission ceiling. No command may
	// exceed it regardless of what a protocol declares.
	AbsoluteMaxWatts float64

	// MaxRampWattsPerSecond bounds the commanded power delta per unit
	// time.
	MaxRampWattsPerSecond float64

	// MaxTravelMM bounds actuator positioning commands.
	MaxTravelMM float64
}

// CheckPower validates a commanded power against the absolute ceiling.
func (l Limits) CheckPower(watts float64) error {
	if watts < 0 {
		return fmt.Errorf("%w: negative power %.2f W", ErrPowerLimit, watts)
	}
	if l.AbsoluteMaxWatts > 0 && watts > l.AbsoluteMaxWatts {
		return fmt.Errorf("%w: %.2f W exceeds ceiling %.2f W", ErrPowerLimit, watts, l.AbsoluteMaxWatts)
	}
	return nil
}

// CheckRamp validates the power delta between two consecutive commands.
// A zero elapsed duration only passes when the power is unchanged; a step
// in zero time is an unbounded ramp.
func (l Limits) CheckRamp(prevWatts, nextWatts float64, elapsed time.Duration) error {
	if l.MaxRampWattsPerSecond <= 0 {
		return nil
	}
	delta := math.Abs(nextWatts - prevWatts)
	if delta == 0 {
		return nil
	}
	if elapsed <= 0 {
		return fmt.Errorf("%w: %.2f W step with no elapsed time", ErrRampLimit, delta)
	}
	rate := delta / elapsed.Seconds()
	if rate > l.MaxRampWattsPerSecond {
		return fmt.Errorf("%w: %.2f W/s exceeds %.2f W/s", ErrRampLimit, rate, l.MaxRampWattsPerSecond)
	}
	return nil
}

// CheckTravel validates an actuator target position.
func (l Limits) CheckTravel(positionMM float64) error {
	if positionMM < 0 {
		return fmt.Errorf("%w: negative position %.2f mm", ErrTravelLimit, positionMM)
	}
	if l.MaxTravelMM > 0 && positionMM > l.MaxTravelMM {
		return fmt.Errorf("%w: %.2f mm exceeds range %.2f mm", ErrTravelLimit, positionMM, l.MaxTravelMM)
	}
	return nil
}
