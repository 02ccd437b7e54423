package protocol

import (
	"fmt"
	"time"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/safety"
)

// Validate checks a whole protocol against the configured limits before
// the engine will accept it. The first violation rejects the entire
// protocol; there is no partial load. Values exactly at a ceiling are
// accepted.
func Validate(p Protocol, limits safety.Limits) error {
	if len(p.Actions) == 0 && len(p.Lines) == 0 {
		return fmt.Errorf("%w: protocol %q has no actions", ErrValidation, p.ID)
	}
	if len(p.Actions) > 0 && len(p.Lines) > 0 {
		return fmt.Errorf("%w: protocol %q mixes sequential and line layouts", ErrValidation, p.ID)
	}
	if p.MaxWatts < 0 {
		return fmt.Errorf("%w: protocol %q has negative max_watts", ErrValidation, p.ID)
	}
	if p.MaxWatts > 0 && limits.AbsoluteMaxWatts > 0 && p.MaxWatts > limits.AbsoluteMaxWatts {
		return fmt.Errorf("%w: protocol %q max %.2f W exceeds hardware ceiling %.2f W",
			ErrValidation, p.ID, p.MaxWatts, limits.AbsoluteMaxWatts)
	}

	for li, line := range p.lines() {
		if len(line.Actions) == 0 {
			return fmt.Errorf("%w: line %d is empty", ErrValidation, li)
		}
		for ai, a := range line.Actions {
			if err := validateAction(a, p.MaxWatts, limits); err != nil {
				return fmt.Errorf("%w: line %d action %d: %v", ErrValidation, li, ai, err)
			}
		}
	}
	return nil
}

func validateAction(a Action, protocolMax float64, limits safety.Limits) error {
	if a.Duration < 0 {
		return fmt.Errorf("negative duration %s", a.Duration)
	}

	switch a.Kind {
	case KindSetPower:
		if a.Device != hal.DeviceLaser {
			return fmt.Errorf("set_power targets %q, want laser", a.Device)
		}
		return checkWatts(a.Watts, protocolMax, limits)

	case KindRamp:
		if a.Device != hal.DeviceLaser {
			return fmt.Errorf("ramp targets %q, want laser", a.Device)
		}
		if a.Duration == 0 {
			return fmt.Errorf("ramp requires a duration")
		}
		switch a.Shape {
		case "", RampLinear, RampLogarithmic, RampExponential:
		default:
			return fmt.Errorf("unrecognised ramp shape %q", a.Shape)
		}
		if err := checkWatts(a.StartWatts, protocolMax, limits); err != nil {
			return err
		}
		if err := checkWatts(a.Watts, protocolMax, limits); err != nil {
			return err
		}
		return checkRampRate(a, limits)

	case KindMoveTo:
		if a.Device != hal.DeviceActuator {
			return fmt.Errorf("move_to targets %q, want actuator", a.Device)
		}
		return limits.CheckTravel(a.PositionMM)

	case KindWait:
		if a.Duration == 0 {
			return fmt.Errorf("wait requires a duration")
		}
		return nil

	case KindSetTemperature:
		if a.Device != hal.DeviceTEC {
			return fmt.Errorf("set_temperature targets %q, want tec", a.Device)
		}
		return nil

	case KindAimingBeam:
		if a.Device != hal.DeviceAiming {
			return fmt.Errorf("aiming_beam targets %q, want aiming_beam", a.Device)
		}
		return nil

	default:
		return fmt.Errorf("unrecognised action kind %q", a.Kind)
	}
}

// checkWatts applies the protocol ceiling then the hardware ceiling.
func checkWatts(watts, protocolMax float64, limits safety.Limits) error {
	if watts < 0 {
		return fmt.Errorf("negative power %.2f W", watts)
	}
	if protocolMax > 0 && watts > protocolMax {
		return fmt.Errorf("%.2f W exceeds protocol max %.2f W", watts, protocolMax)
	}
	return limits.CheckPower(watts)
}

// checkRampRate rejects ramps whose average slope exceeds the configured
// rate. The per-tick delta is enforced again at issue time by the safety
// layer; this check fails obviously bad protocols before execution.
func checkRampRate(a Action, limits safety.Limits) error {
	if limits.MaxRampWattsPerSecond <= 0 {
		return nil
	}
	delta := a.Watts - a.StartWatts
	if delta < 0 {
		delta = -delta
	}
	rate := delta / a.Duration.Seconds()
	if rate > limits.MaxRampWattsPerSecond {
		return fmt.Errorf("ramp rate %.2f W/s exceeds %.2f W/s over %s",
			rate, limits.MaxRampWattsPerSecond, a.Duration.Std().Truncate(time.Millisecond))
	}
	return nil
}
