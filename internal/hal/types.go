package hal

import (
	"context"
	"errors"
)

// DeviceID identifies a hardware command channel.
//
// Exactly one owner issues commands per device; the safety authority holds
// that ownership for every emission-capable channel.
type DeviceID string

// Known device channels.
const (
	DeviceLaser    DeviceID = "laser"
	DeviceAiming   DeviceID = "aiming_beam"
	DeviceTEC      DeviceID = "tec"
	DeviceActuator DeviceID = "actuator"
	DeviceShutter  DeviceID = "shutter"
)

// SignalID identifies a monitored interlock input.
type SignalID string

// Monitored interlock signals.
const (
	SignalDeadman         SignalID = "deadman"
	SignalBeamConditioner SignalID = "beam_conditioner"
	SignalOpticalPower    SignalID = "optical_power"
	SignalSessionValid    SignalID = "session_valid"
	SignalVisualFeed      SignalID = "visual_feed"
	SignalEStopClear      SignalID = "estop_clear"
)

// AllSignals returns every monitored signal, in sampling order.
func AllSignals() []SignalID {
	return []SignalID{
		SignalDeadman, SignalBeamConditioner, SignalOpticalPower,
		SignalSessionValid, SignalVisualFeed, SignalEStopClear,
	}
}

// SignalValue is one raw reading from a hardware input.
//
// Digital channels populate Asserted; the optical power channel populates
// Raw with uncalibrated sensor units.
type SignalValue struct {
	Asserted bool
	Raw      float64
}

// Command is a typed hardware command. Each device kind has its own
// variants; the marker method keeps the set closed.
type Command interface {
	isCommand()
}

// LaserPower commands the treatment laser to the given optical output.
// Zero watts disables emission.
type LaserPower struct {
	Watts float64
}

// LaserDisable forces emission off. Idempotent and safe to issue in any
// state; every fault path ends with one of these.
type LaserDisable struct{}

// AimingBeam switches the low-power aiming beam.
type AimingBeam struct {
	On bool
}

// MoveTo commands the delivery actuator to an absolute position.
type MoveTo struct {
	PositionMM float64
}

// SetTemperature commands the TEC to a target temperature.
type SetTemperature struct {
	Celsius float64
}

// ShutterSet opens or closes the mechanical safety shutter.
type ShutterSet struct {
	Open bool
}

func (LaserPower) isCommand()     {}
func (LaserDisable) isCommand()   {}
func (AimingBeam) isCommand()     {}
func (MoveTo) isCommand()         {}
func (SetTemperature) isCommand() {}
func (ShutterSet) isCommand()     {}

// IsEmission reports whether a command can cause or sustain laser emission.
// Emission commands are the ones gated by the safety authority's permission
// check on every issue.
func IsEmission(cmd Command) bool {
	p, ok := cmd.(LaserPower)
	return ok && p.Watts > 0
}

// SignalReader reads interlock inputs. Implementations must honour the
// context deadline: a slow bus returns an error, never blocks past it.
type SignalReader interface {
	ReadSignal(ctx context.Context, id SignalID) (SignalValue, error)
}

// CommandSender issues commands to hardware devices. Disable-class commands
// (LaserDisable, ShutterSet{Open: false}, LaserPower{0}) must be safe to
// send at any time, repeatedly.
type CommandSender interface {
	Send(ctx context.Context, dev DeviceID, cmd Command) error
}

// Device layer errors.
var (
	// ErrReadTimeout indicates a signal read exceeded its deadline.
	ErrReadTimeout = errors.New("hal: signal read timeout")

	// ErrDeviceNAK indicates the device rejected a command.
	ErrDeviceNAK = errors.New("hal: device rejected command")

	// ErrDisconnected indicates the hardware bus is not available.
	ErrDisconnected = errors.New("hal: device disconnected")

	// ErrUnknownSignal indicates a read of an unconfigured signal.
	ErrUnknownSignal = errors.New("hal: unknown signal")

	// ErrUnknownDevice indicates a command to an unconfigured device.
	ErrUnknownDevice = errors.New("hal: unknown device")
)
