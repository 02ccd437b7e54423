package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/photarc/lumacore/internal/hal"
)

// Duration is a time.Duration that marshals as a human-readable string
// ("2s", "500ms"). Unmarshalling accepts either a duration string or
// integer nanoseconds, in both JSON and YAML protocol files.
type Duration time.Duration

// Std returns the value as a standard time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// Seconds returns the duration as a floating point number of seconds.
func (d Duration) Seconds() float64 { return time.Duration(d).Seconds() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(val)
		return nil
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", val, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be a string or integer nanoseconds, got %T", v)
	}
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parsing duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("duration must be a string or integer nanoseconds")
}

// Kind is the command class of one action.
type Kind string

// Kind values.
const (
	KindSetPower       Kind = "set_power"
	KindRamp           Kind = "ramp"
	KindMoveTo         Kind = "move_to"
	KindWait           Kind = "wait"
	KindSetTemperature Kind = "set_temperature"
	KindAimingBeam     Kind = "aiming_beam"
)

// RampShape selects the interpolation curve for a ramp action.
type RampShape string

// RampShape values.
const (
	RampLinear      RampShape = "linear"
	RampLogarithmic RampShape = "logarithmic"
	RampExponential RampShape = "exponential"
)

// Action is one timed hardware instruction. Only the fields relevant to
// its Kind are populated; validation rejects the rest at load time.
type Action struct {
	Device hal.DeviceID `json:"device" yaml:"device"`
	Kind   Kind         `json:"kind" yaml:"kind"`

	// Watts is the target for set_power and the endpoint for ramp.
	Watts float64 `json:"watts,omitempty" yaml:"watts,omitempty"`

	// StartWatts is the ramp starting power.
	StartWatts float64 `json:"start_watts,omitempty" yaml:"start_watts,omitempty"`

	// Shape selects the ramp curve. Defaults to linear.
	Shape RampShape `json:"shape,omitempty" yaml:"shape,omitempty"`

	// PositionMM is the move_to target.
	PositionMM float64 `json:"position_mm,omitempty" yaml:"position_mm,omitempty"`

	// Celsius is the set_temperature target.
	Celsius float64 `json:"celsius,omitempty" yaml:"celsius,omitempty"`

	// On is the aiming_beam switch state.
	On bool `json:"on,omitempty" yaml:"on,omitempty"`

	// Duration is how long the action runs. Zero means the action
	// completes in the tick it starts (instantaneous command).
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Line groups actions that start in the same tick. Each action completes
// on its own duration; the line completes when all of them have.
type Line struct {
	Actions []Action `json:"actions" yaml:"actions"`
}

// Variant distinguishes the two protocol layouts.
type Variant string

// Variant values.
const (
	VariantSequential Variant = "sequential"
	VariantLines      Variant = "lines"
)

// Protocol is a declarative treatment program. Exactly one of Actions or
// Lines is populated: Actions runs one action at a time, Lines runs each
// line's actions concurrently. Protocols are read-only once loaded.
type Protocol struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`

	// MaxWatts is the protocol-level power ceiling. Zero means only the
	// absolute hardware ceiling applies.
	MaxWatts float64 `json:"max_watts,omitempty" yaml:"max_watts,omitempty"`

	Actions []Action `json:"actions,omitempty" yaml:"actions,omitempty"`
	Lines   []Line   `json:"lines,omitempty" yaml:"lines,omitempty"`
}

// Variant reports which layout the protocol uses.
func (p Protocol) Variant() Variant {
	if len(p.Lines) > 0 {
		return VariantLines
	}
	return VariantSequential
}

// lines normalises both layouts to the line form: the sequential variant
// is the degenerate case of one action per line.
func (p Protocol) lines() []Line {
	if len(p.Lines) > 0 {
		return p.Lines
	}
	out := make([]Line, len(p.Actions))
	for i, a := range p.Actions {
		out[i] = Line{Actions: []Action{a}}
	}
	return out
}

// ExecState is the engine's execution status.
type ExecState string

// ExecState values.
const (
	ExecIdle      ExecState = "idle"
	ExecRunning   ExecState = "running"
	ExecPaused    ExecState = "paused"
	ExecCompleted ExecState = "completed"
	ExecAborted   ExecState = "aborted"
)

// ActionProgress is the read-only per-action view within the current line.
type ActionProgress struct {
	Kind    Kind          `json:"kind"`
	Device  hal.DeviceID  `json:"device"`
	Elapsed time.Duration `json:"elapsed_ns"`
	Done    bool          `json:"done"`
}

// Cursor is a read-only snapshot of execution progress. The engine owns
// the live cursor; observers only ever receive copies.
type Cursor struct {
	ProtocolID string    `json:"protocol_id"`
	Variant    Variant   `json:"variant"`
	State      ExecState `json:"state"`

	// Line is the zero-based index of the current line; equal to
	// TotalLines once completed.
	Line       int `json:"line"`
	TotalLines int `json:"total_lines"`

	// LineElapsed is time spent within the current line; TotalElapsed
	// spans the whole run. Paused time is excluded from both.
	LineElapsed  time.Duration `json:"line_elapsed_ns"`
	TotalElapsed time.Duration `json:"total_elapsed_ns"`

	Actions []ActionProgress `json:"actions,omitempty"`

	// AbortReason is set when State is ExecAborted.
	AbortReason string `json:"abort_reason,omitempty"`
}
