package interlock

import (
	"time"

	"github.com/photarc/lumacore/internal/hal"
)

// SignalState is the tri-state outcome of sampling one interlock signal.
//
// There is deliberately no path from "no data" to StateOK: a signal that
// cannot be read is StateFault, and StateUnknown exists only for signals
// that have never been sampled at all.
type SignalState string

// SignalState values.
const (
	StateOK      SignalState = "ok"
	StateFault   SignalState = "fault"
	StateUnknown SignalState = "unknown"
)

// Reading is the sampled state of a single signal.
type Reading struct {
	State SignalState `json:"state"`

	// Detail describes why a signal is faulted (read error, out of band).
	// Empty for ok readings.
	Detail string `json:"detail,omitempty"`

	// ReadError marks a fault caused by the signal being unreadable
	// rather than by its sampled value. The distinction matters for the
	// deadman switch, where a released switch pauses treatment but an
	// unreadable switch is a safety fault.
	ReadError bool `json:"read_error,omitempty"`
}

// Status is a complete interlock snapshot. It is a fixed-size value record:
// one Reading per monitored signal plus sampling metadata. Snapshots are
// copied by value everywhere; nothing outside the monitor mutates one.
type Status struct {
	Deadman         Reading `json:"deadman"`
	BeamConditioner Reading `json:"beam_conditioner"`
	OpticalPower    Reading `json:"optical_power"`
	SessionValid    Reading `json:"session_valid"`
	VisualFeed      Reading `json:"visual_feed"`
	EStopClear      Reading `json:"estop_clear"`

	// MeasuredWatts and CommandedWatts record the calibrated power
	// comparison behind the OpticalPower reading.
	MeasuredWatts  float64 `json:"measured_watts"`
	CommandedWatts float64 `json:"commanded_watts"`

	// UncommandedEmission is set when power was measured while the laser
	// was commanded off. Always classified critical by the authority.
	UncommandedEmission bool `json:"uncommanded_emission,omitempty"`

	// Sequence increases by one per completed sample; snapshots are
	// totally ordered.
	Sequence uint64 `json:"sequence"`

	// SampledAt is the monotonic completion time of the sample.
	SampledAt time.Duration `json:"sampled_at_ns"`

	// WallTime is the wall-clock completion time, for audit records.
	WallTime time.Time `json:"wall_time"`
}

// Signal returns the Reading for a given signal ID.
func (s Status) Signal(id hal.SignalID) Reading {
	switch id {
	case hal.SignalDeadman:
		return s.Deadman
	case hal.SignalBeamConditioner:
		return s.BeamConditioner
	case hal.SignalOpticalPower:
		return s.OpticalPower
	case hal.SignalSessionValid:
		return s.SessionValid
	case hal.SignalVisualFeed:
		return s.VisualFeed
	case hal.SignalEStopClear:
		return s.EStopClear
	default:
		return Reading{State: StateUnknown}
	}
}

// AllOK reports whether every signal is affirmatively ok. Unknown counts as
// not ok (positive permission, not absence-of-fault).
func (s Status) AllOK() bool {
	for _, id := range hal.AllSignals() {
		if s.Signal(id).State != StateOK {
			return false
		}
	}
	return true
}

// ReadyToArm reports whether every signal except the deadman is ok. The
// deadman is held only while treating, so a released deadman does not block
// arming.
func (s Status) ReadyToArm() bool {
	for _, id := range hal.AllSignals() {
		if id == hal.SignalDeadman {
			continue
		}
		if s.Signal(id).State != StateOK {
			return false
		}
	}
	return true
}

// Faulted returns the IDs of every signal currently in fault.
func (s Status) Faulted() []hal.SignalID {
	var out []hal.SignalID
	for _, id := range hal.AllSignals() {
		if s.Signal(id).State == StateFault {
			out = append(out, id)
		}
	}
	return out
}

// Age returns how old the snapshot is relative to the given monotonic now.
func (s Status) Age(now time.Duration) time.Duration {
	return now - s.SampledAt
}

// Fresh reports whether the snapshot is younger than the staleness window.
// An unsampled (zero-sequence) snapshot is never fresh.
func (s Status) Fresh(now, staleness time.Duration) bool {
	if s.Sequence == 0 {
		return false
	}
	return s.Age(now) < staleness
}

func (s *Status) setSignal(id hal.SignalID, r Reading) {
	switch id {
	case hal.SignalDeadman:
		s.Deadman = r
	case hal.SignalBeamConditioner:
		s.BeamConditioner = r
	case hal.SignalOpticalPower:
		s.OpticalPower = r
	case hal.SignalSessionValid:
		s.SessionValid = r
	case hal.SignalVisualFeed:
		s.VisualFeed = r
	case hal.SignalEStopClear:
		s.EStopClear = r
	}
}
