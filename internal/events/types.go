// Package events carries the append-only safety event stream: state
// transitions, fault records and advisories, fanned out to the audit
// database, MQTT and any other attached sink.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/safety"
)

// Type classifies an event.
type Type string

// Type values.
const (
	TypeTransition Type = "state_transition"
	TypeFault      Type = "fault"
	TypeAdvisory   Type = "advisory"
)

// Event is one entry in the stream. Events are immutable after creation;
// sinks must never mutate one. The Interlocks field carries the full
// snapshot serialised as JSON so a record can be reconstructed without
// log correlation.
type Event struct {
	ID        string        `json:"id"`
	Sequence  uint64        `json:"sequence"`
	Type      Type          `json:"type"`
	WallTime  time.Time     `json:"wall_time"`
	Monotonic time.Duration `json:"monotonic_ns"`

	// Transition fields.
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Trigger   string `json:"trigger,omitempty"`

	// Fault and advisory fields.
	Source   string `json:"source,omitempty"`
	Signal   string `json:"signal,omitempty"`
	Severity string `json:"severity,omitempty"`
	Detail   string `json:"detail,omitempty"`

	// ActionTaken is the authority's recorded response to a fault.
	ActionTaken string `json:"action_taken,omitempty"`

	Interlocks json.RawMessage `json:"interlocks,omitempty"`
}

// FromTransition converts an authority transition record to an event.
func FromTransition(r safety.TransitionRecord) Event {
	snapshot, _ := json.Marshal(r.Interlocks)
	return Event{
		ID:         r.ID,
		Type:       TypeTransition,
		WallTime:   r.WallTime,
		Monotonic:  r.Monotonic,
		FromState:  string(r.From),
		ToState:    string(r.To),
		Trigger:    string(r.Trigger),
		Interlocks: snapshot,
	}
}

// FromFault converts a fault record to an event.
func FromFault(r safety.FaultRecord) Event {
	snapshot, _ := json.Marshal(r.Interlocks)
	return Event{
		ID:          r.ID,
		Type:        TypeFault,
		WallTime:    r.WallTime,
		Monotonic:   r.Monotonic,
		FromState:   string(r.PriorState),
		ToState:     string(safety.StateFault),
		Source:      string(r.Source),
		Signal:      string(r.Signal),
		Severity:    string(r.Severity),
		Detail:      r.Detail,
		ActionTaken: r.ActionTaken,
		Interlocks:  snapshot,
	}
}

// NewAdvisory builds an advisory event.
func NewAdvisory(sig hal.SignalID, detail string, wall time.Time, mono time.Duration) Event {
	return Event{
		ID:        "adv-" + uuid.NewString()[:8],
		Type:      TypeAdvisory,
		WallTime:  wall,
		Monotonic: mono,
		Signal:    string(sig),
		Detail:    detail,
	}
}
