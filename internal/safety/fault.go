package safety

import (
	"time"

	"github.com/google/uuid"

	"github.com/photarc/lumacore/internal/hal"
	"github.com/photarc/lumacore/internal/interlock"
)

// Severity classifies how a fault is allowed to be handled downstream.
type Severity string

// Severity values.
const (
	// SeverityTransient covers single command I/O failures. The protocol
	// still aborts but the hardware itself reported the problem promptly.
	SeverityTransient Severity = "transient"

	// SeveritySustained covers tripped or unreadable interlock signals.
	SeveritySustained Severity = "sustained"

	// SeverityCritical covers emergency stop, watchdog timeout,
	// uncommanded emission and measured power outside the fault band.
	SeverityCritical Severity = "critical"
)

// Source identifies what raised a fault.
type Source string

// Source values.
const (
	SourceInterlock     Source = "interlock"
	SourceWatchdog      Source = "watchdog"
	SourceEmergencyStop Source = "emergency_stop"
	SourceCommandIO     Source = "command_io"
)

// FaultRecord captures one fault entry completely. Records are immutable
// once created; the authority builds one on fault entry, emits it and
// never touches it again.
type FaultRecord struct {
	ID         string           `json:"id"`
	Monotonic  time.Duration    `json:"monotonic_ns"`
	WallTime   time.Time        `json:"wall_time"`
	Source     Source           `json:"source"`
	Signal     hal.SignalID     `json:"signal,omitempty"`
	Severity   Severity         `json:"severity"`
	Detail     string           `json:"detail"`
	Interlocks interlock.Status `json:"interlocks"`
	PriorState State            `json:"prior_state"`

	// ActionTaken records what the authority did in response, for audit
	// reconstruction without log correlation.
	ActionTaken string `json:"action_taken"`
}

// TransitionRecord captures one state transition for the event stream.
type TransitionRecord struct {
	ID         string           `json:"id"`
	Monotonic  time.Duration    `json:"monotonic_ns"`
	WallTime   time.Time        `json:"wall_time"`
	From       State            `json:"from"`
	To         State            `json:"to"`
	Trigger    Trigger          `json:"trigger"`
	Interlocks interlock.Status `json:"interlocks"`
}

// EventRecorder receives the authority's append-only event stream.
// Implementations must not block; the authority calls these on its own
// goroutines inside the fault latency budget.
type EventRecorder interface {
	StateChanged(TransitionRecord)
	FaultRaised(FaultRecord)
	AdvisoryRaised(signal hal.SignalID, detail string)
}

// noopRecorder discards events. Used when no recorder is wired.
type noopRecorder struct{}

func (noopRecorder) StateChanged(TransitionRecord)       {}
func (noopRecorder) FaultRaised(FaultRecord)             {}
func (noopRecorder) AdvisoryRaised(hal.SignalID, string) {}

func newRecordID(prefix string) string {
	return prefix + "-" + uuid.New().String()[:8]
}
