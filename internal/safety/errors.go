package safety

import "errors"

var (
	// ErrInvalidTransition is returned when a command is not legal from
	// the current state. A caller bug, not a safety event.
	ErrInvalidTransition = errors.New("safety: invalid transition")

	// ErrInterlocksNotReady is returned when a transition's interlock
	// precondition is not satisfied at evaluation time. Requests are
	// rejected, never queued.
	ErrInterlocksNotReady = errors.New("safety: interlocks not ready")

	// ErrStaleInterlocks is returned when no interlock sample fresher
	// than the staleness window exists.
	ErrStaleInterlocks = errors.New("safety: interlock status stale")

	// ErrDeadmanReleased is returned when engagement or resume requires
	// the deadman switch held and it is not.
	ErrDeadmanReleased = errors.New("safety: deadman switch not held")

	// ErrEmissionDenied is returned when a power command is issued
	// without emission permission.
	ErrEmissionDenied = errors.New("safety: emission not permitted")

	// ErrPowerLimit is returned when a commanded power exceeds the
	// absolute hardware ceiling.
	ErrPowerLimit = errors.New("safety: power limit exceeded")

	// ErrRampLimit is returned when the per-tick power delta exceeds the
	// configured ramp rate.
	ErrRampLimit = errors.New("safety: ramp rate limit exceeded")

	// ErrTravelLimit is returned when a move command exceeds the
	// actuator travel range.
	ErrTravelLimit = errors.New("safety: travel limit exceeded")

	// ErrRecoveryBlocked is returned when supervisor clearance is
	// attempted before the watchdog has seen a recovery heartbeat.
	ErrRecoveryBlocked = errors.New("safety: control loop has not recovered")
)
