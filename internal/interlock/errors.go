package interlock

import "errors"

var (
	// ErrMonitorStopped is returned when sampling is requested after Stop.
	ErrMonitorStopped = errors.New("interlock: monitor stopped")

	// ErrNoReader is returned when a monitor is constructed without a
	// signal source.
	ErrNoReader = errors.New("interlock: signal reader is required")
)
