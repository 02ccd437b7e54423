package protocol

import "errors"

var (
	// ErrNoProtocol is returned when execution is requested with nothing
	// loaded.
	ErrNoProtocol = errors.New("protocol: no protocol loaded")

	// ErrAlreadyRunning is returned when a load or start arrives during
	// an active run.
	ErrAlreadyRunning = errors.New("protocol: execution in progress")

	// ErrNotRunning is returned when pause is requested with no active
	// run.
	ErrNotRunning = errors.New("protocol: not running")

	// ErrNotPaused is returned when resume is requested while not paused.
	ErrNotPaused = errors.New("protocol: not paused")

	// ErrValidation wraps every load-time protocol rejection.
	ErrValidation = errors.New("protocol: validation failed")

	// ErrAborted is reported when execution stops on permission denial
	// or fault.
	ErrAborted = errors.New("protocol: execution aborted")
)
