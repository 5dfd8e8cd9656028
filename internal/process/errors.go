package process

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessNotFound indicates no process with the given ID exists.
	ErrProcessNotFound = errors.New("process not found")

	// ErrNotRunning indicates the process has already exited.
	ErrNotRunning = errors.New("process not running")

	// ErrAlreadyStarted indicates the process was started before.
	ErrAlreadyStarted = errors.New("process already started")

	// ErrSupervisorShutdown indicates the supervisor is shutting down
	// and refuses new processes.
	ErrSupervisorShutdown = errors.New("supervisor shutting down")

	// ErrProcessLimit indicates the supervisor's process cap is reached.
	ErrProcessLimit = errors.New("process limit reached")
)

// SpawnError indicates a command could not be started at all, as
// opposed to starting and then exiting with an error.
type SpawnError struct {
	// Command is the command that failed to start.
	Command string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", e.Command, e.Err)
}

// Unwrap returns the underlying cause.
func (e *SpawnError) Unwrap() error {
	return e.Err
}
