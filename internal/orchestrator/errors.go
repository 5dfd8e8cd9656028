package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/monitor"
	"github.com/dshills/furnace/internal/process"
	"github.com/dshills/furnace/internal/project"
	"github.com/dshills/furnace/internal/terminal"
)

// Code classifies a facade failure.
type Code string

// Failure codes returned by facade operations.
const (
	// CodeSpawnError means a process could not be created.
	CodeSpawnError Code = "spawn_error"

	// CodeNotFound means the session or task id is unknown.
	CodeNotFound Code = "not_found"

	// CodeNotActive means the target exists but is not in a state that
	// accepts the operation (closed session, busy session, stopped task).
	CodeNotActive Code = "not_active"

	// CodeAlreadyRunning means a start was issued for a running task.
	CodeAlreadyRunning Code = "already_running"

	// CodeDuplicateName means a registration name is already taken.
	CodeDuplicateName Code = "duplicate_name"

	// CodeProcessCrash means a process ended unexpectedly during the
	// operation.
	CodeProcessCrash Code = "process_crash"

	// CodeInvalidArgument means the request was rejected before
	// delegation.
	CodeInvalidArgument Code = "invalid_argument"

	// CodeShuttingDown means the orchestrator no longer accepts work.
	CodeShuttingDown Code = "shutting_down"
)

// Error is the structured failure every facade operation returns.
type Error struct {
	// Code classifies the failure.
	Code Code

	// Message describes the failure in operation terms.
	Message string

	// Details carries optional structured context.
	Details map[string]any

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail attaches one structured context value.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// CodeOf extracts the failure code from an error chain, or "" if the
// chain carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// invalidArgument builds a validation failure.
func invalidArgument(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// shuttingDown builds a refused-during-shutdown failure.
func shuttingDown() *Error {
	return &Error{Code: CodeShuttingDown, Message: "orchestrator is shutting down"}
}

// failf wraps a manager error with its taxonomy code.
func failf(err error, format string, args ...any) *Error {
	return &Error{Code: codeFor(err), Message: fmt.Sprintf(format, args...), Err: err}
}

// codeFor maps manager sentinel errors onto facade codes. Errors with
// no mapping classify as process_crash: the operation failed for a
// reason the caller could not have prevented.
func codeFor(err error) Code {
	var spawnErr *process.SpawnError
	if errors.As(err, &spawnErr) {
		return CodeSpawnError
	}
	var facadeErr *Error
	if errors.As(err, &facadeErr) {
		return facadeErr.Code
	}

	switch {
	case errors.Is(err, terminal.ErrShellNotFound),
		errors.Is(err, process.ErrProcessLimit):
		return CodeSpawnError
	case errors.Is(err, terminal.ErrSessionNotFound),
		errors.Is(err, monitor.ErrTaskNotFound),
		errors.Is(err, process.ErrProcessNotFound):
		return CodeNotFound
	case errors.Is(err, terminal.ErrSessionClosed),
		errors.Is(err, terminal.ErrSessionBusy),
		errors.Is(err, monitor.ErrTaskNotRunning),
		errors.Is(err, process.ErrNotRunning),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return CodeNotActive
	case errors.Is(err, monitor.ErrAlreadyRunning),
		errors.Is(err, process.ErrAlreadyStarted):
		return CodeAlreadyRunning
	case errors.Is(err, monitor.ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, terminal.ErrShellExited):
		return CodeProcessCrash
	case errors.Is(err, monitor.ErrEmptyCommand),
		errors.Is(err, event.ErrInvalidPattern),
		errors.Is(err, event.ErrInvalidTopic),
		errors.Is(err, project.ErrNoProject),
		errors.Is(err, project.ErrNoDevCommand):
		return CodeInvalidArgument
	case errors.Is(err, terminal.ErrManagerClosed),
		errors.Is(err, monitor.ErrMonitorClosed),
		errors.Is(err, process.ErrSupervisorShutdown),
		errors.Is(err, event.ErrBusClosed):
		return CodeShuttingDown
	default:
		return CodeProcessCrash
	}
}
