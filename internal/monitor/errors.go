package monitor

import "errors"

var (
	// ErrTaskNotFound indicates no task with the given ID exists.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateName indicates a task with the same name is already
	// registered.
	ErrDuplicateName = errors.New("task name already registered")

	// ErrAlreadyRunning indicates the task already has a live process.
	ErrAlreadyRunning = errors.New("task already running")

	// ErrTaskNotRunning indicates the task has no live process.
	ErrTaskNotRunning = errors.New("task not running")

	// ErrEmptyCommand indicates a task was registered without a
	// command.
	ErrEmptyCommand = errors.New("task command is empty")

	// ErrMonitorClosed indicates the monitor has been shut down.
	ErrMonitorClosed = errors.New("monitor closed")
)
