package terminal

import "errors"

var (
	// ErrSessionNotFound indicates no session with the given ID exists.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionClosed indicates the session's shell has exited or the
	// session was closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionBusy indicates a command is already executing in the
	// session.
	ErrSessionBusy = errors.New("session busy")

	// ErrShellExited indicates the shell died while a command was in
	// flight.
	ErrShellExited = errors.New("shell exited during command")

	// ErrShellNotFound indicates the configured shell executable does
	// not exist.
	ErrShellNotFound = errors.New("shell not found")

	// ErrManagerClosed indicates the manager has been shut down.
	ErrManagerClosed = errors.New("terminal manager closed")
)
