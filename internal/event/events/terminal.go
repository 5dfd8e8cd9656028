package events

import (
	"time"

	"github.com/dshills/furnace/internal/event/topic"
)

// Terminal session event topics.
const (
	// TopicTerminalCreated is published when a session is created.
	TopicTerminalCreated topic.Topic = "terminal.created"

	// TopicTerminalOutput is published for each output chunk captured
	// while a command runs.
	TopicTerminalOutput topic.Topic = "terminal.output"

	// TopicTerminalExited is published when a session's shell exits
	// unexpectedly (not through Close).
	TopicTerminalExited topic.Topic = "terminal.exited"

	// TopicTerminalClosed is published when a session is closed.
	TopicTerminalClosed topic.Topic = "terminal.closed"
)

// TerminalCreated is published when a session is created.
type TerminalCreated struct {
	// SessionID is the unique session identifier.
	SessionID string

	// Name is the session's display name.
	Name string

	// Shell is the shell binary bound to the session.
	Shell string

	// Cwd is the session's working directory.
	Cwd string
}

// TerminalOutput is published for each output chunk of a running
// command. Chunks for one session arrive in capture order; concatenated
// per block they reproduce the command's full output.
type TerminalOutput struct {
	// SessionID is the unique session identifier.
	SessionID string

	// BlockID identifies the command block the chunk belongs to.
	BlockID string

	// Chunk is the captured output text.
	Chunk string

	// IsStderr reports whether the chunk came from stderr.
	IsStderr bool

	// Timestamp is when the chunk was captured.
	Timestamp time.Time
}

// TerminalExited is published when a session's shell process exits
// without Close being called.
type TerminalExited struct {
	// SessionID is the unique session identifier.
	SessionID string

	// ExitCode is the shell's exit code, or -1 if killed by signal.
	ExitCode int

	// Signal names the terminating signal, if any.
	Signal string
}

// TerminalClosed is published when a session is closed.
type TerminalClosed struct {
	// SessionID is the unique session identifier.
	SessionID string

	// Name is the session's display name.
	Name string
}
