package events

import (
	"time"

	"github.com/dshills/furnace/internal/event/topic"
)

// Background process event topics.
const (
	// TopicProcessStarted is published when a background task's process
	// starts.
	TopicProcessStarted topic.Topic = "process.started"

	// TopicProcessLog is published for each log line a running task
	// emits.
	TopicProcessLog topic.Topic = "process.log"

	// TopicProcessStopped is published when a task's process stops and
	// no restart follows.
	TopicProcessStopped topic.Topic = "process.stopped"

	// TopicProcessRestarted is published when the restart policy
	// relaunches a task.
	TopicProcessRestarted topic.Topic = "process.restarted"

	// TopicProcessFailed is published when a task exhausts its restart
	// budget and transitions to Failed.
	TopicProcessFailed topic.Topic = "process.failed"
)

// ProcessStarted is published when a background task's process starts.
type ProcessStarted struct {
	// TaskID is the unique task identifier.
	TaskID string

	// Name is the task's registered name.
	Name string

	// PID is the OS process id.
	PID int

	// Command is the launch command line.
	Command string
}

// ProcessLog is published for each captured log line of a running task.
type ProcessLog struct {
	// TaskID is the unique task identifier.
	TaskID string

	// Name is the task's registered name.
	Name string

	// Line is the log line without trailing newline.
	Line string

	// Level is "info" for stdout lines and "error" for stderr lines.
	Level string

	// Timestamp is when the line was captured.
	Timestamp time.Time
}

// ProcessStopped is published when a task's process stops and the
// policy does not restart it.
type ProcessStopped struct {
	// TaskID is the unique task identifier.
	TaskID string

	// Name is the task's registered name.
	Name string

	// ExitCode is the process exit code, or -1 if killed by signal.
	ExitCode int

	// Requested reports whether the stop was an explicit Stop call
	// rather than a spontaneous exit.
	Requested bool
}

// ProcessRestarted is published when the restart policy relaunches a
// task after its process exited.
type ProcessRestarted struct {
	// TaskID is the unique task identifier.
	TaskID string

	// Name is the task's registered name.
	Name string

	// Restarts is the task's lifetime restart count after this restart.
	Restarts int

	// Backoff is the delay applied before this restart.
	Backoff time.Duration
}

// ProcessFailed is published when a task reaches its consecutive
// failure limit and will not be retried.
type ProcessFailed struct {
	// TaskID is the unique task identifier.
	TaskID string

	// Name is the task's registered name.
	Name string

	// Failures is the consecutive failure count that tripped the limit.
	Failures int

	// ExitCode is the final process exit code.
	ExitCode int
}
