package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/dshills/furnace/internal/process"
)

// RestartPolicy decides what happens when a monitored process exits.
type RestartPolicy int

const (
	// PolicyNever leaves the task stopped after any exit.
	PolicyNever RestartPolicy = iota
	// PolicyOnFailure restarts only after a nonzero exit.
	PolicyOnFailure
	// PolicyAlways restarts after every exit, clean or not.
	PolicyAlways
)

// String returns the policy name.
func (p RestartPolicy) String() string {
	switch p {
	case PolicyNever:
		return "never"
	case PolicyOnFailure:
		return "on-failure"
	case PolicyAlways:
		return "always"
	default:
		return fmt.Sprintf("unknown(%d)", p)
	}
}

// ParsePolicy maps a policy name back to its value.
func ParsePolicy(s string) (RestartPolicy, error) {
	switch s {
	case "never":
		return PolicyNever, nil
	case "on-failure":
		return PolicyOnFailure, nil
	case "always":
		return PolicyAlways, nil
	default:
		return PolicyNever, fmt.Errorf("unknown restart policy %q", s)
	}
}

// TaskState is the lifecycle state of a monitored task.
type TaskState int

const (
	// TaskStopped means no process is attached.
	TaskStopped TaskState = iota
	// TaskRunning means the task's process is alive.
	TaskRunning
	// TaskRestarting means the task is waiting out a restart backoff.
	TaskRestarting
	// TaskFailed means the task hit its consecutive-failure cap and
	// will not restart without manual intervention.
	TaskFailed
)

// String returns a human-readable state name.
func (s TaskState) String() string {
	switch s {
	case TaskStopped:
		return "stopped"
	case TaskRunning:
		return "running"
	case TaskRestarting:
		return "restarting"
	case TaskFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// TaskInfo is a point-in-time snapshot of a task.
type TaskInfo struct {
	ID                  string
	Name                string
	Command             string
	Dir                 string
	Policy              RestartPolicy
	State               TaskState
	PID                 int
	Restarts            int
	ConsecutiveFailures int
	LastExitCode        int
	Created             time.Time
	Updated             time.Time
	Started             time.Time
}

// Task is one registered background process definition plus its
// runtime state. Registration alone attaches no process; Start does.
type Task struct {
	// ID is the task's unique identifier.
	ID string

	// Name is the unique human-chosen task name.
	Name string

	// Command is the shell command line the task runs.
	Command string

	// Dir is the working directory.
	Dir string

	// Env holds extra environment variables for the process.
	Env map[string]string

	// Policy is the task's restart policy.
	Policy RestartPolicy

	// Created is when the task was registered.
	Created time.Time

	logs *LogRing

	mu                  sync.Mutex
	state               TaskState
	proc                *process.Process
	restarts            int
	consecutiveFailures int
	lastExit            process.ExitStatus
	started             time.Time
	updated             time.Time

	stopRequested bool
	stopCh        chan struct{}
	runDone       chan struct{}
}

// State returns the task's current state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PID returns the live process ID, or -1 when none is attached.
func (t *Task) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return -1
	}
	return t.proc.PID()
}

// Restarts returns how many times the task has been restarted since
// registration.
func (t *Task) Restarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.restarts
}

// Logs returns up to limit of the task's most recent log entries.
func (t *Task) Logs(limit int) []LogEntry {
	return t.logs.Last(limit)
}

// Info returns a snapshot of the task.
func (t *Task) Info() TaskInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	pid := -1
	if t.proc != nil {
		pid = t.proc.PID()
	}
	return TaskInfo{
		ID:                  t.ID,
		Name:                t.Name,
		Command:             t.Command,
		Dir:                 t.Dir,
		Policy:              t.Policy,
		State:               t.state,
		PID:                 pid,
		Restarts:            t.restarts,
		ConsecutiveFailures: t.consecutiveFailures,
		LastExitCode:        t.lastExit.Code,
		Created:             t.Created,
		Updated:             t.updated,
		Started:             t.started,
	}
}

// setState records a state change.
func (t *Task) setState(s TaskState) {
	t.mu.Lock()
	t.state = s
	t.updated = time.Now()
	t.mu.Unlock()
}

// signalStop closes the task's stop channel once.
func (t *Task) signalStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
}
