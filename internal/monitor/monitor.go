package monitor

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/events"
	"github.com/dshills/furnace/internal/logging"
	"github.com/dshills/furnace/internal/process"
)

// Defaults for monitor configuration.
const (
	// DefaultBackoffBase is the first restart delay after a failure.
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultBackoffCap bounds the exponential restart delay.
	DefaultBackoffCap = 4 * time.Second

	// DefaultMaxConsecutiveFailures is how many failures in a row move
	// a task to Failed.
	DefaultMaxConsecutiveFailures = 5

	// DefaultLogCapacity is the per-task log ring size.
	DefaultLogCapacity = 1000

	// DefaultStopGrace is the TERM-to-KILL grace period on Stop.
	DefaultStopGrace = 3 * time.Second
)

// drainTimeout caps how long an exited task waits for its pipes to hit
// EOF before force-closing them.
const drainTimeout = 2 * time.Second

// Config configures a Monitor.
type Config struct {
	// Shell runs task command lines (defaults to $SHELL, then /bin/sh).
	Shell string

	// BackoffBase is the first restart delay after a failure.
	BackoffBase time.Duration

	// BackoffCap bounds the exponential restart delay.
	BackoffCap time.Duration

	// MaxConsecutiveFailures moves a task to Failed when reached.
	MaxConsecutiveFailures int

	// LogCapacity is the per-task log ring size.
	LogCapacity int

	// StopGrace is the TERM-to-KILL grace period on Stop.
	StopGrace time.Duration

	// Supervisor spawns the task processes. Required.
	Supervisor *process.Supervisor

	// Publisher receives process.* events.
	Publisher event.Publisher

	// Logger overrides the default component logger.
	Logger *logrus.Entry
}

// Monitor registers background process definitions, keeps them running
// per their restart policies, and aggregates their output.
type Monitor struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	names map[string]string
	order []string

	shell       string
	backoffBase time.Duration
	backoffCap  time.Duration
	maxFailures int
	logCapacity int
	stopGrace   time.Duration

	supervisor *process.Supervisor
	publisher  event.Publisher
	logger     *logrus.Entry

	closed atomic.Bool
}

// New creates a background process monitor.
func New(cfg Config) *Monitor {
	if cfg.Shell == "" {
		cfg.Shell = os.Getenv("SHELL")
		if cfg.Shell == "" {
			cfg.Shell = "/bin/sh"
		}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if cfg.LogCapacity <= 0 {
		cfg.LogCapacity = DefaultLogCapacity
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Publisher == nil {
		cfg.Publisher = event.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("monitor")
	}

	return &Monitor{
		tasks:       make(map[string]*Task),
		names:       make(map[string]string),
		shell:       cfg.Shell,
		backoffBase: cfg.BackoffBase,
		backoffCap:  cfg.BackoffCap,
		maxFailures: cfg.MaxConsecutiveFailures,
		logCapacity: cfg.LogCapacity,
		stopGrace:   cfg.StopGrace,
		supervisor:  cfg.Supervisor,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
	}
}

// TaskOption customizes task registration.
type TaskOption func(*Task)

// WithTaskEnv sets extra environment variables for the task's process.
func WithTaskEnv(env map[string]string) TaskOption {
	return func(t *Task) {
		t.Env = env
	}
}

// WithTaskID pins the task's ID, used when restoring persisted tasks.
func WithTaskID(id string) TaskOption {
	return func(t *Task) {
		t.ID = id
	}
}

// Register adds a task definition under a unique name. The process is
// not started; call Start for that.
func (m *Monitor) Register(name, command, dir string, policy RestartPolicy, opts ...TaskOption) (*Task, error) {
	if m.closed.Load() {
		return nil, ErrMonitorClosed
	}
	if name == "" {
		return nil, fmt.Errorf("task name is empty")
	}
	if command == "" {
		return nil, ErrEmptyCommand
	}

	t := &Task{
		ID:      uuid.NewString(),
		Name:    name,
		Command: command,
		Dir:     dir,
		Policy:  policy,
		Created: time.Now(),
		logs:    NewLogRing(m.logCapacity),
		state:   TaskStopped,
	}
	t.updated = t.Created
	for _, opt := range opts {
		opt(t)
	}

	m.mu.Lock()
	if _, taken := m.names[name]; taken {
		m.mu.Unlock()
		return nil, fmt.Errorf("task %q: %w", name, ErrDuplicateName)
	}
	m.tasks[t.ID] = t
	m.names[name] = t.ID
	m.order = append(m.order, t.ID)
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"task":    t.ID,
		"name":    name,
		"command": command,
		"policy":  policy.String(),
	}).Info("task registered")

	return t, nil
}

// Get returns the task with the given ID.
func (m *Monitor) Get(id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return t, nil
}

// GetByName returns the task registered under the given name.
func (m *Monitor) GetByName(name string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.names[name]
	if !ok {
		return nil, fmt.Errorf("task %q: %w", name, ErrTaskNotFound)
	}
	return m.tasks[id], nil
}

// List returns snapshots of every task in registration order.
func (m *Monitor) List() []TaskInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]TaskInfo, 0, len(m.order))
	for _, id := range m.order {
		if t, ok := m.tasks[id]; ok {
			out = append(out, t.Info())
		}
	}
	return out
}

// Logs returns up to limit of the task's most recent log entries.
func (m *Monitor) Logs(id string, limit int) ([]LogEntry, error) {
	t, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return t.Logs(limit), nil
}

// Start attaches a process to the task. A manual start resets the
// consecutive-failure count and clears a Failed state.
func (m *Monitor) Start(id string) error {
	if m.closed.Load() {
		return ErrMonitorClosed
	}
	t, err := m.Get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	switch t.state {
	case TaskRunning, TaskRestarting:
		t.mu.Unlock()
		return fmt.Errorf("task %q: %w", t.Name, ErrAlreadyRunning)
	default:
	}
	t.mu.Unlock()

	proc, err := m.spawn(t)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.proc = proc
	t.state = TaskRunning
	t.started = time.Now()
	t.updated = t.started
	t.consecutiveFailures = 0
	t.stopRequested = false
	t.stopCh = make(chan struct{})
	t.runDone = make(chan struct{})
	t.mu.Unlock()

	m.publishStarted(t, proc)
	go m.runLoop(t, proc)
	return nil
}

// Stop ends the task's process and suppresses any restart. The task
// definition stays registered. Blocks until the watch loop has wound
// down.
func (m *Monitor) Stop(id string) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	switch t.state {
	case TaskRunning, TaskRestarting:
	default:
		t.mu.Unlock()
		return fmt.Errorf("task %q: %w", t.Name, ErrTaskNotRunning)
	}
	t.stopRequested = true
	proc := t.proc
	runDone := t.runDone
	t.mu.Unlock()

	t.signalStop()

	if proc != nil {
		if err := proc.Terminate(); err == nil {
			select {
			case <-proc.Done():
			case <-time.After(m.stopGrace):
				_ = proc.Kill()
			}
		}
	}

	<-runDone
	return nil
}

// Remove stops the task if needed and drops its registration.
func (m *Monitor) Remove(id string) error {
	t, err := m.Get(id)
	if err != nil {
		return err
	}

	switch t.State() {
	case TaskRunning, TaskRestarting:
		// The task may settle on its own between the check and the stop
		if err := m.Stop(id); err != nil && !errors.Is(err, ErrTaskNotRunning) {
			return err
		}
	default:
	}

	m.mu.Lock()
	delete(m.tasks, id)
	delete(m.names, t.Name)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.logger.WithField("task", id).Info("task removed")
	return nil
}

// StopAll stops every running task concurrently and waits for all of
// them.
func (m *Monitor) StopAll() {
	var wg sync.WaitGroup
	for _, info := range m.List() {
		switch info.State {
		case TaskRunning, TaskRestarting:
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_ = m.Stop(id)
			}(info.ID)
		default:
		}
	}
	wg.Wait()
}

// Shutdown stops all tasks and refuses further registrations/starts.
func (m *Monitor) Shutdown() {
	if m.closed.Swap(true) {
		return
	}
	m.StopAll()
}

// spawn starts the task's command through the configured shell.
func (m *Monitor) spawn(t *Task) (*process.Process, error) {
	return m.supervisor.Spawn(process.Spec{
		Name:    "task:" + t.Name,
		Command: m.shell,
		Args:    []string{"-c", t.Command},
		Dir:     t.Dir,
		Env:     t.Env,
	})
}

// SetBackoff adjusts the restart backoff and the consecutive-failure
// limit for future restart decisions. Values that are not positive, or
// a ceiling below the base, keep the current setting.
func (m *Monitor) SetBackoff(base, ceiling time.Duration, maxFailures int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if base > 0 {
		m.backoffBase = base
	}
	if ceiling >= m.backoffBase {
		m.backoffCap = ceiling
	}
	if maxFailures > 0 {
		m.maxFailures = maxFailures
	}
}

// backoffFor returns the restart delay after the given number of
// consecutive failures (1-based), exponential and capped.
func (m *Monitor) backoffFor(failures int) time.Duration {
	m.mu.RLock()
	base, ceiling := m.backoffBase, m.backoffCap
	m.mu.RUnlock()

	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// failureLimit is the live consecutive-failure cap.
func (m *Monitor) failureLimit() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxFailures
}

// onLine captures one output line into the task's ring and publishes
// it.
func (m *Monitor) onLine(t *Task, c process.Chunk) {
	entry := LogEntry{
		Time:   c.Timestamp,
		Stream: c.Stream,
		Level:  levelFor(c.Stream),
		Line:   c.Line(),
	}
	t.logs.Append(entry)

	m.publisher.Publish(events.TopicProcessLog, events.ProcessLog{
		TaskID:    t.ID,
		Name:      t.Name,
		Line:      entry.Line,
		Level:     entry.Level,
		Timestamp: entry.Time,
	})
}

// runLoop owns one started task: it pumps output, watches for exit,
// and applies the restart policy until the task stops, fails, or is
// told to stop.
func (m *Monitor) runLoop(t *Task, proc *process.Process) {
	defer close(t.runDone)

	for {
		var pumps sync.WaitGroup
		pumps.Add(2)
		go func() {
			defer pumps.Done()
			_ = process.Forward(proc.Stdout, process.Stdout, func(c process.Chunk) { m.onLine(t, c) })
		}()
		go func() {
			defer pumps.Done()
			_ = process.Forward(proc.Stderr, process.Stderr, func(c process.Chunk) { m.onLine(t, c) })
		}()

		<-proc.Done()

		// Children that inherited the pipes can hold them open past the
		// exit; cap the drain so policy decisions are not stalled.
		drained := make(chan struct{})
		go func() {
			pumps.Wait()
			close(drained)
		}()
		select {
		case <-drained:
		case <-time.After(drainTimeout):
			_ = proc.Close()
			<-drained
		}

		status := proc.ExitStatus()

		t.mu.Lock()
		t.proc = nil
		t.lastExit = status
		stopReq := t.stopRequested
		t.mu.Unlock()

		if stopReq {
			t.setState(TaskStopped)
			m.publishStopped(t, status.Code, true)
			return
		}

		if status.Code == 0 && !status.Signaled {
			t.mu.Lock()
			t.consecutiveFailures = 0
			t.mu.Unlock()

			if t.Policy != PolicyAlways {
				t.setState(TaskStopped)
				m.publishStopped(t, 0, false)
				return
			}

			// Clean exit under Always restarts immediately
			next, ok := m.restart(t, 0)
			if !ok {
				return
			}
			proc = next
			continue
		}

		// Failure path
		t.mu.Lock()
		t.consecutiveFailures++
		failures := t.consecutiveFailures
		t.mu.Unlock()

		m.logger.WithFields(logrus.Fields{
			"task":     t.Name,
			"code":     status.Code,
			"signal":   status.Signal,
			"failures": failures,
		}).Warn("task process failed")

		if t.Policy == PolicyNever {
			t.setState(TaskStopped)
			m.publishStopped(t, status.Code, false)
			return
		}

		if failures >= m.failureLimit() {
			t.setState(TaskFailed)
			m.logger.WithFields(logrus.Fields{
				"task":     t.Name,
				"failures": failures,
			}).Error("task failed permanently")
			m.publisher.Publish(events.TopicProcessFailed, events.ProcessFailed{
				TaskID:   t.ID,
				Name:     t.Name,
				Failures: failures,
				ExitCode: status.Code,
			})
			return
		}

		delay := m.backoffFor(failures)
		t.setState(TaskRestarting)

		select {
		case <-time.After(delay):
		case <-t.stopCh:
			t.setState(TaskStopped)
			m.publishStopped(t, status.Code, true)
			return
		}

		next, ok := m.restart(t, delay)
		if !ok {
			return
		}
		proc = next
	}
}

// restart spawns the task's next process, recording the restart. A
// spawn failure counts toward the consecutive-failure cap; reaching it
// fails the task.
func (m *Monitor) restart(t *Task, backoff time.Duration) (*process.Process, bool) {
	t.mu.Lock()
	t.restarts++
	restarts := t.restarts
	t.mu.Unlock()

	m.publisher.Publish(events.TopicProcessRestarted, events.ProcessRestarted{
		TaskID:   t.ID,
		Name:     t.Name,
		Restarts: restarts,
		Backoff:  backoff,
	})

	proc, err := m.spawn(t)
	if err != nil {
		t.mu.Lock()
		t.consecutiveFailures++
		failures := t.consecutiveFailures
		t.lastExit = process.ExitStatus{Code: -1, Err: err}
		t.mu.Unlock()

		m.logger.WithField("task", t.Name).WithError(err).Error("respawn failed")

		if failures >= m.failureLimit() {
			t.setState(TaskFailed)
			m.publisher.Publish(events.TopicProcessFailed, events.ProcessFailed{
				TaskID:   t.ID,
				Name:     t.Name,
				Failures: failures,
				ExitCode: -1,
			})
		} else {
			t.setState(TaskStopped)
			m.publishStopped(t, -1, false)
		}
		return nil, false
	}

	t.mu.Lock()
	t.proc = proc
	t.state = TaskRunning
	t.started = time.Now()
	t.updated = t.started
	stopReq := t.stopRequested
	t.mu.Unlock()

	// A Stop that landed between exit and respawn still wins
	if stopReq {
		_ = proc.Kill()
	}

	m.publishStarted(t, proc)
	return proc, true
}

func (m *Monitor) publishStarted(t *Task, proc *process.Process) {
	m.logger.WithFields(logrus.Fields{
		"task": t.Name,
		"pid":  proc.PID(),
	}).Info("task started")
	m.publisher.Publish(events.TopicProcessStarted, events.ProcessStarted{
		TaskID:  t.ID,
		Name:    t.Name,
		PID:     proc.PID(),
		Command: t.Command,
	})
}

func (m *Monitor) publishStopped(t *Task, exitCode int, requested bool) {
	m.logger.WithFields(logrus.Fields{
		"task":      t.Name,
		"code":      exitCode,
		"requested": requested,
	}).Info("task stopped")
	m.publisher.Publish(events.TopicProcessStopped, events.ProcessStopped{
		TaskID:    t.ID,
		Name:      t.Name,
		ExitCode:  exitCode,
		Requested: requested,
	})
}
