package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/logging"
)

// Spec describes a process to spawn.
type Spec struct {
	// Name is a human-readable name. Defaults to the command.
	Name string

	// Command is the executable to run.
	Command string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra environment variables layered over the parent
	// environment.
	Env map[string]string

	// PipeStdin requests a writable stdin pipe on the process.
	PipeStdin bool
}

// ExitCallback is invoked after a supervised process exits and has been
// removed from the registry.
type ExitCallback func(p *Process, status ExitStatus)

// Supervisor spawns and tracks child processes. Every child runs in its
// own process group so signals reach grandchildren, and Shutdown
// guarantees none are left behind.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	maxProcesses int
	onExit       ExitCallback
	logger       *logrus.Entry

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMaxProcesses caps the number of concurrently tracked processes.
// Zero means no cap.
func WithMaxProcesses(n int) Option {
	return func(s *Supervisor) {
		s.maxProcesses = n
	}
}

// WithExitCallback registers a callback invoked whenever a supervised
// process exits. The callback runs on the process's reaper goroutine.
func WithExitCallback(cb ExitCallback) Option {
	return func(s *Supervisor) {
		s.onExit = cb
	}
}

// WithLogger sets the supervisor's logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// NewSupervisor creates a process supervisor.
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New("supervisor")
	}
	return s
}

// Spawn starts a process from the spec and returns its handle. The
// returned process is registered and reaped by the supervisor.
func (s *Supervisor) Spawn(spec Spec) (*Process, error) {
	return s.SpawnWithID(uuid.NewString(), spec)
}

// SpawnWithID is Spawn with a caller-chosen process ID.
func (s *Supervisor) SpawnWithID(id string, spec Spec) (*Process, error) {
	if s.shuttingDown.Load() {
		return nil, ErrSupervisorShutdown
	}
	if spec.Command == "" {
		return nil, &SpawnError{Command: spec.Command, Err: fmt.Errorf("empty command")}
	}

	s.mu.Lock()
	if _, exists := s.processes[id]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("process %s: %w", id, ErrAlreadyStarted)
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		s.mu.Unlock()
		return nil, ErrProcessLimit
	}
	s.mu.Unlock()

	name := spec.Name
	if name == "" {
		name = spec.Command
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	// Own process group so Signal can address the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	p := newProcess(id, name, cmd)

	// Wire the standard streams through plain os.Pipe ends rather than
	// exec's managed pipes. Wait closes managed pipes on exit, which
	// races with readers and can drop buffered output; these ends stay
	// open until the reader drains them to EOF.
	childEnds, err := p.wirePipes(spec.PipeStdin)
	if err != nil {
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	err = p.start()
	// The child-side ends belong to the child after fork; close our
	// copies so stream readers see EOF when the child exits.
	for _, f := range childEnds {
		f.Close()
	}
	if err != nil {
		p.Close()
		return nil, &SpawnError{Command: spec.Command, Err: err}
	}

	s.mu.Lock()
	s.processes[id] = p
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"id":      id,
		"name":    name,
		"pid":     p.PID(),
		"command": spec.Command,
	}).Debug("process spawned")

	s.wg.Add(1)
	go s.reap(p)

	return p, nil
}

// reap waits for the process to exit, removes it from the registry, and
// fires the exit callback.
func (s *Supervisor) reap(p *Process) {
	defer s.wg.Done()

	<-p.Done()
	status := p.ExitStatus()

	s.mu.Lock()
	delete(s.processes, p.ID)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"id":    p.ID,
		"name":  p.Name,
		"state": p.State().String(),
		"code":  status.Code,
	}).Debug("process exited")

	if s.onExit != nil {
		s.onExit(p, status)
	}
}

// Get returns the tracked process with the given ID.
func (s *Supervisor) Get(id string) (*Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, ErrProcessNotFound)
	}
	return p, nil
}

// List returns all currently tracked processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p)
	}
	return out
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Signal delivers a signal to the process with the given ID.
func (s *Supervisor) Signal(id string, sig Signal) error {
	p, err := s.Get(id)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

// Terminate sends SIGTERM to the process with the given ID.
func (s *Supervisor) Terminate(id string) error {
	return s.Signal(id, SignalTerminate)
}

// Kill sends SIGKILL to the process with the given ID.
func (s *Supervisor) Kill(id string) error {
	return s.Signal(id, SignalKill)
}

// TerminateAll sends SIGTERM to every tracked process.
func (s *Supervisor) TerminateAll() {
	for _, p := range s.List() {
		if err := p.Terminate(); err != nil && err != ErrNotRunning {
			s.logger.WithField("id", p.ID).WithError(err).Warn("terminate failed")
		}
	}
}

// KillAll sends SIGKILL to every tracked process.
func (s *Supervisor) KillAll() {
	for _, p := range s.List() {
		if err := p.Kill(); err != nil && err != ErrNotRunning {
			s.logger.WithField("id", p.ID).WithError(err).Warn("kill failed")
		}
	}
}

// IsShuttingDown reports whether Shutdown has begun.
func (s *Supervisor) IsShuttingDown() bool {
	return s.shuttingDown.Load()
}

// Shutdown stops every tracked process: SIGTERM first, then SIGKILL for
// anything still alive after the grace period. It blocks until every
// process has been reaped or the context ends, so no children survive a
// clean return.
func (s *Supervisor) Shutdown(ctx context.Context, grace time.Duration) error {
	if !s.shuttingDown.CompareAndSwap(false, true) {
		return ErrSupervisorShutdown
	}

	count := s.Count()
	if count == 0 {
		return nil
	}
	s.logger.WithField("count", count).Info("shutting down processes")

	s.TerminateAll()

	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := s.waitForCleanup(graceCtx); err == nil {
		return nil
	}

	s.logger.WithField("count", s.Count()).Warn("grace period expired, killing")
	s.KillAll()

	return s.waitForCleanup(ctx)
}

// waitForCleanup waits for all reaper goroutines to finish.
func (s *Supervisor) waitForCleanup(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// mergeEnv layers extra variables over a base KEY=VALUE environment.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	out = append(out, base...)
	for k, v := range extra {
		out = append(out, k+"="+v)
	}
	return out
}
