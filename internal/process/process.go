package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the lifecycle state of a supervised process.
type State int

const (
	// StateStarting indicates the process has been prepared but not
	// yet confirmed running.
	StateStarting State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process exited on its own, successfully
	// or with a nonzero code.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
	// StateFailed indicates the process could not be waited on
	// normally; ExitStatus().Err carries the reason.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Signal is the supervisor's closed set of deliverable signals.
type Signal int

const (
	// SignalTerminate asks the process to shut down (SIGTERM).
	SignalTerminate Signal = iota
	// SignalKill forcibly ends the process (SIGKILL).
	SignalKill
	// SignalInterrupt interrupts the process (SIGINT).
	SignalInterrupt
)

// String returns the signal name.
func (s Signal) String() string {
	switch s {
	case SignalTerminate:
		return "terminate"
	case SignalKill:
		return "kill"
	case SignalInterrupt:
		return "interrupt"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// unix maps the signal onto its OS representation.
func (s Signal) unix() syscall.Signal {
	switch s {
	case SignalKill:
		return syscall.SIGKILL
	case SignalInterrupt:
		return syscall.SIGINT
	default:
		return syscall.SIGTERM
	}
}

// ExitStatus describes how a process ended.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process was signaled or
	// failed before producing one.
	Code int

	// Signaled reports whether a signal ended the process.
	Signaled bool

	// Signal is the terminating signal's name when Signaled.
	Signal string

	// Err is the non-exit error for StateFailed processes.
	Err error
}

// Process is one supervised child process. It wraps an exec.Cmd with
// lifecycle state, exit tracking, and piped standard I/O. It is safe
// for concurrent use.
type Process struct {
	// ID is the unique identifier for this process.
	ID string

	// Name is a human-readable name for the process.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdin provides write access to the process's stdin.
	// Nil unless the spawn spec asked for a stdin pipe.
	Stdin io.WriteCloser

	// Stdout provides read access to the process's stdout.
	Stdout io.ReadCloser

	// Stderr provides read access to the process's stderr.
	Stderr io.ReadCloser

	// Started is the time the process was started.
	Started time.Time

	// done is closed when the process exits.
	done chan struct{}

	// state tracks the current process state.
	state atomic.Int32

	// exitCode stores the exit code after the process exits.
	exitCode atomic.Int32

	// mu protects exitSignal, exitErr, and ended.
	mu         sync.RWMutex
	exitSignal string
	exitErr    error
	ended      time.Time

	// waitOnce ensures the underlying Wait runs exactly once.
	waitOnce sync.Once
}

func newProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateStarting))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited returns true once the process has stopped for any reason.
func (p *Process) HasExited() bool {
	switch p.State() {
	case StateExited, StateKilled, StateFailed:
		return true
	default:
		return false
	}
}

// PID returns the OS process id, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitStatus returns how the process ended. Only meaningful once
// HasExited reports true; before that Code is -1.
func (p *Process) ExitStatus() ExitStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ExitStatus{
		Code:     int(p.exitCode.Load()),
		Signaled: p.State() == StateKilled,
		Signal:   p.exitSignal,
		Err:      p.exitErr,
	}
}

// Wait blocks until the process exits or the context ends. On normal
// completion it returns the exit status; a context error is returned
// unchanged with the process still running.
func (p *Process) Wait(ctx context.Context) (ExitStatus, error) {
	select {
	case <-p.done:
		return p.ExitStatus(), nil
	case <-ctx.Done():
		return ExitStatus{Code: -1}, ctx.Err()
	}
}

// Signal delivers a signal to the process group, so children spawned by
// a shell receive it too. Returns ErrNotRunning once the process has
// exited.
func (p *Process) Signal(sig Signal) error {
	if !p.IsRunning() {
		return ErrNotRunning
	}
	pid := p.PID()
	if pid <= 0 {
		return ErrNotRunning
	}

	// Negative pid addresses the process group created at spawn.
	if err := syscall.Kill(-pid, sig.unix()); err != nil {
		return p.Cmd.Process.Signal(sig.unix())
	}
	return nil
}

// Terminate sends SIGTERM to the process group.
func (p *Process) Terminate() error {
	return p.Signal(SignalTerminate)
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	return p.Signal(SignalKill)
}

// Runtime returns how long the process has been running, or the total
// runtime once exited.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.ended.IsZero() {
		return p.ended.Sub(p.Started)
	}
	return time.Since(p.Started)
}

// Close closes the process's pipes. It does not stop the process.
func (p *Process) Close() error {
	var errs []error
	if p.Stdin != nil {
		if err := p.Stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdin: %w", err))
		}
	}
	if p.Stdout != nil {
		if err := p.Stdout.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stdout: %w", err))
		}
	}
	if p.Stderr != nil {
		if err := p.Stderr.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stderr: %w", err))
		}
	}
	return errors.Join(errs...)
}

// wirePipes attaches the standard streams to the command and returns
// the child-side pipe ends, which the caller must close after start.
// On error everything opened so far is closed.
func (p *Process) wirePipes(pipeStdin bool) ([]*os.File, error) {
	var opened []*os.File
	cleanup := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	opened = append(opened, stdoutR, stdoutW)
	p.Stdout = stdoutR
	p.Cmd.Stdout = stdoutW

	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	opened = append(opened, stderrR, stderrW)
	p.Stderr = stderrR
	p.Cmd.Stderr = stderrW

	childEnds := []*os.File{stdoutW, stderrW}

	if pipeStdin {
		stdinR, stdinW, err := os.Pipe()
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		p.Stdin = stdinW
		p.Cmd.Stdin = stdinR
		childEnds = append(childEnds, stdinR)
	}

	return childEnds, nil
}

// start launches the process. Called by the supervisor.
func (p *Process) start() error {
	if p.State() != StateStarting {
		return ErrAlreadyStarted
	}

	if err := p.Cmd.Start(); err != nil {
		return err
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	go p.waitLoop()
	return nil
}

// waitLoop reaps the process and records how it ended.
func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		code := 0
		state := StateExited
		var signal string

		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
				if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
					state = StateKilled
					signal = status.Signal().String()
				}
			} else {
				code = -1
				state = StateFailed
			}
		}

		p.mu.Lock()
		p.exitSignal = signal
		if state == StateFailed {
			p.exitErr = err
		}
		p.ended = time.Now()
		p.exitCode.Store(int32(code))
		p.state.Store(int32(state))
		p.mu.Unlock()

		close(p.done)
	})
}
