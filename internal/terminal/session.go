package terminal

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/events"
	"github.com/dshills/furnace/internal/process"
)

// SessionState is the lifecycle state of a terminal session.
type SessionState int

const (
	// SessionStarting means the shell is being spawned.
	SessionStarting SessionState = iota
	// SessionActive means the shell is idle and ready for a command.
	SessionActive
	// SessionBusy means a command is executing.
	SessionBusy
	// SessionClosed means the shell has exited.
	SessionClosed
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionBusy:
		return "busy"
	case SessionClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// markerByte delimits the exit-status line the shell prints after each
// command. 0x1E is the ASCII record separator, which interactive
// commands essentially never emit.
const markerByte = 0x1e

// drainTimeout caps how long a dead session waits for its pipes to hit
// EOF before force-closing them.
const drainTimeout = 2 * time.Second

// markerCommand prints the last command's exit status wrapped in
// markerByte, once per stream. The stderr copy matters: it sits behind
// any stderr the command wrote, so a block only finalizes after both
// streams have flushed. The octal escape keeps the line portable across
// POSIX printf implementations.
const markerCommand = `__furnace_rc=$?; printf '\036%d\036\n' "$__furnace_rc"; printf '\036%d\036\n' "$__furnace_rc" >&2`

// markersPerCommand is how many marker lines each command produces.
const markersPerCommand = 2

// parseMarker splits a stdout chunk into ordinary output and a trailing
// status marker. ok is false when the chunk holds no marker.
func parseMarker(text string) (prefix string, code int, ok bool) {
	i := strings.IndexByte(text, markerByte)
	if i < 0 {
		return "", 0, false
	}
	rest := text[i+1:]
	j := strings.IndexByte(rest, markerByte)
	if j < 0 {
		return "", 0, false
	}
	code, err := strconv.Atoi(rest[:j])
	if err != nil {
		return "", 0, false
	}
	switch rest[j+1:] {
	case "", "\n", "\r\n":
		return text[:i], code, true
	default:
		return "", 0, false
	}
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	ID           string
	Name         string
	Shell        string
	Cwd          string
	State        SessionState
	PID          int
	Blocks       int
	Created      time.Time
	LastActivity time.Time
}

// Session is one terminal session: a long-lived shell plus the ordered
// command blocks issued to it. One command executes at a time; output
// streams into the current block and onto the bus as it arrives.
type Session struct {
	// ID is the session's unique identifier.
	ID string

	// Name is the session's display name.
	Name string

	// Shell is the shell executable bound to the session.
	Shell string

	// Cwd is the working directory the shell started in.
	Cwd string

	// Created is when the session was created.
	Created time.Time

	proc       *process.Process
	publisher  event.Publisher
	logger     *logrus.Entry
	closeGrace time.Duration

	state          atomic.Int32
	closeRequested atomic.Bool

	mu           sync.Mutex
	blocks       []*CommandBlock
	current      *CommandBlock
	markerSeen   int
	markerCode   int
	lastActivity time.Time

	// closed is closed once the shell has exited and the in-flight
	// block, if any, has been finalized.
	closed chan struct{}
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// PID returns the shell's process ID.
func (s *Session) PID() int {
	return s.proc.PID()
}

// Done returns a channel closed once the session is fully closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Blocks returns the session's command blocks in issue order.
func (s *Session) Blocks() []*CommandBlock {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*CommandBlock, len(s.blocks))
	copy(out, s.blocks)
	return out
}

// Block returns the block with the given ID.
func (s *Session) Block(id string) (*CommandBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.blocks {
		if b.ID == id {
			return b, true
		}
	}
	return nil, false
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	blocks := len(s.blocks)
	last := s.lastActivity
	s.mu.Unlock()

	return SessionInfo{
		ID:           s.ID,
		Name:         s.Name,
		Shell:        s.Shell,
		Cwd:          s.Cwd,
		State:        s.State(),
		PID:          s.PID(),
		Blocks:       blocks,
		Created:      s.Created,
		LastActivity: last,
	}
}

// Execute issues a command to the session's shell and blocks until the
// shell reports its exit status. The returned block carries the
// command's output and exit code.
//
// A canceled context returns early with the block still running; the
// session stays busy until the command actually finishes. If the shell
// dies mid-command the block is marked interrupted and ErrShellExited
// is returned alongside it.
func (s *Session) Execute(ctx context.Context, command string) (*CommandBlock, error) {
	switch st := s.State(); st {
	case SessionClosed:
		return nil, ErrSessionClosed
	case SessionActive:
		// continue below
	default:
		return nil, ErrSessionBusy
	}

	if !s.state.CompareAndSwap(int32(SessionActive), int32(SessionBusy)) {
		if s.State() == SessionClosed {
			return nil, ErrSessionClosed
		}
		return nil, ErrSessionBusy
	}

	s.mu.Lock()
	block := newBlock(len(s.blocks)+1, command)
	s.blocks = append(s.blocks, block)
	s.current = block
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"session": s.ID,
		"block":   block.ID,
		"seq":     block.Seq,
	}).Debug("command issued")

	// The marker line follows the command; the shell prints it once the
	// command (including any multi-line body) has run.
	if _, err := io.WriteString(s.proc.Stdin, command+"\n"+markerCommand+"\n"); err != nil {
		// Shell's stdin is gone; the command never ran.
		s.finishCurrent(-1, BlockInterrupted)
		return block, ErrShellExited
	}

	select {
	case <-block.Done():
		if block.Status() == BlockInterrupted {
			return block, ErrShellExited
		}
		return block, nil
	case <-ctx.Done():
		return block, ctx.Err()
	}
}

// onChunk handles one chunk from either stream: marker lines count
// toward finalizing the current block, everything else is ordinary
// output. Output glued in front of a marker is split off and kept.
func (s *Session) onChunk(c process.Chunk) {
	prefix, code, ok := parseMarker(c.Text)
	if !ok {
		s.onOutput(c)
		return
	}
	if prefix != "" {
		s.onOutput(process.Chunk{Text: prefix, Stream: c.Stream, Timestamp: c.Timestamp})
	}
	s.onMarker(code)
}

// onMarker records one status marker. The block finalizes on the last
// expected marker, once both streams have flushed past it.
func (s *Session) onMarker(code int) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return
	}
	s.markerSeen++
	s.markerCode = code
	done := s.markerSeen >= markersPerCommand
	s.mu.Unlock()

	if done {
		s.finishCurrent(code, BlockCompleted)
	}
}

// onOutput appends a chunk to the current block and publishes it. The
// status marker never reaches this path, so subscribers observe exactly
// the command's own output.
func (s *Session) onOutput(c process.Chunk) {
	var blockID string
	s.mu.Lock()
	if s.current != nil {
		s.current.appendChunk(c)
		blockID = s.current.ID
	}
	s.mu.Unlock()

	s.publisher.Publish(events.TopicTerminalOutput, events.TerminalOutput{
		SessionID: s.ID,
		BlockID:   blockID,
		Chunk:     c.Text,
		IsStderr:  c.Stream == process.Stderr,
		Timestamp: c.Timestamp,
	})
}

// finishCurrent finalizes the in-flight block, if any, and returns the
// session to Active unless it has closed meanwhile.
func (s *Session) finishCurrent(exitCode int, status BlockStatus) {
	s.mu.Lock()
	block := s.current
	s.current = nil
	s.markerSeen = 0
	s.lastActivity = time.Now()
	s.mu.Unlock()

	if block == nil {
		return
	}

	// Restore Active before waking the Execute caller so a follow-up
	// Execute does not race into ErrSessionBusy.
	s.state.CompareAndSwap(int32(SessionBusy), int32(SessionActive))
	block.complete(exitCode, status)
}

// run pumps the shell's streams and watches for its exit. Spawned once
// per session by the manager.
func (s *Session) run() {
	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		if err := process.Forward(s.proc.Stdout, process.Stdout, s.onChunk); err != nil {
			s.logger.WithField("session", s.ID).WithError(err).Warn("stdout stream error")
		}
	}()
	go func() {
		defer pumps.Done()
		if err := process.Forward(s.proc.Stderr, process.Stderr, s.onChunk); err != nil {
			s.logger.WithField("session", s.ID).WithError(err).Warn("stderr stream error")
		}
	}()

	<-s.proc.Done()

	// Drain both pipes so trailing output lands in the block before it
	// is finalized. A background child that inherited the pipes can
	// hold them open past the shell's death; cap the wait and cut the
	// pipes loose.
	drained := make(chan struct{})
	go func() {
		pumps.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		_ = s.proc.Close()
		<-drained
	}

	status := s.proc.ExitStatus()
	s.state.Store(int32(SessionClosed))

	// A command whose stdout marker landed before the shell died still
	// completed; only a command with no marker at all was cut short.
	s.mu.Lock()
	seen, code := s.markerSeen, s.markerCode
	s.mu.Unlock()
	if seen > 0 {
		s.finishCurrent(code, BlockCompleted)
	} else {
		s.finishCurrent(-1, BlockInterrupted)
	}

	if !s.closeRequested.Load() {
		s.logger.WithFields(logrus.Fields{
			"session": s.ID,
			"code":    status.Code,
			"signal":  status.Signal,
		}).Info("shell exited unexpectedly")
		s.publisher.Publish(events.TopicTerminalExited, events.TerminalExited{
			SessionID: s.ID,
			ExitCode:  status.Code,
			Signal:    status.Signal,
		})
	}

	close(s.closed)
}

// Close ends the session: the shell gets SIGTERM, then SIGKILL after
// the grace period. Safe to call more than once; later calls wait for
// the first to finish.
func (s *Session) Close() error {
	if s.closeRequested.Swap(true) {
		<-s.closed
		return nil
	}

	s.state.Store(int32(SessionClosed))

	// Closing stdin first lets the shell exit on its own.
	if s.proc.Stdin != nil {
		_ = s.proc.Stdin.Close()
	}

	if err := s.proc.Terminate(); err == nil {
		select {
		case <-s.proc.Done():
		case <-time.After(s.closeGrace):
			_ = s.proc.Kill()
		}
	}
	<-s.closed

	s.publisher.Publish(events.TopicTerminalClosed, events.TerminalClosed{
		SessionID: s.ID,
		Name:      s.Name,
	})

	s.logger.WithField("session", s.ID).Info("session closed")
	return nil
}
