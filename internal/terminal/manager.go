package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/events"
	"github.com/dshills/furnace/internal/logging"
	"github.com/dshills/furnace/internal/process"
)

// DefaultCloseGrace is how long a closing session's shell gets between
// SIGTERM and SIGKILL.
const DefaultCloseGrace = 3 * time.Second

// ManagerConfig configures a terminal session manager.
type ManagerConfig struct {
	// Shell is the shell executable for new sessions (defaults to
	// $SHELL, then /bin/bash).
	Shell string

	// CloseGrace is the TERM-to-KILL grace period when closing.
	CloseGrace time.Duration

	// Supervisor spawns the session shells. Required.
	Supervisor *process.Supervisor

	// Publisher receives terminal.* events.
	Publisher event.Publisher

	// Logger overrides the default component logger.
	Logger *logrus.Entry
}

// Manager owns terminal sessions: creation, lookup, the active-session
// selection, and shutdown. Closed sessions stay listed so their command
// blocks remain readable.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	order    []string
	activeID string
	created  int

	shell      string
	closeGrace time.Duration
	supervisor *process.Supervisor
	publisher  event.Publisher
	logger     *logrus.Entry

	closed atomic.Bool
}

// NewManager creates a terminal session manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Shell == "" {
		cfg.Shell = os.Getenv("SHELL")
		if cfg.Shell == "" {
			cfg.Shell = "/bin/bash"
		}
	}
	if cfg.CloseGrace <= 0 {
		cfg.CloseGrace = DefaultCloseGrace
	}
	if cfg.Publisher == nil {
		cfg.Publisher = event.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("terminal")
	}

	return &Manager{
		sessions:   make(map[string]*Session),
		shell:      cfg.Shell,
		closeGrace: cfg.CloseGrace,
		supervisor: cfg.Supervisor,
		publisher:  cfg.Publisher,
		logger:     cfg.Logger,
	}
}

// Create spawns a new session shell in the given working directory and
// returns the session once it is ready for commands. The first session
// created becomes the active one.
func (m *Manager) Create(name, cwd string) (*Session, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	if _, err := exec.LookPath(m.shell); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShellNotFound, m.shell)
	}

	m.mu.Lock()
	m.created++
	if name == "" {
		name = fmt.Sprintf("session-%d", m.created)
	}
	m.mu.Unlock()

	// The shell runs non-interactively with piped stdin, so it prints
	// no prompts and session output is exactly command output.
	proc, err := m.supervisor.Spawn(process.Spec{
		Name:      name,
		Command:   m.shell,
		Dir:       cwd,
		PipeStdin: true,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:         proc.ID,
		Name:       name,
		Shell:      m.shell,
		Cwd:        cwd,
		Created:    time.Now(),
		proc:       proc,
		publisher:  m.publisher,
		logger:     m.logger,
		closeGrace: m.closeGrace,
		closed:     make(chan struct{}),
	}
	s.state.Store(int32(SessionStarting))

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.order = append(m.order, s.ID)
	if m.activeID == "" {
		m.activeID = s.ID
	}
	m.mu.Unlock()

	go s.run()
	s.state.CompareAndSwap(int32(SessionStarting), int32(SessionActive))

	m.logger.WithFields(logrus.Fields{
		"session": s.ID,
		"name":    name,
		"shell":   m.shell,
		"cwd":     cwd,
		"pid":     s.PID(),
	}).Info("session created")

	m.publisher.Publish(events.TopicTerminalCreated, events.TerminalCreated{
		SessionID: s.ID,
		Name:      name,
		Shell:     m.shell,
		Cwd:       cwd,
	})

	return s, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s, nil
}

// Execute runs a command in the given session. See Session.Execute.
func (m *Manager) Execute(ctx context.Context, id, command string) (*CommandBlock, error) {
	s, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, command)
}

// Close ends the given session's shell. The session stays listed in
// Closed state so its blocks remain readable.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	if err := s.Close(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.activeID == id {
		m.activeID = ""
	}
	m.mu.Unlock()
	return nil
}

// List returns a snapshot of every session in creation order.
func (m *Manager) List() []SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionInfo, 0, len(m.order))
	for _, id := range m.order {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s.Info())
		}
	}
	return out
}

// Count returns the number of tracked sessions, closed ones included.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// SwitchActive makes the given session the active one. Closed sessions
// cannot become active.
func (m *Manager) SwitchActive(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if s.State() == SessionClosed {
		return fmt.Errorf("session %s: %w", id, ErrSessionClosed)
	}

	m.mu.Lock()
	m.activeID = id
	m.mu.Unlock()
	return nil
}

// Active returns the currently active session.
func (m *Manager) Active() (*Session, error) {
	m.mu.RLock()
	id := m.activeID
	m.mu.RUnlock()
	if id == "" {
		return nil, ErrSessionNotFound
	}
	return m.Get(id)
}

// CloseAll closes every open session concurrently and waits for all of
// them to finish.
func (m *Manager) CloseAll() {
	var wg sync.WaitGroup
	m.mu.RLock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.RUnlock()

	for _, s := range open {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Close()
		}(s)
	}
	wg.Wait()
}

// Shutdown closes all sessions and refuses new ones.
func (m *Manager) Shutdown() {
	if m.closed.Swap(true) {
		return
	}
	m.CloseAll()
}
