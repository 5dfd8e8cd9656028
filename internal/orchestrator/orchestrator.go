package orchestrator

import (
	"context"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/event/topic"
	"github.com/dshills/furnace/internal/logging"
	"github.com/dshills/furnace/internal/monitor"
	"github.com/dshills/furnace/internal/store"
	"github.com/dshills/furnace/internal/terminal"
)

// Config wires the orchestrator to its managers.
type Config struct {
	// Terminal manages interactive sessions. Required.
	Terminal *terminal.Manager

	// Monitor manages background tasks. Required.
	Monitor *monitor.Monitor

	// Bus is the event bus behind Subscribe. Required.
	Bus *event.Bus

	// Store persists sessions, history, and task definitions. Optional;
	// nil disables persistence.
	Store *store.Store

	// Logger overrides the default component logger.
	Logger *logrus.Entry
}

// Orchestrator is the single command surface over the terminal
// manager, the process monitor, and the event bus. It validates
// requests, serializes mutations per id, translates manager errors
// into the facade taxonomy, and persists durable state.
type Orchestrator struct {
	terminal *terminal.Manager
	monitor  *monitor.Monitor
	bus      *event.Bus
	store    *store.Store
	logger   *logrus.Entry

	locks *lockMap

	// histMu guards the persisted-sequence bookkeeping.
	histMu    sync.Mutex
	persisted map[string]int

	subs     []*event.Subscription
	wg       sync.WaitGroup
	shutting atomic.Bool
}

// New creates the orchestrator and starts its persistence watcher.
func New(cfg Config) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logging.New("orchestrator")
	}

	o := &Orchestrator{
		terminal:  cfg.Terminal,
		monitor:   cfg.Monitor,
		bus:       cfg.Bus,
		store:     cfg.Store,
		logger:    cfg.Logger,
		locks:     newLockMap(),
		persisted: make(map[string]int),
	}
	o.startPersister()
	return o
}

// CreateSession validates the working directory, creates a terminal
// session, and persists its row.
func (o *Orchestrator) CreateSession(ctx context.Context, name, cwd string) (terminal.SessionInfo, error) {
	if o.shutting.Load() {
		return terminal.SessionInfo{}, shuttingDown()
	}
	if cwd != "" {
		if err := validateDir(cwd); err != nil {
			return terminal.SessionInfo{}, err
		}
	}

	sess, err := o.terminal.Create(name, cwd)
	if err != nil {
		return terminal.SessionInfo{}, failf(err, "create session %q", name)
	}

	info := sess.Info()
	o.saveSession(ctx, info)
	return info, nil
}

// ExecuteCommand runs a command in a session and blocks until the
// command reports its exit status or ctx ends. The finished block is
// appended to the session's persisted history.
//
// A canceled ctx returns the still-running block with a not_active
// error; the session stays busy until the command actually finishes.
func (o *Orchestrator) ExecuteCommand(ctx context.Context, sessionID, command string) (*terminal.CommandBlock, error) {
	if o.shutting.Load() {
		return nil, shuttingDown()
	}
	if strings.TrimSpace(command) == "" {
		return nil, invalidArgument("command is empty")
	}
	if _, err := o.terminal.Get(sessionID); err != nil {
		return nil, failf(err, "execute in session %s", sessionID)
	}

	// The blocking wait runs without the id lock: a concurrent
	// CloseSession must be able to interrupt a hung command. The
	// session's own busy state rejects overlapping commands.
	block, err := o.terminal.Execute(ctx, sessionID, command)

	if block != nil && block.Status() != terminal.BlockRunning {
		unlock := o.locks.lock(sessionID)
		o.persistSessionActivity(ctx, sessionID)
		unlock()
	}

	if err != nil {
		return block, failf(err, "execute in session %s", sessionID)
	}
	return block, nil
}

// CloseSession closes a session, interrupting any in-flight command.
// The session stays listed with its blocks readable; closing again is
// a no-op.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID string) error {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	if err := o.terminal.Close(sessionID); err != nil {
		return failf(err, "close session %s", sessionID)
	}
	o.persistSessionActivity(ctx, sessionID)
	return nil
}

// ListSessions returns every session in creation order, closed ones
// included.
func (o *Orchestrator) ListSessions() []terminal.SessionInfo {
	return o.terminal.List()
}

// SwitchSession makes a session the active one.
func (o *Orchestrator) SwitchSession(sessionID string) error {
	unlock := o.locks.lock(sessionID)
	defer unlock()

	if err := o.terminal.SwitchActive(sessionID); err != nil {
		return failf(err, "switch to session %s", sessionID)
	}
	return nil
}

// ActiveSession returns the currently active session.
func (o *Orchestrator) ActiveSession() (terminal.SessionInfo, error) {
	sess, err := o.terminal.Active()
	if err != nil {
		return terminal.SessionInfo{}, failf(err, "active session")
	}
	return sess.Info(), nil
}

// SessionHistory returns a session's persisted command history in
// issue order. With no store configured the history is empty.
func (o *Orchestrator) SessionHistory(ctx context.Context, sessionID string) ([]store.CommandRecord, error) {
	if o.store == nil {
		return nil, nil
	}
	records, err := o.store.SessionHistory(ctx, sessionID)
	if err != nil {
		return nil, failf(err, "history for session %s", sessionID)
	}
	return records, nil
}

// Subscribe opens a bus subscription for a topic pattern. The caller
// owns the subscription and must close it.
func (o *Orchestrator) Subscribe(pattern topic.Topic, opts ...event.SubscribeOption) (*event.Subscription, error) {
	if o.shutting.Load() {
		return nil, shuttingDown()
	}
	sub, err := o.bus.Subscribe(pattern, opts...)
	if err != nil {
		return nil, failf(err, "subscribe %q", pattern)
	}
	return sub, nil
}

// Shutdown stops accepting operations and winds down the persistence
// watcher. The managers themselves are shut down by their owner.
func (o *Orchestrator) Shutdown() {
	if o.shutting.Swap(true) {
		return
	}
	for _, sub := range o.subs {
		sub.Close()
	}
	o.wg.Wait()
}

// validateDir rejects working directories that do not exist or are not
// directories.
func validateDir(dir string) *Error {
	fi, err := os.Stat(dir)
	if err != nil {
		return invalidArgument("working directory %s does not exist", dir).WithDetail("dir", dir)
	}
	if !fi.IsDir() {
		return invalidArgument("working directory %s is not a directory", dir).WithDetail("dir", dir)
	}
	return nil
}
