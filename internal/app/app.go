// Package app wires the furnace components together and manages the
// application lifecycle: configuration, logging, the event bus, the
// store, the process managers, and the orchestration facade on top.
package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/config"
	"github.com/dshills/furnace/internal/event"
	"github.com/dshills/furnace/internal/logging"
	"github.com/dshills/furnace/internal/monitor"
	"github.com/dshills/furnace/internal/orchestrator"
	"github.com/dshills/furnace/internal/process"
	"github.com/dshills/furnace/internal/store"
	"github.com/dshills/furnace/internal/terminal"
)

// ErrAlreadyRunning means Run was called while another Run is active.
var ErrAlreadyRunning = errors.New("application already running")

// Options configures the application.
type Options struct {
	// ConfigPath is the TOML configuration file. Empty means defaults
	// plus environment only.
	ConfigPath string

	// LogLevel pins the log level, overriding both the configuration
	// file and later reloads.
	LogLevel string

	// DataDir overrides the directory holding furnace.db.
	DataDir string

	// WatchConfig reloads ConfigPath while running.
	WatchConfig bool
}

// Application is the central coordinator for all furnace components.
// It builds them in dependency order, restores persisted state, and
// tears everything down in reverse on Shutdown.
type Application struct {
	mu  sync.RWMutex
	cfg config.Config

	bus        *event.Bus
	store      *store.Store
	supervisor *process.Supervisor
	terminal   *terminal.Manager
	monitor    *monitor.Monitor
	orch       *orchestrator.Orchestrator
	watcher    *config.Watcher

	logger *logrus.Entry
	opts   Options

	running  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// New creates the application with the given options. On failure
// whatever was already started is torn down before returning.
func New(opts Options) (*Application, error) {
	app := &Application{
		opts: opts,
		done: make(chan struct{}),
	}

	if err := app.bootstrap(); err != nil {
		app.Shutdown()
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	// 1. Configuration
	cfg, err := config.Load(app.opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	app.cfg = cfg

	// 2. Logging
	if err := logging.SetLevel(app.logLevel(cfg)); err != nil {
		return &InitError{Component: "logging", Err: err}
	}
	if cfg.Logging.File != "" {
		if err := logging.LogToFile(cfg.Logging.File); err != nil {
			return &InitError{Component: "logging", Err: err}
		}
	}
	app.logger = logging.New("app")

	// 3. Event bus
	app.bus = event.NewBus(
		event.WithDefaultQueueSize(cfg.Bus.QueueSize),
		event.WithOverflowEvents(cfg.Bus.OverflowEvents),
	)

	// 4. Store
	dbPath := app.databasePath()
	st, err := store.Open(dbPath)
	if err != nil {
		return &InitError{Component: "store", Err: err}
	}
	app.store = st
	app.logger.WithField("path", dbPath).Debug("store opened")

	// 5. Supervisor
	var supOpts []process.Option
	if cfg.Supervisor.MaxProcesses > 0 {
		supOpts = append(supOpts, process.WithMaxProcesses(cfg.Supervisor.MaxProcesses))
	}
	app.supervisor = process.NewSupervisor(supOpts...)

	// 6. Terminal manager
	app.terminal = terminal.NewManager(terminal.ManagerConfig{
		Shell:      cfg.Terminal.Shell,
		CloseGrace: cfg.Terminal.CloseGrace.Std(),
		Supervisor: app.supervisor,
		Publisher:  app.bus.Source("terminal"),
	})

	// 7. Background monitor
	app.monitor = monitor.New(monitor.Config{
		Shell:                  cfg.Monitor.Shell,
		BackoffBase:            cfg.Monitor.BackoffBase.Std(),
		BackoffCap:             cfg.Monitor.BackoffCap.Std(),
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
		LogCapacity:            cfg.Monitor.LogCapacity,
		StopGrace:              cfg.Monitor.StopGrace.Std(),
		Supervisor:             app.supervisor,
		Publisher:              app.bus.Source("monitor"),
	})

	// 8. Orchestrator
	app.orch = orchestrator.New(orchestrator.Config{
		Terminal: app.terminal,
		Monitor:  app.monitor,
		Bus:      app.bus,
		Store:    app.store,
	})

	// 9. Restore persisted state. Prior sessions come back as closed
	// history; task definitions re-register without starting.
	if err := app.orch.Restore(context.Background()); err != nil {
		app.logger.WithError(err).Warn("restore from store failed")
	}

	// 10. Config watcher
	if app.opts.WatchConfig && app.opts.ConfigPath != "" {
		w, err := config.NewWatcher(app.opts.ConfigPath, app.applyConfig)
		if err != nil {
			app.logger.WithError(err).Warn("config watch unavailable")
		} else {
			app.watcher = w
		}
	}

	return nil
}

// logLevel resolves the effective log level: the -log-level flag wins
// over configuration.
func (app *Application) logLevel(cfg config.Config) string {
	if app.opts.LogLevel != "" {
		return app.opts.LogLevel
	}
	return cfg.Logging.Level
}

// databasePath resolves the sqlite file: the -data-dir flag, then
// store.path from configuration, then the user data directory.
func (app *Application) databasePath() string {
	if app.opts.DataDir != "" {
		return filepath.Join(app.opts.DataDir, "furnace.db")
	}
	if app.cfg.Store.Path != "" {
		return app.cfg.Store.Path
	}
	return filepath.Join(DefaultDataDir(), "furnace.db")
}

// DefaultDataDir is where furnace keeps state when nothing else is
// configured: $XDG_DATA_HOME/furnace, falling back to
// ~/.local/share/furnace.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "furnace")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "furnace-data"
	}
	return filepath.Join(home, ".local", "share", "furnace")
}

// applyConfig applies the safe subset of a reloaded configuration:
// log level, the bus queue default for future subscriptions, and the
// monitor restart thresholds. Everything else takes effect on the
// next start.
func (app *Application) applyConfig(cfg config.Config) {
	if err := logging.SetLevel(app.logLevel(cfg)); err != nil {
		app.logger.WithError(err).Warn("reloaded log level rejected")
	}

	app.bus.SetDefaultQueueSize(cfg.Bus.QueueSize)
	app.monitor.SetBackoff(
		cfg.Monitor.BackoffBase.Std(),
		cfg.Monitor.BackoffCap.Std(),
		cfg.Monitor.MaxConsecutiveFailures,
	)

	app.mu.Lock()
	app.cfg = cfg
	app.mu.Unlock()

	app.logger.Debug("reloaded configuration applied")
}

// Run blocks until ctx is cancelled or Shutdown is called. Teardown
// stays with the caller; pair Run with a deferred Shutdown.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	app.logger.WithFields(logrus.Fields{
		"sessions": app.terminal.Count(),
		"tasks":    len(app.monitor.List()),
	}).Info("furnace running")

	select {
	case <-ctx.Done():
	case <-app.done:
	}
	return nil
}

// Shutdown tears the application down: sessions close through the
// facade so their history persists, tasks stop, the supervisor reaps
// whatever is left, then the store and bus close. Safe to call more
// than once and on a partially built application.
func (app *Application) Shutdown() {
	app.stopOnce.Do(func() {
		close(app.done)

		grace := app.cfg.Supervisor.ShutdownGrace.Std()
		if grace <= 0 {
			grace = 5 * time.Second
		}
		// The outer bound outlasts the grace period so the kill phase
		// still gets to run after TERM waits expire.
		ctx, cancel := context.WithTimeout(context.Background(), grace+2*time.Second)
		defer cancel()

		if app.watcher != nil {
			app.watcher.Close()
		}

		if app.orch != nil {
			for _, info := range app.orch.ListSessions() {
				if info.State == terminal.SessionClosed {
					continue
				}
				if err := app.orch.CloseSession(ctx, info.ID); err != nil {
					app.logger.WithField("session", info.ID).WithError(err).Warn("session close failed")
				}
			}
			app.orch.Shutdown()
		}

		if app.monitor != nil {
			app.monitor.Shutdown()
		}
		if app.supervisor != nil {
			if err := app.supervisor.Shutdown(ctx, grace); err != nil {
				app.logger.WithError(err).Warn("supervisor shutdown incomplete")
			}
		}
		if app.store != nil {
			if err := app.store.Close(); err != nil {
				app.logger.WithError(err).Warn("store close failed")
			}
		}
		if app.bus != nil {
			app.bus.Close()
		}

		if app.logger != nil {
			app.logger.Info("furnace stopped")
		}
	})
}

// IsRunning reports whether Run is currently blocked in its wait.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Orchestrator returns the command facade.
func (app *Application) Orchestrator() *orchestrator.Orchestrator {
	return app.orch
}

// Bus returns the event bus.
func (app *Application) Bus() *event.Bus {
	return app.bus
}

// Config returns the active configuration.
func (app *Application) Config() config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cfg
}

// Store returns the persistence layer.
func (app *Application) Store() *store.Store {
	return app.store
}

// InitError represents a component initialization failure.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return "init " + e.Component + ": " + e.Err.Error()
}

func (e *InitError) Unwrap() error {
	return e.Err
}
