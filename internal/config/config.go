// Package config loads and watches furnace configuration.
//
// Configuration resolves in three layers: compiled defaults, an
// optional TOML file, and FURNACE_* environment variables, each layer
// overriding the one before it. A fsnotify-backed Watcher reloads the
// file on change so a running instance can apply the safe subset of
// settings without a restart.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// Duration is a time.Duration that reads from TOML strings such as
// "500ms" or "3s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// LoggingConfig controls the shared logger.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`

	// File appends a log file sink alongside stderr when set.
	File string `toml:"file"`
}

// BusConfig controls the event bus.
type BusConfig struct {
	// QueueSize is the default per-subscription queue capacity.
	QueueSize int `toml:"queue_size"`

	// OverflowEvents publishes bus.overflow when a subscription drops
	// unread events.
	OverflowEvents bool `toml:"overflow_events"`
}

// SupervisorConfig controls the process supervisor.
type SupervisorConfig struct {
	// MaxProcesses caps concurrently supervised processes. Zero means
	// no limit.
	MaxProcesses int `toml:"max_processes"`

	// ShutdownGrace is the TERM-to-KILL grace period on shutdown.
	ShutdownGrace Duration `toml:"shutdown_grace"`
}

// TerminalConfig controls terminal sessions.
type TerminalConfig struct {
	// Shell is the session shell executable. Empty means $SHELL, then
	// /bin/bash.
	Shell string `toml:"shell"`

	// CloseGrace is the TERM-to-KILL grace period when closing a
	// session.
	CloseGrace Duration `toml:"close_grace"`
}

// MonitorConfig controls background tasks.
type MonitorConfig struct {
	// Shell runs task command lines. Empty means $SHELL, then /bin/sh.
	Shell string `toml:"shell"`

	// BackoffBase is the first restart delay after a failure.
	BackoffBase Duration `toml:"backoff_base"`

	// BackoffCap bounds the exponential restart delay.
	BackoffCap Duration `toml:"backoff_cap"`

	// MaxConsecutiveFailures moves a task to Failed when reached.
	MaxConsecutiveFailures int `toml:"max_consecutive_failures"`

	// LogCapacity is the per-task log ring size.
	LogCapacity int `toml:"log_capacity"`

	// StopGrace is the TERM-to-KILL grace period on Stop.
	StopGrace Duration `toml:"stop_grace"`
}

// StoreConfig controls persistence.
type StoreConfig struct {
	// Path is the SQLite database file. Empty means furnace.db under
	// the application data directory.
	Path string `toml:"path"`
}

// Config is the full furnace configuration.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Bus        BusConfig        `toml:"bus"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Terminal   TerminalConfig   `toml:"terminal"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Store      StoreConfig      `toml:"store"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Bus: BusConfig{
			QueueSize:      256,
			OverflowEvents: true,
		},
		Supervisor: SupervisorConfig{
			ShutdownGrace: Duration(5 * time.Second),
		},
		Terminal: TerminalConfig{
			CloseGrace: Duration(3 * time.Second),
		},
		Monitor: MonitorConfig{
			BackoffBase:            Duration(500 * time.Millisecond),
			BackoffCap:             Duration(4 * time.Second),
			MaxConsecutiveFailures: 5,
			LogCapacity:            1000,
			StopGrace:              Duration(3 * time.Second),
		},
	}
}

// Load resolves configuration: defaults, then the TOML file at path,
// then FURNACE_* environment variables. A missing file is not an
// error; the remaining layers still apply. An empty path skips the
// file layer entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile unmarshals the TOML file over cfg. Keys absent from the
// file keep their current values; unknown keys are tolerated so newer
// files keep working with older binaries.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		perr := &ParseError{Path: path, Message: err.Error(), Err: err}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			perr.Line, perr.Column = derr.Position()
			perr.Message = derr.Error()
		}
		return perr
	}
	return nil
}

// ParseError describes a malformed configuration file.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 && e.Column > 0 {
		return fmt.Sprintf("parse error in %s at line %d, column %d: %s", e.Path, e.Line, e.Column, e.Message)
	}
	if e.Line > 0 {
		return fmt.Sprintf("parse error in %s at line %d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// envSetters maps FURNACE_* variables onto config fields.
var envSetters = map[string]func(*Config, string) error{
	"FURNACE_LOG_LEVEL": func(c *Config, v string) error {
		c.Logging.Level = v
		return nil
	},
	"FURNACE_LOG_FILE": func(c *Config, v string) error {
		c.Logging.File = v
		return nil
	},
	"FURNACE_BUS_QUEUE_SIZE": func(c *Config, v string) error {
		return setInt(&c.Bus.QueueSize, v)
	},
	"FURNACE_BUS_OVERFLOW_EVENTS": func(c *Config, v string) error {
		return setBool(&c.Bus.OverflowEvents, v)
	},
	"FURNACE_SUPERVISOR_MAX_PROCESSES": func(c *Config, v string) error {
		return setInt(&c.Supervisor.MaxProcesses, v)
	},
	"FURNACE_SUPERVISOR_SHUTDOWN_GRACE": func(c *Config, v string) error {
		return setDuration(&c.Supervisor.ShutdownGrace, v)
	},
	"FURNACE_TERMINAL_SHELL": func(c *Config, v string) error {
		c.Terminal.Shell = v
		return nil
	},
	"FURNACE_TERMINAL_CLOSE_GRACE": func(c *Config, v string) error {
		return setDuration(&c.Terminal.CloseGrace, v)
	},
	"FURNACE_MONITOR_SHELL": func(c *Config, v string) error {
		c.Monitor.Shell = v
		return nil
	},
	"FURNACE_MONITOR_BACKOFF_BASE": func(c *Config, v string) error {
		return setDuration(&c.Monitor.BackoffBase, v)
	},
	"FURNACE_MONITOR_BACKOFF_CAP": func(c *Config, v string) error {
		return setDuration(&c.Monitor.BackoffCap, v)
	},
	"FURNACE_MONITOR_MAX_CONSECUTIVE_FAILURES": func(c *Config, v string) error {
		return setInt(&c.Monitor.MaxConsecutiveFailures, v)
	},
	"FURNACE_MONITOR_LOG_CAPACITY": func(c *Config, v string) error {
		return setInt(&c.Monitor.LogCapacity, v)
	},
	"FURNACE_MONITOR_STOP_GRACE": func(c *Config, v string) error {
		return setDuration(&c.Monitor.StopGrace, v)
	},
	"FURNACE_STORE_PATH": func(c *Config, v string) error {
		c.Store.Path = v
		return nil
	},
}

// applyEnv overlays environment variables looked up via lookup. Parse
// failures surface with the variable name so a bad override is obvious.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for name, set := range envSetters {
		val, ok := lookup(name)
		if !ok {
			continue
		}
		if err := set(cfg, val); err != nil {
			return fmt.Errorf("environment override %s: %w", name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer %q", v)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	switch strings.ToLower(v) {
	case "true", "yes", "on", "1":
		*dst = true
	case "false", "no", "off", "0":
		*dst = false
	default:
		return fmt.Errorf("invalid boolean %q", v)
	}
	return nil
}

func setDuration(dst *Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid duration %q", v)
	}
	*dst = Duration(d)
	return nil
}

// Validate rejects values the managers cannot run with.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Bus.QueueSize <= 0 {
		return fmt.Errorf("bus.queue_size must be positive, got %d", c.Bus.QueueSize)
	}
	if c.Supervisor.MaxProcesses < 0 {
		return fmt.Errorf("supervisor.max_processes must not be negative, got %d", c.Supervisor.MaxProcesses)
	}
	if c.Supervisor.ShutdownGrace <= 0 {
		return fmt.Errorf("supervisor.shutdown_grace must be positive, got %s", c.Supervisor.ShutdownGrace.Std())
	}
	if c.Terminal.CloseGrace <= 0 {
		return fmt.Errorf("terminal.close_grace must be positive, got %s", c.Terminal.CloseGrace.Std())
	}
	if c.Monitor.BackoffBase <= 0 {
		return fmt.Errorf("monitor.backoff_base must be positive, got %s", c.Monitor.BackoffBase.Std())
	}
	if c.Monitor.BackoffCap < c.Monitor.BackoffBase {
		return fmt.Errorf("monitor.backoff_cap must be at least monitor.backoff_base, got %s < %s",
			c.Monitor.BackoffCap.Std(), c.Monitor.BackoffBase.Std())
	}
	if c.Monitor.MaxConsecutiveFailures < 1 {
		return fmt.Errorf("monitor.max_consecutive_failures must be at least 1, got %d", c.Monitor.MaxConsecutiveFailures)
	}
	if c.Monitor.LogCapacity <= 0 {
		return fmt.Errorf("monitor.log_capacity must be positive, got %d", c.Monitor.LogCapacity)
	}
	if c.Monitor.StopGrace <= 0 {
		return fmt.Errorf("monitor.stop_grace must be positive, got %s", c.Monitor.StopGrace.Std())
	}
	return nil
}
