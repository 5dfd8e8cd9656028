// Package logging provides component-scoped structured loggers.
//
// Every component gets a logrus entry carrying a "component" field, all
// sharing one base logger so level and output changes apply everywhere
// at once. The initial level comes from FURNACE_LOG_LEVEL; the
// application may adjust it later from configuration.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	base    *logrus.Logger
	entries = make(map[string]*logrus.Entry)
)

// New returns the logger for a component, creating it on first use.
// Repeated calls with the same component return the same entry.
func New(component string) *logrus.Entry {
	mu.Lock()
	defer mu.Unlock()

	if entry, ok := entries[component]; ok {
		return entry
	}

	entry := baseLogger().WithField("component", component)
	entries[component] = entry
	return entry
}

// baseLogger lazily initializes the shared base. Caller must hold mu.
func baseLogger() *logrus.Logger {
	if base != nil {
		return base
	}

	base = logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level := logrus.InfoLevel
	if env := os.Getenv("FURNACE_LOG_LEVEL"); env != "" {
		if parsed, err := logrus.ParseLevel(env); err == nil {
			level = parsed
		}
	}
	base.SetLevel(level)
	return base
}

// SetLevel changes the shared log level. Unknown level names are
// rejected without changing anything.
func SetLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	baseLogger().SetLevel(parsed)
	return nil
}

// Level returns the current shared log level.
func Level() logrus.Level {
	mu.Lock()
	defer mu.Unlock()
	return baseLogger().GetLevel()
}

// SetOutput redirects all loggers to w. Tests use this to silence or
// capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	baseLogger().SetOutput(w)
}

// LogToFile appends a log file sink alongside stderr. The file is
// created if missing and left open for the life of the process.
func LogToFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	baseLogger().SetOutput(io.MultiWriter(os.Stderr, f))
	return nil
}
