package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, path string) (*Watcher, chan Config) {
	t.Helper()

	reloads := make(chan Config, 8)
	w, err := NewWatcher(path, func(cfg Config) { reloads <- cfg },
		WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	t.Cleanup(func() { w.Close() })
	return w, reloads
}

func waitReload(t *testing.T, reloads chan Config) Config {
	t.Helper()
	select {
	case cfg := <-reloads:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
		return Config{}
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "furnace.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	_, reloads := newTestWatcher(t, path)

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")

	cfg := waitReload(t, reloads)
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected reloaded level debug, got %q", cfg.Logging.Level)
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "furnace.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	_, reloads := newTestWatcher(t, path)

	levels := []string{"debug", "warn", "error", "debug", "warn", "error"}
	for _, level := range levels {
		writeFile(t, path, "[logging]\nlevel = \""+level+"\"\n")
	}

	// The burst settles into a reload carrying the final content.
	for {
		cfg := waitReload(t, reloads)
		if cfg.Logging.Level == "error" {
			break
		}
	}

	// Once settled, nothing further arrives.
	select {
	case cfg := <-reloads:
		t.Errorf("unexpected extra reload with level %q", cfg.Logging.Level)
	case <-time.After(250 * time.Millisecond):
	}
}

func TestWatcherSkipsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "furnace.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	_, reloads := newTestWatcher(t, path)

	writeFile(t, path, "[logging\nlevel =\n")

	select {
	case cfg := <-reloads:
		t.Fatalf("malformed file should not reload, got level %q", cfg.Logging.Level)
	case <-time.After(400 * time.Millisecond):
	}

	// A later good write still reloads.
	writeFile(t, path, "[logging]\nlevel = \"warn\"\n")

	cfg := waitReload(t, reloads)
	if cfg.Logging.Level != "warn" {
		t.Errorf("expected recovery reload with level warn, got %q", cfg.Logging.Level)
	}
}

func TestWatcherFileReplaced(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "furnace.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	_, reloads := newTestWatcher(t, path)

	// Atomic-save style: write a sibling temp file, rename into place.
	tmp := filepath.Join(dir, "furnace.toml.tmp")
	writeFile(t, tmp, "[bus]\nqueue_size = 17\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename failed: %v", err)
	}

	cfg := waitReload(t, reloads)
	if cfg.Bus.QueueSize != 17 {
		t.Errorf("expected queue size 17 after replace, got %d", cfg.Bus.QueueSize)
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "furnace.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	_, reloads := newTestWatcher(t, path)

	writeFile(t, filepath.Join(dir, "other.toml"), "[logging]\nlevel = \"debug\"\n")

	select {
	case <-reloads:
		t.Error("unrelated file should not trigger a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "furnace.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	reloads := make(chan Config, 8)
	w, err := NewWatcher(path, func(cfg Config) { reloads <- cfg },
		WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	if w.Path() != path {
		t.Errorf("expected watched path %q, got %q", path, w.Path())
	}

	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")

	select {
	case <-reloads:
		t.Error("closed watcher should not reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "furnace.toml")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Error("expected error for missing directory")
	}
}
