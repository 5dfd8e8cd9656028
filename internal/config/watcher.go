package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dshills/furnace/internal/logging"
)

// DefaultDebounce is the quiet period a changed file must hold before
// it reloads.
const DefaultDebounce = 200 * time.Millisecond

// ReloadFunc receives the freshly loaded configuration after the
// watched file changes. It runs on the watcher goroutine.
type ReloadFunc func(Config)

// Watcher reloads the configuration file when it changes on disk.
//
// The parent directory is watched rather than the file itself so
// editors that replace the file (write a temp file, then rename it
// into place) keep triggering events. Write bursts are debounced. A
// file that fails to load is logged and skipped, leaving the last good
// configuration in effect.
type Watcher struct {
	path     string
	base     string
	debounce time.Duration
	onReload ReloadFunc
	logger   *logrus.Entry

	fsw *fsnotify.Watcher

	mu        sync.Mutex
	pending   bool
	lastEvent time.Time

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets the quiet period before a change reloads.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger overrides the default component logger.
func WithWatcherLogger(logger *logrus.Entry) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewWatcher watches the configuration file at path and calls onReload
// with the result of Load after each change settles. The file does not
// have to exist yet; its directory does.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     absPath,
		base:     filepath.Base(absPath),
		debounce: DefaultDebounce,
		onReload: onReload,
		logger:   logging.New("config"),
		fsw:      fsw,
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Path returns the absolute path of the watched file.
func (w *Watcher) Path() string {
	return w.path
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.closeCh)
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

// loop drains filesystem events and flushes debounced reloads.
func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("config watch error")

		case <-ticker.C:
			w.flush()
		}
	}
}

// handleEvent marks the config file dirty on writes and on renames
// into place. Other files in the directory are ignored.
func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Base(ev.Name) != w.base {
		return
	}
	if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
		return
	}

	w.mu.Lock()
	w.pending = true
	w.lastEvent = time.Now()
	w.mu.Unlock()
}

// flush reloads once the last change is older than the debounce
// window.
func (w *Watcher) flush() {
	w.mu.Lock()
	if !w.pending || time.Since(w.lastEvent) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.WithError(err).Error("config reload failed, keeping previous configuration")
		return
	}

	w.logger.WithField("path", w.path).Info("configuration reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
