package plugin

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// LoadDir scans a plugin directory and registers one plugin per immediate
// subdirectory. Executable files inside a plugin directory become external
// operations keyed by their slash-separated relative path.
func LoadDir(registry *Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p := New(entry.Name(), "")
		root := filepath.Join(dir, entry.Name())
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			if info.Mode()&0o111 == 0 {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			p.RegisterExecutable(filepath.ToSlash(rel), path)
			return nil
		})
		if err != nil {
			return err
		}
		registry.Register(p)
	}
	return nil
}

// WatcherConfig configures the plugin directory watcher.
type WatcherConfig struct {
	// Dir is the plugin directory to watch.
	Dir string

	// DebounceDelay is how long to wait for more changes before rescanning.
	DebounceDelay time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Watcher reloads the plugin registry when the plugin directory changes.
// Changes are debounced; a burst of file events triggers one rescan.
type Watcher struct {
	config   WatcherConfig
	registry *Registry
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	pendingMu sync.Mutex
	pending   bool
}

// NewWatcher creates a watcher over the configured plugin directory.
func NewWatcher(registry *Registry, config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 100 * time.Millisecond
	}
	return &Watcher{
		config:   config,
		registry: registry,
		watcher:  fsw,
		logger:   logger,
	}, nil
}

// Start performs an initial scan and watches for changes until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := LoadDir(w.registry, w.config.Dir); err != nil {
		return err
	}
	if err := w.watcher.Add(w.config.Dir); err != nil {
		return err
	}

	go w.loop(ctx)
	w.logger.Info("plugin watcher started", "dir", w.config.Dir)
	return nil
}

// Close stops the underlying filesystem watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }

func (w *Watcher) loop(ctx context.Context) {
	timer := time.NewTimer(w.config.DebounceDelay)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.logger.Debug("plugin directory changed", "path", event.Name, "op", event.Op.String())
			w.pendingMu.Lock()
			if !w.pending {
				w.pending = true
				timer.Reset(w.config.DebounceDelay)
			}
			w.pendingMu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plugin watcher error", "error", err)
		case <-timer.C:
			w.pendingMu.Lock()
			w.pending = false
			w.pendingMu.Unlock()
			if err := LoadDir(w.registry, w.config.Dir); err != nil {
				w.logger.Warn("plugin rescan failed", "dir", w.config.Dir, "error", err)
				continue
			}
			w.logger.Info("plugin registry reloaded", "plugins", len(w.registry.Names()))
		}
	}
}
