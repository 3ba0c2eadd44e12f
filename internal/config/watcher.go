package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/glueful/audit-engine/internal/audit"
)

// DefaultDebounce coalesces bursts of writes to the config file
const DefaultDebounce = 500 * time.Millisecond

// SettingsApplier receives reloaded runtime settings
type SettingsApplier interface {
	ApplySettings(settings audit.Settings) error
}

// ReloadEvent reports the outcome of a reload
type ReloadEvent struct {
	Timestamp time.Time
	Error     error
}

// Watcher reloads the configuration file when it changes and hands the
// runtime settings to the audit service. Settings that need a restart
// (store, queue, server) are read but not applied.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	applier  SettingsApplier
	logger   *zap.Logger
	debounce time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
	watching      bool
	events        chan ReloadEvent
	stop          chan struct{}
	done          chan struct{}
}

// NewWatcher creates a watcher for the config file at path
func NewWatcher(path string, applier SettingsApplier, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		path:     abs,
		applier:  applier,
		logger:   logger,
		debounce: DefaultDebounce,
		events:   make(chan ReloadEvent, 10),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce sets the debounce timeout; call before Watch
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

// Events returns reload outcomes. Events are dropped when nobody reads.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

// Watch starts watching. The directory is watched so that editors that
// replace the file are still seen.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return fmt.Errorf("watcher is already running")
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("failed to add path to watcher: %w", err)
	}

	w.logger.Info("Starting config file watcher",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce),
	)

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.logger.Info("Config file watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.Debug("Config file change detected",
		zap.String("file", event.Name),
		zap.String("op", event.Op.String()),
	)

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, w.reload)
}

// reload loads the file and applies the settings. A broken file keeps the
// previous settings active.
func (w *Watcher) reload() {
	err := w.apply()
	if err != nil {
		w.logger.Error("Config reload failed, keeping previous settings",
			zap.String("path", w.path),
			zap.Error(err),
		)
	} else {
		w.logger.Info("Config reloaded", zap.String("path", w.path))
	}

	select {
	case w.events <- ReloadEvent{Timestamp: time.Now(), Error: err}:
	default:
	}
}

func (w *Watcher) apply() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	settings, err := cfg.ToSettings()
	if err != nil {
		return err
	}
	return w.applier.ApplySettings(settings)
}

// Stop stops watching for file changes
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = false
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.mu.Unlock()

	close(w.stop)
	err := w.watcher.Close()
	<-w.done
	return err
}
