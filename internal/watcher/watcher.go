// Package watcher reloads the configuration file when it changes on disk.
package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sydlexius/alldbs/internal/config"
)

// ApplyFunc receives a freshly loaded and validated configuration.
type ApplyFunc func(cfg *config.Config)

// ConfigWatcher watches a single config file and hands each valid reload to
// an ApplyFunc. Invalid files are logged and skipped; the previous
// configuration stays in force.
type ConfigWatcher struct {
	path     string
	apply    ApplyFunc
	load     func(string) (*config.Config, error)
	logger   *slog.Logger
	debounce time.Duration
}

// NewConfigWatcher creates a watcher for the file at path.
func NewConfigWatcher(path string, apply ApplyFunc, logger *slog.Logger) *ConfigWatcher {
	return &ConfigWatcher{
		path:     filepath.Clean(path),
		apply:    apply,
		load:     config.Load,
		logger:   logger.With("component", "config-watcher"),
		debounce: 500 * time.Millisecond,
	}
}

// SetDebounce overrides the default debounce interval (for testing).
func (w *ConfigWatcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start blocks until ctx is canceled. The parent directory is watched rather
// than the file so that editors which replace the file on save are followed.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close() //nolint:errcheck

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.logger.Info("config watcher starting", "path", w.path)

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopping")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)
			pending = true

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("fsnotify error", "error", err)

		case <-debounceTimer.C:
			if pending {
				pending = false
				w.reload()
			}
		}
	}
}

func (w *ConfigWatcher) reload() {
	cfg, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config file changed, applying", "path", w.path)
	w.apply(cfg)
}
