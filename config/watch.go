package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads a configuration file when it changes. Editors often
// replace files by rename, so the parent directory is watched and events
// are filtered by name.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	onChange func(*Config)
}

// NewWatcher starts watching path. onChange receives every configuration
// that loads and validates; broken edits are logged and skipped.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		_ = fs.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{fs: fs, path: abs, onChange: onChange}, nil
}

// Run delivers reloads until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	log := Logger().With(zap.String("path", w.path))
	log.Info("watching configuration")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				log.Warn("configuration reload failed", zap.Error(err))
				continue
			}
			log.Info("configuration reloaded", zap.Stringer("op", event.Op))
			if w.onChange != nil {
				w.onChange(cfg)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Error("watcher error", zap.Error(err))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fs.Close()
}
