package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads Config from its source file whenever that file
// changes on disk, following the teacher's config.json fsnotify watcher.
type Watcher struct {
	path    string
	live    *Config
	watcher *fsnotify.Watcher
	onError func(error)
}

// NewWatcher starts watching path's directory (editors often replace
// the file via rename rather than in-place write, which only a
// directory watch reliably catches) and applies reloads onto live.
func NewWatcher(path string, live *Config) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{path: path, live: live, watcher: fw}, nil
}

// Run blocks, applying reloads until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()
	target := filepath.Clean(w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			next, err := Load(w.path)
			if err != nil {
				slog.Warn("config.reload_failed", "path", w.path, "error", err)
				if w.onError != nil {
					w.onError(err)
				}
				continue
			}
			w.live.ReplaceFrom(next)
			slog.Info("config.reloaded", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("config.watch_error", "error", err)
		}
	}
}
