package manifest

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"servicegate/internal/ports"
)

// Watcher reloads the resolver whenever the manifest file changes. The
// parent directory is watched because orchestrators typically replace
// the file by rename.
type Watcher struct {
	resolver *Resolver
	path     string
	logger   ports.Logger
	fs       *fsnotify.Watcher
}

func NewWatcher(resolver *Resolver, path string, logger ports.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}
	return &Watcher{resolver: resolver, path: path, logger: logger, fs: fs}, nil
}

// Run blocks until ctx is done. A reload that fails leaves the previous
// snapshot in place and is only logged.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fs.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := w.resolver.Load(w.path); err != nil {
				w.logger.Error(ctx, "manifest reload failed, keeping previous snapshot", "path", w.path, "error", err)
				continue
			}
			w.logger.Info(ctx, "manifest reloaded", "path", w.path, "services", len(w.resolver.Services()))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error(ctx, "manifest watcher error", "error", err)
		}
	}
}
