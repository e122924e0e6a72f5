package schedule

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 250 * time.Millisecond

// Watch reconciles timers whenever the named file in dir is written or replaced.
// The directory is watched rather than the file because writers rename a
// temp file over it. Blocks until ctx is done.
func (e *Engine) Watch(ctx context.Context, dir, file string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()
	if err := w.Add(dir); err != nil {
		return err
	}
	e.logger().Info("watching schedule store", zap.String("dir", dir), zap.String("file", file))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			e.logger().Warn("schedule store watcher error", zap.Error(err))
		case <-debounce.C:
			if err := e.Reconcile(ctx); err != nil {
				e.logger().Warn("reconcile failed", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}
