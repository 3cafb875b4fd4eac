package skills

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/relaybot/relay/internal/observability"
)

// Watcher reloads the registry when files under the skills directory
// change. Events are debounced so editor save bursts trigger one reload.
type Watcher struct {
	dir      string
	registry *Registry
	logger   *observability.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
}

// NewWatcher creates a skills directory watcher.
func NewWatcher(dir string, registry *Registry, logger *observability.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Watcher{
		dir:      dir,
		registry: registry,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		watcher:  fw,
	}, nil
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "skills watcher error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			if err := w.registry.LoadDir(ctx, w.dir); err != nil {
				w.logger.Warn(ctx, "skills reload failed", "error", err)
			}
		}
	}
}
