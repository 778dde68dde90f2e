package target

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lance13c/portalpilot/internal/logging"
)

// Watcher reloads a registry when definition files change. Submissions
// already running keep the snapshot they started with.
type Watcher struct {
	dir      string
	loader   *Loader
	registry *Registry
	debounce time.Duration
}

// NewWatcher creates a watcher for dir
func NewWatcher(dir string, loader *Loader, registry *Registry) *Watcher {
	return &Watcher{
		dir:      dir,
		loader:   loader,
		registry: registry,
		debounce: 300 * time.Millisecond,
	}
}

// Run watches until ctx is done
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	logging.Info("Watching target definitions in %s", w.dir)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !isDefinition(ev.Name) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("Target watcher error: %v", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	targets, err := w.loader.LoadDir(w.dir)
	if err != nil {
		logging.Error("Keeping previous target definitions, reload failed: %v", err)
		return
	}
	if err := w.registry.Replace(targets); err != nil {
		logging.Error("Keeping previous target definitions: %v", err)
		return
	}
	logging.Info("Reloaded %d target definition(s)", len(targets))
}

func isDefinition(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
