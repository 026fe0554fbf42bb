package registry

import (
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/flowshift/mt5bridge/internal/logging"
)

var watcherLog = logging.ForComponent(logging.CompRegistry)

// DirWatcher observes sessionsBase for a session_<id> directory being
// removed out-of-band — an operator running manual cleanup, or a crash
// that took the directory with it — and reconciles the registry so the
// dangling entry doesn't linger until the Reaper's idle threshold
// eventually catches it.
type DirWatcher struct {
	registry     *Registry
	sessionsBase string

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	started bool
}

// NewDirWatcher builds a DirWatcher bound to registry. Call Start before
// relying on reconciliation; Close stops it.
func NewDirWatcher(registry *Registry, sessionsBase string) (*DirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(sessionsBase); err != nil {
		_ = w.Close()
		return nil, err
	}
	return &DirWatcher{registry: registry, sessionsBase: sessionsBase, watcher: w}, nil
}

// Start begins watching in a background goroutine. Safe to call once.
func (d *DirWatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go d.run()
}

func (d *DirWatcher) run() {
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handle(ev)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			watcherLog.Warn("watch_error", slog.String("error", err.Error()))
		}
	}
}

func (d *DirWatcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	base := filepath.Base(ev.Name)
	id, ok := strings.CutPrefix(base, "session_")
	if !ok {
		return
	}

	if _, found := d.registry.GetSession(id); !found {
		return
	}

	watcherLog.Warn("session_dir_removed_out_of_band", slog.String("session_id", id))
	d.registry.ForgetSession(id)
}

// Close stops watching.
func (d *DirWatcher) Close() error {
	return d.watcher.Close()
}
