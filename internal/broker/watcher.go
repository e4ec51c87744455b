package broker

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"kimibroker/pkg/logging"
)

// defaultDebounceInterval coalesces the burst of filesystem events a single
// credential rewrite produces (temp file, rename, chmod).
const defaultDebounceInterval = 500 * time.Millisecond

// CredentialWatcher watches the CLI credential file and invokes a callback
// when the companion tool rewrites it, so a CLI-side login or refresh
// propagates into this process without waiting for the next scheduler tick.
//
// The watch is on the parent directory rather than the file itself: the CLI
// replaces the file by rename, which would drop a watch on the old inode.
type CredentialWatcher struct {
	mu sync.Mutex

	path     string
	onChange func()
	debounce time.Duration

	watcher *fsnotify.Watcher
	timer   *time.Timer
	stopCh  chan struct{}
	running bool
}

// NewCredentialWatcher creates a watcher for the given credential file.
// onChange fires after writes to the file settle.
func NewCredentialWatcher(path string, onChange func()) *CredentialWatcher {
	return &CredentialWatcher{
		path:     path,
		onChange: onChange,
		debounce: defaultDebounceInterval,
	}
}

// Start begins watching. Failures are logged, not returned: the watcher is
// an optimization over the scheduler's periodic re-read, not a requirement.
func (w *CredentialWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		logging.Warn("Watcher", "Cannot create %s, credential watch disabled: %v", dir, err)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Watcher", "Cannot create filesystem watcher, credential watch disabled: %v", err)
		return
	}

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logging.Warn("Watcher", "Cannot watch %s, credential watch disabled: %v", dir, err)
		return
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(watcher, w.stopCh)
	logging.Debug("Watcher", "Watching %s for credential changes", w.path)
}

// Stop halts the watcher. Safe to call on a stopped watcher.
func (w *CredentialWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if err := w.watcher.Close(); err != nil {
		logging.Warn("Watcher", "Error closing filesystem watcher: %v", err)
	}
	w.watcher = nil
}

func (w *CredentialWatcher) processEvents(watcher *fsnotify.Watcher, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Watcher", "Filesystem watcher error: %v", err)
		}
	}
}

func (w *CredentialWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		logging.Debug("Watcher", "Credential file changed: %s", w.path)
		w.onChange()
	})
}
