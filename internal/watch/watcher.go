package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/giantswarm/upsert/internal/manifest"
	"github.com/giantswarm/upsert/pkg/logging"
)

// DefaultDebounceInterval is how long a file must be quiet before its change is emitted.
const DefaultDebounceInterval = 300 * time.Millisecond

// Watcher emits ChangeEvents for manifest files below a set of paths.
//
// Directories are watched for any manifest file. Individual files are watched through
// their parent directory so that editors replacing the file are still noticed.
type Watcher struct {
	mu sync.Mutex

	// dirs are the watched directories.
	dirs map[string]bool

	// files restricts events in a directory to the listed files. A directory with
	// no entry here reports every manifest file.
	files map[string]map[string]bool

	debounceInterval time.Duration

	// pendingEvents tracks pending debounced events by file path.
	pendingEvents map[string]*debounceEntry

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	running bool
}

// debounceEntry tracks a pending event for debouncing.
type debounceEntry struct {
	event ChangeEvent
	timer *time.Timer
}

// NewWatcher creates a watcher for paths, which may be files or directories.
// The standard input path is ignored.
func NewWatcher(paths []string, debounceInterval time.Duration) (*Watcher, error) {
	if debounceInterval <= 0 {
		debounceInterval = DefaultDebounceInterval
	}

	w := &Watcher{
		dirs:             make(map[string]bool),
		files:            make(map[string]map[string]bool),
		debounceInterval: debounceInterval,
		pendingEvents:    make(map[string]*debounceEntry),
	}

	for _, path := range paths {
		if path == manifest.StdinPath {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		if info.IsDir() {
			w.dirs[abs] = true
			delete(w.files, abs)
			continue
		}

		dir := filepath.Dir(abs)
		if w.dirs[dir] && w.files[dir] == nil {
			// The whole directory is already watched.
			continue
		}
		w.dirs[dir] = true
		if w.files[dir] == nil {
			w.files[dir] = make(map[string]bool)
		}
		w.files[dir][abs] = true
	}

	if len(w.dirs) == 0 {
		return nil, fmt.Errorf("no files or directories to watch")
	}
	return w, nil
}

// Start begins watching and sends debounced events to changes until ctx is done or
// Stop is called. Events are dropped when changes is full.
func (w *Watcher) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	for dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			w.mu.Unlock()
			watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		logging.Debug("ManifestWatcher", "Watching directory: %s", dir)
	}

	w.watcher = watcher
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	go w.processEvents(ctx, watcher, stopCh, changes)

	logging.Info("ManifestWatcher", "Watching %d director(ies) for manifest changes", len(w.dirs))
	return nil
}

// processEvents handles filesystem events and generates change events.
func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh <-chan struct{}, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			w.cleanupPendingEvents()
			return

		case <-stopCh:
			w.cleanupPendingEvents()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(event, changes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("ManifestWatcher", err, "Filesystem watcher error")
		}
	}
}

// handleFsEvent processes a single filesystem event.
func (w *Watcher) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	if !w.isWatched(event.Name) {
		return
	}

	var operation ChangeOperation
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		operation = OperationCreate
	case event.Op&fsnotify.Write == fsnotify.Write:
		operation = OperationUpdate
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		operation = OperationDelete
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		// The new name, if watched, arrives as a separate create.
		operation = OperationDelete
	default:
		return
	}

	w.debounceEvent(ChangeEvent{
		FilePath:  event.Name,
		Operation: operation,
		Timestamp: time.Now(),
	}, changes)
}

func (w *Watcher) isWatched(path string) bool {
	if !manifest.IsManifestFile(path) {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(path)
	if !w.dirs[dir] {
		return false
	}
	files, restricted := w.files[dir]
	return !restricted || files[path]
}

// debounceEvent collapses rapid successive changes of one file into a single event.
func (w *Watcher) debounceEvent(event ChangeEvent, changes chan<- ChangeEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := event.FilePath

	if entry, ok := w.pendingEvents[key]; ok {
		entry.timer.Stop()
		event.Operation = mergeOperations(entry.event.Operation, event.Operation)
	}

	timer := time.AfterFunc(w.debounceInterval, func() {
		w.mu.Lock()
		entry, ok := w.pendingEvents[key]
		if ok {
			delete(w.pendingEvents, key)
		}
		w.mu.Unlock()

		if ok {
			select {
			case changes <- entry.event:
				logging.Debug("ManifestWatcher", "Emitted change event: %s %s", entry.event.Operation, entry.event.FilePath)
			default:
				logging.Warn("ManifestWatcher", "Change event channel full, dropping event for %s", entry.event.FilePath)
			}
		}
	})

	w.pendingEvents[key] = &debounceEntry{
		event: event,
		timer: timer,
	}
}

// mergeOperations merges two operations on the same file into one.
func mergeOperations(old, new ChangeOperation) ChangeOperation {
	if old == OperationCreate && new != OperationDelete {
		return OperationCreate
	}
	return new
}

// cleanupPendingEvents cancels all pending debounce timers.
func (w *Watcher) cleanupPendingEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, entry := range w.pendingEvents {
		entry.timer.Stop()
	}
	w.pendingEvents = make(map[string]*debounceEntry)
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	w.running = false
	close(w.stopCh)

	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
		w.watcher = nil
	}

	logging.Info("ManifestWatcher", "Stopped manifest watcher")
	return err
}
