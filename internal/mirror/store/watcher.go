package store

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// ChangeOp is the kind of file system change observed.
type ChangeOp int

const (
	// OpWrite means the collection file was created, written or renamed into place.
	OpWrite ChangeOp = iota
	// OpRemove means the collection file was removed or renamed away.
	OpRemove
)

// String returns a human-readable representation of the operation.
func (op ChangeOp) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is a file system event for one collection file.
type Change struct {
	Kind schema.Kind
	Op   ChangeOp
	Path string
}

// Watcher reports changes to the collection files of a Store, including
// the store's own atomic saves. Consumers compare the loaded content with
// what they already hold to tell external edits from their own writes.
type Watcher struct {
	watcher *fsnotify.Watcher
	dir     string
	changes chan Change
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWatcher creates a watcher for the store's data directory.
// The watcher must be started with Start() before it will emit changes.
func NewWatcher(s *Store) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		watcher: fw,
		dir:     s.Dir(),
		changes: make(chan Change, 16),
		errors:  make(chan error, 4),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the data directory.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch data directory %s: %w", w.dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()

	return nil
}

// Stop stops watching and closes the Changes and Errors channels.
// It blocks until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	w.wg.Wait()

	close(w.changes)
	close(w.errors)

	return nil
}

// IsRunning reports whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Changes returns the channel of collection file changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns the channel of watcher errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			change, ok := w.convertEvent(event)
			if !ok {
				continue
			}
			select {
			case w.changes <- change:
			case <-w.done:
				return
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a Change. Temp files and unrelated
// files are ignored.
func (w *Watcher) convertEvent(event fsnotify.Event) (Change, bool) {
	if filepath.Dir(filepath.Clean(event.Name)) != filepath.Clean(w.dir) {
		return Change{}, false
	}

	var kind schema.Kind
	found := false
	for _, k := range schema.Kinds() {
		if filepath.Base(event.Name) == k.Filename() {
			kind, found = k, true
			break
		}
	}
	if !found {
		return Change{}, false
	}

	var op ChangeOp
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		op = OpWrite
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpRemove
	default:
		return Change{}, false
	}

	return Change{Kind: kind, Op: op, Path: event.Name}, true
}
