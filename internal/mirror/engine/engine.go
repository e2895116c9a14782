package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/connectivity"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
	"github.com/mschirtzinger/taskmirror/internal/mirror/store"
)

// Config holds configuration for the engine.
type Config struct {
	// UserID selects the remote users/{uid} document tree.
	UserID string

	// ProbeInterval is how often Run probes the remote.
	ProbeInterval time.Duration

	// OpTimeout bounds each remote call made by uploads and reconciliation.
	OpTimeout time.Duration

	// Logger for sync activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		UserID:        "demo_user",
		ProbeInterval: 15 * time.Second,
		OpTimeout:     10 * time.Second,
		Logger:        logging.Default("sync"),
	}
}

// Engine mirrors local collections to a remote store.
type Engine struct {
	store   *store.Store
	remote  cloud.Store
	monitor *connectivity.Monitor
	config  *Config

	mu         sync.Mutex
	kinds      map[schema.Kind]*kindState
	status     Status
	reconciled bool
	conflict   *pendingConflict

	statusSubs   map[int]func(Status)
	conflictSubs map[int]func([]Conflict)
	nextSub      int

	// pending holds queued notifications; notifyMu serializes delivery.
	pending  []func()
	notifyMu sync.Mutex

	// uploadLocks serializes uploads of one kind against the remote.
	uploadLocks map[schema.Kind]*sync.Mutex

	// reconcileMu serializes reconciliation runs.
	reconcileMu sync.Mutex

	ctx     context.Context
	cancel  context.CancelFunc
	uploads sync.WaitGroup
}

// New creates an engine with default configuration.
//
// The engine requires:
//   - st: the local collection store
//   - remote: the remote store, or nil to run local-only (always Offline)
//   - mon: the connectivity monitor probing remote
//
// Call Load before anything else, then Run (or Sync) to start mirroring.
func New(st *store.Store, remote cloud.Store, mon *connectivity.Monitor) (*Engine, error) {
	return NewWithConfig(st, remote, mon, DefaultConfig())
}

// NewWithConfig creates an engine with custom configuration.
func NewWithConfig(st *store.Store, remote cloud.Store, mon *connectivity.Monitor, config *Config) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if mon == nil {
		return nil, fmt.Errorf("monitor cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.UserID == "" {
		config.UserID = defaults.UserID
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = defaults.ProbeInterval
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = defaults.OpTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		store:        st,
		remote:       remote,
		monitor:      mon,
		config:       config,
		kinds:        make(map[schema.Kind]*kindState),
		status:       Offline,
		statusSubs:   make(map[int]func(Status)),
		conflictSubs: make(map[int]func([]Conflict)),
		uploadLocks:  make(map[schema.Kind]*sync.Mutex),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, k := range schema.Kinds() {
		e.kinds[k] = &kindState{collection: schema.NewCollection(k)}
		e.uploadLocks[k] = &sync.Mutex{}
	}
	return e, nil
}

// Load reads every collection from the local store. Unreadable files load
// as empty collections.
func (e *Engine) Load() {
	loaded := make(map[schema.Kind]schema.Collection, len(e.kinds))
	for _, k := range schema.Kinds() {
		loaded[k] = e.store.Load(k)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for k, c := range loaded {
		e.kinds[k].collection = c
		e.config.Logger.Debug("loaded collection", "kind", k, "records", c.Len())
	}
}

// Collection returns an independent copy of the in-memory collection.
func (e *Engine) Collection(k schema.Kind) schema.Collection {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.kinds[k]
	if !ok {
		return schema.NewCollection(k)
	}
	return st.collection.Clone()
}

// Persist replaces the collection of c.Kind: it writes the local file, marks
// the kind dirty and, when the remote is reachable and no conflict is
// pending, spawns an upload of a snapshot of c. Tasks are sorted
// priority-first before the snapshot is taken, so memory, disk and remote
// share one order. It never waits on the remote. An error means the local
// file could not be written.
func (e *Engine) Persist(c schema.Collection) error {
	if _, ok := e.kinds[c.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid %s collection: %w", c.Kind, err)
	}

	snapshot := schema.SortTasks(c.Clone())

	e.mu.Lock()
	if err := e.store.Save(snapshot); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to persist %s: %w", c.Kind, err)
	}

	st := e.kinds[c.Kind]
	st.collection = snapshot
	st.dirty = true

	if e.canUploadLocked() {
		e.startUploadLocked(c.Kind)
	} else {
		if e.conflict == nil {
			e.setStatusLocked(Offline)
		}
		e.config.Logger.Debug("saved locally, upload deferred", "kind", c.Kind, "records", snapshot.Len())
	}
	e.mu.Unlock()

	e.flush()
	return nil
}

// Status returns the current engine-wide status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Dirty reports whether kind k has local changes not yet confirmed mirrored.
func (e *Engine) Dirty(k schema.Kind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.kinds[k]
	return ok && st.dirty
}

// AnyDirty reports whether any kind is dirty.
func (e *Engine) AnyDirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.kinds {
		if st.dirty {
			return true
		}
	}
	return false
}

// Online reports the monitor's current state.
func (e *Engine) Online() bool {
	return e.monitor.Online()
}

// Sync runs one monitoring step: probe the remote, reconcile if that has
// not happened yet (or a conflict is still open), then re-upload every
// dirty kind. It returns ErrConflictPending when reconciliation needs a
// decision.
func (e *Engine) Sync(ctx context.Context) error {
	if e.remote == nil || !e.monitor.Probe(ctx) {
		e.markOffline()
		return nil
	}

	e.mu.Lock()
	needReconcile := !e.reconciled || e.conflict != nil
	e.mu.Unlock()

	if needReconcile {
		rec, err := e.Reconcile(ctx)
		if err != nil {
			return err
		}
		if rec.HasConflict() {
			return ErrConflictPending
		}
		return nil
	}

	e.resume()
	return nil
}

// Run probes the remote every ProbeInterval and watches network links until
// ctx is cancelled. The first successful probe triggers reconciliation.
func (e *Engine) Run(ctx context.Context) error {
	e.config.Logger.Info("starting sync loop", "user", e.config.UserID, "interval", e.config.ProbeInterval)

	unsubscribe := e.monitor.Subscribe(e.onConnectivity)
	defer unsubscribe()

	var wg sync.WaitGroup
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.monitor.Run(ctx); err != nil {
			e.config.Logger.Warn("link watcher stopped", "err", err)
		}
	}()

	e.tick(ctx)

	ticker := time.NewTicker(e.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.config.Logger.Info("sync loop stopped")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	err := e.Sync(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrConflictPending):
		e.config.Logger.Warn("collections disagree, waiting for resolution")
	case ctx.Err() != nil:
	default:
		e.config.Logger.Warn("sync step failed", "err", err)
	}
}

// onConnectivity reacts to monitor transitions. It runs on the monitor's
// notification path and must not call back into the monitor.
func (e *Engine) onConnectivity(online bool) {
	if !online {
		e.markOffline()
		return
	}
	e.resume()
}

// markOffline downgrades the status. In-flight uploads notice at their next
// step and abort.
func (e *Engine) markOffline() {
	e.mu.Lock()
	e.setStatusLocked(Offline)
	e.mu.Unlock()
	e.flush()
}

// resume starts an upload for every dirty kind without one in flight and
// recomputes the status. It does nothing before reconciliation or while a
// conflict is pending.
func (e *Engine) resume() {
	e.mu.Lock()
	if !e.canUploadLocked() {
		e.mu.Unlock()
		return
	}
	started := false
	for _, k := range schema.Kinds() {
		st := e.kinds[k]
		if st.dirty && !st.inflight {
			e.startUploadLocked(k)
			started = true
		}
	}
	if !started {
		e.setStatusLocked(e.deriveStatus())
	}
	e.mu.Unlock()

	e.flush()
}

func (e *Engine) canUploadLocked() bool {
	return e.remote != nil && e.reconciled && e.conflict == nil && e.monitor.Online()
}

// Wait blocks until every spawned upload has finished.
func (e *Engine) Wait() {
	e.uploads.Wait()
}

// Close aborts in-flight uploads, waits for them and closes the remote.
func (e *Engine) Close() error {
	e.cancel()
	e.uploads.Wait()

	if e.remote == nil {
		return nil
	}
	if err := e.remote.Close(); err != nil {
		return fmt.Errorf("failed to close remote: %w", err)
	}
	return nil
}
