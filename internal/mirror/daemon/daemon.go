// Package daemon runs the long-lived sync process behind `tm daemon`.
//
// The daemon:
// 1. Runs the engine's probe and reconcile loop
// 2. Watches tasks.json and todos.json for edits made outside the engine
// 3. Persists those edits through the engine so they are mirrored
// 4. Feeds the dashboard, when one is attached
// 5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/dashboard"
	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
	"github.com/mschirtzinger/taskmirror/internal/mirror/store"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a file must stay quiet before its
	// change is processed. Editors often write a file several times.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		Logger:           logging.Default("daemon"),
	}
}

// Daemon orchestrates file watching and the sync engine.
type Daemon struct {
	engine *engine.Engine
	store  *store.Store
	config *Config

	watcher   *store.Watcher
	dashboard *dashboard.Handler

	changeQueue   map[schema.Kind]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Daemon instance.
//
// The daemon requires:
//   - eng: a loaded sync engine
//   - st: the local store the engine writes to
//
// Use Start() to begin watching and syncing.
func New(eng *engine.Engine, st *store.Store) (*Daemon, error) {
	return NewWithConfig(eng, st, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(eng *engine.Engine, st *store.Store, config *Config) (*Daemon, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = logging.Default("daemon")
	}

	watcher, err := store.NewWatcher(st)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		engine:      eng,
		store:       st,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[schema.Kind]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// SetDashboard attaches a dashboard handler. Call before Start.
func (d *Daemon) SetDashboard(h *dashboard.Handler) {
	d.dashboard = h
}

// Start begins the daemon's operation and blocks until ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Info("starting daemon", "data", d.store.Dir())

	if err := d.watcher.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	if d.dashboard != nil {
		detach := d.dashboard.Attach()
		defer detach()
		for _, k := range schema.Kinds() {
			d.dashboard.OnCollection(d.engine.Collection(k), d.engine.Dirty(k))
		}
	}

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go func() {
		defer d.wg.Done()
		if err := d.engine.Run(d.ctx); err != nil {
			d.config.Logger.Error("sync loop failed", "err", err)
		}
	}()

	select {
	case <-ctx.Done():
		d.config.Logger.Info("shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.cancel()

	if err := d.watcher.Stop(); err != nil {
		d.config.Logger.Warn("error closing watcher", "err", err)
	}

	d.wg.Wait()
	d.engine.Wait()

	d.config.Logger.Info("daemon stopped")
	return nil
}

// watchFileEvents monitors collection file changes and queues them.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case change, ok := <-d.watcher.Changes():
			if !ok {
				return
			}
			if change.Op == store.OpRemove {
				d.config.Logger.Warn("collection file removed; it is rewritten on the next save", "kind", change.Kind)
				continue
			}
			d.queueChange(change.Kind)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				return
			}
			d.config.Logger.Warn("watcher error", "err", err)
		}
	}
}

// queueChange adds a kind to the change queue with debouncing.
func (d *Daemon) queueChange(k schema.Kind) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[k] = time.Now()
}

// processChangeQueue processes queued changes with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges handles kinds that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	var ready []schema.Kind
	now := time.Now()
	for k, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, k)
		delete(d.changeQueue, k)
	}
	d.changeQueueMu.Unlock()

	for _, k := range ready {
		if err := d.SyncFile(k); err != nil {
			d.config.Logger.Error("failed to apply file change", "kind", k, "err", err)
		}
	}
}

// SyncFile reloads kind k from disk and persists it through the engine if
// it differs from what the engine holds. The engine's own saves read back
// equal and are skipped. A file that does not parse is left alone until
// the next write.
func (d *Daemon) SyncFile(k schema.Kind) error {
	onDisk, err := d.store.Read(k)
	if err != nil {
		return fmt.Errorf("ignoring edit: %w", err)
	}
	if err := onDisk.Validate(); err != nil {
		return fmt.Errorf("ignoring edit: invalid %s: %w", k, err)
	}
	if onDisk.Equal(d.engine.Collection(k)) {
		return nil
	}

	d.config.Logger.Info("external edit detected", "kind", k, "records", onDisk.Len())
	if err := d.engine.Persist(onDisk); err != nil {
		return err
	}

	if d.dashboard != nil {
		d.dashboard.OnCollection(onDisk, d.engine.Dirty(k))
	}
	return nil
}
