package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// startUploadLocked spawns an upload of a snapshot of kind k under a new
// generation. Callers hold e.mu and call e.flush after unlocking.
func (e *Engine) startUploadLocked(k schema.Kind) {
	st := e.kinds[k]
	st.generation++
	st.inflight = true
	gen := st.generation
	snapshot := st.collection.Clone()

	e.setStatusLocked(Syncing)
	e.config.Logger.Debug("upload spawned", "kind", k, "generation", gen, "records", snapshot.Len())

	e.uploads.Add(1)
	go e.upload(k, gen, snapshot)
}

func (e *Engine) upload(k schema.Kind, gen uint64, snapshot schema.Collection) {
	defer e.uploads.Done()

	lock := e.uploadLocks[k]
	lock.Lock()
	err := e.replaceRemote(k, gen, snapshot)
	lock.Unlock()

	e.finish(k, gen, snapshot, err)
}

// replaceRemote performs the full replace of one sub-collection: delete
// every remote document, then add one per snapshot record in order.
// Connectivity and supersession are checked before every remote call, so
// the upload can stop between any two of them.
func (e *Engine) replaceRemote(k schema.Kind, gen uint64, snapshot schema.Collection) error {
	uid := e.config.UserID

	var listed []cloud.Document
	if err := e.remoteCall(k, gen, func(ctx context.Context) error {
		docs, err := e.remote.List(ctx, uid, k)
		listed = docs
		return err
	}); err != nil {
		return fmt.Errorf("failed to list remote %s: %w", k, err)
	}

	manifests, _ := e.remote.(cloud.ManifestStore)
	if manifests != nil {
		m := cloud.Manifest{Complete: false, Generation: gen, UpdatedAt: time.Now().UTC()}
		if err := e.remoteCall(k, gen, func(ctx context.Context) error {
			return manifests.PutManifest(ctx, uid, k, m)
		}); err != nil {
			return fmt.Errorf("failed to mark remote %s incomplete: %w", k, err)
		}
	}

	for _, d := range listed {
		if err := e.remoteCall(k, gen, func(ctx context.Context) error {
			return e.remote.Delete(ctx, uid, k, d.ID)
		}); err != nil {
			return fmt.Errorf("failed to delete remote %s/%s: %w", k, d.ID, err)
		}
	}

	for i, r := range snapshot.Records {
		if err := e.remoteCall(k, gen, func(ctx context.Context) error {
			_, err := e.remote.Add(ctx, uid, k, r)
			return err
		}); err != nil {
			return fmt.Errorf("failed to add remote %s record %d: %w", k, i, err)
		}
	}

	if manifests != nil {
		m := cloud.Manifest{
			Complete:   true,
			Count:      snapshot.Len(),
			Hash:       snapshot.Hash(),
			Generation: gen,
			UpdatedAt:  time.Now().UTC(),
		}
		if err := e.remoteCall(k, gen, func(ctx context.Context) error {
			return manifests.PutManifest(ctx, uid, k, m)
		}); err != nil {
			return fmt.Errorf("failed to write remote %s manifest: %w", k, err)
		}
	}

	return nil
}

// remoteCall runs one remote step. Before the step it aborts if a newer
// snapshot of k has been spawned, the engine is closing, or the monitor is
// offline.
func (e *Engine) remoteCall(k schema.Kind, gen uint64, fn func(ctx context.Context) error) error {
	if e.superseded(k, gen) {
		return errSuperseded
	}
	if err := e.ctx.Err(); err != nil {
		return err
	}
	if !e.monitor.Online() {
		return errDisconnected
	}

	ctx, cancel := context.WithTimeout(e.ctx, e.config.OpTimeout)
	defer cancel()
	return fn(ctx)
}

func (e *Engine) superseded(k schema.Kind, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.kinds[k].generation != gen
}

// finish applies an upload result. Only the newest generation's result is
// applied; a stale completion is logged and discarded.
func (e *Engine) finish(k schema.Kind, gen uint64, snapshot schema.Collection, err error) {
	e.mu.Lock()
	st := e.kinds[k]

	if st.generation != gen {
		newest := st.generation
		e.mu.Unlock()
		e.config.Logger.Debug("discarding stale upload result", "kind", k, "generation", gen, "newest", newest, "err", err)
		return
	}

	st.inflight = false
	goOffline := false

	if err == nil {
		st.dirty = false
		e.config.Logger.Info("upload complete", "kind", k, "records", snapshot.Len(), "generation", gen)
		e.setStatusLocked(e.deriveStatus())
	} else {
		switch {
		case errors.Is(err, errDisconnected):
			e.config.Logger.Info("upload aborted, connectivity lost", "kind", k, "generation", gen)
		case errors.Is(err, context.Canceled) && e.ctx.Err() != nil:
			e.config.Logger.Debug("upload cancelled on shutdown", "kind", k, "generation", gen)
		default:
			e.config.Logger.Warn("upload failed", "kind", k, "generation", gen, "err", err)
			goOffline = cloud.IsRetryable(err)
		}
		e.setStatusLocked(Offline)
	}
	e.mu.Unlock()

	e.flush()

	// A transport failure means the remote is gone for every kind; let the
	// next probe bring it back.
	if goOffline {
		e.monitor.SetOnline(false)
	}
}
