package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Status is the engine-wide cloud status shown to collaborators.
type Status int

const (
	// Offline means the remote is unreachable, or the last upload failed,
	// or local changes are waiting for the next successful probe.
	Offline Status = iota
	// Syncing means at least one upload of the newest snapshot is in flight.
	Syncing
	// Synced means every kind is clean and no upload is in flight.
	Synced
)

// String returns a human-readable representation of the status.
func (s Status) String() string {
	switch s {
	case Offline:
		return "offline"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MarshalJSON encodes the status as its name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ParseStatus parses a status name.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "offline":
		return Offline, nil
	case "syncing":
		return Syncing, nil
	case "synced":
		return Synced, nil
	default:
		return Offline, fmt.Errorf("unknown status %q", v)
	}
}

// kindState is the per-kind bookkeeping. All fields are guarded by
// Engine.mu.
type kindState struct {
	collection schema.Collection

	// dirty is set by every local write and cleared only when the upload
	// of the newest snapshot succeeds.
	dirty bool

	// generation counts uploads spawned for this kind. Only the completion
	// of the upload whose generation equals it may change dirty or status.
	generation uint64

	// inflight is true while the newest generation's upload is running.
	inflight bool
}

// deriveStatus computes the status implied by the per-kind state. A failed
// upload is reported as Offline by the caller, not derived here.
func (e *Engine) deriveStatus() Status {
	if !e.monitor.Online() || e.remote == nil {
		return Offline
	}
	anyDirty := false
	for _, st := range e.kinds {
		if st.inflight {
			return Syncing
		}
		if st.dirty {
			anyDirty = true
		}
	}
	if anyDirty {
		return Offline
	}
	return Synced
}

// setStatusLocked records a status change and queues its delivery. Callers
// hold e.mu and call e.flush after unlocking.
func (e *Engine) setStatusLocked(s Status) {
	if e.status == s {
		return
	}
	prev := e.status
	e.status = s
	e.config.Logger.Debug("status changed", "from", prev, "to", s)

	subs := e.statusSubscribersLocked()
	e.pending = append(e.pending, func() {
		for _, fn := range subs {
			fn(s)
		}
	})
}

// queueConflictsLocked queues delivery of the current conflict set to
// conflict subscribers. Callers hold e.mu and call e.flush after unlocking.
func (e *Engine) queueConflictsLocked() {
	conflicts := e.conflictsLocked()
	subs := e.conflictSubscribersLocked()
	e.pending = append(e.pending, func() {
		for _, fn := range subs {
			fn(conflicts)
		}
	})
}

// flush delivers queued notifications in the order they were queued.
// It must be called without e.mu held.
func (e *Engine) flush() {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()

	for {
		e.mu.Lock()
		if len(e.pending) == 0 {
			e.mu.Unlock()
			return
		}
		fn := e.pending[0]
		e.pending = e.pending[1:]
		e.mu.Unlock()

		fn()
	}
}

func (e *Engine) statusSubscribersLocked() []func(Status) {
	out := make([]func(Status), 0, len(e.statusSubs))
	for i := 0; i < e.nextSub; i++ {
		if fn, ok := e.statusSubs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func (e *Engine) conflictSubscribersLocked() []func([]Conflict) {
	out := make([]func([]Conflict), 0, len(e.conflictSubs))
	for i := 0; i < e.nextSub; i++ {
		if fn, ok := e.conflictSubs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

// Subscribe registers fn to receive every status transition. Callbacks run
// on engine goroutines, one at a time and in transition order; they may call
// read-only Engine methods but must not block. The returned function removes
// the subscription.
func (e *Engine) Subscribe(fn func(Status)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.statusSubs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.statusSubs, id)
	}
}

// SubscribeConflicts registers fn to receive the conflict set whenever it
// changes. An empty set means the conflict was resolved.
func (e *Engine) SubscribeConflicts(fn func([]Conflict)) (cancel func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextSub
	e.nextSub++
	e.conflictSubs[id] = fn

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.conflictSubs, id)
	}
}
