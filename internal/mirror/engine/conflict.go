package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Choice is a per-kind conflict resolution.
type Choice int

const (
	// AdoptRemote overwrites the local collection with the remote one.
	AdoptRemote Choice = iota
	// KeepLocal leaves the local collection alone and uploads it.
	KeepLocal
)

// String returns a human-readable representation of the choice.
func (c Choice) String() string {
	switch c {
	case AdoptRemote:
		return "adopt-remote"
	case KeepLocal:
		return "keep-local"
	default:
		return fmt.Sprintf("choice(%d)", int(c))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Choice) UnmarshalText(text []byte) error {
	parsed, err := ParseChoice(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChoice parses "remote"/"adopt-remote" or "local"/"keep-local".
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "remote", "adopt-remote", "adopt":
		return AdoptRemote, nil
	case "local", "keep-local", "keep":
		return KeepLocal, nil
	default:
		return AdoptRemote, fmt.Errorf("%w: %q (want local or remote)", ErrInvalidChoice, s)
	}
}

// Suggest returns the pre-selected choice for one kind: the side with more
// records, ties going to the remote. A remote known to be half-written is
// never suggested.
func Suggest(localCount, remoteCount int, remoteIncomplete bool) Choice {
	if remoteIncomplete {
		return KeepLocal
	}
	if localCount > remoteCount {
		return KeepLocal
	}
	return AdoptRemote
}

// Conflict describes one kind whose local and remote counts disagree.
//
// Detection compares counts only: two different collections of the same
// size are not a conflict.
type Conflict struct {
	Kind        schema.Kind `json:"kind" yaml:"kind"`
	LocalCount  int         `json:"local_count" yaml:"local_count"`
	RemoteCount int         `json:"remote_count" yaml:"remote_count"`

	// RemoteIncomplete is set when the remote manifest shows the last full
	// replace never finished.
	RemoteIncomplete bool   `json:"remote_incomplete" yaml:"remote_incomplete"`
	Suggested        Choice `json:"suggested" yaml:"suggested"`
}

// KindReport is the reconciliation outcome for one kind.
type KindReport struct {
	Conflict
	InConflict bool `json:"in_conflict" yaml:"in_conflict"`
}

// Reconciliation is the outcome of comparing local and remote collections.
type Reconciliation struct {
	Kinds []KindReport `json:"kinds" yaml:"kinds"`
}

// HasConflict reports whether any kind is in conflict.
func (r *Reconciliation) HasConflict() bool {
	for _, k := range r.Kinds {
		if k.InConflict {
			return true
		}
	}
	return false
}

// Conflicts returns the kinds in conflict.
func (r *Reconciliation) Conflicts() []Conflict {
	var out []Conflict
	for _, k := range r.Kinds {
		if k.InConflict {
			out = append(out, k.Conflict)
		}
	}
	return out
}

type pendingConflict struct {
	conflicts map[schema.Kind]Conflict
	remote    map[schema.Kind]schema.Collection
}

type remoteView struct {
	collection schema.Collection
	incomplete bool
}

// Reconcile fetches every remote collection and compares its count with
// the local one. Kinds that agree resume normal syncing; kinds that differ
// enter a pending conflict that blocks all uploads until Resolve. A remote
// failure marks the engine Offline and is returned.
func (e *Engine) Reconcile(ctx context.Context) (*Reconciliation, error) {
	if e.remote == nil {
		return nil, ErrNoRemote
	}

	e.reconcileMu.Lock()
	defer e.reconcileMu.Unlock()

	views := make(map[schema.Kind]remoteView, len(e.kinds))
	for _, k := range schema.Kinds() {
		v, err := e.fetchRemote(ctx, k)
		if err != nil {
			e.markOffline()
			return nil, fmt.Errorf("failed to reconcile %s: %w", k, err)
		}
		views[k] = v
	}

	rec := &Reconciliation{}
	pending := &pendingConflict{
		conflicts: make(map[schema.Kind]Conflict),
		remote:    make(map[schema.Kind]schema.Collection),
	}

	e.mu.Lock()
	for _, k := range schema.Kinds() {
		st := e.kinds[k]
		v := views[k]

		c := Conflict{
			Kind:             k,
			LocalCount:       st.collection.Len(),
			RemoteCount:      v.collection.Len(),
			RemoteIncomplete: v.incomplete,
		}
		c.Suggested = Suggest(c.LocalCount, c.RemoteCount, c.RemoteIncomplete)
		report := KindReport{Conflict: c, InConflict: c.LocalCount != c.RemoteCount}

		switch {
		case report.InConflict:
			pending.conflicts[k] = c
			pending.remote[k] = v.collection
			e.config.Logger.Warn("conflict", "kind", k, "local", c.LocalCount, "remote", c.RemoteCount,
				"incomplete", c.RemoteIncomplete, "suggested", c.Suggested)
		case v.incomplete:
			// Same size but half-written: the local copy is the only
			// trustworthy one.
			st.dirty = true
			e.config.Logger.Info("remote incomplete, re-uploading local", "kind", k)
		default:
			e.config.Logger.Debug("in agreement", "kind", k, "records", c.LocalCount)
		}
		rec.Kinds = append(rec.Kinds, report)
	}

	e.reconciled = true
	hadConflict := e.conflict != nil
	if len(pending.conflicts) > 0 {
		e.conflict = pending
		e.queueConflictsLocked()
	} else {
		e.conflict = nil
		if hadConflict {
			e.queueConflictsLocked()
		}
	}
	e.mu.Unlock()

	e.flush()
	e.resume()

	return rec, nil
}

func (e *Engine) fetchRemote(ctx context.Context, k schema.Kind) (remoteView, error) {
	uid := e.config.UserID

	listCtx, cancel := context.WithTimeout(ctx, e.config.OpTimeout)
	c, err := cloud.Fetch(listCtx, e.remote, uid, k)
	cancel()
	if err != nil {
		return remoteView{}, err
	}

	v := remoteView{collection: c}

	manifests, ok := e.remote.(cloud.ManifestStore)
	if !ok {
		return v, nil
	}

	mctx, cancel := context.WithTimeout(ctx, e.config.OpTimeout)
	m, err := manifests.Manifest(mctx, uid, k)
	cancel()
	switch {
	case errors.Is(err, cloud.ErrNotFound):
		// Never written by a full replace; nothing to check against.
	case err != nil:
		return remoteView{}, fmt.Errorf("failed to read %s manifest: %w", k, err)
	default:
		v.incomplete = !m.Matches(c)
	}
	return v, nil
}

// Conflicts returns the pending conflicts, or nil when there are none.
func (e *Engine) Conflicts() []Conflict {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflictsLocked()
}

// InConflict reports whether a conflict is waiting for Resolve.
func (e *Engine) InConflict() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conflict != nil
}

func (e *Engine) conflictsLocked() []Conflict {
	if e.conflict == nil {
		return nil
	}
	out := make([]Conflict, 0, len(e.conflict.conflicts))
	for _, k := range schema.Kinds() {
		if c, ok := e.conflict.conflicts[k]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Resolve applies one choice per conflicting kind. AdoptRemote replaces the
// local collection with the remote snapshot taken at reconciliation and
// writes it to disk. KeepLocal marks the kind dirty so it is uploaded.
// Every conflicting kind needs a choice. On success the conflict is cleared
// and normal syncing resumes.
func (e *Engine) Resolve(ctx context.Context, choices map[schema.Kind]Choice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	pc := e.conflict
	if pc == nil {
		e.mu.Unlock()
		return ErrNoConflict
	}

	for k, c := range choices {
		if _, ok := pc.conflicts[k]; !ok {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s is not in conflict", ErrInvalidChoice, k)
		}
		if c != AdoptRemote && c != KeepLocal {
			e.mu.Unlock()
			return fmt.Errorf("%w: %s for %s", ErrInvalidChoice, c, k)
		}
	}
	for _, c := range e.conflictsLocked() {
		if _, ok := choices[c.Kind]; !ok {
			e.mu.Unlock()
			return fmt.Errorf("%w: no choice for %s", ErrInvalidChoice, c.Kind)
		}
	}

	for _, k := range schema.Kinds() {
		choice, ok := choices[k]
		if !ok {
			continue
		}
		st := e.kinds[k]

		switch choice {
		case AdoptRemote:
			remote := pc.remote[k].Clone()
			if err := e.store.Save(remote); err != nil {
				e.mu.Unlock()
				return fmt.Errorf("failed to adopt remote %s: %w", k, err)
			}
			st.collection = remote
			st.dirty = false
		case KeepLocal:
			st.dirty = true
		}

		// A kind is settled once applied, so a retry after a failed save
		// only needs the remaining kinds.
		delete(pc.conflicts, k)
		delete(pc.remote, k)
		e.config.Logger.Info("conflict resolved", "kind", k, "choice", choice)
	}

	e.conflict = nil
	e.queueConflictsLocked()
	e.mu.Unlock()

	e.flush()
	e.resume()
	return nil
}
