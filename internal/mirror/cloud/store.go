// Package cloud defines the remote document store that collections are
// mirrored to, plus helpers shared by its implementations.
package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Document is one remote record. IDs are assigned by the store on Add and
// are not preserved across syncs; a full replace gives every record a new ID.
type Document struct {
	ID     string
	Record schema.Record
}

// Store is a remote document collection keyed by user.
//
// Documents live under users/{userID}/{kind}. The store offers no
// transactions across calls; callers that replace a whole collection must
// tolerate a partially deleted or partially repopulated remote if they stop
// midway.
//
// A Store is a long-lived handle shared by probes and uploads. It must be
// safe for concurrent use and released with Close.
type Store interface {
	// List returns every document in the user's kind sub-collection, in
	// insertion order.
	//
	// Example:
	//   docs, err := store.List(ctx, "demo_user", schema.KindTask)
	List(ctx context.Context, userID string, kind schema.Kind) ([]Document, error)

	// Delete removes one document. Deleting a missing document is not an
	// error.
	//
	// Example:
	//   err := store.Delete(ctx, "demo_user", schema.KindTask, docs[0].ID)
	Delete(ctx context.Context, userID string, kind schema.Kind, id string) error

	// Add appends a new document and returns its ID.
	//
	// Example:
	//   id, err := store.Add(ctx, "demo_user", schema.KindTodo, schema.Todo{Title: "x"})
	Add(ctx context.Context, userID string, kind schema.Kind, r schema.Record) (string, error)

	// Ping performs a lightweight round trip, such as reading one sentinel
	// document. A nil error means the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the handle. Calls after Close return ErrClosed.
	Close() error
}

// Manifest describes the last full replace of one sub-collection. It is
// written as a single sentinel document so a reader can tell a complete
// remote from one left half-written by an interrupted upload.
type Manifest struct {
	// Complete is false while a replace is in progress.
	Complete   bool      `json:"complete"`
	Count      int       `json:"count"`
	Hash       string    `json:"hash"`
	Generation uint64    `json:"generation"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ManifestStore is a Store that can also keep a Manifest per sub-collection.
type ManifestStore interface {
	Store

	// Manifest returns the manifest for the sub-collection, or ErrNotFound
	// if none was ever written.
	Manifest(ctx context.Context, userID string, kind schema.Kind) (Manifest, error)

	// PutManifest replaces the manifest for the sub-collection.
	PutManifest(ctx context.Context, userID string, kind schema.Kind, m Manifest) error
}

// Matches reports whether the listed documents agree with m.
func (m Manifest) Matches(c schema.Collection) bool {
	return m.Complete && m.Count == c.Len() && (m.Hash == "" || m.Hash == c.Hash())
}

// Collection converts listed documents into a collection of kind k,
// dropping records of any other kind.
func Collection(k schema.Kind, docs []Document) schema.Collection {
	c := schema.NewCollection(k)
	for _, d := range docs {
		if d.Record != nil && d.Record.Kind() == k {
			c.Records = append(c.Records, d.Record)
		}
	}
	return c
}

// Fetch lists a sub-collection and returns it as a collection.
func Fetch(ctx context.Context, s Store, userID string, kind schema.Kind) (schema.Collection, error) {
	docs, err := s.List(ctx, userID, kind)
	if err != nil {
		return schema.Collection{}, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	return Collection(kind, docs), nil
}

// DeleteAll removes every document in the sub-collection and returns how
// many were deleted.
func DeleteAll(ctx context.Context, s Store, userID string, kind schema.Kind) (int, error) {
	docs, err := s.List(ctx, userID, kind)
	if err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := s.Delete(ctx, userID, kind, d.ID); err != nil {
			return i, fmt.Errorf("failed to delete %s/%s: %w", kind, d.ID, err)
		}
	}
	return len(docs), nil
}
