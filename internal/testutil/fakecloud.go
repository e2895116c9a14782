// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Call records one operation made against a FakeCloud.
type Call struct {
	Op     string // list, delete, add, ping, manifest, put-manifest
	UserID string
	Kind   schema.Kind
	ID     string
}

// FakeCloud is an in-memory implementation of cloud.ManifestStore for testing.
type FakeCloud struct {
	mu        sync.Mutex
	docs      map[string][]cloud.Document // user/kind -> documents
	manifests map[string]cloud.Manifest
	nextID    int
	closed    bool
	calls     []Call

	// Error injection for testing
	PingErr        error
	ListErr        error
	DeleteErr      error
	AddErr         error
	PutManifestErr error

	// Hook, if set, runs at the start of every operation, outside the lock.
	// Tests use it to block an operation or flip connectivity midway.
	Hook func(op string, kind schema.Kind)
}

// NewFakeCloud creates an empty FakeCloud.
func NewFakeCloud() *FakeCloud {
	return &FakeCloud{
		docs:      make(map[string][]cloud.Document),
		manifests: make(map[string]cloud.Manifest),
	}
}

var _ cloud.ManifestStore = (*FakeCloud)(nil)

func key(userID string, kind schema.Kind) string {
	return userID + "/" + string(kind)
}

// Seed appends records to a sub-collection without recording calls.
func (f *FakeCloud) Seed(userID string, c schema.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(userID, c.Kind)
	for _, r := range c.Records {
		f.nextID++
		f.docs[k] = append(f.docs[k], cloud.Document{ID: fmt.Sprintf("doc-%d", f.nextID), Record: r})
	}
}

// SeedManifest sets a manifest without recording calls.
func (f *FakeCloud) SeedManifest(userID string, kind schema.Kind, m cloud.Manifest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[key(userID, kind)] = m
}

// Records returns the current remote collection.
func (f *FakeCloud) Records(userID string, kind schema.Kind) schema.Collection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloud.Collection(kind, f.docs[key(userID, kind)])
}

// StoredManifest returns the manifest for a sub-collection, if any.
func (f *FakeCloud) StoredManifest(userID string, kind schema.Kind) (cloud.Manifest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[key(userID, kind)]
	return m, ok
}

// Calls returns a copy of the recorded calls.
func (f *FakeCloud) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CountCalls returns how many calls of op were made.
func (f *FakeCloud) CountCalls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call log.
func (f *FakeCloud) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *FakeCloud) enter(ctx context.Context, c Call) error {
	if f.Hook != nil {
		f.Hook(c.Op, c.Kind)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.closed {
		return cloud.ErrClosed
	}
	return nil
}

// List implements cloud.Store.
func (f *FakeCloud) List(ctx context.Context, userID string, kind schema.Kind) ([]cloud.Document, error) {
	if err := f.enter(ctx, Call{Op: "list", UserID: userID, Kind: kind}); err != nil {
		return nil, err
	}
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := f.docs[key(userID, kind)]
	out := make([]cloud.Document, len(docs))
	copy(out, docs)
	return out, nil
}

// Delete implements cloud.Store.
func (f *FakeCloud) Delete(ctx context.Context, userID string, kind schema.Kind, id string) error {
	if err := f.enter(ctx, Call{Op: "delete", UserID: userID, Kind: kind, ID: id}); err != nil {
		return err
	}
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(userID, kind)
	docs := f.docs[k]
	for i, d := range docs {
		if d.ID == id {
			f.docs[k] = append(docs[:i:i], docs[i+1:]...)
			break
		}
	}
	return nil
}

// Add implements cloud.Store.
func (f *FakeCloud) Add(ctx context.Context, userID string, kind schema.Kind, r schema.Record) (string, error) {
	if err := f.enter(ctx, Call{Op: "add", UserID: userID, Kind: kind}); err != nil {
		return "", err
	}
	if f.AddErr != nil {
		return "", f.AddErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("doc-%d", f.nextID)
	k := key(userID, kind)
	f.docs[k] = append(f.docs[k], cloud.Document{ID: id, Record: r})
	return id, nil
}

// Ping implements cloud.Store.
func (f *FakeCloud) Ping(ctx context.Context) error {
	if err := f.enter(ctx, Call{Op: "ping"}); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.PingErr
}

// SetPingErr changes the Ping result while other goroutines may be probing.
func (f *FakeCloud) SetPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PingErr = err
}

// Manifest implements cloud.ManifestStore.
func (f *FakeCloud) Manifest(ctx context.Context, userID string, kind schema.Kind) (cloud.Manifest, error) {
	if err := f.enter(ctx, Call{Op: "manifest", UserID: userID, Kind: kind}); err != nil {
		return cloud.Manifest{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.manifests[key(userID, kind)]
	if !ok {
		return cloud.Manifest{}, cloud.ErrNotFound
	}
	return m, nil
}

// PutManifest implements cloud.ManifestStore.
func (f *FakeCloud) PutManifest(ctx context.Context, userID string, kind schema.Kind, m cloud.Manifest) error {
	if err := f.enter(ctx, Call{Op: "put-manifest", UserID: userID, Kind: kind}); err != nil {
		return err
	}
	if f.PutManifestErr != nil {
		return f.PutManifestErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[key(userID, kind)] = m
	return nil
}

// Close implements cloud.Store.
func (f *FakeCloud) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
