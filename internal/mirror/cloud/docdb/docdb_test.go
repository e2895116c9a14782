package docdb

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// setupTestDB opens a document database in a temp directory.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_CreatesSchema(t *testing.T) {
	db := setupTestDB(t)

	for _, table := range []string{"documents", "manifests", "health"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() failed on a fresh database: %v", err)
	}
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "remote.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := db.Add(ctx, "u", schema.KindTodo, schema.Todo{Title: "persisted"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	docs, err := db.List(ctx, "u", schema.KindTodo)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected 1 document after reopen, got %d", len(docs))
	}
}

func TestDocuments_AddListDelete(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	tasks := []schema.Task{
		{Title: "first", Deadline: schema.NewDate(2025, time.June, 1), Priority: true, Order: 0},
		{Title: "second", Order: 1},
		{Title: "third", Completed: true, Order: 2},
	}

	ids := make([]string, len(tasks))
	for i, task := range tasks {
		id, err := db.Add(ctx, "alice", schema.KindTask, task)
		if err != nil {
			t.Fatalf("Add(%d) failed: %v", i, err)
		}
		ids[i] = id
	}

	docs, err := db.List(ctx, "alice", schema.KindTask)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != len(tasks) {
		t.Fatalf("expected %d documents, got %d", len(tasks), len(docs))
	}
	for i, d := range docs {
		if d.ID != ids[i] {
			t.Errorf("position %d: expected id %s, got %s", i, ids[i], d.ID)
		}
		if d.Record != schema.Record(tasks[i]) {
			t.Errorf("position %d: expected %+v, got %+v", i, tasks[i], d.Record)
		}
	}

	if err := db.Delete(ctx, "alice", schema.KindTask, ids[1]); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := db.Delete(ctx, "alice", schema.KindTask, "missing"); err != nil {
		t.Errorf("deleting a missing document should succeed, got %v", err)
	}

	docs, err = db.List(ctx, "alice", schema.KindTask)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != ids[0] || docs[1].ID != ids[2] {
		t.Errorf("unexpected documents after delete: %+v", docs)
	}
}

func TestDocuments_ScopedByUserAndKind(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Add(ctx, "alice", schema.KindTodo, schema.Todo{Title: "a"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if _, err := db.Add(ctx, "bob", schema.KindTodo, schema.Todo{Title: "b"}); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	tests := []struct {
		user string
		kind schema.Kind
		want int
	}{
		{user: "alice", kind: schema.KindTodo, want: 1},
		{user: "bob", kind: schema.KindTodo, want: 1},
		{user: "alice", kind: schema.KindTask, want: 0},
		{user: "carol", kind: schema.KindTodo, want: 0},
	}
	for _, tt := range tests {
		docs, err := db.List(ctx, tt.user, tt.kind)
		if err != nil {
			t.Fatalf("List(%s, %s) failed: %v", tt.user, tt.kind, err)
		}
		if len(docs) != tt.want {
			t.Errorf("List(%s, %s): expected %d, got %d", tt.user, tt.kind, tt.want, len(docs))
		}
	}
}

func TestAdd_RejectsWrongKind(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.Add(context.Background(), "u", schema.KindTask, schema.Todo{Title: "x"}); err == nil {
		t.Error("expected error adding a todo to tasks")
	}
}

func TestManifest(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	if _, err := db.Manifest(ctx, "u", schema.KindTask); !errors.Is(err, cloud.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any write, got %v", err)
	}

	first := cloud.Manifest{Complete: false, Generation: 1, UpdatedAt: time.Now().UTC().Truncate(time.Second)}
	if err := db.PutManifest(ctx, "u", schema.KindTask, first); err != nil {
		t.Fatalf("PutManifest() failed: %v", err)
	}

	second := cloud.Manifest{Complete: true, Count: 2, Hash: "abc", Generation: 1, UpdatedAt: first.UpdatedAt}
	if err := db.PutManifest(ctx, "u", schema.KindTask, second); err != nil {
		t.Fatalf("PutManifest() overwrite failed: %v", err)
	}

	got, err := db.Manifest(ctx, "u", schema.KindTask)
	if err != nil {
		t.Fatalf("Manifest() failed: %v", err)
	}
	if !got.Complete || got.Count != 2 || got.Hash != "abc" || !got.UpdatedAt.Equal(second.UpdatedAt) {
		t.Errorf("unexpected manifest %+v", got)
	}
}

func TestClose_RejectsCalls(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("second Close() should be a no-op, got %v", err)
	}

	ctx := context.Background()
	if err := db.Ping(ctx); !errors.Is(err, cloud.ErrClosed) {
		t.Errorf("expected ErrClosed from Ping, got %v", err)
	}
	if _, err := db.List(ctx, "u", schema.KindTask); !errors.Is(err, cloud.ErrClosed) {
		t.Errorf("expected ErrClosed from List, got %v", err)
	}
	if !cloud.IsFatal(db.Ping(ctx)) {
		t.Error("closed store errors should be fatal")
	}
}

func TestDeleteAll_Concurrent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := db.Add(ctx, "u", schema.KindTodo, schema.Todo{Title: "t"}); err != nil {
				t.Errorf("Add() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	n, err := cloud.DeleteAll(ctx, db, "u", schema.KindTodo)
	if err != nil {
		t.Fatalf("DeleteAll() failed: %v", err)
	}
	if n != 10 {
		t.Errorf("expected 10 deleted, got %d", n)
	}

	c, err := cloud.Fetch(ctx, db, "u", schema.KindTodo)
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty collection, got %d", c.Len())
	}
}
