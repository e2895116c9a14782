// Package docdb implements cloud.Store on an embedded SQLite database.
//
// The database models a document store: every record is a JSON document at
// users/{uid}/{kind}/{id}, with a random UUID as id. Documents keep their
// insertion order. A single health row answers Ping, and each
// sub-collection may carry a manifest describing its last full replace.
//
// Architecture:
//   - Driver: ncruces/go-sqlite3 (pure Go, no cgo)
//   - WAL mode: readers proceed during uploads
//   - Tables: documents, manifests, health
//
// A docdb file can be used directly by one process, or shared by many
// through `tm serve` (see package docserver).
package docdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// HealthID is the id of the sentinel row read by Ping.
const HealthID = "ping"

// DB is a SQLite-backed document store.
type DB struct {
	mu     sync.RWMutex
	conn   *sql.DB
	path   string
	closed bool
}

var _ cloud.ManifestStore = (*DB)(nil)

// Open creates or opens the document database at path and initializes its
// schema.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	remote, err := docdb.Open("~/.config/taskmirror/remote.db")
//	if err != nil {
//	    return err
//	}
//	defer remote.Close()
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) initSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		data TEXT NOT NULL,  -- record JSON
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_documents_path
	    ON documents(user_id, collection, seq);

	CREATE TABLE IF NOT EXISTS manifests (
		user_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		data TEXT NOT NULL,  -- manifest JSON
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, collection)
	);

	CREATE TABLE IF NOT EXISTS health (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL
	);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO health (id, created_at) VALUES (?, ?)`,
		HealthID, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create health row: %w", err)
	}
	return nil
}

// acquire returns the connection for one operation. The returned release
// function must be called when the operation is done.
func (db *DB) acquire() (*sql.DB, func(), error) {
	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return nil, nil, cloud.ErrClosed
	}
	return db.conn, db.mu.RUnlock, nil
}

// unavailable marks a driver error as a transient remote failure, keeping
// context errors as they are.
func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return fmt.Errorf("failed to %s: %w: %w", op, cloud.ErrUnavailable, err)
}

// List implements cloud.Store.
func (db *DB) List(ctx context.Context, userID string, kind schema.Kind) ([]cloud.Document, error) {
	conn, release, err := db.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := conn.QueryContext(ctx,
		`SELECT id, data FROM documents WHERE user_id = ? AND collection = ? ORDER BY seq`,
		userID, string(kind))
	if err != nil {
		return nil, unavailable("list documents", err)
	}
	defer rows.Close()

	var docs []cloud.Document
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, unavailable("scan document", err)
		}
		r, err := schema.DecodeRecord(kind, []byte(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		docs = append(docs, cloud.Document{ID: id, Record: r})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list documents", err)
	}
	return docs, nil
}

// Delete implements cloud.Store.
func (db *DB) Delete(ctx context.Context, userID string, kind schema.Kind, id string) error {
	conn, release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()

	_, err = conn.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND collection = ? AND id = ?`,
		userID, string(kind), id)
	if err != nil {
		return unavailable("delete document", err)
	}
	return nil
}

// Add implements cloud.Store.
func (db *DB) Add(ctx context.Context, userID string, kind schema.Kind, r schema.Record) (string, error) {
	if r == nil || r.Kind() != kind {
		return "", fmt.Errorf("record does not belong to %s", kind)
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}

	conn, release, err := db.acquire()
	if err != nil {
		return "", err
	}
	defer release()

	id := uuid.NewString()
	_, err = conn.ExecContext(ctx,
		`INSERT INTO documents (id, user_id, collection, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, string(kind), string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", unavailable("add document", err)
	}
	return id, nil
}

// Ping implements cloud.Store by reading the health row.
func (db *DB) Ping(ctx context.Context) error {
	conn, release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()

	var id string
	err = conn.QueryRowContext(ctx, `SELECT id FROM health WHERE id = ?`, HealthID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("health row missing: %w", cloud.ErrUnavailable)
	}
	if err != nil {
		return unavailable("read health row", err)
	}
	return nil
}

// Manifest implements cloud.ManifestStore.
func (db *DB) Manifest(ctx context.Context, userID string, kind schema.Kind) (cloud.Manifest, error) {
	conn, release, err := db.acquire()
	if err != nil {
		return cloud.Manifest{}, err
	}
	defer release()

	var data string
	err = conn.QueryRowContext(ctx,
		`SELECT data FROM manifests WHERE user_id = ? AND collection = ?`,
		userID, string(kind)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return cloud.Manifest{}, cloud.ErrNotFound
	}
	if err != nil {
		return cloud.Manifest{}, unavailable("read manifest", err)
	}

	var m cloud.Manifest
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return cloud.Manifest{}, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return m, nil
}

// PutManifest implements cloud.ManifestStore.
func (db *DB) PutManifest(ctx context.Context, userID string, kind schema.Kind, m cloud.Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	conn, release, err := db.acquire()
	if err != nil {
		return err
	}
	defer release()

	_, err = conn.ExecContext(ctx, `
		INSERT INTO manifests (user_id, collection, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, collection) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, userID, string(kind), string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return unavailable("write manifest", err)
	}
	return nil
}

// Close checkpoints the WAL and closes the database. Further calls return
// cloud.ErrClosed.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
