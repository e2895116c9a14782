// Package store keeps record collections durable on local disk.
//
// Each kind lives in its own JSON file ({dir}/tasks.json, {dir}/todos.json).
// Writes replace the whole file atomically (temp file + rename), so a reader
// sees either the previous content or the new content, never a mix. Reads
// never fail: a missing, unreadable or malformed file loads as an empty
// collection.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// Store is the local collection store rooted at a directory.
type Store struct {
	dir    string
	logger *log.Logger

	// mu serializes writers; readers rely on rename atomicity.
	mu sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
// If logger is nil, a default logger writing to stderr is used.
func New(dir string, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if logger == nil {
		logger = logging.Default("store")
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing kind k.
func (s *Store) Path(k schema.Kind) string {
	return filepath.Join(s.dir, k.Filename())
}

// Load returns the saved collection for k. A missing, unreadable or
// malformed file yields an empty collection; the problem is logged, never
// returned. Records come back in the order they were saved.
func (s *Store) Load(k schema.Kind) schema.Collection {
	c, err := s.Read(k)
	if err != nil {
		s.logger.Warn("bad collection file, starting empty", "kind", k, "path", s.Path(k), "err", err)
		return schema.NewCollection(k)
	}
	return c
}

// Read is Load without the recovery: a missing file is an empty
// collection, but an unreadable or malformed file is an error.
func (s *Store) Read(k schema.Kind) (schema.Collection, error) {
	data, err := os.ReadFile(s.Path(k))
	if errors.Is(err, os.ErrNotExist) {
		return schema.NewCollection(k), nil
	}
	if err != nil {
		return schema.Collection{}, fmt.Errorf("failed to read %s: %w", k, err)
	}

	c, err := schema.DecodeCollection(k, data)
	if err != nil {
		return schema.Collection{}, fmt.Errorf("malformed %s file: %w", k, err)
	}
	return c, nil
}

// Save overwrites the file for c.Kind with the full collection.
// The write is atomic: temp file in the same directory, fsync, rename.
func (s *Store) Save(c schema.Collection) error {
	if !c.Kind.Valid() {
		return fmt.Errorf("cannot save collection of unknown kind %q", c.Kind)
	}

	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.Kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, string(c.Kind)+"-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", c.Kind, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", c.Kind, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", c.Kind, err)
	}

	if err := os.Rename(tmpName, s.Path(c.Kind)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", c.Kind, err)
	}

	s.logger.Debug("saved collection", "kind", c.Kind, "records", c.Len())
	return nil
}
