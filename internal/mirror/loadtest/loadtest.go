// Package loadtest drives the sync engine with concurrent edits against a
// real SQLite document store.
//
// It checks two properties under load: Persist stays a local-only call
// whose latency does not depend on the remote, and once uploads drain the
// remote holds exactly the newest snapshot of every collection.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/docdb"
	"github.com/mschirtzinger/taskmirror/internal/mirror/connectivity"
	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
	"github.com/mschirtzinger/taskmirror/internal/mirror/store"
)

// UserID is the remote user every harness writes under.
const UserID = "loadtest"

// Harness is a store, docdb remote and engine wired together in one
// directory.
type Harness struct {
	Engine *engine.Engine
	Remote *docdb.DB
	Store  *store.Store

	// mu serializes read-modify-Persist cycles, the way a single UI thread
	// would. Only the Persist call itself is timed.
	mu sync.Mutex
}

// LatencyStats captures Persist latencies from a load run.
type LatencyStats struct {
	Min        time.Duration
	Max        time.Duration
	Mean       time.Duration
	P50        time.Duration // Median
	P95        time.Duration
	P99        time.Duration
	TotalEdits int
	Errors     int
	Durations  []time.Duration
}

// NewHarness creates a harness under dir, seeded with seedTasks tasks and
// seedTodos to-dos, and brings the engine online. A nil logger discards
// output.
func NewHarness(ctx context.Context, dir string, seedTasks, seedTodos int, logger *log.Logger) (*Harness, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	st, err := store.New(filepath.Join(dir, "data"), logging.Component(logger, "store"))
	if err != nil {
		return nil, err
	}
	if err := st.Save(schema.TaskCollection(GenerateTasks(seedTasks)...)); err != nil {
		return nil, fmt.Errorf("failed to seed tasks: %w", err)
	}
	if err := st.Save(schema.TodoCollection(GenerateTodos(seedTodos)...)); err != nil {
		return nil, fmt.Errorf("failed to seed todos: %w", err)
	}

	remote, err := docdb.Open(filepath.Join(dir, "remote.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open remote: %w", err)
	}

	mon := connectivity.New(remote, &connectivity.Config{
		Timeout: 5 * time.Second,
		Logger:  logging.Component(logger, "connectivity"),
	})
	eng, err := engine.NewWithConfig(st, remote, mon, &engine.Config{
		UserID:        UserID,
		ProbeInterval: time.Second,
		OpTimeout:     10 * time.Second,
		Logger:        logging.Component(logger, "sync"),
	})
	if err != nil {
		_ = remote.Close()
		return nil, err
	}
	eng.Load()

	h := &Harness{Engine: eng, Remote: remote, Store: st}

	// The remote starts empty, so a seeded harness begins in conflict;
	// keeping local uploads the seed.
	if err := eng.Sync(ctx); err != nil {
		if !errors.Is(err, engine.ErrConflictPending) {
			_ = h.Close()
			return nil, fmt.Errorf("failed to bring engine online: %w", err)
		}
		choices := make(map[schema.Kind]engine.Choice)
		for _, c := range eng.Conflicts() {
			choices[c.Kind] = engine.KeepLocal
		}
		if err := eng.Resolve(ctx, choices); err != nil {
			_ = h.Close()
			return nil, fmt.Errorf("failed to resolve seed conflict: %w", err)
		}
	}
	eng.Wait()

	return h, nil
}

// Close stops the engine and closes the remote.
func (h *Harness) Close() error {
	return h.Engine.Close()
}

// RunConcurrentEdits starts writers goroutines, each making editsPerWriter
// edits. Writers alternate between adding a record and toggling one, and
// between tasks and to-dos.
func (h *Harness) RunConcurrentEdits(writers, editsPerWriter int) (*LatencyStats, error) {
	var wg sync.WaitGroup
	resultsChan := make(chan []time.Duration, writers)
	errorsChan := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()

			durations := make([]time.Duration, 0, editsPerWriter)
			for j := 0; j < editsPerWriter; j++ {
				kind := schema.KindTask
				if (writerID+j)%2 == 1 {
					kind = schema.KindTodo
				}

				elapsed, err := h.edit(kind, writerID, j)
				if err != nil {
					errorsChan <- fmt.Errorf("writer %d edit %d failed: %w", writerID, j, err)
					return
				}
				durations = append(durations, elapsed)
			}
			resultsChan <- durations
		}(i)
	}

	wg.Wait()
	close(resultsChan)
	close(errorsChan)

	var errorCount int
	var firstErr error
	for err := range errorsChan {
		errorCount++
		if firstErr == nil {
			firstErr = err
		}
	}

	var all []time.Duration
	for durations := range resultsChan {
		all = append(all, durations...)
	}
	if len(all) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("no edits completed")
	}

	stats := computeLatencyStats(all)
	stats.Errors = errorCount
	return stats, nil
}

// edit applies one add-or-toggle to kind and returns how long Persist took.
func (h *Harness) edit(kind schema.Kind, writerID, seq int) (time.Duration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.Engine.Collection(kind)
	if seq%3 == 2 && c.Len() > 0 {
		i := (writerID + seq) % c.Len()
		switch r := c.Records[i].(type) {
		case schema.Task:
			r.Completed = !r.Completed
			c.Records[i] = r
		case schema.Todo:
			r.Status = !r.Status
			c.Records[i] = r
		}
	} else {
		title := fmt.Sprintf("writer %d edit %d", writerID, seq)
		if kind == schema.KindTask {
			c.Records = append(c.Records, schema.Task{Title: title, Order: schema.NextOrder(c)})
		} else {
			c.Records = append(c.Records, schema.Todo{Title: title})
		}
	}

	start := time.Now()
	err := h.Engine.Persist(c)
	return time.Since(start), err
}

// VerifyConvergence waits for uploads to drain, then checks that the remote
// holds exactly the engine's collection for every kind and that nothing is
// left dirty.
func (h *Harness) VerifyConvergence(ctx context.Context) error {
	h.Engine.Wait()

	if err := h.Engine.Sync(ctx); err != nil {
		return fmt.Errorf("final sync failed: %w", err)
	}
	h.Engine.Wait()

	for _, k := range schema.Kinds() {
		local := h.Engine.Collection(k)
		remote, err := cloud.Fetch(ctx, h.Remote, UserID, k)
		if err != nil {
			return fmt.Errorf("failed to fetch remote %s: %w", k, err)
		}
		if !remote.Equal(local) {
			return fmt.Errorf("%s diverged: local has %d records, remote has %d", k, local.Len(), remote.Len())
		}
		if h.Engine.Dirty(k) {
			return fmt.Errorf("%s still dirty after uploads drained", k)
		}
	}
	if s := h.Engine.Status(); s != engine.Synced {
		return fmt.Errorf("expected status synced, got %s", s)
	}
	return nil
}

// GenerateTasks creates count tasks with a deterministic spread of
// priorities, deadlines and completion.
func GenerateTasks(count int) []schema.Task {
	rng := rand.New(rand.NewSource(42))
	base := schema.NewDate(2025, time.January, 1)

	tasks := make([]schema.Task, count)
	for i := range tasks {
		t := schema.Task{
			Title:     fmt.Sprintf("Task %d", i),
			Completed: rng.Intn(4) == 0,
			Priority:  rng.Intn(5) == 0,
			Order:     i,
		}
		if rng.Intn(2) == 0 {
			t.Deadline = schema.DateOf(base.AddDate(0, 0, rng.Intn(365)))
		}
		tasks[i] = t
	}
	return tasks
}

// GenerateTodos creates count to-dos, every third one done.
func GenerateTodos(count int) []schema.Todo {
	todos := make([]schema.Todo, count)
	for i := range todos {
		todos[i] = schema.Todo{Title: fmt.Sprintf("To-do %d", i), Status: i%3 == 0}
	}
	return todos
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:        sorted[0],
		Max:        sorted[len(sorted)-1],
		Mean:       sum / time.Duration(len(durations)),
		P50:        sorted[len(sorted)*50/100],
		P95:        sorted[len(sorted)*95/100],
		P99:        sorted[len(sorted)*99/100],
		TotalEdits: len(durations),
		Durations:  sorted,
	}
}

// PrintStats writes latency statistics to w.
func (s *LatencyStats) PrintStats(w io.Writer) {
	fmt.Fprintf(w, "Persist latency:\n")
	fmt.Fprintf(w, "  Total edits:   %d\n", s.TotalEdits)
	fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	fmt.Fprintf(w, "  Min:           %v\n", s.Min)
	fmt.Fprintf(w, "  P50 (Median):  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean:          %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:           %v\n", s.P95)
	fmt.Fprintf(w, "  P99:           %v\n", s.P99)
	fmt.Fprintf(w, "  Max:           %v\n", s.Max)
}
