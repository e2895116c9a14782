package loadtest

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

func newTestHarness(t *testing.T, tasks, todos int) *Harness {
	t.Helper()

	h, err := NewHarness(context.Background(), t.TempDir(), tasks, todos, nil)
	if err != nil {
		t.Fatalf("Failed to create harness: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

// TestNewHarness_UploadsSeed verifies the seed lands on the remote before
// any edit runs.
func TestNewHarness_UploadsSeed(t *testing.T) {
	h := newTestHarness(t, 20, 10)

	if got := h.Engine.Collection(schema.KindTask).Len(); got != 20 {
		t.Errorf("expected 20 tasks, got %d", got)
	}
	if got := h.Engine.Collection(schema.KindTodo).Len(); got != 10 {
		t.Errorf("expected 10 todos, got %d", got)
	}
	if err := h.VerifyConvergence(context.Background()); err != nil {
		t.Errorf("seed did not converge: %v", err)
	}
}

// TestConcurrentEdits_Small verifies basic concurrent edit functionality.
func TestConcurrentEdits_Small(t *testing.T) {
	h := newTestHarness(t, 20, 10)

	// 10 writers, 6 edits each: 4 adds and 2 toggles per writer
	stats, err := h.RunConcurrentEdits(10, 6)
	if err != nil {
		t.Fatalf("Concurrent edits failed: %v", err)
	}
	if stats.Errors > 0 {
		t.Errorf("Got %d errors during edits", stats.Errors)
	}
	if stats.TotalEdits != 60 {
		t.Errorf("expected 60 total edits, got %d", stats.TotalEdits)
	}

	total := h.Engine.Collection(schema.KindTask).Len() + h.Engine.Collection(schema.KindTodo).Len()
	if total != 70 {
		t.Errorf("expected 70 records after edits, got %d", total)
	}

	if err := h.VerifyConvergence(context.Background()); err != nil {
		t.Errorf("remote did not converge: %v", err)
	}

	var buf bytes.Buffer
	stats.PrintStats(&buf)
	t.Log("\n" + buf.String())
}

// TestConcurrentEdits_OnDisk verifies the store holds the same snapshot the
// engine uploaded.
func TestConcurrentEdits_OnDisk(t *testing.T) {
	h := newTestHarness(t, 5, 5)

	if _, err := h.RunConcurrentEdits(4, 3); err != nil {
		t.Fatalf("Concurrent edits failed: %v", err)
	}
	if err := h.VerifyConvergence(context.Background()); err != nil {
		t.Fatalf("remote did not converge: %v", err)
	}

	for _, k := range schema.Kinds() {
		onDisk, err := h.Store.Read(k)
		if err != nil {
			t.Fatalf("failed to read %s: %v", k, err)
		}
		if !onDisk.Equal(h.Engine.Collection(k)) {
			t.Errorf("%s on disk differs from the engine's collection", k)
		}
	}
	if s := h.Engine.Status(); s != engine.Synced {
		t.Errorf("expected status synced, got %s", s)
	}
}

func TestGenerateTasks_Deterministic(t *testing.T) {
	a := schema.TaskCollection(GenerateTasks(50)...)
	b := schema.TaskCollection(GenerateTasks(50)...)
	if !a.Equal(b) {
		t.Error("expected identical task sets from the same seed")
	}
	if err := a.Validate(); err != nil {
		t.Errorf("generated tasks are invalid: %v", err)
	}
	if err := schema.TodoCollection(GenerateTodos(50)...).Validate(); err != nil {
		t.Errorf("generated todos are invalid: %v", err)
	}
}

func TestComputeLatencyStats(t *testing.T) {
	tests := []struct {
		name      string
		durations []time.Duration
		wantMin   time.Duration
		wantMax   time.Duration
		wantMean  time.Duration
		wantP50   time.Duration
	}{
		{
			name:      "empty",
			durations: nil,
		},
		{
			name:      "single",
			durations: []time.Duration{5 * time.Millisecond},
			wantMin:   5 * time.Millisecond,
			wantMax:   5 * time.Millisecond,
			wantMean:  5 * time.Millisecond,
			wantP50:   5 * time.Millisecond,
		},
		{
			name: "unsorted",
			durations: []time.Duration{
				4 * time.Millisecond,
				1 * time.Millisecond,
				3 * time.Millisecond,
				2 * time.Millisecond,
			},
			wantMin:  1 * time.Millisecond,
			wantMax:  4 * time.Millisecond,
			wantMean: 2500 * time.Microsecond,
			wantP50:  3 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := computeLatencyStats(tt.durations)
			if s.Min != tt.wantMin {
				t.Errorf("expected min %v, got %v", tt.wantMin, s.Min)
			}
			if s.Max != tt.wantMax {
				t.Errorf("expected max %v, got %v", tt.wantMax, s.Max)
			}
			if s.Mean != tt.wantMean {
				t.Errorf("expected mean %v, got %v", tt.wantMean, s.Mean)
			}
			if s.P50 != tt.wantP50 {
				t.Errorf("expected p50 %v, got %v", tt.wantP50, s.P50)
			}
			if s.TotalEdits != len(tt.durations) {
				t.Errorf("expected %d edits, got %d", len(tt.durations), s.TotalEdits)
			}
		})
	}
}

func TestPrintStats(t *testing.T) {
	s := computeLatencyStats([]time.Duration{time.Millisecond})
	var buf bytes.Buffer
	s.PrintStats(&buf)

	for _, want := range []string{"Total edits:   1", "P99:", "Max:"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, buf.String())
		}
	}
}
