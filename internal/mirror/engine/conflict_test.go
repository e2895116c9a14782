package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
	"github.com/mschirtzinger/taskmirror/internal/testutil"
)

// setupConflict prepares local tasks=3, todos=2 and remote tasks=5, todos=2,
// then syncs into the pending conflict.
func setupConflict(t *testing.T) (*Engine, *testutil.FakeCloud, schema.Collection, schema.Collection) {
	t.Helper()

	remote := testutil.NewFakeCloud()
	e, st, _ := setupTestEngine(t, remote)

	localTasks := numberedTasks("local", 3)
	remoteTasks := numberedTasks("remote", 5)
	todos := todoList("a", "b")

	if err := st.Save(localTasks); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := st.Save(todos); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	remote.Seed(testUser, remoteTasks)
	remote.Seed(testUser, todos)
	e.Load()

	if err := e.Sync(context.Background()); !errors.Is(err, ErrConflictPending) {
		t.Fatalf("expected ErrConflictPending, got %v", err)
	}
	return e, remote, localTasks, remoteTasks
}

func TestSuggest(t *testing.T) {
	tests := []struct {
		name       string
		local      int
		remote     int
		incomplete bool
		want       Choice
	}{
		{name: "remote larger", local: 3, remote: 5, want: AdoptRemote},
		{name: "local larger", local: 5, remote: 3, want: KeepLocal},
		{name: "tie favours remote", local: 4, remote: 4, want: AdoptRemote},
		{name: "incomplete remote never suggested", local: 1, remote: 5, incomplete: true, want: KeepLocal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Suggest(tt.local, tt.remote, tt.incomplete); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		in      string
		want    Choice
		wantErr bool
	}{
		{in: "local", want: KeepLocal},
		{in: "Keep-Local", want: KeepLocal},
		{in: "remote", want: AdoptRemote},
		{in: "adopt-remote", want: AdoptRemote},
		{in: "both", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChoice(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidChoice) {
					t.Errorf("expected ErrInvalidChoice, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChoice failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestReconcile_ConflictOnTasksOnly(t *testing.T) {
	remote := testutil.NewFakeCloud()
	e, st, _ := setupTestEngine(t, remote)

	if err := st.Save(numberedTasks("local", 3)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := st.Save(todoList("a", "b")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	remote.Seed(testUser, numberedTasks("remote", 5))
	remote.Seed(testUser, todoList("c", "d"))
	e.Load()

	if !e.monitor.Probe(context.Background()) {
		t.Fatal("probe should succeed")
	}
	rec, err := e.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if !rec.HasConflict() {
		t.Fatal("expected a conflict")
	}
	for _, k := range rec.Kinds {
		switch k.Kind {
		case schema.KindTask:
			if !k.InConflict || k.LocalCount != 3 || k.RemoteCount != 5 {
				t.Errorf("unexpected task report %+v", k)
			}
			if k.Suggested != AdoptRemote {
				t.Errorf("expected adopt-remote suggested for tasks, got %s", k.Suggested)
			}
		case schema.KindTodo:
			if k.InConflict {
				t.Errorf("todos agree and must not conflict: %+v", k)
			}
		}
	}

	conflicts := e.Conflicts()
	if len(conflicts) != 1 || conflicts[0].Kind != schema.KindTask {
		t.Fatalf("expected exactly one task conflict, got %+v", conflicts)
	}
	if !e.InConflict() {
		t.Error("engine should report a pending conflict")
	}
}

func TestReconcile_AgreementSyncs(t *testing.T) {
	remote := testutil.NewFakeCloud()
	e, st, _ := setupTestEngine(t, remote)

	if err := st.Save(todoList("a", "b")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	remote.Seed(testUser, todoList("x", "y"))
	e.Load()

	if err := e.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	e.Wait()

	if e.Status() != Synced {
		t.Errorf("expected synced, got %s", e.Status())
	}
	if e.InConflict() {
		t.Error("equal counts must not conflict")
	}
	// Count comparison only: different content of equal size is left alone.
	if n := remote.CountCalls("add"); n != 0 {
		t.Errorf("expected no upload, got %d adds", n)
	}
}

func TestConflict_BlocksUploads(t *testing.T) {
	e, remote, _, _ := setupConflict(t)
	remote.ResetCalls()

	if err := e.Persist(todoList("a", "b", "c")); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if err := e.Sync(context.Background()); !errors.Is(err, ErrConflictPending) {
		t.Fatalf("expected conflict to stay pending, got %v", err)
	}
	e.Wait()

	if n := remote.CountCalls("add") + remote.CountCalls("delete"); n != 0 {
		t.Errorf("expected no writes while in conflict, got %d", n)
	}
	if !e.Dirty(schema.KindTodo) {
		t.Error("Persist during conflict should still mark dirty")
	}
}

func TestResolve_KeepLocal(t *testing.T) {
	e, remote, localTasks, _ := setupConflict(t)

	atResolution := e.Collection(schema.KindTask)
	if err := e.Resolve(context.Background(), map[schema.Kind]Choice{schema.KindTask: KeepLocal}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	e.Wait()

	got := remote.Records(testUser, schema.KindTask)
	if got.Len() != atResolution.Len() || !got.Equal(atResolution) {
		t.Errorf("remote should equal local at resolution: got %d records, want %d", got.Len(), atResolution.Len())
	}
	if !e.Collection(schema.KindTask).Equal(localTasks) {
		t.Error("keep-local must not change the local collection")
	}
	if e.InConflict() {
		t.Error("conflict should be cleared")
	}
	if e.Status() != Synced {
		t.Errorf("expected synced, got %s", e.Status())
	}
}

func TestResolve_AdoptRemote(t *testing.T) {
	e, remote, _, remoteTasks := setupConflict(t)
	remote.ResetCalls()

	var cleared []Conflict
	gotNotice := false
	e.SubscribeConflicts(func(c []Conflict) {
		gotNotice = true
		cleared = c
	})

	if err := e.Resolve(context.Background(), map[schema.Kind]Choice{schema.KindTask: AdoptRemote}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	e.Wait()

	if !e.Collection(schema.KindTask).Equal(remoteTasks) {
		t.Error("local collection should be replaced with the remote snapshot")
	}
	if got := e.store.Load(schema.KindTask); got.Len() != remoteTasks.Len() {
		t.Errorf("adopted collection should be written to disk, got %d records", got.Len())
	}
	if e.Dirty(schema.KindTask) {
		t.Error("adopted kind should be clean")
	}
	if n := remote.CountCalls("add"); n != 0 {
		t.Errorf("adopt-remote should not upload, got %d adds", n)
	}
	if e.Status() != Synced {
		t.Errorf("expected synced, got %s", e.Status())
	}
	if !gotNotice || len(cleared) != 0 {
		t.Errorf("expected an empty conflict notification, got %v (delivered=%v)", cleared, gotNotice)
	}
}

func TestResolve_Errors(t *testing.T) {
	t.Run("no conflict", func(t *testing.T) {
		e, _, _ := setupTestEngine(t, testutil.NewFakeCloud())
		if err := e.Resolve(context.Background(), nil); !errors.Is(err, ErrNoConflict) {
			t.Errorf("expected ErrNoConflict, got %v", err)
		}
	})

	t.Run("missing choice", func(t *testing.T) {
		e, _, _, _ := setupConflict(t)
		if err := e.Resolve(context.Background(), map[schema.Kind]Choice{}); !errors.Is(err, ErrInvalidChoice) {
			t.Errorf("expected ErrInvalidChoice, got %v", err)
		}
		if !e.InConflict() {
			t.Error("failed Resolve must leave the conflict pending")
		}
	})

	t.Run("kind not in conflict", func(t *testing.T) {
		e, _, _, _ := setupConflict(t)
		choices := map[schema.Kind]Choice{schema.KindTask: KeepLocal, schema.KindTodo: KeepLocal}
		if err := e.Resolve(context.Background(), choices); !errors.Is(err, ErrInvalidChoice) {
			t.Errorf("expected ErrInvalidChoice, got %v", err)
		}
	})
}

func TestReconcile_IncompleteRemote(t *testing.T) {
	t.Run("equal counts re-upload local", func(t *testing.T) {
		remote := testutil.NewFakeCloud()
		e, st, _ := setupTestEngine(t, remote)

		local := numberedTasks("local", 2)
		if err := st.Save(local); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		remote.Seed(testUser, numberedTasks("half", 2))
		remote.SeedManifest(testUser, schema.KindTask, cloud.Manifest{Complete: false, Generation: 7, UpdatedAt: time.Now()})
		e.Load()

		if err := e.Sync(context.Background()); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		e.Wait()

		if got := remote.Records(testUser, schema.KindTask); !got.Equal(local) {
			t.Errorf("expected local re-uploaded over incomplete remote")
		}
		if m, _ := remote.StoredManifest(testUser, schema.KindTask); !m.Complete {
			t.Error("expected manifest complete after re-upload")
		}
	})

	t.Run("mismatch suggests keep local", func(t *testing.T) {
		remote := testutil.NewFakeCloud()
		e, st, _ := setupTestEngine(t, remote)

		if err := st.Save(numberedTasks("local", 2)); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		remote.Seed(testUser, numberedTasks("half", 4))
		remote.SeedManifest(testUser, schema.KindTask, cloud.Manifest{Complete: true, Count: 6})
		e.Load()

		if err := e.Sync(context.Background()); !errors.Is(err, ErrConflictPending) {
			t.Fatalf("expected ErrConflictPending, got %v", err)
		}

		conflicts := e.Conflicts()
		if len(conflicts) != 1 {
			t.Fatalf("expected one conflict, got %+v", conflicts)
		}
		if !conflicts[0].RemoteIncomplete || conflicts[0].Suggested != KeepLocal {
			t.Errorf("expected incomplete remote with keep-local suggested, got %+v", conflicts[0])
		}
	})
}

func TestReconcile_RemoteFailureGoesOffline(t *testing.T) {
	remote := testutil.NewFakeCloud()
	remote.ListErr = cloud.ErrUnavailable
	e, _, _ := setupTestEngine(t, remote)
	e.Load()

	if err := e.Sync(context.Background()); !errors.Is(err, cloud.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if e.Status() != Offline {
		t.Errorf("expected offline, got %s", e.Status())
	}

	// Not reconciled, so local edits wait for the next probe.
	if err := e.Persist(todoList("x")); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	e.Wait()
	if n := remote.CountCalls("add"); n != 0 {
		t.Errorf("expected no upload before reconciliation, got %d adds", n)
	}
}
