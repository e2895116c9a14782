package schema

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleTasks() Collection {
	return TaskCollection(
		Task{Title: "Read chapter 4", Deadline: NewDate(2026, time.January, 10), Order: 0},
		Task{Title: "Math assignment", Deadline: NewDate(2026, time.February, 2), Priority: true, Order: 1},
		Task{Title: "Lab report", Deadline: NewDate(2026, time.January, 20), Completed: true, Order: 2},
	)
}

func TestCollection_JSONRoundTrip(t *testing.T) {
	for _, c := range []Collection{
		sampleTasks(),
		TodoCollection(Todo{Title: "Buy milk"}, Todo{Title: "Call mom", Status: true}),
		NewCollection(KindTodo),
	} {
		data, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("failed to marshal %s: %v", c.Kind, err)
		}

		decoded, err := DecodeCollection(c.Kind, data)
		if err != nil {
			t.Fatalf("failed to decode %s: %v", c.Kind, err)
		}
		if !decoded.Equal(c) {
			t.Errorf("%s round trip mismatch:\n got %+v\nwant %+v", c.Kind, decoded.Records, c.Records)
		}
	}
}

func TestCollection_CloneIsIndependent(t *testing.T) {
	orig := sampleTasks()
	snap := orig.Clone()

	orig.Records[0] = Task{Title: "changed", Order: 9}
	orig.Records = append(orig.Records, Task{Title: "new", Order: 10})

	if snap.Len() != 3 {
		t.Fatalf("expected snapshot length 3, got %d", snap.Len())
	}
	if snap.Tasks()[0].Title != "Read chapter 4" {
		t.Errorf("snapshot was modified through original: %+v", snap.Records[0])
	}
}

func TestCollection_Validate(t *testing.T) {
	if err := sampleTasks().Validate(); err != nil {
		t.Errorf("expected valid collection, got %v", err)
	}

	mixed := NewCollection(KindTask, Task{Title: "a"}, Todo{Title: "b"})
	if err := mixed.Validate(); err == nil {
		t.Error("expected error for mixed-kind collection")
	}

	bad := TodoCollection(Todo{Title: ""})
	if err := bad.Validate(); err == nil {
		t.Error("expected error for invalid record")
	}
}

func TestCollection_Hash(t *testing.T) {
	a := sampleTasks()
	b := sampleTasks()
	if a.Hash() != b.Hash() {
		t.Error("equal collections must hash equal")
	}

	b.Records[2] = Task{Title: "Lab report", Deadline: NewDate(2026, time.January, 20), Order: 2}
	if a.Hash() == b.Hash() {
		t.Error("different collections should hash differently")
	}

	if NewCollection(KindTask).Hash() == NewCollection(KindTodo).Hash() {
		t.Error("empty collections of different kinds should hash differently")
	}
}

func TestSortTasks(t *testing.T) {
	sorted := SortTasks(sampleTasks())
	got := sorted.Tasks()

	wantTitles := []string{"Math assignment", "Read chapter 4", "Lab report"}
	for i, want := range wantTitles {
		if got[i].Title != want {
			t.Errorf("position %d: expected %q, got %q", i, want, got[i].Title)
		}
	}

	todos := TodoCollection(Todo{Title: "b"}, Todo{Title: "a"})
	if !SortTasks(todos).Equal(todos) {
		t.Error("SortTasks must not reorder to-dos")
	}
}

func TestNextOrder(t *testing.T) {
	if got := NextOrder(NewCollection(KindTask)); got != 0 {
		t.Errorf("expected 0 for empty collection, got %d", got)
	}

	c := TaskCollection(Task{Title: "a", Order: 0}, Task{Title: "c", Order: 5})
	if got := NextOrder(c); got != 6 {
		t.Errorf("expected 6, got %d", got)
	}
}
