package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Collection is an ordered sequence of records of one kind.
type Collection struct {
	Kind    Kind
	Records []Record
}

// NewCollection builds a collection of kind k.
func NewCollection(k Kind, records ...Record) Collection {
	if records == nil {
		records = []Record{}
	}
	return Collection{Kind: k, Records: records}
}

// TaskCollection wraps tasks as a collection.
func TaskCollection(tasks ...Task) Collection {
	records := make([]Record, len(tasks))
	for i, t := range tasks {
		records[i] = t
	}
	return Collection{Kind: KindTask, Records: records}
}

// TodoCollection wraps to-dos as a collection.
func TodoCollection(todos ...Todo) Collection {
	records := make([]Record, len(todos))
	for i, t := range todos {
		records[i] = t
	}
	return Collection{Kind: KindTodo, Records: records}
}

// Len returns the number of records.
func (c Collection) Len() int {
	return len(c.Records)
}

// Clone returns an independent copy of c. Task and Todo are value types, so
// copying the slice is a deep copy.
func (c Collection) Clone() Collection {
	records := make([]Record, len(c.Records))
	copy(records, c.Records)
	return Collection{Kind: c.Kind, Records: records}
}

// Tasks returns the task records of c, skipping anything else.
func (c Collection) Tasks() []Task {
	out := make([]Task, 0, len(c.Records))
	for _, r := range c.Records {
		if t, ok := r.(Task); ok {
			out = append(out, t)
		}
	}
	return out
}

// Todos returns the to-do records of c, skipping anything else.
func (c Collection) Todos() []Todo {
	out := make([]Todo, 0, len(c.Records))
	for _, r := range c.Records {
		if t, ok := r.(Todo); ok {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports whether c and o hold the same records in the same order.
// A nil and an empty record slice compare equal.
func (c Collection) Equal(o Collection) bool {
	if c.Kind != o.Kind || len(c.Records) != len(o.Records) {
		return false
	}
	for i := range c.Records {
		if !reflect.DeepEqual(c.Records[i], o.Records[i]) {
			return false
		}
	}
	return true
}

// Validate checks every record and that each one matches the collection kind.
func (c Collection) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	for i, r := range c.Records {
		if r == nil {
			return fmt.Errorf("record %d is nil", i)
		}
		if r.Kind() != c.Kind {
			return fmt.Errorf("record %d is a %s record in a %s collection", i, r.Kind(), c.Kind)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

// MarshalJSON encodes the records as a JSON array. The kind is not encoded;
// it is implied by the file or sub-collection the array lives in.
func (c Collection) MarshalJSON() ([]byte, error) {
	if c.Records == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Records)
}

// MarshalYAML encodes the records as a YAML sequence, matching MarshalJSON.
func (c Collection) MarshalYAML() (interface{}, error) {
	if c.Records == nil {
		return []Record{}, nil
	}
	return c.Records, nil
}

// DecodeCollection parses a JSON array of records of kind k.
func DecodeCollection(k Kind, data []byte) (Collection, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Collection{}, fmt.Errorf("failed to parse %s collection: %w", k, err)
	}
	c := NewCollection(k)
	for i, item := range raw {
		r, err := DecodeRecord(k, item)
		if err != nil {
			return Collection{}, fmt.Errorf("item %d: %w", i, err)
		}
		c.Records = append(c.Records, r)
	}
	return c, nil
}

// Hash returns a hex SHA-256 of the canonical JSON encoding of c.
// Two collections with equal records hash equal.
func (c Collection) Hash() string {
	var buf bytes.Buffer
	buf.WriteString(string(c.Kind))
	buf.WriteByte('\n')
	for _, r := range c.Records {
		data, err := json.Marshal(r)
		if err != nil {
			// Records are plain structs; Marshal cannot fail for them.
			panic(fmt.Sprintf("schema: marshal %T: %v", r, err))
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// SortTasks orders task records priority-first, then by ascending Order.
// The sort is stable and leaves non-task collections untouched.
func SortTasks(c Collection) Collection {
	if c.Kind != KindTask {
		return c
	}
	out := c.Clone()
	sort.SliceStable(out.Records, func(i, j int) bool {
		a, aok := out.Records[i].(Task)
		b, bok := out.Records[j].(Task)
		if !aok || !bok {
			return false
		}
		if a.Priority != b.Priority {
			return a.Priority
		}
		return a.Order < b.Order
	})
	return out
}

// NextOrder returns the Order to assign to a newly created task: one past the
// largest Order in c, or 0 for an empty collection.
func NextOrder(c Collection) int {
	next := 0
	for _, t := range c.Tasks() {
		if t.Order >= next {
			next = t.Order + 1
		}
	}
	return next
}
