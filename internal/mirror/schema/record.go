package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind names a record collection. The value doubles as the remote
// sub-collection name and the local file stem.
type Kind string

const (
	// KindTask is the task collection (tasks.json, users/{uid}/tasks).
	KindTask Kind = "tasks"
	// KindTodo is the to-do collection (todos.json, users/{uid}/todos).
	KindTodo Kind = "todos"
)

// Kinds returns every known kind in a fixed order.
func Kinds() []Kind {
	return []Kind{KindTask, KindTodo}
}

// ParseKind accepts singular and plural spellings ("task", "tasks", "todo",
// "todos", "to-do").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "task", "tasks":
		return KindTask, nil
	case "todo", "todos", "to-do", "to-dos":
		return KindTodo, nil
	default:
		return "", fmt.Errorf("unknown kind %q (want tasks or todos)", s)
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// Filename returns the local file name for this kind: {kind}.json
func (k Kind) Filename() string {
	return string(k) + ".json"
}

// Valid reports whether k is one of Kinds().
func (k Kind) Valid() bool {
	return k == KindTask || k == KindTodo
}

// Record is a single collection item.
type Record interface {
	Kind() Kind
	Validate() error
}

// DateLayout is the day-month-year layout used for task deadlines.
const DateLayout = "02-01-2006"

// Date is a calendar day serialized as dd-mm-yyyy.
// The zero Date serializes as an empty string.
type Date struct {
	time.Time
}

// NewDate returns the Date for the given day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a dd-mm-yyyy string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q (use DD-MM-YYYY): %w", s, err)
	}
	return Date{t}, nil
}

// String formats the date as dd-mm-yyyy.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalJSON implements json.Marshaler.
func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// MarshalText implements encoding.TextMarshaler. It shadows the embedded
// time.Time method so text encoders such as YAML also write dd-mm-yyyy.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("deadline must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Task is an item in the tasks collection.
type Task struct {
	Title     string `json:"title"`
	Deadline  Date   `json:"deadline"`
	Completed bool   `json:"completed"`
	Priority  bool   `json:"priority"`

	// Order is the creation index. It is assigned once and never renumbered.
	Order int `json:"order"`
}

// Kind implements Record.
func (Task) Kind() Kind { return KindTask }

// Validate checks if the Task has valid field values.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if t.Order < 0 {
		return fmt.Errorf("order must be non-negative (got %d)", t.Order)
	}
	return nil
}

// Todo is an item in the to-do collection.
type Todo struct {
	Title  string `json:"title"`
	Status bool   `json:"status"`
}

// Kind implements Record.
func (Todo) Kind() Kind { return KindTodo }

// Validate checks if the Todo has valid field values.
func (t Todo) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

// DecodeRecord parses a single JSON object as a record of kind k.
func DecodeRecord(k Kind, data []byte) (Record, error) {
	switch k {
	case KindTask:
		var t Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to parse task: %w", err)
		}
		return t, nil
	case KindTodo:
		var t Todo
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to parse todo: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown kind %q", k)
	}
}
