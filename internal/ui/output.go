// Package ui provides styled terminal output, machine-readable output
// formats and interactive prompts for the tm command.
package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	priorityStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	doneStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("242")).Strikethrough(true)
	statusStyles  = map[engine.Status]lipgloss.Style{
		engine.Offline: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		engine.Syncing: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		engine.Synced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	}
)

// Format selects how command results are printed.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses an --output value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Interactive reports whether both stdin and stdout are terminals, so a
// prompt can be shown.
func Interactive() bool {
	return IsTerminal(os.Stdin) && IsTerminal(os.Stdout)
}

// Success prints a success message
func Success(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, errorStyle.Render("ERROR: "+fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintln(w, warningStyle.Render("Warning: "+fmt.Sprintf(format, args...)))
}

// Write prints v as JSON or YAML. Text output is the caller's job.
func Write(w io.Writer, f Format, v interface{}) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not structured", f)
	}
}

// FormatStatus renders the cloud status badge.
func FormatStatus(s engine.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return s.String()
	}
	return style.Render(fmt.Sprintf("[%s]", s))
}

// FormatTask formats one task line: index, checkbox, title, deadline and
// priority marker.
func FormatTask(i int, t schema.Task) string {
	title := titleStyle.Render(t.Title)
	box := "[ ]"
	if t.Completed {
		title = doneStyle.Render(t.Title)
		box = "[x]"
	}

	parts := []string{subtleStyle.Render(fmt.Sprintf("%3d", i+1)), box, title}
	if !t.Deadline.IsZero() {
		parts = append(parts, subtleStyle.Render("due "+t.Deadline.String()))
	}
	if t.Priority {
		parts = append(parts, priorityStyle.Render("[priority]"))
	}
	return strings.Join(parts, " ")
}

// FormatTodo formats one to-do line.
func FormatTodo(i int, t schema.Todo) string {
	title := titleStyle.Render(t.Title)
	box := "[ ]"
	if t.Status {
		title = doneStyle.Render(t.Title)
		box = "[x]"
	}
	return strings.Join([]string{subtleStyle.Render(fmt.Sprintf("%3d", i+1)), box, title}, " ")
}

// FormatCollection formats every record in c, one per line.
func FormatCollection(c schema.Collection) string {
	if c.Len() == 0 {
		return subtleStyle.Render(fmt.Sprintf("no %s", c.Kind))
	}
	lines := make([]string, 0, c.Len())
	for i, r := range c.Records {
		switch rec := r.(type) {
		case schema.Task:
			lines = append(lines, FormatTask(i, rec))
		case schema.Todo:
			lines = append(lines, FormatTodo(i, rec))
		}
	}
	return strings.Join(lines, "\n")
}

// FormatConflict formats one conflicting kind with its suggestion.
func FormatConflict(c engine.Conflict) string {
	note := ""
	if c.RemoteIncomplete {
		note = warningStyle.Render(" (remote incomplete)")
	}
	return fmt.Sprintf("%s: local %d, remote %d%s, suggested %s",
		titleStyle.Render(c.Kind.String()), c.LocalCount, c.RemoteCount, note, c.Suggested)
}
