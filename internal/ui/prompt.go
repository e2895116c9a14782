package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
)

// PromptChoices asks the user how to resolve each conflict, preselecting
// the suggested choice.
func PromptChoices(conflicts []engine.Conflict) (map[schema.Kind]engine.Choice, error) {
	choices := make(map[schema.Kind]engine.Choice, len(conflicts))
	values := make([]engine.Choice, len(conflicts))

	fields := make([]huh.Field, 0, len(conflicts))
	for i, c := range conflicts {
		values[i] = c.Suggested
		desc := fmt.Sprintf("Local has %d, remote has %d.", c.LocalCount, c.RemoteCount)
		if c.RemoteIncomplete {
			desc += " The remote copy was left half-written by an interrupted upload."
		}
		fields = append(fields, huh.NewSelect[engine.Choice]().
			Title(fmt.Sprintf("Resolve %s", c.Kind)).
			Description(desc).
			Options(
				huh.NewOption("Adopt remote (replace local)", engine.AdoptRemote),
				huh.NewOption("Keep local (overwrite remote)", engine.KeepLocal),
			).
			Value(&values[i]))
	}

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	for i, c := range conflicts {
		choices[c.Kind] = values[i]
	}
	return choices, nil
}

// PromptConfirm asks a yes/no question.
func PromptConfirm(title string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().Title(title).Affirmative("Yes").Negative("No").Value(&ok).Run()
	if err != nil {
		return false, fmt.Errorf("prompt cancelled: %w", err)
	}
	return ok, nil
}

var deadlineParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ParseDeadline parses a deadline as DD-MM-YYYY or as natural language
// relative to now ("tomorrow", "next friday", "in 3 days").
func ParseDeadline(s string, now time.Time) (schema.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return schema.Date{}, nil
	}
	if d, err := schema.ParseDate(s); err == nil {
		return d, nil
	}

	r, err := deadlineParser.Parse(s, now)
	if err != nil {
		return schema.Date{}, fmt.Errorf("invalid deadline %q: %w", s, err)
	}
	if r == nil {
		return schema.Date{}, fmt.Errorf("invalid deadline %q (use DD-MM-YYYY or a phrase like \"next friday\")", s)
	}
	return schema.DateOf(r.Time), nil
}
