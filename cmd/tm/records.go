package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
	"github.com/mschirtzinger/taskmirror/internal/ui"
)

var addCmd = &cobra.Command{
	Use:     "add <task|todo> <title>",
	GroupID: "lists",
	Short:   "Add a task or to-do",
	Long: `Add a record to the task list or the to-do list. The change is saved
locally at once and mirrored when the remote is reachable.

Deadlines accept DD-MM-YYYY or a phrase such as "tomorrow" or "next friday".

Example usage:
  tm add task "Write report" --deadline 24-12-2025 --priority
  tm add task "Call the bank" --deadline "next monday"
  tm add todo "Buy milk"`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		title := strings.TrimSpace(strings.Join(args[1:], " "))

		deadlineFlag, _ := cmd.Flags().GetString("deadline")
		priority, _ := cmd.Flags().GetBool("priority")
		deadline, err := ui.ParseDeadline(deadlineFlag, time.Now())
		if err != nil {
			return err
		}
		if kind == schema.KindTodo && (deadlineFlag != "" || priority) {
			return fmt.Errorf("--deadline and --priority apply to tasks only")
		}

		return mutate(cmd, kind, func(c schema.Collection) (schema.Collection, error) {
			switch kind {
			case schema.KindTask:
				t := schema.Task{Title: title, Deadline: deadline, Priority: priority, Order: schema.NextOrder(c)}
				c.Records = append(c.Records, t)
			case schema.KindTodo:
				c.Records = append(c.Records, schema.Todo{Title: title})
			}
			return c, nil
		}, fmt.Sprintf("Added %q", title))
	},
}

var listCmd = &cobra.Command{
	Use:     "list [tasks|todos]",
	Aliases: []string{"ls"},
	GroupID: "lists",
	Short:   "Show tasks and to-dos",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		kinds := schema.Kinds()
		if len(args) == 1 {
			k, err := schema.ParseKind(args[0])
			if err != nil {
				return err
			}
			kinds = []schema.Kind{k}
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if output != ui.FormatText {
			collections := make(map[schema.Kind]schema.Collection, len(kinds))
			for _, k := range kinds {
				collections[k] = a.engine.Collection(k)
			}
			return ui.Write(out, output, collections)
		}

		for i, k := range kinds {
			if i > 0 {
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, ui.FormatCollection(a.engine.Collection(k)))
		}
		return nil
	},
}

var doneCmd = &cobra.Command{
	Use:     "done <task|todo> <number>",
	Aliases: []string{"toggle"},
	GroupID: "lists",
	Short:   "Toggle a record between open and done",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, idx, err := parseRecordRef(args)
		if err != nil {
			return err
		}
		return mutate(cmd, kind, func(c schema.Collection) (schema.Collection, error) {
			if idx >= c.Len() {
				return c, fmt.Errorf("no %s number %d", kind, idx+1)
			}
			switch r := c.Records[idx].(type) {
			case schema.Task:
				r.Completed = !r.Completed
				c.Records[idx] = r
			case schema.Todo:
				r.Status = !r.Status
				c.Records[idx] = r
			}
			return c, nil
		}, fmt.Sprintf("Toggled %s %d", kind, idx+1))
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <task|todo> <number>",
	GroupID: "lists",
	Short:   "Delete a record",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, idx, err := parseRecordRef(args)
		if err != nil {
			return err
		}
		return mutate(cmd, kind, func(c schema.Collection) (schema.Collection, error) {
			if idx >= c.Len() {
				return c, fmt.Errorf("no %s number %d", kind, idx+1)
			}
			c.Records = append(c.Records[:idx], c.Records[idx+1:]...)
			return c, nil
		}, fmt.Sprintf("Deleted %s %d", kind, idx+1))
	},
}

var importCmd = &cobra.Command{
	Use:     "import <tasks|todos> <file>",
	GroupID: "lists",
	Short:   "Replace a collection with the contents of a JSON file",
	Long: `Replace the whole task or to-do collection with the records in a JSON
file laid out like tasks.json or todos.json. The file is validated before
anything is written.

Example usage:
  tm import tasks backup/tasks.json`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}
		imported, err := schema.DecodeCollection(kind, data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[1], err)
		}
		if err := imported.Validate(); err != nil {
			return fmt.Errorf("invalid %s in %s: %w", kind, args[1], err)
		}

		return mutate(cmd, kind, func(schema.Collection) (schema.Collection, error) {
			return imported, nil
		}, fmt.Sprintf("Imported %d %s", imported.Len(), kind))
	},
}

// mutate applies fn to the current collection of kind and persists the
// result. The remote is reconciled first so the edit is not mistaken for a
// conflict; while a conflict is pending the edit is saved locally only.
func mutate(cmd *cobra.Command, kind schema.Kind, fn func(schema.Collection) (schema.Collection, error), done string) error {
	ctx, out := cmd.Context(), cmd.OutOrStdout()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	conflict, err := a.sync(ctx)
	if err != nil {
		logger.Debug("sync before edit failed", "err", err)
	}

	next, err := fn(a.engine.Collection(kind))
	if err != nil {
		return err
	}
	if err := a.engine.Persist(next); err != nil {
		return err
	}
	a.settle(cfg.Probe.Timeout * 4)

	ui.Success(out, "%s", done)
	switch {
	case conflict:
		printConflicts(out, a.engine.Conflicts())
	case a.engine.Dirty(kind):
		fmt.Fprintf(out, "%s saved locally, will sync later\n", ui.FormatStatus(a.engine.Status()))
	default:
		fmt.Fprintln(out, ui.FormatStatus(a.engine.Status()))
	}
	return nil
}

func parseRecordRef(args []string) (schema.Kind, int, error) {
	kind, err := schema.ParseKind(args[0])
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return "", 0, fmt.Errorf("invalid record number %q", args[1])
	}
	return kind, n - 1, nil
}

func init() {
	addCmd.Flags().String("deadline", "", "task deadline: DD-MM-YYYY or a phrase like \"next friday\"")
	addCmd.Flags().Bool("priority", false, "mark the task as priority")

	rootCmd.AddCommand(addCmd, listCmd, doneCmd, rmCmd, importCmd)
}
