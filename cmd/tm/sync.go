package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/schema"
	"github.com/mschirtzinger/taskmirror/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Probe the remote, reconcile, and upload pending changes once",
	Long: `Run a single sync step in the foreground:
  1. Probe the remote
  2. Compare local and remote record counts for tasks and to-dos
  3. Upload every collection that agrees with the remote

If the counts disagree, nothing is uploaded; run "tm resolve" to pick a side.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conflict, err := a.sync(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		a.settle(cfg.Probe.Timeout * 4)

		if output != ui.FormatText {
			return ui.Write(out, output, newStatusReport(a))
		}
		if conflict {
			printConflicts(out, a.engine.Conflicts())
			return nil
		}
		fmt.Fprintln(out, ui.FormatStatus(a.engine.Status()))
		return nil
	},
}

// statusReport is the structured form of `tm status`.
type statusReport struct {
	Status      engine.Status     `json:"status" yaml:"status"`
	Online      bool              `json:"online" yaml:"online"`
	Remote      string            `json:"remote" yaml:"remote"`
	User        string            `json:"user" yaml:"user"`
	DataDir     string            `json:"data_dir" yaml:"data_dir"`
	Collections []collectionState `json:"collections" yaml:"collections"`
	Conflicts   []engine.Conflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
}

type collectionState struct {
	Kind    schema.Kind `json:"kind" yaml:"kind"`
	Records int         `json:"records" yaml:"records"`
	Dirty   bool        `json:"dirty" yaml:"dirty"`
}

func newStatusReport(a *app) statusReport {
	r := statusReport{
		Status:    a.engine.Status(),
		Online:    a.engine.Online(),
		Remote:    cfg.Remote.Kind,
		User:      cfg.UserID,
		DataDir:   cfg.DataDir,
		Conflicts: a.engine.Conflicts(),
	}
	for _, k := range schema.Kinds() {
		r.Collections = append(r.Collections, collectionState{
			Kind:    k,
			Records: a.engine.Collection(k).Len(),
			Dirty:   a.engine.Dirty(k),
		})
	}
	return r
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show cloud status and collection sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.sync(ctx); err != nil {
			logger.Debug("status probe failed", "err", err)
		}
		a.settle(cfg.Probe.Timeout * 4)

		r := newStatusReport(a)
		if output != ui.FormatText {
			return ui.Write(out, output, r)
		}

		fmt.Fprintf(out, "%s remote=%s user=%s\n", ui.FormatStatus(r.Status), r.Remote, r.User)
		for _, c := range r.Collections {
			dirty := ""
			if c.Dirty {
				dirty = " (unsynced changes)"
			}
			fmt.Fprintf(out, "  %-6s %d records%s\n", c.Kind, c.Records, dirty)
		}
		if len(r.Conflicts) > 0 {
			fmt.Fprintln(out)
			printConflicts(out, r.Conflicts)
		}
		return nil
	},
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	GroupID: "sync",
	Short:   "List collections whose local and remote counts disagree",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if _, err := a.sync(ctx); err != nil {
			return fmt.Errorf("failed to reach remote: %w", err)
		}
		if !a.engine.Online() {
			return fmt.Errorf("remote %s is unreachable", cfg.Remote.Kind)
		}
		conflicts := a.engine.Conflicts()

		if output != ui.FormatText {
			if conflicts == nil {
				conflicts = []engine.Conflict{}
			}
			return ui.Write(out, output, conflicts)
		}
		if len(conflicts) == 0 {
			ui.Success(out, "No conflicts")
			return nil
		}
		printConflicts(out, conflicts)
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:     "resolve",
	GroupID: "sync",
	Short:   "Pick a side for each conflicting collection",
	Long: `Resolve a startup conflict by choosing, per collection, which copy wins:

  remote  replace the local file with the remote collection
  local   keep the local file and overwrite the remote with it

Without flags, tm prompts for each conflicting collection (suggested choice
preselected) when run in a terminal, and uses the suggestions otherwise
only if --accept-suggested is given.

Example usage:
  tm resolve
  tm resolve --tasks local --todos remote
  tm resolve --accept-suggested`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		conflict, err := a.sync(ctx)
		if err != nil {
			return fmt.Errorf("failed to reach remote: %w", err)
		}
		if !a.engine.Online() {
			return fmt.Errorf("remote %s is unreachable", cfg.Remote.Kind)
		}
		if !conflict {
			ui.Success(out, "No conflicts")
			return nil
		}

		choices, err := resolveChoices(cmd, a.engine.Conflicts())
		if err != nil {
			return err
		}
		if err := a.engine.Resolve(ctx, choices); err != nil {
			return err
		}
		a.settle(cfg.Probe.Timeout * 4)

		for _, k := range schema.Kinds() {
			if c, ok := choices[k]; ok {
				ui.Success(out, "%s: %s", k, c)
			}
		}
		fmt.Fprintln(out, ui.FormatStatus(a.engine.Status()))
		return nil
	},
}

// resolveChoices collects one choice per conflict from flags, the
// suggestions, or an interactive prompt, in that order.
func resolveChoices(cmd *cobra.Command, conflicts []engine.Conflict) (map[schema.Kind]engine.Choice, error) {
	choices := make(map[schema.Kind]engine.Choice, len(conflicts))
	acceptSuggested, _ := cmd.Flags().GetBool("accept-suggested")

	missing := false
	for _, c := range conflicts {
		flag := "tasks"
		if c.Kind == schema.KindTodo {
			flag = "todos"
		}
		if s, _ := cmd.Flags().GetString(flag); s != "" {
			choice, err := engine.ParseChoice(s)
			if err != nil {
				return nil, err
			}
			choices[c.Kind] = choice
			continue
		}
		if acceptSuggested {
			choices[c.Kind] = c.Suggested
			continue
		}
		missing = true
	}
	if !missing {
		return choices, nil
	}

	if !ui.Interactive() {
		return nil, fmt.Errorf("no choice given; pass --tasks/--todos or --accept-suggested")
	}
	prompted, err := ui.PromptChoices(conflicts)
	if err != nil {
		return nil, err
	}
	for k, c := range prompted {
		if _, ok := choices[k]; !ok {
			choices[k] = c
		}
	}
	return choices, nil
}

func printConflicts(out io.Writer, conflicts []engine.Conflict) {
	ui.Warning(out, "local and remote disagree; run \"tm resolve\"")
	for _, c := range conflicts {
		fmt.Fprintln(out, "  " + ui.FormatConflict(c))
	}
}

func init() {
	resolveCmd.Flags().String("tasks", "", "choice for tasks: local or remote")
	resolveCmd.Flags().String("todos", "", "choice for to-dos: local or remote")
	resolveCmd.Flags().Bool("accept-suggested", false, "use the suggested choice for every conflict")

	rootCmd.AddCommand(syncCmd, statusCmd, conflictsCmd, resolveCmd)
}

