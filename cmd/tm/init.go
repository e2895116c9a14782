package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskmirror/internal/config"
	"github.com/mschirtzinger/taskmirror/internal/mirror/store"
	"github.com/mschirtzinger/taskmirror/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "system",
	Short:   "Write a default config file and create the data directory",
	Long: `Write a commented taskmirror.toml with the built-in defaults and create the
data directory that holds tasks.json and todos.json.

The file is written to --config when given, otherwise to
$TASKMIRROR_HOME/taskmirror.toml. An existing file is never overwritten.

Example usage:
  tm init
  tm init --remote docdb
  tm --config ./taskmirror.toml init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path := configFile
		if path == "" {
			path = filepath.Join(config.Home(), config.FileName)
		}

		if err := config.WriteDefault(path, cfg); err != nil {
			return err
		}
		if _, err := store.New(cfg.DataDir, logger); err != nil {
			return err
		}

		ui.Success(out, "Wrote %s", path)
		fmt.Fprintf(out, "Data directory: %s\n", cfg.DataDir)
		fmt.Fprintf(out, "Remote: %s\n", cfg.Remote.Kind)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
