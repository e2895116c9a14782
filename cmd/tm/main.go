// Command tm keeps a local task list and to-do list mirrored to a cloud
// document store.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskmirror/internal/config"
	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/ui"
)

var version = "dev"

var (
	configFile string
	outputFlag string

	cfg       *config.Config
	logger    *log.Logger
	logCloser io.Closer
	output    ui.Format
)

var rootCmd = &cobra.Command{
	Use:   "tm",
	Short: "Local-first task and to-do lists mirrored to the cloud",
	Long: `tm keeps two local collections, tasks and to-dos, as JSON files and mirrors
every change to a remote document store in the background.

Edits are always saved locally first. When the remote is reachable the whole
collection is uploaded; when it is not, the change waits until connectivity
returns. If local and remote disagree at startup, tm asks which side wins.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		output, err = ui.ParseFormat(outputFlag)
		if err != nil {
			return err
		}

		cfg, err = loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, logCloser, err = logging.New(logging.Options{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "lists", Title: "List Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: $TASKMIRROR_HOME/"+config.FileName+")")
	flags.StringVarP(&outputFlag, "output", "o", "text", "output format: text, json or yaml")
	flags.String("data-dir", "", "directory holding tasks.json and todos.json")
	flags.String("user", "", "remote user id")
	flags.String("remote", "", "remote kind: none, docdb, http or googletasks")
	flags.String("log-level", "", "log level: debug, info, warn or error")
}

// flagKeys maps config keys to the flags that override them. A flag only
// takes effect on commands that define or inherit it.
var flagKeys = map[string]string{
	"data_dir":       "data-dir",
	"user_id":        "user",
	"remote.kind":    "remote",
	"log.level":      "log-level",
	"dashboard.port": "dashboard-port",
}

// loadConfig builds a fresh viper instance, binds cmd's flags to it and
// loads the config file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.NewViper()
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}
	return config.Load(v, configFile)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		ui.Error(os.Stderr, "%v", err)
		os.Exit(1)
	}
}
