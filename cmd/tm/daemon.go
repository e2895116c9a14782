package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/daemon"
	"github.com/mschirtzinger/taskmirror/internal/mirror/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync loop",
	Long: `Run the sync engine until interrupted.

The daemon:
  1. Probes the remote every probe.interval and on network link changes
  2. Reconciles local and remote collections on the first successful probe
  3. Uploads every saved change while the remote is reachable
  4. Watches tasks.json and todos.json and mirrors edits made by other tools

When dashboard.port is set, status and conflict changes are streamed to
WebSocket clients at ws://localhost:<port>/ws.

Example usage:
  tm daemon
  tm daemon --dashboard-port 8766`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := daemon.NewWithConfig(a.engine, a.store, &daemon.Config{
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			Logger:           logging.Component(logger, "daemon"),
		})
		if err != nil {
			return fmt.Errorf("failed to create daemon: %w", err)
		}

		if cfg.Dashboard.Port > 0 {
			server := dashboard.NewServer(&dashboard.Config{
				Host:   "127.0.0.1",
				Port:   cfg.Dashboard.Port,
				Logger: logging.Component(logger, "dashboard"),
			})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()

			d.SetDashboard(dashboard.NewHandler(server, a.engine, logging.Component(logger, "dashboard")))
			fmt.Fprintf(out, "Dashboard: ws://%s/ws\n", server.GetAddr())
		}

		fmt.Fprintf(out, "Syncing %s as %s (remote: %s)\n", cfg.DataDir, cfg.UserID, cfg.Remote.Kind)
		fmt.Fprintln(out, "Press Ctrl+C to stop...")

		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Int("dashboard-port", 0, "serve the WebSocket dashboard on this port (0 = use config)")

	rootCmd.AddCommand(daemonCmd)
}

