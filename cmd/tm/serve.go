package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/docdb"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/docserver"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Serve a document database over HTTP for other tm instances",
	Long: `Expose a SQLite document database as the HTTP remote used by
remote.kind = "http". Several machines can then mirror to one database.

Routes:
  GET    /healthz
  GET    /v1/users/{uid}/{kind}
  POST   /v1/users/{uid}/{kind}
  DELETE /v1/users/{uid}/{kind}/{id}
  GET    /v1/users/{uid}/manifests/{kind}
  PUT    /v1/users/{uid}/manifests/{kind}

When --token (or remote.token) is set, every /v1 request must carry it as
a bearer token.

Example usage:
  tm serve --addr 0.0.0.0:8765 --db ~/taskmirror/remote.db --token secret`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		addr, _ := cmd.Flags().GetString("addr")
		dbPath, _ := cmd.Flags().GetString("db")
		token, _ := cmd.Flags().GetString("token")
		if dbPath == "" {
			dbPath = cfg.Remote.DSN
		}
		if token == "" {
			token = cfg.Remote.Token
		}

		db, err := docdb.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()

		server, err := docserver.NewServer(db, &docserver.Config{
			Addr:   addr,
			Token:  token,
			Logger: logging.Component(logger, "serve"),
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}

		fmt.Fprintf(out, "Serving %s on http://%s\n", dbPath, server.Addr())
		if token == "" {
			fmt.Fprintln(out, "Warning: no token set, any client can read and write")
		}
		fmt.Fprintln(out, "Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down...")
		return server.Stop()
	},
}

func init() {
	serveCmd.Flags().String("addr", docserver.DefaultConfig().Addr, "address to listen on")
	serveCmd.Flags().String("db", "", "SQLite document database (default: remote.dsn)")
	serveCmd.Flags().String("token", "", "bearer token clients must present (default: remote.token)")

	rootCmd.AddCommand(serveCmd)
}
