package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/taskmirror/internal/config"
	"github.com/mschirtzinger/taskmirror/internal/logging"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/docdb"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/googletasks"
	"github.com/mschirtzinger/taskmirror/internal/mirror/cloud/httpstore"
	"github.com/mschirtzinger/taskmirror/internal/mirror/connectivity"
	"github.com/mschirtzinger/taskmirror/internal/mirror/engine"
	"github.com/mschirtzinger/taskmirror/internal/mirror/store"
)

// app is the wiring shared by every command that touches the collections.
type app struct {
	store   *store.Store
	engine  *engine.Engine
	monitor *connectivity.Monitor
}

// openApp builds the store, remote, monitor and engine from cfg and loads
// both collections. Callers must Close the app.
func openApp(ctx context.Context) (*app, error) {
	st, err := store.New(cfg.DataDir, logging.Component(logger, "store"))
	if err != nil {
		return nil, err
	}

	remote, err := openRemote(ctx, cfg)
	if err != nil {
		// A broken remote never blocks local work.
		logger.Warn("remote unavailable, running offline", "kind", cfg.Remote.Kind, "err", err)
		remote = nil
	}

	// A nil remote converts to a nil Prober, so the monitor stays offline.
	monConfig := &connectivity.Config{
		Timeout:      cfg.Probe.Timeout,
		PollInterval: connectivity.DefaultConfig().PollInterval,
		Logger:       logging.Component(logger, "connectivity"),
	}
	mon := connectivity.New(remote, monConfig)

	eng, err := engine.NewWithConfig(st, remote, mon, &engine.Config{
		UserID:        cfg.UserID,
		ProbeInterval: cfg.Probe.Interval,
		OpTimeout:     cfg.Probe.Timeout * 2,
		Logger:        logging.Component(logger, "sync"),
	})
	if err != nil {
		if remote != nil {
			_ = remote.Close()
		}
		return nil, err
	}
	eng.Load()

	return &app{store: st, engine: eng, monitor: mon}, nil
}

// openRemote returns the configured cloud store, or nil when none is
// configured.
func openRemote(ctx context.Context, cfg *config.Config) (cloud.Store, error) {
	if !cfg.RemoteConfigured() {
		if cfg.Remote.Kind != config.RemoteNone {
			logger.Warn("remote is not fully configured, running offline", "kind", cfg.Remote.Kind)
		}
		return nil, nil
	}

	switch cfg.Remote.Kind {
	case config.RemoteDocDB:
		return docdb.Open(cfg.Remote.DSN)
	case config.RemoteHTTP:
		hc := httpstore.DefaultConfig()
		hc.BaseURL = cfg.Remote.URL
		hc.Token = cfg.Remote.Token
		hc.RateLimit = cfg.Remote.RateLimit
		return httpstore.New(hc)
	case config.RemoteGoogleTasks:
		return googletasks.New(ctx, cfg.Remote.CredentialsFile, cfg.Remote.TokenFile)
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Remote.Kind)
	}
}

// sync runs one probe and reconciliation step before a command reads or
// changes anything, so local edits are compared against the remote first.
// A pending conflict is reported, not returned.
func (a *app) sync(ctx context.Context) (conflict bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Probe.Timeout*4)
	defer cancel()

	err = a.engine.Sync(ctx)
	if errors.Is(err, engine.ErrConflictPending) {
		return true, nil
	}
	return false, err
}

// settle waits for uploads started by this command, bounded by timeout.
func (a *app) settle(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("upload still running, it resumes on the next sync")
	}
}

// Close aborts unfinished uploads and closes the remote.
func (a *app) Close() error {
	return a.engine.Close()
}
