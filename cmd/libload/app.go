package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kalambet/libload/internal/backup"
	"github.com/kalambet/libload/internal/config"
	"github.com/kalambet/libload/internal/configfile"
	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/session"
	"github.com/kalambet/libload/internal/shell"
	"github.com/kalambet/libload/internal/storage"
	"github.com/kalambet/libload/internal/terminal"
)

// backend is what the CLI commands run against: the local device, or a
// running server when --remote is set.
type backend interface {
	View(ctx context.Context) (session.Outcome, error)
	Dispatch(ctx context.Context, a session.Action) (session.Outcome, error)
	Commands(ctx context.Context, limit, offset int) ([]logEntry, int, error)
	ClearCommands(ctx context.Context) error
	Close() error
}

// logEntry is one journaled command as the log command prints it.
type logEntry struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Command    string `json:"command"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
}

// app is the locally wired object graph.
type app struct {
	cfg     config.Config
	store   *storage.Store
	session *session.Controller
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildApp opens storage and wires the executor chain and session for cfg.
// Commands echo to sink.
func buildApp(cfg config.Config, sink terminal.Sink) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	base, err := shell.New(cfg.ShellOptions())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating executor: %w", err)
	}
	exec := shell.Logging(shell.Recording(base, store), sink)

	ctrl := session.New(session.Deps{
		Exec:        exec,
		Files:       configfile.NewAdapter(exec, cfg.Paths.ConfigFile),
		Deployer:    deploy.NewDeployer(exec, cfg.Paths.AppDataRoot),
		Backups:     backup.NewManager(exec, cfg.Paths.ConfigFile, cfg.Paths.BackupFile),
		AppDataRoot: cfg.Paths.AppDataRoot,
		Selection:   store,
		Sink:        sink,
	})
	return &app{cfg: cfg, store: store, session: ctrl}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) View(ctx context.Context) (session.Outcome, error) {
	return a.session.View(ctx), nil
}

func (a *app) Dispatch(ctx context.Context, act session.Action) (session.Outcome, error) {
	return a.session.Dispatch(ctx, act)
}

func (a *app) Commands(_ context.Context, limit, offset int) ([]logEntry, int, error) {
	recs, err := a.store.ListCommands(limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.store.CountCommands()
	if err != nil {
		return nil, 0, err
	}
	entries := make([]logEntry, len(recs))
	for i, r := range recs {
		entries[i] = logEntry{
			ID:         r.ID,
			CreatedAt:  r.CreatedAt.Format(time.RFC3339),
			Command:    r.Command,
			ExitStatus: r.ExitStatus,
			Stdout:     r.Stdout,
			Stderr:     r.Stderr,
			Error:      r.Error,
		}
	}
	return entries, total, nil
}

func (a *app) ClearCommands(context.Context) error {
	return a.store.ClearCommands()
}

// openBackend returns the backend selected by the persistent flags.
// Replaced in tests.
var openBackend = func() (backend, error) {
	if remote {
		client, err := newAPIClient()
		if err != nil {
			return nil, err
		}
		return &remoteBackend{client: client}, nil
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level)

	var sink terminal.Sink = terminal.Discard
	if verbose {
		sink = terminal.NewWriter(os.Stderr)
	}
	return buildApp(cfg, sink)
}
