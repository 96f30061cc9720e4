package shell

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/libload/internal/storage"
	"github.com/kalambet/libload/internal/terminal"
)

// Logging echoes every command to sink as "$ <command>", followed by its
// trimmed stdout and stderr when non-empty.
func Logging(next Executor, sink terminal.Sink) Executor {
	return ExecutorFunc(func(ctx context.Context, command string) (Result, error) {
		sink.Print("$ " + command)
		res, err := next.Exec(ctx, command)
		if out := strings.TrimSpace(res.Stdout); out != "" {
			sink.Print(out)
		}
		if errOut := strings.TrimSpace(res.Stderr); errOut != "" {
			sink.Print(errOut)
		}
		if err != nil {
			sink.Print(err.Error())
		}
		return res, err
	})
}

// Journal persists executed commands. Implemented by storage.Store.
type Journal interface {
	SaveCommand(rec storage.CommandRecord) error
}

// Recording writes one journal row per command. Journal failures are
// logged and never change the command's outcome.
func Recording(next Executor, journal Journal) Executor {
	logger := slog.Default()
	return ExecutorFunc(func(ctx context.Context, command string) (Result, error) {
		start := time.Now()
		res, err := next.Exec(ctx, command)

		rec := storage.CommandRecord{
			ID:         uuid.New().String(),
			CreatedAt:  start.UTC(),
			Command:    command,
			ExitStatus: res.ExitStatus,
			Stdout:     res.Stdout,
			Stderr:     res.Stderr,
			Duration:   time.Since(start),
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if jerr := journal.SaveCommand(rec); jerr != nil {
			logger.Warn("failed to journal command", "command", command, "error", jerr)
		}
		return res, err
	})
}
