package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// System runs commands through an external shell binary, e.g. `sh -c` or
// `su -c`.
type System struct {
	argv    []string
	timeout time.Duration
}

// NewSystem returns a System that appends the command string to argv.
// argv[0] must resolve on PATH.
func NewSystem(argv []string, timeout time.Duration) (*System, error) {
	if len(argv) == 0 {
		return nil, errors.New("shell argv is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("shell %q not available: %w", argv[0], err)
	}
	return &System{argv: argv, timeout: timeout}, nil
}

func (s *System) Exec(ctx context.Context, command string) (Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := append(append([]string{}, s.argv[1:]...), command)
	cmd := exec.CommandContext(ctx, s.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, &ExecutionError{Command: command, Timeout: true, Err: ctx.Err()}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		res.ExitStatus = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, &ExecutionError{Command: command, Err: err}
	}
	return res, nil
}
