package shell

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Interp runs commands in an embedded POSIX shell interpreter. Builtins
// such as echo and printf run in-process; cat, cp and friends are
// executed from PATH.
type Interp struct {
	dir     string
	timeout time.Duration
}

// NewInterp returns an interpreter rooted at dir. An empty dir means the
// process working directory.
func NewInterp(dir string, timeout time.Duration) *Interp {
	return &Interp{dir: dir, timeout: timeout}
}

func (i *Interp) Exec(ctx context.Context, command string) (Result, error) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "")
	if err != nil {
		return Result{}, &ExecutionError{Command: command, Err: err}
	}

	var stdout, stderr bytes.Buffer
	opts := []interp.RunnerOption{interp.StdIO(nil, &stdout, &stderr)}
	if i.dir != "" {
		opts = append(opts, interp.Dir(i.dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return Result{}, &ExecutionError{Command: command, Err: err}
	}

	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	err = runner.Run(ctx, prog)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, &ExecutionError{Command: command, Timeout: true, Err: ctx.Err()}
	}
	if status, ok := interp.IsExitStatus(err); ok {
		res.ExitStatus = int(status)
		return res, nil
	}
	if err != nil {
		return res, &ExecutionError{Command: command, Err: err}
	}
	return res, nil
}
