// Package shell runs the command strings the config manager issues against
// the device filesystem and reports exit status plus captured output.
package shell

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitStatus int    `json:"exitStatus"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool { return r.ExitStatus == 0 }

// Executor runs one shell command string and waits for it.
//
// A non-zero exit status is part of Result and is not an error. The
// returned error is non-nil only when the command could not be run at all
// or its timeout expired, and is always an *ExecutionError.
type Executor interface {
	Exec(ctx context.Context, command string) (Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, command string) (Result, error)

func (f ExecutorFunc) Exec(ctx context.Context, command string) (Result, error) {
	return f(ctx, command)
}

// ExecutionError reports a command that failed: it could not be started,
// it timed out, or it exited with a non-zero status.
type ExecutionError struct {
	Command    string
	ExitStatus int
	Stderr     string
	Timeout    bool
	Err        error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("command timed out: %s", e.Command)
	case e.Err != nil:
		return fmt.Sprintf("running %q: %v", e.Command, e.Err)
	case e.Stderr != "":
		return fmt.Sprintf("command exited with status %d: %s", e.ExitStatus, e.Stderr)
	default:
		return fmt.Sprintf("command exited with status %d: %s", e.ExitStatus, e.Command)
	}
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Run executes command and turns a non-zero exit status into an
// *ExecutionError. The Result is returned in every case.
func Run(ctx context.Context, e Executor, command string) (Result, error) {
	res, err := e.Exec(ctx, command)
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, &ExecutionError{
			Command:    command,
			ExitStatus: res.ExitStatus,
			Stderr:     strings.TrimSpace(res.Stderr),
		}
	}
	return res, nil
}

// Quote wraps s in single quotes for POSIX sh, mksh and toybox shells.
// Embedded single quotes become '\''.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Mode selects an Executor backend.
type Mode string

const (
	// ModeSh runs commands with `sh -c` as the current user.
	ModeSh Mode = "sh"
	// ModeSu runs commands with `su -c` on a rooted device.
	ModeSu Mode = "su"
	// ModeInterp runs commands in the embedded POSIX shell interpreter.
	ModeInterp Mode = "interp"
)

// Options configures New.
type Options struct {
	Mode     Mode
	SuBinary string
	Dir      string
	Timeout  time.Duration
}

// New builds the executor for opts.Mode. It fails when the backend is not
// available on this system; callers treat that as a startup failure.
func New(opts Options) (Executor, error) {
	switch opts.Mode {
	case ModeSh, "":
		return NewSystem([]string{"sh", "-c"}, opts.Timeout)
	case ModeSu:
		su := opts.SuBinary
		if su == "" {
			su = "su"
		}
		return NewSystem([]string{su, "-c"}, opts.Timeout)
	case ModeInterp:
		return NewInterp(opts.Dir, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown executor mode %q (valid: sh, su, interp)", opts.Mode)
	}
}
