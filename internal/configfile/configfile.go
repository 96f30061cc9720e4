// Package configfile reads and writes the JSON config file consumed by the
// loader module. All access goes through shell commands so it works on a
// device where the file is only reachable as root.
package configfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/shell"
)

// ParseError reports backing file contents that are not a JSON object.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNotObject = errors.New("top-level value is not a JSON object")

// Adapter loads and saves the whole store through an Executor.
type Adapter struct {
	exec   shell.Executor
	path   string
	logger *slog.Logger
}

func NewAdapter(exec shell.Executor, path string) *Adapter {
	return &Adapter{exec: exec, path: path, logger: slog.Default()}
}

// Path returns the backing file path.
func (a *Adapter) Path() string { return a.path }

// Load reads the backing file. A missing file, a failing read, or contents
// that do not parse all yield an empty store; the cause is logged.
func (a *Adapter) Load(ctx context.Context) *model.Store {
	cmd := fmt.Sprintf("cat %s || echo '{}'", shell.Quote(a.path))
	res, err := a.exec.Exec(ctx, cmd)
	if err != nil {
		a.logger.Warn("reading config file failed, starting empty", "path", a.path, "error", err)
		return model.NewStore()
	}
	if !res.OK() {
		a.logger.Warn("reading config file failed, starting empty", "path", a.path, "exit_status", res.ExitStatus)
		return model.NewStore()
	}

	store, err := Decode(a.path, []byte(res.Stdout))
	if err != nil {
		a.logger.Warn("config file is not valid, starting empty", "path", a.path, "error", err)
		return model.NewStore()
	}
	return store
}

// Decode parses backing file contents. Failures are *ParseError.
func Decode(path string, data []byte) (*model.Store, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return nil, &ParseError{Path: path, Err: errors.New("invalid JSON")}
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, &ParseError{Path: path, Err: errNotObject}
	}
	store := model.NewStore()
	if err := json.Unmarshal(data, store); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return store, nil
}

// Encode renders the store as two-space indented JSON.
func Encode(store *model.Store) ([]byte, error) {
	raw, err := json.Marshal(store)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return nil, fmt.Errorf("indenting config: %w", err)
	}
	return out.Bytes(), nil
}

// SaveAll overwrites the backing file with the full store in one command.
// There is no partial-write protection.
func (a *Adapter) SaveAll(ctx context.Context, store *model.Store) error {
	data, err := Encode(store)
	if err != nil {
		return err
	}
	cmd := fmt.Sprintf("printf '%%s\\n' %s > %s", shell.Quote(string(data)), shell.Quote(a.path))
	if _, err := shell.Run(ctx, a.exec, cmd); err != nil {
		return fmt.Errorf("writing %s: %w", a.path, err)
	}
	return nil
}
