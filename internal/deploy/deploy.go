// Package deploy copies a replacement library into an application's data
// directory, where the loader module picks it up on the next launch.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/shell"
)

// LibName is the fixed file name the loader module loads from the
// application data directory.
const LibName = "libmain.so"

// Result describes what a deployment did.
type Result struct {
	Skipped bool   `json:"skipped"`
	Source  string `json:"source,omitempty"`
	Dest    string `json:"dest,omitempty"`
}

// DeployError reports a failed copy or permission change. The config
// record stays saved regardless.
type DeployError struct {
	Package string
	Dest    string
	Detail  string
	Err     error
}

func (e *DeployError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("failed to copy lib for %s: %s", e.Package, e.Detail)
	}
	return fmt.Sprintf("failed to copy lib for %s", e.Package)
}

func (e *DeployError) Unwrap() error { return e.Err }

// Deployer places libraries under <root>/<package>/libmain.so.
type Deployer struct {
	exec   shell.Executor
	root   string
	logger *slog.Logger
}

func NewDeployer(exec shell.Executor, appDataRoot string) *Deployer {
	return &Deployer{exec: exec, root: appDataRoot, logger: slog.Default()}
}

// Dest returns the deployed library path for pkg.
func (d *Deployer) Dest(pkg string) string {
	return path.Join(d.root, pkg, LibName)
}

// Deploy copies rec.LibPath into place when rec asks for a custom library.
// Removal, copy and chmod always all run; success needs both the copy and
// the chmod to exit 0.
func (d *Deployer) Deploy(ctx context.Context, pkg string, rec model.Record) (Result, error) {
	if !rec.WantsDeployment() {
		return Result{Skipped: true}, nil
	}

	src := strings.TrimSpace(rec.LibPath)
	dest := d.Dest(pkg)
	res := Result{Source: src, Dest: dest}

	if _, err := shell.Run(ctx, d.exec, "rm -f "+shell.Quote(dest)); err != nil {
		d.logger.Debug("removing previous library failed", "dest", dest, "error", err)
	}

	_, cpErr := shell.Run(ctx, d.exec, fmt.Sprintf("cp %s %s", shell.Quote(src), shell.Quote(dest)))
	_, chmodErr := shell.Run(ctx, d.exec, "chmod 777 "+shell.Quote(dest))

	if cpErr == nil && chmodErr == nil {
		d.logger.Info("library deployed", "package", pkg, "source", src, "dest", dest)
		return res, nil
	}

	derr := &DeployError{Package: pkg, Dest: dest}
	if cpErr != nil {
		derr.Err = cpErr
		derr.Detail = detail(cpErr)
	} else {
		derr.Err = chmodErr
	}
	if derr.Detail == "" && chmodErr != nil {
		derr.Detail = detail(chmodErr)
	}
	return res, derr
}

func detail(err error) string {
	var execErr *shell.ExecutionError
	if errors.As(err, &execErr) {
		if execErr.Stderr != "" {
			return execErr.Stderr
		}
		if execErr.Err != nil || execErr.Timeout {
			return execErr.Error()
		}
		return ""
	}
	return err.Error()
}
