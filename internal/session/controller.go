// Package session owns the in-memory config model and the current
// selection, and applies every operator action to them.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/kalambet/libload/internal/backup"
	"github.com/kalambet/libload/internal/configfile"
	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/shell"
	"github.com/kalambet/libload/internal/terminal"
)

// State is the package list and the selection, as shown to the operator.
type State struct {
	Packages []string `json:"packages"`
	Current  string   `json:"current,omitempty"`
}

// SelectionStore persists the current package between runs.
// Implemented by storage.Store.
type SelectionStore interface {
	LoadSelection() (string, error)
	SaveSelection(name string) error
}

// Deps holds the collaborators of a Controller.
type Deps struct {
	Exec        shell.Executor
	Files       *configfile.Adapter
	Deployer    *deploy.Deployer
	Backups     *backup.Manager
	AppDataRoot string
	Selection   SelectionStore // optional
	Sink        terminal.Sink  // optional; receives status lines
}

// Controller is the single owner of the session state. Every action runs
// under its mutex, including all shell commands the action issues.
type Controller struct {
	mu sync.Mutex

	exec      shell.Executor
	files     *configfile.Adapter
	deployer  *deploy.Deployer
	backups   *backup.Manager
	root      string
	selection SelectionStore
	sink      terminal.Sink
	logger    *slog.Logger

	configs  *model.Store
	packages []string
	current  string
	loaded   bool
}

func New(deps Deps) *Controller {
	sink := deps.Sink
	if sink == nil {
		sink = terminal.Discard
	}
	return &Controller{
		exec:      deps.Exec,
		files:     deps.Files,
		deployer:  deps.Deployer,
		backups:   deps.Backups,
		root:      deps.AppDataRoot,
		selection: deps.Selection,
		sink:      sink,
		logger:    slog.Default(),
		configs:   model.NewStore(),
	}
}

// SaveOutcome describes a save and the deployment it triggered.
type SaveOutcome struct {
	Package string        `json:"package"`
	Record  model.Record  `json:"record"`
	Deploy  deploy.Result `json:"deploy"`
}

// Load reads the backing file and re-applies the selection policy.
func (c *Controller) Load(ctx context.Context) State {
	out, _ := c.Dispatch(ctx, Action{Intent: IntentReload})
	return out.State
}

// State returns a copy of the package list and selection.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Configs returns a copy of the in-memory store.
func (c *Controller) Configs() *model.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configs.Clone()
}

// Form returns the editable fields for the current package. ok is false
// when nothing is selected.
func (c *Controller) Form() (form model.Form, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form()
}

func (c *Controller) AddPackage(ctx context.Context, name string) error {
	_, err := c.Dispatch(ctx, Action{Intent: IntentAdd, Package: name})
	return err
}

// SelectPackage selects name if it is known and returns the resulting form.
func (c *Controller) SelectPackage(ctx context.Context, name string) (model.Form, bool) {
	out, _ := c.Dispatch(ctx, Action{Intent: IntentSelect, Package: name})
	if out.Form == nil {
		return model.Form{}, false
	}
	return *out.Form, true
}

func (c *Controller) RemovePackage(ctx context.Context) error {
	_, err := c.Dispatch(ctx, Action{Intent: IntentRemove})
	return err
}

func (c *Controller) SaveCurrent(ctx context.Context, form model.Form) (SaveOutcome, error) {
	out, err := c.Dispatch(ctx, Action{Intent: IntentSave, Form: &form})
	if out.Save == nil {
		return SaveOutcome{}, err
	}
	return *out.Save, err
}

func (c *Controller) Backup(ctx context.Context) error {
	_, err := c.Dispatch(ctx, Action{Intent: IntentBackup})
	return err
}

func (c *Controller) Restore(ctx context.Context) error {
	_, err := c.Dispatch(ctx, Action{Intent: IntentRestore})
	return err
}

// --- state transitions; callers hold c.mu ---

func (c *Controller) load(ctx context.Context) {
	c.configs = c.files.Load(ctx)
	c.packages = c.configs.Keys()

	previous := c.current
	if !c.loaded && c.selection != nil {
		saved, err := c.selection.LoadSelection()
		if err != nil {
			c.logger.Warn("loading saved selection failed", "error", err)
		}
		previous = saved
	}
	c.loaded = true
	c.reconcileSelection(previous)
}

// reconcileSelection keeps previous selected if it still exists, otherwise
// falls back to the first package, or to no selection.
func (c *Controller) reconcileSelection(previous string) {
	next := ""
	switch {
	case previous != "" && slices.Contains(c.packages, previous):
		next = previous
	case len(c.packages) > 0:
		next = c.packages[0]
	}
	c.setCurrent(next)
}

func (c *Controller) setCurrent(name string) {
	changed := name != c.current
	c.current = name
	if c.selection == nil || !changed {
		return
	}
	if err := c.selection.SaveSelection(name); err != nil {
		c.logger.Warn("saving selection failed", "package", name, "error", err)
	}
}

func (c *Controller) snapshot() State {
	return State{Packages: slices.Clone(c.packages), Current: c.current}
}

func (c *Controller) form() (model.Form, bool) {
	if c.current == "" {
		return model.Form{}, false
	}
	rec, ok := c.configs.Get(c.current)
	if !ok {
		rec = model.DefaultRecord()
	}
	return model.FormFor(rec), true
}

func validateName(name string, existing []string) error {
	switch {
	case name == "":
		return &ValidationError{Reason: "package name cannot be empty"}
	case strings.Contains(name, "/") || name == "." || name == "..":
		return &ValidationError{Package: name, Reason: "package name must not contain path separators"}
	case slices.Contains(existing, name):
		return &ValidationError{Package: name, Reason: "package already exists"}
	}
	return nil
}

func (c *Controller) add(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if err := validateName(name, c.packages); err != nil {
		return err
	}

	c.packages = append(c.packages, name)
	c.configs.Set(name, model.DefaultRecord())

	dir := path.Join(c.root, name)
	if _, err := shell.Run(ctx, c.exec, "mkdir -p "+shell.Quote(dir)); err != nil {
		c.logger.Warn("provisioning app data directory failed", "package", name, "dir", dir, "error", err)
	}

	err := c.files.SaveAll(ctx, c.configs)
	c.reconcileSelection(c.current)
	if err != nil {
		return fmt.Errorf("adding %s: %w", name, err)
	}
	return nil
}

func (c *Controller) selectPackage(name string) {
	if slices.Contains(c.packages, name) {
		c.setCurrent(name)
	}
}

func (c *Controller) remove(ctx context.Context) (string, error) {
	if c.current == "" {
		return "", &NoSelectionError{Action: "remove"}
	}
	removed := c.current
	c.configs.Delete(removed)
	c.packages = slices.DeleteFunc(c.packages, func(p string) bool { return p == removed })

	err := c.files.SaveAll(ctx, c.configs)
	c.reconcileSelection("")
	if err != nil {
		return removed, fmt.Errorf("removing %s: %w", removed, err)
	}
	c.sink.Print(fmt.Sprintf("Config for %s removed successfully.", removed))
	return removed, nil
}

func (c *Controller) save(ctx context.Context, form model.Form) (*SaveOutcome, error) {
	if c.current == "" {
		return nil, &NoSelectionError{Action: "save"}
	}
	rec := form.Record()
	c.configs.Set(c.current, rec)
	out := &SaveOutcome{Package: c.current, Record: rec, Deploy: deploy.Result{Skipped: true}}

	if err := c.files.SaveAll(ctx, c.configs); err != nil {
		return out, fmt.Errorf("saving %s: %w", c.current, err)
	}

	res, err := c.deployer.Deploy(ctx, c.current, rec)
	out.Deploy = res
	if err != nil {
		c.logger.Warn("library deployment failed", "package", c.current, "error", err)
		return out, err
	}
	return out, nil
}

func (c *Controller) backup(ctx context.Context) error {
	if err := c.backups.Backup(ctx); err != nil {
		c.sink.Print(err.Error())
		return err
	}
	c.sink.Print(fmt.Sprintf("Config backed up to %s", c.backups.Path()))
	return nil
}

func (c *Controller) restore(ctx context.Context) error {
	if err := c.backups.Restore(ctx); err != nil {
		c.sink.Print(err.Error())
		return err
	}
	c.sink.Print("Backup restored. Reloading config...")
	c.load(ctx)
	return nil
}
