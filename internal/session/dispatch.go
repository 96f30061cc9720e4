package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/model"
)

// Intent names a discrete operator action.
type Intent string

const (
	IntentAdd     Intent = "add"
	IntentSelect  Intent = "select"
	IntentSave    Intent = "save"
	IntentRemove  Intent = "remove"
	IntentBackup  Intent = "backup"
	IntentRestore Intent = "restore"
	IntentReload  Intent = "reload"
)

// Action is one operator request.
type Action struct {
	Intent  Intent      `json:"intent"`
	Package string      `json:"package,omitempty"`
	Form    *model.Form `json:"form,omitempty"`
}

// Outcome is the session after an action, plus what the action reported.
type Outcome struct {
	State   State        `json:"state"`
	Form    *model.Form  `json:"form,omitempty"`
	Save    *SaveOutcome `json:"save,omitempty"`
	Message string       `json:"message,omitempty"`
}

type handler func(c *Controller, ctx context.Context, a Action) (Outcome, error)

var handlers = map[Intent]handler{
	IntentAdd: func(c *Controller, ctx context.Context, a Action) (Outcome, error) {
		if err := c.add(ctx, a.Package); err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: fmt.Sprintf("Added package %s", c.packages[len(c.packages)-1])}, nil
	},
	IntentSelect: func(c *Controller, _ context.Context, a Action) (Outcome, error) {
		c.selectPackage(a.Package)
		return Outcome{}, nil
	},
	IntentSave: func(c *Controller, ctx context.Context, a Action) (Outcome, error) {
		if a.Form == nil {
			return Outcome{}, &ValidationError{Reason: "form is required"}
		}
		save, err := c.save(ctx, *a.Form)
		out := Outcome{Save: save}
		var derr *deploy.DeployError
		switch {
		case errors.As(err, &derr):
			out.Message = "Config saved"
		case err != nil:
		case save.Deploy.Skipped:
			out.Message = "Config saved"
		default:
			out.Message = fmt.Sprintf("Config saved. Library copied to %s", deploy.LibName)
		}
		return out, err
	},
	IntentRemove: func(c *Controller, ctx context.Context, _ Action) (Outcome, error) {
		removed, err := c.remove(ctx)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: fmt.Sprintf("Config for %s removed", removed)}, nil
	},
	IntentBackup: func(c *Controller, ctx context.Context, _ Action) (Outcome, error) {
		if err := c.backup(ctx); err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: "Backup created successfully"}, nil
	},
	IntentRestore: func(c *Controller, ctx context.Context, _ Action) (Outcome, error) {
		if err := c.restore(ctx); err != nil {
			return Outcome{}, err
		}
		return Outcome{Message: "Config restored successfully"}, nil
	},
	IntentReload: func(c *Controller, ctx context.Context, _ Action) (Outcome, error) {
		c.load(ctx)
		return Outcome{Message: fmt.Sprintf("Loaded %d packages", len(c.packages))}, nil
	},
}

// Intents lists the supported intents.
func Intents() []Intent {
	return []Intent{IntentAdd, IntentSelect, IntentSave, IntentRemove, IntentBackup, IntentRestore, IntentReload}
}

// Dispatch runs the handler for a.Intent. The backing file is loaded first
// if no action has loaded it yet. The returned Outcome always carries the
// session state after the action, even when err is non-nil.
func (c *Controller) Dispatch(ctx context.Context, a Action) (Outcome, error) {
	h, ok := handlers[a.Intent]
	if !ok {
		return Outcome{}, fmt.Errorf("unknown intent %q", a.Intent)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded && a.Intent != IntentReload {
		c.load(ctx)
	}

	out, err := h(c, ctx, a)
	out.State = c.snapshot()
	if out.Form == nil {
		if f, ok := c.form(); ok {
			out.Form = &f
		}
	}
	return out, err
}

// View returns the current session without changing it, loading the
// backing file first if needed.
func (c *Controller) View(ctx context.Context) Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		c.load(ctx)
	}
	out := Outcome{State: c.snapshot()}
	if f, ok := c.form(); ok {
		out.Form = &f
	}
	return out
}
