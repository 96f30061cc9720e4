package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/session"
	"github.com/kalambet/libload/internal/storage"
)

const maxBodySize = 64 << 10

// Journal is the read side of the command log. Implemented by storage.Store.
type Journal interface {
	ListCommands(limit, offset int) ([]storage.CommandRecord, error)
	GetCommand(id string) (storage.CommandRecord, error)
	CountCommands() (int, error)
	ClearCommands() error
}

type AppDeps struct {
	Session *session.Controller
	Journal Journal
	Token   string
}

// NewAppHandler serves the operator API. Everything except /health needs
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/packages", handleListPackages(deps))
		r.Post("/packages", handleAddPackage(deps))
		r.Put("/selection", handleSelect(deps))
		r.Delete("/selection", handleRemove(deps))
		r.Get("/form", handleGetForm(deps))
		r.Put("/form", handleSaveForm(deps))
		r.Post("/backup", handleAction(deps, session.IntentBackup))
		r.Post("/restore", handleAction(deps, session.IntentRestore))
		r.Post("/reload", handleAction(deps, session.IntentReload))
		r.Get("/terminal", handleListTerminal(deps))
		r.Get("/terminal/{id}", handleGetTerminal(deps))
		r.Delete("/terminal", handleClearTerminal(deps))
	})

	return r
}

type nameRequest struct {
	Name string `json:"name"`
}

// commandView is a journal entry as returned by /terminal.
type commandView struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Command    string `json:"command"`
	ExitStatus int    `json:"exit_status"`
	Stdout     string `json:"stdout,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func viewCommand(c storage.CommandRecord) commandView {
	return commandView{
		ID:         c.ID,
		CreatedAt:  c.CreatedAt.Format(time.RFC3339Nano),
		Command:    c.Command,
		ExitStatus: c.ExitStatus,
		Stdout:     c.Stdout,
		Stderr:     c.Stderr,
		Error:      c.Error,
		DurationMS: c.Duration.Milliseconds(),
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleListPackages(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, deps.Session.View(r.Context()).State)
	}
}

func handleAddPackage(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req nameRequest
		if !decodeBody(w, r, &req) {
			return
		}
		out, err := deps.Session.Dispatch(r.Context(), session.Action{Intent: session.IntentAdd, Package: req.Name})
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

func handleSelect(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req nameRequest
		if !decodeBody(w, r, &req) {
			return
		}
		out, err := deps.Session.Dispatch(r.Context(), session.Action{Intent: session.IntentSelect, Package: req.Name})
		if err != nil {
			sessionError(w, err)
			return
		}
		if out.State.Current != req.Name {
			httpError(w, http.StatusNotFound, "not_found", "unknown package %q", req.Name)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleRemove(deps AppDeps) http.HandlerFunc {
	return handleAction(deps, session.IntentRemove)
}

func handleGetForm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := deps.Session.View(r.Context())
		if out.Form == nil {
			sessionError(w, &session.NoSelectionError{Action: "show form"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"package": out.State.Current,
			"form":    out.Form,
		})
	}
}

func handleSaveForm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var form model.Form
		if !decodeBody(w, r, &form) {
			return
		}
		out, err := deps.Session.Dispatch(r.Context(), session.Action{Intent: session.IntentSave, Form: &form})
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleAction(deps AppDeps, intent session.Intent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Session.Dispatch(r.Context(), session.Action{Intent: intent})
		if err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListTerminal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, 1000)
		offset := parseIntParam(r, "offset", 0, 0)

		cmds, err := deps.Journal.ListCommands(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list commands: %v", err)
			return
		}
		total, err := deps.Journal.CountCommands()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count commands: %v", err)
			return
		}

		views := make([]commandView, len(cmds))
		for i, c := range cmds {
			views[i] = viewCommand(c)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"total":    total,
			"commands": views,
		})
	}
}

func handleGetTerminal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		cmd, err := deps.Journal.GetCommand(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "command not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get command: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, viewCommand(cmd))
	}
}

func handleClearTerminal(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Journal.ClearCommands(); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to clear commands: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
