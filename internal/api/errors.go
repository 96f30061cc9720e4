package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/session"
	"github.com/kalambet/libload/internal/shell"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// sessionError maps a session failure to a status code and error type.
func sessionError(w http.ResponseWriter, err error) {
	var (
		verr    *session.ValidationError
		nerr    *session.NoSelectionError
		derr    *deploy.DeployError
		execErr *shell.ExecutionError
	)
	switch {
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", err)
	case errors.As(err, &nerr):
		httpError(w, http.StatusConflict, "no_selection", "%s", err)
	case errors.As(err, &derr):
		httpError(w, http.StatusBadGateway, "deploy_error", "%s", err)
	case errors.As(err, &execErr):
		httpError(w, http.StatusBadGateway, "execution_error", "%s", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
