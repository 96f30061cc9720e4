package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kalambet/libload/internal/config"
	"github.com/kalambet/libload/internal/model"
	"github.com/kalambet/libload/internal/session"
)

type apiClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var newAPIClient = func() (*apiClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	token, err := cfg.APIToken()
	if err != nil {
		return nil, fmt.Errorf("getting API token: %w", err)
	}

	return &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is `libload serve` running? (%w)", err)
	}
	return resp, nil
}

// apiError is the error body written by the server.
type apiError struct {
	Status  int
	Message string
	Type    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return e.Message
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		var parsed struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &parsed) != nil || parsed.Error.Message == "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}
		return &apiError{Status: resp.StatusCode, Message: parsed.Error.Message, Type: parsed.Error.Type}
	}
	if v == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// remoteBackend drives a running server over the HTTP API.
type remoteBackend struct {
	client *apiClient
}

func (r *remoteBackend) Close() error { return nil }

func (r *remoteBackend) View(ctx context.Context) (session.Outcome, error) {
	var out session.Outcome
	resp, err := r.client.do(ctx, "GET", "/packages", nil)
	if err != nil {
		return out, err
	}
	if err := decodeJSON(resp, &out.State); err != nil {
		return out, err
	}
	if out.State.Current == "" {
		return out, nil
	}

	resp, err = r.client.do(ctx, "GET", "/form", nil)
	if err != nil {
		return out, err
	}
	var form struct {
		Form *model.Form `json:"form"`
	}
	if err := decodeJSON(resp, &form); err != nil {
		return out, err
	}
	out.Form = form.Form
	return out, nil
}

func (r *remoteBackend) Dispatch(ctx context.Context, a session.Action) (session.Outcome, error) {
	var (
		method, path string
		body         any
	)
	switch a.Intent {
	case session.IntentAdd:
		method, path, body = "POST", "/packages", map[string]string{"name": a.Package}
	case session.IntentSelect:
		method, path, body = "PUT", "/selection", map[string]string{"name": a.Package}
	case session.IntentSave:
		method, path, body = "PUT", "/form", a.Form
	case session.IntentRemove:
		method, path = "DELETE", "/selection"
	case session.IntentBackup, session.IntentRestore, session.IntentReload:
		method, path = "POST", "/"+string(a.Intent)
	default:
		return session.Outcome{}, fmt.Errorf("unknown intent %q", a.Intent)
	}

	var out session.Outcome
	resp, err := r.client.do(ctx, method, path, body)
	if err != nil {
		return out, err
	}
	return out, decodeJSON(resp, &out)
}

func (r *remoteBackend) Commands(ctx context.Context, limit, offset int) ([]logEntry, int, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("offset", fmt.Sprint(offset))
	resp, err := r.client.do(ctx, "GET", "/terminal?"+q.Encode(), nil)
	if err != nil {
		return nil, 0, err
	}
	var page struct {
		Total    int        `json:"total"`
		Commands []logEntry `json:"commands"`
	}
	if err := decodeJSON(resp, &page); err != nil {
		return nil, 0, err
	}
	return page.Commands, page.Total, nil
}

func (r *remoteBackend) ClearCommands(ctx context.Context) error {
	resp, err := r.client.do(ctx, "DELETE", "/terminal", nil)
	if err != nil {
		return err
	}
	return decodeJSON(resp, nil)
}
