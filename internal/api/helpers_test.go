package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/libload/internal/backup"
	"github.com/kalambet/libload/internal/configfile"
	"github.com/kalambet/libload/internal/deploy"
	"github.com/kalambet/libload/internal/session"
	"github.com/kalambet/libload/internal/shell"
	"github.com/kalambet/libload/internal/storage"
)

const testToken = "test-token-12345"

type testSetup struct {
	ctrl       *session.Controller
	store      *storage.Store
	configPath string
	root       string
}

// newTestSetup wires a controller to the embedded interpreter in a temp dir,
// journaling every command into an in-memory store.
func newTestSetup(t *testing.T, initial string) *testSetup {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dir := t.TempDir()
	ts := &testSetup{
		store:      store,
		configPath: filepath.Join(dir, "config.json"),
		root:       filepath.Join(dir, "apps"),
	}
	if initial != "" {
		if err := os.WriteFile(ts.configPath, []byte(initial), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.MkdirAll(ts.root, 0o755); err != nil {
		t.Fatal(err)
	}

	exec := shell.Recording(shell.NewInterp(dir, 5*time.Second), store)
	ts.ctrl = session.New(session.Deps{
		Exec:        exec,
		Files:       configfile.NewAdapter(exec, ts.configPath),
		Deployer:    deploy.NewDeployer(exec, ts.root),
		Backups:     backup.NewManager(exec, ts.configPath, filepath.Join(dir, "backup.json")),
		AppDataRoot: ts.root,
		Selection:   store,
	})
	return ts
}

func (ts *testSetup) handler() http.Handler {
	return NewAppHandler(AppDeps{Session: ts.ctrl, Journal: ts.store, Token: testToken})
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}
