package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const tokenFile = "api.token"

// APIToken returns the bearer token for the HTTP API. LIBLOAD_API_TOKEN
// wins; otherwise a token is generated once and kept in the data dir.
func (c Config) APIToken() (string, error) {
	if c.Server.APIToken != "" {
		return c.Server.APIToken, nil
	}
	return loadOrCreateToken(c.Storage.DataDir)
}

func loadOrCreateToken(dataDir string) (string, error) {
	p := filepath.Join(dataDir, tokenFile)
	data, err := os.ReadFile(p)
	if err == nil {
		if tok := strings.TrimSpace(string(data)); tok != "" {
			return tok, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("reading api token: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	tok := uuid.NewString()
	if err := os.WriteFile(p, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing api token: %w", err)
	}
	return tok, nil
}
