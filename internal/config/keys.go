package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
)

// keySpec binds a dotted key to a Config field. field returns a *string
// or *int into the given Config.
type keySpec struct {
	key    string
	env    string
	secret bool
	field  func(cfg *Config) any
}

var specs = []keySpec{
	{key: "paths.config_file", env: "LIBLOAD_PATHS_CONFIG_FILE", field: func(c *Config) any { return &c.Paths.ConfigFile }},
	{key: "paths.backup_file", env: "LIBLOAD_PATHS_BACKUP_FILE", field: func(c *Config) any { return &c.Paths.BackupFile }},
	{key: "paths.app_data_root", env: "LIBLOAD_PATHS_APP_DATA_ROOT", field: func(c *Config) any { return &c.Paths.AppDataRoot }},
	{key: "executor.mode", env: "LIBLOAD_EXECUTOR_MODE", field: func(c *Config) any { return &c.Executor.Mode }},
	{key: "executor.su_binary", env: "LIBLOAD_EXECUTOR_SU_BINARY", field: func(c *Config) any { return &c.Executor.SuBinary }},
	{key: "executor.timeout", env: "LIBLOAD_EXECUTOR_TIMEOUT", field: func(c *Config) any { return &c.Executor.Timeout }},
	{key: "server.port", env: "LIBLOAD_SERVER_PORT", field: func(c *Config) any { return &c.Server.Port }},
	{key: "server.max_conns", env: "LIBLOAD_SERVER_MAX_CONNS", field: func(c *Config) any { return &c.Server.MaxConns }},
	{key: "server.api_token", env: "LIBLOAD_API_TOKEN", secret: true, field: func(c *Config) any { return &c.Server.APIToken }},
	{key: "storage.data_dir", env: "LIBLOAD_STORAGE_DATA_DIR", field: func(c *Config) any { return &c.Storage.DataDir }},
	{key: "log.level", env: "LIBLOAD_LOG_LEVEL", field: func(c *Config) any { return &c.Log.Level }},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// setText parses raw as the field's type and stores it.
func (s keySpec) setText(cfg *Config, raw string) error {
	switch p := s.field(cfg).(type) {
	case *string:
		*p = raw
	case *int:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", s.key, err)
		}
		*p = i
	}
	return nil
}

// setDecoded stores a value decoded from the JSON file. Numbers may be
// written as strings and vice versa.
func (s keySpec) setDecoded(cfg *Config, v any) error {
	switch p := s.field(cfg).(type) {
	case *string:
		switch val := v.(type) {
		case string:
			*p = val
		case float64:
			*p = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			return fmt.Errorf("invalid type %T for %s", v, s.key)
		}
	case *int:
		switch val := v.(type) {
		case float64:
			if val != math.Trunc(val) || val < math.MinInt32 || val > math.MaxInt32 {
				return fmt.Errorf("value %v for %s is not a valid integer", val, s.key)
			}
			*p = int(val)
		case string:
			return s.setText(cfg, val)
		default:
			return fmt.Errorf("invalid type %T for %s", v, s.key)
		}
	}
	return nil
}

// display formats the field for `config show`.
func (s keySpec) display(cfg Config) string {
	switch p := s.field(&cfg).(type) {
	case *string:
		return *p
	case *int:
		return strconv.Itoa(*p)
	}
	return ""
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		v, ok := b.Lookup(s.key)
		if !ok {
			continue
		}
		if err := s.setDecoded(cfg, v); err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if err := s.setText(cfg, raw); err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] ignoring %s=%q: %v\n", s.env, raw, err)
		}
	}
}
