package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kalambet/libload/internal/shell"
)

type Config struct {
	Paths    PathsConfig
	Executor ExecutorConfig
	Server   ServerConfig
	Storage  StorageConfig
	Log      LogConfig
}

// PathsConfig locates the files the loader module reads on the device.
type PathsConfig struct {
	ConfigFile  string
	BackupFile  string
	AppDataRoot string
}

type ExecutorConfig struct {
	Mode     string
	SuBinary string
	Timeout  string
}

type ServerConfig struct {
	Port     int
	MaxConns int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Paths: PathsConfig{
			ConfigFile:  "/data/adb/modules/nepmodslibloader/config.json",
			BackupFile:  "/data/adb/nepmods_config_backup.json",
			AppDataRoot: "/data/user/0",
		},
		Executor: ExecutorConfig{
			Mode:     string(shell.ModeSu),
			SuBinary: "su",
			Timeout:  "30s",
		},
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 16,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/libload/config.json. Environment variables (LIBLOAD_*)
// override backend values.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	switch shell.Mode(c.Executor.Mode) {
	case shell.ModeSh, shell.ModeSu, shell.ModeInterp:
	default:
		return fmt.Errorf("invalid executor.mode %q (valid: sh, su, interp)", c.Executor.Mode)
	}
	if _, err := c.Executor.TimeoutDuration(); err != nil {
		return err
	}
	if c.Paths.ConfigFile == "" || c.Paths.BackupFile == "" || c.Paths.AppDataRoot == "" {
		return fmt.Errorf("paths.config_file, paths.backup_file and paths.app_data_root must be set")
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("server.max_conns must not be negative, got %d", c.Server.MaxConns)
	}
	return nil
}

// TimeoutDuration parses Timeout. Zero means no timeout.
func (e ExecutorConfig) TimeoutDuration() (time.Duration, error) {
	if e.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(e.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid executor.timeout %q: %w", e.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("executor.timeout must not be negative, got %s", e.Timeout)
	}
	return d, nil
}

// ShellOptions converts the executor section for shell.New.
func (c Config) ShellOptions() shell.Options {
	timeout, _ := c.Executor.TimeoutDuration()
	return shell.Options{
		Mode:     shell.Mode(c.Executor.Mode),
		SuBinary: c.Executor.SuBinary,
		Dir:      c.Storage.DataDir,
		Timeout:  timeout,
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "libload-data"
		}
	}
	return filepath.Join(dir, "libload")
}
