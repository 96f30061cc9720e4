// Package backup snapshots the config file to a fixed path and copies it back.
package backup

import (
	"context"
	"fmt"

	"github.com/kalambet/libload/internal/shell"
)

// Manager copies the config file to and from the backup path.
type Manager struct {
	exec       shell.Executor
	configPath string
	backupPath string
}

func NewManager(exec shell.Executor, configPath, backupPath string) *Manager {
	return &Manager{exec: exec, configPath: configPath, backupPath: backupPath}
}

// Path returns the backup file path.
func (m *Manager) Path() string { return m.backupPath }

// Backup overwrites the backup with the current config file.
func (m *Manager) Backup(ctx context.Context) error {
	if err := m.copy(ctx, m.configPath, m.backupPath); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	return nil
}

// Restore overwrites the config file with the backup. The caller reloads
// in-memory state on success.
func (m *Manager) Restore(ctx context.Context) error {
	if err := m.copy(ctx, m.backupPath, m.configPath); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}

func (m *Manager) copy(ctx context.Context, src, dst string) error {
	_, err := shell.Run(ctx, m.exec, fmt.Sprintf("cp -f %s %s", shell.Quote(src), shell.Quote(dst)))
	return err
}
