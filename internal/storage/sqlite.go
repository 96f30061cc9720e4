package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const selectionKey = "current_package"

// Store wraps a SQLite database holding the command journal and the
// persisted session selection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) libload.db in dataDir and applies pending
// migrations. ":memory:" gives a throwaway database.
func Open(dataDir string) (*Store, error) {
	dsn := ":memory:"
	if dataDir != ":memory:" {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "libload.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: the journal is written from the executor while
	// handlers read it, and an in-memory database is per connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := s.migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return err
	}
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return err
	}
	slices.Sort(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(path.Base(name), "%d_", &version); err != nil {
			return fmt.Errorf("migration %s has no version prefix: %w", name, err)
		}
		if slices.Contains(applied, version) {
			continue
		}
		if err := s.applyMigration(name, version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(name string, version int) error {
	body, err := migrationsFS.ReadFile(name)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(body)); err != nil {
		return fmt.Errorf("applying %s: %w", name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording %s: %w", name, err)
	}
	return tx.Commit()
}

// AppliedMigrations returns applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Command journal ---

func (s *Store) SaveCommand(c CommandRecord) error {
	_, err := s.db.Exec("INSERT INTO command_log ("+commandColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.CreatedAt.UTC().Format(time.RFC3339Nano), c.Command, c.ExitStatus,
		c.Stdout, c.Stderr, c.Error, c.Duration.Milliseconds(),
	)
	return err
}

const commandColumns = "id, created_at, command, exit_status, stdout, stderr, error, duration_ms"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (CommandRecord, error) {
	var (
		c          CommandRecord
		createdAt  string
		durationMS int64
	)
	if err := row.Scan(&c.ID, &createdAt, &c.Command, &c.ExitStatus, &c.Stdout, &c.Stderr, &c.Error, &durationMS); err != nil {
		return CommandRecord{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return CommandRecord{}, fmt.Errorf("parsing created_at of %s: %w", c.ID, err)
	}
	c.CreatedAt = t
	c.Duration = time.Duration(durationMS) * time.Millisecond
	return c, nil
}

// GetCommand returns one journal entry or ErrNotFound.
func (s *Store) GetCommand(id string) (CommandRecord, error) {
	c, err := scanCommand(s.db.QueryRow("SELECT "+commandColumns+" FROM command_log WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return CommandRecord{}, ErrNotFound
	}
	return c, err
}

// ListCommands returns journal entries oldest first.
func (s *Store) ListCommands(limit, offset int) ([]CommandRecord, error) {
	rows, err := s.db.Query("SELECT "+commandColumns+" FROM command_log ORDER BY rowid LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CommandRecord
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// CountCommands returns the number of journal entries.
func (s *Store) CountCommands() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM command_log").Scan(&n)
	return n, err
}

// ClearCommands empties the journal.
func (s *Store) ClearCommands() error {
	_, err := s.db.Exec("DELETE FROM command_log")
	return err
}

// --- Session state ---

// LoadSelection returns the persisted current package, or "" when none was saved.
func (s *Store) LoadSelection() (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM session_state WHERE key = ?", selectionKey).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SaveSelection persists the current package. An empty name clears it.
func (s *Store) SaveSelection(name string) error {
	if name == "" {
		_, err := s.db.Exec("DELETE FROM session_state WHERE key = ?", selectionKey)
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO session_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		selectionKey, name, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
