package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	connectionTimeout = 5 * time.Second
)

// Compile-time contract assertions.
var (
	_ Store  = (*SQLite)(nil)
	_ Lister = (*SQLite)(nil)
)

// SQLiteConfig configures the on-device database.
type SQLiteConfig struct {
	// Path is the database file; its directory is created if missing.
	Path string
	// WALMode enables write-ahead logging.
	WALMode bool
	// BusyTimeout is how long to wait for a lock, in seconds.
	BusyTimeout int
}

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database and applies pending
// migrations.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// See https://github.com/mattn/go-sqlite3#connection-string
	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d", cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		connStr += "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer; also keeps every statement on the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close() //nolint:errcheck // best effort on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}
	_ = os.Chmod(cfg.Path, filePermissions)

	s := &SQLite{db: db, path: cfg.Path}
	if err := s.migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // best effort on error path
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, uniqueID string) (*Record, error) {
	var rec Record
	var enabled, registered int
	err := s.db.QueryRowContext(ctx,
		`SELECT unique_id, enabled, registered, icon, state FROM sensors WHERE unique_id = ?`,
		uniqueID,
	).Scan(&rec.UniqueID, &enabled, &registered, &rec.Icon, &rec.State)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting sensor %s: %w", uniqueID, err)
	}
	rec.Enabled = enabled != 0
	rec.Registered = registered != 0
	return &rec, nil
}

// Add implements Store.
func (s *SQLite) Add(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sensors (unique_id, enabled, registered, icon, state, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UniqueID, boolToInt(rec.Enabled), boolToInt(rec.Registered), rec.Icon, rec.State, now(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrExists
		}
		return fmt.Errorf("adding sensor %s: %w", rec.UniqueID, err)
	}
	return nil
}

// Update implements Store.
func (s *SQLite) Update(ctx context.Context, rec *Record) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sensors SET enabled = ?, registered = ?, icon = ?, state = ?, updated_at = ?
		 WHERE unique_id = ?`,
		boolToInt(rec.Enabled), boolToInt(rec.Registered), rec.Icon, rec.State, now(), rec.UniqueID,
	)
	if err != nil {
		return fmt.Errorf("updating sensor %s: %w", rec.UniqueID, err)
	}
	rows, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List implements Lister.
func (s *SQLite) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unique_id, enabled, registered, icon, state FROM sensors ORDER BY unique_id`)
	if err != nil {
		return nil, fmt.Errorf("listing sensors: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var rec Record
		var enabled, registered int
		if err := rows.Scan(&rec.UniqueID, &enabled, &registered, &rec.Icon, &rec.State); err != nil {
			return nil, fmt.Errorf("scanning sensor: %w", err)
		}
		rec.Enabled = enabled != 0
		rec.Registered = registered != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensors: %w", err)
	}
	return records, nil
}

// migrate applies every embedded *.sql file not yet recorded in
// schema_migrations, in filename order, each in its own transaction.
func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")

		var n int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&n); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if n > 0 {
			continue
		}

		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.apply(ctx, version, string(body)); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) apply(ctx context.Context, version, body string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting migration %s: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return fmt.Errorf("applying migration %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, version, now()); err != nil {
		return fmt.Errorf("recording migration %s: %w", version, err)
	}
	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }
