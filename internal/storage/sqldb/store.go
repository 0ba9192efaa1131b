// Package sqldb stores request logs in a SQL database through sqlx.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/reqpipe/internal/core/domain"
	"github.com/tjfontaine/reqpipe/internal/core/ports"
)

// Store is a SQL implementation of RequestLogStore.
type Store struct {
	db *sqlx.DB
}

var _ ports.RequestLogStore = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name registered with database/sql; "sqlite" by default
	DSN    string // Data source name / connection string
}

// New opens the database and creates the schema.
func New(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if db.DriverName() == "sqlite" {
		for _, stmt := range []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		} {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to execute pragma: %w", err)
			}
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a SQLite store at dbPath, creating its directory.
func NewSQLite(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}
	return New(Config{Driver: "sqlite", DSN: dbPath})
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
	id TEXT PRIMARY KEY,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	status INTEGER NOT NULL,
	bytes_sent INTEGER NOT NULL DEFAULT 0,
	duration_ns INTEGER NOT NULL DEFAULT 0,
	failed_stage TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	sends INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs(created_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRequestLog inserts entry. A zero CreatedAt is set to now.
func (s *Store) SaveRequestLog(ctx context.Context, entry *domain.RequestLog) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("%w: request log requires an id", domain.ErrInvalidArgument)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO request_logs (
	id, method, path, status, bytes_sent, duration_ns, failed_stage, error, sends, created_at
) VALUES (
	:id, :method, :path, :status, :bytes_sent, :duration_ns, :failed_stage, :error, :sends, :created_at
)`, entry)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("request log %s: %w", entry.ID, errdefs.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to save request log: %w", err)
	}
	return nil
}

// GetRequestLog retrieves an entry by request ID.
func (s *Store) GetRequestLog(ctx context.Context, id string) (*domain.RequestLog, error) {
	var entry domain.RequestLog
	err := s.db.GetContext(ctx, &entry, s.db.Rebind(`SELECT
	id, method, path, status, bytes_sent, duration_ns, failed_stage, error, sends, created_at
FROM request_logs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request log %s: %w", id, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get request log: %w", err)
	}
	return &entry, nil
}

// ListRequestLogs returns entries newest first.
func (s *Store) ListRequestLogs(ctx context.Context, opts ports.ListOptions) ([]*domain.RequestLog, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT
	id, method, path, status, bytes_sent, duration_ns, failed_stage, error, sends, created_at
FROM request_logs`
	if opts.FailedOnly {
		query += ` WHERE error <> ''`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	var entries []*domain.RequestLog
	if err := s.db.SelectContext(ctx, &entries, s.db.Rebind(query), opts.Limit, opts.Offset); err != nil {
		return nil, fmt.Errorf("failed to list request logs: %w", err)
	}
	return entries, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}
