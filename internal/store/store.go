// Package store provides SQLite persistence for the ledger engine.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL mode so the
// sync workers, the reaper, and status queries can read concurrently
// while one writer commits.
//
// Concurrency control follows the single-database model: all Sync state
// transitions go through atomic conditional UPDATE claims. A claim that
// affects zero rows means another process holds the transition; callers
// give up immediately instead of blocking, which is the SQLite
// equivalent of FOR UPDATE NOWAIT.
//
// Monetary amounts are stored as decimal strings and parsed with
// shopspring/decimal; dates are stored as YYYY-MM-DD text.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with ledger-specific queries.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// If the database doesn't exist it is created; call InitSchema before
// first use. The caller MUST call Close when done.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty
		// in-memory database.
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &Store{conn: conn, path: path}

	// WAL for concurrent readers during writes
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS families (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TEXT NOT NULL,
		last_synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		family_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		created_at TEXT NOT NULL,
		last_synced_at TEXT,
		FOREIGN KEY (family_id) REFERENCES families(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	-- One row per account per day, fully replaced on recomputation.
	CREATE TABLE IF NOT EXISTS balances (
		account_id TEXT NOT NULL,
		date TEXT NOT NULL,
		balance TEXT NOT NULL,
		cash_balance TEXT NOT NULL,
		start_balance TEXT NOT NULL,
		end_balance TEXT NOT NULL,
		start_cash_balance TEXT NOT NULL,
		end_cash_balance TEXT NOT NULL,
		start_non_cash_balance TEXT NOT NULL,
		end_non_cash_balance TEXT NOT NULL,
		cash_inflows TEXT NOT NULL,
		cash_outflows TEXT NOT NULL,
		non_cash_inflows TEXT NOT NULL,
		non_cash_outflows TEXT NOT NULL,
		net_market_flows TEXT NOT NULL,
		cash_adjustments TEXT NOT NULL,
		non_cash_adjustments TEXT NOT NULL,
		flows_factor INTEGER NOT NULL,
		currency TEXT NOT NULL,
		PRIMARY KEY (account_id, date),
		FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS syncs (
		id TEXT PRIMARY KEY,
		syncable_type TEXT NOT NULL,
		syncable_id TEXT NOT NULL,
		parent_id TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		window_start TEXT,
		window_end TEXT,
		error TEXT,
		sync_stats TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		syncing_at TEXT,
		completed_at TEXT,
		failed_at TEXT,
		stale_at TEXT,
		finalized_at TEXT,
		FOREIGN KEY (parent_id) REFERENCES syncs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_entries_account_date ON entries(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_balances_account_date ON balances(account_id, date);
	CREATE INDEX IF NOT EXISTS idx_syncs_syncable ON syncs(syncable_type, syncable_id, status);
	CREATE INDEX IF NOT EXISTS idx_syncs_parent ON syncs(parent_id);
	CREATE INDEX IF NOT EXISTS idx_syncs_status_created ON syncs(status, created_at);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// timeToNullString converts a time pointer to a nullable RFC3339 string.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable RFC3339 string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// dateToNullString converts a date pointer to a nullable YYYY-MM-DD string.
func dateToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format("2006-01-02"), Valid: true}
}

// nullStringToDate converts a nullable YYYY-MM-DD string to a date pointer.
func nullStringToDate(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse("2006-01-02", ns.String)
	if err != nil {
		return nil
	}
	return &t
}
