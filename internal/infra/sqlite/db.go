// Package sqlite persists the ledger event log, balance projections, and
// reconciliation job records. All writes that must be atomic share a
// single SQL transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection and implements the domain store
// interfaces.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", path)
	raw, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	// SQLite supports one writer at a time; funnel all access through a
	// single connection so concurrent transfers serialize on the driver
	// instead of failing with SQLITE_BUSY.
	raw.SetMaxOpenConns(1)

	db := &DB{db: raw}
	if err := db.migrate(); err != nil {
		raw.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// migrate applies all schema statements in order.
func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Ledger accounts
		`CREATE TABLE IF NOT EXISTS accounts (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL DEFAULT '',
			currency   TEXT NOT NULL,
			type       TEXT NOT NULL CHECK(type IN ('user','internal','merchant')),
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		// Append-only event log
		`CREATE TABLE IF NOT EXISTS ledger_events (
			id                     TEXT PRIMARY KEY,
			timestamp              TEXT NOT NULL,
			source_account_id      TEXT REFERENCES accounts(id),
			destination_account_id TEXT REFERENCES accounts(id),
			amount                 TEXT NOT NULL,
			currency               TEXT NOT NULL,
			event_type             TEXT NOT NULL CHECK(event_type IN ('DEBIT','CREDIT')),
			transaction_id         TEXT NOT NULL,
			metadata               TEXT NOT NULL DEFAULT '{}',
			status                 TEXT NOT NULL CHECK(status IN ('PENDING','SETTLED','FAILED')),
			created_at             TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_txn ON ledger_events(transaction_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON ledger_events(source_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_dest ON ledger_events(destination_account_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_window ON ledger_events(currency, timestamp)`,

		// Balance projection, one row per account
		`CREATE TABLE IF NOT EXISTS balances (
			account_id        TEXT PRIMARY KEY REFERENCES accounts(id),
			currency          TEXT NOT NULL,
			available_balance TEXT NOT NULL DEFAULT '0',
			pending_balance   TEXT NOT NULL DEFAULT '0',
			last_updated      TEXT NOT NULL,
			version           INTEGER NOT NULL DEFAULT 0
		)`,

		// Reconciliation jobs
		`CREATE TABLE IF NOT EXISTS recon_jobs (
			id              TEXT PRIMARY KEY,
			source          TEXT NOT NULL,
			job_date        TEXT NOT NULL,
			status          TEXT NOT NULL CHECK(status IN ('PENDING','IN_PROGRESS','COMPLETED','FAILED')),
			matched_count   INTEGER NOT NULL DEFAULT 0,
			unmatched_count INTEGER NOT NULL DEFAULT 0,
			started_at      TEXT,
			completed_at    TEXT,
			error_message   TEXT,
			created_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_source_date ON recon_jobs(source, job_date)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON recon_jobs(status)`,

		// Per-record audit rows, owned by the job
		`CREATE TABLE IF NOT EXISTS recon_logs (
			id                     TEXT PRIMARY KEY,
			job_id                 TEXT NOT NULL REFERENCES recon_jobs(id) ON DELETE CASCADE,
			external_txn_id        TEXT NOT NULL,
			ledger_txn_id          TEXT,
			matched                INTEGER NOT NULL DEFAULT 0,
			match_score            REAL NOT NULL DEFAULT 0,
			reason                 TEXT NOT NULL DEFAULT '',
			amount_diff            TEXT NOT NULL DEFAULT '0',
			currency               TEXT NOT NULL DEFAULT '',
			timestamp_diff_seconds INTEGER NOT NULL DEFAULT 0,
			created_at             TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_job ON recon_logs(job_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_job_matched ON recon_logs(job_id, matched)`,

		// One summary row per completed job
		`CREATE TABLE IF NOT EXISTS recon_summary (
			id                    TEXT PRIMARY KEY,
			job_id                TEXT NOT NULL UNIQUE REFERENCES recon_jobs(id) ON DELETE CASCADE,
			match_rate            REAL NOT NULL DEFAULT 0,
			high_confidence_count INTEGER NOT NULL DEFAULT 0,
			low_confidence_count  INTEGER NOT NULL DEFAULT 0,
			unmatched_count       INTEGER NOT NULL DEFAULT 0,
			total_external_txns   INTEGER NOT NULL DEFAULT 0,
			total_ledger_txns     INTEGER NOT NULL DEFAULT 0,
			notes                 TEXT NOT NULL DEFAULT '',
			created_at            TEXT NOT NULL
		)`,
	}
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// withTx runs fn inside a transaction, committing on nil error and
// rolling back otherwise.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// timeLayout is fixed width (always 9 fractional digits, always UTC) so
// stored timestamps compare chronologically under SQL string comparison.
// RFC3339Nano would drop trailing zeros and break range queries.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func fmtNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := fmtTime(*t)
	return &s
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
