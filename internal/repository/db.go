package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so repositories can run inside
// or outside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
//
// The pool is limited to a single connection: SQLite allows one writer at a
// time, and a single connection keeps every read-modify-write transaction
// strictly serialized.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			trial_days INTEGER NOT NULL DEFAULT 0,
			trial_end_date TEXT,
			created_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS settlement_imports (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			file_name TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			file_hash TEXT NOT NULL,
			provider_name TEXT NOT NULL,
			settlement_date TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			failed_records INTEGER NOT NULL DEFAULT 0,
			matched_records INTEGER NOT NULL DEFAULT 0,
			unmatched_records INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_imports_tenant ON settlement_imports(tenant_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_imports_hash ON settlement_imports(tenant_id, file_hash)`,

		`CREATE TABLE IF NOT EXISTS settlement_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			import_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			stan TEXT NOT NULL DEFAULT '',
			rrn TEXT NOT NULL DEFAULT '',
			terminal_id TEXT NOT NULL DEFAULT '',
			approval_code TEXT NOT NULL DEFAULT '',
			card_type TEXT NOT NULL DEFAULT '',
			card_last4 TEXT NOT NULL DEFAULT '',
			merchant_name TEXT NOT NULL DEFAULT '',
			raw_data TEXT NOT NULL DEFAULT '{}',
			ledger_entry_id TEXT,
			matched_at TEXT,
			match_confidence TEXT NOT NULL DEFAULT '',
			match_score INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			FOREIGN KEY (import_id) REFERENCES settlement_imports(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_records_import ON settlement_records(tenant_id, import_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_records_ledger ON settlement_records(tenant_id, ledger_entry_id)`,

		`CREATE TABLE IF NOT EXISTS settlement_column_mappings (
			tenant_id TEXT NOT NULL,
			provider_name TEXT NOT NULL,
			mapping TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (tenant_id, provider_name)
		)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			booking_id TEXT NOT NULL DEFAULT '',
			folio_id TEXT NOT NULL DEFAULT '',
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			method TEXT NOT NULL,
			provider_reference TEXT NOT NULL DEFAULT '',
			rrn TEXT NOT NULL DEFAULT '',
			terminal_id TEXT NOT NULL DEFAULT '',
			approval_code TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_tenant_created ON payments(tenant_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_provider_ref ON payments(tenant_id, provider_reference)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_records (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			reference TEXT NOT NULL,
			amount TEXT NOT NULL,
			expected_amount TEXT,
			status TEXT NOT NULL,
			internal_txn_id TEXT,
			matched_by TEXT NOT NULL DEFAULT '',
			reconciled_at TEXT,
			source TEXT NOT NULL,
			transaction_date TEXT NOT NULL,
			raw_payload TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (tenant_id, source, reference)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_records_status ON reconciliation_records(tenant_id, status)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			before_ref TEXT NOT NULL DEFAULT '',
			after_ref TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_entity ON audit_events(tenant_id, entity_type, entity_id)`,

		`CREATE TABLE IF NOT EXISTS folio_sequences (
			tenant_id TEXT PRIMARY KEY,
			next_value INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS folios (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			booking_id TEXT NOT NULL,
			folio_number TEXT NOT NULL,
			folio_type TEXT NOT NULL,
			is_primary INTEGER NOT NULL DEFAULT 0,
			parent_folio_id TEXT,
			status TEXT NOT NULL,
			total_charges TEXT NOT NULL,
			total_payments TEXT NOT NULL,
			balance TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			closed_at TEXT,
			UNIQUE (tenant_id, folio_number)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_folios_primary_booking ON folios(tenant_id, booking_id) WHERE is_primary = 1`,
		`CREATE INDEX IF NOT EXISTS idx_folios_booking ON folios(tenant_id, booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_folios_parent ON folios(tenant_id, parent_folio_id)`,

		`CREATE TABLE IF NOT EXISTS folio_transactions (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			folio_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			amount TEXT NOT NULL,
			transferred_amount TEXT NOT NULL DEFAULT '0',
			description TEXT NOT NULL DEFAULT '',
			reference_type TEXT NOT NULL DEFAULT '',
			reference_id TEXT NOT NULL DEFAULT '',
			department TEXT NOT NULL DEFAULT '',
			linked_transaction_id TEXT NOT NULL DEFAULT '',
			merged_from_folio_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			FOREIGN KEY (folio_id) REFERENCES folios(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_folio_transactions_folio ON folio_transactions(tenant_id, folio_id)`,

		`CREATE TABLE IF NOT EXISTS post_checkout_ledger_entries (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			folio_id TEXT NOT NULL,
			booking_id TEXT NOT NULL,
			guest_id TEXT NOT NULL DEFAULT '',
			payment_id TEXT NOT NULL,
			amount TEXT NOT NULL,
			reason TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			recorded_by TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_post_checkout_booking ON post_checkout_ledger_entries(tenant_id, booking_id)`,

		`CREATE TABLE IF NOT EXISTS fee_configs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			service_category TEXT NOT NULL DEFAULT '',
			rate TEXT NOT NULL,
			fee_type TEXT NOT NULL,
			mode TEXT NOT NULL,
			payer TEXT NOT NULL,
			active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (tenant_id, service_category)
		)`,

		`CREATE TABLE IF NOT EXISTS platform_fee_ledger (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			reference_type TEXT NOT NULL,
			reference_id TEXT NOT NULL,
			base_amount TEXT NOT NULL,
			fee_amount TEXT NOT NULL,
			rate TEXT NOT NULL,
			fee_type TEXT NOT NULL,
			mode TEXT NOT NULL,
			payer TEXT NOT NULL,
			billing_cycle TEXT NOT NULL,
			status TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			waived_by TEXT NOT NULL DEFAULT '',
			waived_reason TEXT NOT NULL DEFAULT '',
			approval_notes TEXT NOT NULL DEFAULT '',
			waived_at TEXT,
			billed_at TEXT,
			settled_at TEXT,
			created_at TEXT NOT NULL,
			UNIQUE (tenant_id, reference_type, reference_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_platform_fee_ledger_status ON platform_fee_ledger(tenant_id, status)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", snippet(stmt), err)
		}
	}

	return nil
}

// --- shared scan/format helpers ---

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullableTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func snippet(s string) string {
	if len(s) > 60 {
		return s[:60]
	}
	return s
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
