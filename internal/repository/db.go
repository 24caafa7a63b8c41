package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist.
func InitDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// One connection keeps PRAGMAs in effect and serialises writers, so the
	// unique keys are the only arbiter between concurrent requests.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

// Money columns hold ten-thousandths of the currency unit as integers.
func createTables(db *sqlx.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS report_notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			psp_reference TEXT,
			merchant_account TEXT,
			event_code TEXT NOT NULL,
			event_date TEXT,
			success INTEGER NOT NULL DEFAULT 0,
			reason TEXT,
			download_url TEXT,
			raw_json TEXT NOT NULL,
			received_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_report_notifications_event ON report_notifications(event_code)`,

		`CREATE TABLE IF NOT EXISTS reports (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			notification_id INTEGER UNIQUE,
			merchant_account TEXT,
			file_name TEXT,
			file_path TEXT,
			download_url TEXT,
			report_type TEXT,
			batch_number_from_name INTEGER,
			report_date TEXT,
			status TEXT NOT NULL DEFAULT 'QUEUED',
			last_error TEXT,
			processed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY (notification_id) REFERENCES report_notifications(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status)`,

		`CREATE TABLE IF NOT EXISTS settlements (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_number INTEGER NOT NULL,
			report_filename TEXT NOT NULL,
			report_psp_reference TEXT,
			report_date TEXT,
			gross_currency TEXT,
			net_currency TEXT,
			gross_debit INTEGER NOT NULL DEFAULT 0,
			gross_credit INTEGER NOT NULL DEFAULT 0,
			net_debit INTEGER NOT NULL DEFAULT 0,
			net_credit INTEGER NOT NULL DEFAULT 0,
			commission INTEGER NOT NULL DEFAULT 0,
			processing_fee INTEGER NOT NULL DEFAULT 0,
			markup INTEGER NOT NULL DEFAULT 0,
			scheme_fees INTEGER NOT NULL DEFAULT 0,
			interchange INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (batch_number, report_filename)
		)`,

		`CREATE TABLE IF NOT EXISTS settlement_details (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			psp_reference TEXT NOT NULL DEFAULT '',
			modification_reference TEXT NOT NULL DEFAULT '',
			merchant_reference TEXT,
			modification_merchant_reference TEXT,
			type TEXT NOT NULL DEFAULT '',
			creation_date TEXT,
			timezone TEXT,
			gross_currency TEXT,
			net_currency TEXT,
			gross_debit INTEGER NOT NULL DEFAULT 0,
			gross_credit INTEGER NOT NULL DEFAULT 0,
			net_debit INTEGER NOT NULL DEFAULT 0,
			net_credit INTEGER NOT NULL DEFAULT 0,
			commission INTEGER NOT NULL DEFAULT 0,
			processing_fee INTEGER NOT NULL DEFAULT 0,
			markup INTEGER NOT NULL DEFAULT 0,
			scheme_fees INTEGER NOT NULL DEFAULT 0,
			interchange INTEGER NOT NULL DEFAULT 0,
			payment_method TEXT,
			payment_method_variant TEXT,
			batch_number INTEGER NOT NULL DEFAULT 0,
			settlement_id INTEGER,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			UNIQUE (psp_reference, type, modification_reference, batch_number),
			FOREIGN KEY (settlement_id) REFERENCES settlements(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_details_settlement ON settlement_details(settlement_id)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_details_merchant_ref ON settlement_details(merchant_reference)`,
		`CREATE INDEX IF NOT EXISTS idx_settlement_details_creation ON settlement_details(creation_date)`,

		// Owned by the order service; created here for standalone runs.
		`CREATE TABLE IF NOT EXISTS orders (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_number TEXT UNIQUE NOT NULL,
			currency TEXT NOT NULL DEFAULT 'AED',
			amount_minor INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'PENDING',
			psp_ref TEXT,
			processing_fee NUMERIC,
			settled_at TEXT,
			settlement_batch INTEGER,
			created_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id INTEGER NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			amount_minor INTEGER NOT NULL,
			currency TEXT NOT NULL,
			psp_ref TEXT,
			raw_method TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (order_id) REFERENCES orders(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_psp_ref ON transactions(psp_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_order_type ON transactions(order_id, type)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}

// --- helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}
