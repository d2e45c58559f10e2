package review

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) the review outbox at the given path and ensures
// its table exists. Pass ":memory:" for an in-memory outbox.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Every pooled connection to ":memory:" would see its own empty database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
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
		`CREATE TABLE IF NOT EXISTS review_items (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source_file TEXT NOT NULL,
			row_index INTEGER NOT NULL,
			identity TEXT NOT NULL,
			payment_date TEXT NOT NULL,
			amount TEXT NOT NULL,
			document_number TEXT NOT NULL,
			loan_id INTEGER,
			reconciled INTEGER NOT NULL,
			reason TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE (session_id, row_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_review_items_created_at ON review_items(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_review_items_document ON review_items(document_number)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}

	return nil
}
