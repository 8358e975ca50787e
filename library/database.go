package library

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const defaultBusyTimeout = 5 * time.Second

// Database owns the SQLite connection pool shared by every store.
type Database struct {
	db *sqlx.DB
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations. Transactions begin IMMEDIATE so concurrent writers queue
// on the busy timeout instead of failing on lock upgrade.
func NewDatabase(dbPath string, busyTimeout time.Duration) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=1&_txlock=immediate",
		dbPath, busyTimeout.Milliseconds())
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db}, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// withTx runs fn inside one transaction. Any error or panic from fn rolls
// back every write fn made.
func (d *Database) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL improves write concurrency.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS branches (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE,
            location TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS categories (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE
        );`,
		`CREATE TABLE IF NOT EXISTS authors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL UNIQUE
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            isbn TEXT NOT NULL UNIQUE,
            title TEXT NOT NULL,
            publication_year INTEGER NOT NULL DEFAULT 0,
            category_id INTEGER NOT NULL REFERENCES categories(id),
            status TEXT NOT NULL DEFAULT 'ACTIVE'
        );`,
		`CREATE TABLE IF NOT EXISTS book_authors (
            book_id INTEGER NOT NULL REFERENCES books(id),
            author_id INTEGER NOT NULL REFERENCES authors(id),
            PRIMARY KEY (book_id, author_id)
        );`,
		`CREATE TABLE IF NOT EXISTS branch_inventory (
            book_id INTEGER NOT NULL REFERENCES books(id),
            branch_id INTEGER NOT NULL REFERENCES branches(id),
            total_copies INTEGER NOT NULL DEFAULT 0,
            available_copies INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (book_id, branch_id),
            CHECK (available_copies >= 0 AND available_copies <= total_copies)
        );`,
		`CREATE TABLE IF NOT EXISTS members (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_type TEXT NOT NULL CHECK (member_type IN ('STUDENT','FACULTY')),
            full_name TEXT NOT NULL,
            email TEXT NOT NULL UNIQUE,
            phone TEXT,
            membership_start TEXT NOT NULL,
            membership_end TEXT NOT NULL,
            unpaid_balance TEXT NOT NULL DEFAULT '0.00'
        );`,
		`CREATE TABLE IF NOT EXISTS borrow_records (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_id INTEGER NOT NULL REFERENCES members(id),
            book_id INTEGER NOT NULL REFERENCES books(id),
            branch_id INTEGER NOT NULL REFERENCES branches(id),
            borrow_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT,
            renewals_count INTEGER NOT NULL DEFAULT 0 CHECK (renewals_count <= 1),
            late_fee TEXT NOT NULL DEFAULT '0.00'
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_member_open ON borrow_records(member_id, return_date);`,
		`CREATE INDEX IF NOT EXISTS idx_borrow_branch_due ON borrow_records(branch_id, due_date);`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            member_id INTEGER NOT NULL REFERENCES members(id),
            book_id INTEGER NOT NULL REFERENCES books(id),
            status TEXT NOT NULL DEFAULT 'WAITING'
                CHECK (status IN ('WAITING','READY','FULFILLED','EXPIRED')),
            reserved_at INTEGER NOT NULL,
            ready_until INTEGER,
            notified_at INTEGER
        );`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_queue ON reservations(book_id, status, reserved_at, id);`,
		`CREATE TABLE IF NOT EXISTS payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reference TEXT NOT NULL UNIQUE,
            member_id INTEGER NOT NULL REFERENCES members(id),
            amount TEXT NOT NULL,
            note TEXT,
            paid_at INTEGER NOT NULL
        );`,
		// Payments are a journal.
		`CREATE TRIGGER IF NOT EXISTS trg_payments_no_update BEFORE UPDATE ON payments BEGIN
            SELECT RAISE(ABORT, 'payments are append-only');
        END;`,
		`CREATE TRIGGER IF NOT EXISTS trg_payments_no_delete BEFORE DELETE ON payments BEGIN
            SELECT RAISE(ABORT, 'payments are append-only');
        END;`,
		// Returned loans are closed for good.
		`CREATE TRIGGER IF NOT EXISTS trg_borrow_closed BEFORE UPDATE ON borrow_records
            WHEN old.return_date IS NOT NULL BEGIN
            SELECT RAISE(ABORT, 'borrow record is closed');
        END;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}
