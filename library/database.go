package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3" // dialect registration
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const dateLayout = "2006-01-02"

// driverName is go-sqlite3 with the casefold SQL function registered on every
// connection. SQLite's own lower() only folds ASCII.
const driverName = "sqlite3_casefold"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", foldCase, true)
		},
	})
}

// foldCase is the case folding used on both sides of a catalog search.
func foldCase(s string) string { return strings.ToLower(s) }

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Database provides high-level helpers around a SQLite connection.
type Database struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	logger  Logger
	now     func() time.Time

	addBookStmt *sqlx.Stmt
	addUserStmt *sqlx.Stmt
}

// Option configures a Database.
type Option func(*Database)

// WithLogger routes SQL diagnostics to logger.
func WithLogger(logger Logger) Option {
	return func(d *Database) { d.logger = logger }
}

// WithClock replaces time.Now, which decides borrow and return dates.
func WithClock(now func() time.Time) Option {
	return func(d *Database) { d.now = now }
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// _txlock=immediate makes every transaction take the write lock when it
	// begins, so borrow and return never interleave with another writer.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath)
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	database := &Database{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(database)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := database.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addUserStmt != nil {
		d.addUserStmt.Close()
	}
	return d.db.Close()
}

func (d *Database) today() string { return d.now().Format(dateLayout) }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sqlx.DB) error {
	// WAL keeps readers going while a borrow holds the write lock.
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
		`CREATE TABLE IF NOT EXISTS categories (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL CHECK (length(name) <= 100)
        );`,
		`CREATE TABLE IF NOT EXISTS authors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL CHECK (length(name) <= 100)
        );`,
		`CREATE TABLE IF NOT EXISTS books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            title TEXT NOT NULL CHECK (length(title) <= 200),
            author_id INTEGER NOT NULL REFERENCES authors(id) ON DELETE CASCADE,
            category_id INTEGER NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
            isbn TEXT NOT NULL UNIQUE CHECK (length(isbn) <= 13),
            quantity INTEGER NOT NULL DEFAULT 1 CHECK (quantity >= 0),
            description TEXT NOT NULL DEFAULT ''
        );`,
		`CREATE TABLE IF NOT EXISTS users (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            username TEXT NOT NULL UNIQUE,
            password_hash TEXT NOT NULL,
            date_joined DATETIME NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS borrowed_books (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
            book_id INTEGER NOT NULL REFERENCES books(id) ON DELETE CASCADE,
            borrow_date DATE NOT NULL,
            return_date DATE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_borrowed_books_user ON borrowed_books(user_id, return_date);`,
		`CREATE TABLE IF NOT EXISTS sessions (
            token TEXT PRIMARY KEY,
            user_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
            flashes TEXT NOT NULL DEFAULT '[]',
            created_at DATETIME NOT NULL,
            expires_at INTEGER NOT NULL
        );`,
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

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements() error {
	var err error
	if d.addBookStmt, err = d.db.Preparex(`INSERT INTO books(title,author_id,category_id,isbn,quantity,description) VALUES(?,?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addUserStmt, err = d.db.Preparex(`INSERT INTO users(username,password_hash,date_joined) VALUES(?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// inTx runs fn inside a write transaction and commits when fn succeeds.
func (d *Database) inTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	start := d.now()
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		d.logger.Error("begin transaction failed", "operation", op, "error", err)
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		d.logger.Error("commit failed", "operation", op, "error", err)
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	d.logger.Debug("transaction committed", "operation", op, "duration_ms", d.now().Sub(start).Milliseconds())
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func noRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
