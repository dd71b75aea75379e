package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is a SQLite database holding one SQL table per output table.
type DB struct {
	conn *sql.DB
}

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Count returns the number of rows in a table.
func (db *DB) Count(ctx context.Context, table string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n)
	return n, err
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Table replaces the named table inside a transaction. The previous content
// stays visible until Close commits; Abort rolls back.
func (db *DB) Table(ctx context.Context, name string, columns []string) (*TableWriter, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s: no columns", name)
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	var defs, marks []string
	for _, c := range columns {
		defs = append(defs, quote(c)+" TEXT")
		marks = append(marks, "?")
	}
	stmts := []string{
		"DROP TABLE IF EXISTS " + quote(name),
		fmt.Sprintf("CREATE TABLE %s (%s)", quote(name), strings.Join(defs, ", ")),
	}
	for _, s := range stmts {
		if _, err := tx.ExecContext(ctx, s); err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
	}
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)",
		quote(name), strings.Join(marks, ", ")))
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	return &TableWriter{ctx: ctx, tx: tx, insert: insert, width: len(columns)}, nil
}

// TableWriter inserts rows into a single SQL table.
type TableWriter struct {
	ctx    context.Context
	tx     *sql.Tx
	insert *sql.Stmt
	width  int
	args   []any
	done   bool
}

// WriteRow inserts a row; it must have one value per column.
func (w *TableWriter) WriteRow(row []string) error {
	if len(row) != w.width {
		return fmt.Errorf("got %d values, want %d", len(row), w.width)
	}
	w.args = w.args[:0]
	for _, v := range row {
		w.args = append(w.args, v)
	}
	_, err := w.insert.ExecContext(w.ctx, w.args...)
	return err
}

// Close commits the table.
func (w *TableWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.insert.Close(); err != nil {
		return errors.Join(err, w.tx.Rollback())
	}
	return w.tx.Commit()
}

// Abort rolls back, leaving the previous table in place.
func (w *TableWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return errors.Join(w.insert.Close(), w.tx.Rollback())
}
