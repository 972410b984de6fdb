package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

func init() {
	database.Register(database.DriverSQLite, NewConnection)
}

// pragmas applied to every connection:
// WAL journaling, enforced foreign keys, a 5s busy wait and NORMAL sync.
const pragmas = "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// Connection adapts *sql.DB backed by modernc.org/sqlite to database.Connection.
type Connection struct {
	db *sql.DB
}

// NewConnection opens (creating if needed) the SQLite file at cfg.SQLitePath.
func NewConnection(ctx context.Context, cfg database.Config) (database.Connection, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = database.DefaultSQLitePath()
	}
	if err := database.EnsureDirectory(path); err != nil {
		return nil, fmt.Errorf("sqlite: create directory: %w", err)
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", path+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// One writer at a time; a single pooled connection serialises access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	return &Connection{db: db}, nil
}

// DB exposes the underlying handle.
func (c *Connection) DB() *sql.DB { return c.db }

func (c *Connection) Driver() database.Driver { return database.DriverSQLite }

func (c *Connection) Close() error { return c.db.Close() }

func (c *Connection) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Transaction{tx: tx}, nil
}

func (c *Connection) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return database.WrapSQLResult(res), nil
}

func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

func (c *Connection) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rs, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return database.WrapSQLRows(rs), nil
}

// Transaction adapts *sql.Tx to database.Transaction.
type Transaction struct {
	tx *sql.Tx
}

func (t *Transaction) Commit(context.Context) error   { return t.tx.Commit() }
func (t *Transaction) Rollback(context.Context) error { return t.tx.Rollback() }

func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return database.WrapSQLResult(res), nil
}

func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Transaction) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rs, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return database.WrapSQLRows(rs), nil
}
