package database

import (
	"context"
	"database/sql"
)

// Row is a single result row; satisfied by pgx.Row and *sql.Row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result cursor; satisfied by wrapped pgx.Rows and *sql.Rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Result reports the outcome of an Exec.
type Result interface {
	RowsAffected() (int64, error)
}

// Executor runs statements against either a connection or an open transaction.
// Repositories depend on this interface only.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (Result, error)
	QueryRow(ctx context.Context, query string, args ...any) Row
	Query(ctx context.Context, query string, args ...any) (Rows, error)
}

// Transaction is an Executor that must be committed or rolled back.
type Transaction interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Connection is a pooled handle to one backend.
type Connection interface {
	Executor
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
	Ping(ctx context.Context) error
	Driver() Driver
}

// WrapSQLResult adapts sql.Result; sql.Result already satisfies Result,
// the wrapper only narrows the method set.
func WrapSQLResult(r sql.Result) Result {
	return r
}

type sqlRows struct {
	*sql.Rows
}

// WrapSQLRows adapts *sql.Rows to Rows.
func WrapSQLRows(r *sql.Rows) Rows {
	return sqlRows{Rows: r}
}

// WithTx runs fn inside a transaction on conn, committing when fn returns nil
// and rolling back otherwise.
func WithTx(ctx context.Context, conn Connection, fn func(tx Transaction) error) error {
	tx, err := conn.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
