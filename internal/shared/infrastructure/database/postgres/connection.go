package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

func init() {
	database.Register(database.DriverPostgres, NewConnection)
}

// Connection adapts a pgx pool to database.Connection.
type Connection struct {
	pool *pgxpool.Pool
}

// NewConnection opens a pgx pool for cfg.URL.
func NewConnection(ctx context.Context, cfg database.Config) (database.Connection, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: database URL is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Pool exposes the underlying pool.
func (c *Connection) Pool() *pgxpool.Pool { return c.pool }

func (c *Connection) Driver() database.Driver { return database.DriverPostgres }

func (c *Connection) Close() error {
	c.pool.Close()
	return nil
}

func (c *Connection) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

func (c *Connection) BeginTx(ctx context.Context) (database.Transaction, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Transaction{tx: tx}, nil
}

func (c *Connection) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return result{tag: tag}, nil
}

func (c *Connection) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return c.pool.QueryRow(ctx, query, args...)
}

func (c *Connection) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rs, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows{Rows: rs}, nil
}

// Transaction adapts pgx.Tx to database.Transaction.
type Transaction struct {
	tx pgx.Tx
}

func (t *Transaction) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Transaction) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

func (t *Transaction) Exec(ctx context.Context, query string, args ...any) (database.Result, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return result{tag: tag}, nil
}

func (t *Transaction) QueryRow(ctx context.Context, query string, args ...any) database.Row {
	return t.tx.QueryRow(ctx, query, args...)
}

func (t *Transaction) Query(ctx context.Context, query string, args ...any) (database.Rows, error) {
	rs, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows{Rows: rs}, nil
}

type result struct {
	tag pgconn.CommandTag
}

func (r result) RowsAffected() (int64, error) { return r.tag.RowsAffected(), nil }

type rows struct {
	pgx.Rows
}

func (r rows) Close() error {
	r.Rows.Close()
	return nil
}
