package database

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRows is returned when a query expected to return a row returns none.
var ErrNoRows = errors.New("no rows in result set")

// pgUndefinedColumn is the SQLSTATE PostgreSQL raises for a missing column.
const pgUndefinedColumn = "42703"

// IsNoRows reports whether err means the query matched nothing,
// for both pgx and database/sql drivers.
func IsNoRows(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, pgx.ErrNoRows) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, ErrNoRows)
}

// IsUndefinedColumn reports whether err was raised because a query referenced
// a column the current schema does not have yet.
func IsUndefinedColumn(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedColumn
	}
	return strings.Contains(err.Error(), "no such column")
}
