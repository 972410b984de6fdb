package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

func openTestConnection(t *testing.T) database.Connection {
	t.Helper()

	conn, err := database.Open(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestOpen_RegistersSQLite(t *testing.T) {
	conn := openTestConnection(t)

	assert.NoError(t, conn.Ping(context.Background()))
	assert.Equal(t, database.DriverSQLite, conn.Driver())
}

func TestConnection_ExecAndQuery(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	_, err := conn.Exec(ctx, `CREATE TABLE coaches (id TEXT PRIMARY KEY, name TEXT)`)
	require.NoError(t, err)

	res, err := conn.Exec(ctx, `INSERT INTO coaches (id, name) VALUES (?, ?)`, "1", "Sam")
	require.NoError(t, err)
	affected, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	_, err = conn.Exec(ctx, `INSERT INTO coaches (id, name) VALUES (?, ?)`, "2", "Riley")
	require.NoError(t, err)

	var name string
	require.NoError(t, conn.QueryRow(ctx, `SELECT name FROM coaches WHERE id = ?`, "1").Scan(&name))
	assert.Equal(t, "Sam", name)

	rows, err := conn.Query(ctx, `SELECT name FROM coaches ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		names = append(names, n)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"Sam", "Riley"}, names)
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	_, err := conn.Exec(ctx, `CREATE TABLE coaches (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	err = database.WithTx(ctx, conn, func(tx database.Transaction) error {
		_, err := tx.Exec(ctx, `INSERT INTO coaches (id) VALUES (?)`, "kept")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = database.WithTx(ctx, conn, func(tx database.Transaction) error {
		if _, err := tx.Exec(ctx, `INSERT INTO coaches (id) VALUES (?)`, "dropped"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(*) FROM coaches`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestUndefinedColumnIsClassified(t *testing.T) {
	ctx := context.Background()
	conn := openTestConnection(t)

	_, err := conn.Exec(ctx, `CREATE TABLE coaches (id TEXT PRIMARY KEY)`)
	require.NoError(t, err)

	var v string
	err = conn.QueryRow(ctx, `SELECT missing FROM coaches`).Scan(&v)
	require.Error(t, err)
	assert.True(t, database.IsUndefinedColumn(err))
}

func TestTimestampRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 123456000, time.FixedZone("CET", 3600))

	stored := FormatTime(at)
	assert.Equal(t, "2026-03-01T08:30:00.123456Z", stored)

	parsed, err := ParseTime(stored)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(at))

	none, err := ParseNullTime(FormatNullTime(nil))
	require.NoError(t, err)
	assert.Nil(t, none)

	legacy, err := ParseTime("2026-03-01T08:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, legacy.Location())
}
