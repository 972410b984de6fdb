package migrations

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database/sqlite"
)

func openSQLite(t *testing.T) database.Connection {
	t.Helper()
	conn, err := database.Open(context.Background(), database.Config{
		Driver:     database.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "migrations.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestList_BothDriversInOrder(t *testing.T) {
	for _, driver := range []database.Driver{database.DriverSQLite, database.DriverPostgres} {
		ms, err := List(driver)
		require.NoError(t, err)
		require.Len(t, ms, 3, driver)
		assert.Equal(t, 1, ms[0].Version)
		assert.Equal(t, "000002_entitlement_lifecycle", ms[1].Name)
		assert.Equal(t, "000003_stripe_subscriptions", ms[2].Name)
	}
}

func TestUp_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)

	ran, err := Up(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 3, ran)

	ran, err = Up(ctx, conn)
	require.NoError(t, err)
	assert.Zero(t, ran)

	versions, err := Applied(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestUpTo_StopsAtTarget(t *testing.T) {
	ctx := context.Background()
	conn := openSQLite(t)

	ran, err := UpTo(ctx, conn, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, ran)

	var v string
	err = conn.QueryRow(ctx, `SELECT override_pro FROM pro_entitlements`).Scan(&v)
	assert.True(t, database.IsUndefinedColumn(err))

	ran, err = Up(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 2, ran)

	var n int
	require.NoError(t, conn.QueryRow(ctx, `SELECT COUNT(override_pro) FROM pro_entitlements`).Scan(&n))
	assert.Zero(t, n)
}
