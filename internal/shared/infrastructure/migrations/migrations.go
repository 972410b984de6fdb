// Package migrations applies the embedded, versioned schema to a database connection.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/coachpage/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Latest applies every migration.
const Latest = 0

// Migration is one embedded up script.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// List returns the migrations for driver in version order.
func List(driver database.Driver) ([]Migration, error) {
	dir := driver.String()
	entries, err := fs.ReadDir(files, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dir, err)
	}

	var out []Migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("migration %s: missing version prefix", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: bad version: %w", name, err)
		}
		body, err := fs.ReadFile(files, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".up.sql"),
			SQL:     string(body),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Up applies all pending migrations.
func Up(ctx context.Context, conn database.Connection) (int, error) {
	return UpTo(ctx, conn, Latest)
}

// UpTo applies pending migrations up to and including target. A target of
// Latest applies everything. It returns how many migrations ran.
func UpTo(ctx context.Context, conn database.Connection, target int) (int, error) {
	migrations, err := List(conn.Driver())
	if err != nil {
		return 0, err
	}
	if _, err := conn.Exec(ctx, trackingTable(conn.Driver())); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := Applied(ctx, conn)
	if err != nil {
		return 0, err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	ran := 0
	for _, m := range migrations {
		if target != Latest && m.Version > target {
			break
		}
		if done[m.Version] {
			continue
		}
		err := database.WithTx(ctx, conn, func(tx database.Transaction) error {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, recordVersion(conn.Driver()), m.Version, m.Name)
			return err
		})
		if err != nil {
			return ran, fmt.Errorf("apply migration %s: %w", m.Name, err)
		}
		ran++
	}
	return ran, nil
}

// Applied returns the versions recorded in schema_migrations, ascending.
func Applied(ctx context.Context, conn database.Connection) ([]int, error) {
	rows, err := conn.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func trackingTable(driver database.Driver) string {
	if driver == database.DriverPostgres {
		return `CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	}
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
	)`
}

func recordVersion(driver database.Driver) string {
	if driver == database.DriverPostgres {
		return `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`
	}
	return `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`
}
