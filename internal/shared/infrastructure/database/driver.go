package database

import "strings"

// Driver identifies the storage backend behind a Connection.
type Driver string

const (
	// DriverPostgres is the hosted PostgreSQL backend.
	DriverPostgres Driver = "postgres"
	// DriverSQLite is the embedded single-file backend used in local mode and tests.
	DriverSQLite Driver = "sqlite"
	// DriverAuto selects the backend from the connection URL.
	DriverAuto Driver = "auto"
)

func (d Driver) String() string {
	return string(d)
}

// DetectDriver picks a backend from a connection string.
// An empty URL selects SQLite so the CLI works without any setup.
func DetectDriver(url string) Driver {
	switch {
	case url == "":
		return DriverSQLite
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return DriverPostgres
	case strings.HasPrefix(url, "sqlite://"), strings.HasPrefix(url, "file:"):
		return DriverSQLite
	}

	for _, ext := range []string{".db", ".sqlite", ".sqlite3"} {
		if strings.HasSuffix(url, ext) {
			return DriverSQLite
		}
	}
	return DriverPostgres
}

// IsValid reports whether d names a concrete backend.
func (d Driver) IsValid() bool {
	return d == DriverPostgres || d == DriverSQLite
}
