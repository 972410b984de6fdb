package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Config selects and parameterises a backend.
type Config struct {
	// Driver is postgres, sqlite or auto. Empty means auto.
	Driver Driver

	// URL is the PostgreSQL connection string.
	URL string

	// SQLitePath is the database file for local mode. Defaults to ~/.coachpage/coachpage.db.
	SQLitePath string

	// MaxConns caps the PostgreSQL pool.
	MaxConns int
}

// ResolvedDriver returns the backend cfg selects once auto-detection is applied.
func (cfg Config) ResolvedDriver() Driver {
	if cfg.Driver == "" || cfg.Driver == DriverAuto {
		return DetectDriver(cfg.URL)
	}
	return cfg.Driver
}

type connector func(ctx context.Context, cfg Config) (Connection, error)

var connectors = map[Driver]connector{}

// Register installs the connector for a backend. Driver packages call it from init,
// so importing the driver package for side effects is what makes a backend available.
func Register(driver Driver, fn func(ctx context.Context, cfg Config) (Connection, error)) {
	connectors[driver] = fn
}

// Open connects to the backend cfg selects.
func Open(ctx context.Context, cfg Config) (Connection, error) {
	driver := cfg.ResolvedDriver()
	fn, ok := connectors[driver]
	if !ok {
		return nil, fmt.Errorf("database driver %q is not registered", driver)
	}
	return fn(ctx, cfg)
}

// DefaultSQLitePath is the local-mode database file under the user's home directory.
func DefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".coachpage", "coachpage.db")
}

// EnsureDirectory creates the parent directory of path.
func EnsureDirectory(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
