package store

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations applies every pending up migration in dir to the database.
// A non-empty table name keeps separate version bookkeeping when two schemas
// share one database.
func RunMigrations(databaseURL, dir string, table ...string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve migrations dir: %w", err)
	}

	dbURL := databaseURL
	if len(table) > 0 && table[0] != "" {
		u, err := url.Parse(databaseURL)
		if err != nil {
			return fmt.Errorf("parse database URL: %w", err)
		}
		q := u.Query()
		q.Set("x-migrations-table", table[0])
		u.RawQuery = q.Encode()
		dbURL = u.String()
	}

	m, err := migrate.New("file://"+filepath.ToSlash(abs), dbURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
