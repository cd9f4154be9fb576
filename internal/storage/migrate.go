package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// MigrateUp applies every pending migration.
func (s *SQLStore) MigrateUp() error {
	return s.migrate(func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back every applied migration.
func (s *SQLStore) MigrateDown() error {
	return s.migrate(func(m *migrate.Migrate) error { return m.Down() })
}

// MigrateVersion reports the applied schema version.
func (s *SQLStore) MigrateVersion() (version uint, dirty bool, err error) {
	err = s.migrate(func(m *migrate.Migrate) error {
		v, d, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			return nil
		}
		version, dirty = v, d
		return verr
	})
	return version, dirty, err
}

// migrate runs fn on a dedicated connection, since closing a migrate
// instance closes its database handle.
func (s *SQLStore) migrate(fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.cfg.Driver)
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	db, err := sql.Open(s.cfg.Driver, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("migration connection: %w", err)
	}

	var driver database.Driver
	switch s.cfg.Driver {
	case DriverSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{})
	case DriverPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{})
	default:
		err = fmt.Errorf("no migrations for driver %s", s.cfg.Driver)
	}
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.cfg.Driver, driver)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("migration init: %w", err)
	}
	defer m.Close()

	if err := fn(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration: %w", err)
	}
	s.logger.Debug("migrations applied", "driver", s.cfg.Driver)
	return nil
}
