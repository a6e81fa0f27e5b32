package registry

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"sitedeploy/internal/logging"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewMigrator builds a golang-migrate instance bound to the embedded
// migration set and a raw database/sql connection, distinct from GORM's
// own connection, since the migration tool tracks its own version table
// outside GORM's model layer. The caller owns closing the returned
// instance's underlying connection via Close.
func NewMigrator(dsn string) (*migrate.Migrate, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open migration connection: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("registry: postgres migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("registry: read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("registry: build migration runner: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending migration to a Postgres-backed
// registry. The sqlite path never calls this: its schema is brought up
// to date by GORM's AutoMigrate in Connect.
func RunMigrations(dsn string) error {
	m, err := NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("registry: apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logging.S().Infow("registry migrations applied", "version", version, "dirty", dirty)
	return nil
}
