package registry

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sitedeploy/internal/errs"
)

// Driver selects the backing SQL engine.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config describes how to reach the registry's backing store.
type Config struct {
	Driver Driver
	// DSN is a file path for sqlite, or a libpq connection string for
	// postgres (host=... port=... user=... password=... dbname=...).
	DSN string
}

// Connect opens the registry's GORM connection and migrates its schema.
// The sqlite path uses GORM's AutoMigrate directly (the pure-Go driver
// has no version-tracking migration tool without pulling in cgo); the
// postgres path additionally runs the versioned migration set in
// internal/registry/migrations via a raw database/sql connection, see
// Migrator in migrate.go.
func Connect(cfg Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var db *gorm.DB
	var err error
	switch cfg.Driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormCfg)
	case DriverSQLite, "":
		db, err = gorm.Open(sqlite.Open(cfg.DSN), gormCfg)
	default:
		return nil, errs.New(errs.KindConflict, "registry.Connect", fmt.Sprintf("unsupported driver %q", cfg.Driver))
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.Connect", err)
	}

	if cfg.Driver == DriverPostgres {
		if err := RunMigrations(cfg.DSN); err != nil {
			return nil, errs.Wrap(errs.KindConflict, "registry.Connect", err)
		}
	}

	if err := db.AutoMigrate(
		&Site{},
		&EditingSession{},
		&DynamicRoute{},
		&BranchCommit{},
		&AdminSettings{},
		&PortAllocation{},
	); err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.Connect", err)
	}

	return db, nil
}

// DefaultConfig points at a single sqlite file under dataDir, matching
// the "one SQL file" default deployment.
func DefaultConfig(dataDir string) Config {
	return Config{Driver: DriverSQLite, DSN: dataDir + "/sitedeploy.db"}
}
