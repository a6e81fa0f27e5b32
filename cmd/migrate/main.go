// Command migrate drives the registry's schema migrations directly,
// outside of the control plane's own startup path.
//
// Usage:
//
//	go run cmd/migrate/main.go up           # Apply all pending migrations
//	go run cmd/migrate/main.go down         # Rollback last migration
//	go run cmd/migrate/main.go down-all     # Rollback all migrations
//	go run cmd/migrate/main.go version      # Show current migration version
//	go run cmd/migrate/main.go to N         # Migrate to specific version N
//	go run cmd/migrate/main.go force N      # Force version to N (fix dirty state)
package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"sitedeploy/internal/registry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			if err := godotenv.Load("../../.env"); err != nil {
				log.Println("no .env file found, using environment variables")
			}
		}
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dsn := getEnv("DATABASE_URL", "")
	if dsn == "" {
		log.Fatal("DATABASE_URL must be set to a postgres connection string")
	}

	m, err := registry.NewMigrator(dsn)
	if err != nil {
		log.Fatalf("failed to build migrator: %v", err)
	}
	defer m.Close()

	switch command := os.Args[1]; command {
	case "up":
		runUp(m)
	case "down":
		runDown(m)
	case "down-all":
		runDownAll(m)
	case "version":
		showVersion(m)
	case "to":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate to <version>")
		}
		version, err := strconv.ParseUint(os.Args[2], 10, 32)
		if err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}
		runTo(m, uint(version))
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate force <version>")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("invalid version number: %s", os.Args[2])
		}
		runForce(m, version)
	case "help":
		printUsage()
	default:
		log.Printf("unknown command: %s", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`
Registry migration tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply all pending migrations
  down            Rollback the last migration
  down-all        Rollback all migrations (WARNING: deletes all data!)
  version         Show current migration version
  to <N>          Migrate to specific version N
  force <N>       Force version to N (use to fix dirty state)
  help            Show this help message

Environment Variables:
  DATABASE_URL    Postgres connection string
`)
}

func runUp(m *migrate.Migrate) {
	log.Println("applying all pending migrations...")
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration failed: %v", err)
	}
	log.Println("all migrations applied")
}

func runDown(m *migrate.Migrate) {
	log.Println("rolling back last migration...")
	if err := m.Steps(-1); err != nil {
		log.Fatalf("rollback failed: %v", err)
	}
	log.Println("rollback complete")
}

func runDownAll(m *migrate.Migrate) {
	log.Println("WARNING: this will rollback ALL migrations and delete all data!")
	log.Println("press Ctrl+C within 5 seconds to cancel...")
	time.Sleep(5 * time.Second)

	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("rollback all failed: %v", err)
	}
	log.Println("all migrations rolled back")
}

func showVersion(m *migrate.Migrate) {
	version, dirty, err := m.Version()
	if err != nil {
		log.Fatalf("failed to get version: %v", err)
	}
	fmt.Printf("version: %d\ndirty: %v\n", version, dirty)
	if dirty {
		fmt.Println("\nWARNING: database is in a dirty state")
		fmt.Printf("use 'migrate force %d' to fix, then retry\n", version-1)
	}
}

func runTo(m *migrate.Migrate, version uint) {
	log.Printf("migrating to version %d...", version)
	if err := m.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migration to version %d failed: %v", version, err)
	}
	log.Printf("migrated to version %d", version)
}

func runForce(m *migrate.Migrate, version int) {
	log.Printf("forcing migration version to %d...", version)
	if err := m.Force(version); err != nil {
		log.Fatalf("force failed: %v", err)
	}
	log.Printf("version forced to %d", version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
