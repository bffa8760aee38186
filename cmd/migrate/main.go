// Command migrate runs database migrations via goose.
//
// Usage:
//
//	go run ./cmd/migrate up          # Apply all pending migrations
//	go run ./cmd/migrate down        # Roll back the last migration
//	go run ./cmd/migrate status      # Show migration status
//	go run ./cmd/migrate version     # Show current schema version
//	go run ./cmd/migrate redo        # Roll back and re-apply last migration
//
// DATABASE_URL selects Postgres. Without it, SQLITE_PATH selects a SQLite
// file. The SQLite stores create their own schema on startup, so this is
// mainly for Postgres deployments.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/pressly/goose/v3"

	"github.com/mbd888/fraudwatchdog/internal/dbutil"
)

const migrationsDir = "migrations"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	ctx := context.Background()
	db, dialect, err := open(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect(dialect); err != nil {
		log.Fatalf("Failed to set dialect: %v", err)
	}

	command := os.Args[1]
	args := os.Args[2:]

	if err := goose.RunContext(ctx, command, db, migrationsDir, args...); err != nil {
		log.Fatalf("Migration %s failed: %v", command, err)
	}
}

func open(ctx context.Context) (*sql.DB, string, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		db, err := dbutil.OpenPostgres(ctx, url)
		return db, "postgres", err
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		db, err := dbutil.OpenSQLite(ctx, path)
		return db, "sqlite3", err
	}
	return nil, "", fmt.Errorf("DATABASE_URL or SQLITE_PATH environment variable is required")
}
