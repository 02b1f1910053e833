package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cardsettle/bridge/internal/config"
	"github.com/cardsettle/bridge/internal/db"
)

// setupTestDB connects to the configured Postgres instance and applies the
// schema. Tests are skipped when no database is reachable so the suite can
// run without infrastructure.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Skipf("skipping database tests: %v", err)
	}

	logger := cfg.Logger.NewLogger()
	database, err := db.Connect(context.Background(), &cfg.Database, logger)
	if err != nil {
		t.Skipf("skipping database tests: %v", err)
	}

	runMigrations(t, database)
	truncateTables(t, database)

	t.Cleanup(func() {
		_ = database.Close()
	})
	return database
}

func runMigrations(t *testing.T, database *db.DB) {
	t.Helper()

	migrationPath := filepath.Join("..", "db", "migrations", "000001_init.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath) // #nosec G304
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	if _, err := database.ExecContext(context.Background(), string(sqlBytes)); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
}

func truncateTables(t *testing.T, database *db.DB) {
	t.Helper()

	if _, err := database.ExecContext(context.Background(), `
		TRUNCATE TABLE operations CASCADE;
		TRUNCATE TABLE cards CASCADE;
	`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func insertCard(t *testing.T, database *db.DB, id, account string, mode int, status string) {
	t.Helper()

	_, err := database.ExecContext(context.Background(), `
		INSERT INTO cards (id, account, mode, status) VALUES ($1, $2, $3, $4)
	`, id, account, mode, status)
	if err != nil {
		t.Fatalf("failed to insert card: %v", err)
	}
}
