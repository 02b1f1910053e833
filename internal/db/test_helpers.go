package db

import (
	"database/sql"
	"io"
	"log/slog"
)

// NewTestDB wraps an already-open connection for the repository tests,
// discarding log output.
func NewTestDB(sqlDB *sql.DB) *DB {
	return &DB{
		DB:     sqlDB,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}
