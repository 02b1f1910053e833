// Package repository provides data access layer implementations for the
// settlement bridge.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardsettle/bridge/internal/models"
)

// Querier is the subset of database/sql used by repositories, satisfied by
// both *db.DB and *sql.Tx
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CardRepository defines the interface for card data access
type CardRepository interface {
	FindByID(ctx context.Context, id string) (*models.Card, error)
}

type cardRepository struct {
	db Querier
}

// NewCardRepository creates a new CardRepository
func NewCardRepository(database Querier) CardRepository {
	return &cardRepository{db: database}
}

// FindByID retrieves a card by its provider-assigned id
func (r *cardRepository) FindByID(ctx context.Context, id string) (*models.Card, error) {
	query := `
		SELECT id, account, mode, status, created_at, updated_at
		FROM cards
		WHERE id = $1
	`

	var card models.Card
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&card.ID,
		&card.Account,
		&card.Mode,
		&card.Status,
		&card.CreatedAt,
		&card.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card by id: %w", err)
	}

	return &card, nil
}
