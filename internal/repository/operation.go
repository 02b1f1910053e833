package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/cardsettle/bridge/internal/models"
)

// OperationRepository is the durable idempotency store: one record per
// (operation id, card id) holding every webhook body received and every
// transaction hash produced.
type OperationRepository interface {
	Find(ctx context.Context, cardID, operationID string) (*models.Operation, error)
	Insert(ctx context.Context, operation *models.Operation) error
	// Append adds a body and optionally a hash to an existing operation.
	// The version must match the record's current version or
	// models.ErrStaleOperation is returned; the caller re-reads and
	// retries.
	Append(ctx context.Context, cardID, operationID, hash string, body json.RawMessage, version int64) error
	SetReceiptStatus(ctx context.Context, cardID, operationID string, status models.ReceiptStatus) error
	ListPendingReceipts(ctx context.Context, limit int) ([]*models.Operation, error)
}

// payloadEnvelope is the shape of the operations.payload document
type payloadEnvelope struct {
	Bodies   []json.RawMessage `json:"bodies"`
	Merchant *models.Merchant  `json:"merchant,omitempty"`
}

type operationRepository struct {
	db Querier
}

// NewOperationRepository creates a new OperationRepository
func NewOperationRepository(database Querier) OperationRepository {
	return &operationRepository{db: database}
}

func (r *operationRepository) Find(ctx context.Context, cardID, operationID string) (*models.Operation, error) {
	query := `
		SELECT id, card_id, provider, hashes, payload, receipt_status, version, created_at
		FROM operations
		WHERE id = $1 AND card_id = $2
	`

	operation, err := scanOperation(r.db.QueryRowContext(ctx, query, operationID, cardID))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find operation: %w", err)
	}
	return operation, nil
}

func (r *operationRepository) Insert(ctx context.Context, operation *models.Operation) error {
	// Normalize nil slices: the bodies array must exist in the document for
	// later jsonb concatenation, and the hashes column is NOT NULL.
	bodies := operation.Bodies
	if bodies == nil {
		bodies = []json.RawMessage{}
	}
	hashes := operation.Hashes
	if hashes == nil {
		hashes = []string{}
	}

	payload, err := json.Marshal(payloadEnvelope{
		Bodies:   bodies,
		Merchant: operation.Merchant,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal operation payload: %w", err)
	}

	query := `
		INSERT INTO operations (id, card_id, provider, hashes, payload, receipt_status, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
	`

	_, err = r.db.ExecContext(ctx, query,
		operation.ID,
		operation.CardID,
		operation.Provider,
		pq.Array(hashes),
		payload,
		models.ReceiptStatusPending,
	)
	if isUniqueViolation(err) {
		return models.ErrDuplicateOperation
	}
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}
	return nil
}

func (r *operationRepository) Append(ctx context.Context, cardID, operationID, hash string, body json.RawMessage, version int64) error {
	query := `
		UPDATE operations
		SET hashes = CASE WHEN $4 = '' THEN hashes ELSE array_append(hashes, $4) END,
		    payload = jsonb_set(payload, '{bodies}', payload->'bodies' || $5::jsonb),
		    receipt_status = CASE WHEN $4 = '' THEN receipt_status ELSE $6 END,
		    version = version + 1
		WHERE id = $1 AND card_id = $2 AND version = $3
	`

	result, err := r.db.ExecContext(ctx, query,
		operationID, cardID, version, hash, []byte(body), models.ReceiptStatusPending)
	if err != nil {
		return fmt.Errorf("failed to append to operation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrStaleOperation
	}
	return nil
}

func (r *operationRepository) SetReceiptStatus(ctx context.Context, cardID, operationID string, status models.ReceiptStatus) error {
	query := `
		UPDATE operations
		SET receipt_status = $3
		WHERE id = $1 AND card_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, operationID, cardID, status)
	if err != nil {
		return fmt.Errorf("failed to set receipt status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *operationRepository) ListPendingReceipts(ctx context.Context, limit int) ([]*models.Operation, error) {
	query := `
		SELECT id, card_id, provider, hashes, payload, receipt_status, version, created_at
		FROM operations
		WHERE receipt_status = $1 AND cardinality(hashes) > 0
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, models.ReceiptStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending receipts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var operations []*models.Operation
	for rows.Next() {
		operation, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		operations = append(operations, operation)
	}
	return operations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*models.Operation, error) {
	var operation models.Operation
	var payload []byte
	err := row.Scan(
		&operation.ID,
		&operation.CardID,
		&operation.Provider,
		pq.Array(&operation.Hashes),
		&payload,
		&operation.ReceiptStatus,
		&operation.Version,
		&operation.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var envelope payloadEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal operation payload: %w", err)
	}
	operation.Bodies = envelope.Bodies
	operation.Merchant = envelope.Merchant
	return &operation, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
