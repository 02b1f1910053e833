package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardsettle/bridge/internal/models"
)

type fakeOperations struct {
	ops map[string]*models.Operation
}

func (f *fakeOperations) key(cardID, operationID string) string {
	return cardID + "/" + operationID
}

func (f *fakeOperations) Find(_ context.Context, cardID, operationID string) (*models.Operation, error) {
	operation, ok := f.ops[f.key(cardID, operationID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return operation, nil
}

func (f *fakeOperations) Insert(_ context.Context, operation *models.Operation) error {
	f.ops[f.key(operation.CardID, operation.ID)] = operation
	return nil
}

func (f *fakeOperations) Append(context.Context, string, string, string, json.RawMessage, int64) error {
	return nil
}

func (f *fakeOperations) SetReceiptStatus(_ context.Context, cardID, operationID string, status models.ReceiptStatus) error {
	operation, ok := f.ops[f.key(cardID, operationID)]
	if !ok {
		return models.ErrNotFound
	}
	operation.ReceiptStatus = status
	return nil
}

func (f *fakeOperations) ListPendingReceipts(_ context.Context, limit int) ([]*models.Operation, error) {
	var pending []*models.Operation
	for _, operation := range f.ops {
		if operation.ReceiptStatus == models.ReceiptStatusPending && len(operation.Hashes) > 0 {
			pending = append(pending, operation)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

type fakeReceipts struct {
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeReceipts) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func pendingOperation(cardID, operationID, hash string) *models.Operation {
	return &models.Operation{
		ID:            operationID,
		CardID:        cardID,
		Provider:      "cryptomate",
		Hashes:        []string{hash},
		ReceiptStatus: models.ReceiptStatusPending,
	}
}

func TestReconciler_ResolvesReceipts(t *testing.T) {
	minedHash := common.HexToHash("0x01")
	revertedHash := common.HexToHash("0x02")
	unknownHash := common.HexToHash("0x03")

	operations := &fakeOperations{ops: map[string]*models.Operation{}}
	require.NoError(t, operations.Insert(context.Background(), pendingOperation("card-1", "op-mined", minedHash.Hex())))
	require.NoError(t, operations.Insert(context.Background(), pendingOperation("card-1", "op-reverted", revertedHash.Hex())))
	require.NoError(t, operations.Insert(context.Background(), pendingOperation("card-1", "op-unknown", unknownHash.Hex())))

	receipts := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		minedHash:    {Status: types.ReceiptStatusSuccessful, TxHash: minedHash},
		revertedHash: {Status: types.ReceiptStatusFailed, TxHash: revertedHash},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := NewReconciler(operations, receipts, 50, logger)

	require.NoError(t, reconciler.Run(context.Background()))

	assert.Equal(t, models.ReceiptStatusSuccess, operations.ops["card-1/op-mined"].ReceiptStatus)
	assert.Equal(t, models.ReceiptStatusReverted, operations.ops["card-1/op-reverted"].ReceiptStatus)
	assert.Equal(t, models.ReceiptStatusPending, operations.ops["card-1/op-unknown"].ReceiptStatus,
		"an unmined hash stays pending for the next run")
}

func TestReconciler_ChecksLatestHash(t *testing.T) {
	firstHash := common.HexToHash("0x0a")
	resendHash := common.HexToHash("0x0b")

	operation := pendingOperation("card-1", "op-1", firstHash.Hex())
	operation.Hashes = append(operation.Hashes, resendHash.Hex())

	operations := &fakeOperations{ops: map[string]*models.Operation{}}
	require.NoError(t, operations.Insert(context.Background(), operation))

	receipts := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{
		resendHash: {Status: types.ReceiptStatusSuccessful, TxHash: resendHash},
	}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := NewReconciler(operations, receipts, 50, logger)

	require.NoError(t, reconciler.Run(context.Background()))
	assert.Equal(t, models.ReceiptStatusSuccess, operations.ops["card-1/op-1"].ReceiptStatus)
}

func TestReconciler_EmptyBatch(t *testing.T) {
	operations := &fakeOperations{ops: map[string]*models.Operation{}}
	receipts := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reconciler := NewReconciler(operations, receipts, 50, logger)

	assert.NoError(t, reconciler.Run(context.Background()))
}
