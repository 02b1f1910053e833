// Package worker runs the background receipt reconciler: settlements whose
// receipt never arrived in the request path are resolved from chain state on
// a schedule.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/robfig/cron/v3"

	"github.com/cardsettle/bridge/internal/models"
	"github.com/cardsettle/bridge/internal/repository"
)

// ReceiptReader fetches mined transaction receipts
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Reconciler resolves operations stuck with a pending receipt status
type Reconciler struct {
	operations repository.OperationRepository
	receipts   ReceiptReader
	batch      int
	logger     *slog.Logger
}

// NewReconciler creates a reconciler
func NewReconciler(operations repository.OperationRepository, receipts ReceiptReader, batch int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		operations: operations,
		receipts:   receipts,
		batch:      batch,
		logger:     logger,
	}
}

// Schedule registers the reconciler on the cron runner with the given spec
func (r *Reconciler) Schedule(runner *cron.Cron, spec string) (cron.EntryID, error) {
	return runner.AddFunc(spec, func() {
		if err := r.Run(context.Background()); err != nil {
			r.logger.Error("receipt reconciliation failed", "error", err)
		}
	})
}

// Run resolves one batch of pending-receipt operations. An operation's
// latest hash decides its outcome; hashes still unknown to the chain are
// left pending for the next run.
func (r *Reconciler) Run(ctx context.Context) error {
	pending, err := r.operations.ListPendingReceipts(ctx, r.batch)
	if err != nil {
		return err
	}

	for _, operation := range pending {
		hash := common.HexToHash(operation.Hashes[len(operation.Hashes)-1])
		receipt, err := r.receipts.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			continue
		}
		if err != nil {
			r.logger.Warn("receipt lookup failed",
				"card_id", operation.CardID, "operation_id", operation.ID,
				"hash", hash, "error", err)
			continue
		}

		status := models.ReceiptStatusSuccess
		if receipt.Status != types.ReceiptStatusSuccessful {
			status = models.ReceiptStatusReverted
			r.logger.Error("reconciled settlement reverted on chain",
				"severity", "fatal", "card_id", operation.CardID,
				"operation_id", operation.ID, "hash", hash)
		} else {
			r.logger.Info("reconciled settlement",
				"card_id", operation.CardID, "operation_id", operation.ID, "hash", hash)
		}

		if err := r.operations.SetReceiptStatus(ctx, operation.CardID, operation.ID, status); err != nil {
			r.logger.Error("failed to update receipt status",
				"card_id", operation.CardID, "operation_id", operation.ID, "error", err)
		}
	}
	return nil
}
