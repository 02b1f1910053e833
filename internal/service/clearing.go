package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/chain"
	"github.com/cardsettle/bridge/internal/models"
	"github.com/cardsettle/bridge/internal/planner"
	"github.com/cardsettle/bridge/internal/repository"
)

// ClearingRequest is a provider clearing webhook reduced to the fields the
// settlement needs. Body is the raw webhook payload, recorded verbatim in
// the durable operation record.
type ClearingRequest struct {
	Provider    string
	CardID      string
	OperationID string
	AmountUSD   decimal.Decimal
	Timestamp   int64
	Body        json.RawMessage
	Merchant    *models.Merchant
}

// RefundRequest is a provider refund or reversal webhook. AmountUSD is the
// positive refund magnitude; Reversal marks a reversal of a prior
// authorization, which requires the operation to exist.
type RefundRequest struct {
	Provider    string
	CardID      string
	OperationID string
	AmountUSD   decimal.Decimal
	Timestamp   int64
	Body        json.RawMessage
	Reversal    bool
}

// SettlementResult is the outcome of a clearing, refund or reversal.
// Replayed marks a duplicate delivery whose collection already happened;
// ReceiptPending marks a broadcast whose final status is not yet known;
// Reverted marks a mined transaction that failed on chain.
type SettlementResult struct {
	Declined       bool
	Code           string
	Reason         string
	Replayed       bool
	Reverted       bool
	ReceiptPending bool
	Hash           string
}

// settlement identifies the durable operation record a settlement writes to
type settlement struct {
	provider    string
	cardID      string
	operationID string
	body        json.RawMessage
	merchant    *models.Merchant
}

// ClearingService executes clearings, refunds and reversals: it persists the
// operation record before broadcasting, broadcasts through the keeper and
// reports the receipt outcome.
type ClearingService struct {
	cards      repository.CardRepository
	operations repository.OperationRepository
	locks      LockRegistry
	planner    CallPlanner
	chain      ChainReader
	keeper     Broadcaster
	logger     *slog.Logger
}

// NewClearingService creates a clearing service
func NewClearingService(
	cards repository.CardRepository,
	operations repository.OperationRepository,
	lockRegistry LockRegistry,
	callPlanner CallPlanner,
	chainReader ChainReader,
	keeper Broadcaster,
	logger *slog.Logger,
) *ClearingService {
	return &ClearingService{
		cards:      cards,
		operations: operations,
		locks:      lockRegistry,
		planner:    callPlanner,
		chain:      chainReader,
		keeper:     keeper,
		logger:     logger,
	}
}

// Clear settles a cleared spend on chain. The account lock held since the
// originating authorization is always released: a clearing is a terminal
// outcome whether the collection succeeds, replays or fails.
func (s *ClearingService) Clear(ctx context.Context, req ClearingRequest) (*SettlementResult, error) {
	card, err := s.cards.FindByID(ctx, req.CardID)
	if errors.Is(err, models.ErrNotFound) {
		return &SettlementResult{Declined: true, Code: ErrCodeCardNotFound}, nil
	}
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to load card", Err: err}
	}
	if !common.IsHexAddress(card.Account) {
		return &SettlementResult{Declined: true, Code: ErrCodeInvalidAccount}, nil
	}
	account := common.HexToAddress(card.Account)
	defer s.locks.Release(account)

	op := settlement{
		provider:    req.Provider,
		cardID:      req.CardID,
		operationID: req.OperationID,
		body:        req.Body,
		merchant:    req.Merchant,
	}

	call, err := s.planner.Plan(ctx, account, card.Mode, req.AmountUSD, req.Timestamp, planner.KindClearing)
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to plan collection", Err: err}
	}
	if call == nil {
		if err := s.persist(ctx, op, ""); err != nil {
			s.logger.Error("failed to record zero-amount clearing",
				"card_id", req.CardID, "operation_id", req.OperationID, "error", err)
		}
		return &SettlementResult{}, nil
	}

	return s.execute(ctx, account, call, op)
}

// Refund settles a refund or reversal on chain. A reversal of an unknown
// operation is declined; a standalone refund of an unknown operation
// proceeds without a spend bound. A refund larger than the operation's
// cumulative recorded spend is declined.
func (s *ClearingService) Refund(ctx context.Context, req RefundRequest) (*SettlementResult, error) {
	card, err := s.cards.FindByID(ctx, req.CardID)
	if errors.Is(err, models.ErrNotFound) {
		return &SettlementResult{Declined: true, Code: ErrCodeCardNotFound}, nil
	}
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to load card", Err: err}
	}
	if !common.IsHexAddress(card.Account) {
		return &SettlementResult{Declined: true, Code: ErrCodeInvalidAccount}, nil
	}
	account := common.HexToAddress(card.Account)
	if req.Reversal {
		// A reversal terminates its authorization; release the lock the
		// approval left held.
		defer s.locks.Release(account)
	}

	existing, err := s.operations.Find(ctx, req.CardID, req.OperationID)
	if errors.Is(err, models.ErrNotFound) {
		if req.Reversal {
			return &SettlementResult{Declined: true, Code: ErrCodeReversalNotFound}, nil
		}
		existing = nil
	} else if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to load operation", Err: err}
	}

	if existing != nil {
		refund := req.AmountUSD.Mul(decimal.New(1, 6)).Round(0).IntPart()
		if spent := models.CumulativeSpend(existing.Bodies); refund > spent {
			s.logger.Warn("refund exceeds recorded spend",
				"card_id", req.CardID, "operation_id", req.OperationID,
				"refund", refund, "spent", spent)
			return &SettlementResult{Declined: true, Code: ErrCodeRefundExceedsSpend}, nil
		}
	}

	op := settlement{
		provider:    req.Provider,
		cardID:      req.CardID,
		operationID: req.OperationID,
		body:        req.Body,
	}

	call, err := s.planner.PlanRefund(ctx, account, req.AmountUSD, req.Timestamp)
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to plan refund", Err: err}
	}
	if call == nil {
		if err := s.persist(ctx, op, ""); err != nil {
			s.logger.Error("failed to record zero-amount refund",
				"card_id", req.CardID, "operation_id", req.OperationID, "error", err)
		}
		return &SettlementResult{}, nil
	}

	return s.execute(ctx, account, call, op)
}

// execute simulates, broadcasts and awaits one settlement call. The durable
// record is written before the broadcast leaves the process, so a crash
// between broadcast and receipt still leaves a reconcilable trail.
func (s *ClearingService) execute(ctx context.Context, account common.Address, call *chain.CollectionCall, op settlement) (*SettlementResult, error) {
	// A delivery whose exact body is already on record alongside a broadcast
	// is a duplicate; the stored transaction decides its outcome. Refunds
	// share the operation record with their clearing but carry a different
	// body, so they pass through.
	if existing, err := s.operations.Find(ctx, op.cardID, op.operationID); err == nil &&
		len(existing.Hashes) > 0 && duplicateBody(existing.Bodies, op.body) {
		return s.resume(ctx, existing, op)
	}

	data, err := call.Encode()
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to encode settlement", Err: err}
	}

	_, err = s.chain.CallContract(ctx, ethereum.CallMsg{From: s.keeper.Address(), To: &account, Data: data})
	if err != nil {
		reason, isRevert := revertReason(err)
		if !isRevert {
			return nil, &ServiceError{Code: ErrCodeSimulationError, Message: "settlement simulation failed", Err: err}
		}
		if chain.IsReplayRevert(reason) {
			// The operation was already collected by an earlier delivery;
			// record this body and report success with the stored hash.
			s.logger.Info("settlement already collected",
				"card_id", op.cardID, "operation_id", op.operationID, "reason", reason)
			if err := s.persist(ctx, op, ""); err != nil {
				s.logger.Error("failed to record replayed settlement",
					"card_id", op.cardID, "operation_id", op.operationID, "error", err)
			}
			return &SettlementResult{Replayed: true, Hash: s.storedHash(ctx, op)}, nil
		}
		s.logger.Error("settlement simulation reverted",
			"card_id", op.cardID, "operation_id", op.operationID,
			"call", call.String(), "reason", reason)
		return &SettlementResult{Declined: true, Code: ErrCodeSimulationError, Reason: reason}, nil
	}

	receipt, err := s.keeper.Send(ctx, account, data, func(hash common.Hash) error {
		return s.persist(ctx, op, hash.Hex())
	})
	if err != nil {
		if errors.Is(err, chain.ErrReceiptTimeout) {
			s.logger.Error("settlement receipt timed out",
				"card_id", op.cardID, "operation_id", op.operationID, "error", err)
			s.logger.Error("settlement outcome unknown, awaiting reconciliation",
				"severity", "fatal", "card_id", op.cardID, "operation_id", op.operationID)
			return &SettlementResult{ReceiptPending: true}, nil
		}
		return nil, &ServiceError{Code: ErrCodeBroadcastFailed, Message: "failed to broadcast settlement", Err: err}
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		if err := s.operations.SetReceiptStatus(ctx, op.cardID, op.operationID, models.ReceiptStatusReverted); err != nil {
			s.logger.Error("failed to mark operation reverted",
				"card_id", op.cardID, "operation_id", op.operationID, "error", err)
		}
		s.logger.Error("settlement transaction reverted",
			"card_id", op.cardID, "operation_id", op.operationID, "hash", receipt.TxHash)
		s.logger.Error("funds not collected for settled operation",
			"severity", "fatal", "card_id", op.cardID, "operation_id", op.operationID, "hash", receipt.TxHash)
		return &SettlementResult{Reverted: true, Hash: receipt.TxHash.Hex()}, nil
	}

	if err := s.operations.SetReceiptStatus(ctx, op.cardID, op.operationID, models.ReceiptStatusSuccess); err != nil {
		s.logger.Error("failed to mark operation succeeded",
			"card_id", op.cardID, "operation_id", op.operationID, "error", err)
	}
	s.logger.Info("settlement collected",
		"card_id", op.cardID, "operation_id", op.operationID,
		"function", string(call.Function), "amount", call.Total(), "hash", receipt.TxHash)
	return &SettlementResult{Hash: receipt.TxHash.Hex()}, nil
}

// persist records a webhook body and optionally a transaction hash against
// the operation, inserting the record on first sight. Concurrent writers are
// resolved by re-reading on version conflicts.
func (s *ClearingService) persist(ctx context.Context, op settlement, hash string) error {
	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		existing, err := s.operations.Find(ctx, op.cardID, op.operationID)
		if errors.Is(err, models.ErrNotFound) {
			operation := &models.Operation{
				ID:            op.operationID,
				CardID:        op.cardID,
				Provider:      op.provider,
				Merchant:      op.merchant,
				Hashes:        []string{},
				Bodies:        []json.RawMessage{},
				ReceiptStatus: models.ReceiptStatusPending,
			}
			if hash != "" {
				operation.Hashes = append(operation.Hashes, hash)
			}
			if op.body != nil {
				operation.Bodies = append(operation.Bodies, op.body)
			}
			err = s.operations.Insert(ctx, operation)
			if errors.Is(err, models.ErrDuplicateOperation) {
				continue
			}
			return err
		}
		if err != nil {
			return err
		}

		body := op.body
		if body == nil {
			body = json.RawMessage("[]") // concatenating an empty array leaves bodies unchanged
		}
		err = s.operations.Append(ctx, op.cardID, op.operationID, hash, body, existing.Version)
		if errors.Is(err, models.ErrStaleOperation) {
			continue
		}
		return err
	}
	return models.ErrStaleOperation
}

// duplicateBody reports whether the delivery body is already on record
func duplicateBody(bodies []json.RawMessage, body json.RawMessage) bool {
	if body == nil {
		return false
	}
	for _, recorded := range bodies {
		if bytes.Equal(recorded, body) {
			return true
		}
	}
	return false
}

// resume handles a duplicate delivery of an operation that already has a
// broadcast on record: the stored transaction decides the outcome and
// nothing is sent again.
func (s *ClearingService) resume(ctx context.Context, existing *models.Operation, op settlement) (*SettlementResult, error) {
	hash := existing.Hashes[len(existing.Hashes)-1]
	s.logger.Info("settlement already broadcast",
		"card_id", op.cardID, "operation_id", op.operationID, "hash", hash)

	receipt, err := s.chain.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if !errors.Is(err, ethereum.NotFound) {
			s.logger.Error("failed to fetch stored receipt",
				"card_id", op.cardID, "operation_id", op.operationID, "hash", hash, "error", err)
		}
		return &SettlementResult{ReceiptPending: true, Hash: hash}, nil
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		if err := s.operations.SetReceiptStatus(ctx, op.cardID, op.operationID, models.ReceiptStatusReverted); err != nil {
			s.logger.Error("failed to mark operation reverted",
				"card_id", op.cardID, "operation_id", op.operationID, "error", err)
		}
		return &SettlementResult{Reverted: true, Hash: hash}, nil
	}
	if err := s.operations.SetReceiptStatus(ctx, op.cardID, op.operationID, models.ReceiptStatusSuccess); err != nil {
		s.logger.Error("failed to mark operation succeeded",
			"card_id", op.cardID, "operation_id", op.operationID, "error", err)
	}
	return &SettlementResult{Replayed: true, Hash: hash}, nil
}

// storedHash returns the latest broadcast hash recorded for the operation,
// if any; replayed deliveries report the original settlement transaction.
func (s *ClearingService) storedHash(ctx context.Context, op settlement) string {
	existing, err := s.operations.Find(ctx, op.cardID, op.operationID)
	if err != nil || len(existing.Hashes) == 0 {
		return ""
	}
	return existing.Hashes[len(existing.Hashes)-1]
}

// revertReason extracts and decodes the revert data carried by a failed
// eth_call, distinguishing contract reverts from transport failures.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	encoded, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decodeErr := hexutil.Decode(encoded)
	if decodeErr != nil {
		return "", false
	}
	return chain.DecodeRevert(data), true
}
