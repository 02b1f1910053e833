package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/chain"
	"github.com/cardsettle/bridge/internal/locks"
	"github.com/cardsettle/bridge/internal/models"
	"github.com/cardsettle/bridge/internal/planner"
	"github.com/cardsettle/bridge/internal/repository"
)

// Decision is the authorization verdict returned to the card provider
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDeclined Decision = "declined"
	// DecisionProcessing tells the provider to retry: the account lock could
	// not be acquired in time and neither approval nor decline is safe.
	DecisionProcessing Decision = "processing"
)

// AuthorizationRequest is a provider authorization webhook reduced to the
// fields the evaluation needs
type AuthorizationRequest struct {
	CardID      string
	OperationID string
	AmountUSD   decimal.Decimal
	Timestamp   int64
}

// AuthorizationResult carries the verdict and, for declines, the reason code
type AuthorizationResult struct {
	Decision Decision
	Code     string
	Reason   string
}

// keeperSimBalance funds the keeper during simulation so gas accounting
// never declines a spend the account could actually cover
var keeperSimBalance = new(big.Int).Lsh(big.NewInt(1), 96)

// AuthorizationService evaluates authorization requests by dry-running the
// planned collection call and inspecting the traced token transfers. An
// approval leaves the account lock held until the paired clearing arrives.
type AuthorizationService struct {
	cards      repository.CardRepository
	locks      LockRegistry
	planner    CallPlanner
	chain      ChainReader
	keeper     common.Address
	usdc       common.Address
	collectors []common.Address
	logger     *slog.Logger
}

// NewAuthorizationService creates an authorization service
func NewAuthorizationService(
	cards repository.CardRepository,
	lockRegistry LockRegistry,
	callPlanner CallPlanner,
	chainReader ChainReader,
	keeper common.Address,
	usdc common.Address,
	collectors []common.Address,
	logger *slog.Logger,
) *AuthorizationService {
	return &AuthorizationService{
		cards:      cards,
		locks:      lockRegistry,
		planner:    callPlanner,
		chain:      chainReader,
		keeper:     keeper,
		usdc:       usdc,
		collectors: collectors,
		logger:     logger,
	}
}

// Authorize evaluates a single authorization request. Declines and errors
// always release the account lock; an approval keeps it held for the
// clearing that settles the spend.
func (s *AuthorizationService) Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error) {
	card, err := s.cards.FindByID(ctx, req.CardID)
	if errors.Is(err, models.ErrNotFound) {
		return &AuthorizationResult{Decision: DecisionDeclined, Code: ErrCodeCardNotFound}, nil
	}
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to load card", Err: err}
	}
	if card.Status != models.CardStatusActive {
		return &AuthorizationResult{Decision: DecisionDeclined, Code: ErrCodeCardInactive}, nil
	}
	if !common.IsHexAddress(card.Account) {
		return &AuthorizationResult{Decision: DecisionDeclined, Code: ErrCodeInvalidAccount}, nil
	}
	account := common.HexToAddress(card.Account)

	// Zero and negative amounts carry no spend to collect
	if req.AmountUSD.Sign() <= 0 {
		return &AuthorizationResult{Decision: DecisionApproved}, nil
	}

	if err := s.locks.Acquire(ctx, account); err != nil {
		if errors.Is(err, locks.ErrAcquireTimeout) || errors.Is(err, locks.ErrTooManyWaiters) {
			s.logger.Warn("account busy, deferring authorization",
				"card_id", req.CardID, "operation_id", req.OperationID, "error", err)
			return &AuthorizationResult{Decision: DecisionProcessing, Code: ErrCodeProcessing}, nil
		}
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to acquire account lock", Err: err}
	}
	approved := false
	defer func() {
		if !approved {
			s.locks.Release(account)
		}
	}()

	call, err := s.planner.Plan(ctx, account, card.Mode, req.AmountUSD, req.Timestamp, planner.KindAuthorization)
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to plan collection", Err: err}
	}
	if call == nil {
		approved = true
		return &AuthorizationResult{Decision: DecisionApproved}, nil
	}

	data, err := call.Encode()
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeInternalError, Message: "failed to encode collection", Err: err}
	}

	frame, err := s.chain.TraceCall(ctx, chain.TraceMsg{
		From: s.keeper,
		To:   account,
		Data: data,
	}, chain.StateOverride{
		s.keeper: {Balance: (*hexutil.Big)(keeperSimBalance)},
	})
	if err != nil {
		return nil, &ServiceError{Code: ErrCodeSimulationError, Message: "collection trace failed", Err: err}
	}

	if reason, reverted := frame.Reverted(); reverted {
		s.logger.Error("collection simulation reverted",
			"card_id", req.CardID, "operation_id", req.OperationID,
			"call", call.String(), "reason", reason)
		return &AuthorizationResult{Decision: DecisionDeclined, Code: ErrCodeSimulationError, Reason: reason}, nil
	}

	transferred := chain.CollectorTransfers(frame, s.usdc, s.collectors)
	if transferred.Cmp(call.Total()) != 0 {
		s.logger.Error("traced collection does not match planned amount",
			"card_id", req.CardID, "operation_id", req.OperationID,
			"planned", call.Total(), "transferred", transferred)
		return &AuthorizationResult{Decision: DecisionDeclined, Code: ErrCodeBadCollection}, nil
	}

	s.logger.Info("authorization approved",
		"card_id", req.CardID, "operation_id", req.OperationID,
		"amount_usd", req.AmountUSD, "function", string(call.Function))
	approved = true
	return &AuthorizationResult{Decision: DecisionApproved}, nil
}
