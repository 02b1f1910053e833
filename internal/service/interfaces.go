// Package service implements the settlement bridge's business logic:
// authorization evaluation against a dry-run trace, clearing execution
// through the keeper and refund handling with the cumulative spend bound.
package service

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/chain"
	"github.com/cardsettle/bridge/internal/locks"
	"github.com/cardsettle/bridge/internal/planner"
)

// ChainReader is the read and simulate surface of the chain client
type ChainReader interface {
	TraceCall(ctx context.Context, msg chain.TraceMsg, overrides chain.StateOverride) (*chain.CallFrame, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Broadcaster signs and broadcasts keeper transactions
type Broadcaster interface {
	Address() common.Address
	Send(ctx context.Context, to common.Address, data []byte, onHash func(common.Hash) error) (*types.Receipt, error)
}

// CallPlanner turns spends and refunds into collection calls
type CallPlanner interface {
	Plan(ctx context.Context, account common.Address, mode int, usd decimal.Decimal, timestamp int64, kind planner.Kind) (*chain.CollectionCall, error)
	PlanRefund(ctx context.Context, account common.Address, usd decimal.Decimal, timestamp int64) (*chain.CollectionCall, error)
}

// LockRegistry serializes processing per on-chain account
type LockRegistry interface {
	Acquire(ctx context.Context, account common.Address) error
	Release(account common.Address)
}

// Authorizer evaluates authorization requests
type Authorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (*AuthorizationResult, error)
}

// Settler executes clearings, refunds and reversals on chain
type Settler interface {
	Clear(ctx context.Context, req ClearingRequest) (*SettlementResult, error)
	Refund(ctx context.Context, req RefundRequest) (*SettlementResult, error)
}

// Compile-time interface checks
var (
	_ ChainReader  = (*chain.Client)(nil)
	_ Broadcaster  = (*chain.Keeper)(nil)
	_ CallPlanner  = (*planner.Planner)(nil)
	_ LockRegistry = (*locks.Registry)(nil)
	_ Authorizer   = (*AuthorizationService)(nil)
	_ Settler      = (*ClearingService)(nil)
)
