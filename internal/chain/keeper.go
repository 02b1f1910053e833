package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Transaction options used for every keeper broadcast. Gas is a fixed upper
// bound well above any collection call; fees target a low-congestion L2.
const (
	keeperGasLimit  = 5_000_000
	maxFeePerGas    = 1_000_000_000
	maxPriorityFee  = 1_000_000
	maxSendAttempts = 3
)

// TxBackend is the transport the keeper broadcasts through
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Keeper holds the sender key, signs collection transactions, assigns
// nonces consistently across concurrent broadcasts and recovers from
// transient node failures by resending.
type Keeper struct {
	backend        TxBackend
	key            *ecdsa.PrivateKey
	address        common.Address
	signer         types.Signer
	chainID        *big.Int
	receiptTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	nonce     uint64
	nonceInit bool
}

// NewKeeper creates a keeper from a hex-encoded private key
func NewKeeper(backend TxBackend, hexKey string, chainID int64, receiptTimeout time.Duration, logger *slog.Logger) (*Keeper, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid keeper private key: %w", err)
	}
	id := big.NewInt(chainID)
	return &Keeper{
		backend:        backend,
		key:            key,
		address:        crypto.PubkeyToAddress(key.PublicKey),
		signer:         types.LatestSignerForChainID(id),
		chainID:        id,
		receiptTimeout: receiptTimeout,
		logger:         logger,
	}, nil
}

// Address returns the keeper's sender address
func (k *Keeper) Address() common.Address {
	return k.address
}

// Send signs and broadcasts a transaction to the given account and waits
// for its receipt. onHash runs after signing and before the broadcast, so
// callers can persist the hash before the outcome is known; an onHash error
// is logged but does not abort the broadcast.
//
// A nil receipt with ErrReceiptTimeout means the transaction's final status
// is unknown; the caller's durable record enables later reconciliation.
func (k *Keeper) Send(ctx context.Context, to common.Address, data []byte, onHash func(common.Hash) error) (*types.Receipt, error) {
	signed, err := k.broadcast(ctx, to, data, onHash)
	if err != nil {
		return nil, err
	}
	return k.backend.WaitForReceipt(ctx, signed.Hash(), k.receiptTimeout)
}

func (k *Keeper) broadcast(ctx context.Context, to common.Address, data []byte, onHash func(common.Hash) error) (*types.Transaction, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if !k.nonceInit {
		nonce, err := k.backend.PendingNonceAt(ctx, k.address)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch keeper nonce: %w", err)
		}
		k.nonce = nonce
		k.nonceInit = true
	}

	// Every signing reports its hash: a nonce refresh produces a different
	// transaction, and the durable record must name the one actually sent.
	notify := func(signed *types.Transaction) {
		if onHash == nil {
			return
		}
		if err := onHash(signed.Hash()); err != nil {
			k.logger.Error("on-hash callback failed", "hash", signed.Hash(), "error", err)
		}
	}

	signed, err := k.sign(to, data, k.nonce)
	if err != nil {
		return nil, err
	}
	notify(signed)

	for attempt := 1; ; attempt++ {
		err = k.backend.SendTransaction(ctx, signed)
		if err == nil {
			k.nonce++
			return signed, nil
		}

		if isNonceError(err) {
			nonce, nonceErr := k.backend.PendingNonceAt(ctx, k.address)
			if nonceErr != nil {
				return nil, fmt.Errorf("failed to refresh keeper nonce: %w", nonceErr)
			}
			k.logger.Warn("refreshing keeper nonce", "old", k.nonce, "new", nonce, "error", err)
			k.nonce = nonce
			signed, err = k.sign(to, data, k.nonce)
			if err != nil {
				return nil, err
			}
			notify(signed)
			continue
		}

		if isTransientSendError(err) && attempt < maxSendAttempts {
			k.logger.Warn("resending transaction", "hash", signed.Hash(), "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			continue
		}

		return nil, fmt.Errorf("failed to send transaction %s: %w", signed.Hash(), err)
	}
}

func (k *Keeper) sign(to common.Address, data []byte, nonce uint64) (*types.Transaction, error) {
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   k.chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(maxPriorityFee),
		GasFeeCap: big.NewInt(maxFeePerGas),
		Gas:       keeperGasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, k.signer, k.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func isNonceError(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "nonce too low") ||
		strings.Contains(message, "already known") ||
		strings.Contains(message, "replacement transaction underpriced")
}

// isTransientSendError matches node-level conditions where resending the
// same signed payload is expected to succeed, such as a node restart losing
// its transaction pool.
func isTransientSendError(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "transaction lost") ||
		strings.Contains(message, "connection") ||
		strings.Contains(message, "timeout") ||
		strings.Contains(message, "temporarily unavailable")
}
