package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrReceiptTimeout indicates a broadcast transaction produced no receipt
// within the configured window; its final status is unknown and the durable
// record enables later reconciliation.
var ErrReceiptTimeout = errors.New("timed out waiting for transaction receipt")

// OverrideAccount adjusts one account's state for a simulation-only call
type OverrideAccount struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	Code      hexutil.Bytes               `json:"code,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

// StateOverride maps accounts to simulation-only state adjustments
type StateOverride map[common.Address]OverrideAccount

// TraceMsg describes the call to trace
type TraceMsg struct {
	From common.Address
	To   common.Address
	Data []byte
}

// Client provides read, simulate and trace access to the chain
type Client struct {
	rpc    *rpc.Client
	eth    *ethclient.Client
	logger *slog.Logger
}

// Dial connects to the chain RPC endpoint
func Dial(ctx context.Context, rawURL string, logger *slog.Logger) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc: %w", err)
	}
	return &Client{
		rpc:    rpcClient,
		eth:    ethclient.NewClient(rpcClient),
		logger: logger,
	}, nil
}

// Close releases the underlying RPC connection
func (c *Client) Close() {
	c.rpc.Close()
}

// TraceCall runs a callTracer trace of the given call against latest state,
// with logs enabled and optional state overrides applied for the duration
// of the simulation only.
func (c *Client) TraceCall(ctx context.Context, msg TraceMsg, overrides StateOverride) (*CallFrame, error) {
	call := map[string]any{
		"from": msg.From,
		"to":   msg.To,
		"data": hexutil.Bytes(msg.Data),
	}
	traceConfig := map[string]any{
		"tracer":       "callTracer",
		"tracerConfig": map[string]bool{"withLog": true},
	}
	if len(overrides) > 0 {
		traceConfig["stateOverrides"] = overrides
	}

	var frame CallFrame
	if err := c.rpc.CallContext(ctx, &frame, "debug_traceCall", call, "latest", traceConfig); err != nil {
		return nil, fmt.Errorf("debug_traceCall failed: %w", err)
	}
	return &frame, nil
}

// CallContract simulates a contract call against latest state
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// PendingNonceAt returns the next nonce for the account including pending
// transactions
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

// SendTransaction broadcasts a signed transaction
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// TransactionReceipt fetches the receipt for a mined transaction
func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, hash)
}

// WaitForReceipt polls for the transaction receipt until it appears or the
// timeout elapses, returning ErrReceiptTimeout in the latter case.
func (c *Client) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn("receipt lookup failed", "hash", hash, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash)
		case <-ticker.C:
		}
	}
}

// ReadPreview fetches the installments utilization snapshot from the
// previewer contract
func (c *Client) ReadPreview(ctx context.Context, previewer common.Address) (*InstallmentsPreview, error) {
	output, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &previewer, Data: PackPreview()}, nil)
	if err != nil {
		return nil, fmt.Errorf("preview call failed: %w", err)
	}
	return unpackPreview(output)
}
