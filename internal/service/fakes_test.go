package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/chain"
	"github.com/cardsettle/bridge/internal/locks"
	"github.com/cardsettle/bridge/internal/models"
	"github.com/cardsettle/bridge/internal/planner"
)

var (
	testAccount   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testUSDC      = common.HexToAddress("0x0b2c639c533813f4aa9d7837caf62653d097ff85")
	testCollector = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	testKeeper    = common.HexToAddress("0x00000000000000000000000000000000000000ee")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCards struct {
	cards map[string]*models.Card
}

func (f *fakeCards) FindByID(_ context.Context, id string) (*models.Card, error) {
	card, ok := f.cards[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return card, nil
}

func activeCard(id string, mode int) *fakeCards {
	return &fakeCards{cards: map[string]*models.Card{
		id: {ID: id, Account: testAccount.Hex(), Status: models.CardStatusActive, Mode: mode},
	}}
}

type fakeOperations struct {
	mu  sync.Mutex
	ops map[string]*models.Operation
}

func newFakeOperations() *fakeOperations {
	return &fakeOperations{ops: make(map[string]*models.Operation)}
}

func (f *fakeOperations) key(cardID, operationID string) string {
	return cardID + "/" + operationID
}

func (f *fakeOperations) Find(_ context.Context, cardID, operationID string) (*models.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	operation, ok := f.ops[f.key(cardID, operationID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	clone := *operation
	clone.Hashes = append([]string(nil), operation.Hashes...)
	clone.Bodies = append([]json.RawMessage(nil), operation.Bodies...)
	return &clone, nil
}

func (f *fakeOperations) Insert(_ context.Context, operation *models.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := f.key(operation.CardID, operation.ID)
	if _, ok := f.ops[key]; ok {
		return models.ErrDuplicateOperation
	}
	clone := *operation
	clone.Version = 1
	f.ops[key] = &clone
	return nil
}

func (f *fakeOperations) Append(_ context.Context, cardID, operationID, hash string, body json.RawMessage, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	operation, ok := f.ops[f.key(cardID, operationID)]
	if !ok {
		return models.ErrNotFound
	}
	if operation.Version != version {
		return models.ErrStaleOperation
	}
	if hash != "" {
		operation.Hashes = append(operation.Hashes, hash)
		operation.ReceiptStatus = models.ReceiptStatusPending
	}
	if string(body) != "[]" {
		operation.Bodies = append(operation.Bodies, body)
	}
	operation.Version++
	return nil
}

func (f *fakeOperations) SetReceiptStatus(_ context.Context, cardID, operationID string, status models.ReceiptStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	operation, ok := f.ops[f.key(cardID, operationID)]
	if !ok {
		return models.ErrNotFound
	}
	operation.ReceiptStatus = status
	return nil
}

func (f *fakeOperations) ListPendingReceipts(context.Context, int) ([]*models.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*models.Operation
	for _, operation := range f.ops {
		if operation.ReceiptStatus == models.ReceiptStatusPending && len(operation.Hashes) > 0 {
			clone := *operation
			pending = append(pending, &clone)
		}
	}
	return pending, nil
}

func (f *fakeOperations) get(t *testing.T, cardID, operationID string) *models.Operation {
	t.Helper()
	operation, err := f.Find(context.Background(), cardID, operationID)
	if err != nil {
		t.Fatalf("operation %s/%s not recorded: %v", cardID, operationID, err)
	}
	return operation
}

type fakePlanner struct {
	call       *chain.CollectionCall
	err        error
	refundCall *chain.CollectionCall
	refundErr  error

	planCalls   int
	refundCalls int
	lastKind    planner.Kind
	lastUSD     decimal.Decimal
}

func (f *fakePlanner) Plan(_ context.Context, _ common.Address, _ int, usd decimal.Decimal, _ int64, kind planner.Kind) (*chain.CollectionCall, error) {
	f.planCalls++
	f.lastKind = kind
	f.lastUSD = usd
	return f.call, f.err
}

func (f *fakePlanner) PlanRefund(_ context.Context, _ common.Address, usd decimal.Decimal, _ int64) (*chain.CollectionCall, error) {
	f.refundCalls++
	f.lastUSD = usd
	return f.refundCall, f.refundErr
}

type fakeChain struct {
	frame    *chain.CallFrame
	traceErr error
	callOut  []byte
	callErr  error
	receipts map[common.Hash]*types.Receipt
}

func (f *fakeChain) TraceCall(context.Context, chain.TraceMsg, chain.StateOverride) (*chain.CallFrame, error) {
	return f.frame, f.traceErr
}

func (f *fakeChain) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	return f.callOut, f.callErr
}

func (f *fakeChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

type fakeBroadcaster struct {
	receipt *types.Receipt
	err     error
	sent    [][]byte
	hash    common.Hash
}

func (f *fakeBroadcaster) Address() common.Address {
	return testKeeper
}

func (f *fakeBroadcaster) Send(_ context.Context, _ common.Address, data []byte, onHash func(common.Hash) error) (*types.Receipt, error) {
	if f.hash == (common.Hash{}) {
		f.hash = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111")
	}
	if onHash != nil {
		if err := onHash(f.hash); err != nil {
			return nil, err
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, data)
	if f.receipt != nil {
		return f.receipt, nil
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: f.hash}, nil
}

// revertError mimics the data-carrying error an eth_call returns on revert
type revertError struct {
	data string
}

func (e *revertError) Error() string          { return "execution reverted" }
func (e *revertError) ErrorData() interface{} { return e.data }

func customRevert(name string) *revertError {
	return &revertError{data: "0x" + common.Bytes2Hex(chain.RevertSelector(name))}
}

func testRegistry() *locks.Registry {
	return locks.NewRegistry(50*time.Millisecond, 4)
}
