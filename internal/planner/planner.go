// Package planner translates a card spend into the exact on-chain
// collection call: function selector, maturity bucketing, per-bucket
// amounts and the issuer authorization signature.
package planner

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/cardsettle/bridge/internal/chain"
)

// Kind distinguishes authorization-only planning from a real clearing.
// Authorizations use the simplified single-credit path for installment
// cards since the call is only simulated, never broadcast.
type Kind int

const (
	KindAuthorization Kind = iota
	KindClearing
)

// OperationSigner produces the issuer authorization embedded in each call
type OperationSigner interface {
	SignOperation(account common.Address, amount *big.Int, timestamp int64) ([]byte, error)
}

// PreviewReader supplies the protocol utilization snapshot for installment
// splitting
type PreviewReader interface {
	ReadPreview(ctx context.Context, previewer common.Address) (*chain.InstallmentsPreview, error)
}

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// usdcScale converts whole USD to 6-decimal USDC units
var usdcScale = decimal.New(1, 6)

// Planner plans collection and refund calls for all billing modes
type Planner struct {
	signer            OperationSigner
	previews          PreviewReader
	previewer         common.Address
	maturityInterval  int64
	minBorrowInterval int64
}

// New creates a planner. maturityInterval is the fixed period length of the
// lending protocol; minBorrowInterval is the minimum time to maturity below
// which a borrow rolls forward one period.
func New(
	signer OperationSigner,
	previews PreviewReader,
	previewer common.Address,
	maturityInterval time.Duration,
	minBorrowInterval time.Duration,
) *Planner {
	return &Planner{
		signer:            signer,
		previews:          previews,
		previewer:         previewer,
		maturityInterval:  int64(maturityInterval / time.Second),
		minBorrowInterval: int64(minBorrowInterval / time.Second),
	}
}

// Plan computes the collection call for a positive spend. A zero amount
// returns (nil, nil): nothing to collect, not an error. A negative amount
// is a caller contract violation.
func (p *Planner) Plan(
	ctx context.Context,
	account common.Address,
	mode int,
	usd decimal.Decimal,
	timestamp int64,
	kind Kind,
) (*chain.CollectionCall, error) {
	if mode < 0 {
		return nil, fmt.Errorf("invalid billing mode %d", mode)
	}
	amount := usd.Mul(usdcScale).Round(0).BigInt()
	switch amount.Sign() {
	case 0:
		return nil, nil
	case -1:
		return nil, fmt.Errorf("collection amount must be positive, got %s", usd)
	}

	signature, err := p.signer.SignOperation(account, amount, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign collection: %w", err)
	}

	if mode == 0 {
		return &chain.CollectionCall{
			Function:  chain.FunctionCollectDebit,
			Account:   account,
			Amount:    amount,
			Timestamp: timestamp,
			Signature: signature,
		}, nil
	}

	firstMaturity := p.firstMaturity(timestamp)

	// Small spends and authorization-only evaluations take the simplified
	// single-borrow path: one bucket at the last installment's maturity.
	if mode == 1 || usd.LessThan(decimal.NewFromInt(int64(mode))) || kind == KindAuthorization {
		return &chain.CollectionCall{
			Function:  chain.FunctionCollectCredit,
			Account:   account,
			Maturity:  firstMaturity + int64(mode-1)*p.maturityInterval,
			Amount:    amount,
			MaxRepay:  maxUint256,
			Timestamp: timestamp,
			Signature: signature,
		}, nil
	}

	preview, err := p.previews.ReadPreview(ctx, p.previewer)
	if err != nil {
		return nil, fmt.Errorf("failed to read installments preview: %w", err)
	}
	utilizations := p.bucketUtilizations(preview, firstMaturity, mode)
	amounts := SplitInstallments(amount, utilizations)

	return &chain.CollectionCall{
		Function:  chain.FunctionCollectInstallments,
		Account:   account,
		Maturity:  firstMaturity,
		Amounts:   amounts,
		MaxRepay:  maxUint256,
		Timestamp: timestamp,
		Signature: signature,
	}, nil
}

// PlanRefund computes the refund call for a positive refund magnitude. The
// issuer signature is computed over the negated amount so it cannot be
// replayed as a collection.
func (p *Planner) PlanRefund(
	_ context.Context,
	account common.Address,
	usd decimal.Decimal,
	timestamp int64,
) (*chain.CollectionCall, error) {
	amount := usd.Mul(usdcScale).Round(0).BigInt()
	switch amount.Sign() {
	case 0:
		return nil, nil
	case -1:
		return nil, fmt.Errorf("refund magnitude must be positive, got %s", usd)
	}

	signature, err := p.signer.SignOperation(account, new(big.Int).Neg(amount), timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to sign refund: %w", err)
	}

	return &chain.CollectionCall{
		Function:  chain.FunctionRefund,
		Account:   account,
		Amount:    amount,
		Timestamp: timestamp,
		Signature: signature,
	}, nil
}

// firstMaturity buckets the timestamp to the next period boundary, rolling
// one extra period forward when the boundary is imminent so a borrow never
// lands in an about-to-mature bucket.
func (p *Planner) firstMaturity(timestamp int64) int64 {
	next := timestamp - timestamp%p.maturityInterval + p.maturityInterval
	if next-timestamp < p.minBorrowInterval {
		return next + p.maturityInterval
	}
	return next
}

// bucketUtilizations returns the utilization of each of the mode
// consecutive maturity buckets starting at firstMaturity. Buckets missing
// from the snapshot count as empty.
func (p *Planner) bucketUtilizations(preview *chain.InstallmentsPreview, firstMaturity int64, mode int) []*big.Int {
	utilizations := make([]*big.Int, mode)
	for i := range utilizations {
		utilizations[i] = new(big.Int)
	}
	last := firstMaturity + int64(mode)*p.maturityInterval
	for _, fixed := range preview.FixedUtilizations {
		maturity := fixed.Maturity.Int64()
		if maturity < firstMaturity || maturity >= last {
			continue
		}
		index := (maturity - firstMaturity) / p.maturityInterval
		utilizations[index] = fixed.Utilization
	}
	return utilizations
}
