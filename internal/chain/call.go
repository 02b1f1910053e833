package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CollectionFunction identifies the on-chain collection entry point
type CollectionFunction string

const (
	FunctionCollectDebit        CollectionFunction = "collectDebit"
	FunctionCollectCredit       CollectionFunction = "collectCredit"
	FunctionCollectInstallments CollectionFunction = "collectInstallments"
	FunctionRefund              CollectionFunction = "refund"
)

// CollectionCall is the fully planned on-chain call for one card operation:
// the function to invoke on the account plugin, the amounts and maturity
// bucketing, and the time-boxed issuer signature authorizing it.
type CollectionCall struct {
	Function  CollectionFunction
	Account   common.Address
	Amount    *big.Int
	Maturity  int64
	Amounts   []*big.Int
	MaxRepay  *big.Int
	Timestamp int64
	Signature []byte
}

// Total returns the full 6-decimal amount the call moves, summing buckets
// for installment calls.
func (c *CollectionCall) Total() *big.Int {
	if c.Function != FunctionCollectInstallments {
		return new(big.Int).Set(c.Amount)
	}
	total := new(big.Int)
	for _, amount := range c.Amounts {
		total.Add(total, amount)
	}
	return total
}

// Encode packs the call into plugin calldata
func (c *CollectionCall) Encode() ([]byte, error) {
	timestamp := big.NewInt(c.Timestamp)
	switch c.Function {
	case FunctionCollectDebit:
		return pluginABI.Pack("collectDebit", c.Amount, timestamp, c.Signature)
	case FunctionCollectCredit:
		return pluginABI.Pack("collectCredit", big.NewInt(c.Maturity), c.Amount, c.MaxRepay, timestamp, c.Signature)
	case FunctionCollectInstallments:
		return pluginABI.Pack("collectInstallments", big.NewInt(c.Maturity), c.Amounts, c.MaxRepay, timestamp, c.Signature)
	case FunctionRefund:
		return pluginABI.Pack("refund", c.Amount, timestamp, c.Signature)
	default:
		return nil, fmt.Errorf("unknown collection function %q", c.Function)
	}
}

func (c *CollectionCall) String() string {
	return fmt.Sprintf("%s(account=%s amount=%s maturity=%d timestamp=%d)",
		c.Function, c.Account.Hex(), c.Total(), c.Maturity, c.Timestamp)
}
