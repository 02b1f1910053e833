// Package chain provides blockchain access for the settlement bridge: a
// read/trace client, the keeper that signs and broadcasts collection
// transactions, and the issuer operation signer.
package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const pluginABIJSON = `[
	{"type":"function","name":"collectDebit","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"timestamp","type":"uint40"},
		{"name":"signature","type":"bytes"}]},
	{"type":"function","name":"collectCredit","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"maturity","type":"uint256"},
		{"name":"amount","type":"uint256"},
		{"name":"maxRepay","type":"uint256"},
		{"name":"timestamp","type":"uint40"},
		{"name":"signature","type":"bytes"}]},
	{"type":"function","name":"collectInstallments","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"firstMaturity","type":"uint256"},
		{"name":"amounts","type":"uint256[]"},
		{"name":"maxRepay","type":"uint256"},
		{"name":"timestamp","type":"uint40"},
		{"name":"signature","type":"bytes"}]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","outputs":[],"inputs":[
		{"name":"amount","type":"uint256"},
		{"name":"timestamp","type":"uint40"},
		{"name":"signature","type":"bytes"}]}
]`

// revertABIJSON aggregates the custom errors of the account plugin, issuer
// checker, auditor and market contracts so trace output can be decoded into
// a readable error name.
const revertABIJSON = `[
	{"type":"error","name":"Expired","inputs":[]},
	{"type":"error","name":"Replay","inputs":[]},
	{"type":"error","name":"Unauthorized","inputs":[]},
	{"type":"error","name":"ZeroAmount","inputs":[]},
	{"type":"error","name":"Disagreement","inputs":[]},
	{"type":"error","name":"Timelocked","inputs":[]},
	{"type":"error","name":"NotMarket","inputs":[]},
	{"type":"error","name":"NoProposal","inputs":[]},
	{"type":"error","name":"InsufficientAccountLiquidity","inputs":[]},
	{"type":"error","name":"InsufficientProtocolLiquidity","inputs":[]},
	{"type":"error","name":"ZeroBorrow","inputs":[]},
	{"type":"error","name":"ZeroRepay","inputs":[]},
	{"type":"error","name":"ZeroWithdraw","inputs":[]},
	{"type":"error","name":"UnmatchedPoolState","inputs":[{"name":"state","type":"uint8"},{"name":"requiredState","type":"uint8"}]}
]`

const erc20ABIJSON = `[
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

const previewerABIJSON = `[
	{"type":"function","name":"preview","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"tuple","components":[
			{"name":"floatingAssets","type":"uint256"},
			{"name":"floatingUtilization","type":"uint256"},
			{"name":"globalUtilization","type":"uint256"},
			{"name":"fixedUtilizations","type":"tuple[]","components":[
				{"name":"maturity","type":"uint256"},
				{"name":"utilization","type":"uint256"}]}]}]}
]`

var (
	pluginABI    = mustParseABI(pluginABIJSON)
	revertABI    = mustParseABI(revertABIJSON)
	erc20ABI     = mustParseABI(erc20ABIJSON)
	previewerABI = mustParseABI(previewerABIJSON)

	// TransferTopic is the keccak hash identifying ERC-20 Transfer logs
	TransferTopic = erc20ABI.Events["Transfer"].ID
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// DecodeRevert turns raw revert data into a readable reason: the message of
// a standard Error(string) revert, the name of a known custom error, or the
// hex data when neither matches.
func DecodeRevert(data []byte) string {
	if len(data) == 0 {
		return "execution reverted"
	}
	if reason, err := abi.UnpackRevert(data); err == nil {
		return reason
	}
	if len(data) >= 4 {
		for name, customError := range revertABI.Errors {
			if [4]byte(customError.ID[:4]) == [4]byte(data[:4]) {
				return name
			}
		}
	}
	return fmt.Sprintf("%#x", data)
}

// RevertSelector returns the 4-byte selector of a known custom error
func RevertSelector(name string) []byte {
	customError, ok := revertABI.Errors[name]
	if !ok {
		return nil
	}
	return customError.ID[:4]
}

// IsReplayRevert reports whether a decoded revert reason marks a duplicate
// broadcast of an already-collected operation, which is treated as success.
func IsReplayRevert(reason string) bool {
	return reason == "Expired" || reason == "Replay"
}

// PackPreview returns the calldata for the installments previewer snapshot
func PackPreview() []byte {
	data, err := previewerABI.Pack("preview")
	if err != nil {
		panic(err) // no inputs, cannot fail
	}
	return data
}

// InstallmentsPreview is the protocol utilization snapshot used to split an
// installments purchase across maturities.
type InstallmentsPreview struct {
	FloatingAssets      *big.Int
	FloatingUtilization *big.Int
	GlobalUtilization   *big.Int
	FixedUtilizations   []FixedUtilization
}

// FixedUtilization is the utilization of one fixed-rate maturity pool
type FixedUtilization struct {
	Maturity    *big.Int
	Utilization *big.Int
}

type rawPreview struct {
	FloatingAssets      *big.Int
	FloatingUtilization *big.Int
	GlobalUtilization   *big.Int
	FixedUtilizations   []struct {
		Maturity    *big.Int
		Utilization *big.Int
	}
}

func unpackPreview(data []byte) (*InstallmentsPreview, error) {
	values, err := previewerABI.Unpack("preview", data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack preview: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected preview output arity: %d", len(values))
	}
	decoded, ok := abi.ConvertType(values[0], new(rawPreview)).(*rawPreview)
	if !ok {
		return nil, fmt.Errorf("unexpected preview output shape")
	}
	preview := &InstallmentsPreview{
		FloatingAssets:      decoded.FloatingAssets,
		FloatingUtilization: decoded.FloatingUtilization,
		GlobalUtilization:   decoded.GlobalUtilization,
	}
	for _, fixed := range decoded.FixedUtilizations {
		preview.FixedUtilizations = append(preview.FixedUtilizations, FixedUtilization{
			Maturity:    fixed.Maturity,
			Utilization: fixed.Utilization,
		})
	}
	return preview, nil
}

// PadAddressTopic left-pads an address into a 32-byte log topic
func PadAddressTopic(address common.Address) common.Hash {
	return common.BytesToHash(address.Bytes())
}
