package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// IssuerSigner produces the short-lived EIP-712 authorization the on-chain
// issuer checker verifies before allowing a collection or refund. The
// signature binds (account, amount, timestamp); amount is negative for
// refunds, so a collection proof can never be replayed as a refund or vice
// versa. Signatures must be computed freshly per call since they bind the
// call timestamp.
type IssuerSigner struct {
	key    *ecdsa.PrivateKey
	domain apitypes.TypedDataDomain
}

var operationTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"Operation": {
		{Name: "account", Type: "address"},
		{Name: "amount", Type: "int256"},
		{Name: "timestamp", Type: "uint40"},
	},
}

// NewIssuerSigner creates a signer bound to the issuer checker contract on
// the given chain
func NewIssuerSigner(hexKey string, chainID int64, issuerChecker string) (*IssuerSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid issuer private key: %w", err)
	}
	return &IssuerSigner{
		key: key,
		domain: apitypes.TypedDataDomain{
			Name:              "IssuerChecker",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: issuerChecker,
		},
	}, nil
}

// Address returns the issuer's signing address
func (s *IssuerSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignOperation signs (account, amount, timestamp). Amount is in 6-decimal
// units, negative for refunds.
func (s *IssuerSigner) SignOperation(account common.Address, amount *big.Int, timestamp int64) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       operationTypes,
		PrimaryType: "Operation",
		Domain:      s.domain,
		Message: apitypes.TypedDataMessage{
			"account":   account.Hex(),
			"amount":    (*math.HexOrDecimal256)(amount),
			"timestamp": math.NewHexOrDecimal256(timestamp),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash operation: %w", err)
	}
	signature, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign operation: %w", err)
	}
	signature[64] += 27 // contract expects legacy recovery id
	return signature, nil
}
