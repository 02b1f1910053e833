package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// usdcScale converts whole USD to 6-decimal USDC units.
var usdcScale = decimal.New(1, 6)

// bodyEnvelope covers the spend-bearing fields of both provider payload
// shapes. Unknown fields are ignored so historical bodies keep parsing as
// providers add fields.
type bodyEnvelope struct {
	// provider A ("panda" shape)
	Action string `json:"action"`
	Body   struct {
		Spend struct {
			Amount                    json.Number `json:"amount"`
			AuthorizationUpdateAmount json.Number `json:"authorizationUpdateAmount"`
			Status                    string      `json:"status"`
		} `json:"spend"`
	} `json:"body"`
	// provider B ("cryptomate" shape)
	EventType string `json:"event_type"`
	Status    string `json:"status"`
	Data      struct {
		BillAmount json.Number `json:"bill_amount"`
	} `json:"data"`
}

// BodySpendUSDC extracts the 6-decimal USDC amount a recorded webhook body
// contributed to an operation's cumulative spend. The second return value is
// false for bodies that do not count toward spend (declines, completions,
// refunds, unparseable payloads).
func BodySpendUSDC(raw json.RawMessage) (int64, bool) {
	var envelope bodyEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return 0, false
	}

	switch {
	case envelope.Action == "created" && envelope.Body.Spend.Status == "pending":
		return centsToUSDC(envelope.Body.Spend.Amount)
	case envelope.Action == "updated" &&
		(envelope.Body.Spend.Status == "pending" || envelope.Body.Spend.Status == "reversed"):
		return centsToUSDC(envelope.Body.Spend.AuthorizationUpdateAmount)
	case envelope.EventType == "CLEARING" && envelope.Status == "PENDING":
		return dollarsToUSDC(envelope.Data.BillAmount)
	}
	return 0, false
}

// CumulativeSpend sums the spend contributions of all recorded bodies,
// in 6-decimal USDC units. Negative contributions (reversed authorization
// updates) reduce the total but the result is floored at zero.
func CumulativeSpend(bodies []json.RawMessage) int64 {
	var total int64
	for _, body := range bodies {
		if amount, ok := BodySpendUSDC(body); ok {
			total += amount
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

func centsToUSDC(amount json.Number) (int64, bool) {
	value, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, false
	}
	return value.Div(decimal.New(1, 2)).Mul(usdcScale).Round(0).IntPart(), true
}

func dollarsToUSDC(amount json.Number) (int64, bool) {
	value, err := decimal.NewFromString(amount.String())
	if err != nil {
		return 0, false
	}
	return value.Mul(usdcScale).Round(0).IntPart(), true
}
