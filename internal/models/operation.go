package models

import (
	"encoding/json"
	"time"
)

// ReceiptStatus classifies the on-chain outcome of an operation's last broadcast
type ReceiptStatus string

const (
	ReceiptStatusPending  ReceiptStatus = "PENDING"
	ReceiptStatusSuccess  ReceiptStatus = "SUCCESS"
	ReceiptStatusReverted ReceiptStatus = "REVERTED"
)

// Merchant holds the merchant metadata reported with the first webhook body
type Merchant struct {
	Name    string `json:"name"`
	City    string `json:"city,omitempty"`
	Country string `json:"country,omitempty"`
}

// Operation is one card-network transaction lifecycle instance.
//
// It records every raw webhook body received for a provider operation id
// (append-only) together with the on-chain transaction hashes it produced,
// so that duplicate and out-of-order deliveries can be detected and refund
// amounts can be bounded against prior spend. Version backs the optimistic
// concurrency check on body appends.
type Operation struct {
	CreatedAt     time.Time         `db:"created_at"`
	ID            string            `db:"id"`
	CardID        string            `db:"card_id"`
	Provider      string            `db:"provider"`
	ReceiptStatus ReceiptStatus     `db:"receipt_status"`
	Merchant      *Merchant         `db:"-"`
	Hashes        []string          `db:"hashes"`
	Bodies        []json.RawMessage `db:"-"`
	Version       int64             `db:"version"`
}
