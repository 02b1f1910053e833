package models

import "time"

// CardStatus represents the lifecycle state of an issued card
type CardStatus string

const (
	CardStatusActive   CardStatus = "ACTIVE"
	CardStatusFrozen   CardStatus = "FROZEN"
	CardStatusDeleted  CardStatus = "DELETED"
	CardStatusMigrated CardStatus = "MIGRATED"
)

// Card represents a physical or virtual card issued against an on-chain account.
//
// Mode encodes the billing behavior: 0 is debit, 1 is single-period credit,
// and N>=2 means the spend is split across N installments.
type Card struct {
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	ID        string     `db:"id"`
	Account   string     `db:"account"`
	Status    CardStatus `db:"status"`
	Mode      int        `db:"mode"`
}
