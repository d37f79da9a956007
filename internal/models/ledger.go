package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies a ledger entry. NET_SALE credits the seller with the
// net proceeds of an order, COMMISSION credits the affiliate with their share.
// The platform fee is not stored as its own entry; it is the gap between the
// order's gross amount and the sum of its entries.
type EntryKind string

const (
	EntryNetSale    EntryKind = "NET_SALE"
	EntryCommission EntryKind = "COMMISSION"
)

// EntryStatus tracks whether funds are still in the holding period.
type EntryStatus string

const (
	EntryHeld      EntryStatus = "HELD"
	EntryAvailable EntryStatus = "AVAILABLE"
)

// LedgerEntry is an append-only financial fact. Entries are created once per
// settled order, keyed by (order_id, kind, owner_id), and never mutated except
// for the HELD -> AVAILABLE flip performed by the release sweep.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	OwnerID   string          `json:"owner_id" db:"owner_id"`
	OrderID   string          `json:"order_id" db:"order_id"`
	Kind      EntryKind       `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    EntryStatus     `json:"status" db:"status"`
	ReleaseAt *time.Time      `json:"release_at,omitempty" db:"release_at"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
