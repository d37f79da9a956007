package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeePlanEntry is the fee schedule for a single payment method inside a plan:
// a percentage rate on the gross, a fixed fee per order, and the number of
// days the resulting funds stay on hold before they become withdrawable.
type FeePlanEntry struct {
	Method      PaymentMethod   `json:"method" db:"method"`
	RatePercent decimal.Decimal `json:"rate_percent" db:"rate_percent"`
	FixedFee    decimal.Decimal `json:"fixed_fee" db:"fixed_fee"`
	HoldingDays int             `json:"holding_days" db:"holding_days"`
}

// FeePlan is a versioned, immutable fee schedule assigned to sellers.
// Plans are read-only to the settlement engine; changing fees means
// publishing a new version and re-assigning sellers.
type FeePlan struct {
	ID        string                         `json:"id" db:"id"`
	Version   int                            `json:"version" db:"version"`
	Entries   map[PaymentMethod]FeePlanEntry `json:"entries"`
	CreatedAt time.Time                      `json:"created_at" db:"created_at"`
}

// Entry returns the schedule for the given method, if the plan has one.
func (p *FeePlan) Entry(method PaymentMethod) (FeePlanEntry, bool) {
	if p == nil {
		return FeePlanEntry{}, false
	}
	e, ok := p.Entries[method]
	return e, ok
}

// OwnerKind distinguishes the two kinds of ledger owners.
type OwnerKind string

const (
	OwnerSeller    OwnerKind = "SELLER"
	OwnerAffiliate OwnerKind = "AFFILIATE"
)

// Owner is the aggregate a ledger balance belongs to: a seller or an
// affiliate. The withdrawal admission check takes its row lock on this row.
type Owner struct {
	ID        string    `json:"id" db:"id"`
	Kind      OwnerKind `json:"kind" db:"kind"`
	FeePlanID *string   `json:"fee_plan_id,omitempty" db:"fee_plan_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
