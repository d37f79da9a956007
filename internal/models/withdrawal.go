package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the payout lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalRequested  WithdrawalStatus = "REQUESTED"
	WithdrawalApproved   WithdrawalStatus = "APPROVED"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalPaid       WithdrawalStatus = "PAID"
	WithdrawalRejected   WithdrawalStatus = "REJECTED"
)

// Withdrawal is a request to convert available balance into an external
// payout. The amount is fixed at creation and reserved against the owner's
// available balance from REQUESTED onward; only REJECTED frees it again.
// Withdrawals are not ledger entries, they are a parallel liability.
type Withdrawal struct {
	ID        string           `json:"id" db:"id"`
	OwnerID   string           `json:"owner_id" db:"owner_id"`
	Amount    decimal.Decimal  `json:"amount" db:"amount"`
	Status    WithdrawalStatus `json:"status" db:"status"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt time.Time        `json:"updated_at" db:"updated_at"`
}

// ReservedStatuses are the withdrawal states that count against the owner's
// available balance. PAID is included: a completed payout is a permanent
// deduction, since no ledger debit is recorded for it.
var ReservedStatuses = []WithdrawalStatus{
	WithdrawalRequested,
	WithdrawalApproved,
	WithdrawalProcessing,
	WithdrawalPaid,
}
