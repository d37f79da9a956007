package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/vendahub/settlement/internal/models"
)

var (
	// ErrInsufficientBalance rejects a withdrawal larger than the owner's
	// available balance minus already-reserved withdrawals.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOwnerNotFound means the owner aggregate does not exist.
	ErrOwnerNotFound = errors.New("owner not found")

	// ErrInvalidTransition rejects a withdrawal status change the payout
	// lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid withdrawal status transition")
)

// InsufficientBalanceError carries the numbers back to the user so they can
// self-correct. errors.Is(err, ErrInsufficientBalance) matches it.
type InsufficientBalanceError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %s, available %s", e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Is(target error) bool {
	return target == ErrInsufficientBalance
}

// BalanceSummary is the owner-facing view of their funds.
type BalanceSummary struct {
	OwnerID   string          `json:"owner_id"`
	Held      decimal.Decimal `json:"held"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

// Withdrawable is what a new withdrawal may request: available minus reserved.
func (b BalanceSummary) Withdrawable() decimal.Decimal {
	return b.Available.Sub(b.Reserved)
}

// WithdrawalService admits withdrawal requests against available balance.
//
// The admission check and the insert run in one transaction under a FOR
// UPDATE lock on the owner row. Two concurrent requests for the same owner
// serialize on that lock, so they can never both pass the check against the
// same available amount. Different owners proceed in parallel.
type WithdrawalService struct {
	db     *sql.DB
	ledger *LedgerService
	now    func() time.Time
}

func NewWithdrawalService(db *sql.DB, ledger *LedgerService) *WithdrawalService {
	return &WithdrawalService{db: db, ledger: ledger, now: time.Now}
}

// RequestWithdrawal reserves amount out of the owner's available balance.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, ownerID string, amount decimal.Decimal) (*models.Withdrawal, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %s", amount)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin withdrawal: %w", err)
	}
	defer tx.Rollback()

	// Serialize per owner.
	var lockedID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM owners WHERE id = $1 FOR UPDATE`, ownerID).Scan(&lockedID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrOwnerNotFound, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock owner %s: %w", ownerID, err)
	}

	available, err := s.ledger.BalanceTx(ctx, tx, ownerID, models.EntryAvailable)
	if err != nil {
		return nil, err
	}

	reserved, err := s.reservedTx(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}

	withdrawable := available.Sub(reserved)
	if amount.GreaterThan(withdrawable) {
		return nil, &InsufficientBalanceError{Available: withdrawable, Requested: amount}
	}

	w := &models.Withdrawal{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    models.WithdrawalRequested,
		CreatedAt: s.now().UTC(),
	}
	w.UpdatedAt = w.CreatedAt

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO withdrawals (id, owner_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.ID, w.OwnerID, w.Amount, w.Status, w.CreatedAt, w.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}

	log.Printf("[WITHDRAWAL] Owner %s reserved %s (available was %s)", ownerID, amount, withdrawable)
	return w, nil
}

// reservedStatuses as plain strings for pq.Array.
func reservedStatuses() []string {
	out := make([]string, len(models.ReservedStatuses))
	for i, st := range models.ReservedStatuses {
		out[i] = string(st)
	}
	return out
}

func (s *WithdrawalService) reservedTx(ctx context.Context, tx *sql.Tx, ownerID string) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE owner_id = $1 AND status = ANY($2)`,
		ownerID, pq.Array(reservedStatuses())).Scan(&reserved)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserved withdrawals %s: %w", ownerID, err)
	}
	return reserved, nil
}

// Balance returns the owner's held, available and reserved totals.
func (s *WithdrawalService) Balance(ctx context.Context, ownerID string) (*BalanceSummary, error) {
	held, err := s.ledger.Balance(ctx, ownerID, models.EntryHeld)
	if err != nil {
		return nil, err
	}
	available, err := s.ledger.Balance(ctx, ownerID, models.EntryAvailable)
	if err != nil {
		return nil, err
	}

	var reserved decimal.Decimal
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE owner_id = $1 AND status = ANY($2)`,
		ownerID, pq.Array(reservedStatuses())).Scan(&reserved)
	if err != nil {
		return nil, fmt.Errorf("reserved withdrawals %s: %w", ownerID, err)
	}

	return &BalanceSummary{OwnerID: ownerID, Held: held, Available: available, Reserved: reserved}, nil
}

// ListWithdrawals returns the owner's withdrawals, newest first.
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, ownerID string, limit int) ([]models.Withdrawal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, amount, status, created_at, updated_at
		FROM withdrawals
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		if err := rows.Scan(&w.ID, &w.OwnerID, &w.Amount, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan withdrawal: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// allowedTransitions is the payout lifecycle driven by the external approval
// workflow and the bank executor's report-back.
var allowedTransitions = map[models.WithdrawalStatus][]models.WithdrawalStatus{
	models.WithdrawalRequested:  {models.WithdrawalApproved, models.WithdrawalRejected},
	models.WithdrawalApproved:   {models.WithdrawalProcessing, models.WithdrawalRejected},
	models.WithdrawalProcessing: {models.WithdrawalPaid, models.WithdrawalRejected},
}

// UpdateStatus applies a lifecycle transition reported by the approval
// workflow or the payout executor. A REJECTED terminal state frees the
// reserved amount simply by leaving the reserved-status set.
func (s *WithdrawalService) UpdateStatus(ctx context.Context, withdrawalID string, to models.WithdrawalStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback()

	var current models.WithdrawalStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM withdrawals WHERE id = $1 FOR UPDATE`, withdrawalID).Scan(&current)
	if err == sql.ErrNoRows {
		return fmt.Errorf("withdrawal %s not found", withdrawalID)
	}
	if err != nil {
		return fmt.Errorf("lock withdrawal %s: %w", withdrawalID, err)
	}

	ok := false
	for _, next := range allowedTransitions[current] {
		if next == to {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, to)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE withdrawals SET status = $1, updated_at = $2 WHERE id = $3`,
		to, s.now().UTC(), withdrawalID); err != nil {
		return fmt.Errorf("update withdrawal %s: %w", withdrawalID, err)
	}

	return tx.Commit()
}
