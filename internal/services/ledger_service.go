package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/vendahub/settlement/internal/models"
)

// LedgerService is the append-mostly store of ledger entries and the single
// source of truth for balances. No caller may cache or locally recompute a
// balance used for a financial decision.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// AppendEntries inserts the given entries inside the caller's transaction.
// The unique key (order_id, kind, owner_id) makes replays no-ops, which is
// what lets a settlement retry complete a partially written order without
// re-crediting anyone.
func (s *LedgerService) AppendEntries(ctx context.Context, tx *sql.Tx, entries []models.LedgerEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, owner_id, order_id, kind, amount, status, release_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (order_id, kind, owner_id) DO NOTHING`,
			e.ID, e.OwnerID, e.OrderID, e.Kind, e.Amount, e.Status, e.ReleaseAt, e.CreatedAt)
		if err != nil {
			return fmt.Errorf("append ledger entry %s/%s: %w", e.OrderID, e.Kind, err)
		}
	}
	return nil
}

// Balance returns the sum of the owner's entries in the given status.
func (s *LedgerService) Balance(ctx context.Context, ownerID string, status models.EntryStatus) (decimal.Decimal, error) {
	return s.balance(ctx, s.db, ownerID, status)
}

// BalanceTx is Balance inside an open transaction, used by the withdrawal
// admission check after it has taken the owner row lock.
func (s *LedgerService) BalanceTx(ctx context.Context, tx *sql.Tx, ownerID string, status models.EntryStatus) (decimal.Decimal, error) {
	return s.balance(ctx, tx, ownerID, status)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *LedgerService) balance(ctx context.Context, q queryRower, ownerID string, status models.EntryStatus) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_entries
		WHERE owner_id = $1 AND status = $2`,
		ownerID, status).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance %s/%s: %w", ownerID, status, err)
	}
	return sum, nil
}

// MatureEntries claims HELD entries whose release time has passed. The rows
// come back locked (FOR UPDATE SKIP LOCKED) so concurrent sweep instances
// never fight over the same entry and a crashed sweep leaves its rows free
// for the next run.
func (s *LedgerService) MatureEntries(ctx context.Context, tx *sql.Tx, before time.Time, limit int) ([]models.LedgerEntry, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, owner_id, order_id, kind, amount, status, release_at, created_at
		FROM ledger_entries
		WHERE status = $1 AND release_at <= $2
		ORDER BY release_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		models.EntryHeld, before, limit)
	if err != nil {
		return nil, fmt.Errorf("mature entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.OrderID, &e.Kind, &e.Amount, &e.Status, &e.ReleaseAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mature entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Promote flips the given entries HELD -> AVAILABLE. Entries already
// AVAILABLE are skipped by the status predicate, so promoting twice is safe.
func (s *LedgerService) Promote(ctx context.Context, tx *sql.Tx, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = $1
		WHERE id = ANY($2) AND status = $3`,
		models.EntryAvailable, pq.Array(ids), models.EntryHeld)
	if err != nil {
		return 0, fmt.Errorf("promote entries: %w", err)
	}
	return res.RowsAffected()
}

// EntriesForOrder returns the entries settled for an order, for audit.
func (s *LedgerService) EntriesForOrder(ctx context.Context, orderID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, order_id, kind, amount, status, release_at, created_at
		FROM ledger_entries
		WHERE order_id = $1
		ORDER BY kind`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("entries for order: %w", err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.OrderID, &e.Kind, &e.Amount, &e.Status, &e.ReleaseAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// FeeForOrder reconstructs the platform fee for audit: the gap between the
// order's gross amount and the sum of its ledger entries. The fee is not
// persisted as its own entry, so this is the authoritative derivation.
func (s *LedgerService) FeeForOrder(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var gross, credited decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT o.gross_amount, COALESCE(SUM(le.amount), 0)
		FROM orders o
		LEFT JOIN ledger_entries le ON le.order_id = o.id
		WHERE o.id = $1
		GROUP BY o.gross_amount`,
		orderID).Scan(&gross, &credited)
	if err == sql.ErrNoRows {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("fee for order: %w", err)
	}
	return gross.Sub(credited), nil
}
