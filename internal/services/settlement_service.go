package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vendahub/settlement/internal/models"
)

// SettlementResult reports what a settlement did, for notification and audit
// collaborators. AlreadySettled is set when the call was an idempotent replay.
type SettlementResult struct {
	OrderID        string          `json:"order_id"`
	GrossAmount    decimal.Decimal `json:"gross_amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	SellerNet      decimal.Decimal `json:"seller_net"`
	Commission     decimal.Decimal `json:"commission"`
	ReleaseAt      time.Time       `json:"release_at"`
	AlreadySettled bool            `json:"already_settled"`
	Canceled       bool            `json:"canceled"`
}

// SettlementService turns a confirmed payment event into ledger entries.
// Every gateway delivers webhooks at least once, so Settle is built to be
// replayed: the conditional order update and the unique ledger key make a
// second delivery a no-op.
type SettlementService struct {
	db       *sql.DB
	fees     *FeeCalculator
	ledger   *LedgerService
	notifier Notifier
	now      func() time.Time
}

func NewSettlementService(db *sql.DB, fees *FeeCalculator, ledger *LedgerService, notifier Notifier) *SettlementService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &SettlementService{
		db:       db,
		fees:     fees,
		ledger:   ledger,
		notifier: notifier,
		now:      time.Now,
	}
}

// Settle applies a canonical payment event to the order's ledger.
//
// Non-confirmed events are no-ops regardless of ordering: PENDING after
// CONFIRMED must not change the outcome. Fatal calculator errors (NoFeePlan,
// InvalidFeePlan, InvalidCommission) surface to the caller and require
// manual reconciliation; storage errors are retryable with the same event.
func (s *SettlementService) Settle(ctx context.Context, order *models.Order, event *models.PaymentConfirmedEvent) (*SettlementResult, error) {
	if !event.Confirmed() {
		return &SettlementResult{OrderID: order.ID, GrossAmount: order.GrossAmount, AlreadySettled: order.Status == models.OrderSettled}, nil
	}

	// Fast path for replays; the conditional update below is the real guard.
	switch order.Status {
	case models.OrderPaid, models.OrderSettled:
		return s.replayResult(ctx, order)
	case models.OrderCanceled:
		log.Printf("[SETTLEMENT] Confirmed payment for canceled order %s, flagging for reconciliation", order.ID)
		return &SettlementResult{OrderID: order.ID, GrossAmount: order.GrossAmount, Canceled: true}, nil
	}

	plan, err := s.loadSellerPlan(ctx, order.SellerID)
	if err != nil {
		return nil, err
	}

	feeRes, err := s.fees.ComputeFee(order.GrossAmount, order.PaymentMethod, plan)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", order.ID, err)
	}

	sellerNet := feeRes.NetAmount
	commission := decimal.Zero
	if order.HasAffiliate() {
		percent := decimal.Zero
		if order.CommissionPercent != nil {
			percent = *order.CommissionPercent
		}
		commission, err = ComputeCommission(order.GrossAmount, percent)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", order.ID, err)
		}
		sellerNet = sellerNet.Sub(commission)
		if sellerNet.IsNegative() {
			return nil, fmt.Errorf("%w: commission %s exceeds net %s on order %s",
				ErrInvalidCommission, commission, feeRes.NetAmount, order.ID)
		}
	}

	now := s.now().UTC()
	releaseAt := now.Add(time.Duration(feeRes.HoldingDays) * 24 * time.Hour)

	entries := []models.LedgerEntry{{
		ID:        uuid.NewString(),
		OwnerID:   order.SellerID,
		OrderID:   order.ID,
		Kind:      models.EntryNetSale,
		Amount:    sellerNet,
		Status:    models.EntryHeld,
		ReleaseAt: &releaseAt,
		CreatedAt: now,
	}}
	if order.HasAffiliate() {
		entries = append(entries, models.LedgerEntry{
			ID:        uuid.NewString(),
			OwnerID:   *order.AffiliateID,
			OrderID:   order.ID,
			Kind:      models.EntryCommission,
			Amount:    commission,
			Status:    models.EntryHeld,
			ReleaseAt: &releaseAt,
			CreatedAt: now,
		})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settlement: %w", err)
	}
	defer tx.Rollback()

	// Claim the order. Losing the race to another delivery (or to a
	// cancellation) is observed here and turns this call into a no-op.
	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.OrderPaid, now, order.ID, models.OrderAwaitingPayment)
	if err != nil {
		return nil, fmt.Errorf("mark order paid: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if claimed == 0 {
		var current models.OrderStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, order.ID).Scan(&current); err != nil {
			return nil, fmt.Errorf("reread order %s: %w", order.ID, err)
		}
		switch current {
		case models.OrderSettled:
			return s.replayResult(ctx, order)
		case models.OrderCanceled:
			log.Printf("[SETTLEMENT] Order %s canceled before settlement committed", order.ID)
			return &SettlementResult{OrderID: order.ID, GrossAmount: order.GrossAmount, Canceled: true}, nil
		case models.OrderPaid:
			// A previous attempt crashed between PAID and SETTLED; finish
			// the ledger write below. The unique entry key prevents
			// re-crediting.
		default:
			return nil, fmt.Errorf("order %s in unexpected status %s", order.ID, current)
		}
	}

	if err := s.ledger.AppendEntries(ctx, tx, entries); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.OrderSettled, now, order.ID, models.OrderPaid); err != nil {
		return nil, fmt.Errorf("mark order settled: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	result := &SettlementResult{
		OrderID:     order.ID,
		GrossAmount: order.GrossAmount,
		PlatformFee: feeRes.PlatformFee,
		SellerNet:   sellerNet,
		Commission:  commission,
		ReleaseAt:   releaseAt,
	}

	// Notification failures never roll back or block a committed settlement.
	go s.notifier.NotifySettlement(result)

	log.Printf("[SETTLEMENT] Order %s settled: gross=%s fee=%s net=%s commission=%s",
		order.ID, result.GrossAmount, result.PlatformFee, result.SellerNet, result.Commission)
	return result, nil
}

// replayResult rebuilds the amounts of an already-settled order from its
// ledger entries so replays return the same numbers as the first delivery.
func (s *SettlementService) replayResult(ctx context.Context, order *models.Order) (*SettlementResult, error) {
	entries, err := s.ledger.EntriesForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	result := &SettlementResult{OrderID: order.ID, GrossAmount: order.GrossAmount, AlreadySettled: true}
	credited := decimal.Zero
	for _, e := range entries {
		credited = credited.Add(e.Amount)
		switch e.Kind {
		case models.EntryNetSale:
			result.SellerNet = e.Amount
		case models.EntryCommission:
			result.Commission = e.Amount
		}
		if e.ReleaseAt != nil {
			result.ReleaseAt = *e.ReleaseAt
		}
	}
	result.PlatformFee = order.GrossAmount.Sub(credited)
	return result, nil
}

// loadSellerPlan fetches the seller's assigned fee plan with its per-method
// entries. A seller without an assigned plan returns nil so the calculator
// uses the injected platform default.
func (s *SettlementService) loadSellerPlan(ctx context.Context, sellerID string) (*models.FeePlan, error) {
	var planID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT fee_plan_id FROM owners WHERE id = $1`, sellerID).Scan(&planID)
	if err == sql.ErrNoRows || (err == nil && !planID.Valid) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load seller %s: %w", sellerID, err)
	}

	plan := &models.FeePlan{ID: planID.String, Entries: map[models.PaymentMethod]models.FeePlanEntry{}}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.version, e.method, e.rate_percent, e.fixed_fee, e.holding_days
		FROM fee_plans p
		JOIN fee_plan_entries e ON e.plan_id = p.id
		WHERE p.id = $1`,
		planID.String)
	if err != nil {
		return nil, fmt.Errorf("load fee plan %s: %w", planID.String, err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry models.FeePlanEntry
		if err := rows.Scan(&plan.Version, &entry.Method, &entry.RatePercent, &entry.FixedFee, &entry.HoldingDays); err != nil {
			return nil, fmt.Errorf("scan fee plan entry: %w", err)
		}
		plan.Entries[entry.Method] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(plan.Entries) == 0 {
		return nil, fmt.Errorf("%w: plan %s has no entries", ErrNoFeePlan, planID.String)
	}
	return plan, nil
}
