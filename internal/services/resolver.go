package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vendahub/settlement/internal/models"
)

// ErrOrderNotFound means no order is mapped to the external reference yet.
// This is retryable: webhook delivery can race order creation, so callers
// leave the event queued instead of treating this as a parse failure.
var ErrOrderNotFound = errors.New("order not found")

// OrderResolver maps a canonical event's external reference to an order
// through the payment_refs table. The table is written once at order creation,
// so there is exactly one way to find an order - no per-gateway lookup
// heuristics.
type OrderResolver struct {
	db *sql.DB
}

func NewOrderResolver(db *sql.DB) *OrderResolver {
	return &OrderResolver{db: db}
}

// RegisterReference records the gateway's reference for an order. Called in
// the same transaction that creates the order. Re-registering the same
// reference for the same order is a no-op; pointing an existing reference at
// a different order is an error.
func (r *OrderResolver) RegisterReference(ctx context.Context, tx *sql.Tx, gatewayID, externalRef, orderID string) error {
	if externalRef == "" {
		return fmt.Errorf("external reference is required")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO payment_refs (external_ref, gateway_id, order_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_ref) DO NOTHING`,
		externalRef, gatewayID, orderID)
	if err != nil {
		return fmt.Errorf("register reference: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var existing string
		if err := tx.QueryRowContext(ctx,
			`SELECT order_id FROM payment_refs WHERE external_ref = $1`,
			externalRef).Scan(&existing); err != nil {
			return fmt.Errorf("register reference: %w", err)
		}
		if existing != orderID {
			return fmt.Errorf("external reference %s already mapped to order %s", externalRef, existing)
		}
	}
	return nil
}

// Resolve returns the order mapped to externalRef.
func (r *OrderResolver) Resolve(ctx context.Context, externalRef string) (*models.Order, error) {
	var o models.Order
	err := r.db.QueryRowContext(ctx, `
		SELECT o.id, o.gross_amount, o.payment_method, o.seller_id,
		       o.affiliate_id, o.commission_percent, o.status, o.created_at, o.updated_at
		FROM payment_refs pr
		JOIN orders o ON o.id = pr.order_id
		WHERE pr.external_ref = $1`,
		externalRef).Scan(
		&o.ID, &o.GrossAmount, &o.PaymentMethod, &o.SellerID,
		&o.AffiliateID, &o.CommissionPercent, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: ref %s", ErrOrderNotFound, externalRef)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve order: %w", err)
	}
	return &o, nil
}
