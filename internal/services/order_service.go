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

// CreateOrderParams is what checkout collaborators hand over when a sale or
// pre-order is initiated.
type CreateOrderParams struct {
	GrossAmount       decimal.Decimal      `json:"gross_amount" validate:"required"`
	PaymentMethod     models.PaymentMethod `json:"payment_method" validate:"required,oneof=PIX CARD BOLETO"`
	SellerID          string               `json:"seller_id" validate:"required,uuid4"`
	AffiliateID       string               `json:"affiliate_id,omitempty" validate:"omitempty,uuid4"`
	CommissionPercent decimal.Decimal      `json:"commission_percent,omitempty"`
	GatewayID         string               `json:"gateway_id" validate:"required"`
	ExternalRef       string               `json:"external_ref" validate:"required"`
}

// OrderService creates orders and registers their gateway references, and
// handles explicit cancellation. Settlement owns every other status change.
type OrderService struct {
	db       *sql.DB
	resolver *OrderResolver
	now      func() time.Time
}

func NewOrderService(db *sql.DB, resolver *OrderResolver) *OrderService {
	return &OrderService{db: db, resolver: resolver, now: time.Now}
}

// CreateOrder inserts the order and its external-reference mapping in one
// transaction, so a webhook arriving right after commit can always resolve it.
func (s *OrderService) CreateOrder(ctx context.Context, params CreateOrderParams) (*models.Order, error) {
	if !params.GrossAmount.IsPositive() {
		return nil, fmt.Errorf("gross amount must be positive, got %s", params.GrossAmount)
	}
	if !params.PaymentMethod.Valid() {
		return nil, fmt.Errorf("unsupported payment method %q", params.PaymentMethod)
	}
	if params.AffiliateID != "" {
		if _, err := ComputeCommission(params.GrossAmount, params.CommissionPercent); err != nil {
			return nil, err
		}
	}

	now := s.now().UTC()
	order := &models.Order{
		ID:            uuid.NewString(),
		GrossAmount:   params.GrossAmount,
		PaymentMethod: params.PaymentMethod,
		SellerID:      params.SellerID,
		Status:        models.OrderAwaitingPayment,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if params.AffiliateID != "" {
		order.AffiliateID = &params.AffiliateID
		percent := params.CommissionPercent
		order.CommissionPercent = &percent
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, gross_amount, payment_method, seller_id, affiliate_id, commission_percent, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		order.ID, order.GrossAmount, order.PaymentMethod, order.SellerID,
		order.AffiliateID, order.CommissionPercent, order.Status, order.CreatedAt, order.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	if err := s.resolver.RegisterReference(ctx, tx, params.GatewayID, params.ExternalRef, order.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create order: %w", err)
	}

	log.Printf("[ORDER] Created order %s for seller %s (%s %s via %s)",
		order.ID, order.SellerID, order.GrossAmount, order.PaymentMethod, params.GatewayID)
	return order, nil
}

// Cancel moves an order to CANCELED, allowed only from AWAITING_PAYMENT. The
// conditional update is the same serialization settlement uses, so a cancel
// racing an in-flight settlement resolves to whichever commits first; the
// loser observes the new state and becomes a no-op.
func (s *OrderService) Cancel(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.OrderCanceled, s.now().UTC(), orderID, models.OrderAwaitingPayment)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var status models.OrderStatus
		err := s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&status)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return fmt.Errorf("cancel order %s: %w", orderID, err)
		}
		return fmt.Errorf("order %s cannot be canceled from status %s", orderID, status)
	}
	return nil
}

// GetOrder fetches an order by id.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	var o models.Order
	err := s.db.QueryRowContext(ctx, `
		SELECT id, gross_amount, payment_method, seller_id, affiliate_id, commission_percent, status, created_at, updated_at
		FROM orders WHERE id = $1`,
		orderID).Scan(
		&o.ID, &o.GrossAmount, &o.PaymentMethod, &o.SellerID,
		&o.AffiliateID, &o.CommissionPercent, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}
