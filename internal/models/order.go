package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod is the checkout payment rail for an order.
type PaymentMethod string

const (
	MethodPIX    PaymentMethod = "PIX"
	MethodCard   PaymentMethod = "CARD"
	MethodBoleto PaymentMethod = "BOLETO"
)

// Valid reports whether m is one of the supported payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodPIX, MethodCard, MethodBoleto:
		return true
	}
	return false
}

// OrderStatus is the settlement lifecycle state of an order.
type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderPaid            OrderStatus = "PAID"
	OrderSettled         OrderStatus = "SETTLED"
	OrderCanceled        OrderStatus = "CANCELED"
)

// Order is a sale or pre-order that requires settlement once the gateway
// confirms payment. Orders are never deleted after they reach PAID.
type Order struct {
	ID                string           `json:"id" db:"id"`
	GrossAmount       decimal.Decimal  `json:"gross_amount" db:"gross_amount"`
	PaymentMethod     PaymentMethod    `json:"payment_method" db:"payment_method"`
	SellerID          string           `json:"seller_id" db:"seller_id"`
	AffiliateID       *string          `json:"affiliate_id,omitempty" db:"affiliate_id"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty" db:"commission_percent"`
	Status            OrderStatus      `json:"status" db:"status"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// HasAffiliate reports whether the order carries an affiliate split.
func (o *Order) HasAffiliate() bool {
	return o.AffiliateID != nil && *o.AffiliateID != ""
}
