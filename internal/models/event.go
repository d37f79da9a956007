package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the canonical status vocabulary every gateway's webhook
// payload is mapped into. Only CONFIRMED proceeds to settlement.
type PaymentStatus string

const (
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentFailed    PaymentStatus = "FAILED"
)

// PaymentConfirmedEvent is the canonical form of a gateway payment webhook.
// ExternalRef is the reference registered for the order at creation time;
// GatewayPaymentID is the gateway's own id for the charge, kept for audit.
type PaymentConfirmedEvent struct {
	GatewayID        string          `json:"gateway_id" validate:"required"`
	ExternalRef      string          `json:"external_ref" validate:"required"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Status           PaymentStatus   `json:"status" validate:"required,oneof=CONFIRMED PENDING FAILED"`
	Amount           decimal.Decimal `json:"amount"`
}

// Confirmed reports whether the event should be settled.
func (e *PaymentConfirmedEvent) Confirmed() bool {
	return e != nil && e.Status == PaymentConfirmed
}

// WebhookEvent is a row in the durable webhook inbox. Deliveries are written
// here before the gateway gets its 200, so an event survives a crash between
// acknowledgment and settlement. ProcessedAt stays NULL until settlement
// succeeds; ProcessError flags rows that need manual reconciliation.
type WebhookEvent struct {
	ID           int64      `json:"id" db:"id"`
	GatewayID    string     `json:"gateway_id" db:"gateway_id"`
	EventKey     string     `json:"event_key" db:"event_key"`
	Payload      []byte     `json:"payload" db:"payload"`
	ReceivedAt   time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	ProcessError *string    `json:"process_error,omitempty" db:"process_error"`
}
