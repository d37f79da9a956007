package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vendahub/settlement/internal/models"
)

// ErrUnrecognizedPayload means the gateway is unknown or the payload does not
// decode into that gateway's webhook shape. Unlike a non-payment webhook type
// (which is a normal no-op), this indicates a misconfigured endpoint.
var ErrUnrecognizedPayload = errors.New("unrecognized webhook payload")

// Normalizer maps gateway-specific webhook payloads into the canonical
// PaymentConfirmedEvent. It performs no side effects; resolving the event to
// an order and settling it happen downstream.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Gateway ids accepted on the webhook endpoint.
const (
	GatewayMercadoPago = "mercadopago"
	GatewayAsaas       = "asaas"
	GatewayPagarme     = "pagarme"
)

// KnownGateway reports whether id is a gateway this normalizer understands.
func KnownGateway(id string) bool {
	switch id {
	case GatewayMercadoPago, GatewayAsaas, GatewayPagarme:
		return true
	}
	return false
}

// Normalize maps raw into a canonical event. A (nil, nil) return means the
// payload is a recognized non-payment notification and there is nothing to
// do. Payment events with non-terminal statuses come back with Status set to
// PENDING or FAILED; only Confirmed() events proceed to settlement.
func (n *Normalizer) Normalize(gatewayID string, raw []byte) (*models.PaymentConfirmedEvent, error) {
	switch gatewayID {
	case GatewayMercadoPago:
		return n.normalizeMercadoPago(raw)
	case GatewayAsaas:
		return n.normalizeAsaas(raw)
	case GatewayPagarme:
		return n.normalizePagarme(raw)
	default:
		return nil, fmt.Errorf("%w: unknown gateway %q", ErrUnrecognizedPayload, gatewayID)
	}
}

// Mercado Pago sends {"type":"payment","data":{...}} with statuses
// approved / pending / in_process / rejected / cancelled.
func (n *Normalizer) normalizeMercadoPago(raw []byte) (*models.PaymentConfirmedEvent, error) {
	var payload struct {
		Type string `json:"type"`
		Data struct {
			ID                json.Number     `json:"id"`
			Status            string          `json:"status"`
			ExternalReference string          `json:"external_reference"`
			TransactionAmount decimal.Decimal `json:"transaction_amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: mercadopago: %v", ErrUnrecognizedPayload, err)
	}
	if payload.Type != "payment" {
		// Plan/subscription/test notifications are expected traffic.
		return nil, nil
	}

	var status models.PaymentStatus
	switch payload.Data.Status {
	case "approved":
		status = models.PaymentConfirmed
	case "pending", "in_process", "authorized":
		status = models.PaymentPending
	case "rejected", "cancelled", "refunded", "charged_back":
		status = models.PaymentFailed
	default:
		return nil, fmt.Errorf("%w: mercadopago status %q", ErrUnrecognizedPayload, payload.Data.Status)
	}

	return &models.PaymentConfirmedEvent{
		GatewayID:        GatewayMercadoPago,
		ExternalRef:      payload.Data.ExternalReference,
		GatewayPaymentID: payload.Data.ID.String(),
		Status:           status,
		Amount:           payload.Data.TransactionAmount,
	}, nil
}

// Asaas sends {"event":"PAYMENT_*","payment":{...}}; the event name, not the
// embedded payment status, is the source of truth for the transition.
func (n *Normalizer) normalizeAsaas(raw []byte) (*models.PaymentConfirmedEvent, error) {
	var payload struct {
		Event   string `json:"event"`
		Payment struct {
			ID                string          `json:"id"`
			ExternalReference string          `json:"externalReference"`
			Value             decimal.Decimal `json:"value"`
		} `json:"payment"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: asaas: %v", ErrUnrecognizedPayload, err)
	}

	var status models.PaymentStatus
	switch payload.Event {
	case "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED":
		status = models.PaymentConfirmed
	case "PAYMENT_CREATED", "PAYMENT_UPDATED", "PAYMENT_AWAITING_RISK_ANALYSIS":
		status = models.PaymentPending
	case "PAYMENT_OVERDUE", "PAYMENT_DELETED", "PAYMENT_REFUNDED", "PAYMENT_CHARGEBACK_REQUESTED":
		status = models.PaymentFailed
	case "":
		return nil, fmt.Errorf("%w: asaas: missing event", ErrUnrecognizedPayload)
	default:
		// Invoice/transfer/subscription events share the endpoint.
		return nil, nil
	}

	return &models.PaymentConfirmedEvent{
		GatewayID:        GatewayAsaas,
		ExternalRef:      payload.Payment.ExternalReference,
		GatewayPaymentID: payload.Payment.ID,
		Status:           status,
		Amount:           payload.Payment.Value,
	}, nil
}

// Pagar.me postbacks carry {"object":"transaction","current_status":...} with
// amounts in cents.
func (n *Normalizer) normalizePagarme(raw []byte) (*models.PaymentConfirmedEvent, error) {
	var payload struct {
		Object        string `json:"object"`
		CurrentStatus string `json:"current_status"`
		Transaction   struct {
			ID           json.Number `json:"id"`
			ReferenceKey string      `json:"reference_key"`
			Amount       int64       `json:"amount"`
		} `json:"transaction"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: pagarme: %v", ErrUnrecognizedPayload, err)
	}
	if payload.Object != "transaction" {
		return nil, nil
	}

	var status models.PaymentStatus
	switch payload.CurrentStatus {
	case "paid":
		status = models.PaymentConfirmed
	case "processing", "authorized", "waiting_payment", "pending_refund":
		status = models.PaymentPending
	case "refused", "refunded", "chargedback":
		status = models.PaymentFailed
	default:
		return nil, fmt.Errorf("%w: pagarme status %q", ErrUnrecognizedPayload, payload.CurrentStatus)
	}

	return &models.PaymentConfirmedEvent{
		GatewayID:        GatewayPagarme,
		ExternalRef:      payload.Transaction.ReferenceKey,
		GatewayPaymentID: payload.Transaction.ID.String(),
		Status:           status,
		Amount:           decimal.New(payload.Transaction.Amount, -2),
	}, nil
}
