package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/vendahub/settlement/internal/services"
)

// WebhookHandler receives gateway payment webhooks. Deliveries are written to
// a durable inbox before the gateway gets its 200, so an event is never lost
// between acknowledgment and settlement. Processing failures leave the inbox
// row pending for ReplayPending; acknowledging is what stops gateway-side
// retry storms, replay is what fixes the data.
type WebhookHandler struct {
	db         *sql.DB
	redis      *redis.Client
	normalizer *services.Normalizer
	resolver   *services.OrderResolver
	settlement *services.SettlementService
	secrets    map[string]string // gateway id -> webhook HMAC secret
}

func NewWebhookHandler(db *sql.DB, redisClient *redis.Client, normalizer *services.Normalizer, resolver *services.OrderResolver, settlement *services.SettlementService, secrets map[string]string) *WebhookHandler {
	return &WebhookHandler{
		db:         db,
		redis:      redisClient,
		normalizer: normalizer,
		resolver:   resolver,
		settlement: settlement,
		secrets:    secrets,
	}
}

// HandleWebhook processes POST /webhooks/{gateway}.
// @Summary Receive a gateway payment webhook
// @Description Accepts a raw gateway webhook, stores it durably and settles confirmed payments
// @Tags webhooks
// @Accept json
// @Produce json
// @Param gateway path string true "Gateway id (mercadopago, asaas, pagarme)"
// @Success 200 {object} map[string]string
// @Failure 401 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /webhooks/{gateway} [post]
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	gatewayID := chi.URLParam(r, "gateway")
	if !services.KnownGateway(gatewayID) {
		services.SendErrorResponse(w, "Unknown gateway", http.StatusNotFound, nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.verifySignature(gatewayID, payload, r.Header.Get("X-Webhook-Signature")); err != nil {
		log.Printf("[WEBHOOK] Signature rejected for %s: %v", gatewayID, err)
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	// The payload hash keys the inbox: gateways redeliver byte-identical
	// bodies, and distinct events differ in payload.
	sum := sha256.Sum256(payload)
	eventKey := hex.EncodeToString(sum[:])

	if h.isDuplicate(r.Context(), gatewayID, eventKey) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
		return
	}

	eventID, duplicate, err := h.storeInbox(r.Context(), gatewayID, eventKey, payload)
	if err != nil {
		// Not yet durable, so this is the one case where we refuse the
		// delivery and let the gateway retry. The redis key is untouched,
		// so the retry is not mistaken for a duplicate.
		log.Printf("[WEBHOOK] Inbox write failed for %s: %v", gatewayID, err)
		services.SendErrorResponse(w, "Failed to accept event", http.StatusInternalServerError, nil)
		return
	}
	h.markSeen(r.Context(), gatewayID, eventKey)
	if duplicate {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "duplicate"})
		return
	}

	status := "accepted"
	if err := h.process(r.Context(), eventID, gatewayID, payload); err != nil {
		// Acknowledged anyway: the event is durable and replayable, and
		// failing the response would only cause endless gateway retries.
		log.Printf("[WEBHOOK] Processing deferred for %s event %d: %v", gatewayID, eventID, err)
		status = "accepted_pending"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (h *WebhookHandler) verifySignature(gatewayID string, payload []byte, signature string) error {
	secret, ok := h.secrets[gatewayID]
	if !ok || secret == "" {
		// Gateways without a configured secret are accepted; the inbox and
		// order resolution still gate what can be settled.
		return nil
	}
	if signature == "" {
		return fmt.Errorf("missing signature header")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// isDuplicate is the redis fast path, read-only: the key is set only by
// markSeen after the event is durably in the inbox, so a failed insert never
// poisons the cache and loses the retry. Redis being down just means every
// dedupe decision falls through to the inbox unique key.
func (h *WebhookHandler) isDuplicate(ctx context.Context, gatewayID, eventKey string) bool {
	if h.redis == nil {
		return false
	}
	n, err := h.redis.Exists(ctx, seenKey(gatewayID, eventKey)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (h *WebhookHandler) markSeen(ctx context.Context, gatewayID, eventKey string) {
	if h.redis == nil {
		return
	}
	if err := h.redis.SetNX(ctx, seenKey(gatewayID, eventKey), 1, 48*time.Hour).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to cache dedupe key for %s: %v", gatewayID, err)
	}
}

func seenKey(gatewayID, eventKey string) string {
	return fmt.Sprintf("webhook_seen:%s:%s", gatewayID, eventKey)
}

func (h *WebhookHandler) storeInbox(ctx context.Context, gatewayID, eventKey string, payload []byte) (int64, bool, error) {
	var id int64
	err := h.db.QueryRowContext(ctx, `
		INSERT INTO webhook_events (gateway_id, event_key, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (gateway_id, event_key) DO NOTHING
		RETURNING id`,
		gatewayID, eventKey, payload, time.Now().UTC()).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, false, nil
}

// process drives one inbox event through normalize -> resolve -> settle.
//
// Outcomes map to the error taxonomy: no-op payloads and fatal calculator
// errors mark the row processed (the latter with the error flagged for
// reconciliation); a missing order or a storage failure leaves the row
// pending so ReplayPending can retry it with the same idempotent event.
func (h *WebhookHandler) process(ctx context.Context, eventID int64, gatewayID string, payload []byte) error {
	event, err := h.normalizer.Normalize(gatewayID, payload)
	if err != nil {
		// Unrecognized payloads cannot succeed on replay either; flag them.
		h.markProcessed(ctx, eventID, err)
		return err
	}
	if event == nil || !event.Confirmed() {
		h.markProcessed(ctx, eventID, nil)
		return nil
	}

	order, err := h.resolver.Resolve(ctx, event.ExternalRef)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// Order creation may still be in flight; keep the row pending.
			h.recordError(ctx, eventID, err)
			return err
		}
		h.recordError(ctx, eventID, err)
		return err
	}

	if _, err := h.settlement.Settle(ctx, order, event); err != nil {
		if errors.Is(err, services.ErrNoFeePlan) ||
			errors.Is(err, services.ErrInvalidFeePlan) ||
			errors.Is(err, services.ErrInvalidCommission) {
			// Fatal: retrying will not fix the data. Ack and flag.
			h.markProcessed(ctx, eventID, err)
			return err
		}
		h.recordError(ctx, eventID, err)
		return err
	}

	h.markProcessed(ctx, eventID, nil)
	return nil
}

func (h *WebhookHandler) markProcessed(ctx context.Context, eventID int64, procErr error) {
	var errText *string
	if procErr != nil {
		s := procErr.Error()
		errText = &s
	}
	if _, err := h.db.ExecContext(ctx, `
		UPDATE webhook_events SET processed_at = $1, process_error = $2 WHERE id = $3`,
		time.Now().UTC(), errText, eventID); err != nil {
		log.Printf("[WEBHOOK] Failed to mark event %d processed: %v", eventID, err)
	}
}

func (h *WebhookHandler) recordError(ctx context.Context, eventID int64, procErr error) {
	if _, err := h.db.ExecContext(ctx, `
		UPDATE webhook_events SET process_error = $1 WHERE id = $2`,
		procErr.Error(), eventID); err != nil {
		log.Printf("[WEBHOOK] Failed to record error on event %d: %v", eventID, err)
	}
}

// ReplayPending re-drives inbox events that were acknowledged but not yet
// settled, oldest first. Run periodically alongside the release sweep.
func (h *WebhookHandler) ReplayPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, gateway_id, payload
		FROM webhook_events
		WHERE processed_at IS NULL
		ORDER BY received_at
		LIMIT $1`,
		limit)
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id      int64
		gateway string
		payload []byte
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.gateway, &p.payload); err != nil {
			return 0, fmt.Errorf("scan pending event: %w", err)
		}
		batch = append(batch, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	replayed := 0
	for _, p := range batch {
		if err := h.process(ctx, p.id, p.gateway, p.payload); err == nil {
			replayed++
		}
	}
	if replayed > 0 {
		log.Printf("[WEBHOOK] Replayed %d pending events", replayed)
	}
	return replayed, nil
}

// RunReplay loops ReplayPending on the given interval until ctx is canceled.
func (h *WebhookHandler) RunReplay(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := h.ReplayPending(ctx, 100); err != nil {
				log.Printf("[WEBHOOK] Replay failed: %v", err)
			}
		}
	}
}
