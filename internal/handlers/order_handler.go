package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vendahub/settlement/internal/models"
	"github.com/vendahub/settlement/internal/services"
)

// OrderHandler is the intake surface checkout collaborators use to register
// orders (and their gateway references) before a webhook can arrive for them.
type OrderHandler struct {
	orders    *services.OrderService
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewOrderHandler(orders *services.OrderService, ledger *services.LedgerService) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

// CreateOrder registers a new order awaiting payment.
// @Summary Create an order
// @Description Register a sale or pre-order and map its gateway reference
// @Tags orders
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param order body services.CreateOrderParams true "Order data"
// @Success 201 {object} models.Order
// @Failure 400 {object} services.ErrorResponse
// @Router /orders [post]
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var params services.CreateOrderParams

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&params); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&params); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), params)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCommission) {
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to create order", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(order)
}

// GetOrder fetches an order with its settled ledger entries.
// @Summary Get order
// @Description Order details plus the ledger entries written for it
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "Order id"
// @Success 200 {object} object{order=models.Order,entries=[]models.LedgerEntry,platform_fee=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /orders/{orderId} [get]
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to fetch order", http.StatusInternalServerError, nil)
		return
	}

	entries, err := h.ledger.EntriesForOrder(r.Context(), orderID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	response := map[string]any{"order": order, "entries": entries}
	if order.Status == models.OrderSettled {
		fee, err := h.ledger.FeeForOrder(r.Context(), orderID)
		if err == nil {
			response["platform_fee"] = fee.StringFixed(2)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// CancelOrder cancels an order still awaiting payment.
// @Summary Cancel order
// @Description Cancel an order; allowed only while it awaits payment
// @Tags orders
// @Produce json
// @Security BearerAuth
// @Param orderId path string true "Order id"
// @Success 200 {object} map[string]string
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /orders/{orderId}/cancel [post]
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	if err := h.orders.Cancel(r.Context(), orderID); err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			services.SendErrorResponse(w, "Order not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "canceled"})
}
