package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/vendahub/settlement/internal/models"
	"github.com/vendahub/settlement/internal/services"
)

// WithdrawalHandler exposes balances and withdrawal requests to sellers and
// affiliates. The owner id always comes from the authenticated token context,
// never from the request body.
type WithdrawalHandler struct {
	withdrawals *services.WithdrawalService
	validator   *services.ValidationHelper
}

func NewWithdrawalHandler(withdrawals *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawals: withdrawals,
		validator:   services.NewValidationHelper(),
	}
}

// GetBalance returns the owner's held, available and reserved totals.
// @Summary Get balance
// @Description Held, available and reserved balance for the authenticated owner
// @Tags balance
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.BalanceSummary
// @Failure 401 {object} services.ErrorResponse
// @Router /balance [get]
func (h *WithdrawalHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balance, err := h.withdrawals.Balance(r.Context(), ownerID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balance)
}

// RequestWithdrawal admits a withdrawal against available balance.
// @Summary Request a withdrawal
// @Description Reserve part of the available balance for an external payout
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=string} true "Withdrawal amount"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 422 {object} object{error=string,available=string,requested=string}
// @Router /withdrawals [post]
func (h *WithdrawalHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if !req.Amount.IsPositive() {
		services.SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}

	withdrawal, err := h.withdrawals.RequestWithdrawal(r.Context(), ownerID, req.Amount)
	if err != nil {
		var insufficient *services.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			// The numbers go back to the user so they can self-correct.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{
				"error":     "insufficient balance",
				"available": insufficient.Available.StringFixed(2),
				"requested": insufficient.Requested.StringFixed(2),
			})
			return
		}
		if errors.Is(err, services.ErrOwnerNotFound) {
			services.SendErrorResponse(w, "Owner not found", http.StatusNotFound, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to request withdrawal", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(withdrawal)
}

// ListWithdrawals lists the owner's withdrawal history.
// @Summary List withdrawals
// @Description Withdrawal history for the authenticated owner, newest first
// @Tags withdrawals
// @Produce json
// @Security BearerAuth
// @Success 200 {object} object{withdrawals=[]models.Withdrawal,count=int}
// @Failure 401 {object} services.ErrorResponse
// @Router /withdrawals [get]
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := r.Context().Value("ownerID").(string)
	if !ok || ownerID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	withdrawals, err := h.withdrawals.ListWithdrawals(r.Context(), ownerID, 50)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch withdrawals", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"withdrawals": withdrawals,
		"count":       len(withdrawals),
	})
}

// UpdateWithdrawalStatus applies a lifecycle transition reported by the
// approval workflow or the bank payout executor.
// @Summary Update withdrawal status
// @Description Report back an approval/processing/paid/rejected transition for a withdrawal
// @Tags withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal id"
// @Param request body object{status=string} true "Target status"
// @Success 200 {object} map[string]string
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /withdrawals/{id}/status [put]
func (h *WithdrawalHandler) UpdateWithdrawalStatus(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "id")

	var req struct {
		Status models.WithdrawalStatus `json:"status" validate:"required,oneof=APPROVED PROCESSING PAID REJECTED"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := h.withdrawals.UpdateStatus(r.Context(), withdrawalID, req.Status); err != nil {
		if errors.Is(err, services.ErrInvalidTransition) {
			services.SendErrorResponse(w, err.Error(), http.StatusConflict, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to update withdrawal", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(req.Status)})
}
