package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vendahub/settlement/internal/models"
)

var (
	// ErrNoFeePlan means neither the seller's plan nor the platform default
	// has an entry for the order's payment method. Settlement must stop;
	// substituting a zero fee would leak platform revenue silently.
	ErrNoFeePlan = errors.New("no applicable fee plan")

	// ErrInvalidFeePlan means the plan entry is unusable: negative rate or
	// fixed fee, or a fee that exceeds the gross amount.
	ErrInvalidFeePlan = errors.New("invalid fee plan")

	// ErrInvalidCommission means the commission percentage is outside [0,100].
	ErrInvalidCommission = errors.New("invalid commission percent")
)

var oneHundred = decimal.NewFromInt(100)

// FeeResult is the outcome of splitting an order's gross amount.
type FeeResult struct {
	PlatformFee decimal.Decimal
	NetAmount   decimal.Decimal
	HoldingDays int
}

// FeeCalculator computes platform fees from immutable fee plans. It holds the
// versioned platform-default plan used for sellers without an assigned plan.
type FeeCalculator struct {
	defaultPlan *models.FeePlan
}

// NewFeeCalculator creates a calculator with the given platform-default plan.
// The default may be nil, in which case sellers without a plan get ErrNoFeePlan.
func NewFeeCalculator(defaultPlan *models.FeePlan) *FeeCalculator {
	return &FeeCalculator{defaultPlan: defaultPlan}
}

// DefaultPlan exposes the injected platform default for observability.
func (fc *FeeCalculator) DefaultPlan() *models.FeePlan {
	return fc.defaultPlan
}

// ComputeFee splits grossAmount into platform fee and net amount using the
// seller's plan, falling back to the platform default when plan is nil.
//
// platformFee = gross * rate/100 + fixed, rounded half-even to cents.
// A fee that would leave a negative net is rejected, never clamped.
func (fc *FeeCalculator) ComputeFee(grossAmount decimal.Decimal, method models.PaymentMethod, plan *models.FeePlan) (FeeResult, error) {
	if plan == nil {
		plan = fc.defaultPlan
	}
	entry, ok := plan.Entry(method)
	if !ok {
		return FeeResult{}, fmt.Errorf("%w: method %s", ErrNoFeePlan, method)
	}

	if entry.RatePercent.IsNegative() || entry.FixedFee.IsNegative() {
		return FeeResult{}, fmt.Errorf("%w: negative rate or fixed fee for %s", ErrInvalidFeePlan, method)
	}

	fee := grossAmount.Mul(entry.RatePercent).Div(oneHundred).Add(entry.FixedFee).RoundBank(2)
	net := grossAmount.Sub(fee)
	if net.IsNegative() {
		return FeeResult{}, fmt.Errorf("%w: fee %s exceeds gross %s", ErrInvalidFeePlan, fee, grossAmount)
	}

	return FeeResult{PlatformFee: fee, NetAmount: net, HoldingDays: entry.HoldingDays}, nil
}

// ComputeCommission computes the affiliate's share of grossAmount. The
// commission is taken out of the seller's net, not added on top of the
// platform fee.
func ComputeCommission(grossAmount, commissionPercent decimal.Decimal) (decimal.Decimal, error) {
	if commissionPercent.IsNegative() || commissionPercent.GreaterThan(oneHundred) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrInvalidCommission, commissionPercent)
	}
	return grossAmount.Mul(commissionPercent).Div(oneHundred).RoundBank(2), nil
}
