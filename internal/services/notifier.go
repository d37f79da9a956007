package services

import "log"

// Notifier receives the outcome of a committed settlement. Implementations
// fan out to Telegram, pixel/CAPI events, etc. Delivery runs after commit on
// its own goroutine; a failing notifier must swallow its own errors.
type Notifier interface {
	NotifySettlement(result *SettlementResult)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) NotifySettlement(*SettlementResult) {}

// LogNotifier writes settlement outcomes to the process log. Used as the
// default until a real dispatcher is wired in.
type LogNotifier struct{}

func (LogNotifier) NotifySettlement(result *SettlementResult) {
	log.Printf("[NOTIFY] Settlement for order %s: net=%s commission=%s fee=%s",
		result.OrderID, result.SellerNet, result.Commission, result.PlatformFee)
}
