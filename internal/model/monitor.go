package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TotalEquitySymbol is the synthetic monitor key for the aggregate equity check.
const TotalEquitySymbol = "USD Total"

// Monitor categories.
const (
	CategoryDebt   = "debt"
	CategoryEquity = "equity"
)

// Monitor reasons.
const (
	ReasonInsufficientBalance = "insufficient balance"
	ReasonPaymentInProcess    = "payment in process"
	ReasonError               = "error"
	ReasonEquityTooLow        = "total balance too low"
	ReasonEquityTooHigh       = "total balance too high"
)

// DebtMonitorEntry is the operator-facing alert for an unresolved problem, one per symbol.
type DebtMonitorEntry struct {
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
	Reason    string          `json:"reason"`
	Comment   string          `json:"comment"`
	Category  string          `json:"category"`
}
