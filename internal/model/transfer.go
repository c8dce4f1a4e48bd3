package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger labels used as transfer source and destination.
const (
	LabelMargin         = "Margin"
	LabelMarginBorrowed = "MarginBorrowed"
	LabelMain           = "Main"
	LabelVault          = "Vault"
)

// TransferRecord is one executed fund movement. Records are append-only.
// Amount is what left the source; Amount minus Fee is what reached the debt.
type TransferRecord struct {
	ID          int64           `json:"id"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	Fee         decimal.Decimal `json:"fee"`
	IndexPrice  decimal.Decimal `json:"index_price"`
	Reason      string          `json:"reason"`
	RequestID   string          `json:"request_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Credited returns the part of the transfer that pays down debt.
func (r TransferRecord) Credited() decimal.Decimal {
	return r.Amount.Sub(r.Fee)
}

// DefaultTransferPage and MaxTransferPage bound TransferFilter.Take.
const (
	DefaultTransferPage = 20
	MaxTransferPage     = 500
)

// TransferFilter selects ledger records, newest first.
type TransferFilter struct {
	// LastSeenID pages backwards: only ids strictly below it are returned.
	LastSeenID int64
	Take       int
	Asset      string
	From       *time.Time
	To         *time.Time
	SearchText string
}

// Limit returns Take clamped to the allowed page size.
func (f TransferFilter) Limit() int {
	switch {
	case f.Take <= 0:
		return DefaultTransferPage
	case f.Take > MaxTransferPage:
		return MaxTransferPage
	default:
		return f.Take
	}
}
