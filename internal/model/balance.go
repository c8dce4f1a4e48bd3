package model

import "github.com/shopspring/decimal"

// MarginBalance is one symbol on the margin book. Borrowed is the open debt.
type MarginBalance struct {
	Symbol   string          `json:"symbol"`
	Balance  decimal.Decimal `json:"balance"`
	Borrowed decimal.Decimal `json:"borrowed"`
}

// MainBalance is one symbol on the spot (main) book.
type MainBalance struct {
	Symbol  string          `json:"symbol"`
	Balance decimal.Decimal `json:"balance"`
}

// VaultBalance is the available amount of an asset on a network inside a vault account.
type VaultBalance struct {
	Asset          string          `json:"asset"`
	Network        string          `json:"network"`
	VaultAccountID int             `json:"vault_account_id"`
	Amount         decimal.Decimal `json:"amount"`
}

// BorrowedPosition is derived each cycle from the margin snapshot and never persisted.
type BorrowedPosition struct {
	Symbol     string
	Borrowed   decimal.Decimal
	OwnBalance decimal.Decimal
}
