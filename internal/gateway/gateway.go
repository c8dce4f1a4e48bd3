// Package gateway executes fund movements between the margin book, the main
// book and custody vaults.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrRejected is returned when the gateway answered with an explicit error result.
var ErrRejected = errors.New("gateway rejected request")

// Gateway executes settlement operations. Every call returns the request id it
// was sent with so the caller can reference it in the ledger.
type Gateway interface {
	Repay(ctx context.Context, symbol string, amount decimal.Decimal, venue string) (string, error)
	TransferMainToMargin(ctx context.Context, symbol string, amount decimal.Decimal) (string, error)
	TransferVaultToMargin(ctx context.Context, asset, network string, vaultID int, amount decimal.Decimal) (string, error)
}
