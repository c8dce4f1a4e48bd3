package collector

import (
	"context"

	"github.com/shopspring/decimal"

	"ExchangeObserver/internal/model"
)

// Fetcher defines the interface for reading balances and index prices.
type Fetcher interface {
	FetchMarginBalances(ctx context.Context) ([]model.MarginBalance, error)
	FetchMainBalances(ctx context.Context) ([]model.MainBalance, error)
	FetchVaultBalances(ctx context.Context) ([]model.VaultBalance, error)
	FetchIndexPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Name() string
}
