package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ExchangeObserver/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Margin []model.MarginBalance
	Main   []model.MainBalance
	Vaults []model.VaultBalance
	Prices map[string]decimal.Decimal
	Err    error
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) FetchMarginBalances(_ context.Context) ([]model.MarginBalance, error) {
	return m.Margin, m.Err
}

func (m *MockFetcher) FetchMainBalances(_ context.Context) ([]model.MainBalance, error) {
	return m.Main, m.Err
}

func (m *MockFetcher) FetchVaultBalances(_ context.Context) ([]model.VaultBalance, error) {
	return m.Vaults, m.Err
}

func (m *MockFetcher) FetchIndexPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	if m.Err != nil {
		return decimal.Zero, m.Err
	}
	price, ok := m.Prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("no index price for %s", symbol)
	}
	return price, nil
}

// Snapshot is one cycle's view of every balance pool.
type Snapshot struct {
	Margin  []model.MarginBalance
	Main    []model.MainBalance
	Vaults  []model.VaultBalance
	TakenAt time.Time
}

// BorrowedPositions returns every margin symbol with an open debt.
func (s *Snapshot) BorrowedPositions() []model.BorrowedPosition {
	var positions []model.BorrowedPosition
	for _, b := range s.Margin {
		if !b.Borrowed.IsPositive() {
			continue
		}
		positions = append(positions, model.BorrowedPosition{
			Symbol:     b.Symbol,
			Borrowed:   b.Borrowed,
			OwnBalance: decimal.Max(b.Balance, decimal.Zero),
		})
	}
	return positions
}

// MainBalance returns the spot balance for symbol, zero when absent.
func (s *Snapshot) MainBalance(symbol string) decimal.Decimal {
	for _, b := range s.Main {
		if b.Symbol == symbol {
			return b.Balance
		}
	}
	return decimal.Zero
}

// VaultBalance returns the amount of asset on network held by a vault account, zero when absent.
func (s *Snapshot) VaultBalance(asset, network string, vaultID int) decimal.Decimal {
	for _, b := range s.Vaults {
		if b.VaultAccountID == vaultID && b.Asset == asset && b.Network == network {
			return b.Amount
		}
	}
	return decimal.Zero
}

// Collector orchestrates balance fetching and price aggregation.
type Collector struct {
	Fetcher Fetcher
	Now     func() time.Time
}

// NewCollector creates a new Collector.
func NewCollector(fetcher Fetcher) *Collector {
	return &Collector{Fetcher: fetcher, Now: time.Now}
}

// Collect fetches margin, main and vault balances.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	margin, err := c.Fetcher.FetchMarginBalances(ctx)
	if err != nil {
		return nil, err
	}
	main, err := c.Fetcher.FetchMainBalances(ctx)
	if err != nil {
		return nil, err
	}
	vaults, err := c.Fetcher.FetchVaultBalances(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Margin: margin, Main: main, Vaults: vaults, TakenAt: c.Now().UTC()}, nil
}

// MarginBalances fetches only the margin book.
func (c *Collector) MarginBalances(ctx context.Context) ([]model.MarginBalance, error) {
	return c.Fetcher.FetchMarginBalances(ctx)
}

// IndexPrice returns the USD index price of symbol.
func (c *Collector) IndexPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.Fetcher.FetchIndexPrice(ctx, symbol)
}

// TotalEquityUSD sums price × max(balance, 0) across balances.
func (c *Collector) TotalEquityUSD(ctx context.Context, balances []model.MarginBalance) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, b := range balances {
		if !b.Balance.IsPositive() {
			continue
		}
		price, err := c.Fetcher.FetchIndexPrice(ctx, b.Symbol)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(price.Mul(b.Balance))
	}
	return total, nil
}
