package fund

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExchangeObserver/internal/collector"
	"ExchangeObserver/internal/model"
)

type staticThresholds struct {
	t   *model.EquityThresholds
	err error
}

func (s staticThresholds) Thresholds(context.Context) (*model.EquityThresholds, error) {
	return s.t, s.err
}

func newEquityMonitor(t *testing.T, prices map[string]decimal.Decimal, limits *model.EquityThresholds) (*EquityMonitor, *memLedger) {
	t.Helper()
	h, ledger, _, _ := newTestHelper(t)
	source := collector.NewCollector(&collector.MockFetcher{
		Margin: []model.MarginBalance{
			{Symbol: "BTC", Balance: d("0.5")},
			{Symbol: "USDT", Balance: d("1000"), Borrowed: d("200")},
			{Symbol: "ETH", Balance: d("-1")},
		},
		Prices: prices,
	})
	return NewEquityMonitor(source, staticThresholds{t: limits}, h, h.Logger), ledger
}

var equityPrices = map[string]decimal.Decimal{"BTC": d("50000"), "USDT": d("1")}

func TestEquityMonitor_WithinRangeResets(t *testing.T) {
	m, ledger := newEquityMonitor(t, equityPrices, &model.EquityThresholds{MinUSD: d("20000"), MaxUSD: d("26000")})
	ledger.entries[model.TotalEquitySymbol] = model.DebtMonitorEntry{Symbol: model.TotalEquitySymbol}

	total, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, total.Equal(d("26000")))
	assert.Empty(t, ledger.entries, "the upper bound is inclusive")
}

func TestEquityMonitor_BelowMinimum(t *testing.T) {
	m, ledger := newEquityMonitor(t, equityPrices, &model.EquityThresholds{MinUSD: d("30000"), MaxUSD: d("90000")})

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	entry := ledger.entries[model.TotalEquitySymbol]
	assert.Equal(t, model.ReasonEquityTooLow, entry.Reason)
	assert.Equal(t, model.CategoryEquity, entry.Category)
	assert.True(t, entry.Amount.Equal(d("4000")))
	assert.Contains(t, entry.Comment, "below the minimum")
}

func TestEquityMonitor_AboveMaximum(t *testing.T) {
	m, ledger := newEquityMonitor(t, equityPrices, &model.EquityThresholds{MinUSD: d("0"), MaxUSD: d("25000")})

	_, err := m.Run(context.Background())
	require.NoError(t, err)

	entry := ledger.entries[model.TotalEquitySymbol]
	assert.Equal(t, model.ReasonEquityTooHigh, entry.Reason)
	assert.True(t, entry.Amount.Equal(d("1000")))
}

func TestEquityMonitor_NoThresholds(t *testing.T) {
	m, ledger := newEquityMonitor(t, equityPrices, nil)
	ledger.entries[model.TotalEquitySymbol] = model.DebtMonitorEntry{Symbol: model.TotalEquitySymbol}

	_, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ledger.entries)
}

func TestEquityMonitor_PriceFailureFailsCycle(t *testing.T) {
	m, ledger := newEquityMonitor(t, map[string]decimal.Decimal{"USDT": d("1")}, &model.EquityThresholds{MinUSD: d("1"), MaxUSD: d("2")})

	_, err := m.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, ledger.entries, "no alert is raised from a partial valuation")
}

func TestEquityMonitor_ThresholdError(t *testing.T) {
	m, _ := newEquityMonitor(t, equityPrices, nil)
	m.Thresholds = staticThresholds{err: errors.New("db locked")}

	_, err := m.Run(context.Background())
	assert.ErrorContains(t, err, "db locked")
}
