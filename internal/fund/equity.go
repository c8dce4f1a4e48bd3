package fund

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"ExchangeObserver/internal/model"
)

// EquitySource reads the margin book and values it in USD.
type EquitySource interface {
	MarginBalances(ctx context.Context) ([]model.MarginBalance, error)
	TotalEquityUSD(ctx context.Context, balances []model.MarginBalance) (decimal.Decimal, error)
}

// ThresholdSource returns the configured equity bounds, nil when unset.
type ThresholdSource interface {
	Thresholds(ctx context.Context) (*model.EquityThresholds, error)
}

// EquityMonitor raises an alert when the aggregate margin equity leaves its
// configured range. It never moves funds.
type EquityMonitor struct {
	Source     EquitySource
	Thresholds ThresholdSource
	Helper     *Helper
	Logger     log.FieldLogger
}

func NewEquityMonitor(source EquitySource, thresholds ThresholdSource, helper *Helper, logger log.FieldLogger) *EquityMonitor {
	return &EquityMonitor{Source: source, Thresholds: thresholds, Helper: helper, Logger: logger}
}

// Run performs one equity check and returns the computed total.
func (m *EquityMonitor) Run(ctx context.Context) (decimal.Decimal, error) {
	balances, err := m.Source.MarginBalances(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch margin balances: %w", err)
	}
	total, err := m.Source.TotalEquityUSD(ctx, balances)
	if err != nil {
		return decimal.Zero, fmt.Errorf("value margin balances: %w", err)
	}
	m.Helper.Metrics.SetTotalEquity(total)

	limits, err := m.Thresholds.Thresholds(ctx)
	if err != nil {
		return total, fmt.Errorf("load equity thresholds: %w", err)
	}

	logger := m.Logger.WithField("total_usd", total.StringFixed(2))
	if limits == nil {
		logger.Debug("no equity thresholds configured")
		return total, m.Helper.ResetMonitor(ctx, model.TotalEquitySymbol)
	}

	switch {
	case total.LessThan(limits.MinUSD):
		shortfall := limits.MinUSD.Sub(total)
		logger.WithField("min_usd", limits.MinUSD.String()).Warn("total equity below minimum")
		return total, m.Helper.AddToMonitor(ctx, model.DebtMonitorEntry{
			Symbol:   model.TotalEquitySymbol,
			Amount:   shortfall,
			Reason:   model.ReasonEquityTooLow,
			Comment:  fmt.Sprintf("total %s USD is %s below the minimum %s", total.StringFixed(2), shortfall.StringFixed(2), limits.MinUSD),
			Category: model.CategoryEquity,
		})
	case total.GreaterThan(limits.MaxUSD):
		excess := total.Sub(limits.MaxUSD)
		logger.WithField("max_usd", limits.MaxUSD.String()).Warn("total equity above maximum")
		return total, m.Helper.AddToMonitor(ctx, model.DebtMonitorEntry{
			Symbol:   model.TotalEquitySymbol,
			Amount:   excess,
			Reason:   model.ReasonEquityTooHigh,
			Comment:  fmt.Sprintf("total %s USD is %s above the maximum %s", total.StringFixed(2), excess.StringFixed(2), limits.MaxUSD),
			Category: model.CategoryEquity,
		})
	default:
		logger.Debug("total equity within range")
		return total, m.Helper.ResetMonitor(ctx, model.TotalEquitySymbol)
	}
}
