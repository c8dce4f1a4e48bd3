package fund

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"ExchangeObserver/internal/collector"
	"ExchangeObserver/internal/gateway"
	"ExchangeObserver/internal/model"
)

// BalanceSource returns one cycle's balance snapshot.
type BalanceSource interface {
	Collect(ctx context.Context) (*collector.Snapshot, error)
}

// VaultDirectory lists custody vault accounts.
type VaultDirectory interface {
	VaultAccounts(ctx context.Context) ([]model.VaultAccount, error)
}

// RepaymentEngine pays down every borrowed margin position from the margin
// balance itself, then the main book, then custody vaults.
type RepaymentEngine struct {
	Balances BalanceSource
	Vaults   VaultDirectory
	Gateway  gateway.Gateway
	Helper   *Helper
	Venue    string
	Logger   log.FieldLogger
}

// NewRepaymentEngine creates a RepaymentEngine for venue.
func NewRepaymentEngine(balances BalanceSource, vaults VaultDirectory, gw gateway.Gateway, helper *Helper, venue string, logger log.FieldLogger) *RepaymentEngine {
	return &RepaymentEngine{
		Balances: balances,
		Vaults:   vaults,
		Gateway:  gw,
		Helper:   helper,
		Venue:    venue,
		Logger:   logger,
	}
}

// CycleResult summarises one repayment tick.
type CycleResult struct {
	Positions  int
	Resolved   int
	Unresolved int
	Failed     int
}

// candidate is one (funding asset, vault account) pair of the vault cascade.
type candidate struct {
	asset model.FundingAsset
	vault model.VaultAccount
}

// Run processes every borrowed position once. Only failures to read the
// snapshot or the vault directory are returned; position failures go to the monitor.
func (e *RepaymentEngine) Run(ctx context.Context) (CycleResult, error) {
	var result CycleResult

	snap, err := e.Balances.Collect(ctx)
	if err != nil {
		return result, fmt.Errorf("collect balances: %w", err)
	}
	vaults, err := e.Vaults.VaultAccounts(ctx)
	if err != nil {
		return result, fmt.Errorf("load vault accounts: %w", err)
	}

	for _, pos := range snap.BorrowedPositions() {
		result.Positions++
		logger := e.Logger.WithFields(log.Fields{
			"symbol":   pos.Symbol,
			"borrowed": pos.Borrowed.String(),
		})

		residual, reason, err := e.processPosition(ctx, pos, snap, vaults, logger)
		switch {
		case err != nil:
			result.Failed++
			e.Helper.Metrics.ObservePositionFailure(pos.Symbol)
			logger.WithError(err).WithField("residual", residual.String()).Error("repayment failed")
			monErr := e.Helper.AddToMonitor(ctx, model.DebtMonitorEntry{
				Symbol:   pos.Symbol,
				Amount:   residual,
				Reason:   model.ReasonError,
				Comment:  err.Error(),
				Category: model.CategoryDebt,
			})
			if monErr != nil {
				logger.WithError(monErr).Error("record monitor entry failed")
			}
		case residual.IsZero():
			result.Resolved++
			if err := e.Helper.ResetMonitor(ctx, pos.Symbol); err != nil {
				logger.WithError(err).Error("reset monitor entry failed")
			}
		default:
			result.Unresolved++
			logger.WithFields(log.Fields{
				"residual": residual.String(),
				"reason":   reason,
			}).Warn("debt not fully repaid")
			monErr := e.Helper.AddToMonitor(ctx, model.DebtMonitorEntry{
				Symbol:   pos.Symbol,
				Amount:   residual,
				Reason:   reason,
				Comment:  fmt.Sprintf("borrowed %s, repaid %s, outstanding %s", pos.Borrowed, pos.Borrowed.Sub(residual), residual),
				Category: model.CategoryDebt,
			})
			if monErr != nil {
				logger.WithError(monErr).Error("record monitor entry failed")
			}
		}
	}
	return result, nil
}

// processPosition runs the cascade for one position. It returns the debt left
// and, when that is positive, the monitor reason. On error the residual is the
// debt still open when the failing step started.
func (e *RepaymentEngine) processPosition(ctx context.Context, pos model.BorrowedPosition, snap *collector.Snapshot, vaults []model.VaultAccount, logger log.FieldLogger) (decimal.Decimal, string, error) {
	residual := pos.Borrowed

	if amount := decimal.Min(residual, pos.OwnBalance); amount.IsPositive() {
		requestID, err := e.Gateway.Repay(ctx, pos.Symbol, amount, e.Venue)
		if err != nil {
			return residual, "", fmt.Errorf("repay %s %s from margin balance %s: %w", amount, pos.Symbol, pos.OwnBalance, err)
		}
		err = e.Helper.SaveTransfer(ctx, &model.TransferRecord{
			Source:      model.LabelMargin,
			Destination: model.LabelMarginBorrowed,
			Asset:       pos.Symbol,
			Amount:      amount,
			Fee:         decimal.Zero,
			Reason:      fmt.Sprintf("self-repay: debt %s, repaid %s", residual, amount),
			RequestID:   requestID,
		})
		if err != nil {
			return residual.Sub(amount), "", err
		}
		residual = residual.Sub(amount)
		logger.WithField("amount", amount.String()).Info("repaid from margin balance")
	}
	if residual.IsZero() {
		return residual, "", nil
	}

	assets, err := e.Helper.GetAssets(ctx)
	if err != nil {
		return residual, "", fmt.Errorf("load funding assets: %w", err)
	}
	mapped := mappedAssets(assets, pos.Symbol)

	if hasEnabled(mapped) {
		mainBalance := snap.MainBalance(pos.Symbol)
		if amount := decimal.Min(residual, mainBalance); amount.IsPositive() {
			requestID, err := e.Gateway.TransferMainToMargin(ctx, pos.Symbol, amount)
			if err != nil {
				return residual, "", fmt.Errorf("transfer %s %s main->margin (main balance %s): %w", amount, pos.Symbol, mainBalance, err)
			}
			err = e.Helper.SaveTransfer(ctx, &model.TransferRecord{
				Source:      model.LabelMain,
				Destination: model.LabelMargin,
				Asset:       pos.Symbol,
				Amount:      amount,
				Fee:         decimal.Zero,
				Reason:      fmt.Sprintf("main to margin: debt %s, transferred %s", residual, amount),
				RequestID:   requestID,
			})
			if err != nil {
				return residual.Sub(amount), "", err
			}
			residual = residual.Sub(amount)
			logger.WithField("amount", amount.String()).Info("transferred from main book")
		}
	}
	if residual.IsZero() {
		return residual, "", nil
	}

	now := e.Helper.Now()
	for _, a := range mapped {
		if a.IsLocked(now) {
			logger.WithFields(log.Fields{
				"asset":        a.Symbol,
				"network":      a.Network,
				"locked_until": a.LockedUntil.Format(time.RFC3339),
			}).Info("vault funding skipped, asset locked")
			return residual, model.ReasonPaymentInProcess, nil
		}
	}

	candidates := rankCandidates(mapped, vaults)

	for _, c := range candidates {
		available := vaultAvailable(snap, c)
		required := residual.Add(c.asset.FundingFee)
		if available.LessThan(required) || required.LessThan(c.asset.MinTransferAmount) {
			continue
		}
		if moved, err := e.transferFromVault(ctx, c, required, residual, logger); err != nil {
			if moved {
				return decimal.Zero, "", err
			}
			return residual, "", err
		}
		return decimal.Zero, "", nil
	}

	for _, c := range candidates {
		if !residual.IsPositive() {
			break
		}
		fee := c.asset.FundingFee
		amount := decimal.Min(residual.Add(fee), vaultAvailable(snap, c))
		if amount.LessThan(c.asset.MinTransferAmount) || !amount.GreaterThan(fee) {
			continue
		}
		moved, err := e.transferFromVault(ctx, c, amount, residual, logger)
		if moved {
			residual = residual.Sub(amount.Sub(fee))
		}
		if err != nil {
			return residual, "", err
		}
	}

	if residual.IsPositive() {
		return residual, model.ReasonInsufficientBalance, nil
	}
	return decimal.Zero, "", nil
}

// transferFromVault moves amount from the candidate vault, records the transfer
// and locks the asset. amount includes the funding fee. moved reports whether
// the gateway executed the transfer, even if a later step failed.
func (e *RepaymentEngine) transferFromVault(ctx context.Context, c candidate, amount, residual decimal.Decimal, logger log.FieldLogger) (moved bool, err error) {
	fields := log.Fields{
		"asset":    c.asset.Symbol,
		"network":  c.asset.Network,
		"vault_id": c.vault.ID,
		"amount":   amount.String(),
		"fee":      c.asset.FundingFee.String(),
	}
	requestID, err := e.Gateway.TransferVaultToMargin(ctx, c.asset.Symbol, c.asset.Network, c.vault.ID, amount)
	if err != nil {
		return false, fmt.Errorf("transfer %s %s/%s from vault %d: %w", amount, c.asset.Symbol, c.asset.Network, c.vault.ID, err)
	}
	saveErr := e.Helper.SaveTransfer(ctx, &model.TransferRecord{
		Source:      model.LabelVault,
		Destination: model.LabelMargin,
		Asset:       c.asset.Symbol,
		Amount:      amount,
		Fee:         c.asset.FundingFee,
		Reason: fmt.Sprintf("vault %d %s to margin: debt %s, transferred %s incl. fee %s",
			c.vault.ID, c.asset.Network, residual, amount, c.asset.FundingFee),
		RequestID: requestID,
	})
	// Lock even when the ledger write failed.
	if err := e.Helper.LockAsset(ctx, c.asset.Symbol, c.asset.LockMinutes); err != nil {
		return true, errors.Join(saveErr, fmt.Errorf("lock %s after vault transfer %s: %w", c.asset.Symbol, requestID, err))
	}
	if saveErr != nil {
		return true, saveErr
	}
	logger.WithFields(fields).Info("transferred from vault")
	return true, nil
}

// mappedAssets returns every configured asset, enabled or not, that funds symbol.
func mappedAssets(assets []model.FundingAsset, symbol string) []model.FundingAsset {
	var out []model.FundingAsset
	for _, a := range assets {
		if a.Funds(symbol) {
			out = append(out, a)
		}
	}
	return out
}

func hasEnabled(assets []model.FundingAsset) bool {
	for _, a := range assets {
		if a.Enabled {
			return true
		}
	}
	return false
}

// rankCandidates orders enabled assets by weight desc, then vaults by weight desc.
func rankCandidates(assets []model.FundingAsset, vaults []model.VaultAccount) []candidate {
	var enabled []model.FundingAsset
	for _, a := range assets {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].Weight != enabled[j].Weight {
			return enabled[i].Weight > enabled[j].Weight
		}
		if enabled[i].Symbol != enabled[j].Symbol {
			return enabled[i].Symbol < enabled[j].Symbol
		}
		return enabled[i].Network < enabled[j].Network
	})

	ordered := make([]model.VaultAccount, len(vaults))
	copy(ordered, vaults)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Weight != ordered[j].Weight {
			return ordered[i].Weight > ordered[j].Weight
		}
		return ordered[i].ID < ordered[j].ID
	})

	out := make([]candidate, 0, len(enabled)*len(ordered))
	for _, a := range enabled {
		for _, v := range ordered {
			out = append(out, candidate{asset: a, vault: v})
		}
	}
	return out
}

// vaultAvailable is the vault balance above the reserve floor.
func vaultAvailable(snap *collector.Snapshot, c candidate) decimal.Decimal {
	balance := snap.VaultBalance(c.asset.Symbol, c.asset.Network, c.vault.ID)
	return balance.Sub(c.vault.ReserveFloor(c.asset.Symbol))
}
