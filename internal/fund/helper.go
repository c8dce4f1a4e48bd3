// Package fund holds the repayment cascade, the equity check and the
// primitives both jobs share: asset locks, ledger writes and the debt monitor.
package fund

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"ExchangeObserver/internal/events"
	"ExchangeObserver/internal/metrics"
	"ExchangeObserver/internal/model"
	"ExchangeObserver/internal/recorder"
)

// AssetStore reads funding assets and extends their locks.
type AssetStore interface {
	Assets(ctx context.Context) ([]model.FundingAsset, error)
	LockAsset(ctx context.Context, symbol string, until time.Time) (int, error)
}

// PriceSource returns USD index prices.
type PriceSource interface {
	IndexPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Alerter is told when a monitor entry appears, changes reason or is resolved.
type Alerter interface {
	NotifyMonitor(ctx context.Context, entry model.DebtMonitorEntry, resolved bool)
}

// Helper is shared by the repayment engine and the equity monitor.
type Helper struct {
	Store   AssetStore
	Ledger  recorder.Ledger
	Monitor recorder.DebtMonitor
	Prices  PriceSource
	Events  events.Publisher
	Metrics *metrics.Metrics
	Alerter Alerter
	Logger  log.FieldLogger
	Now     func() time.Time

	// lockMu serialises lock extensions issued by the two jobs of this process.
	lockMu sync.Mutex
}

// NewHelper creates a Helper. Events, Metrics and Alerter are optional and may be set afterwards.
func NewHelper(store AssetStore, ledger recorder.Ledger, monitor recorder.DebtMonitor, prices PriceSource, logger log.FieldLogger) *Helper {
	return &Helper{
		Store:   store,
		Ledger:  ledger,
		Monitor: monitor,
		Prices:  prices,
		Events:  events.NoopPublisher{},
		Logger:  logger,
		Now:     time.Now,
	}
}

// GetAssets returns the current funding asset configuration.
func (h *Helper) GetAssets(ctx context.Context) ([]model.FundingAsset, error) {
	return h.Store.Assets(ctx)
}

// LockAsset excludes every network row of symbol from the vault cascade for
// the next minutes. An existing longer lock is kept.
func (h *Helper) LockAsset(ctx context.Context, symbol string, minutes int) error {
	h.lockMu.Lock()
	defer h.lockMu.Unlock()

	until := h.Now().UTC().Add(time.Duration(minutes) * time.Minute)
	n, err := h.Store.LockAsset(ctx, symbol, until)
	if err != nil {
		return err
	}
	h.Logger.WithFields(log.Fields{
		"symbol":   symbol,
		"until":    until.Format(time.RFC3339),
		"extended": n,
	}).Info("funding asset locked")
	return nil
}

// SaveTransfer appends rec to the ledger and sets its id.
// The index price is looked up when missing; a failed lookup stores zero.
func (h *Helper) SaveTransfer(ctx context.Context, rec *model.TransferRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = h.Now().UTC()
	}
	if rec.IndexPrice.IsZero() && h.Prices != nil {
		price, err := h.Prices.IndexPrice(ctx, rec.Asset)
		if err != nil {
			h.Logger.WithError(err).WithField("asset", rec.Asset).Warn("index price unavailable, recording transfer without price")
		} else {
			rec.IndexPrice = price
		}
	}

	if err := h.Ledger.AppendTransfer(ctx, rec); err != nil {
		return fmt.Errorf("save transfer %s %s %s->%s: %w", rec.Amount, rec.Asset, rec.Source, rec.Destination, err)
	}
	h.Metrics.ObserveTransfer(rec.Source, rec.Asset, rec.Amount)

	if h.Events != nil {
		if err := h.Events.PublishTransfer(ctx, *rec); err != nil {
			h.Logger.WithError(err).WithField("transfer_id", rec.ID).Warn("publish transfer event failed")
		}
	}
	return nil
}

// AddToMonitor upserts the entry for entry.Symbol.
func (h *Helper) AddToMonitor(ctx context.Context, entry model.DebtMonitorEntry) error {
	prev, err := h.Monitor.Get(ctx, entry.Symbol)
	if err != nil {
		return err
	}
	entry.UpdatedAt = h.Now().UTC()
	if err := h.Monitor.Upsert(ctx, entry); err != nil {
		return err
	}
	h.Metrics.SetUnresolved(entry.Symbol, entry.Reason, entry.Amount)

	if h.Alerter != nil && (prev == nil || prev.Reason != entry.Reason) {
		h.Alerter.NotifyMonitor(ctx, entry, false)
	}
	return nil
}

// ResetMonitor removes the entry for symbol, if any.
func (h *Helper) ResetMonitor(ctx context.Context, symbol string) error {
	prev, err := h.Monitor.Get(ctx, symbol)
	if err != nil {
		return err
	}
	h.Metrics.ClearUnresolved(symbol)
	if prev == nil {
		return nil
	}
	if err := h.Monitor.Delete(ctx, symbol); err != nil {
		return err
	}
	h.Logger.WithField("symbol", symbol).Info("monitor entry resolved")
	if h.Alerter != nil {
		h.Alerter.NotifyMonitor(ctx, *prev, true)
	}
	return nil
}
