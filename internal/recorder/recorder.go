package recorder

import (
	"context"

	"ExchangeObserver/internal/model"
)

// Ledger is the append-only audit log of executed fund movements.
type Ledger interface {
	// AppendTransfer stores rec and sets rec.ID to the assigned id.
	AppendTransfer(ctx context.Context, rec *model.TransferRecord) error
	// ListTransfers returns matching records, newest first.
	ListTransfers(ctx context.Context, filter model.TransferFilter) ([]model.TransferRecord, error)
}

// DebtMonitor is the per-symbol alert feed for unresolved problems.
type DebtMonitor interface {
	Upsert(ctx context.Context, entry model.DebtMonitorEntry) error
	Delete(ctx context.Context, symbol string) error
	// Get returns nil when no entry exists for symbol.
	Get(ctx context.Context, symbol string) (*model.DebtMonitorEntry, error)
	List(ctx context.Context) ([]model.DebtMonitorEntry, error)
}
