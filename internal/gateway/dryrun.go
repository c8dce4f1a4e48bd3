package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// DryRunGateway logs every operation and reports success without moving funds.
type DryRunGateway struct {
	Logger log.FieldLogger
}

func NewDryRunGateway(logger log.FieldLogger) *DryRunGateway {
	return &DryRunGateway{Logger: logger}
}

func (g *DryRunGateway) Repay(_ context.Context, symbol string, amount decimal.Decimal, venue string) (string, error) {
	id := uuid.NewString()
	g.Logger.WithFields(log.Fields{"request_id": id, "symbol": symbol, "amount": amount, "venue": venue}).
		Info("[dry-run] repay margin debt")
	return id, nil
}

func (g *DryRunGateway) TransferMainToMargin(_ context.Context, symbol string, amount decimal.Decimal) (string, error) {
	id := uuid.NewString()
	g.Logger.WithFields(log.Fields{"request_id": id, "symbol": symbol, "amount": amount}).
		Info("[dry-run] transfer main to margin")
	return id, nil
}

func (g *DryRunGateway) TransferVaultToMargin(_ context.Context, asset, network string, vaultID int, amount decimal.Decimal) (string, error) {
	id := uuid.NewString()
	g.Logger.WithFields(log.Fields{
		"request_id": id, "asset": asset, "network": network, "vault_account": vaultID, "amount": amount,
	}).Info("[dry-run] transfer vault to margin")
	return id, nil
}
