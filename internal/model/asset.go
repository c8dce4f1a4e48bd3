package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Epoch is the "never locked" value of FundingAsset.LockedUntil.
var Epoch = time.Unix(0, 0).UTC()

// FundingAsset is a custody asset on one network that can fund a margin symbol.
// Decimal columns are varchar so SQLite keeps every digit instead of coercing to REAL.
type FundingAsset struct {
	Symbol            string          `gorm:"primaryKey;column:symbol;type:varchar(32)" json:"symbol"`
	Network           string          `gorm:"primaryKey;column:network;type:varchar(64)" json:"network"`
	Weight            int             `gorm:"column:weight;not null;default:0" json:"weight"`
	Enabled           bool            `gorm:"column:enabled;not null;default:false" json:"enabled"`
	MinTransferAmount decimal.Decimal `gorm:"column:min_transfer_amount;type:varchar(64);not null" json:"min_transfer_amount"`
	LockedUntil       time.Time       `gorm:"column:locked_until;not null" json:"locked_until"`
	CounterpartSymbol string          `gorm:"column:counterpart_symbol;type:varchar(32);index;not null" json:"counterpart_symbol"`
	LockMinutes       int             `gorm:"column:lock_minutes;not null;default:0" json:"lock_minutes"`
	FundingFee        decimal.Decimal `gorm:"column:funding_fee;type:varchar(64);not null" json:"funding_fee"`
	UpdatedAt         time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (FundingAsset) TableName() string { return "funding_assets" }

// IsLocked reports whether the asset is inside its lock window at now.
func (a FundingAsset) IsLocked(now time.Time) bool {
	return a.LockedUntil.After(now)
}

// Funds reports whether the asset is configured to fund the given margin symbol.
func (a FundingAsset) Funds(marginSymbol string) bool {
	return a.CounterpartSymbol == marginSymbol
}

// VaultAccount is a numbered custody vault account with per-asset reserve floors.
type VaultAccount struct {
	ID            int                                          `gorm:"primaryKey;column:id;autoIncrement:false" json:"id"`
	Weight        int                                          `gorm:"column:weight;not null;default:0" json:"weight"`
	ReserveFloors datatypes.JSONType[map[string]decimal.Decimal] `gorm:"column:reserve_floors" json:"reserve_floors"`
}

func (VaultAccount) TableName() string { return "vault_accounts" }

// NewVaultAccount builds a vault account with the given floors.
func NewVaultAccount(id, weight int, floors map[string]decimal.Decimal) VaultAccount {
	if floors == nil {
		floors = map[string]decimal.Decimal{}
	}
	return VaultAccount{ID: id, Weight: weight, ReserveFloors: datatypes.NewJSONType(floors)}
}

// ReserveFloor returns the minimum balance the vault must keep for asset.
// Assets without a configured floor have a zero floor.
func (v VaultAccount) ReserveFloor(asset string) decimal.Decimal {
	floors := v.ReserveFloors.Data()
	if floors == nil {
		return decimal.Zero
	}
	return floors[asset]
}

// EquityThresholds bounds the acceptable aggregate USD equity of the margin book.
type EquityThresholds struct {
	ID     int             `gorm:"primaryKey;column:id;autoIncrement:false" json:"-"`
	MinUSD decimal.Decimal `gorm:"column:min_usd;type:varchar(64);not null" json:"min_usd"`
	MaxUSD decimal.Decimal `gorm:"column:max_usd;type:varchar(64);not null" json:"max_usd"`
}

func (EquityThresholds) TableName() string { return "equity_thresholds" }
