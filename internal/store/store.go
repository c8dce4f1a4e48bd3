// Package store holds the funding asset configuration, the vault account
// directory and the equity thresholds.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"ExchangeObserver/internal/model"
)

// ErrAssetNotFound is returned when no funding asset matches symbol and network.
var ErrAssetNotFound = errors.New("funding asset not found")

const thresholdsRowID = 1

// Store is the gorm-backed configuration store.
type Store struct {
	db *gorm.DB
}

// Open connects to postgres or to a sqlite file served by the modernc driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if path := sqliteFilePath(dsn); path != "" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		dialector = sqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	return db, nil
}

// New wraps an open connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the configuration tables.
func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.FundingAsset{}, &model.VaultAccount{}, &model.EquityThresholds{})
}

// Assets returns the full funding asset snapshot.
func (s *Store) Assets(ctx context.Context) ([]model.FundingAsset, error) {
	var assets []model.FundingAsset
	if err := s.db.WithContext(ctx).Order("symbol, network").Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("list funding assets: %w", err)
	}
	return assets, nil
}

// UpsertAsset adds or updates an asset. The lock window of an existing row is kept.
func (s *Store) UpsertAsset(ctx context.Context, asset model.FundingAsset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.FundingAsset
		err := tx.Where("symbol = ? AND network = ?", asset.Symbol, asset.Network).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if asset.LockedUntil.IsZero() {
				asset.LockedUntil = model.Epoch
			}
			return tx.Create(&asset).Error
		case err != nil:
			return fmt.Errorf("load asset %s/%s: %w", asset.Symbol, asset.Network, err)
		}
		asset.LockedUntil = existing.LockedUntil
		return tx.Save(&asset).Error
	})
}

// RemoveAsset deletes the asset row for symbol and network.
func (s *Store) RemoveAsset(ctx context.Context, symbol, network string) error {
	res := s.db.WithContext(ctx).Where("symbol = ? AND network = ?", symbol, network).Delete(&model.FundingAsset{})
	if res.Error != nil {
		return fmt.Errorf("remove asset %s/%s: %w", symbol, network, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAssetNotFound
	}
	return nil
}

// LockAsset extends the lock of every network row of symbol to until.
// A row whose lock already ends later keeps it. Returns the number of rows moved forward.
func (s *Store) LockAsset(ctx context.Context, symbol string, until time.Time) (int, error) {
	until = until.UTC()
	extended := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("symbol = ?", symbol)
		// SQLite serialises writers; postgres needs the rows pinned for the read-modify-write.
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var rows []model.FundingAsset
		if err := query.Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if !until.After(row.LockedUntil) {
				continue
			}
			err := tx.Model(&model.FundingAsset{}).
				Where("symbol = ? AND network = ?", row.Symbol, row.Network).
				Update("locked_until", until).Error
			if err != nil {
				return err
			}
			extended++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("lock asset %s: %w", symbol, err)
	}
	return extended, nil
}

// VaultAccounts returns the vault directory.
func (s *Store) VaultAccounts(ctx context.Context) ([]model.VaultAccount, error) {
	var vaults []model.VaultAccount
	if err := s.db.WithContext(ctx).Order("id").Find(&vaults).Error; err != nil {
		return nil, fmt.Errorf("list vault accounts: %w", err)
	}
	return vaults, nil
}

// UpsertVaultAccount adds or replaces a vault account.
func (s *Store) UpsertVaultAccount(ctx context.Context, vault model.VaultAccount) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&vault).Error
	if err != nil {
		return fmt.Errorf("upsert vault account %d: %w", vault.ID, err)
	}
	return nil
}

// Thresholds returns the global equity thresholds, or nil when none are configured.
func (s *Store) Thresholds(ctx context.Context) (*model.EquityThresholds, error) {
	var t model.EquityThresholds
	err := s.db.WithContext(ctx).First(&t, thresholdsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load equity thresholds: %w", err)
	}
	return &t, nil
}

// SetThresholds stores the global equity thresholds.
func (s *Store) SetThresholds(ctx context.Context, minUSD, maxUSD decimal.Decimal) error {
	if minUSD.GreaterThan(maxUSD) {
		return fmt.Errorf("min equity %s is above max %s", minUSD, maxUSD)
	}
	t := model.EquityThresholds{ID: thresholdsRowID, MinUSD: minUSD, MaxUSD: maxUSD}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&t).Error; err != nil {
		return fmt.Errorf("save equity thresholds: %w", err)
	}
	return nil
}

// sqliteFilePath extracts the on-disk path of a sqlite DSN, empty for in-memory databases.
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return path
}
