package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ExchangeObserver/internal/model"
	"ExchangeObserver/internal/store"
)

func init() {
	assetsCmd.AddCommand(assetsListCmd, assetsSetCmd, assetsRemoveCmd)
	rootCmd.AddCommand(assetsCmd)

	f := assetsSetCmd.Flags()
	f.StringVar(&assetFlags.symbol, "symbol", "", "custody asset symbol")
	f.StringVar(&assetFlags.network, "network", "", "custody network")
	f.StringVar(&assetFlags.counterpart, "counterpart", "", "margin symbol this asset funds")
	f.IntVar(&assetFlags.weight, "weight", 0, "priority weight, higher first")
	f.BoolVar(&assetFlags.enabled, "enabled", true, "use the asset as a funding source")
	f.StringVar(&assetFlags.minTransfer, "min-transfer", "0", "minimum transfer amount")
	f.StringVar(&assetFlags.fee, "fee", "0", "funding fee charged per vault transfer")
	f.IntVar(&assetFlags.lockMinutes, "lock-minutes", 0, "lock window after a vault transfer")
	_ = assetsSetCmd.MarkFlagRequired("symbol")
	_ = assetsSetCmd.MarkFlagRequired("network")
	_ = assetsSetCmd.MarkFlagRequired("counterpart")
}

var assetFlags struct {
	symbol, network, counterpart string
	weight, lockMinutes          int
	enabled                      bool
	minTransfer, fee             string
}

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Inspect and edit funding asset configuration",
}

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List funding assets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			assets, err := st.Assets(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SYMBOL\tNETWORK\tFUNDS\tWEIGHT\tENABLED\tMIN\tFEE\tLOCK_MIN\tLOCKED_UNTIL")
			for _, a := range assets {
				lockedUntil := "-"
				if a.LockedUntil.After(model.Epoch) {
					lockedUntil = a.LockedUntil.UTC().Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\t%s\t%d\t%s\n",
					a.Symbol, a.Network, a.CounterpartSymbol, a.Weight, a.Enabled,
					a.MinTransferAmount, a.FundingFee, a.LockMinutes, lockedUntil)
			}
			return w.Flush()
		})
	},
}

var assetsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Add or update a funding asset (an active lock is kept)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		minTransfer, err := decimal.NewFromString(assetFlags.minTransfer)
		if err != nil {
			return fmt.Errorf("--min-transfer: %w", err)
		}
		fee, err := decimal.NewFromString(assetFlags.fee)
		if err != nil {
			return fmt.Errorf("--fee: %w", err)
		}
		if minTransfer.IsNegative() || fee.IsNegative() || assetFlags.lockMinutes < 0 {
			return fmt.Errorf("amounts and lock minutes must not be negative")
		}
		asset := model.FundingAsset{
			Symbol:            assetFlags.symbol,
			Network:           assetFlags.network,
			Weight:            assetFlags.weight,
			Enabled:           assetFlags.enabled,
			MinTransferAmount: minTransfer,
			CounterpartSymbol: assetFlags.counterpart,
			LockMinutes:       assetFlags.lockMinutes,
			FundingFee:        fee,
		}
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			if err := st.UpsertAsset(ctx, asset); err != nil {
				return err
			}
			fmt.Printf("saved %s/%s\n", asset.Symbol, asset.Network)
			return nil
		})
	},
}

var assetsRemoveCmd = &cobra.Command{
	Use:   "remove SYMBOL NETWORK",
	Short: "Remove a funding asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			if err := st.RemoveAsset(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("removed %s/%s\n", args[0], args[1])
			return nil
		})
	},
}

func withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, st)
}
