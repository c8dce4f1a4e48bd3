package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ExchangeObserver/internal/model"
	"ExchangeObserver/internal/store"
)

func init() {
	vaultsCmd.AddCommand(vaultsListCmd, vaultsSetCmd)
	thresholdsCmd.AddCommand(thresholdsSetCmd)
	rootCmd.AddCommand(vaultsCmd, thresholdsCmd)

	vaultsSetCmd.Flags().IntVar(&vaultFlags.weight, "weight", 0, "priority weight, higher first")
	vaultsSetCmd.Flags().StringToStringVar(&vaultFlags.floors, "floor", nil, "reserve floor per asset, e.g. --floor USDT=100")
}

var vaultFlags struct {
	weight int
	floors map[string]string
}

var vaultsCmd = &cobra.Command{
	Use:   "vaults",
	Short: "Inspect and edit custody vault accounts",
}

var vaultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vault accounts and reserve floors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			vaults, err := st.VaultAccounts(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWEIGHT\tFLOORS")
			for _, v := range vaults {
				fmt.Fprintf(w, "%d\t%d\t%s\n", v.ID, v.Weight, formatFloors(v.ReserveFloors.Data()))
			}
			return w.Flush()
		})
	},
}

func formatFloors(floors map[string]decimal.Decimal) string {
	if len(floors) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(floors))
	for asset, floor := range floors {
		parts = append(parts, asset+"="+floor.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

var vaultsSetCmd = &cobra.Command{
	Use:   "set ID",
	Short: "Add or replace a vault account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil || id < 0 {
			return fmt.Errorf("invalid vault id %q", args[0])
		}
		floors := make(map[string]decimal.Decimal, len(vaultFlags.floors))
		for asset, raw := range vaultFlags.floors {
			floor, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("--floor %s: %w", asset, err)
			}
			floors[asset] = floor
		}
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			if err := st.UpsertVaultAccount(ctx, model.NewVaultAccount(id, vaultFlags.weight, floors)); err != nil {
				return err
			}
			fmt.Printf("saved vault %d\n", id)
			return nil
		})
	},
}

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "Show the equity thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			t, err := st.Thresholds(ctx)
			if err != nil {
				return err
			}
			if t == nil {
				fmt.Println("no equity thresholds configured")
				return nil
			}
			fmt.Printf("min %s USD, max %s USD\n", t.MinUSD, t.MaxUSD)
			return nil
		})
	},
}

var thresholdsSetCmd = &cobra.Command{
	Use:   "set MIN_USD MAX_USD",
	Short: "Set the equity thresholds",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		minUSD, err := decimal.NewFromString(args[0])
		if err != nil {
			return fmt.Errorf("min: %w", err)
		}
		maxUSD, err := decimal.NewFromString(args[1])
		if err != nil {
			return fmt.Errorf("max: %w", err)
		}
		return withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
			return st.SetThresholds(ctx, minUSD, maxUSD)
		})
	},
}
