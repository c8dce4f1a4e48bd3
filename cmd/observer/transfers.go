package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ExchangeObserver/internal/model"
	"ExchangeObserver/internal/recorder"
)

func init() {
	f := transfersCmd.Flags()
	f.StringVar(&transferFlags.asset, "asset", "", "only this asset")
	f.IntVar(&transferFlags.take, "take", model.DefaultTransferPage, "page size")
	f.Int64Var(&transferFlags.lastSeenID, "last-seen-id", 0, "return records older than this id")
	f.StringVar(&transferFlags.search, "search", "", "match source, destination or reason")
	f.StringVar(&transferFlags.from, "from", "", "RFC3339 lower time bound")
	f.StringVar(&transferFlags.to, "to", "", "RFC3339 upper time bound")
	f.BoolVar(&transferFlags.json, "json", false, "print JSON")
	rootCmd.AddCommand(transfersCmd, monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorJSON, "json", false, "print JSON")
}

var transferFlags struct {
	asset, search, from, to string
	take                    int
	lastSeenID              int64
	json                    bool
}

var monitorJSON bool

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Query the transfer ledger, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		filter := model.TransferFilter{
			LastSeenID: transferFlags.lastSeenID,
			Take:       transferFlags.take,
			Asset:      transferFlags.asset,
			SearchText: transferFlags.search,
		}
		var err error
		if filter.From, err = parseTime(transferFlags.from); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
		if filter.To, err = parseTime(transferFlags.to); err != nil {
			return fmt.Errorf("--to: %w", err)
		}

		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		records, err := ledger.ListTransfers(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if transferFlags.json {
			return printJSON(records)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIME\tSOURCE\tDEST\tASSET\tAMOUNT\tFEE\tPRICE\tREASON")
		for _, r := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.CreatedAt.Format(time.RFC3339), r.Source, r.Destination, r.Asset,
				r.Amount, r.Fee, r.IndexPrice, r.Reason)
		}
		return w.Flush()
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show unresolved debt and equity alerts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()
		mon, closeMonitor, err := openMonitor(cmd.Context(), cfg, ledger)
		if err != nil {
			return err
		}
		defer closeMonitor()

		entries, err := mon.List(cmd.Context())
		if err != nil {
			return err
		}
		if monitorJSON {
			return printJSON(entries)
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tCATEGORY\tAMOUNT\tREASON\tUPDATED\tCOMMENT")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Symbol, e.Category, e.Amount, e.Reason, e.UpdatedAt.Format(time.RFC3339), e.Comment)
		}
		return w.Flush()
	},
}

func openLedger() (*recorder.SQLiteLedger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	return recorder.NewSQLiteLedger(cfg.Ledger.SQLitePath, logger)
}

func parseTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
