package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"budget/internal/core"
	gsheet "budget/internal/sheets/google"
)

func changesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes",
		Short: "List the change log written to Google Sheets by the worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.GoogleSpreadsheetID == "" {
				return errors.New("GOOGLE_SPREADSHEET_ID is not set")
			}

			client, err := gsheet.NewFromEnv(ctx, logger)
			if err != nil {
				return err
			}
			rows, err := client.ListChanges(ctx)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No changes in %s.\n", client.SheetName())
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BATCH\tAT\tTYPE\tITEM\tTITLE\tCATEGORY\tAMOUNT")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					r.BatchID, r.At.Local().Format(time.DateTime), r.Type, r.ItemID,
					r.Title, r.Category, core.FormatMoney(r.Amount, r.Currency))
			}
			return w.Flush()
		},
	}
}
