package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"budget/internal/core"
	"budget/internal/store"
)

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show or reset the persisted budget state",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the persisted state as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st.State())
		},
	}

	var queue bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every item",
		Long: `Remove every item from the state. Pending changes are kept so the remote
still receives them, unless --queue is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			n := len(st.State().Items)
			st.ClearItems(ctx)
			if queue {
				st.MarkSynced(ctx)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d items\n", n)
			return nil
		},
	}
	clearCmd.Flags().BoolVar(&queue, "queue", false, "also drop pending changes")

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List changes waiting to be synced",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeFn, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			changes := st.State().Sync.PendingChanges
			out := cmd.OutOrStdout()
			if len(changes) == 0 {
				fmt.Fprintln(out, "No pending changes.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tTYPE\tITEM\tTITLE\tAMOUNT")
			for i, c := range changes {
				title, amount := "", ""
				if c.Item != nil && c.Type != core.ChangeRemove {
					title = c.Item.Title
					amount = core.FormatMoney(c.Item.Amount, c.Item.Currency)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, c.Type, c.ItemID(), title, amount)
			}
			return w.Flush()
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Send pending changes to the configured remote once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, closeFn, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			res := st.SyncData(ctx)
			out := cmd.OutOrStdout()
			switch res.Outcome {
			case store.SyncSucceeded:
				fmt.Fprintf(out, "Synced %d changes\n", res.Synced)
			case store.SyncFailed:
				return fmt.Errorf("sync failed: %w", res.Err)
			default:
				fmt.Fprintf(out, "Sync %s\n", res.Outcome)
			}
			if last := st.State().Sync.LastSynced; last != nil {
				fmt.Fprintf(out, "Last synced %s, %d pending\n", last.Local().Format(time.DateTime), st.PendingCount())
			}
			return nil
		},
	}
}

