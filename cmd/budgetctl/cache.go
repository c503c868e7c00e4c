package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"budget/internal/storage"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the offline cache buckets in the SQLite database",
	}

	buckets := &cobra.Command{
		Use:   "buckets",
		Short: "List cache buckets and their entry counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			names, err := repo.ListBuckets(ctx)
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No cache buckets.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BUCKET\tENTRIES")
			for _, name := range names {
				keys, err := repo.EntryKeys(ctx, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%d\n", name, len(keys))
			}
			return w.Flush()
		},
	}

	keys := &cobra.Command{
		Use:   "keys <bucket>",
		Short: "List the request URLs cached in a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			keys, err := repo.EntryKeys(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <bucket>",
		Short: "Delete a cache bucket and its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openRepo()
			if err != nil {
				return err
			}
			defer repo.Close()

			deleted, err := repo.DeleteBucket(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("bucket %q not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted bucket %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(buckets, keys, del)
	return cmd
}

func openRepo() (*storage.SQLiteRepository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.SQLiteDBPath, err)
	}
	return repo, nil
}
