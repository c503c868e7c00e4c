package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"budget/internal/storage"
)

func migrateCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite schema",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default: SQLITE_DB_PATH)")

	resolve := func() (string, error) {
		if dbPath != "" {
			return dbPath, nil
		}
		cfg, err := loadConfig()
		if err != nil {
			return "", err
		}
		return cfg.SQLiteDBPath, nil
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			if err := storage.RunMigrations(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at %s is up to date\n", path)
			return nil
		},
	}

	version := &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			v, dirty, err := storage.SchemaVersion(path)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", v, state)
			return nil
		},
	}

	cmd.AddCommand(up, version)
	return cmd
}
