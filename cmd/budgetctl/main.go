package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"budget/internal/backend"
	"budget/internal/cache"
	"budget/internal/cli"
	"budget/internal/config"
	applog "budget/internal/log"
	"budget/internal/store"
)

var (
	logLevel string
	logger   *applog.Logger
	rootCmd  = &cobra.Command{
		Use:   "budgetctl",
		Short: "Inspect and maintain a budget tracker deployment",
		Long: `budgetctl works on the same storage the budget server uses. It reads the
server configuration from the environment (and .env for local development).

Stop the server before running commands that modify state.`,
		SilenceUsage:      true,
		PersistentPreRunE: initLogging,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(changesCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogging(_ *cobra.Command, _ []string) error {
	cli.LoadEnvFile()
	logger = cli.SetupLogger(logLevel).WithComponent(applog.ComponentCLI)
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openStore opens the budget store on the configured backends. The returned
// close function releases every backend resource.
func openStore(ctx context.Context) (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	manager := cache.NewManager(logger)
	res, err := backend.NewFactory(logger, manager).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create backends: %w", err)
	}
	closeFn := func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
		manager.Stop()
	}

	st, err := store.Open(ctx, store.Options{
		Persister: res.Persister,
		Exchanger: res.Exchanger,
		Key:       cfg.StorageKey,
		Logger:    logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return st, closeFn, nil
}
