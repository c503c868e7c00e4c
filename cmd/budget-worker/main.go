package main

import (
	"context"
	"errors"
	"os"
	"time"

	"budget/internal/amqp"
	"budget/internal/cache"
	"budget/internal/cli"
	"budget/internal/config"
	applog "budget/internal/log"
	"budget/internal/sheets"
	gsheet "budget/internal/sheets/google"
	mem "budget/internal/sheets/memory"
	"budget/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	reconnectDelay  = 5 * time.Second
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL")).WithComponent(applog.ComponentWorker)
	logger.Info("Starting budget-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)

	var writer sheets.ChangeWriter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewFromEnv(context.Background(), logger)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
			os.Exit(1)
		}
		writer = client
		logger.Info("Google Sheets change log enabled",
			"spreadsheet_id", cfg.GoogleSpreadsheetID, "sheet", client.SheetName())
	} else {
		writer = mem.New()
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided, keeping changes in memory")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}

	manager := cache.NewManager(logger)
	manager.StartCleanup(cfg.CacheCleanupInterval)

	changeWorker := worker.NewChangeWorker(writer, cfg.WorkerDedupWindow, logger)
	changeWorker.Register(manager)

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(context.Context) {
		stats := changeWorker.Stats()
		logger.Info("Shutting down worker",
			"batches", stats.Batches, "duplicates", stats.Duplicates)
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", applog.FieldError, err)
		}
		manager.Stop()
	})

	go consume(ctx, amqpClient, changeWorker, logger)

	cli.WaitForShutdown(ctx, done)
}

// consume keeps the consumer attached across broker restarts.
func consume(ctx context.Context, client *amqp.Client, w *worker.ChangeWorker, logger *applog.Logger) {
	for {
		err := client.ConsumeChangeBatches(ctx, w.HandleChangeBatch)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed, retrying",
				applog.FieldError, err, "delay", reconnectDelay)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
