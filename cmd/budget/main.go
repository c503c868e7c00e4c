package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"budget/internal/app"
	"budget/internal/backend"
	"budget/internal/cache"
	"budget/internal/cachesvc"
	"budget/internal/cli"
	"budget/internal/connectivity"
	apphttp "budget/internal/http"
	applog "budget/internal/log"
	"budget/internal/services"
	"budget/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	cfg := cli.LoadAndValidateConfig(logger, nil)

	manager := cache.NewManager(logger)
	manager.StartCleanup(cfg.CacheCleanupInterval)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err,
			"valid_backends", backend.GetBackendTypeStrings())
		os.Exit(1)
	}

	startCtx := context.Background()
	res, err := backend.NewFactory(logger, manager).CreateBackend(startCtx, backendCfg)
	if err != nil {
		logger.Error("Failed to create backends", applog.FieldError, err,
			"data", backendCfg.Data, "cache", backendCfg.Cache, "remote", backendCfg.Remote)
		os.Exit(1)
	}

	var monitorOpts []connectivity.Option
	if cfg.ProbeURL != "" {
		monitorOpts = append(monitorOpts, connectivity.WithProbe(cfg.ProbeURL, 5*time.Second))
	}
	monitor := connectivity.NewMonitor(cfg.StartOnline, logger, monitorOpts...)

	st, err := store.Open(startCtx, store.Options{
		Persister: res.Persister,
		Exchanger: res.Exchanger,
		Online:    monitor,
		Key:       cfg.StorageKey,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to open budget store", applog.FieldError, err)
		os.Exit(1)
	}

	// The cache service needs a network fetcher before the origin exists, so
	// the in-process fetcher resolves the origin handler per request.
	var (
		originHandler http.Handler
		fetcher       cachesvc.Fetcher
	)
	if cfg.InProcessOrigin() {
		fetcher = cachesvc.HandlerFetcher{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			originHandler.ServeHTTP(w, r)
		})}
	} else {
		httpFetcher, err := cachesvc.NewHTTPFetcher("http://127.0.0.1:"+cfg.OriginPort, 15*time.Second)
		if err != nil {
			logger.Error("Invalid origin address", applog.FieldError, err)
			os.Exit(1)
		}
		fetcher = httpFetcher
	}

	// Only remote requests are subject to the connectivity signal; the origin
	// holds the store and keeps accepting writes while offline.
	publicURL, err := url.Parse(cfg.PublicOrigin)
	if err != nil {
		logger.Error("Invalid public origin", applog.FieldError, err)
		os.Exit(1)
	}
	reg, err := cachesvc.NewRegistration(cfg.PublicOrigin, res.CacheStorage,
		cachesvc.OfflineAware(fetcher, monitor, publicURL), logger)
	if err != nil {
		logger.Error("Failed to create cache registration", applog.FieldError, err)
		os.Exit(1)
	}

	a := app.New(st, reg, monitor, logger)

	var serverOpts []apphttp.Option
	if res.Repo != nil {
		serverOpts = append(serverOpts, apphttp.WithReadyCheck("sqlite", res.Repo.Ping))
	}
	if pinger, ok := res.Persister.(interface{ Ping(context.Context) error }); ok && res.Repo == nil {
		serverOpts = append(serverOpts, apphttp.WithReadyCheck("data", pinger.Ping))
	}
	origin := apphttp.NewServer(":"+cfg.OriginPort, a, logger, serverOpts...)
	originHandler = origin.Handler

	if !cfg.InProcessOrigin() {
		ln, err := net.Listen("tcp", origin.Addr)
		if err != nil {
			logger.Error("Failed to listen for origin", applog.FieldError, err, "addr", origin.Addr)
			os.Exit(1)
		}
		go func() {
			if err := origin.Serve(ln); err != nil {
				logger.Error("Origin server error", applog.FieldError, err)
			}
		}()
	}

	a.Start(startCtx)

	manifest := cachesvc.DefaultManifest()
	if cfg.CacheManifest != "" {
		if manifest, err = cachesvc.LoadManifest(cfg.CacheManifest); err != nil {
			logger.Error("Failed to load cache manifest", applog.FieldError, err, "path", cfg.CacheManifest)
			os.Exit(1)
		}
	}
	if w, err := reg.Register(startCtx, manifest); err != nil {
		// Requests still pass through to the network without a worker.
		logger.Error("Cache worker registration failed", applog.FieldError, err, "version", manifest.Version)
	} else {
		logger.Info("Cache worker installed", "version", w.Version())
	}

	scheduler := services.NewSyncScheduler(st, monitor, services.SyncSchedulerConfig{
		Interval:    cfg.SyncInterval,
		SyncOnStart: true,
	}, logger)

	public := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           reg,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(ctx context.Context) {
		if err := public.Shutdown(ctx); err != nil {
			logger.Error("Public server shutdown error", applog.FieldError, err)
		}
		if err := origin.Shutdown(ctx); err != nil {
			logger.Error("Origin server shutdown error", applog.FieldError, err)
		}
		if err := scheduler.Stop(ctx); err != nil {
			logger.Warn("Sync scheduler stop", applog.FieldError, err)
		}
		a.Stop()
		reg.Wait()
		manager.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
	})

	if cfg.SyncInterval > 0 {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("Failed to start sync scheduler", applog.FieldError, err)
		}
	}
	if cfg.ProbeURL != "" {
		go monitor.Run(ctx, cfg.ProbeInterval)
	}

	go func() {
		logger.Info("Starting budget server",
			applog.FieldOperation, applog.OpStartup,
			"port", cfg.Port,
			"origin", cfg.OriginPort,
			"data", backendCfg.Data,
			"cache", backendCfg.Cache,
			"remote", backendCfg.Remote,
			"online", monitor.Online())
		if err := public.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
