package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleetmap/core-go/internal/breaker"
	"fleetmap/core-go/internal/config"
	"fleetmap/core-go/internal/db"
	"fleetmap/core-go/internal/eventstore"
	"fleetmap/core-go/internal/fetch"
	"fleetmap/core-go/internal/housekeeper"
	"fleetmap/core-go/internal/httpapi"
	"fleetmap/core-go/internal/mapasset"
	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/recovery"
	"fleetmap/core-go/internal/registry"
	"fleetmap/core-go/internal/rollback"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		l := httpapi.NewLogger("info")
		l.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := httpapi.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fetcher fetch.Fetcher
	if cfg.AssetBaseURL != "" {
		fetcher = &fetch.HTTPFetcher{BaseURL: cfg.AssetBaseURL}
	} else {
		fetcher = &fetch.FileFetcher{Root: cfg.AssetRoot}
	}
	fetcher = fetch.NewRetrying(fetcher, logger, fetch.RetryOptions{MaxElapsed: cfg.FetchMaxRetry})

	m := metrics.New()

	loader, err := mapasset.NewLoader(fetcher, logger, cfg.CacheSize)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build asset loader")
	}

	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
	}, logger)

	// The reporter is wired after the registry exists; recovery needs the
	// rollback service, which needs the registry as its state source.
	reg := registry.New(logger, loader, nil, m, registry.Options{
		MaxLoadedMaps: cfg.MaxLoadedMaps,
		LoadOptions: mapasset.LoadOptions{
			CacheEnabled: true,
			Timeout:      cfg.LoadTimeout,
		},
		Guard: breakers,
	})

	snaps := rollback.NewService(reg, logger, m, rollback.Config{
		MaxSnapshots: cfg.MaxSnapshots,
		MaxAge:       cfg.SnapshotMaxAge,
		AutoInterval: cfg.SnapshotInterval,
	})
	go snaps.Run(ctx)

	dispatcher := recovery.NewDispatcher(logger, breakers, snaps, m)
	reg.SetReporter(dispatcher)

	keeper := housekeeper.New(logger, reg, housekeeper.Options{Interval: cfg.RepairInterval})
	go keeper.Run(ctx)

	var pool *db.Pool
	var history httpapi.EventHistory
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p

		store, err := eventstore.New(ctx, p.Raw(), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize event store")
		}
		history = store
		go store.Follow(ctx, reg.Subscribe())
	}

	h := httpapi.NewHandler(logger, httpapi.Deps{
		Registry:  reg,
		Snapshots: snaps,
		Recovery:  dispatcher,
		Breakers:  breakers,
		Pool:      pool,
		History:   history,
		Metrics:   m,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("fleetmap listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
