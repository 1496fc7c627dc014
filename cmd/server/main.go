package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/indiafolio/mfledger/internal/api"
	"github.com/indiafolio/mfledger/internal/auth"
	"github.com/indiafolio/mfledger/internal/catalog"
	"github.com/indiafolio/mfledger/internal/config"
	"github.com/indiafolio/mfledger/internal/coordination"
	"github.com/indiafolio/mfledger/internal/nav"
	"github.com/indiafolio/mfledger/internal/navrefresh"
	"github.com/indiafolio/mfledger/internal/position"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/risk"
	"github.com/indiafolio/mfledger/internal/store"
	"github.com/indiafolio/mfledger/internal/valuation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Domain wiring ---
	quoteCli := quote.New(quote.Config{BaseURL: cfg.ProviderBaseURL, Timeout: cfg.ProviderTimeout})
	catalogSvc := catalog.New(st, quoteCli)

	navSvc := nav.New(st, quoteCli, cfg.NavHistoryCap).WithRetryMax(cfg.NavRetryMax)

	limiter := risk.NewConcentrationLimiter(
		decimal.NewFromFloat(cfg.RiskMaxPerScheme),
		decimal.NewFromFloat(cfg.RiskMaxPerFundHouse),
	)
	valSvc := valuation.New(st, navSvc, catalogSvc, limiter)

	locker := coordination.NewLocker()
	posEng := position.New(st, locker)

	sentinel := coordination.NewRefreshSentinel()
	refreshEngine := navrefresh.New(st, navSvc, quoteCli, sentinel, navrefresh.Config{
		Schedule:    cfg.CronSchedule,
		Timezone:    cfg.CronTimezone,
		BatchSize:   cfg.NavBatchSize,
		Concurrency: cfg.NavConcurrency,
		ReqDelay:    cfg.NavReqDelay,
		BatchDelay:  cfg.NavBatchDelay,
		RetryMax:    cfg.NavRetryMax,
	})

	issuer := auth.New(cfg.AuthTokenSecret, cfg.AuthTokenTTL)

	hub := api.NewWSHub()
	go hub.Run()

	// Push a nav_updated event to connected clients after every batch of
	// the refresh engine completes, not just at the end of the full run.
	refreshEngine.OnBatchComplete = func(successes []int) {
		for _, code := range successes {
			hub.Broadcast(api.WSMessage{Type: "nav_updated", SchemeCode: code})
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := refreshEngine.Start(ctx); err != nil {
		slog.Error("failed to start nav refresh engine", "err", err)
		os.Exit(1)
	}
	defer refreshEngine.Stop()

	svc := api.NewService(ctx, st, posEng, valSvc, navSvc, catalogSvc, refreshEngine, issuer, hub)
	router := api.NewRouter(svc, issuer, hub)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("mfledger listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down mfledger...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("mfledger stopped")
}
