// cmd/seed populates the scheme catalog from the configured provider
// before the server starts accepting BUY requests — spec §6 pins the
// provider's list-funds endpoint but leaves catalog population out of
// the core's scope, so a runnable repo needs this thin loader. Grounded
// on cmd/server/main.go's own store/quote wiring.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indiafolio/mfledger/internal/catalog"
	"github.com/indiafolio/mfledger/internal/config"
	"github.com/indiafolio/mfledger/internal/quote"
	"github.com/indiafolio/mfledger/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.NewPostgresStore(pool)
	} else {
		slog.Warn("DATABASE_URL not set, seeding an in-memory store is a no-op past process exit")
		st = store.NewMemoryStore()
	}

	quoteCli := quote.New(quote.Config{BaseURL: cfg.ProviderBaseURL, Timeout: cfg.ProviderTimeout})
	catalogSvc := catalog.New(st, quoteCli)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	loaded, err := catalogSvc.Refresh(ctx)
	if err != nil {
		slog.Error("catalog refresh failed", "err", err)
		os.Exit(1)
	}
	slog.Info("catalog seeded", "schemes_loaded", loaded)
}
