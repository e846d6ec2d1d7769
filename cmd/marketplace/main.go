// Command marketplace runs accounts and premium placement in one process,
// sharing a single store. Handy for local runs with STORAGE_DRIVER=memory.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vowmarket/internal/accounts"
	"vowmarket/internal/app"
	"vowmarket/internal/clock"
	"vowmarket/internal/config"
	"vowmarket/internal/lib/jwt"
	"vowmarket/internal/lib/sl"
	"vowmarket/internal/premium"
	"vowmarket/internal/telemetry"
)

func main() {
	cfg := config.MustLoad()
	log := app.NewLogger(cfg.Env).With(slog.String("service", "marketplace"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("marketplace stopped", sl.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, "marketplace", log)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	c := clock.Real{}
	store, err := app.OpenStorage(ctx, cfg.Storage, c, log)
	if err != nil {
		return err
	}
	defer store.Close()

	tokens := jwt.NewMaker(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	accountsSvc := accounts.NewService(
		store.Credentials,
		tokens,
		accounts.WithClock(c),
		accounts.WithLogger(log),
		accounts.WithEvents(store.Events),
		accounts.WithRateLimit(cfg.Auth.AttemptsRefill, cfg.Auth.AttemptsBurst),
	)
	premiumSvc := premium.NewService(
		store.Registry,
		store.Repository,
		store.Events,
		premium.WithClock(c),
		premium.WithLogger(log),
		premium.WithVendorDirectory(accountsSvc),
	)

	router := app.NewRouter()
	accounts.NewHandler(accountsSvc, log).Routes(router)
	premium.NewHandler(premiumSvc, tokens, log).Routes(router)

	return app.Serve(ctx, log, cfg.HTTPServer, router)
}
