// Command premium serves pricing, slot availability and premium
// subscriptions. Vendor roles are checked against the accounts service.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vowmarket/internal/app"
	"vowmarket/internal/clients"
	"vowmarket/internal/clock"
	"vowmarket/internal/config"
	"vowmarket/internal/lib/jwt"
	"vowmarket/internal/lib/sl"
	"vowmarket/internal/premium"
	"vowmarket/internal/telemetry"
)

func main() {
	cfg := config.MustLoad()
	log := app.NewLogger(cfg.Env).With(slog.String("service", "premium"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("premium service stopped", sl.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, "premium", log)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	store, err := app.OpenStorage(ctx, cfg.Storage, clock.Real{}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	directory := clients.NewAccountsClient(cfg.Services.AccountsURL, &http.Client{Timeout: 5 * time.Second})

	svc := premium.NewService(
		store.Registry,
		store.Repository,
		store.Events,
		premium.WithLogger(log),
		premium.WithVendorDirectory(directory),
	)

	router := app.NewRouter()
	premium.NewHandler(svc, jwt.NewMaker(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL), log).Routes(router)

	return app.Serve(ctx, log, cfg.HTTPServer, router)
}
