// Command accounts serves registration, login, PIN verification and
// password reset.
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
	"vowmarket/internal/telemetry"
)

func main() {
	cfg := config.MustLoad()
	log := app.NewLogger(cfg.Env).With(slog.String("service", "accounts"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("accounts service stopped", sl.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, "accounts", log)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	store, err := app.OpenStorage(ctx, cfg.Storage, clock.Real{}, log)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := accounts.NewService(
		store.Credentials,
		jwt.NewMaker(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		accounts.WithLogger(log),
		accounts.WithEvents(store.Events),
		accounts.WithRateLimit(cfg.Auth.AttemptsRefill, cfg.Auth.AttemptsBurst),
	)

	router := app.NewRouter()
	accounts.NewHandler(svc, log).Routes(router)

	return app.Serve(ctx, log, cfg.HTTPServer, router)
}
