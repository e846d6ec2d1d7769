// Command api is the public gateway in front of the accounts and premium
// services.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vowmarket/internal/app"
	"vowmarket/internal/config"
	"vowmarket/internal/gateway"
	"vowmarket/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := app.NewLogger(cfg.Env).With(slog.String("service", "api"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := app.NewRouter()
	err := gateway.Mount(router, gateway.Upstreams{
		Accounts: cfg.Services.AccountsURL,
		Premium:  cfg.Services.PremiumURL,
	}, log)
	if err != nil {
		log.Error("invalid upstream", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Serve(ctx, log, cfg.HTTPServer, router); err != nil {
		log.Error("gateway stopped", sl.Err(err))
		os.Exit(1)
	}
}
