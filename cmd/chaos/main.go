// Command chaos runs the placement game day against live accounts and
// premium services. Registry consistency is probed straight from Postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"vowmarket/internal/accounts"
	"vowmarket/internal/app"
	"vowmarket/internal/chaos"
	"vowmarket/internal/clients"
	"vowmarket/internal/clock"
	"vowmarket/internal/config"
	"vowmarket/internal/lib/sl"
	"vowmarket/internal/positions"
	"vowmarket/internal/premium"
	"vowmarket/internal/pricing"
)

const (
	raceContenders  = 12
	churnContenders = 20
	observeFor      = 3 * time.Second
)

type vendor struct {
	username string
	token    string
}

func main() {
	cfg := config.MustLoad()
	log := app.NewLogger(cfg.Env).With(slog.String("service", "chaos"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	held, err := run(ctx, cfg, log)
	if err != nil {
		log.Error("game day aborted", sl.Err(err))
		os.Exit(1)
	}
	if !held {
		log.Warn("at least one hypothesis was violated")
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) (bool, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	accountsClient := clients.NewAccountsClientWithBreaker(cfg.Services.AccountsURL, httpClient, clients.DefaultBreakerSettings("chaos-accounts"))
	premiumClient := clients.NewPremiumClient(cfg.Services.PremiumURL, httpClient)

	racers, err := enroll(ctx, accountsClient, raceContenders)
	if err != nil {
		return false, err
	}
	churners, err := enroll(ctx, accountsClient, churnContenders)
	if err != nil {
		return false, err
	}

	top10, err := premiumClient.ListAvailable(ctx, positions.TierTop10)
	if err != nil {
		return false, fmt.Errorf("list top10: %w", err)
	}
	if len(top10) == 0 {
		return false, errors.New("no free top10 slot to race for")
	}
	top50, err := premiumClient.ListAvailable(ctx, positions.TierTop50)
	if err != nil {
		return false, fmt.Errorf("list top50: %w", err)
	}
	if len(top50) == 0 {
		return false, errors.New("no free top50 slot to churn")
	}

	slotFree := func(ctx context.Context, tier positions.Tier, position int) (bool, error) {
		free, err := premiumClient.ListAvailable(ctx, tier)
		if err != nil {
			return false, err
		}
		return slices.Contains(free, position), nil
	}

	race := chaos.ReservationRace(positions.TierTop10, top10[0], contenders(premiumClient, racers), slotFree, observeFor)
	race.Rollback = []chaos.Action{cancelAll(premiumClient, racers)}

	engine := chaos.NewEngine(log, chaos.WithSampleInterval(500*time.Millisecond))
	engine.Register(race)

	if cfg.Storage.Driver == "postgres" {
		store, err := app.OpenStorage(ctx, cfg.Storage, clock.Real{}, log)
		if err != nil {
			return false, err
		}
		defer store.Close()

		churn := chaos.ConsistencyUnderChurn(
			positions.TierTop50,
			contenders(premiumClient, churners),
			func(int) int { return top50[rand.IntN(len(top50))] },
			chaos.OrphanProbe(store.Registry, store.Repository, clock.Real{}),
			observeFor,
		)
		churn.Rollback = []chaos.Action{cancelAll(premiumClient, churners)}
		engine.Register(churn)
	} else {
		log.Warn("storage driver is not postgres, skipping the consistency experiment")
	}

	return engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Placement Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	})
}

// enroll registers n throwaway vendor accounts and logs each one in.
func enroll(ctx context.Context, c *clients.AccountsClient, n int) ([]vendor, error) {
	out := make([]vendor, 0, n)
	for range n {
		username := "cx" + strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
		password := "Chaos" + username[2:6] + "9x"
		if _, err := c.Register(ctx, username, password, "2468", accounts.RoleVendor); err != nil {
			return nil, fmt.Errorf("register %s: %w", username, err)
		}
		session, err := c.Login(ctx, username, password)
		if err != nil {
			return nil, fmt.Errorf("login %s: %w", username, err)
		}
		out = append(out, vendor{username: username, token: session.Token})
	}
	return out, nil
}

func contenders(c *clients.PremiumClient, vendors []vendor) []chaos.Contender {
	out := make([]chaos.Contender, len(vendors))
	for i, v := range vendors {
		out[i] = func(ctx context.Context, tier positions.Tier, position int) error {
			_, err := c.Upgrade(ctx, v.token, tier, position, pricing.Monthly)
			return err
		}
	}
	return out
}

// cancelAll stops renewal for every vendor that won a slot. Slots stay held
// until the paid period ends.
func cancelAll(c *clients.PremiumClient, vendors []vendor) chaos.Action {
	return chaos.Action{
		Type:   "cancel-subscriptions",
		Target: "premium",
		Execute: func(ctx context.Context) error {
			var errs []error
			for _, v := range vendors {
				err := c.Cancel(ctx, v.token)
				if err != nil && !errors.Is(err, premium.ErrNoActiveSubscription) {
					errs = append(errs, fmt.Errorf("cancel %s: %w", v.username, err))
				}
			}
			return errors.Join(errs...)
		},
	}
}
