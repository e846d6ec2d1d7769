package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"vowmarket/internal/accounts"
	"vowmarket/internal/clock"
	"vowmarket/internal/config"
	"vowmarket/internal/migrations"
	"vowmarket/internal/positions"
	"vowmarket/internal/premium"
	"vowmarket/pkg/eventstore"
)

// Storage bundles every store a service may need, backed either by
// Postgres or by process memory.
type Storage struct {
	DB          *sql.DB
	Registry    positions.Registry
	Repository  premium.Repository
	Credentials accounts.CredentialStore
	Events      eventstore.Store
}

// OpenStorage connects to the configured backend.
func OpenStorage(ctx context.Context, cfg config.Storage, c clock.Clock, log *slog.Logger) (*Storage, error) {
	const op = "app.OpenStorage"

	if cfg.Driver == "memory" {
		log.Warn("using in-memory storage, data is lost on exit")
		return &Storage{
			Registry:    positions.NewMemoryRegistry(c),
			Repository:  premium.NewMemoryRepository(),
			Credentials: accounts.NewMemoryStore(),
			Events:      eventstore.NewMemory(),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	if cfg.MigrateOnBoot {
		if err := migrations.Run(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		version, dirty, err := migrations.Version(db)
		if err == nil {
			log.Info("schema migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
		}
	}

	registry := positions.NewPostgresRegistry(db, c)
	if err := registry.Seed(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB:          db,
		Registry:    registry,
		Repository:  premium.NewPostgresRepository(db),
		Credentials: accounts.NewPostgresStore(db),
		Events:      eventstore.NewPostgres(db),
	}, nil
}

func (s *Storage) Close() error {
	if s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
