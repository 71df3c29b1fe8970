package main

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lox/bingohall/cmd/bingohall/shared"
	"github.com/lox/bingohall/internal/ledger/pgledger"
	"github.com/lox/bingohall/internal/randutil"
	"github.com/lox/bingohall/internal/room"
	"github.com/lox/bingohall/internal/server"
	"github.com/lox/bingohall/internal/settlement"
	"github.com/lox/bingohall/internal/store"
)

// ServerCmd runs the rooms and the WebSocket front end.
type ServerCmd struct {
	Addr    string `short:"a" help:"Server address to bind to (overrides config)"`
	Seed    *int64 `help:"Fixed draw seed for replaying rounds (optional, never in production)"`
	Migrate bool   `help:"Apply the database schema before starting"`
}

func (c *ServerCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := shared.SetupLogger(cfg.Server.LogLevel)
	ctx := shared.SetupSignalHandler(logger)

	db, err := store.Open(ctx, cfg.Database.DSN, int32(cfg.Database.MaxConns))
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Migrate {
		if err := store.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("Schema applied")
	}

	led, err := pgledger.New(db.Pool)
	if err != nil {
		return err
	}
	settler, err := settlement.NewSettler(led, cfg.House.Participant, logger)
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}
	rooms, err := cfg.RoomConfigs()
	if err != nil {
		return err
	}

	var seed int64
	if c.Seed != nil {
		seed = *c.Seed
		logger.Warn("Using deterministic draw seed", "seed", seed)
	} else {
		seed = randutil.Seed()
		logger.Info("Using random draw seed")
	}
	registry, err := room.NewRegistry(rooms, room.Options{
		Ledger:    led,
		Settler:   settler,
		Summaries: summaryStore(cfg, db),
		Catalog:   catalog,
		Logger:    logger,
		Seed:      &seed,
	})
	if err != nil {
		return err
	}

	addr := cfg.Addr()
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := server.NewServer(registry, led, logger, server.WithAllowedOrigins(cfg.Server.AllowedOrigins...))

	logger.Info("Starting bingo hall",
		"addr", addr,
		"rooms", len(rooms),
		"stakes", registry.Stakes(),
		"cards", catalog.Len(),
		"house", cfg.House.Participant,
		"summaries", cfg.Summaries.Driver)

	eg, runCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return registry.Run(runCtx) })
	eg.Go(func() error { return srv.Serve(runCtx, addr) })
	if err := eg.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func summaryStore(cfg *server.Config, db *store.DB) store.SummaryStore {
	switch cfg.Summaries.Driver {
	case server.SummaryDriverDir:
		return store.NewDirStore(cfg.Summaries.Dir)
	case server.SummaryDriverNone:
		return store.Discard{}
	default:
		return store.NewPGStore(db.Pool)
	}
}

// MigrateCmd applies the embedded schema.
type MigrateCmd struct{}

func (c *MigrateCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	logger := shared.SetupLogger(cfg.Server.LogLevel)

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.Database.DSN, 1)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("Schema applied")
	return nil
}
