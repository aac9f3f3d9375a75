package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"github.com/redis/go-redis/v9"

	"github.com/cybernetics/hackify-server/internal/bootstrap"
	"github.com/cybernetics/hackify-server/internal/router"
	"github.com/cybernetics/hackify-server/internal/server"
	"github.com/cybernetics/hackify-server/pkg/backend"
	"github.com/cybernetics/hackify-server/pkg/bus"
	"github.com/cybernetics/hackify-server/pkg/config"
	"github.com/cybernetics/hackify-server/pkg/session"
	"github.com/cybernetics/hackify-server/pkg/store"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg, err := config.Load(logger, "config")
	if err != nil {
		logger.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// One shared client serves every redis-backed store and the bus.
	var redisClient redis.UniversalClient
	if cfg.NeedsRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	// The backend for each store is selected exactly once, here. Nothing
	// downstream ever branches on which variant it got.
	memory := backend.NewMemory()
	selectBackend := func(mode string) backend.Store {
		if mode == config.ModeRedis {
			return backend.NewRedis(redisClient)
		}
		return memory
	}

	open := store.NewOpenFiles(selectBackend(cfg.Stores.OpenFiles), logger)
	files := store.NewFiles(selectBackend(cfg.Stores.Files), open, logger)
	users := store.NewUsers(selectBackend(cfg.Stores.Users), logger)
	rooms := store.NewRooms(selectBackend(cfg.Stores.Rooms), files, open, users, logger)

	var eventBus bus.Bus
	if cfg.Bus.Mode == config.BusRedis {
		eventBus = bus.NewRedis(redisClient, logger)
	} else {
		eventBus = bus.NewLocal(logger)
	}
	defer eventBus.Close()

	if err := bootstrap.Run(ctx, logger, rooms, files, open, users, cfg.Subordinate); err != nil {
		logger.Error("Bootstrap failed, refusing to accept connections", slog.Any("error", err))
		os.Exit(1)
	}

	bridge := session.NewBridge(cfg.Session.JWTSecret, logger)
	rt := router.New(logger, rooms, files, open, users, eventBus)

	app := server.NewApp(logger, ctx, cfg, rt, bridge)
	if err := app.Run(); err != nil {
		logger.Error("Application run failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("Application shut down successfully.")
}
