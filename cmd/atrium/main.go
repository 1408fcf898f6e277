// Package main provides the atrium server binary: the game listener, the
// admin listener, and the shared session registry behind both.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/atrium/internal/adminserver"
	"github.com/cory-johannsen/atrium/internal/config"
	"github.com/cory-johannsen/atrium/internal/events"
	"github.com/cory-johannsen/atrium/internal/game/protocol"
	"github.com/cory-johannsen/atrium/internal/game/registry"
	"github.com/cory-johannsen/atrium/internal/game/rooms"
	"github.com/cory-johannsen/atrium/internal/gameserver"
	"github.com/cory-johannsen/atrium/internal/observability"
	"github.com/cory-johannsen/atrium/internal/server"
	"github.com/cory-johannsen/atrium/internal/storage/postgres"
	"github.com/cory-johannsen/atrium/internal/transport"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting atrium",
		zap.String("game_addr", cfg.Game.Addr()),
		zap.String("admin_addr", cfg.Admin.Addr()),
	)

	catalog, pool := loadCatalog(ctx, cfg, logger)

	var publisher events.Publisher = events.Noop{}
	if cfg.Events.Enabled {
		kafka, err := events.NewKafka(cfg.Events, logger)
		if err != nil {
			logger.Fatal("connecting to kafka", zap.Error(err))
		}
		publisher = kafka
		logger.Info("presence events enabled",
			zap.Strings("brokers", cfg.Events.Brokers),
			zap.String("topic", cfg.Events.Topic),
		)
	}

	reg := registry.New(logger)

	gameHandler := gameserver.NewHandler(reg, cfg.Hotel.DefaultRoom, publisher, logger)
	adminHandler := adminserver.NewHandler(
		reg,
		adminserver.NewAuthenticator(cfg.Admin),
		catalog,
		cfg.Hotel.DefaultRoom,
		publisher,
		logger,
	)

	gameAcceptor := transport.NewAcceptor("game", cfg.Game, gameHandler, logger)
	adminAcceptor := transport.NewAcceptor("admin", cfg.Admin.ListenerConfig, adminHandler, logger)

	// Wire lifecycle
	lifecycle := server.NewLifecycle(logger)

	// Warn live clients before their sockets close.
	lifecycle.AddShutdownHook("notify-players", func() {
		n := reg.BroadcastToAll(protocol.AdminMessage("server shutting down"))
		logger.Info("shutdown notice sent", zap.Int("players", n))
	})

	lifecycle.Add("game-acceptor", &server.FuncService{
		StartFn: gameAcceptor.ListenAndServe,
		StopFn:  gameAcceptor.Stop,
	})
	lifecycle.Add("admin-acceptor", &server.FuncService{
		StartFn: adminAcceptor.ListenAndServe,
		StopFn:  adminAcceptor.Stop,
	})

	if pool != nil {
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				for {
					time.Sleep(30 * time.Second)
					if err := pool.Health(ctx, 5*time.Second); err != nil {
						logger.Warn("database health check failed", zap.Error(err))
					}
				}
			},
			StopFn: func() {
				pool.Close()
			},
		})
	}

	if kafka, ok := publisher.(*events.Kafka); ok {
		lifecycle.AddShutdownHook("close-kafka", func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("closing kafka producer", zap.Error(err))
			}
		})
	}

	logger.Info("atrium initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int("rooms", catalog.Len()),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadCatalog builds the room catalog from Postgres when the database is
// enabled, from the configured YAML file when set, and falls back to a
// catalog holding only the default room.
func loadCatalog(ctx context.Context, cfg config.Config, logger *zap.Logger) (*rooms.Catalog, *postgres.Pool) {
	if cfg.Database.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		catalog, err := postgres.NewRoomRepository(pool.DB()).LoadCatalog(ctx)
		if err != nil {
			logger.Fatal("loading room catalog from database", zap.Error(err))
		}
		logger.Info("room catalog loaded from database",
			zap.Int("rooms", catalog.Len()),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		return catalog, pool
	}

	if cfg.Hotel.RoomsFile != "" {
		catalog, err := rooms.LoadCatalogFromFile(cfg.Hotel.RoomsFile)
		if err != nil {
			logger.Fatal("loading room catalog",
				zap.String("path", cfg.Hotel.RoomsFile),
				zap.Error(err),
			)
		}
		logger.Info("room catalog loaded",
			zap.String("path", cfg.Hotel.RoomsFile),
			zap.Int("rooms", catalog.Len()),
		)
		return catalog, nil
	}

	catalog, err := rooms.NewCatalog([]rooms.Room{
		{ID: cfg.Hotel.DefaultRoom, Name: cfg.Hotel.DefaultRoom},
	})
	if err != nil {
		logger.Fatal("building default room catalog", zap.Error(err))
	}
	return catalog, nil
}
