// Package main implements raffled, the raffle service daemon: a
// VRF-backed raffle with entry admission, scheduled upkeep and an HTTP
// API for entrants and observers.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/raffle_layer/internal/api"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/keeper"
	"github.com/R3E-Network/raffle_layer/internal/payout"
	"github.com/R3E-Network/raffle_layer/internal/provider"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/raffled.yaml", "Path to config file")
	flag.Parse()

	if v := os.Getenv("RAFFLED_CONFIG"); v != "" {
		*configPath = v
	}

	cfg := config.LoadOrDefault(*configPath)
	log := logger.New("raffled", cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store: Postgres when a DSN is configured, in-memory otherwise.
	var store raffle.Store
	if cfg.Database.DSN != "" {
		db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()

		pg := raffle.NewPostgresStore(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.WithError(err).Fatal("failed to ensure schema")
		}
		store = pg
		log.Info("using postgres store")
	} else {
		store = raffle.NewMemoryStore()
		log.Info("using in-memory store")
	}

	bank := payout.NewBank()
	bus := events.NewBus()

	coordinator := provider.NewCoordinator(log, provider.Options{
		Delay:       cfg.Randomness.FulfillmentDelay(),
		MaxAttempts: cfg.Randomness.DeliveryMaxAttempts,
		Backoff:     cfg.Randomness.DeliveryBackoff(),
	})
	go coordinator.Run(ctx)

	engine, err := raffle.New(raffle.Config{
		EntranceFee: cfg.Raffle.EntranceFee,
		Interval:    cfg.Raffle.Interval(),
		Randomness: raffle.RandomnessConfig{
			GasLane:          cfg.Randomness.GasLane,
			SubscriptionID:   cfg.Randomness.SubscriptionID,
			CallbackGasLimit: cfg.Randomness.CallbackGasLimit,
		},
		Provider: coordinator,
		Sink:     bank,
		Store:    store,
		Events:   bus,
		Logger:   log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create raffle engine")
	}

	if cfg.Keeper.Enabled {
		k, err := keeper.New(engine, cfg.Keeper.Schedule, log)
		if err != nil {
			log.WithError(err).Fatal("failed to create keeper")
		}
		k.Start()
		defer k.Stop()
	}

	server := api.NewServer(api.Config{
		Port:   cfg.Server.Port,
		Engine: engine,
		Store:  store,
		Bus:    bus,
		Logger: log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("http server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown error")
	}
	cancel()
	log.Info("raffled stopped")
}
