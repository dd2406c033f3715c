package main // Entry point package

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/qurbani/slot-allocation/internal/config"
	"github.com/qurbani/slot-allocation/internal/database"
	"github.com/qurbani/slot-allocation/internal/handler"
	"github.com/qurbani/slot-allocation/internal/middleware"
	"github.com/qurbani/slot-allocation/internal/queue"
	"github.com/qurbani/slot-allocation/internal/realtime"
	"github.com/qurbani/slot-allocation/internal/repository"
	"github.com/qurbani/slot-allocation/internal/router"
	"github.com/qurbani/slot-allocation/internal/service"
)

func main() {
	cfg, err := config.Load() // Load environment config
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			log.Warn("close store", "error", err)
		}
	}()

	rdb := config.NewRedisClient(cfg.Redis) // nil when redis is disabled or down
	if rdb == nil {
		log.Warn("redis unavailable: local rate limiting, no response cache, realtime stays in-process")
	} else {
		defer func() { _ = rdb.Close() }()
	}

	// Realtime: hub for local sockets, outbox so commits never wait on delivery.
	hub := realtime.NewHub()
	go hub.Run()
	defer hub.Stop()
	outbox := realtime.NewOutbox(256, log, realtimeSink(ctx, cfg, rdb, hub, log))
	outbox.Start(ctx)
	defer outbox.Close()

	opts := service.Options{
		DefaultTierMax:   cfg.Allocation.DefaultTierMax,
		Prices:           cfg.Allocation.Prices(),
		ReleaseOnRemoval: cfg.Allocation.ReleaseOnRemoval,
		Logger:           log,
	}
	if cfg.RabbitURL != "" {
		opts.Publisher = queue.NewPublisher(cfg.RabbitURL)
		if cfg.QueueConsumerEnabled {
			consumer := queue.NewConsumer(cfg.RabbitURL, cfg.CompletionLogPath, log)
			go consumer.Run(ctx)
		}
	} else {
		log.Info("RABBITMQ_URL not set, completion messages disabled")
	}
	svc := service.New(store, outbox, opts)

	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))
	e.Use(echo.WrapMiddleware(cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler))
	e.Use(middleware.NewTokenBucket(cfg.RateLimit, rdb, log))

	participations := handler.NewParticipationHandler(svc, log)
	slots := handler.NewSlotHandler(svc, log)
	ledger := handler.NewLedgerHandler(svc, log)
	ws := handler.NewRealtimeHandler(hub, realtime.NewUpgrader(cfg.CORSOrigins), log)

	router.RegisterRoutes(e) // Register application routes
	router.RegisterPublic(e, slots, ledger, middleware.NewRedisCache(cfg.Cache, rdb))
	router.RegisterRealtime(e, ws, cfg.JWTSecret)
	router.RegisterUser(e, participations, cfg.JWTSecret)
	router.RegisterAdmin(e, participations, slots, ledger, cfg.JWTSecret)

	addr := ":" + cfg.Port // Address string with port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env, "store", cfg.StoreDriver)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// openStore connects the configured persistence backend.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (repository.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		dsn := cfg.DB.MySQLDSN()
		if cfg.DB.Migrate {
			if err := database.RunMigrations(dsn); err != nil {
				return nil, err
			}
			log.Info("migrations applied")
		}
		db, err := database.OpenMySQL(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return repository.NewMySQLStore(db), nil
	case config.DriverMongo:
		m, err := database.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		return repository.NewMongoStore(m.Client, m.Database), nil
	case config.DriverMemory:
		log.Warn("using the in-memory store, data is lost on restart")
		return repository.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// realtimeSink publishes through redis when a channel is configured so every
// instance's hub sees the event; otherwise events go straight to the local hub.
func realtimeSink(ctx context.Context, cfg *config.Config, rdb *redis.Client, hub *realtime.Hub, log *slog.Logger) realtime.Sink {
	if rdb == nil || cfg.RealtimeChannel == "" {
		return realtime.HubSink{Hub: hub}
	}
	bridge := realtime.NewRedisBridge(rdb, cfg.RealtimeChannel, hub, log)
	go bridge.Listen(ctx)
	return bridge
}
