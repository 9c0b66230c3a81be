package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"logorender/internal/config"
	"logorender/internal/http/handlers"
	"logorender/internal/http/server"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/postgres"
	"logorender/internal/infra/ratelimit"
	"logorender/internal/infra/telemetry"
	"logorender/internal/job"
	"logorender/internal/tokens"
)

func main() {
	cfg := config.Load()
	logging.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)
	logging.SetLogLevel(cfg.Logger.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.Endpoint)
	if err != nil {
		logging.Error("Tracing disabled", "error", err)
	}

	var rdb *redis.Client
	if cfg.Cache.RedisHost != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.ResultDB,
		})
	}

	orch, store, err := job.NewFromConfig(ctx, cfg, rdb)
	if err != nil {
		logging.Error("Failed to initialize render pipeline", "error", err)
		_ = shutdownTracing(context.Background())
		if rdb != nil {
			_ = rdb.Close()
		}
		os.Exit(1)
	}

	tok, closeTokens := startTokens(ctx, cfg)
	defer closeTokens()

	deps := server.Deps{
		Config:       cfg,
		Jobs:         orch,
		Slots:        orch.Slots(),
		Tokens:       tok,
		LimiterStore: ratelimit.NewStore(cfg.Cache.RedisHost, cfg.Cache.RateLimitDB),
	}
	if store != nil {
		deps.Renders = handlers.Renders(store)
	}
	app := server.New(deps)

	idleConnsClosed := make(chan struct{})
	startServer(app, cfg, idleConnsClosed)
	<-idleConnsClosed

	cancel()
	if slots := orch.Slots(); slots != nil {
		slots.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logging.Warn("Tracing shutdown failed", "error", err)
	}
}

// startTokens loads the API token table once and keeps it fresh. Static
// tokens from the config are merged over the Postgres table.
func startTokens(ctx context.Context, cfg config.Config) (*tokens.Cache, func()) {
	cache := tokens.NewCache()
	static := tokens.FromConfig(cfg.Auth.StaticTokens)

	var repo tokens.Repository = static
	closeFn := func() {}
	if postgres.Configured(cfg.Auth.Postgres) {
		dsn, err := postgres.DSN(cfg.Auth.Postgres)
		if err != nil {
			logging.Error("Invalid Postgres configuration, using static tokens only", "error", err)
		} else {
			db := postgres.NewDB()
			closeFn = func() { _ = db.Close() }
			repo = tokens.Merged{postgres.NewTokenRepository(db, dsn), static}
		}
	}

	reloader := tokens.NewReloader(repo, cache, cfg.Auth.ReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		logging.Error("Failed to load API tokens", "error", err)
	}
	reloader.Start(ctx)
	return cache, closeFn
}

// startServer starts the Fiber app and listens for shutdown signals
func startServer(app *fiber.App, cfg config.Config, idleConnsClosed chan struct{}) {
	go func() {
		if err := app.Listen(cfg.Server.Host + cfg.Server.Port); err != nil {
			logging.Error("Server error", "error", err)
		}
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
	<-sigint

	logging.Warn("Shutdown signal received, closing server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}

	close(idleConnsClosed)
	logging.Info("Server stopped cleanly")
}
