/*
main.go - Application entry point

PURPOSE:
  Starts the ticket engine HTTP server: loads configuration, opens the
  configured store, wires the engine, the scan limiter and the show
  concluder, and shuts everything down gracefully.

STARTUP SEQUENCE:
  1. Parse flags, load config (file + TICKETS_* env)
  2. Build the zap logger
  3. Open the store (memory, sqlite or postgres + migrations)
  4. Create codec, engine, limiter and handler
  5. Start the show concluder
  6. Serve HTTP until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to a config file (default: ./config.toml if present)
  -port    HTTP port, overrides app.port

GRACEFUL SHUTDOWN:
  1. Stop accepting new connections
  2. Wait for active requests (http.shutdown_timeout, default 30s)
  3. Stop the concluder
  4. Close the store

EXAMPLES:
  ./server -config=/etc/tickets/config.toml
  TICKETS_STORAGE_DRIVER=memory ./server -port=3000

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/ticket-engine/api"
	"github.com/warp/ticket-engine/config"
	"github.com/warp/ticket-engine/engine"
	"github.com/warp/ticket-engine/engine/store"
	"github.com/warp/ticket-engine/logger"
	"github.com/warp/ticket-engine/ratelimit"
	"github.com/warp/ticket-engine/store/postgres"
	"github.com/warp/ticket-engine/store/postgres/migrations"
	"github.com/warp/ticket-engine/store/sqlite"
	"github.com/warp/ticket-engine/ticketcode"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	port := flag.String("port", "", "HTTP server port (overrides app.port)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, port string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.App.Port = port
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx := context.Background()

	repo, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()
	log.Info("store ready", zap.String("driver", cfg.Storage.Driver))

	codec, err := ticketcode.New(cfg.Codec.Secret, ticketcode.WithMaxAttempts(cfg.Codec.MaxAttempts))
	if err != nil {
		return err
	}
	flow, err := engine.ParseSaleFlow(cfg.Sale.Flow)
	if err != nil {
		return err
	}
	eng := engine.New(repo, codec,
		engine.WithLogger(log.Named("engine")),
		engine.WithSaleFlow(flow),
		engine.WithMaxAttempts(cfg.Sale.MaxRetries),
	)

	handler := api.NewHandler(eng, log)
	handler.Tokens = api.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if resetter, ok := repo.(api.Resetter); ok {
		handler.Store = resetter
	}

	scans, closeScans, err := openLimiter(ctx, cfg.Scanner)
	if err != nil {
		return err
	}
	defer closeScans()
	handler.Scans = scans

	concluder := api.NewShowConcluder(eng, log)
	concluder.Interval = cfg.Jobs.ConcludeInterval
	concluder.Grace = cfg.Jobs.ConcludeGrace
	concluder.Enabled = cfg.Jobs.Enabled
	concluder.Start()
	defer concluder.Stop()

	router := api.NewRouter(handler, api.RouterConfig{
		Tokens:         handler.Tokens,
		AllowedOrigins: cfg.HTTP.CORSAllowOrigins,
		Scenarios:      cfg.IsDevelopment() && handler.Store != nil,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", server.Addr), zap.String("sale_flow", string(flow)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// openStore opens the configured repository and returns a closer for it.
func openStore(ctx context.Context, cfg config.StorageConfig) (engine.TxRepository, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil

	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil

	case "postgres":
		poolCfg, err := pgxpool.ParseConfig(cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid postgres url: %w", err)
		}
		poolCfg.MaxConns = cfg.MaxConns
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		s := postgres.New(pool)
		return s, func() { s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// openLimiter returns a Redis-backed limiter when an address is configured
// and an in-process one otherwise.
func openLimiter(ctx context.Context, cfg config.ScannerConfig) (ratelimit.Limiter, func(), error) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.RatePerSecond, cfg.Burst), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	limit := ratelimit.WindowLimit(cfg.RatePerSecond, cfg.Burst, cfg.Window)
	return ratelimit.NewRedis(client, limit, cfg.Window), func() { client.Close() }, nil
}
