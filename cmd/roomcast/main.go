package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/roomcast/internal/chat"
	"github.com/rickgao/roomcast/internal/config"
	"github.com/rickgao/roomcast/internal/database"
	"github.com/rickgao/roomcast/internal/hub"
	"github.com/rickgao/roomcast/internal/metrics"
	"github.com/rickgao/roomcast/internal/room"
	"github.com/rickgao/roomcast/internal/server"
	"github.com/rickgao/roomcast/internal/store"
	"github.com/rickgao/roomcast/internal/stream"
	"github.com/rickgao/roomcast/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/roomcast.yaml", "path to config file (empty for built-in defaults)")
	flag.Parse()

	// Bootstrap logger until the configured one is known
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err = newLogger(cfg.Log)
	if err != nil {
		logger.Error("invalid log config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting roomcast",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("roomcast failed", "error", err)
		os.Exit(1)
	}
	logger.Info("roomcast stopped")
}

func loadConfig(path string) (*config.ServerConfig, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.LoadAndValidate(path)
}

func newLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return slog.Default(), err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts)), nil
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil
}

// run wires every component and blocks until ctx is cancelled or the HTTP
// server fails.
func run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	resolver := room.NewResolver(room.Config{
		Keys:             cfg.Rooms.Keys,
		DefaultPartition: cfg.Rooms.DefaultPartition,
		MaxKeyLength:     cfg.Rooms.MaxKeyLength,
	})

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	hubMetrics := metrics.NewHubMetrics(reg)
	if err := hubMetrics.Register(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	h := hub.New(hub.MonitorConfig{
		SweepInterval:     cfg.Presence.SweepInterval,
		InactivityTimeout: cfg.Presence.InactivityTimeout,
	}, hubMetrics, logger)

	// Message store
	var (
		st         store.Store
		poolSource metrics.PoolSource
		serverOpts = []server.Option{server.WithLogger(logger)}
	)
	if cfg.Database.Enabled {
		pools := database.NewPostgresPools(cfg.Database, logger)
		defer pools.Close()

		st = store.NewPGStore(pools, cfg.Database, logger)
		poolSource = pools
		serverOpts = append(serverOpts, server.WithHealthCheck("database", databaseCheck(pools, cfg.Database, resolver.Default())))

		logger.Info("message store: postgres",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"partitions", len(resolver.Partitions()),
		)
	} else {
		st = store.NewMemoryStore(store.DefaultMemoryLimit)
		logger.Info("message store: memory", "limit_per_room", store.DefaultMemoryLimit)
	}

	persister := store.NewPersister(cfg.Persister, st, logger)
	svc := chat.New(resolver, h, st, persister, logger)

	reg.MustRegister(metrics.NewStatsCollector(h.Registry, poolSource, persister))
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, server.WithMetrics(cfg.Metrics.Path, metrics.Handler(reg)))
	}

	srv := server.New(server.Config{
		AllowOrigin: cfg.HTTP.AllowOrigin,
		Stream: stream.Config{
			KeepaliveInterval: cfg.HTTP.KeepaliveInterval,
			WriteTimeout:      cfg.HTTP.WriteTimeout,
			BufferSize:        cfg.HTTP.SendBufferSize,
		},
	}, svc, h, serverOpts...)

	g, gctx := errgroup.WithContext(ctx)

	// Streams derive from gctx so they end as soon as shutdown begins.
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	if err := h.Monitor.Start(gctx); err != nil {
		return fmt.Errorf("start health monitor: %w", err)
	}
	if err := persister.Start(gctx); err != nil {
		return fmt.Errorf("start persister: %w", err)
	}

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", "error", err)
		}
		h.Monitor.Stop(shutdownCtx)
		persister.Stop(shutdownCtx)
		return nil
	})

	return g.Wait()
}

// databaseCheck borrows and returns one connection to the default partition.
func databaseCheck(pools *database.PGPools, cfg config.DatabaseConfig, partition room.PartitionID) server.HealthCheck {
	address := database.BuildConnString(cfg, string(partition))
	return func(ctx context.Context) error {
		c, err := pools.Acquire(ctx, address)
		if err != nil {
			return err
		}
		pools.Release(c)
		return nil
	}
}
