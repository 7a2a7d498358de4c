package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelwatch/sentinel/internal/api/rest"
	"github.com/kestrelwatch/sentinel/internal/domain/event"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/config"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/eventstore"
	"github.com/kestrelwatch/sentinel/internal/infrastructure/telemetry"
	"github.com/kestrelwatch/sentinel/internal/metrics"
	"github.com/kestrelwatch/sentinel/internal/service/intelligence"
	"github.com/kestrelwatch/sentinel/internal/service/projection"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := telemetry.SetupLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	zapLogger, err := newZapLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building infrastructure logger: %w", err)
	}
	defer zapLogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", slog.Any("error", err))
		}
	}()

	store := openStore(ctx, cfg, zapLogger, logger)
	defer store.Close()

	reg := metrics.New()
	defs := cfg.IndicatorDefs()

	processor := intelligence.NewProcessor(store, defs, zapLogger, reg)

	cache := openCache(ctx, cfg, zapLogger, logger)
	if cache != nil {
		defer cache.Close()
	}

	proj := projection.NewService(store, defs, cfg.Tables(), cache, zapLogger, reg)
	if err := proj.Rebuild(ctx); err != nil {
		return fmt.Errorf("building read model: %w", err)
	}
	processor.Subscribe(func(evt *event.Event) {
		if err := proj.Apply(evt); err != nil {
			logger.Warn("incremental apply failed, rebuilding read model", slog.Any("error", err))
			if err := proj.Rebuild(context.Background()); err != nil {
				logger.Error("read model rebuild failed", slog.Any("error", err))
			}
		}
	})

	server := rest.NewServer(processor, proj, reg, logger, rest.Config{
		RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
		Durable:           store.IsDurable(),
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			slog.Int("port", cfg.Server.Port),
			slog.Bool("durable", store.IsDurable()))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openStore prefers the durable PostgreSQL backend and falls back to the
// in-memory store with a loud warning, since events then die with the
// process.
func openStore(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger, logger *slog.Logger) eventstore.Store {
	if cfg.Database.URL != "" {
		store, err := eventstore.NewPostgresStore(ctx, cfg.Database.URL, zapLogger)
		if err == nil {
			return store
		}
		logger.Warn("durable event store unavailable, falling back to in-memory storage",
			slog.Any("error", err))
	} else {
		logger.Warn("no database configured, events will not survive a restart")
	}
	return eventstore.NewMemoryStore(zapLogger)
}

// openCache is best effort; a missing Redis only costs dashboard latency.
func openCache(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger, logger *slog.Logger) *projection.Cache {
	if cfg.Redis.Addr == "" {
		return nil
	}
	cache, err := projection.NewCache(ctx, cfg.Redis.Addr, cfg.Redis.Password,
		cfg.Redis.DB, cfg.Redis.CacheTTL, zapLogger)
	if err != nil {
		logger.Warn("dashboard cache unavailable, serving uncached",
			slog.Any("error", err))
		return nil
	}
	return cache
}

func newZapLogger(level string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zapCfg.Level = lvl
	}
	return zapCfg.Build()
}
