// Package main provides the broker server entry point: the message edge,
// the ops HTTP surface, and the monitor hub.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/archive/redpanda"
	"github.com/fairyhunter13/ai-job-broker/internal/adapter/events"
	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/adapter/store/redisstore"
	"github.com/fairyhunter13/ai-job-broker/internal/app"
	"github.com/fairyhunter13/ai-job-broker/internal/config"
	"github.com/fairyhunter13/ai-job-broker/internal/dispatcher"
	"github.com/fairyhunter13/ai-job-broker/internal/domain"
	"github.com/fairyhunter13/ai-job-broker/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting broker server", slog.String("env", cfg.AppEnv))

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	store := redisstore.New(rdb, cfg.RedisPrefix, redisstore.WithScanDepth(cfg.ClaimScanDepth))

	var archiver domain.EventArchiver
	if cfg.ArchiveEnabled() {
		archiver, err = redpanda.NewArchiver(cfg.KafkaBrokers, cfg.ArchiveTopic)
		if err != nil {
			slog.Error("event archiver init failed", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = archiver.Close() }()
		slog.Info("event archiver enabled", slog.String("topic", cfg.ArchiveTopic))
	}

	stream := events.NewStream(rdb, cfg.RedisPrefix, events.StreamConfig{
		MainMaxLen:      cfg.EventsMainMaxLen,
		ErrorsMaxLen:    cfg.EventsErrorsMaxLen,
		MainRetention:   cfg.EventsMainRetention,
		ErrorsRetention: cfg.EventsErrorsRetention,
	})
	status := events.NewStatusBus(rdb, cfg.RedisPrefix)
	hub := events.NewHub(cfg.MonitorHeartbeatTimeout)
	fabric := events.NewFabric(stream, status, hub, archiver)

	broker := usecase.NewBroker(store, fabric, cfg.DefaultMaxRetries, cfg.DefaultJobTimeout)
	registry := usecase.NewRegistry(store, fabric)
	engine := usecase.NewEngine(store, fabric)

	disp := dispatcher.New(dispatcher.UnknownTypePolicy(cfg.UnknownTypePolicy))
	dispatcher.RegisterCoreHandlers(disp, broker, registry, engine, store)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go hub.Run(ctx)

	router := app.BuildRouter(cfg, app.Deps{
		Dispatcher: disp,
		Store:      store,
		Events:     fabric,
		ReadyCheck: app.BuildReadinessChecks(rdb),
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}
	go func() {
		slog.Info("http server listening", slog.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("signal received, shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", slog.Any("error", err))
	}
	slog.Info("broker server stopped")
}
