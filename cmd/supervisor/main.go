// Package main provides the recovery supervisor entry point. It runs
// independently from the broker server, sweeping the store on a timer.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-job-broker/internal/adapter/connector"
	"github.com/fairyhunter13/ai-job-broker/internal/adapter/events"
	"github.com/fairyhunter13/ai-job-broker/internal/adapter/observability"
	"github.com/fairyhunter13/ai-job-broker/internal/adapter/store/redisstore"
	"github.com/fairyhunter13/ai-job-broker/internal/config"
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

	slog.Info("starting recovery supervisor", slog.String("env", cfg.AppEnv))

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("supervisor metrics server error", slog.Any("error", err))
		}
	}()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid redis url", slog.Any("error", err))
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	store := redisstore.New(rdb, cfg.RedisPrefix, redisstore.WithScanDepth(cfg.ClaimScanDepth))

	stream := events.NewStream(rdb, cfg.RedisPrefix, events.StreamConfig{
		MainMaxLen:      cfg.EventsMainMaxLen,
		ErrorsMaxLen:    cfg.EventsErrorsMaxLen,
		MainRetention:   cfg.EventsMainRetention,
		ErrorsRetention: cfg.EventsErrorsRetention,
	})
	status := events.NewStatusBus(rdb, cfg.RedisPrefix)
	hub := events.NewHub(cfg.MonitorHeartbeatTimeout)
	fabric := events.NewFabric(stream, status, hub, nil)

	connectors := connector.NewRegistry()

	supervisor := usecase.NewSupervisor(store, fabric, connectors, fabric, usecase.RecoveryConfig{
		Tick:            cfg.RecoveryTick,
		WorkerStale:     cfg.WorkerStaleAfter,
		ProgressSilence: cfg.ProgressSilenceAfter,
		WorkerGC:        cfg.WorkerGCAfter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go hub.Run(ctx)
	supervisor.Run(ctx)

	slog.Info("recovery supervisor stopped")
}
