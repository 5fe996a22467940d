package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/tradehive/agentd/internal/core"
	"github.com/tradehive/agentd/internal/events"
	"github.com/tradehive/agentd/internal/metrics"
	agentdotel "github.com/tradehive/agentd/internal/otel"
	"github.com/tradehive/agentd/internal/queue"
	"github.com/tradehive/agentd/internal/scheduler"
	"github.com/tradehive/agentd/internal/server"
	"github.com/tradehive/agentd/internal/trading"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := server.LoadConfig()

	// Initialize OpenTelemetry (opt-in via AGENTD_OTEL_ENABLED or
	// OTEL_EXPORTER_OTLP_ENDPOINT)
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = cfg.OTelEndpoint
	}
	otelShutdown, err := agentdotel.Init(context.Background(), agentdotel.Config{
		ServiceName:    "agentd",
		ServiceVersion: core.Version,
		Enabled:        cfg.OTelEnabled || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "",
		Endpoint:       otelEndpoint,
	})
	if err != nil {
		slog.Error("failed to initialize OpenTelemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Assemble the engine.
	bus := events.NewBus()

	metrics.Init(core.Version)
	unobserve := metrics.Observe(bus)
	defer unobserve()

	queueOpts := []queue.Option{
		queue.WithBus(bus),
		queue.WithConcurrency(cfg.Concurrency),
	}
	if cfg.RateLimit > 0 {
		queueOpts = append(queueOpts, queue.WithRateLimit(cfg.RateLimit, cfg.RateLimitBurst))
	}
	q := queue.New(queueOpts...)
	defer q.Close()

	sched := scheduler.New(q, scheduler.WithRescheduleOnFailure(cfg.RescheduleOnFailure))
	defer sched.Close()
	metrics.ObserveArmed(func() int { return sched.Stats().Scheduled })

	registry := trading.NewRegistry()
	slog.Info("registered job handlers", "types", registry.Types())

	// Forward engine events to NATS when a URL is configured.
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL, nats.Name("agentd"))
		if err != nil {
			slog.Error("failed to connect to NATS", "url", cfg.NatsURL, "error", err)
			os.Exit(1)
		}
		defer nc.Close()

		forwarder := events.NewForwarder(nc)
		detach := forwarder.Attach(bus)
		defer detach()
		defer forwarder.Close()

		slog.Info("forwarding events to NATS", "url", cfg.NatsURL)
	}

	router := server.NewRouter(q, sched, registry)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("agentd listening", "port", cfg.Port, "version", core.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	sched.Close()
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
