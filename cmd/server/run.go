package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"relay-service/internal/api/handlers"
	"relay-service/internal/api/routes"
	"relay-service/internal/auth"
	"relay-service/internal/bus"
	"relay-service/internal/config"
	"relay-service/internal/database"
	"relay-service/internal/monitoring"
	"relay-service/internal/services"
	"relay-service/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

func run() error {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := monitoring.NewLogger(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat, cfg.IsProduction())
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	monitor := monitoring.New(logger, registry)
	monitor.Hooks().AddErrorHook(monitor.Metrics().CountErrors())
	monitor.Hooks().AddEventHook(monitor.Metrics().CountEvents())
	monitor.Event("server_starting", "Starting relay server",
		"name", cfg.App.Name, "version", cfg.App.Version, "env", cfg.App.Env, "bus", cfg.Bus.Driver)

	validator, probe := newValidator(cfg, logger)
	gate := auth.NewGate(validator, cfg.Auth.FailOpen, cfg.Auth.Timeout, monitor)

	hub := websocket.NewHub(websocket.HubConfig{
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		SendQueueSize:     cfg.WebSocket.SendQueueSize,
		OverflowPolicy:    websocket.OverflowPolicy(cfg.WebSocket.OverflowPolicy),
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		RateLimit:         rate.Limit(cfg.WebSocket.RateLimit),
		RateBurst:         cfg.WebSocket.RateBurst,
		TopicPrefixes:     cfg.Bus.TopicPrefixes,
	}, gate, monitor)

	subscriber, limiter, closeBus := newBus(cfg, monitor)
	defer closeBus()

	router, err := routes.NewRouter(hub, cfg, monitor, registry, limiter, probe)
	if err != nil {
		return err
	}
	router.SetupRoutes()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go hub.Run()

	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		err := subscriber.Consume(ctx, hub.Events())
		if err != nil && !errors.Is(err, context.Canceled) {
			monitor.Error("bus", "consume "+subscriber.Name(), err)
		}
	}()

	// Create HTTP server
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router.GetEngine(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server shutting down...")
	case err := <-serveErr:
		stop()
		hub.Stop()
		<-consumed
		return fmt.Errorf("listen on %s: %w", server.Addr, err)
	}

	// Graceful shutdown
	hub.Stop()
	<-consumed

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	monitor.Event("server_stopped", "Server stopped")
	return nil
}

// newValidator picks token validation from AUTH_MODE. The probe is only set
// when a backend is called over HTTP.
func newValidator(cfg *config.Config, logger *slog.Logger) (auth.Validator, handlers.AuthProbe) {
	switch cfg.Auth.Mode {
	case config.AuthModeJWT:
		logger.Info("Validating tokens locally", "mode", cfg.Auth.Mode)
		return auth.NewJWTValidator(cfg.Auth.JWTSecret), nil
	case config.AuthModeNone:
		logger.Warn("Token validation disabled, every token is accepted", "mode", cfg.Auth.Mode)
		return auth.AcceptAll{}, nil
	default:
		logger.Info("Validating tokens against backend", "url", cfg.Auth.APIURL, "timeout", cfg.Auth.Timeout, "failOpen", cfg.Auth.FailOpen)
		v := auth.NewHTTPValidator(cfg.Auth.APIURL, cfg.Auth.Timeout)
		return v, v
	}
}

// newBus builds the subscriber for BUS_DRIVER. The Redis bus also backs the
// upgrade rate limiter so relay instances share it.
func newBus(cfg *config.Config, monitor *monitoring.Monitor) (bus.Subscriber, services.RateLimiter, func()) {
	if cfg.Bus.Driver == config.BusDriverKafka {
		sub := bus.NewKafkaSubscriber(cfg.Kafka.Brokers, cfg.Kafka.Topics, cfg.Kafka.GroupID, monitor)
		return sub, services.NewLocalRateLimiter(), func() {}
	}

	redisClient := database.NewRedisConnection(cfg.Redis)
	sub := bus.NewRedisSubscriber(redisClient.GetClient(), cfg.Redis.Patterns, monitor)
	closeFn := func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		}
	}
	return sub, services.NewRedisRateLimiter(redisClient), closeFn
}
