package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bulwarkhq/bulwark/internal/api"
	"github.com/bulwarkhq/bulwark/internal/dlq"
	"github.com/bulwarkhq/bulwark/internal/failover"
	"github.com/bulwarkhq/bulwark/pkg/config"
	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/metrics"
	"github.com/bulwarkhq/bulwark/pkg/providers"
	"github.com/bulwarkhq/bulwark/pkg/ratelimit"
	"github.com/bulwarkhq/bulwark/pkg/resilience"
	"github.com/bulwarkhq/bulwark/pkg/resources"
	"github.com/bulwarkhq/bulwark/pkg/tracing"
)

const defaultEndpoint = "default"

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "bulwark-api",
		Version:     "1.0.0",
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	m := metrics.NewMetrics(metrics.DefaultConfig())

	tracingService, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "bulwark-api",
		ServiceVersion: "1.0.0",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	limiter := ratelimit.NewLimiter(ratelimit.WithMetrics(m))
	if cfg.RateLimit.DefaultPerMinute > 0 || cfg.RateLimit.DefaultPerHour > 0 || cfg.RateLimit.DefaultPerDay > 0 {
		limiter.SetLimit(defaultEndpoint, ratelimit.Limit{
			PerMinute: cfg.RateLimit.DefaultPerMinute,
			PerHour:   cfg.RateLimit.DefaultPerHour,
			PerDay:    cfg.RateLimit.DefaultPerDay,
		})
	}

	retryPolicy := resilience.DefaultPolicy()
	retryPolicy.Enabled = cfg.Retry.Enabled
	retryPolicy.MaxRetries = cfg.Retry.MaxRetries
	retryPolicy.Strategy = resilience.Strategy(cfg.Retry.Strategy)
	retryPolicy.InitialDelay = cfg.Retry.InitialDelay
	retryPolicy.MaxDelay = cfg.Retry.MaxDelay
	retryPolicy.BackoffMultiplier = cfg.Retry.BackoffMultiplier
	retryPolicy.Jitter = cfg.Retry.Jitter

	manager := failover.NewManager(
		failover.WithMetrics(m),
		failover.WithRetryPolicy(retryPolicy),
	)
	defer manager.Shutdown()

	chain := registerProviders(cfg, manager, logger)
	if len(chain) > 0 {
		err := manager.Configure(failover.EndpointConfig{
			Endpoint:               defaultEndpoint,
			PrimaryID:              chain[0],
			BackupIDs:              chain[1:],
			HealthCheckInterval:    cfg.Failover.HealthCheckInterval,
			HealthCheckTimeout:     cfg.Failover.HealthCheckTimeout,
			MaxConsecutiveFailures: cfg.Failover.MaxConsecutiveFailures,
			AutoFailoverEnabled:    cfg.Failover.AutoFailoverEnabled,
		})
		if err != nil {
			log.Fatalf("Failed to configure default endpoint: %v", err)
		}
	}

	databases := failover.NewDatabaseManager(failover.WithDatabaseMetrics(m))
	resourceRegistry := registerResources(cfg, databases, logger)

	deadLetters := dlq.NewQueue(cfg.DLQ.Capacity, cfg.DLQ.MaxRetries, dlq.WithMetrics(m))

	router := api.NewRouter(api.Deps{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		Tracing:     tracingService,
		Limiter:     limiter,
		Failover:    manager,
		Databases:   databases,
		DeadLetters: deadLetters,
		Resources:   resourceRegistry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := tracingService.Shutdown(ctx); err != nil {
		logger.Warn("Tracing shutdown failed", "error", err.Error())
	}
	for _, res := range resourceRegistry {
		if err := res.Disconnect(); err != nil {
			logger.Warn("Resource disconnect failed", "resource", res.ID(), "error", err.Error())
		}
	}

	logger.Info("Server exited")
}

// registerProviders wires every provider with credentials configured and
// returns the failover chain in priority order.
func registerProviders(cfg *config.Config, manager *failover.Manager, logger *logging.Logger) []string {
	var chain []string

	if cfg.Providers.OpenAIAPIKey != "" {
		p, err := providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey: cfg.Providers.OpenAIAPIKey,
			Model:  cfg.Providers.OpenAIModel,
		})
		if err != nil {
			log.Fatalf("Failed to create OpenAI provider: %v", err)
		}
		manager.RegisterProvider(p.ID(), p)
		chain = append(chain, p.ID())
		logger.Info("Provider registered", "provider", p.ID(), "model", cfg.Providers.OpenAIModel)
	}

	if cfg.Providers.AnthropicAPIKey != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  cfg.Providers.AnthropicAPIKey,
			Model:   cfg.Providers.AnthropicModel,
			Timeout: cfg.Providers.RequestTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to create Anthropic provider: %v", err)
		}
		manager.RegisterProvider(p.ID(), p)
		chain = append(chain, p.ID())
		logger.Info("Provider registered", "provider", p.ID(), "model", cfg.Providers.AnthropicModel)
	}

	if len(chain) == 0 {
		logger.Warn("No provider credentials configured; failover chain is empty")
	}
	return chain
}

// registerResources connects the configured database resources and
// registers them for database failover and dead-letter replay.
func registerResources(cfg *config.Config, databases *failover.DatabaseManager, logger *logging.Logger) map[string]resources.Resource {
	registry := make(map[string]resources.Resource)

	pg, err := resources.NewPostgresResource("postgres-primary", &cfg.Database)
	if err != nil {
		log.Fatalf("Failed to create postgres resource: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pg.Connect(ctx); err != nil {
		logger.Warn("Postgres connection failed at startup", "error", err.Error())
	}
	registry[pg.ID()] = pg

	if cfg.Redis.Host != "" {
		rd, err := resources.NewRedisResource("redis-cache", &cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to create redis resource: %v", err)
		}
		if err := rd.Connect(ctx); err != nil {
			logger.Warn("Redis connection failed at startup", "error", err.Error())
		}
		registry[rd.ID()] = rd
	}

	err = databases.RegisterEndpoints("default", []failover.DatabaseEndpoint{
		{ID: pg.ID(), Resource: pg, Priority: 0, IsPrimary: true},
	})
	if err != nil {
		log.Fatalf("Failed to register database endpoints: %v", err)
	}

	return registry
}
