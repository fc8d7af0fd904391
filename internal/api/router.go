package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/bulwarkhq/bulwark/internal/dlq"
	"github.com/bulwarkhq/bulwark/internal/failover"
	"github.com/bulwarkhq/bulwark/pkg/config"
	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/metrics"
	"github.com/bulwarkhq/bulwark/pkg/ratelimit"
	"github.com/bulwarkhq/bulwark/pkg/resources"
	"github.com/bulwarkhq/bulwark/pkg/tracing"
)

// Deps carries the wired components the router exposes.
type Deps struct {
	Config      *config.Config
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	Tracing     *tracing.TracingService
	Limiter     *ratelimit.Limiter
	Failover    *failover.Manager
	Databases   *failover.DatabaseManager
	DeadLetters *dlq.Queue
	Resources   map[string]resources.Resource
}

// NewRouter creates and configures the admin API router
func NewRouter(deps Deps) *gin.Engine {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(deps.Logger))
	router.Use(ErrorHandlingMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}

	healthHandler := NewHealthHandler(deps.Failover, deps.Limiter, deps.DeadLetters)
	router.GET("/health", healthHandler.Health)
	if deps.Metrics != nil {
		router.GET("/metrics", deps.Metrics.Handler())
	}

	rateLimitHandler := NewRateLimitHandler(deps.Limiter)
	failoverHandler := NewFailoverHandler(deps.Failover, deps.Databases)
	dlqHandler := NewDLQHandler(deps.DeadLetters, deps.Resources)
	invokeHandler := NewInvokeHandler(deps.Limiter, deps.Failover, deps.DeadLetters)

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware(deps.Config))
	{
		rateLimits := v1.Group("/rate-limits")
		{
			rateLimits.GET("", rateLimitHandler.ListLimits)
			rateLimits.GET("/:endpoint", rateLimitHandler.GetLimit)
			rateLimits.PUT("/:endpoint", rateLimitHandler.SetLimit)
			rateLimits.DELETE("/:endpoint", rateLimitHandler.RemoveLimit)
		}

		fo := v1.Group("/failover")
		{
			fo.GET("/endpoints", failoverHandler.ListEndpoints)
			fo.GET("/endpoints/:endpoint", failoverHandler.GetEndpoint)
			fo.PUT("/endpoints/:endpoint", failoverHandler.ConfigureEndpoint)
			fo.DELETE("/endpoints/:endpoint", failoverHandler.RemoveEndpoint)
			fo.POST("/endpoints/:endpoint/switch", failoverHandler.SwitchProvider)
			fo.GET("/health", failoverHandler.GetProviderHealth)
			fo.POST("/providers/:id/probe", failoverHandler.ProbeProvider)

			fo.GET("/databases", failoverHandler.ListDatabaseAgents)
			fo.GET("/databases/:agent", failoverHandler.GetDatabaseStatus)
			fo.POST("/databases/:agent/failure", failoverHandler.RecordDatabaseFailure)
			fo.POST("/databases/:agent/endpoints/:id/reset", failoverHandler.ResetDatabaseEndpoint)
		}

		deadLetters := v1.Group("/dlq")
		{
			deadLetters.GET("", dlqHandler.ListEntries)
			deadLetters.GET("/stats", dlqHandler.GetStats)
			deadLetters.GET("/:id", dlqHandler.GetEntry)
			deadLetters.POST("/:id/replay", dlqHandler.ReplayEntry)
			deadLetters.POST("/:id/archive", dlqHandler.ArchiveEntry)
			deadLetters.DELETE("/:id", dlqHandler.DeleteEntry)
		}

		v1.POST("/invoke/:endpoint", invokeHandler.Invoke)
	}

	return router
}
