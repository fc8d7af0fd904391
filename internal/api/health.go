package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bulwarkhq/bulwark/internal/dlq"
	"github.com/bulwarkhq/bulwark/internal/failover"
	"github.com/bulwarkhq/bulwark/pkg/ratelimit"
)

// HealthHandler reports process liveness and a component summary
type HealthHandler struct {
	manager     *failover.Manager
	limiter     *ratelimit.Limiter
	deadLetters *dlq.Queue
	startedAt   time.Time
}

// NewHealthHandler creates a health handler
func NewHealthHandler(manager *failover.Manager, limiter *ratelimit.Limiter, deadLetters *dlq.Queue) *HealthHandler {
	return &HealthHandler{
		manager:     manager,
		limiter:     limiter,
		deadLetters: deadLetters,
		startedAt:   time.Now(),
	}
}

// Health returns liveness and per-component counts
func (h *HealthHandler) Health(c *gin.Context) {
	healthy := 0
	all := h.manager.GetAllHealth()
	for _, record := range all {
		if record.Status == failover.StatusHealthy {
			healthy++
		}
	}

	SuccessResponse(c, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"providers": gin.H{
			"registered": len(all),
			"healthy":    healthy,
		},
		"endpoints":   len(h.manager.Endpoints()),
		"rate_limits": len(h.limiter.Endpoints()),
		"dlq":         h.deadLetters.Stats(),
	})
}
