package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bulwarkhq/bulwark/pkg/ratelimit"
)

// RateLimitHandler exposes admission-control administration
type RateLimitHandler struct {
	limiter *ratelimit.Limiter
}

// NewRateLimitHandler creates a rate limit handler
func NewRateLimitHandler(limiter *ratelimit.Limiter) *RateLimitHandler {
	return &RateLimitHandler{limiter: limiter}
}

// SetLimitRequest is the payload for configuring an endpoint limit
type SetLimitRequest struct {
	PerMinute int `json:"per_minute" binding:"min=0"`
	PerHour   int `json:"per_hour" binding:"min=0"`
	PerDay    int `json:"per_day" binding:"min=0"`
}

// EndpointLimitDTO is one endpoint's limit and current usage
type EndpointLimitDTO struct {
	Endpoint string          `json:"endpoint"`
	Limit    ratelimit.Limit `json:"limit"`
	Usage    ratelimit.Usage `json:"usage"`
}

// SetLimit configures the limit for an endpoint, replacing any existing
// one and resetting its recorded history
func (h *RateLimitHandler) SetLimit(c *gin.Context) {
	endpoint := c.Param("endpoint")

	var req SetLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	limit := ratelimit.Limit{
		PerMinute: req.PerMinute,
		PerHour:   req.PerHour,
		PerDay:    req.PerDay,
	}
	h.limiter.SetLimit(endpoint, limit)

	if limit.IsZero() {
		SuccessResponse(c, gin.H{"endpoint": endpoint, "removed": true})
		return
	}
	SuccessResponse(c, EndpointLimitDTO{Endpoint: endpoint, Limit: limit})
}

// GetLimit returns one endpoint's limit and usage
func (h *RateLimitHandler) GetLimit(c *gin.Context) {
	endpoint := c.Param("endpoint")

	limit, ok := h.limiter.GetLimit(endpoint)
	if !ok {
		NotFoundResponse(c, "No rate limit configured for endpoint "+endpoint)
		return
	}
	usage, _ := h.limiter.GetUsage(endpoint)

	SuccessResponse(c, EndpointLimitDTO{Endpoint: endpoint, Limit: limit, Usage: usage})
}

// ListLimits returns every configured endpoint with limit and usage
func (h *RateLimitHandler) ListLimits(c *gin.Context) {
	endpoints := h.limiter.Endpoints()

	out := make([]EndpointLimitDTO, 0, len(endpoints))
	for _, endpoint := range endpoints {
		limit, ok := h.limiter.GetLimit(endpoint)
		if !ok {
			continue
		}
		usage, _ := h.limiter.GetUsage(endpoint)
		out = append(out, EndpointLimitDTO{Endpoint: endpoint, Limit: limit, Usage: usage})
	}
	SuccessResponse(c, out)
}

// RemoveLimit removes an endpoint's limit and history
func (h *RateLimitHandler) RemoveLimit(c *gin.Context) {
	endpoint := c.Param("endpoint")
	h.limiter.RemoveLimit(endpoint)
	SuccessResponse(c, gin.H{"endpoint": endpoint, "removed": true})
}
