package api

import (
	"github.com/gin-gonic/gin"

	"github.com/bulwarkhq/bulwark/internal/dlq"
	"github.com/bulwarkhq/bulwark/internal/failover"
	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/providers"
	"github.com/bulwarkhq/bulwark/pkg/ratelimit"
)

// InvokeHandler drives the full resilience path for one call: admission
// check first, then the failover chain, and on total exhaustion a
// dead-letter capture.
type InvokeHandler struct {
	limiter     *ratelimit.Limiter
	manager     *failover.Manager
	deadLetters *dlq.Queue
}

// NewInvokeHandler creates an invoke handler
func NewInvokeHandler(limiter *ratelimit.Limiter, manager *failover.Manager, deadLetters *dlq.Queue) *InvokeHandler {
	return &InvokeHandler{limiter: limiter, manager: manager, deadLetters: deadLetters}
}

// InvokeRequest is the payload for invoking an endpoint
type InvokeRequest struct {
	Prompt       string  `json:"prompt" binding:"required"`
	SystemPrompt string  `json:"system_prompt"`
	Model        string  `json:"model"`
	MaxTokens    int     `json:"max_tokens" binding:"min=0"`
	Temperature  float64 `json:"temperature"`
}

// InvokeResponse carries the provider result and which provider served it
type InvokeResponse struct {
	ProviderID string              `json:"provider_id"`
	Response   *providers.Response `json:"response"`
}

// Invoke executes a request against an endpoint's failover chain
func (h *InvokeHandler) Invoke(c *gin.Context) {
	endpoint := c.Param("endpoint")

	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	if allowed, reason := h.limiter.CheckAndRecord(endpoint); !allowed {
		TooManyRequestsResponse(c, reason)
		return
	}

	providerReq := providers.Request{
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		Temperature:  req.Temperature,
	}

	resp, providerID, err := h.manager.ExecuteWithFailover(c.Request.Context(), endpoint, providerReq)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeExhausted) {
			entry := h.deadLetters.Capture(endpoint, dlq.Request{Query: req.Prompt}, err)
			if appErr, ok := err.(*errors.AppError); ok {
				err = appErr.WithDetail("dlq_entry_id", entry.ID)
			}
		}
		ErrorResponseFromError(c, err)
		return
	}

	SuccessResponse(c, InvokeResponse{ProviderID: providerID, Response: resp})
}
