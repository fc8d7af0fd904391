package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bulwarkhq/bulwark/internal/failover"
)

// FailoverHandler exposes provider and database failover administration
type FailoverHandler struct {
	manager   *failover.Manager
	databases *failover.DatabaseManager
}

// NewFailoverHandler creates a failover handler
func NewFailoverHandler(manager *failover.Manager, databases *failover.DatabaseManager) *FailoverHandler {
	return &FailoverHandler{manager: manager, databases: databases}
}

// ConfigureEndpointRequest is the payload for configuring an endpoint's
// failover chain. Durations are given in seconds.
type ConfigureEndpointRequest struct {
	PrimaryID                  string   `json:"primary_id" binding:"required"`
	BackupIDs                  []string `json:"backup_ids"`
	HealthCheckIntervalSeconds int      `json:"health_check_interval_seconds" binding:"min=0"`
	HealthCheckTimeoutSeconds  int      `json:"health_check_timeout_seconds" binding:"min=0"`
	MaxConsecutiveFailures     int      `json:"max_consecutive_failures" binding:"min=0"`
	AutoFailoverEnabled        bool     `json:"auto_failover_enabled"`
	CircuitBreakerEnabled      bool     `json:"circuit_breaker_enabled"`
}

// SwitchProviderRequest is the payload for a manual provider switch
type SwitchProviderRequest struct {
	ProviderID string `json:"provider_id" binding:"required"`
}

// ConfigureEndpoint replaces an endpoint's failover configuration
func (h *FailoverHandler) ConfigureEndpoint(c *gin.Context) {
	endpoint := c.Param("endpoint")

	var req ConfigureEndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	cfg := failover.EndpointConfig{
		Endpoint:               endpoint,
		PrimaryID:              req.PrimaryID,
		BackupIDs:              req.BackupIDs,
		HealthCheckInterval:    time.Duration(req.HealthCheckIntervalSeconds) * time.Second,
		HealthCheckTimeout:     time.Duration(req.HealthCheckTimeoutSeconds) * time.Second,
		MaxConsecutiveFailures: req.MaxConsecutiveFailures,
		AutoFailoverEnabled:    req.AutoFailoverEnabled,
		CircuitBreakerEnabled:  req.CircuitBreakerEnabled,
	}
	if err := h.manager.Configure(cfg); err != nil {
		ErrorResponseFromError(c, err)
		return
	}

	status, _ := h.manager.GetEndpointStatus(endpoint)
	SuccessResponse(c, status)
}

// GetEndpoint returns an endpoint's configuration, active provider, and
// health snapshot
func (h *FailoverHandler) GetEndpoint(c *gin.Context) {
	endpoint := c.Param("endpoint")

	status, ok := h.manager.GetEndpointStatus(endpoint)
	if !ok {
		NotFoundResponse(c, "Endpoint "+endpoint+" is not configured")
		return
	}
	SuccessResponse(c, status)
}

// ListEndpoints returns the status of every configured endpoint
func (h *FailoverHandler) ListEndpoints(c *gin.Context) {
	endpoints := h.manager.Endpoints()

	out := make([]failover.EndpointStatus, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if status, ok := h.manager.GetEndpointStatus(endpoint); ok {
			out = append(out, status)
		}
	}
	SuccessResponse(c, out)
}

// RemoveEndpoint removes an endpoint's configuration and stops its prober
func (h *FailoverHandler) RemoveEndpoint(c *gin.Context) {
	endpoint := c.Param("endpoint")
	h.manager.RemoveEndpoint(endpoint)
	SuccessResponse(c, gin.H{"endpoint": endpoint, "removed": true})
}

// GetProviderHealth returns the health records of every registered provider
func (h *FailoverHandler) GetProviderHealth(c *gin.Context) {
	SuccessResponse(c, h.manager.GetAllHealth())
}

// SwitchProvider manually switches the active provider. The switch only
// commits when the target belongs to the chain and passes a fresh probe.
func (h *FailoverHandler) SwitchProvider(c *gin.Context) {
	endpoint := c.Param("endpoint")

	var req SwitchProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequestResponse(c, "Invalid request body: "+err.Error())
		return
	}

	if !h.manager.SwitchProvider(endpoint, req.ProviderID) {
		ConflictResponse(c, "Switch rejected: provider is not in the chain or failed its probe")
		return
	}
	SuccessResponse(c, gin.H{
		"endpoint":        endpoint,
		"active_provider": req.ProviderID,
	})
}

// ProbeProvider runs an on-demand health probe against one provider
func (h *FailoverHandler) ProbeProvider(c *gin.Context) {
	providerID := c.Param("id")

	healthy := h.manager.Probe(c.Request.Context(), providerID, 0)
	record, _ := h.manager.GetHealth(providerID)
	SuccessResponse(c, gin.H{
		"provider_id": providerID,
		"healthy":     healthy,
		"health":      record,
	})
}

// GetDatabaseStatus returns an agent's database failover state
func (h *FailoverHandler) GetDatabaseStatus(c *gin.Context) {
	agentID := c.Param("agent")

	view, ok := h.databases.Status(agentID)
	if !ok {
		NotFoundResponse(c, "Agent "+agentID+" has no registered database endpoints")
		return
	}
	SuccessResponse(c, view)
}

// ListDatabaseAgents returns the database failover state of every agent
func (h *FailoverHandler) ListDatabaseAgents(c *gin.Context) {
	agents := h.databases.Agents()

	out := make([]failover.DatabaseAgentView, 0, len(agents))
	for _, agentID := range agents {
		if view, ok := h.databases.Status(agentID); ok {
			out = append(out, view)
		}
	}
	SuccessResponse(c, out)
}

// RecordDatabaseFailure marks a database endpoint failed and promotes
// the next reachable one
func (h *FailoverHandler) RecordDatabaseFailure(c *gin.Context) {
	agentID := c.Param("agent")
	endpointID := c.Query("endpoint_id")

	promoted, err := h.databases.RecordFailure(c.Request.Context(), agentID, endpointID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	view, _ := h.databases.Status(agentID)
	SuccessResponse(c, gin.H{
		"promoted_to": promoted,
		"status":      view,
	})
}

// ResetDatabaseEndpoint re-probes a failed database endpoint and, for
// the primary, switches back to it
func (h *FailoverHandler) ResetDatabaseEndpoint(c *gin.Context) {
	agentID := c.Param("agent")
	endpointID := c.Param("id")

	restored, err := h.databases.ResetEndpoint(c.Request.Context(), agentID, endpointID)
	if err != nil {
		ErrorResponseFromError(c, err)
		return
	}
	view, _ := h.databases.Status(agentID)
	SuccessResponse(c, gin.H{
		"restored": restored,
		"status":   view,
	})
}
