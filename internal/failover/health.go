package failover

import "time"

// Status is the health state of a provider handle.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusChecking  Status = "checking"
)

// HealthRecord tracks the observed health of one provider handle. Status
// changes only on a completed probe or call outcome; any success resets
// ConsecutiveFailures to zero.
type HealthRecord struct {
	ProviderID          string        `json:"provider_id"`
	Status              Status        `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitempty"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitempty"`
	LastLatency         time.Duration `json:"last_latency,omitempty"`
	LastError           string        `json:"last_error,omitempty"`
}

// EndpointConfig is the failover configuration for one endpoint. It is
// replaced wholesale on reconfigure, never merged.
type EndpointConfig struct {
	Endpoint               string        `json:"endpoint"`
	PrimaryID              string        `json:"primary_id"`
	BackupIDs              []string      `json:"backup_ids"`
	HealthCheckInterval    time.Duration `json:"health_check_interval"`
	HealthCheckTimeout     time.Duration `json:"health_check_timeout"`
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	AutoFailoverEnabled    bool          `json:"auto_failover_enabled"`
	// CircuitBreakerEnabled guards each provider call with a per-provider
	// circuit breaker; an open breaker counts as a provider failure and
	// advances the chain.
	CircuitBreakerEnabled bool `json:"circuit_breaker_enabled"`
}

// Chain returns the prioritized provider order, primary first.
func (c EndpointConfig) Chain() []string {
	chain := make([]string, 0, len(c.BackupIDs)+1)
	chain = append(chain, c.PrimaryID)
	chain = append(chain, c.BackupIDs...)
	return chain
}

// EndpointStatus is a point-in-time snapshot of one endpoint's failover
// state, safe for callers to hold.
type EndpointStatus struct {
	Endpoint       string         `json:"endpoint"`
	Config         EndpointConfig `json:"config"`
	ActiveProvider string         `json:"active_provider"`
	Health         []HealthRecord `json:"health"`
	ProberRunning  bool           `json:"prober_running"`
}
