// Package failover routes execution across prioritized chains of
// interchangeable upstreams, demoting unhealthy members on observed
// failures and promoting them back on recovery. One manager handles
// model providers, a sibling handles database resources; both share the
// same health-record state machine.
package failover

import (
	"context"
	"sync"
	"time"

	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/metrics"
	"github.com/bulwarkhq/bulwark/pkg/providers"
	"github.com/bulwarkhq/bulwark/pkg/resilience"
)

const defaultProbeTimeout = 5 * time.Second

// Manager is the provider failover manager. All health, chain and
// active-pointer mutations are serialized by its lock; the underlying
// provider calls run outside it.
type Manager struct {
	mu        sync.Mutex
	providers map[string]providers.Provider
	health    map[string]*HealthRecord
	configs   map[string]EndpointConfig
	active    map[string]string
	probers   map[string]*prober
	breakers  map[string]*resilience.CircuitBreaker

	retryPolicy *resilience.Policy
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

// WithRetryPolicy wraps each chain candidate with a retry executor
// before the chain advances past it.
func WithRetryPolicy(policy resilience.Policy) Option {
	return func(mgr *Manager) {
		mgr.retryPolicy = &policy
	}
}

// NewManager creates a provider failover manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		providers: make(map[string]providers.Provider),
		health:    make(map[string]*HealthRecord),
		configs:   make(map[string]EndpointConfig),
		active:    make(map[string]string),
		probers:   make(map[string]*prober),
		breakers:  make(map[string]*resilience.CircuitBreaker),
		logger:    logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterProvider adds a provider handle. Registration is idempotent:
// an existing health record, including its accumulated failure count, is
// never reset.
func (m *Manager) RegisterProvider(id string, p providers.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[id] = p
	if _, exists := m.health[id]; !exists {
		m.health[id] = &HealthRecord{ProviderID: id, Status: StatusUnknown}
	}
}

// RemoveProvider drops a provider handle and its health record.
func (m *Manager) RemoveProvider(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.providers, id)
	delete(m.health, id)
	delete(m.breakers, id)
}

// Configure replaces the endpoint's failover configuration wholesale and
// starts the background prober when health checks are enabled. Repeat
// calls never spawn a duplicate prober.
func (m *Manager) Configure(cfg EndpointConfig) error {
	if cfg.Endpoint == "" {
		return errors.NewValidationError("endpoint is required")
	}
	if cfg.PrimaryID == "" {
		return errors.NewValidationError("primary provider is required")
	}
	if cfg.HealthCheckTimeout <= 0 {
		cfg.HealthCheckTimeout = defaultProbeTimeout
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range cfg.Chain() {
		if _, ok := m.providers[id]; !ok {
			return errors.NewConfigurationError("provider " + id + " is not registered")
		}
	}

	m.configs[cfg.Endpoint] = cfg

	// Reconfiguring resets the active pointer when the previous active
	// provider is no longer part of the chain.
	if active, ok := m.active[cfg.Endpoint]; !ok || !contains(cfg.Chain(), active) {
		m.active[cfg.Endpoint] = cfg.PrimaryID
	}

	if cfg.CircuitBreakerEnabled {
		for _, id := range cfg.Chain() {
			if _, ok := m.breakers[id]; !ok {
				m.breakers[id] = resilience.NewCircuitBreaker(resilience.BreakerConfig{
					Name:    id,
					Timeout: cfg.HealthCheckInterval,
				})
			}
		}
	}

	if cfg.HealthCheckInterval > 0 {
		if _, running := m.probers[cfg.Endpoint]; !running {
			p := newProber(m, cfg.Endpoint, cfg.HealthCheckInterval)
			m.probers[cfg.Endpoint] = p
			go p.run()
		}
	}

	m.logger.Info("Failover endpoint configured",
		"endpoint", cfg.Endpoint,
		"primary", cfg.PrimaryID,
		"backups", len(cfg.BackupIDs),
		"auto_failover", cfg.AutoFailoverEnabled,
	)
	return nil
}

// RemoveEndpoint drops the endpoint configuration and stops its prober.
func (m *Manager) RemoveEndpoint(endpoint string) {
	m.mu.Lock()
	p := m.probers[endpoint]
	delete(m.probers, endpoint)
	delete(m.configs, endpoint)
	delete(m.active, endpoint)
	m.mu.Unlock()

	if p != nil {
		p.stop()
	}
}

// Shutdown stops every background prober and waits for them to exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	probers := make([]*prober, 0, len(m.probers))
	for _, p := range m.probers {
		probers = append(probers, p)
	}
	m.probers = make(map[string]*prober)
	m.mu.Unlock()

	for _, p := range probers {
		p.stop()
	}
}

// Probe issues a minimal representative call against the provider and
// records the outcome. It never returns an error; the result is the
// provider's current usability.
func (m *Manager) Probe(ctx context.Context, providerID string, timeout time.Duration) bool {
	m.mu.Lock()
	p, ok := m.providers[providerID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if record, ok := m.health[providerID]; ok {
		record.Status = StatusChecking
	}
	m.mu.Unlock()

	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := p.Probe(probeCtx)
	elapsed := time.Since(start)

	m.mu.Lock()
	if err != nil {
		m.markFailureLocked(providerID, elapsed, err)
	} else {
		m.markSuccessLocked(providerID, elapsed)
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordProbe(providerID, err == nil, elapsed)
	}
	return err == nil
}

// ExecuteWithFailover walks the endpoint's chain in priority order and
// returns the first successful response along with the id of the
// provider that served it. Every failure demotes that provider before
// the next one is tried; exhausting the chain yields an aggregate error
// naming every provider tried.
func (m *Manager) ExecuteWithFailover(ctx context.Context, endpoint string, req providers.Request) (*providers.Response, string, error) {
	m.mu.Lock()
	cfg, ok := m.configs[endpoint]
	if !ok {
		m.mu.Unlock()
		return nil, "", errors.NewConfigurationError("no failover configuration for endpoint " + endpoint)
	}
	chain := cfg.Chain()
	m.mu.Unlock()

	if len(chain) == 0 {
		return nil, "", errors.NewConfigurationError("empty provider chain for endpoint " + endpoint)
	}

	var tried []string
	var lastErr error

	for _, id := range chain {
		m.mu.Lock()
		p, registered := m.providers[id]
		breaker := m.breakers[id]
		if !cfg.CircuitBreakerEnabled {
			breaker = nil
		}
		m.mu.Unlock()

		if !registered {
			tried = append(tried, id)
			lastErr = errors.NewConfigurationError("provider " + id + " is not registered")
			continue
		}

		start := time.Now()
		resp, err := m.callProvider(ctx, p, breaker, req)
		elapsed := time.Since(start)

		tried = append(tried, id)

		if err == nil {
			m.mu.Lock()
			m.markSuccessLocked(id, elapsed)
			if m.active[endpoint] != id {
				m.active[endpoint] = id
				m.recordSwitch(endpoint, "execution")
			}
			m.mu.Unlock()

			if m.metrics != nil {
				m.metrics.FailoverExecutions.WithLabelValues(endpoint, "success").Inc()
			}
			return resp, id, nil
		}

		lastErr = err
		m.mu.Lock()
		m.markFailureLocked(id, elapsed, err)
		m.mu.Unlock()

		m.logger.Warn("Provider failed, advancing chain",
			"endpoint", endpoint,
			"provider", id,
			"error", err.Error(),
		)
	}

	if m.metrics != nil {
		m.metrics.FailoverExecutions.WithLabelValues(endpoint, "exhausted").Inc()
	}
	return nil, "", errors.NewExhaustedError(endpoint, tried, lastErr)
}

// callProvider runs one chain candidate outside the manager lock,
// applying the optional retry executor and circuit breaker.
func (m *Manager) callProvider(ctx context.Context, p providers.Provider, breaker *resilience.CircuitBreaker, req providers.Request) (*providers.Response, error) {
	call := func(ctx context.Context) (*providers.Response, error) {
		if breaker == nil {
			return p.Execute(ctx, req)
		}
		result, err := breaker.Execute(ctx, func(ctx context.Context) (interface{}, error) {
			return p.Execute(ctx, req)
		})
		if err != nil {
			return nil, err
		}
		return result.(*providers.Response), nil
	}

	if m.retryPolicy == nil || !m.retryPolicy.Enabled {
		return call(ctx)
	}

	retrier := resilience.NewRetrier(*m.retryPolicy)
	var resp *providers.Response
	err := retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = call(ctx)
		if m.metrics != nil {
			outcome := "success"
			if callErr != nil {
				outcome = "failure"
			}
			m.metrics.RetryAttempts.WithLabelValues(outcome).Inc()
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// SwitchProvider activates the given provider for the endpoint. It
// requires chain membership and a fresh healthy probe; otherwise it
// returns false and the active pointer is untouched.
func (m *Manager) SwitchProvider(endpoint, providerID string) bool {
	m.mu.Lock()
	cfg, ok := m.configs[endpoint]
	if !ok || !contains(cfg.Chain(), providerID) {
		m.mu.Unlock()
		return false
	}
	timeout := cfg.HealthCheckTimeout
	m.mu.Unlock()

	if !m.Probe(context.Background(), providerID, timeout) {
		return false
	}

	m.mu.Lock()
	m.active[endpoint] = providerID
	m.recordSwitch(endpoint, "manual")
	m.mu.Unlock()

	m.logger.Info("Provider switched",
		"endpoint", endpoint,
		"provider", providerID,
	)
	return true
}

// ActiveProvider returns the currently preferred provider for the
// endpoint.
func (m *Manager) ActiveProvider(endpoint string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.active[endpoint]
	return id, ok
}

// GetHealth returns a copy of the provider's health record.
func (m *Manager) GetHealth(providerID string) (HealthRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.health[providerID]
	if !ok {
		return HealthRecord{}, false
	}
	return *record, true
}

// GetAllHealth returns copies of every health record.
func (m *Manager) GetAllHealth() map[string]HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]HealthRecord, len(m.health))
	for id, record := range m.health {
		out[id] = *record
	}
	return out
}

// GetEndpointStatus returns a snapshot of the endpoint's configuration,
// active pointer and per-provider health.
func (m *Manager) GetEndpointStatus(endpoint string) (EndpointStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[endpoint]
	if !ok {
		return EndpointStatus{}, false
	}

	status := EndpointStatus{
		Endpoint:       endpoint,
		Config:         cfg,
		ActiveProvider: m.active[endpoint],
	}
	_, status.ProberRunning = m.probers[endpoint]
	for _, id := range cfg.Chain() {
		if record, ok := m.health[id]; ok {
			status.Health = append(status.Health, *record)
		}
	}
	return status, true
}

// Endpoints lists every configured endpoint.
func (m *Manager) Endpoints() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.configs))
	for endpoint := range m.configs {
		out = append(out, endpoint)
	}
	return out
}

func (m *Manager) markSuccessLocked(providerID string, latency time.Duration) {
	record, ok := m.health[providerID]
	if !ok {
		return
	}
	record.Status = StatusHealthy
	record.ConsecutiveFailures = 0
	record.LastSuccessAt = time.Now()
	record.LastLatency = latency
	record.LastError = ""
}

func (m *Manager) markFailureLocked(providerID string, latency time.Duration, err error) {
	record, ok := m.health[providerID]
	if !ok {
		return
	}
	record.Status = StatusUnhealthy
	record.ConsecutiveFailures++
	record.LastFailureAt = time.Now()
	record.LastLatency = latency
	record.LastError = err.Error()
}

func (m *Manager) recordSwitch(endpoint, trigger string) {
	if m.metrics != nil {
		m.metrics.FailoverSwitches.WithLabelValues(endpoint, trigger).Inc()
	}
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
