package failover

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/metrics"
	"github.com/bulwarkhq/bulwark/pkg/resources"
)

// DatabaseStatus is the derived failover state of an agent's database
// endpoints. It is computed from the active pointer on every read and
// never stored, so it cannot drift.
type DatabaseStatus string

const (
	DatabaseStatusPrimary  DatabaseStatus = "primary"
	DatabaseStatusFailover DatabaseStatus = "failover"
	DatabaseStatusFailed   DatabaseStatus = "failed"
)

// DatabaseEndpoint is one connection endpoint in an agent's ordered
// chain. Lower priority values are tried first.
type DatabaseEndpoint struct {
	ID        string
	Resource  resources.Resource
	Priority  int
	IsPrimary bool
}

// DatabaseEndpointView is a caller-safe snapshot of one endpoint.
type DatabaseEndpointView struct {
	ID        string `json:"id"`
	Priority  int    `json:"priority"`
	IsPrimary bool   `json:"is_primary"`
	Usable    bool   `json:"usable"`
	Current   bool   `json:"current"`
}

// DatabaseAgentView is a caller-safe snapshot of an agent's chain.
type DatabaseAgentView struct {
	AgentID   string                 `json:"agent_id"`
	Status    DatabaseStatus         `json:"status"`
	CurrentID string                 `json:"current_id,omitempty"`
	Endpoints []DatabaseEndpointView `json:"endpoints"`
}

type dbEndpointState struct {
	endpoint DatabaseEndpoint
	usable   bool
}

type dbAgentState struct {
	endpoints []*dbEndpointState // ascending priority
	currentID string
}

// DatabaseManager applies the provider failover shape to database
// connection endpoints.
type DatabaseManager struct {
	mu           sync.Mutex
	agents       map[string]*dbAgentState
	probeTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.Metrics
}

// DatabaseOption configures a DatabaseManager.
type DatabaseOption func(*DatabaseManager)

// WithDatabaseMetrics attaches a metrics sink.
func WithDatabaseMetrics(m *metrics.Metrics) DatabaseOption {
	return func(dm *DatabaseManager) {
		dm.metrics = m
	}
}

// WithProbeTimeout overrides the connectivity-check timeout.
func WithProbeTimeout(d time.Duration) DatabaseOption {
	return func(dm *DatabaseManager) {
		dm.probeTimeout = d
	}
}

// NewDatabaseManager creates a database failover manager.
func NewDatabaseManager(opts ...DatabaseOption) *DatabaseManager {
	dm := &DatabaseManager{
		agents:       make(map[string]*dbAgentState),
		probeTimeout: defaultProbeTimeout,
		logger:       logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(dm)
	}
	return dm
}

// RegisterEndpoints replaces the agent's chain. Exactly one endpoint
// must be flagged primary; the chain starts with every endpoint usable
// and the primary active.
func (dm *DatabaseManager) RegisterEndpoints(agentID string, endpoints []DatabaseEndpoint) error {
	if agentID == "" {
		return errors.NewValidationError("agent id is required")
	}
	if len(endpoints) == 0 {
		return errors.NewValidationError("at least one endpoint is required")
	}

	primaryCount := 0
	primaryID := ""
	for _, ep := range endpoints {
		if ep.IsPrimary {
			primaryCount++
			primaryID = ep.ID
		}
	}
	if primaryCount != 1 {
		return errors.NewValidationError("exactly one endpoint must be flagged primary")
	}

	states := make([]*dbEndpointState, 0, len(endpoints))
	for _, ep := range endpoints {
		states = append(states, &dbEndpointState{endpoint: ep, usable: true})
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].endpoint.Priority < states[j].endpoint.Priority
	})

	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.agents[agentID] = &dbAgentState{
		endpoints: states,
		currentID: primaryID,
	}

	dm.logger.Info("Database endpoints registered",
		"agent_id", agentID,
		"endpoints", len(endpoints),
		"primary", primaryID,
	)
	return nil
}

// RecordFailure marks the given endpoint (or the current one when
// endpointID is empty) as failed and promotes the next usable endpoint
// by ascending priority. Connectivity is verified before the promotion
// commits; an agent with no reachable endpoint is left with no current
// pointer, which reads as failed.
func (dm *DatabaseManager) RecordFailure(ctx context.Context, agentID, endpointID string) (string, error) {
	dm.mu.Lock()
	agent, ok := dm.agents[agentID]
	if !ok {
		dm.mu.Unlock()
		return "", errors.NewNotFoundError("agent " + agentID)
	}

	if endpointID == "" {
		endpointID = agent.currentID
	}

	failed := agent.findLocked(endpointID)
	if failed == nil {
		dm.mu.Unlock()
		return "", errors.NewNotFoundError("endpoint " + endpointID)
	}
	failed.usable = false

	wasCurrent := agent.currentID == endpointID
	candidates := make([]*dbEndpointState, 0, len(agent.endpoints))
	if wasCurrent {
		agent.currentID = ""
		for _, state := range agent.endpoints {
			if state.usable {
				candidates = append(candidates, state)
			}
		}
	}
	dm.mu.Unlock()

	dm.logger.Warn("Database endpoint failure recorded",
		"agent_id", agentID,
		"endpoint", endpointID,
	)

	if !wasCurrent {
		return "", nil
	}

	for _, state := range candidates {
		if dm.verify(ctx, state.endpoint.Resource) {
			dm.mu.Lock()
			agent.currentID = state.endpoint.ID
			dm.mu.Unlock()

			if dm.metrics != nil {
				dm.metrics.FailoverSwitches.WithLabelValues(agentID, "database").Inc()
			}
			dm.logger.Info("Database failover committed",
				"agent_id", agentID,
				"from", endpointID,
				"to", state.endpoint.ID,
			)
			return state.endpoint.ID, nil
		}

		dm.mu.Lock()
		state.usable = false
		dm.mu.Unlock()
	}

	return "", errors.NewExhaustedError(agentID, endpointIDs(candidates), nil)
}

// ResetEndpoint re-probes a failed endpoint and restores it to the
// usable pool; when the endpoint is the primary, the active pointer
// switches back to it.
func (dm *DatabaseManager) ResetEndpoint(ctx context.Context, agentID, endpointID string) (bool, error) {
	dm.mu.Lock()
	agent, ok := dm.agents[agentID]
	if !ok {
		dm.mu.Unlock()
		return false, errors.NewNotFoundError("agent " + agentID)
	}
	state := agent.findLocked(endpointID)
	if state == nil {
		dm.mu.Unlock()
		return false, errors.NewNotFoundError("endpoint " + endpointID)
	}
	dm.mu.Unlock()

	if !dm.verify(ctx, state.endpoint.Resource) {
		return false, nil
	}

	dm.mu.Lock()
	state.usable = true
	if state.endpoint.IsPrimary {
		agent.currentID = state.endpoint.ID
	} else if agent.currentID == "" {
		agent.currentID = state.endpoint.ID
	}
	dm.mu.Unlock()

	dm.logger.Info("Database endpoint reset",
		"agent_id", agentID,
		"endpoint", endpointID,
		"primary", state.endpoint.IsPrimary,
	)
	return true, nil
}

// Current returns the active endpoint id for the agent.
func (dm *DatabaseManager) Current(agentID string) (string, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	agent, ok := dm.agents[agentID]
	if !ok || agent.currentID == "" {
		return "", false
	}
	return agent.currentID, true
}

// Status derives the agent's failover state from the active pointer.
func (dm *DatabaseManager) Status(agentID string) (DatabaseAgentView, bool) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	agent, ok := dm.agents[agentID]
	if !ok {
		return DatabaseAgentView{}, false
	}

	view := DatabaseAgentView{
		AgentID:   agentID,
		CurrentID: agent.currentID,
		Status:    DatabaseStatusFailed,
	}
	for _, state := range agent.endpoints {
		view.Endpoints = append(view.Endpoints, DatabaseEndpointView{
			ID:        state.endpoint.ID,
			Priority:  state.endpoint.Priority,
			IsPrimary: state.endpoint.IsPrimary,
			Usable:    state.usable,
			Current:   state.endpoint.ID == agent.currentID,
		})
		if state.endpoint.ID == agent.currentID {
			if state.endpoint.IsPrimary {
				view.Status = DatabaseStatusPrimary
			} else {
				view.Status = DatabaseStatusFailover
			}
		}
	}
	return view, true
}

// Agents lists every registered agent id.
func (dm *DatabaseManager) Agents() []string {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	out := make([]string, 0, len(dm.agents))
	for id := range dm.agents {
		out = append(out, id)
	}
	return out
}

// verify checks endpoint connectivity, connecting first when needed.
func (dm *DatabaseManager) verify(ctx context.Context, res resources.Resource) bool {
	probeCtx, cancel := context.WithTimeout(ctx, dm.probeTimeout)
	defer cancel()

	if err := res.Ping(probeCtx); err == nil {
		return true
	}
	if err := res.Connect(probeCtx); err != nil {
		return false
	}
	return res.Ping(probeCtx) == nil
}

func (a *dbAgentState) findLocked(endpointID string) *dbEndpointState {
	for _, state := range a.endpoints {
		if state.endpoint.ID == endpointID {
			return state
		}
	}
	return nil
}

func endpointIDs(states []*dbEndpointState) []string {
	out := make([]string, 0, len(states))
	for _, state := range states {
		out = append(out, state.endpoint.ID)
	}
	return out
}
