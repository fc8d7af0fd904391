package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/providers"
)

func newTestManager(t *testing.T, ids ...string) (*Manager, map[string]*providers.StaticProvider) {
	t.Helper()

	m := NewManager()
	t.Cleanup(m.Shutdown)

	handles := make(map[string]*providers.StaticProvider, len(ids))
	for _, id := range ids {
		p := providers.NewStaticProvider(id, "response from "+id)
		m.RegisterProvider(id, p)
		handles[id] = p
	}
	return m, handles
}

func configureChain(t *testing.T, m *Manager, endpoint string, chain ...string) {
	t.Helper()

	require.NotEmpty(t, chain)
	err := m.Configure(EndpointConfig{
		Endpoint:  endpoint,
		PrimaryID: chain[0],
		BackupIDs: chain[1:],
	})
	require.NoError(t, err)
}

func TestConfigureRequiresRegisteredProviders(t *testing.T) {
	m, _ := newTestManager(t, "a")

	err := m.Configure(EndpointConfig{Endpoint: "agent1", PrimaryID: "a", BackupIDs: []string{"ghost"}})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))

	err = m.Configure(EndpointConfig{Endpoint: "agent1"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRegisterProviderIdempotent(t *testing.T) {
	m, handles := newTestManager(t, "a")
	configureChain(t, m, "agent1", "a")

	handles["a"].Fail(errors.NewProviderError("a", "down"))
	_, _, err := m.ExecuteWithFailover(context.Background(), "agent1", providers.Request{Prompt: "hi"})
	require.Error(t, err)

	record, ok := m.GetHealth("a")
	require.True(t, ok)
	require.Equal(t, 1, record.ConsecutiveFailures)

	// Re-registering the same id must not wipe accumulated health.
	m.RegisterProvider("a", handles["a"])

	record, ok = m.GetHealth("a")
	require.True(t, ok)
	assert.Equal(t, 1, record.ConsecutiveFailures)
	assert.Equal(t, StatusUnhealthy, record.Status)
}

func TestExecuteWithFailoverWalksChain(t *testing.T) {
	m, handles := newTestManager(t, "a", "b", "c")
	configureChain(t, m, "agent1", "a", "b", "c")

	handles["a"].Fail(errors.NewProviderError("a", "unavailable"))
	handles["b"].Fail(errors.NewProviderError("b", "unavailable"))

	resp, providerID, err := m.ExecuteWithFailover(context.Background(), "agent1", providers.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "c", providerID)
	assert.Equal(t, "response from c", resp.Text)

	recordA, _ := m.GetHealth("a")
	recordB, _ := m.GetHealth("b")
	recordC, _ := m.GetHealth("c")
	assert.Equal(t, 1, recordA.ConsecutiveFailures)
	assert.Equal(t, 1, recordB.ConsecutiveFailures)
	assert.Equal(t, StatusUnhealthy, recordA.Status)
	assert.Equal(t, StatusUnhealthy, recordB.Status)
	assert.Equal(t, StatusHealthy, recordC.Status)
	assert.Equal(t, 0, recordC.ConsecutiveFailures)

	active, ok := m.ActiveProvider("agent1")
	require.True(t, ok)
	assert.Equal(t, "c", active)
}

func TestExecuteWithFailoverExhaustion(t *testing.T) {
	m, handles := newTestManager(t, "a", "b", "c")
	configureChain(t, m, "agent1", "a", "b", "c")

	for _, p := range handles {
		p.Fail(errors.NewProviderError(p.ID(), "down"))
	}

	_, _, err := m.ExecuteWithFailover(context.Background(), "agent1", providers.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeExhausted))
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "c")

	// The active pointer is not left dangling on a failed provider swap.
	active, ok := m.ActiveProvider("agent1")
	require.True(t, ok)
	assert.Equal(t, "a", active)
}

func TestExecuteWithFailoverUnconfiguredEndpoint(t *testing.T) {
	m, _ := newTestManager(t, "a")

	_, _, err := m.ExecuteWithFailover(context.Background(), "ghost", providers.Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfiguration))
}

func TestExecuteSuccessResetsFailureCount(t *testing.T) {
	m, handles := newTestManager(t, "a")
	configureChain(t, m, "agent1", "a")

	handles["a"].Fail(errors.NewProviderError("a", "down"))
	_, _, _ = m.ExecuteWithFailover(context.Background(), "agent1", providers.Request{Prompt: "hi"})
	_, _, _ = m.ExecuteWithFailover(context.Background(), "agent1", providers.Request{Prompt: "hi"})

	record, _ := m.GetHealth("a")
	require.Equal(t, 2, record.ConsecutiveFailures)

	handles["a"].Fail(nil)
	_, _, err := m.ExecuteWithFailover(context.Background(), "agent1", providers.Request{Prompt: "hi"})
	require.NoError(t, err)

	record, _ = m.GetHealth("a")
	assert.Equal(t, 0, record.ConsecutiveFailures)
	assert.Equal(t, StatusHealthy, record.Status)
	assert.Empty(t, record.LastError)
}

func TestProbeMarksOutcome(t *testing.T) {
	m, handles := newTestManager(t, "a")

	assert.True(t, m.Probe(context.Background(), "a", time.Second))
	record, _ := m.GetHealth("a")
	assert.Equal(t, StatusHealthy, record.Status)

	handles["a"].Fail(errors.NewProviderError("a", "down"))
	assert.False(t, m.Probe(context.Background(), "a", time.Second))
	record, _ = m.GetHealth("a")
	assert.Equal(t, StatusUnhealthy, record.Status)
	assert.Equal(t, 1, record.ConsecutiveFailures)
	assert.Contains(t, record.LastError, "down")
}

func TestProbeUnknownProvider(t *testing.T) {
	m, _ := newTestManager(t)
	assert.False(t, m.Probe(context.Background(), "ghost", time.Second))
}

func TestSwitchProviderRequiresMembershipAndProbe(t *testing.T) {
	m, handles := newTestManager(t, "a", "b")
	configureChain(t, m, "agent1", "a", "b")

	// Not in the chain.
	assert.False(t, m.SwitchProvider("agent1", "ghost"))

	// In the chain but failing its probe.
	handles["b"].Fail(errors.NewProviderError("b", "down"))
	assert.False(t, m.SwitchProvider("agent1", "b"))
	active, _ := m.ActiveProvider("agent1")
	assert.Equal(t, "a", active)

	// Healthy again; the switch commits.
	handles["b"].Fail(nil)
	assert.True(t, m.SwitchProvider("agent1", "b"))
	active, _ = m.ActiveProvider("agent1")
	assert.Equal(t, "b", active)
}

func TestConfigureResetsActiveWhenProviderLeavesChain(t *testing.T) {
	m, _ := newTestManager(t, "a", "b", "c")
	configureChain(t, m, "agent1", "a", "b")

	require.True(t, m.SwitchProvider("agent1", "b"))

	// b drops out of the chain; the pointer falls back to the primary.
	configureChain(t, m, "agent1", "a", "c")
	active, _ := m.ActiveProvider("agent1")
	assert.Equal(t, "a", active)

	// The pointer survives a reconfigure that keeps the active provider.
	require.True(t, m.SwitchProvider("agent1", "c"))
	configureChain(t, m, "agent1", "a", "c")
	active, _ = m.ActiveProvider("agent1")
	assert.Equal(t, "c", active)
}

func TestGetEndpointStatusSnapshot(t *testing.T) {
	m, _ := newTestManager(t, "a", "b")
	configureChain(t, m, "agent1", "a", "b")

	status, ok := m.GetEndpointStatus("agent1")
	require.True(t, ok)
	assert.Equal(t, "agent1", status.Endpoint)
	assert.Equal(t, "a", status.ActiveProvider)
	assert.Len(t, status.Health, 2)
	assert.False(t, status.ProberRunning)

	_, ok = m.GetEndpointStatus("ghost")
	assert.False(t, ok)
}

func TestRemoveEndpointStopsProber(t *testing.T) {
	m, _ := newTestManager(t, "a")

	err := m.Configure(EndpointConfig{
		Endpoint:            "agent1",
		PrimaryID:           "a",
		HealthCheckInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	status, _ := m.GetEndpointStatus("agent1")
	require.True(t, status.ProberRunning)

	m.RemoveEndpoint("agent1")
	_, ok := m.GetEndpointStatus("agent1")
	assert.False(t, ok)
}
