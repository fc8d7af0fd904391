package failover

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/providers"
)

func waitForActive(t *testing.T, m *Manager, endpoint, want string) {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		if active, ok := m.ActiveProvider(endpoint); ok && active == want {
			return
		}
		select {
		case <-deadline:
			active, _ := m.ActiveProvider(endpoint)
			t.Fatalf("active provider never became %q, still %q", want, active)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestProberAutomaticFailover(t *testing.T) {
	m := NewManager()
	defer m.Shutdown()

	openai := providers.NewStaticProvider("openai", "from openai")
	anthropic := providers.NewStaticProvider("anthropic", "from anthropic")
	m.RegisterProvider("openai", openai)
	m.RegisterProvider("anthropic", anthropic)

	err := m.Configure(EndpointConfig{
		Endpoint:               "agent1",
		PrimaryID:              "openai",
		BackupIDs:              []string{"anthropic"},
		HealthCheckInterval:    10 * time.Millisecond,
		HealthCheckTimeout:     time.Second,
		MaxConsecutiveFailures: 2,
		AutoFailoverEnabled:    true,
	})
	require.NoError(t, err)

	active, _ := m.ActiveProvider("agent1")
	require.Equal(t, "openai", active)

	// Two consecutive failed probes cross the threshold; the prober
	// switches to the backup on its next tick without intervention.
	openai.Fail(errors.NewProviderError("openai", "connection refused"))
	waitForActive(t, m, "agent1", "anthropic")

	record, _ := m.GetHealth("openai")
	assert.GreaterOrEqual(t, record.ConsecutiveFailures, 2)
	record, _ = m.GetHealth("anthropic")
	assert.Equal(t, StatusHealthy, record.Status)
}

func TestProberNoSwitchWhenAutoFailoverDisabled(t *testing.T) {
	m := NewManager()
	defer m.Shutdown()

	primary := providers.NewStaticProvider("primary", "p")
	backup := providers.NewStaticProvider("backup", "b")
	m.RegisterProvider("primary", primary)
	m.RegisterProvider("backup", backup)

	err := m.Configure(EndpointConfig{
		Endpoint:               "agent1",
		PrimaryID:              "primary",
		BackupIDs:              []string{"backup"},
		HealthCheckInterval:    10 * time.Millisecond,
		MaxConsecutiveFailures: 1,
		AutoFailoverEnabled:    false,
	})
	require.NoError(t, err)

	primary.Fail(errors.NewProviderError("primary", "down"))

	time.Sleep(100 * time.Millisecond)
	active, _ := m.ActiveProvider("agent1")
	assert.Equal(t, "primary", active, "disabled auto failover must not move the pointer")

	record, _ := m.GetHealth("primary")
	assert.GreaterOrEqual(t, record.ConsecutiveFailures, 1, "probes still update health")
}

func TestProberKeepsProbingWholeChain(t *testing.T) {
	m := NewManager()
	defer m.Shutdown()

	primary := providers.NewStaticProvider("primary", "p")
	backup := providers.NewStaticProvider("backup", "b")
	m.RegisterProvider("primary", primary)
	m.RegisterProvider("backup", backup)

	err := m.Configure(EndpointConfig{
		Endpoint:            "agent1",
		PrimaryID:           "primary",
		BackupIDs:           []string{"backup"},
		HealthCheckInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for primary.Probes() < 2 || backup.Probes() < 2 {
		select {
		case <-deadline:
			t.Fatalf("probes did not cover the chain: primary=%d backup=%d", primary.Probes(), backup.Probes())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestProberStopsOnShutdown(t *testing.T) {
	m := NewManager()

	p := providers.NewStaticProvider("a", "x")
	m.RegisterProvider("a", p)
	require.NoError(t, m.Configure(EndpointConfig{
		Endpoint:            "agent1",
		PrimaryID:           "a",
		HealthCheckInterval: 5 * time.Millisecond,
	}))

	deadline := time.After(2 * time.Second)
	for p.Probes() == 0 {
		select {
		case <-deadline:
			t.Fatal("prober never ticked")
		case <-time.After(2 * time.Millisecond):
		}
	}

	m.Shutdown()
	count := p.Probes()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, count, p.Probes(), "no probes after shutdown")
}
