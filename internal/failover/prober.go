package failover

import (
	"context"
	"fmt"
	"time"
)

// prober is the background health-check loop for one configured
// endpoint. Exactly one runs per endpoint; it is created by Configure
// and cancelled through its stop handle on endpoint removal.
type prober struct {
	manager  *Manager
	endpoint string
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newProber(m *Manager, endpoint string, interval time.Duration) *prober {
	return &prober{
		manager:  m,
		endpoint: endpoint,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// run drives the probe loop until stopped. Internal errors are logged
// and the loop continues on the next tick; it never silently stops.
func (p *prober) run() {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick()
		}
	}
}

// stop cancels the loop and waits for it to exit.
func (p *prober) stop() {
	close(p.stopCh)
	<-p.doneCh
}

func (p *prober) tick() {
	defer func() {
		if r := recover(); r != nil {
			p.manager.logger.Error("Health check cycle panicked",
				"endpoint", p.endpoint,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	m := p.manager

	m.mu.Lock()
	cfg, ok := m.configs[p.endpoint]
	m.mu.Unlock()
	if !ok {
		return
	}

	chain := cfg.Chain()
	for _, id := range chain {
		m.Probe(context.Background(), id, cfg.HealthCheckTimeout)
	}

	if !cfg.AutoFailoverEnabled {
		return
	}

	m.mu.Lock()
	activeID := m.active[p.endpoint]
	record, known := m.health[activeID]
	exceeded := known && record.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
	m.mu.Unlock()

	if !exceeded {
		return
	}

	// The active provider has crossed the failure threshold; activate
	// the first chain member that passes a fresh probe.
	for _, id := range chain {
		if id == activeID {
			continue
		}
		if m.Probe(context.Background(), id, cfg.HealthCheckTimeout) {
			m.mu.Lock()
			m.active[p.endpoint] = id
			m.recordSwitch(p.endpoint, "auto")
			m.mu.Unlock()

			m.logger.Info("Automatic failover",
				"endpoint", p.endpoint,
				"from", activeID,
				"to", id,
				"consecutive_failures", record.ConsecutiveFailures,
			)
			return
		}
	}

	m.logger.Warn("Automatic failover found no healthy provider",
		"endpoint", p.endpoint,
		"active", activeID,
	)
}
