// Package ratelimit provides sliding-window admission control keyed by
// logical endpoint. Limits are counted in three independent trailing
// windows (minute, hour, day); a call is admitted only when every
// configured window has capacity.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/metrics"
)

// Window spans for the three supported bounds.
const (
	minuteSpan = 60 * time.Second
	hourSpan   = 3600 * time.Second
	daySpan    = 86400 * time.Second
)

// Limit holds the per-endpoint bounds. A zero value means unlimited for
// that window.
type Limit struct {
	PerMinute int `json:"per_minute,omitempty"`
	PerHour   int `json:"per_hour,omitempty"`
	PerDay    int `json:"per_day,omitempty"`
}

// IsZero reports whether no bound is configured at all.
func (l Limit) IsZero() bool {
	return l.PerMinute <= 0 && l.PerHour <= 0 && l.PerDay <= 0
}

// Usage is a point-in-time snapshot of window occupancy for an endpoint.
type Usage struct {
	Endpoint  string `json:"endpoint"`
	Limit     Limit  `json:"limit"`
	MinuteUse int    `json:"minute_use"`
	HourUse   int    `json:"hour_use"`
	DayUse    int    `json:"day_use"`
}

// window is one FIFO sequence of admission timestamps. Eviction keeps
// the invariant that no entry is older than span.
type window struct {
	name   string
	span   time.Duration
	bound  int
	stamps []time.Time
}

func (w *window) evict(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// endpointState carries the configured windows for one endpoint. Its
// mutex makes check-and-record atomic per endpoint.
type endpointState struct {
	mu      sync.Mutex
	windows []*window
}

// Limiter is a sliding-window rate limiter. The zero value is not
// usable; construct with NewLimiter.
type Limiter struct {
	mu        sync.RWMutex
	endpoints map[string]*endpointState
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) {
		l.metrics = m
	}
}

// NewLimiter creates a new sliding-window rate limiter.
func NewLimiter(opts ...Option) *Limiter {
	l := &Limiter{
		endpoints: make(map[string]*endpointState),
		logger:    logging.GetLogger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetLimit replaces any prior configuration for the endpoint, including
// its recorded window history. A Limit with no bounds removes the
// configuration entirely.
func (l *Limiter) SetLimit(endpoint string, limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit.IsZero() {
		delete(l.endpoints, endpoint)
		return
	}

	state := &endpointState{}
	// Violation reporting order is fixed: minute, then hour, then day.
	if limit.PerMinute > 0 {
		state.windows = append(state.windows, &window{name: "per minute", span: minuteSpan, bound: limit.PerMinute})
	}
	if limit.PerHour > 0 {
		state.windows = append(state.windows, &window{name: "per hour", span: hourSpan, bound: limit.PerHour})
	}
	if limit.PerDay > 0 {
		state.windows = append(state.windows, &window{name: "per day", span: daySpan, bound: limit.PerDay})
	}
	l.endpoints[endpoint] = state

	l.logger.Info("Rate limit configured",
		"endpoint", endpoint,
		"per_minute", limit.PerMinute,
		"per_hour", limit.PerHour,
		"per_day", limit.PerDay,
	)
}

// GetLimit returns the configured limit for an endpoint and whether one
// exists.
func (l *Limiter) GetLimit(endpoint string) (Limit, bool) {
	l.mu.RLock()
	state, ok := l.endpoints[endpoint]
	l.mu.RUnlock()
	if !ok {
		return Limit{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()
	return limitFromWindows(state.windows), true
}

// RemoveLimit drops the configuration for an endpoint.
func (l *Limiter) RemoveLimit(endpoint string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.endpoints, endpoint)
}

// CheckAndRecord atomically checks every configured window and, when all
// have capacity, records the admission in each of them. On denial
// nothing is recorded and the reason names the first violated window in
// minute, hour, day order. Endpoints without configuration are always
// admitted. This method never panics and never returns an error.
func (l *Limiter) CheckAndRecord(endpoint string) (bool, string) {
	l.mu.RLock()
	state, ok := l.endpoints[endpoint]
	l.mu.RUnlock()
	if !ok {
		return true, ""
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	now := l.now()
	for _, w := range state.windows {
		w.evict(now)
		if len(w.stamps) >= w.bound {
			reason := fmt.Sprintf("rate limit exceeded: %d %s", w.bound, w.name)
			if l.metrics != nil {
				l.metrics.AdmissionsDenied.WithLabelValues(endpoint, w.name).Inc()
			}
			l.logger.Debug("Admission denied",
				"endpoint", endpoint,
				"window", w.name,
				"bound", w.bound,
			)
			return false, reason
		}
	}

	for _, w := range state.windows {
		w.stamps = append(w.stamps, now)
	}
	if l.metrics != nil {
		l.metrics.AdmissionsAllowed.WithLabelValues(endpoint).Inc()
	}
	return true, ""
}

// GetUsage returns a snapshot of current window occupancy. Expired
// entries are evicted before counting.
func (l *Limiter) GetUsage(endpoint string) (Usage, bool) {
	l.mu.RLock()
	state, ok := l.endpoints[endpoint]
	l.mu.RUnlock()
	if !ok {
		return Usage{}, false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	now := l.now()
	usage := Usage{Endpoint: endpoint, Limit: limitFromWindows(state.windows)}
	for _, w := range state.windows {
		w.evict(now)
		switch w.span {
		case minuteSpan:
			usage.MinuteUse = len(w.stamps)
		case hourSpan:
			usage.HourUse = len(w.stamps)
		case daySpan:
			usage.DayUse = len(w.stamps)
		}
	}
	return usage, true
}

// Endpoints lists every endpoint with a configured limit.
func (l *Limiter) Endpoints() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]string, 0, len(l.endpoints))
	for endpoint := range l.endpoints {
		out = append(out, endpoint)
	}
	return out
}

func limitFromWindows(windows []*window) Limit {
	var limit Limit
	for _, w := range windows {
		switch w.span {
		case minuteSpan:
			limit.PerMinute = w.bound
		case hourSpan:
			limit.PerHour = w.bound
		case daySpan:
			limit.PerDay = w.bound
		}
	}
	return limit
}
