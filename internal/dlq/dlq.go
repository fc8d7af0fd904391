package dlq

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bulwarkhq/bulwark/pkg/errors"
	"github.com/bulwarkhq/bulwark/pkg/logging"
	"github.com/bulwarkhq/bulwark/pkg/metrics"
	"github.com/bulwarkhq/bulwark/pkg/resources"
)

// EntryStatus is the lifecycle state of a dead-letter entry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusReplaying EntryStatus = "replaying"
	StatusSuccess   EntryStatus = "success"
	StatusFailed    EntryStatus = "failed"
	StatusArchived  EntryStatus = "archived"
)

// Request is the captured call, replayable against any Resource.
type Request struct {
	Query  string        `json:"query"`
	Params []interface{} `json:"params,omitempty"`
}

// Entry is one terminally failed call held for operator-driven replay.
type Entry struct {
	ID              string      `json:"id"`
	Endpoint        string      `json:"endpoint"`
	Request         Request     `json:"request"`
	ErrorKind       string      `json:"error_kind"`
	ErrorMessage    string      `json:"error_message"`
	Status          EntryStatus `json:"status"`
	RetryCount      int         `json:"retry_count"`
	MaxRetries      int         `json:"max_retries"`
	CapturedAt      time.Time   `json:"captured_at"`
	LastAttemptedAt time.Time   `json:"last_attempted_at,omitempty"`
	LastError       string      `json:"last_error,omitempty"`

	seq uint64
}

// Stats is an aggregate snapshot of the queue.
type Stats struct {
	Total    int                 `json:"total"`
	Capacity int                 `json:"capacity"`
	ByStatus map[EntryStatus]int `json:"by_status"`
}

// Queue is a bounded in-process dead-letter store. Capture never
// rejects; when the queue is full the oldest entries by capture order
// are evicted to make room, whatever their status.
type Queue struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	order      []string // capture order, oldest first
	capacity   int
	maxRetries int
	nextSeq    uint64

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// NewQueue creates a dead-letter queue bounded at capacity entries.
// Replays of a single entry stop once its retry count reaches
// maxRetries.
func NewQueue(capacity, maxRetries int, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	q := &Queue{
		entries:    make(map[string]*Entry),
		capacity:   capacity,
		maxRetries: maxRetries,
		logger:     logging.GetLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Capture records a terminally failed call. It always succeeds; a full
// queue evicts its oldest entries first.
func (q *Queue) Capture(endpoint string, req Request, cause error) *Entry {
	entry := &Entry{
		ID:           uuid.New().String(),
		Endpoint:     endpoint,
		Request:      req,
		Status:       StatusPending,
		MaxRetries:   q.maxRetries,
		CapturedAt:   time.Now(),
		ErrorKind:    string(errors.GetType(cause)),
		ErrorMessage: errMessage(cause),
	}

	q.mu.Lock()
	for len(q.order) >= q.capacity {
		q.evictOldestLocked()
	}
	entry.seq = q.nextSeq
	q.nextSeq++
	q.entries[entry.ID] = entry
	q.order = append(q.order, entry.ID)
	q.updateDepthLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.DLQCaptures.WithLabelValues(endpoint).Inc()
	}
	q.logger.Warn("Dead-letter entry captured",
		"entry_id", entry.ID,
		"endpoint", endpoint,
		"error_kind", entry.ErrorKind,
	)

	snapshot := *entry
	return &snapshot
}

// Replay re-issues the entry's request against the supplied resource.
// It fails closed, without touching the retry count, when the entry is
// missing, archived, already replaying, or out of retries. A failed
// replay leaves the entry replayable while retries remain.
func (q *Queue) Replay(ctx context.Context, entryID string, res resources.Resource) ([]resources.Row, error) {
	q.mu.Lock()
	entry, ok := q.entries[entryID]
	if !ok {
		q.mu.Unlock()
		q.recordReplay("missing")
		return nil, errors.NewNotFoundError("dead-letter entry " + entryID)
	}
	if entry.Status == StatusArchived {
		q.mu.Unlock()
		q.recordReplay("archived")
		return nil, errors.NewConflictError("entry is archived")
	}
	if entry.Status == StatusReplaying {
		q.mu.Unlock()
		q.recordReplay("in_progress")
		return nil, errors.NewConflictError("entry replay already in progress")
	}
	if entry.RetryCount >= entry.MaxRetries {
		q.mu.Unlock()
		q.recordReplay("exhausted")
		return nil, errors.NewConflictError("maximum retries exceeded")
	}

	entry.Status = StatusReplaying
	entry.RetryCount++
	entry.LastAttemptedAt = time.Now()
	req := entry.Request
	q.updateDepthLocked()
	q.mu.Unlock()

	rows, err := res.Execute(ctx, req.Query, req.Params...)

	q.mu.Lock()
	// The entry may have been archived or evicted while the replay ran;
	// only record the outcome if it is still ours to mutate.
	if current, still := q.entries[entryID]; still && current.Status == StatusReplaying {
		if err != nil {
			current.Status = StatusFailed
			current.LastError = err.Error()
		} else {
			current.Status = StatusSuccess
			current.LastError = ""
		}
	}
	q.updateDepthLocked()
	q.mu.Unlock()

	if err != nil {
		q.recordReplay("failure")
		q.logger.Warn("Dead-letter replay failed",
			"entry_id", entryID,
			"error", err.Error(),
		)
		return nil, err
	}

	q.recordReplay("success")
	q.logger.Info("Dead-letter replay succeeded", "entry_id", entryID)
	return rows, nil
}

// Archive soft-deletes an entry. Archived entries are excluded from
// replay and default listings but remain inspectable.
func (q *Queue) Archive(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryID]
	if !ok {
		return errors.NewNotFoundError("dead-letter entry " + entryID)
	}
	entry.Status = StatusArchived
	q.updateDepthLocked()
	return nil
}

// Delete removes an entry outright.
func (q *Queue) Delete(entryID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[entryID]; !ok {
		return errors.NewNotFoundError("dead-letter entry " + entryID)
	}
	delete(q.entries, entryID)
	for i, id := range q.order {
		if id == entryID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	q.updateDepthLocked()
	return nil
}

// Get returns a copy of one entry.
func (q *Queue) Get(entryID string) (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.entries[entryID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// List returns entries in capture order, oldest first. Archived entries
// are included only when requested.
func (q *Queue) List(includeArchived bool) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		entry := q.entries[id]
		if entry.Status == StatusArchived && !includeArchived {
			continue
		}
		out = append(out, *entry)
	}
	return out
}

// Stats summarizes the queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Total:    len(q.entries),
		Capacity: q.capacity,
		ByStatus: make(map[EntryStatus]int),
	}
	for _, entry := range q.entries {
		stats.ByStatus[entry.Status]++
	}
	return stats
}

func (q *Queue) evictOldestLocked() {
	if len(q.order) == 0 {
		return
	}
	oldest := q.order[0]
	q.order = q.order[1:]
	delete(q.entries, oldest)
	q.logger.Warn("Dead-letter entry evicted", "entry_id", oldest)
}

func (q *Queue) updateDepthLocked() {
	if q.metrics == nil {
		return
	}
	counts := map[EntryStatus]int{
		StatusPending:   0,
		StatusReplaying: 0,
		StatusSuccess:   0,
		StatusFailed:    0,
		StatusArchived:  0,
	}
	for _, entry := range q.entries {
		counts[entry.Status]++
	}
	for status, n := range counts {
		q.metrics.DLQDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}

func (q *Queue) recordReplay(outcome string) {
	if q.metrics != nil {
		q.metrics.DLQReplays.WithLabelValues(outcome).Inc()
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := err.(*errors.AppError); ok {
		return appErr.Message
	}
	return err.Error()
}
