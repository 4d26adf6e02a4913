package runs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle position of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal status. A record in a
// terminal status is immutable.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrorPayload is the structured failure detail attached to a failed run.
type ErrorPayload struct {
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

// Record is one run: a logical invocation of a registered task,
// potentially spanning multiple retry attempts. The task key is
// serialized as agent_name for the listing API.
type Record struct {
	RunID        string        `json:"run_id"`
	TaskKey      string        `json:"agent_name"`
	Status       Status        `json:"status"`
	RetryCount   int           `json:"retry_count"`
	CreatedAt    time.Time     `json:"created_at"`
	FinishedAt   *time.Time    `json:"finished_at"`
	ErrorPayload *ErrorPayload `json:"error_payload,omitempty"`
}

// NewRunID allocates an opaque run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Update carries the optional fields of an UpdateStatus call. Nil
// pointers leave the corresponding record field untouched.
type Update struct {
	RetryCount   *int
	FinishedAt   *time.Time
	ErrorPayload *ErrorPayload
}

// Registry is an append-only, insertion-ordered record of task runs.
// All operations are safe under concurrent access; a single mutex
// serializes them and no operation does I/O while holding it.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []string
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetClock replaces the registry clock. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register creates a queued record for runID. Registering an existing
// runID is a caller bug and returns an error.
func (r *Registry) Register(runID, taskKey string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[runID]; exists {
		return Record{}, fmt.Errorf("run already registered: %s", runID)
	}
	rec := &Record{
		RunID:     runID,
		TaskKey:   taskKey,
		Status:    StatusQueued,
		CreatedAt: r.now().UTC(),
	}
	r.records[runID] = rec
	r.order = append(r.order, runID)
	return *rec, nil
}

// UpdateStatus mutates the record for runID and returns a copy of it.
// Unknown runIDs return nil (no-op, callers log it). Updates to a
// record already in a terminal status are ignored; the record is
// returned unchanged.
func (r *Registry) UpdateStatus(runID string, status Status, upd Update) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[runID]
	if !ok {
		return nil
	}
	if rec.Status.Terminal() {
		out := *rec
		return &out
	}
	rec.Status = status
	if upd.RetryCount != nil {
		rec.RetryCount = *upd.RetryCount
	}
	if upd.FinishedAt != nil {
		rec.FinishedAt = upd.FinishedAt
	}
	if upd.ErrorPayload != nil {
		rec.ErrorPayload = upd.ErrorPayload
	}
	out := *rec
	return &out
}

// Get returns a copy of the record for runID, or nil if unknown.
func (r *Registry) Get(runID string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[runID]
	if !ok {
		return nil
	}
	out := *rec
	return &out
}

// List returns copies of all records in insertion order. Pagination is
// the caller's concern.
func (r *Registry) List() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.records[id])
	}
	return out
}
