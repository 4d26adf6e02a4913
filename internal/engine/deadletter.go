package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/metrics"
	"github.com/revohq/revoflow/internal/runs"
)

const DLQType = "tasks.dlq"

// Dead-letter reasons.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonUnknownTaskKey   = "unknown_task_key"
)

// DeadLetter is the record of a terminally failed run, retained for
// operator inspection. Read-only once created.
type DeadLetter struct {
	Type         string            `json:"type"`    // "tasks.dlq"
	Version      string            `json:"version"` // schema version
	RunID        string            `json:"run_id"`
	TaskKey      string            `json:"task_key"`
	TenantID     string            `json:"tenant_id,omitempty"`
	RetryCount   int               `json:"retry_count"`
	Reason       string            `json:"reason"`
	ErrorPayload runs.ErrorPayload `json:"error_payload"`
	FailedAt     string            `json:"failed_at"` // RFC3339
}

// NewDeadLetter builds a dead letter for a failed run.
func NewDeadLetter(runID, taskKey, tenantID string, retryCount int, reason string, payload runs.ErrorPayload, failedAt time.Time) DeadLetter {
	return DeadLetter{
		Type:         DLQType,
		Version:      "v1",
		RunID:        runID,
		TaskKey:      taskKey,
		TenantID:     tenantID,
		RetryCount:   retryCount,
		Reason:       reason,
		ErrorPayload: payload,
		FailedAt:     failedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Publisher publishes a dead letter to a durable topic. *nsq.Producer
// satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// DeadLetterQueue is a bounded in-memory ring of dead letters. When the
// ring is full the oldest entry is evicted; evictions are counted so
// operators can see truncation. An optional publisher offloads every
// entry to a durable topic.
type DeadLetterQueue struct {
	mu       sync.Mutex
	entries  []DeadLetter
	capacity int

	pub      Publisher
	pubTopic string
	logger   *logging.Logger
}

// NewDeadLetterQueue creates a ring holding at most capacity entries.
// A capacity <= 0 falls back to 1024.
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &DeadLetterQueue{
		capacity: capacity,
		logger:   logging.New("revoflow-dlq"),
	}
}

// SetPublisher enables best-effort publishing of appended entries to
// topic. Publish failures are logged, never propagated.
func (q *DeadLetterQueue) SetPublisher(pub Publisher, topic string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pub = pub
	q.pubTopic = topic
}

// Append stores the dead letter, evicting the oldest entry when full.
// No I/O happens while the lock is held.
func (q *DeadLetterQueue) Append(dl DeadLetter) {
	q.mu.Lock()
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
		metrics.DeadLettersEvicted.Inc()
	}
	q.entries = append(q.entries, dl)
	pub, topic := q.pub, q.pubTopic
	q.mu.Unlock()

	if pub != nil {
		b, err := json.Marshal(dl)
		if err == nil {
			err = pub.Publish(topic, b)
		}
		if err != nil {
			q.logger.Plain().WithRun(dl.RunID).WithTask(dl.TaskKey).WithError(err).Error("dlq publish failed")
		}
	}
}

// List returns a copy of the retained entries, oldest first.
func (q *DeadLetterQueue) List() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of retained entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
