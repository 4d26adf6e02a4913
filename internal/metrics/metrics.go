package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revoflow_runs_total",
			Help: "Total number of task runs by task key and terminal status.",
		},
		[]string{"task_key", "status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revoflow_retries_total",
			Help: "Total number of retry attempts by task key.",
		},
		[]string{"task_key"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revoflow_dead_letters_total",
			Help: "Total number of runs moved to the dead-letter queue by reason.",
		},
		[]string{"reason"}, // e.g. retries_exhausted, unknown_task_key
	)

	DeadLettersEvicted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "revoflow_dead_letters_evicted_total",
			Help: "Dead letters dropped from the bounded in-memory queue.",
		},
	)

	StageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revoflow_stage_transitions_total",
			Help: "Stage transition attempts by result.",
		},
		[]string{"result"}, // accepted, rejected, conflict
	)

	DuplicateCreatesAbsorbed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revoflow_duplicate_creates_absorbed_total",
			Help: "Idempotent child creations that returned an existing record.",
		},
		[]string{"child_kind"}, // contract, invoice
	)

	WorkerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "revoflow_worker_backlog",
			Help: "Depth of the task topic channel consumed by the worker.",
		},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		RunsTotal,
		RetriesTotal,
		DeadLettersTotal,
		DeadLettersEvicted,
		StageTransitionsTotal,
		DuplicateCreatesAbsorbed,
		WorkerBacklog,
	)
}

// RecordRun records a run reaching a terminal status.
func RecordRun(taskKey, status string) {
	RunsTotal.WithLabelValues(taskKey, status).Inc()
}

// RecordRetry records one consumed retry attempt.
func RecordRetry(taskKey string) {
	RetriesTotal.WithLabelValues(taskKey).Inc()
}

// RecordDeadLetter records a run moved to the dead-letter queue.
func RecordDeadLetter(reason string) {
	DeadLettersTotal.WithLabelValues(reason).Inc()
}

// RecordStageTransition records a transition attempt outcome.
func RecordStageTransition(result string) {
	StageTransitionsTotal.WithLabelValues(result).Inc()
}

// RecordDuplicateCreate records an absorbed duplicate child creation.
func RecordDuplicateCreate(childKind string) {
	DuplicateCreatesAbsorbed.WithLabelValues(childKind).Inc()
}

// UpdateWorkerBacklog sets the observed task channel depth.
func UpdateWorkerBacklog(depth float64) {
	WorkerBacklog.Set(depth)
}
