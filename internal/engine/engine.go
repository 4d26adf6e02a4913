package engine

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/metrics"
	"github.com/revohq/revoflow/internal/runs"
	"github.com/revohq/revoflow/internal/tasks"
	"github.com/revohq/revoflow/internal/tracing"
)

// Options control the retry behavior of an Engine. Zero values fall
// back to the defaults below.
type Options struct {
	MaxRetries    int           // retries after the first attempt; total attempts = MaxRetries+1
	BaseBackoff   time.Duration // first retry delay, doubled per attempt
	BackoffCap    time.Duration // upper bound on a single backoff sleep
	JitterPercent float64       // +/- jitter applied to each sleep
}

const (
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
	defaultBackoffCap  = 5 * time.Second
)

// Request identifies one task execution.
type Request struct {
	TaskKey  string
	TenantID string
	UserID   string
	// Payload reaches the executor through tasks.Payload(ctx).
	Payload map[string]any

	// Optional per-request overrides of the engine defaults.
	MaxRetries  *int
	BaseBackoff *time.Duration
}

// Result is the outcome of ExecuteTask. Executor errors never escape
// the engine; they surface here and in the dead-letter queue.
type Result struct {
	RunID        string      `json:"run_id"`
	Status       runs.Status `json:"status"`
	RetryCount   int         `json:"retry_count"`
	Error        string      `json:"error,omitempty"`
	DeadLettered bool        `json:"dead_lettered"`
}

// Engine executes registered tasks with bounded retries, exponential
// backoff and dead-letter capture on exhaustion. The backoff sleep is
// the only blocking point; it blocks only the worker handling that run.
type Engine struct {
	runs   *runs.Registry
	tasks  *tasks.Registry
	dlq    *DeadLetterQueue
	opts   Options
	logger *logging.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(runReg *runs.Registry, taskReg *tasks.Registry, dlq *DeadLetterQueue, opts Options) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.BackoffCap <= 0 {
		opts.BackoffCap = defaultBackoffCap
	}
	return &Engine{
		runs:   runReg,
		tasks:  taskReg,
		dlq:    dlq,
		opts:   opts,
		logger: logging.New("revoflow-engine"),
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// DeadLetters exposes the engine's dead-letter queue for listing.
func (e *Engine) DeadLetters() *DeadLetterQueue {
	return e.dlq
}

// SetSleep replaces the backoff sleep. Test hook.
func (e *Engine) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	e.sleep = sleep
}

// SetClock replaces the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// ExecuteTask runs the executor registered under req.TaskKey. An
// unknown key fails fast and is dead-lettered without any executor
// invocation; executor errors are retried with backoff until the retry
// budget is exhausted, then dead-lettered. The returned error is
// non-nil only for engine preconditions (duplicate run id), never for
// executor failures.
func (e *Engine) ExecuteTask(ctx context.Context, req Request) (Result, error) {
	maxRetries := e.opts.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	baseBackoff := e.opts.BaseBackoff
	if req.BaseBackoff != nil {
		baseBackoff = *req.BaseBackoff
	}

	runID := runs.NewRunID()
	if _, err := e.runs.Register(runID, req.TaskKey); err != nil {
		return Result{}, err
	}

	ctx, span := tracing.StartSpan(ctx, "engine.execute_task",
		attribute.String("run_id", runID),
		attribute.String("task_key", req.TaskKey),
		attribute.String("tenant_id", req.TenantID),
	)
	defer span.End()

	if req.Payload != nil {
		ctx = tasks.WithPayload(ctx, req.Payload)
	}

	log := e.logger.WithContext(ctx).WithRun(runID).WithTask(req.TaskKey).WithTenant(req.TenantID)
	log.Info("task.start")

	executor, err := e.tasks.Get(req.TaskKey)
	if err != nil {
		// Permanent: a missing registration cannot self-heal across
		// attempts, so the retry budget is not spent on it.
		tracing.SetSpanError(ctx, err)
		return e.fail(ctx, runID, req, 0, ReasonUnknownTaskKey, err), nil
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.abandon(ctx, runID, req, attempt, ctxErr), nil
		}

		count := attempt
		e.runs.UpdateStatus(runID, runs.StatusRunning, runs.Update{RetryCount: &count})
		tracing.AddSpanEvent(ctx, "task.attempt", attribute.Int("attempt", attempt))

		lastErr = e.invoke(ctx, executor)
		if lastErr == nil {
			finished := e.now().UTC()
			e.runs.UpdateStatus(runID, runs.StatusSucceeded, runs.Update{
				RetryCount: &count,
				FinishedAt: &finished,
			})
			metrics.RecordRun(req.TaskKey, string(runs.StatusSucceeded))
			e.logger.WithContext(ctx).WithRun(runID).WithTask(req.TaskKey).WithField("retry_count", attempt).Info("task.finish")
			span.SetAttributes(attribute.Int("retry_count", attempt))
			return Result{RunID: runID, Status: runs.StatusSucceeded, RetryCount: attempt}, nil
		}

		if attempt < maxRetries {
			delay := backoffDelay(attempt, baseBackoff, e.opts.BackoffCap, e.opts.JitterPercent)
			metrics.RecordRetry(req.TaskKey)
			e.logger.WithContext(ctx).WithRun(runID).WithTask(req.TaskKey).WithError(lastErr).WithFields(map[string]any{
				"attempt": attempt,
				"delay":   delay.String(),
			}).Warn("task.retry")
			tracing.AddSpanEvent(ctx, "task.backoff",
				attribute.Int("attempt", attempt),
				attribute.String("delay", delay.String()),
			)
			if err := e.sleep(ctx, delay); err != nil {
				return e.abandon(ctx, runID, req, attempt, err), nil
			}
		}
	}

	tracing.SetSpanError(ctx, lastErr)
	return e.fail(ctx, runID, req, maxRetries, ReasonRetriesExhausted, lastErr), nil
}

// invoke runs the executor, converting a panic into an attempt failure.
func (e *Engine) invoke(ctx context.Context, executor tasks.Executor) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return executor(ctx)
}

// fail marks the run failed, appends a dead letter and returns the
// terminal result.
func (e *Engine) fail(ctx context.Context, runID string, req Request, retryCount int, reason string, cause error) Result {
	payload := runs.ErrorPayload{Error: cause.Error(), Attempt: retryCount}
	finished := e.now().UTC()
	count := retryCount
	e.runs.UpdateStatus(runID, runs.StatusFailed, runs.Update{
		RetryCount:   &count,
		FinishedAt:   &finished,
		ErrorPayload: &payload,
	})
	e.dlq.Append(NewDeadLetter(runID, req.TaskKey, req.TenantID, retryCount, reason, payload, finished))
	metrics.RecordRun(req.TaskKey, string(runs.StatusFailed))
	metrics.RecordDeadLetter(reason)
	e.logger.WithContext(ctx).WithRun(runID).WithTask(req.TaskKey).WithError(cause).WithField("reason", reason).Error("task.failed")
	return Result{
		RunID:        runID,
		Status:       runs.StatusFailed,
		RetryCount:   retryCount,
		Error:        cause.Error(),
		DeadLettered: true,
	}
}

// abandon marks a cancelled run failed without dead-lettering it; the
// caller asked the run to stop, so there is nothing for an operator to
// inspect.
func (e *Engine) abandon(ctx context.Context, runID string, req Request, retryCount int, cause error) Result {
	payload := runs.ErrorPayload{Error: cause.Error(), Attempt: retryCount}
	finished := e.now().UTC()
	count := retryCount
	e.runs.UpdateStatus(runID, runs.StatusFailed, runs.Update{
		RetryCount:   &count,
		FinishedAt:   &finished,
		ErrorPayload: &payload,
	})
	metrics.RecordRun(req.TaskKey, string(runs.StatusFailed))
	e.logger.WithContext(ctx).WithRun(runID).WithTask(req.TaskKey).WithError(cause).Warn("task.cancelled")
	return Result{
		RunID:      runID,
		Status:     runs.StatusFailed,
		RetryCount: retryCount,
		Error:      cause.Error(),
	}
}

// backoffDelay computes base*2^attempt capped at ceiling, with
// +/- jitterPct jitter so concurrent retries spread out.
func backoffDelay(attempt int, base, ceiling time.Duration, jitterPct float64) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			d = ceiling
			break
		}
	}
	if d > ceiling {
		d = ceiling
	}
	if jitterPct > 0 {
		j := 1 + (rand.Float64()*2-1)*jitterPct
		if j < 0.1 {
			j = 0.1
		}
		d = time.Duration(float64(d) * j)
	}
	return d
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
