package pipeline

import (
	"context"
	"fmt"

	"github.com/revohq/revoflow/internal/engine"
	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/runs"
)

// DefaultTaskKeys is the full agent pipeline in execution order.
var DefaultTaskKeys = []string{
	"agents.sdr",
	"agents.sales",
	"agents.negotiation",
	"agents.finance",
}

// Orchestrator runs an ordered list of task keys through the execution
// engine. Task keys execute strictly in the given order on the calling
// goroutine; a failure in one key never aborts the rest.
type Orchestrator struct {
	engine *engine.Engine
	logger *logging.Logger
}

func NewOrchestrator(e *engine.Engine) *Orchestrator {
	return &Orchestrator{
		engine: e,
		logger: logging.New("revoflow-pipeline"),
	}
}

// RunPipeline executes each task key in order and returns a complete
// per-key outcome map: "success", or "error: <message>". Every key in
// taskKeys gets an entry regardless of earlier failures.
func (o *Orchestrator) RunPipeline(ctx context.Context, taskKeys []string, tenantID, userID string) map[string]string {
	outcomes := make(map[string]string, len(taskKeys))

	for _, key := range taskKeys {
		res, err := o.engine.ExecuteTask(ctx, engine.Request{
			TaskKey:  key,
			TenantID: tenantID,
			UserID:   userID,
		})
		switch {
		case err != nil:
			outcomes[key] = fmt.Sprintf("error: %s", err.Error())
			o.logger.WithContext(ctx).WithTask(key).WithError(err).Error("pipeline.task_error")
		case res.Status == runs.StatusSucceeded:
			outcomes[key] = "success"
			o.logger.WithContext(ctx).WithTask(key).WithRun(res.RunID).Info("pipeline.task_success")
		default:
			outcomes[key] = fmt.Sprintf("error: %s", res.Error)
			o.logger.WithContext(ctx).WithTask(key).WithRun(res.RunID).WithField("error", res.Error).Error("pipeline.task_failed")
		}
	}

	return outcomes
}

// RunSingle runs one task key through the same path as RunPipeline.
func (o *Orchestrator) RunSingle(ctx context.Context, taskKey, tenantID, userID string) map[string]string {
	return o.RunPipeline(ctx, []string{taskKey}, tenantID, userID)
}
