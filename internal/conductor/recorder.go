package conductor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/telemetry"
)

// recorder пишет события flow в FlowDetail logbook'а и в метрики.
//
// Каждое событие — отдельная TaskDetail: имя задачи повторяется
// для записи выполнения и записи отката.
type recorder struct {
	ctx     context.Context
	detail  catalog.FlowDetail
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

func newRecorder(ctx context.Context, detail catalog.FlowDetail, metrics *telemetry.Metrics, logger *slog.Logger) *recorder {
	return &recorder{
		// Откат пишется и после отмены ctx
		ctx:     context.WithoutCancel(ctx),
		detail:  detail,
		metrics: metrics,
		logger:  logger,
	}
}

func (r *recorder) OnStateChange(f *engine.Flow, from, to domain.FlowState) {
	r.logger.Debug("flow state changed", "from", from, "to", to)
}

func (r *recorder) OnTaskDone(f *engine.Flow, result engine.Result, d time.Duration) {
	r.record(f, result.Task.Name(), domain.TaskOutcomeSuccess, map[string]any{
		"duration_ms": d.Milliseconds(),
		"outputs":     map[string]any(result.Outputs),
	})
}

func (r *recorder) OnTaskFailed(f *engine.Flow, task *engine.Task, err error) {
	r.record(f, task.Name(), domain.TaskOutcomeFailure, map[string]any{
		"error": err.Error(),
	})
}

func (r *recorder) OnTaskReverted(f *engine.Flow, task *engine.Task, err error) {
	outcome := domain.TaskOutcomeReverted
	meta := map[string]any{}
	if err != nil {
		outcome = domain.TaskOutcomeRevertFailed
		meta["error"] = err.Error()
	}
	if r.metrics != nil {
		r.metrics.ObserveCompensation(f.Name(), string(outcome))
	}
	r.record(f, task.Name(), outcome, meta)
}

func (r *recorder) record(f *engine.Flow, task string, outcome domain.TaskOutcome, meta map[string]any) {
	meta["outcome"] = string(outcome)
	if r.metrics != nil && outcome != domain.TaskOutcomeReverted && outcome != domain.TaskOutcomeRevertFailed {
		r.metrics.ObserveTask(f.Name(), string(outcome))
	}
	if _, err := r.detail.AddTask(r.ctx, task, meta); err != nil {
		r.logger.Warn("failed to record task", "task", task, "outcome", outcome, "error", err)
	}
}

var _ engine.Listener = (*recorder)(nil)
