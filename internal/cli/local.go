package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/conductor"
	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/steps"
)

// localOwner — владелец job'ов при локальном запуске.
const localOwner = "taskflow-cli"

// LocalResult — итог локального выполнения flow.
type LocalResult struct {
	Job   domain.Job            `json:"job"`
	Flows []catalog.FlowSummary `json:"flows"`
}

// Succeeded сообщает, завершился ли job успешно.
func (r *LocalResult) Succeeded() bool {
	return r.Job.State == domain.JobStateSuccess
}

// LoadFlow читает spec из файла и собирает flow.
func LoadFlow(path string, registry *steps.Registry) (*domain.FlowSpec, *engine.Flow, error) {
	spec, err := engine.LoadSpecFile(path)
	if err != nil {
		return nil, nil, err
	}

	flow, err := steps.Build(spec, registry)
	if err != nil {
		return nil, nil, fmt.Errorf("spec %s: %w", path, err)
	}
	return spec, flow, nil
}

// RunLocal выполняет flow в процессе на in-memory доске и каталоге.
//
// Job проходит тот же путь, что и на сервере: публикация, захват
// conductor'ом, выполнение с записью в logbook.
func RunLocal(ctx context.Context, spec *domain.FlowSpec, inputs map[string]any, registry *steps.Registry, logger *slog.Logger) (*LocalResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	flows := conductor.NewRegistry()
	if err := flows.RegisterSpec(spec, registry); err != nil {
		return nil, err
	}

	board := jobboard.NewMemoryBoard(jobboard.Config{Name: "local", Logger: logger})
	defer board.Close()

	cat := catalog.NewMemoryCatalog()
	defer cat.Close()

	job := domain.NewJob(spec.Name, inputs)
	if err := board.Post(ctx, job); err != nil {
		return nil, fmt.Errorf("post job: %w", err)
	}

	c := conductor.New(conductor.Config{
		Board:       board,
		Catalog:     cat,
		Flows:       flows,
		Owner:       localOwner,
		Concurrency: 1,
		Logger:      logger,
	})

	n, err := c.RunOnce(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("job %s was not processed", job.ID)
	}

	finished, err := board.Get(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	book, err := cat.CreateOrFetch(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	summaries, err := catalog.Snapshot(ctx, book)
	if err != nil {
		return nil, err
	}

	return &LocalResult{Job: finished, Flows: summaries}, nil
}
