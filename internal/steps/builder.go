package steps

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
)

// Build создаёт engine.Flow из FlowSpec.
//
// Для каждой TaskDef создаётся задача, которая:
//  1. Рендерит Config с данными {Inputs, Requires, Env}
//  2. Выполняет шаг из registry с таймаутом TimeoutSec
//  3. Извлекает provides из ответа шага через шаблоны Outputs
//     (без шаблона берётся одноимённый output шага)
//
// RevertDef превращается в компенсацию: шаблоны видят .Result и .Error.
func Build(spec *domain.FlowSpec, registry *Registry, opts ...engine.Option) (*engine.Flow, error) {
	if err := engine.Validate(spec); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = DefaultRegistry()
	}
	if err := registry.Check(spec); err != nil {
		return nil, err
	}

	opts = append([]engine.Option{engine.WithSameInputs(spec.SameInputsAllowed())}, opts...)
	flow := engine.NewFlow(spec.Name, opts...)

	for i := range spec.Tasks {
		task, err := BuildTask(&spec.Tasks[i], registry)
		if err != nil {
			return nil, err
		}
		if err := flow.Add(task); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

// BuildTask создаёт engine.Task из TaskDef.
func BuildTask(def *domain.TaskDef, registry *Registry) (*engine.Task, error) {
	step, revertStep, err := registry.Resolve(def)
	if err != nil {
		return nil, err
	}

	b := &taskBinding{def: *def, step: step, revertStep: revertStep}

	builder := engine.NewTask(def.Name, b.run).
		Requires(def.Requires...).
		Provides(def.Provides...)
	if revertStep != nil {
		builder = builder.RevertWith(b.revert)
	}

	return builder.Build(), nil
}

// taskBinding связывает TaskDef с реализацией шага.
type taskBinding struct {
	def        domain.TaskDef
	step       Step
	revertStep Step
}

func (b *taskBinding) timeout() time.Duration {
	return time.Duration(b.def.TimeoutSec) * time.Second
}

// run выполняет шаг задачи.
func (b *taskBinding) run(ctx context.Context, fc *engine.Context, in engine.Inputs) (engine.Outputs, error) {
	data := engine.NewTemplateData(fc, in)

	config, err := renderConfig(b.step, b.def.Config, data)
	if err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}

	resp, err := b.execute(ctx, b.step, config, data)
	if err != nil {
		return nil, err
	}

	return b.extractOutputs(resp, data)
}

// revert выполняет шаг компенсации.
func (b *taskBinding) revert(ctx context.Context, fc *engine.Context, result engine.Outputs, cause *engine.Cause) error {
	data := engine.NewTemplateData(fc, nil)
	data.Result = result
	if cause != nil && cause.Err != nil {
		data.Error = cause.Err.Error()
	}

	config, err := renderConfig(b.revertStep, b.def.Revert.Config, data)
	if err != nil {
		return fmt.Errorf("render revert config: %w", err)
	}

	_, err = b.execute(ctx, b.revertStep, config, data)
	return err
}

// rawConfigStep — шаг, который сам рендерит часть своей конфигурации.
type rawConfigStep interface {
	RawConfigKeys() []string
}

// renderConfig рендерит конфигурацию шага, оставляя ключи
// RawConfigKeys как есть.
func renderConfig(step Step, config map[string]any, data *engine.TemplateData) (map[string]any, error) {
	raw, ok := step.(rawConfigStep)
	if !ok {
		return engine.RenderConfig(config, data)
	}

	keys := raw.RawConfigKeys()
	rest := make(map[string]any, len(config))
	for k, v := range config {
		if !slices.Contains(keys, k) {
			rest[k] = v
		}
	}

	rendered, err := engine.RenderConfig(rest, data)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if v, ok := config[k]; ok {
			rendered[k] = v
		}
	}
	return rendered, nil
}

// execute выполняет шаг с таймаутом задачи.
func (b *taskBinding) execute(ctx context.Context, step Step, config map[string]any, data *engine.TemplateData) (*Response, error) {
	timeout := b.timeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := step.Execute(ctx, NewRequest(b.def.Name, config, data, timeout))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrStepTimeout, b.def.Name, timeout)
		}
		return nil, err
	}
	if resp == nil {
		resp = EmptyResponse()
	}
	return resp, nil
}

// extractOutputs извлекает provides задачи из ответа шага.
// Имена без шаблона и без одноимённого output пропускаются:
// engine отметит их как отсутствующие.
func (b *taskBinding) extractOutputs(resp *Response, data *engine.TemplateData) (engine.Outputs, error) {
	data.Response = resp.Outputs

	out := make(engine.Outputs, len(b.def.Provides))
	for _, name := range b.def.Provides {
		if tmpl, ok := b.def.Outputs[name]; ok {
			v, err := engine.RenderOutput(tmpl, data)
			if err != nil {
				return nil, fmt.Errorf("output %s: %w", name, err)
			}
			out[name] = v
			continue
		}
		if v, ok := resp.Outputs[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
