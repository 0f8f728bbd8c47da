package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/shaiso/taskflow/internal/domain"
)

// Result — запись о завершённой задаче.
type Result struct {
	// Task — выполненная задача.
	Task *Task

	// Outputs — ровно то, что вернула задача.
	Outputs Outputs

	// Inputs — разрешённые входы, переданные задаче.
	Inputs Inputs
}

// Listener наблюдает за выполнением flow.
//
// Методы вызываются синхронно в горутине Run, без удержания блокировок flow.
type Listener interface {
	// OnStateChange вызывается при каждом переходе состояния.
	OnStateChange(f *Flow, from, to domain.FlowState)

	// OnTaskDone вызывается после успешного выполнения задачи.
	OnTaskDone(f *Flow, result Result, duration time.Duration)

	// OnTaskFailed вызывается, когда задача вернула ошибку.
	OnTaskFailed(f *Flow, task *Task, err error)

	// OnTaskReverted вызывается после компенсации задачи.
	// err != nil, если компенсация завершилась ошибкой.
	OnTaskReverted(f *Flow, task *Task, err error)
}

// NopListener — Listener, который ничего не делает.
// Встраивается в listener'ы, которым нужна часть событий.
type NopListener struct{}

func (NopListener) OnStateChange(*Flow, domain.FlowState, domain.FlowState) {}
func (NopListener) OnTaskDone(*Flow, Result, time.Duration)                 {}
func (NopListener) OnTaskFailed(*Flow, *Task, error)                        {}
func (NopListener) OnTaskReverted(*Flow, *Task, error)                      {}

// Option настраивает Flow.
type Option func(*Flow)

// WithSameInputs разрешает или запрещает нескольким задачам
// предоставлять одно и то же имя. По умолчанию разрешено.
func WithSameInputs(allow bool) Option {
	return func(f *Flow) {
		f.allowSameInputs = allow
	}
}

// WithLogger задаёт логгер flow.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithListener добавляет listener.
func WithListener(l Listener) Option {
	return func(f *Flow) {
		if l != nil {
			f.listeners = append(f.listeners, l)
		}
	}
}

// Flow — набор задач с графом зависимостей и состоянием выполнения.
//
// Flow однопоточный: Run, Add, Connect и Order нельзя вызывать
// конкурентно. Чтение State, Results и Err безопасно из других горутин.
type Flow struct {
	name            string
	allowSameInputs bool
	logger          *slog.Logger

	mu        sync.RWMutex
	state     domain.FlowState
	tasks     []*Task
	results   []Result
	err       error
	listeners []Listener
}

// NewFlow создаёт flow в состоянии PENDING.
func NewFlow(name string, opts ...Option) *Flow {
	f := &Flow{
		name:            name,
		allowSameInputs: true,
		logger:          slog.Default(),
		state:           domain.FlowStatePending,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("flow", name)
	return f
}

// Name возвращает имя flow.
func (f *Flow) Name() string {
	return f.name
}

// SameInputsAllowed возвращает значение allowSameInputs.
func (f *Flow) SameInputsAllowed() bool {
	return f.allowSameInputs
}

// State возвращает текущее состояние.
func (f *Flow) State() domain.FlowState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// Tasks возвращает задачи в порядке добавления.
func (f *Flow) Tasks() []*Task {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]*Task(nil), f.tasks...)
}

// Results возвращает копию журнала результатов в порядке завершения.
func (f *Flow) Results() []Result {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Result(nil), f.results...)
}

// Err возвращает ошибку, с которой flow перешёл в FAILURE.
func (f *Flow) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.err
}

// AddListener добавляет listener.
func (f *Flow) AddListener(l Listener) {
	if l == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

// Add добавляет задачи. Разрешено только в PENDING.
// Граф при этом не валидируется.
func (f *Flow) Add(tasks ...*Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != domain.FlowStatePending {
		return newStateError(f.name, "", "cannot add tasks in state "+f.state.String(), ErrFlowNotPending)
	}
	for i, task := range tasks {
		if task == nil {
			return newStateError(f.name, "", fmt.Sprintf("task #%d is nil", i), ErrNilTask)
		}
	}
	f.tasks = append(f.tasks, tasks...)
	return nil
}

// Connect строит и валидирует граф из текущих задач.
// Состояние flow не меняется.
func (f *Flow) Connect() (*Graph, error) {
	f.mu.RLock()
	state := f.state
	tasks := append([]*Task(nil), f.tasks...)
	f.mu.RUnlock()

	if state == domain.FlowStateRunning || state == domain.FlowStateReverting {
		return nil, newStateError(f.name, "", "cannot connect in state "+state.String(), ErrFlowBusy)
	}
	return f.connect(tasks)
}

func (f *Flow) connect(tasks []*Task) (*Graph, error) {
	g, err := Connect(tasks, f.allowSameInputs)
	if err != nil {
		var se *StateError
		if errors.As(err, &se) {
			se.Flow = f.name
		}
		return nil, err
	}
	return g, nil
}

// Order возвращает задачи в порядке выполнения.
//
// Если flow в PENDING и граф невалиден, flow переходит в FAILURE.
func (f *Flow) Order() ([]*Task, error) {
	f.mu.RLock()
	state := f.state
	tasks := append([]*Task(nil), f.tasks...)
	f.mu.RUnlock()

	if state == domain.FlowStateRunning || state == domain.FlowStateReverting {
		return nil, newStateError(f.name, "", "cannot order in state "+state.String(), ErrFlowBusy)
	}

	g, err := f.connect(tasks)
	if err != nil {
		if state == domain.FlowStatePending {
			f.fail(domain.FlowStatePending, err)
		}
		return nil, err
	}
	return g.Order(), nil
}

// Run выполняет flow.
//
// Разрешено только из PENDING. При ошибке валидации flow сразу
// переходит в FAILURE с пустыми results. При падении задачи
// компенсации завершённых задач вызываются в обратном порядке,
// после чего flow переходит в FAILURE и возвращается *TaskError.
func (f *Flow) Run(ctx context.Context, fc *Context) error {
	if fc == nil {
		fc = NewContext(nil)
	}

	f.mu.RLock()
	state := f.state
	tasks := append([]*Task(nil), f.tasks...)
	f.mu.RUnlock()

	if state != domain.FlowStatePending {
		return newStateError(f.name, "", "cannot run in state "+state.String(), ErrFlowNotPending)
	}

	g, err := f.connect(tasks)
	if err != nil {
		f.logger.Warn("flow validation failed", "error", err)
		f.fail(domain.FlowStatePending, err)
		return err
	}

	f.setState(domain.FlowStateRunning)
	f.logger.Debug("flow started", "tasks", g.Len())

	// pool — имя → значения в порядке завершения producer'ов
	pool := make(map[string][]any)

	for _, task := range g.Order() {
		if err := ctx.Err(); err != nil {
			return f.revert(ctx, fc, task, err)
		}

		in := resolveInputs(g, task, pool)

		// задача получает свою копию входов, Result хранит исходные
		start := time.Now()
		out, err := f.invoke(ctx, fc, task, maps.Clone(in))
		if err == nil {
			err = checkOutputs(task, out)
		}
		if err != nil {
			return f.revert(ctx, fc, task, err)
		}

		for _, name := range task.provides {
			pool[name] = append(pool[name], out[name])
		}

		result := Result{Task: task, Outputs: maps.Clone(out), Inputs: in}
		f.mu.Lock()
		f.results = append(f.results, result)
		f.mu.Unlock()

		f.logger.Debug("task completed", "task", task.name, "duration", time.Since(start))
		for _, l := range f.snapshotListeners() {
			l.OnTaskDone(f, result, time.Since(start))
		}
	}

	f.setState(domain.FlowStateSuccess)
	f.logger.Debug("flow completed")
	return nil
}

// resolveInputs собирает входы задачи из пула.
// Имя с одним producer'ом даёт значение, с несколькими — []any.
func resolveInputs(g *Graph, task *Task, pool map[string][]any) Inputs {
	in := make(Inputs, len(task.requires))
	for _, name := range task.requires {
		values := pool[name]
		if len(g.providers[name]) > 1 {
			in[name] = append([]any(nil), values...)
			continue
		}
		if len(values) > 0 {
			in[name] = values[0]
		}
	}
	return in
}

// checkOutputs проверяет, что задача вернула все объявленные выходы.
func checkOutputs(task *Task, out Outputs) error {
	for _, name := range task.provides {
		if _, ok := out[name]; !ok {
			return fmt.Errorf("%w: %q", ErrMissingOutput, name)
		}
	}
	return nil
}

// invoke вызывает задачу, превращая панику в ошибку.
func (f *Flow) invoke(ctx context.Context, fc *Context, task *Task, in Inputs) (out Outputs, err error) {
	if task.fn == nil {
		return Outputs{}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
		}
	}()

	f.logger.Debug("task started", "task", task.name)
	out, err = task.fn(ctx, fc, in)
	if out == nil {
		out = Outputs{}
	}
	return out, err
}

// revert выполняет компенсации и переводит flow в FAILURE.
func (f *Flow) revert(ctx context.Context, fc *Context, failed *Task, cause error) error {
	f.logger.Warn("task failed, reverting", "task", failed.name, "error", cause)
	for _, l := range f.snapshotListeners() {
		l.OnTaskFailed(f, failed, cause)
	}

	f.setState(domain.FlowStateReverting)

	// Компенсации выполняются даже при отменённом ctx
	rctx := context.WithoutCancel(ctx)
	c := &Cause{Flow: f, Task: failed, Err: cause}

	results := f.Results()
	for i := len(results) - 1; i >= 0; i-- {
		task := results[i].Task
		if task.revert == nil {
			continue
		}

		err := safeRevert(rctx, fc, task, results[i].Outputs, c)
		if err != nil {
			f.logger.Error("revert failed", "task", task.name, "error", err)
		} else {
			f.logger.Debug("task reverted", "task", task.name)
		}
		for _, l := range f.snapshotListeners() {
			l.OnTaskReverted(f, task, err)
		}
	}

	taskErr := &TaskError{Flow: f.name, Task: failed.name, Err: cause}
	f.fail(domain.FlowStateReverting, taskErr)
	return taskErr
}

func safeRevert(ctx context.Context, fc *Context, task *Task, result Outputs, cause *Cause) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: revert: %v", ErrTaskPanic, r)
		}
	}()
	return task.revert(ctx, fc, result, cause)
}

// setState меняет состояние и уведомляет listener'ов.
func (f *Flow) setState(to domain.FlowState) {
	f.mu.Lock()
	from := f.state
	f.state = to
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(f, from, to)
	}
}

// fail переводит flow из from в FAILURE с ошибкой err.
func (f *Flow) fail(from domain.FlowState, err error) {
	f.mu.Lock()
	if f.state != from {
		f.mu.Unlock()
		return
	}
	f.state = domain.FlowStateFailure
	f.err = err
	listeners := append([]Listener(nil), f.listeners...)
	f.mu.Unlock()

	for _, l := range listeners {
		l.OnStateChange(f, from, domain.FlowStateFailure)
	}
}

func (f *Flow) snapshotListeners() []Listener {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]Listener(nil), f.listeners...)
}
