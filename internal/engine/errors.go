package engine

import (
	"errors"
	"strings"

	"github.com/shaiso/taskflow/internal/domain"
)

// Ошибки построения графа.
var (
	// ErrDuplicateTask — несколько задач с одинаковым именем.
	ErrDuplicateTask = errors.New("duplicate task")

	// ErrAmbiguousProvider — несколько задач предоставляют одно имя.
	ErrAmbiguousProvider = errors.New("ambiguous provider")

	// ErrUnresolvedRequirement — требуемое имя никто не предоставляет.
	ErrUnresolvedRequirement = errors.New("unresolved requirement")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("circular dependency")
)

// Ошибки состояния flow.
var (
	// ErrFlowNotPending — операция разрешена только в PENDING.
	ErrFlowNotPending = errors.New("flow is not pending")

	// ErrFlowBusy — flow выполняется или откатывается.
	ErrFlowBusy = errors.New("flow is running")

	// ErrNilTask — в flow добавлена nil задача.
	ErrNilTask = errors.New("nil task")
)

// Ошибки выполнения задач.
var (
	// ErrMissingOutput — задача не вернула объявленный выход.
	ErrMissingOutput = errors.New("task did not provide declared output")

	// ErrTaskPanic — задача или компенсация запаниковала.
	ErrTaskPanic = errors.New("task panicked")
)

// Ошибки валидации FlowSpec.
var (
	// ErrEmptyTasks — spec не содержит задач.
	ErrEmptyTasks = errors.New("flow spec has no tasks")

	// ErrEmptyTaskName — задача без имени.
	ErrEmptyTaskName = errors.New("task has empty name")

	// ErrEmptyTaskType — задача без типа.
	ErrEmptyTaskType = errors.New("task has empty type")

	// ErrUnknownOutput — шаблон output для имени, которого нет в provides.
	ErrUnknownOutput = errors.New("output is not provided")

	// ErrMalformedSpec — spec не разбирается как JSON/YAML.
	ErrMalformedSpec = errors.New("malformed flow spec")

	// ErrUnsupportedFormat — неизвестный формат файла spec.
	ErrUnsupportedFormat = errors.New("unsupported spec format")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// StateError — ошибка вида invalid state.
//
// Покрывает и невалидный граф, и операцию в неподходящем состоянии.
// errors.Is(err, domain.ErrInvalidState) всегда true,
// конкретная причина проверяется по Err.
type StateError struct {
	Flow    string // имя flow
	Task    string // задача, на которой обнаружена проблема (может быть пустым)
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *StateError) Error() string {
	var b strings.Builder
	if e.Flow != "" {
		b.WriteString("flow " + e.Flow + ": ")
	}
	if e.Task != "" {
		b.WriteString("task " + e.Task + ": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap возвращает базовую ошибку и вид domain.ErrInvalidState.
func (e *StateError) Unwrap() []error {
	return []error{e.Err, domain.ErrInvalidState}
}

func newStateError(flow, task, message string, err error) *StateError {
	return &StateError{
		Flow:    flow,
		Task:    task,
		Message: message,
		Err:     err,
	}
}

// TaskError — падение задачи, вызвавшее откат flow.
// Возвращается из Flow.Run после выполнения всех компенсаций.
type TaskError struct {
	Flow string
	Task string
	Err  error
}

// Error реализует интерфейс error.
func (e *TaskError) Error() string {
	return "flow " + e.Flow + ": task " + e.Task + " failed: " + e.Err.Error()
}

// Unwrap возвращает исходную ошибку задачи.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// ValidationError — ошибка валидации FlowSpec с контекстом.
type ValidationError struct {
	TaskName string // имя задачи, где произошла ошибка
	Field    string // поле, вызвавшее ошибку
	Message  string // описание ошибки
	Err      error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.TaskName != "" {
		return "task " + e.TaskName + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(taskName, field, message string, err error) *ValidationError {
	return &ValidationError{
		TaskName: taskName,
		Field:    field,
		Message:  message,
		Err:      err,
	}
}
