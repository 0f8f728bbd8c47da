package engine

import (
	"context"
)

// Inputs — разрешённые входы задачи (имя → значение).
//
// Если имя предоставляют несколько задач, значение — []any
// в порядке завершения producer'ов.
type Inputs map[string]any

// Outputs — результат задачи (имя → значение).
type Outputs map[string]any

// Func — единица работы задачи.
//
// fc — общий контекст flow, in — значения всех requires.
// Возвращённые Outputs должны содержать каждое имя из provides.
type Func func(ctx context.Context, fc *Context, in Inputs) (Outputs, error)

// RevertFunc — компенсация задачи.
//
// result — ровно то, что вернула задача. cause содержит flow
// (в состоянии REVERTING) и ошибку, вызвавшую откат.
type RevertFunc func(ctx context.Context, fc *Context, result Outputs, cause *Cause) error

// Cause — причина отката, передаваемая компенсациям.
type Cause struct {
	// Flow — flow, который откатывается. Только для чтения.
	Flow *Flow

	// Task — задача, которая упала.
	Task *Task

	// Err — исходная ошибка задачи.
	Err error
}

// Task — неизменяемый дескриптор задачи.
//
// Создаётся через NewTask(...).Build(). Проверки (уникальность имени,
// наличие producer'ов) выполняются на уровне графа.
type Task struct {
	name     string
	requires []string
	provides []string
	fn       Func
	revert   RevertFunc
}

// Name возвращает имя задачи.
func (t *Task) Name() string {
	return t.name
}

// Requires возвращает копию списка требуемых имён.
func (t *Task) Requires() []string {
	return append([]string(nil), t.requires...)
}

// Provides возвращает копию списка предоставляемых имён.
func (t *Task) Provides() []string {
	return append([]string(nil), t.provides...)
}

// HasRevert возвращает true, если у задачи есть компенсация.
func (t *Task) HasRevert() bool {
	return t.revert != nil
}

// String реализует fmt.Stringer.
func (t *Task) String() string {
	return t.name
}

// TaskBuilder собирает Task.
type TaskBuilder struct {
	task Task
}

// NewTask начинает сборку задачи с именем name и единицей работы fn.
// nil fn означает задачу, которая ничего не делает и ничего не возвращает.
func NewTask(name string, fn Func) *TaskBuilder {
	return &TaskBuilder{task: Task{name: name, fn: fn}}
}

// Requires добавляет требуемые имена. Повторы игнорируются.
func (b *TaskBuilder) Requires(names ...string) *TaskBuilder {
	b.task.requires = appendUnique(b.task.requires, names...)
	return b
}

// Provides добавляет предоставляемые имена. Повторы игнорируются.
func (b *TaskBuilder) Provides(names ...string) *TaskBuilder {
	b.task.provides = appendUnique(b.task.provides, names...)
	return b
}

// RevertWith задаёт компенсацию.
func (b *TaskBuilder) RevertWith(fn RevertFunc) *TaskBuilder {
	b.task.revert = fn
	return b
}

// Build возвращает готовый дескриптор.
// Builder можно продолжать использовать: изменения не затронут
// уже собранные задачи.
func (b *TaskBuilder) Build() *Task {
	t := b.task
	t.requires = append([]string(nil), b.task.requires...)
	t.provides = append([]string(nil), b.task.provides...)
	return &t
}

func appendUnique(dst []string, names ...string) []string {
	for _, name := range names {
		seen := false
		for _, existing := range dst {
			if existing == name {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, name)
		}
	}
	return dst
}
