// Package catalog содержит историю выполнения flow по job'ам.
//
// Catalog хранит для каждого job одну LogBook. LogBook хранит
// FlowDetail с уникальными именами, FlowDetail хранит TaskDetail
// (имена задач не уникальны: одна задача может иметь записи
// выполнения и отката).
//
// Реализации:
//   - MemoryCatalog — in-memory
//   - repo.Catalog  — PostgreSQL
package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Catalog — хранилище logbook'ов по job'ам.
type Catalog interface {
	// CreateOrFetch возвращает logbook job'а, создавая его при отсутствии.
	CreateOrFetch(ctx context.Context, jobID uuid.UUID) (LogBook, error)

	// Erase удаляет logbook job'а. Отсутствующий logbook не ошибка.
	Erase(ctx context.Context, jobID uuid.UUID) error

	// Contains проверяет наличие logbook'а.
	Contains(ctx context.Context, jobID uuid.UUID) (bool, error)

	// Len возвращает количество logbook'ов.
	Len(ctx context.Context) (int, error)

	// Close закрывает каталог и все выданные logbook'и.
	Close() error
}

// LogBook — история flow одного job'а.
type LogBook interface {
	// JobID возвращает ID job'а.
	JobID() uuid.UUID

	// AddFlow добавляет flow. Дубликат имени → domain.ErrAlreadyExists.
	AddFlow(ctx context.Context, name string) (FlowDetail, error)

	// Flow возвращает flow по имени. Отсутствие → domain.ErrNotFound.
	Flow(ctx context.Context, name string) (FlowDetail, error)

	// Flows возвращает flow в порядке добавления.
	Flows(ctx context.Context) ([]FlowDetail, error)

	// Contains проверяет наличие flow.
	Contains(ctx context.Context, name string) (bool, error)

	// RemoveFlow удаляет flow. Отсутствие → domain.ErrNotFound.
	RemoveFlow(ctx context.Context, name string) error

	// Len возвращает количество flow.
	Len(ctx context.Context) (int, error)

	// Close закрывает logbook.
	Close() error
}

// FlowDetail — записи о задачах одного flow.
type FlowDetail interface {
	// Name возвращает имя flow.
	Name() string

	// AddTask добавляет запись о задаче.
	AddTask(ctx context.Context, name string, metadata map[string]any) (TaskDetail, error)

	// Contains проверяет, есть ли записи с именем name.
	Contains(ctx context.Context, name string) (bool, error)

	// Tasks возвращает все записи с именем name.
	Tasks(ctx context.Context, name string) ([]TaskDetail, error)

	// All возвращает все записи в порядке добавления.
	All(ctx context.Context) ([]TaskDetail, error)

	// RemoveTasks удаляет все записи с именем name.
	RemoveTasks(ctx context.Context, name string) error

	// Len возвращает количество записей.
	Len(ctx context.Context) (int, error)
}

// TaskDetail — запись о задаче.
type TaskDetail struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewTaskDetail создаёт запись о задаче.
func NewTaskDetail(name string, metadata map[string]any, now time.Time) TaskDetail {
	return TaskDetail{
		ID:        uuid.New(),
		Name:      name,
		Metadata:  copyMetadata(metadata),
		CreatedAt: now,
	}
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	c := make(map[string]any, len(metadata))
	for k, v := range metadata {
		c[k] = v
	}
	return c
}

// FlowSummary — сериализуемое представление flow из logbook.
type FlowSummary struct {
	Name  string       `json:"name"`
	Tasks []TaskDetail `json:"tasks"`
}

// Snapshot возвращает все flow logbook'а с их записями.
// Используется API и CLI для вывода истории job'а.
func Snapshot(ctx context.Context, book LogBook) ([]FlowSummary, error) {
	flows, err := book.Flows(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]FlowSummary, 0, len(flows))
	for _, fd := range flows {
		tasks, err := fd.All(ctx)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, FlowSummary{Name: fd.Name(), Tasks: tasks})
	}
	return summaries, nil
}
