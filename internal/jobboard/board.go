// Package jobboard содержит доску job'ов: публикация, захват владельцем,
// ожидание новых публикаций и стирание завершённых job'ов.
//
// Реализации:
//   - MemoryBoard  — in-memory (тесты, локальный запуск flow из CLI)
//   - repo.JobBoard — PostgreSQL (общая доска для нескольких conductor'ов)
package jobboard

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/domain"
)

// Board — доска, на которую публикуются job'ы.
type Board interface {
	// Name возвращает имя доски (записывается в Job.PostedOn).
	Name() string

	// Post публикует job. Если ID не задан, он генерируется.
	// Job на стороне вызывающего обновляется (ID, PostedAt, State, PostedOn).
	Post(ctx context.Context, job *domain.Job) error

	// Get возвращает копию job.
	Get(ctx context.Context, id uuid.UUID) (domain.Job, error)

	// PostedBefore возвращает job'ы, опубликованные строго до t.
	// nil означает все job'ы.
	PostedBefore(ctx context.Context, t *time.Time) ([]domain.Job, error)

	// PostedAfter возвращает job'ы, опубликованные в момент t или позже.
	// nil означает все job'ы.
	PostedAfter(ctx context.Context, t *time.Time) ([]domain.Job, error)

	// Erase удаляет завершённый (SUCCESS/FAILURE) job.
	Erase(ctx context.Context, id uuid.UUID) error

	// Await ждёт следующей публикации не дольше timeout.
	// Возвращает true, если публикация произошла.
	// Ожидание edge-triggered: после пробуждения нужно перечитать доску.
	Await(ctx context.Context, timeout time.Duration) (bool, error)

	// Close закрывает доску. Дальнейшие операции возвращают domain.ErrClosed.
	Close() error
}

// Claimer управляет владением job'ами.
type Claimer interface {
	// Claim назначает владельца. Job уже захваченный другим владельцем
	// или завершённый возвращает domain.ErrUnclaimable.
	Claim(ctx context.Context, id uuid.UUID, owner string) error

	// Unclaim снимает владельца и возвращает job в UNCLAIMED.
	Unclaim(ctx context.Context, id uuid.UUID, owner string) error

	// Transition меняет состояние захваченного job.
	Transition(ctx context.Context, id uuid.UUID, owner string, state domain.JobState, errMsg string) error
}

// Notifier получает уведомления о публикации и удалении job'ов.
type Notifier interface {
	NotifyPosted(ctx context.Context, job domain.Job) error
	NotifyErased(ctx context.Context, job domain.Job) error
}

// ClaimBoard — доска с поддержкой владения.
type ClaimBoard interface {
	Board
	Claimer
}

// CanTransition проверяет переход job из from в to для владельца.
//
//	CLAIMED → RUNNING | SUCCESS | FAILURE
//	RUNNING → SUCCESS | FAILURE
func CanTransition(from, to domain.JobState) bool {
	switch from {
	case domain.JobStateClaimed:
		return to == domain.JobStateRunning || to.IsTerminal()
	case domain.JobStateRunning:
		return to.IsTerminal()
	default:
		return false
	}
}
