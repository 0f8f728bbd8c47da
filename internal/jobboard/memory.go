package jobboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/domain"
)

// Config — конфигурация MemoryBoard.
type Config struct {
	// Name — имя доски. По умолчанию "memory".
	Name string

	// Clock — источник времени. По умолчанию time.Now (UTC).
	Clock func() time.Time

	// Notifiers — получатели уведомлений о публикации и удалении.
	Notifiers []Notifier

	// Logger — логгер.
	Logger *slog.Logger
}

// MemoryBoard — in-memory доска job'ов.
//
// Чтение (PostedBefore/PostedAfter/Get) идёт параллельно,
// запись (Post/Erase/Claim) сериализуется.
// Await реализован закрытием канала: каждый Post закрывает текущий
// канал posted и создаёт новый, пробуждая всех ожидающих.
type MemoryBoard struct {
	name      string
	clock     func() time.Time
	notifiers []Notifier
	logger    *slog.Logger

	mu     sync.RWMutex
	jobs   map[uuid.UUID]*domain.Job
	closed bool
	posted chan struct{}
	done   chan struct{}
}

// NewMemoryBoard создаёт новую in-memory доску.
func NewMemoryBoard(cfg Config) *MemoryBoard {
	if cfg.Name == "" {
		cfg.Name = "memory"
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &MemoryBoard{
		name:      cfg.Name,
		clock:     cfg.Clock,
		notifiers: cfg.Notifiers,
		logger:    cfg.Logger.With("component", "jobboard", "board", cfg.Name),
		jobs:      make(map[uuid.UUID]*domain.Job),
		posted:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Name возвращает имя доски.
func (b *MemoryBoard) Name() string {
	return b.name
}

// Post публикует job.
func (b *MemoryBoard) Post(ctx context.Context, job *domain.Job) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("post: %w", domain.ErrClosed)
	}

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if _, exists := b.jobs[job.ID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("post job %s: %w", job.ID, domain.ErrAlreadyExists)
	}

	now := b.clock()
	job.State = domain.JobStateUnclaimed
	job.Owner = ""
	job.PostedAt = now
	job.UpdatedAt = now
	job.PostedOn = append(job.PostedOn, b.name)

	stored := job.Clone()
	b.jobs[job.ID] = &stored
	b.wakeLocked()
	b.mu.Unlock()

	b.logger.Debug("job posted", "job_id", job.ID, "flow", job.Name)
	b.notifyPosted(ctx, stored)
	return nil
}

// Repost повторно уведомляет ожидающих о существующем job.
func (b *MemoryBoard) Repost(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("repost: %w", domain.ErrClosed)
	}
	job, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("repost job %s: %w", id, domain.ErrJobNotFound)
	}
	snapshot := job.Clone()
	b.wakeLocked()
	b.mu.Unlock()

	b.notifyPosted(ctx, snapshot)
	return nil
}

// wakeLocked будит всех ожидающих в Await. Вызывается под b.mu.
func (b *MemoryBoard) wakeLocked() {
	close(b.posted)
	b.posted = make(chan struct{})
}

// Get возвращает копию job.
func (b *MemoryBoard) Get(_ context.Context, id uuid.UUID) (domain.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return domain.Job{}, fmt.Errorf("get: %w", domain.ErrClosed)
	}
	job, ok := b.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// PostedBefore возвращает job'ы с PostedAt < t.
func (b *MemoryBoard) PostedBefore(_ context.Context, t *time.Time) ([]domain.Job, error) {
	return b.selectPosts(func(postedAt time.Time) bool {
		return t == nil || postedAt.Before(*t)
	})
}

// PostedAfter возвращает job'ы с PostedAt >= t.
func (b *MemoryBoard) PostedAfter(_ context.Context, t *time.Time) ([]domain.Job, error) {
	return b.selectPosts(func(postedAt time.Time) bool {
		return t == nil || !postedAt.Before(*t)
	})
}

// selectPosts возвращает копии job'ов в порядке публикации.
func (b *MemoryBoard) selectPosts(match func(time.Time) bool) ([]domain.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("list: %w", domain.ErrClosed)
	}

	jobs := make([]domain.Job, 0, len(b.jobs))
	for _, job := range b.jobs {
		if match(job.PostedAt) {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].PostedAt.Before(jobs[j].PostedAt)
	})
	return jobs, nil
}

// Erase удаляет завершённый job.
func (b *MemoryBoard) Erase(ctx context.Context, id uuid.UUID) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("erase: %w", domain.ErrClosed)
	}

	job, ok := b.jobs[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("erase job %s: %w", id, domain.ErrJobNotFound)
	}
	if !job.IsFinished() {
		b.mu.Unlock()
		return fmt.Errorf("erase job %s in state %s: %w", id, job.State, domain.ErrInvalidState)
	}

	snapshot := job.Clone()
	delete(b.jobs, id)
	b.mu.Unlock()

	b.logger.Debug("job erased", "job_id", id)
	for _, n := range b.notifiers {
		if err := n.NotifyErased(ctx, snapshot); err != nil {
			b.logger.Warn("notify erased failed", "job_id", id, "error", err)
		}
	}
	return nil
}

// Await ждёт следующей публикации.
// timeout <= 0 означает ожидание до отмены ctx.
func (b *MemoryBoard) Await(ctx context.Context, timeout time.Duration) (bool, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return false, fmt.Errorf("await: %w", domain.ErrClosed)
	}
	posted := b.posted
	b.mu.RUnlock()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-posted:
		return true, nil
	case <-expired:
		return false, nil
	case <-b.done:
		return false, fmt.Errorf("await: %w", domain.ErrClosed)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Close закрывает доску и будит всех ожидающих.
func (b *MemoryBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

// Len возвращает количество job'ов на доске.
func (b *MemoryBoard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.jobs)
}

// Claim назначает владельца job.
func (b *MemoryBoard) Claim(_ context.Context, id uuid.UUID, owner string) error {
	return b.update(id, func(job *domain.Job) error {
		if owner == "" {
			return fmt.Errorf("claim job %s without owner: %w", id, domain.ErrUnclaimable)
		}
		if job.IsFinished() {
			return fmt.Errorf("claim job %s in state %s: %w", id, job.State, domain.ErrUnclaimable)
		}
		if job.IsClaimed() && job.Owner != owner {
			return fmt.Errorf("job %s is owned by %s: %w", id, job.Owner, domain.ErrUnclaimable)
		}
		if job.Owner == owner {
			return nil
		}
		job.Claim(owner, b.clock())
		return nil
	})
}

// Unclaim снимает владельца job.
func (b *MemoryBoard) Unclaim(_ context.Context, id uuid.UUID, owner string) error {
	return b.update(id, func(job *domain.Job) error {
		if job.Owner != owner || owner == "" {
			return fmt.Errorf("job %s is not owned by %q: %w", id, owner, domain.ErrUnclaimable)
		}
		if job.IsFinished() {
			return fmt.Errorf("unclaim job %s in state %s: %w", id, job.State, domain.ErrInvalidState)
		}
		job.Unclaim(b.clock())
		return nil
	})
}

// Transition меняет состояние захваченного job.
func (b *MemoryBoard) Transition(_ context.Context, id uuid.UUID, owner string, state domain.JobState, errMsg string) error {
	return b.update(id, func(job *domain.Job) error {
		if job.Owner != owner || owner == "" {
			return fmt.Errorf("job %s is not owned by %q: %w", id, owner, domain.ErrUnclaimable)
		}
		if !CanTransition(job.State, state) {
			return fmt.Errorf("job %s: %s -> %s: %w", id, job.State, state, domain.ErrInvalidState)
		}
		job.Transition(state, errMsg, b.clock())
		return nil
	})
}

// update применяет fn к job под блокировкой записи.
func (b *MemoryBoard) update(id uuid.UUID, fn func(*domain.Job) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return domain.ErrClosed
	}
	job, ok := b.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	return fn(job)
}

func (b *MemoryBoard) notifyPosted(ctx context.Context, job domain.Job) {
	for _, n := range b.notifiers {
		if err := n.NotifyPosted(ctx, job); err != nil {
			b.logger.Warn("notify posted failed", "job_id", job.ID, "error", err)
		}
	}
}

// Проверка реализации интерфейсов.
var _ ClaimBoard = (*MemoryBoard)(nil)
