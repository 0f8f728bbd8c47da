package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/jobboard"
)

// JobsChannel — канал LISTEN/NOTIFY для публикаций.
const JobsChannel = "taskflow_jobs"

const jobColumns = `id, name, inputs, state, owner, error, posted_on, posted_at, updated_at`

// JobBoard — доска job'ов в PostgreSQL.
//
// Несколько conductor'ов разделяют одну доску: владение
// захватывается под SELECT ... FOR UPDATE, а Await слушает
// NOTIFY на канале JobsChannel.
type JobBoard struct {
	pool      *pgxpool.Pool
	name      string
	notifiers []jobboard.Notifier
	logger    *slog.Logger
	closed    atomic.Bool
}

// NewJobBoard создаёт доску. name записывается в Job.PostedOn.
func NewJobBoard(pool *pgxpool.Pool, name string, logger *slog.Logger, notifiers ...jobboard.Notifier) *JobBoard {
	if name == "" {
		name = "postgres"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JobBoard{
		pool:      pool,
		name:      name,
		notifiers: notifiers,
		logger:    logger.With("component", "jobboard", "board", name),
	}
}

// Name возвращает имя доски.
func (b *JobBoard) Name() string {
	return b.name
}

// Post публикует job и отправляет NOTIFY в той же транзакции.
func (b *JobBoard) Post(ctx context.Context, job *domain.Job) error {
	if b.closed.Load() {
		return fmt.Errorf("post: %w", domain.ErrClosed)
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}

	inputsJSON, err := json.Marshal(job.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}

	now := time.Now().UTC()
	postedOn := append(append([]string(nil), job.PostedOn...), b.name)

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, name, inputs, state, owner, error, posted_on, posted_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, NULL, $5, $6, $6)
	`, job.ID, job.Name, inputsJSON, string(domain.JobStateUnclaimed), postedOn, now)
	if isUniqueViolation(err) {
		return fmt.Errorf("post job %s: %w", job.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, JobsChannel, job.ID.String()); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	job.State = domain.JobStateUnclaimed
	job.Owner = ""
	job.Error = ""
	job.PostedOn = postedOn
	job.PostedAt = now
	job.UpdatedAt = now

	b.logger.Debug("job posted", "job_id", job.ID, "flow", job.Name)
	for _, n := range b.notifiers {
		if err := n.NotifyPosted(ctx, job.Clone()); err != nil {
			b.logger.Warn("notify posted failed", "job_id", job.ID, "error", err)
		}
	}
	return nil
}

// Get возвращает job по ID.
func (b *JobBoard) Get(ctx context.Context, id uuid.UUID) (domain.Job, error) {
	if b.closed.Load() {
		return domain.Job{}, fmt.Errorf("get: %w", domain.ErrClosed)
	}
	job, err := scanJob(b.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.Job{}, err
	}
	return *job, nil
}

// PostedBefore возвращает job'ы с posted_at < t.
func (b *JobBoard) PostedBefore(ctx context.Context, t *time.Time) ([]domain.Job, error) {
	return b.listJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1::timestamptz IS NULL OR posted_at < $1)
		ORDER BY posted_at ASC
	`, t)
}

// PostedAfter возвращает job'ы с posted_at >= t.
func (b *JobBoard) PostedAfter(ctx context.Context, t *time.Time) ([]domain.Job, error) {
	return b.listJobs(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE ($1::timestamptz IS NULL OR posted_at >= $1)
		ORDER BY posted_at ASC
	`, t)
}

func (b *JobBoard) listJobs(ctx context.Context, query string, t *time.Time) ([]domain.Job, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("list: %w", domain.ErrClosed)
	}
	rows, err := b.pool.Query(ctx, query, t)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Erase удаляет завершённый job.
func (b *JobBoard) Erase(ctx context.Context, id uuid.UUID) error {
	if b.closed.Load() {
		return fmt.Errorf("erase: %w", domain.ErrClosed)
	}

	var erased domain.Job
	err := b.withLockedJob(ctx, id, func(tx pgx.Tx, job *domain.Job) error {
		if !job.IsFinished() {
			return fmt.Errorf("erase job %s in state %s: %w", id, job.State, ErrInvalidState)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		erased = *job
		return nil
	})
	if err != nil {
		return err
	}

	b.logger.Debug("job erased", "job_id", id)
	for _, n := range b.notifiers {
		if err := n.NotifyErased(ctx, erased); err != nil {
			b.logger.Warn("notify erased failed", "job_id", id, "error", err)
		}
	}
	return nil
}

// Await ждёт NOTIFY на канале JobsChannel.
// timeout <= 0 означает ожидание до отмены ctx.
func (b *JobBoard) Await(ctx context.Context, timeout time.Duration) (bool, error) {
	if b.closed.Load() {
		return false, fmt.Errorf("await: %w", domain.ErrClosed)
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+JobsChannel); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	defer func() {
		// UNLISTEN обязателен: соединение возвращается в пул.
		unlistenCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlistenCtx, "UNLISTEN "+JobsChannel); err != nil {
			conn.Conn().Close(unlistenCtx)
		}
	}()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	_, err = conn.Conn().WaitForNotification(waitCtx)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, fmt.Errorf("wait notification: %w", err)
	}
}

// Close закрывает доску. Пул закрывает владелец.
func (b *JobBoard) Close() error {
	b.closed.Store(true)
	return nil
}

// Claim назначает владельца job.
func (b *JobBoard) Claim(ctx context.Context, id uuid.UUID, owner string) error {
	return b.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		if owner == "" {
			return fmt.Errorf("claim job %s without owner: %w", id, domain.ErrUnclaimable)
		}
		if job.IsFinished() {
			return fmt.Errorf("claim job %s in state %s: %w", id, job.State, domain.ErrUnclaimable)
		}
		if job.IsClaimed() && job.Owner != owner {
			return fmt.Errorf("job %s is owned by %s: %w", id, job.Owner, domain.ErrUnclaimable)
		}
		if job.Owner != owner {
			job.Claim(owner, now)
		}
		return nil
	})
}

// Unclaim снимает владельца job.
func (b *JobBoard) Unclaim(ctx context.Context, id uuid.UUID, owner string) error {
	return b.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		if job.Owner != owner || owner == "" {
			return fmt.Errorf("job %s is not owned by %q: %w", id, owner, domain.ErrUnclaimable)
		}
		if job.IsFinished() {
			return fmt.Errorf("unclaim job %s in state %s: %w", id, job.State, ErrInvalidState)
		}
		job.Unclaim(now)
		return nil
	})
}

// Transition меняет состояние захваченного job.
func (b *JobBoard) Transition(ctx context.Context, id uuid.UUID, owner string, state domain.JobState, errMsg string) error {
	return b.mutate(ctx, id, func(job *domain.Job, now time.Time) error {
		if job.Owner != owner || owner == "" {
			return fmt.Errorf("job %s is not owned by %q: %w", id, owner, domain.ErrUnclaimable)
		}
		if !jobboard.CanTransition(job.State, state) {
			return fmt.Errorf("job %s: %s -> %s: %w", id, job.State, state, ErrInvalidState)
		}
		job.Transition(state, errMsg, now)
		return nil
	})
}

// mutate применяет fn к заблокированной строке и сохраняет
// state/owner/error/updated_at.
func (b *JobBoard) mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Job, time.Time) error) error {
	if b.closed.Load() {
		return domain.ErrClosed
	}
	return b.withLockedJob(ctx, id, func(tx pgx.Tx, job *domain.Job) error {
		before := job.UpdatedAt
		if err := fn(job, time.Now().UTC()); err != nil {
			return err
		}
		if job.UpdatedAt.Equal(before) {
			return nil
		}
		_, err := tx.Exec(ctx, `
			UPDATE jobs SET state = $2, owner = $3, error = $4, updated_at = $5
			WHERE id = $1
		`, job.ID, string(job.State), nullString(job.Owner), nullString(job.Error), job.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		return nil
	})
}

// withLockedJob выполняет fn в транзакции с SELECT ... FOR UPDATE.
func (b *JobBoard) withLockedJob(ctx context.Context, id uuid.UUID, fn func(pgx.Tx, *domain.Job) error) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
	}
	if err != nil {
		return err
	}

	if err := fn(tx, job); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// scanJob читает строку jobs. pgx.ErrNoRows возвращается как есть.
func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var state string
	var owner, errMsg *string
	var inputsJSON []byte

	err := row.Scan(
		&j.ID,
		&j.Name,
		&inputsJSON,
		&state,
		&owner,
		&errMsg,
		&j.PostedOn,
		&j.PostedAt,
		&j.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	parsed, ok := domain.ParseJobState(state)
	if !ok {
		return nil, fmt.Errorf("job %s: unknown state %q", j.ID, state)
	}
	j.State = parsed
	if owner != nil {
		j.Owner = *owner
	}
	if errMsg != nil {
		j.Error = *errMsg
	}
	if len(inputsJSON) > 0 && string(inputsJSON) != "null" {
		if err := json.Unmarshal(inputsJSON, &j.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
	}
	return &j, nil
}

// Проверка реализации интерфейсов.
var _ jobboard.ClaimBoard = (*JobBoard)(nil)
