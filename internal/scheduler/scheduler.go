package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/telemetry"
)

// ScheduleStore — хранилище расписаний.
// Реализации: MemoryStore, repo.ScheduleRepo.
type ScheduleStore interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Schedule, error)
	Update(ctx context.Context, schedule *domain.Schedule) error
}

// FlowChecker сообщает, известен ли flow (conductor.Registry).
type FlowChecker interface {
	Has(name string) bool
}

// Scheduler — планировщик, обрабатывающий due schedules.
type Scheduler struct {
	store     ScheduleStore
	board     jobboard.Board
	flows     FlowChecker
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	clock     func() time.Time
	batchSize int
}

// Config — конфигурация Scheduler.
type Config struct {
	Store ScheduleStore
	Board jobboard.Board

	// Flows — проверка имени flow (опционально).
	// Расписания с неизвестным flow пропускаются.
	Flows FlowChecker

	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
	Clock     func() time.Time // default: time.Now
	BatchSize int              // количество schedules за один тик (default: 100)
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Scheduler{
		store:     cfg.Store,
		board:     cfg.Board,
		flows:     cfg.Flows,
		metrics:   cfg.Metrics,
		logger:    logger.With("component", "scheduler"),
		clock:     clock,
		batchSize: batchSize,
	}
}

// Tick выполняет один тик планировщика.
//
// 1. Находит due schedules (enabled=true, next_due_at <= now)
// 2. Для каждого schedule публикует job на доску
// 3. Обновляет next_due_at
//
// Ошибки одного schedule не блокируют обработку остальных.
// Возвращает количество опубликованных job'ов.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	now := s.clock()

	schedules, err := s.store.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due schedules: %w", err)
	}
	if len(schedules) == 0 {
		return 0, nil
	}

	s.logger.Debug("found due schedules", "count", len(schedules))

	var processed, posted int
	for i := range schedules {
		sched := &schedules[i]

		jobPosted, err := s.processSchedule(ctx, sched, now)
		if err != nil {
			s.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"schedule_name", sched.Name,
				"error", err,
			)
			continue
		}

		processed++
		if jobPosted {
			posted++
		}
	}

	s.logger.Info("scheduler tick completed",
		"due", len(schedules),
		"processed", processed,
		"jobs_posted", posted,
	)
	return posted, nil
}

// processSchedule обрабатывает один schedule.
// Возвращает true, если job был опубликован (не был дубликатом).
func (s *Scheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	if s.flows != nil && !s.flows.Has(sched.FlowName) {
		s.logger.Warn("flow not found for schedule, skipping",
			"schedule_id", sched.ID,
			"flow", sched.FlowName,
		)
		return false, nil
	}

	// ID job'а выводится из schedule и next_due_at: повторный тик
	// для того же момента (например, после сбоя Update) даёт тот же ID,
	// и доска отклоняет дубликат
	jobID := JobIDFor(sched)

	job := domain.NewJob(sched.FlowName, sched.Inputs)
	job.ID = jobID

	var posted bool
	err := s.board.Post(ctx, job)
	switch {
	case err == nil:
		posted = true
		if s.metrics != nil {
			s.metrics.JobsPosted.Inc()
		}
		s.logger.Info("posted job from schedule",
			"job_id", jobID,
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"flow", sched.FlowName,
		)
	case errors.Is(err, domain.ErrAlreadyExists):
		s.logger.Debug("job already posted (idempotency)",
			"schedule_id", sched.ID,
			"job_id", jobID,
		)
	default:
		return false, fmt.Errorf("post job: %w", err)
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		s.logger.Error("failed to calculate next due, disabling schedule",
			"schedule_id", sched.ID,
			"error", err,
		)
		sched.Enabled = false
		sched.UpdatedAt = now
		if err := s.store.Update(ctx, sched); err != nil {
			return posted, fmt.Errorf("disable schedule: %w", err)
		}
		return posted, nil
	}

	sched.RecordPost(jobID, nextDue)
	if err := s.store.Update(ctx, sched); err != nil {
		return posted, fmt.Errorf("update schedule: %w", err)
	}
	return posted, nil
}

// JobIDFor возвращает детерминированный ID job'а для текущего
// next_due_at расписания.
func JobIDFor(sched *domain.Schedule) uuid.UUID {
	var due int64
	if sched.NextDueAt != nil {
		due = sched.NextDueAt.Unix()
	}
	return uuid.NewSHA1(sched.ID, []byte(strconv.FormatInt(due, 10)))
}
