package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — расписание автоматической публикации job.
//
// Schedule позволяет публиковать job для flow:
// - По cron-выражению: "0 9 * * *" (каждый день в 9:00)
// - По интервалу: каждые N секунд
//
// Scheduler проверяет next_due_at и публикует job, когда время подошло.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id" yaml:"id"`

	// Name — имя расписания для удобства.
	Name string `json:"name,omitempty" yaml:"name"`

	// FlowName — имя flow, для которого публикуется job.
	FlowName string `json:"flow_name" yaml:"flow"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Примеры:
	//   "0 9 * * *"     — каждый день в 9:00
	//   "*/5 * * * *"   — каждые 5 минут
	// Если задан CronExpr, IntervalSec игнорируется.
	CronExpr string `json:"cron_expr,omitempty" yaml:"cron,omitempty"`

	// IntervalSec — интервал в секундах между публикациями.
	// Используется если CronExpr не задан.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec,omitempty"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone" yaml:"timezone,omitempty"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// NextDueAt — время следующей публикации.
	NextDueAt *time.Time `json:"next_due_at,omitempty" yaml:"-"`

	// LastPostedAt — время последней публикации.
	LastPostedAt *time.Time `json:"last_posted_at,omitempty" yaml:"-"`

	// LastJobID — ID последнего опубликованного job.
	LastJobID *uuid.UUID `json:"last_job_id,omitempty" yaml:"-"`

	// Inputs — входные параметры каждого опубликованного job.
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// IsCron возвращает true, если расписание использует cron-выражение.
func (s *Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание использует интервал.
func (s *Schedule) IsInterval() bool {
	return s.CronExpr == "" && s.IntervalSec > 0
}

// IsDue проверяет, пора ли публиковать job.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextDueAt == nil {
		return false
	}
	return now.After(*s.NextDueAt) || now.Equal(*s.NextDueAt)
}

// RecordPost записывает информацию о публикации.
func (s *Schedule) RecordPost(jobID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastPostedAt = &now
	s.LastJobID = &jobID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
