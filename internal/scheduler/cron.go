package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/taskflow/internal/domain"
)

// Ошибки валидации расписаний.
var (
	ErrNoFlow    = errors.New("schedule has no flow")
	ErrNoTrigger = errors.New("schedule has neither cron_expr nor interval_sec")
)

// scheduleNamespace — namespace для ID расписаний, заданных по имени.
var scheduleNamespace = uuid.MustParse("6f1c2b3e-8d4a-5e7f-9a0b-1c2d3e4f5a6b")

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// CalculateNextDue вычисляет следующее время публикации для schedule.
// Для интервалов просто добавляет IntervalSec к текущему времени.
// Учитывает timezone schedule.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	// Загружаем timezone
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}

	// Конвертируем from в нужный timezone
	fromInTz := from.In(loc)

	if sched.IsCron() {
		return calculateNextCron(sched.CronExpr, fromInTz)
	}

	if sched.IsInterval() {
		return calculateNextInterval(sched.IntervalSec, fromInTz), nil
	}

	// Ни cron, ни interval — schedule некорректный
	return time.Time{}, ErrNoTrigger
}

// calculateNextCron вычисляет следующее время по cron-выражению.
func calculateNextCron(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}

	next := schedule.Next(from)
	return next.UTC(), nil // возвращаем в UTC для хранения в БД
}

// calculateNextInterval вычисляет следующее время по интервалу.
func calculateNextInterval(intervalSec int, from time.Time) time.Time {
	next := from.Add(time.Duration(intervalSec) * time.Second)
	return next.UTC() // возвращаем в UTC для хранения в БД
}

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	_, err := cronParser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// Validate проверяет schedule перед сохранением.
func Validate(sched *domain.Schedule) error {
	if sched.FlowName == "" {
		return fmt.Errorf("schedule %q: %w", sched.Name, ErrNoFlow)
	}
	if sched.IsCron() {
		if err := ValidateCronExpr(sched.CronExpr); err != nil {
			return fmt.Errorf("schedule %q: %w", sched.Name, err)
		}
	} else if !sched.IsInterval() {
		return fmt.Errorf("schedule %q: %w", sched.Name, ErrNoTrigger)
	}
	if sched.Timezone != "" {
		if _, err := time.LoadLocation(sched.Timezone); err != nil {
			return fmt.Errorf("schedule %q: invalid timezone %q: %w", sched.Name, sched.Timezone, err)
		}
	}
	return nil
}

// Prepare проверяет schedule и заполняет значения по умолчанию:
// ID (детерминированный по имени), timezone, timestamps и next_due_at.
func Prepare(sched *domain.Schedule, now time.Time) error {
	if err := Validate(sched); err != nil {
		return err
	}
	if sched.ID == uuid.Nil {
		if sched.Name != "" {
			sched.ID = uuid.NewSHA1(scheduleNamespace, []byte(sched.Name))
		} else {
			sched.ID = uuid.New()
		}
	}
	if sched.Timezone == "" {
		sched.Timezone = "UTC"
	}
	if sched.CreatedAt.IsZero() {
		sched.CreatedAt = now
	}
	sched.UpdatedAt = now

	if sched.NextDueAt == nil {
		next, err := CalculateNextDue(sched, now)
		if err != nil {
			return err
		}
		sched.NextDueAt = &next
	}
	return nil
}
