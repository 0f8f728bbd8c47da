package scheduler

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/taskflow/internal/domain"
)

// MemoryStore — in-memory хранилище расписаний.
// Используется без PostgreSQL: расписания загружаются из файла
// при старте, next_due_at живёт только в памяти процесса.
type MemoryStore struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*domain.Schedule
}

// NewMemoryStore создаёт пустое хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{schedules: make(map[uuid.UUID]*domain.Schedule)}
}

// Add добавляет schedule. ID должен быть задан (см. Prepare).
func (m *MemoryStore) Add(sched domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[sched.ID]; exists {
		return fmt.Errorf("schedule %s: %w", sched.ID, domain.ErrAlreadyExists)
	}
	m.schedules[sched.ID] = cloneSchedule(&sched)
	return nil
}

// ListDue возвращает включённые schedules с next_due_at <= now.
func (m *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.Schedule
	for _, s := range m.schedules {
		if s.IsDue(now) {
			due = append(due, *cloneSchedule(s))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextDueAt.Before(*due[j].NextDueAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Update заменяет schedule.
func (m *MemoryStore) Update(_ context.Context, sched *domain.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schedules[sched.ID]; !ok {
		return fmt.Errorf("schedule %s: %w", sched.ID, domain.ErrNotFound)
	}
	m.schedules[sched.ID] = cloneSchedule(sched)
	return nil
}

// Get возвращает копию schedule.
func (m *MemoryStore) Get(id uuid.UUID) (domain.Schedule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.schedules[id]
	if !ok {
		return domain.Schedule{}, false
	}
	return *cloneSchedule(s), true
}

func cloneSchedule(s *domain.Schedule) *domain.Schedule {
	c := *s
	if s.NextDueAt != nil {
		t := *s.NextDueAt
		c.NextDueAt = &t
	}
	if s.LastPostedAt != nil {
		t := *s.LastPostedAt
		c.LastPostedAt = &t
	}
	if s.LastJobID != nil {
		id := *s.LastJobID
		c.LastJobID = &id
	}
	return &c
}

// scheduleFile — формат файла расписаний:
//
//	schedules:
//	  - name: nightly-provision
//	    flow: provision
//	    cron: "0 3 * * *"
//	    timezone: Europe/Moscow
//	    inputs:
//	      env: staging
//	  - name: heartbeat
//	    flow: ping
//	    interval_sec: 60
type scheduleFile struct {
	Schedules []scheduleEntry `yaml:"schedules"`
}

type scheduleEntry struct {
	Name        string         `yaml:"name"`
	Flow        string         `yaml:"flow"`
	Cron        string         `yaml:"cron"`
	IntervalSec int            `yaml:"interval_sec"`
	Timezone    string         `yaml:"timezone"`
	Enabled     *bool          `yaml:"enabled"` // default: true
	Inputs      map[string]any `yaml:"inputs"`
}

// LoadFile читает расписания из YAML-файла и подготавливает их
// (Prepare) относительно now.
func LoadFile(path string, now time.Time) ([]domain.Schedule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules file: %w", err)
	}
	return ParseFile(data, now)
}

// ParseFile разбирает содержимое файла расписаний.
func ParseFile(data []byte, now time.Time) ([]domain.Schedule, error) {
	var file scheduleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse schedules: %w", err)
	}

	seen := make(map[string]bool, len(file.Schedules))
	schedules := make([]domain.Schedule, 0, len(file.Schedules))
	for i, e := range file.Schedules {
		if e.Name == "" {
			return nil, fmt.Errorf("schedule #%d: name is required", i+1)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("schedule %q: %w", e.Name, domain.ErrAlreadyExists)
		}
		seen[e.Name] = true

		sched := domain.Schedule{
			Name:        e.Name,
			FlowName:    e.Flow,
			CronExpr:    e.Cron,
			IntervalSec: e.IntervalSec,
			Timezone:    e.Timezone,
			Enabled:     e.Enabled == nil || *e.Enabled,
			Inputs:      e.Inputs,
		}
		if err := Prepare(&sched, now); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, nil
}
