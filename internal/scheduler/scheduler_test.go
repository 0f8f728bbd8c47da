package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/jobboard"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type flowSet map[string]bool

func (f flowSet) Has(name string) bool { return f[name] }

var baseTime = time.Date(2026, 3, 10, 8, 59, 30, 0, time.UTC)

func newTestScheduler(t *testing.T, now *time.Time, flows FlowChecker) (*Scheduler, *MemoryStore, *jobboard.MemoryBoard) {
	t.Helper()
	store := NewMemoryStore()
	board := jobboard.NewMemoryBoard(jobboard.Config{Logger: discardLogger()})
	s := New(Config{
		Store:  store,
		Board:  board,
		Flows:  flows,
		Logger: discardLogger(),
		Clock:  func() time.Time { return *now },
	})
	return s, store, board
}

func mustPrepare(t *testing.T, sched domain.Schedule, now time.Time) domain.Schedule {
	t.Helper()
	if err := Prepare(&sched, now); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return sched
}

// --- cron.go ---

func TestCalculateNextDueInterval(t *testing.T) {
	sched := &domain.Schedule{IntervalSec: 90}
	next, err := CalculateNextDue(sched, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := baseTime.Add(90 * time.Second); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDueCron(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "0 9 * * *", Timezone: "UTC"}
	next, err := CalculateNextDue(sched, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDueCronTimezone(t *testing.T) {
	// 09:00 в Москве (UTC+3) — 06:00 UTC следующего дня
	sched := &domain.Schedule{CronExpr: "0 9 * * *", Timezone: "Europe/Moscow"}
	next, err := CalculateNextDue(sched, baseTime)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 11, 6, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
	if next.Location() != time.UTC {
		t.Errorf("expected UTC result, got %v", next.Location())
	}
}

func TestCalculateNextDueNoTrigger(t *testing.T) {
	_, err := CalculateNextDue(&domain.Schedule{}, baseTime)
	if !errors.Is(err, ErrNoTrigger) {
		t.Errorf("expected ErrNoTrigger, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		sched   domain.Schedule
		wantErr bool
	}{
		{"cron", domain.Schedule{FlowName: "f", CronExpr: "*/5 * * * *"}, false},
		{"interval", domain.Schedule{FlowName: "f", IntervalSec: 10}, false},
		{"no flow", domain.Schedule{IntervalSec: 10}, true},
		{"no trigger", domain.Schedule{FlowName: "f"}, true},
		{"bad cron", domain.Schedule{FlowName: "f", CronExpr: "every day"}, true},
		{"bad timezone", domain.Schedule{FlowName: "f", IntervalSec: 10, Timezone: "Mars/Olympus"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.sched)
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestPrepareDeterministicID(t *testing.T) {
	a := mustPrepare(t, domain.Schedule{Name: "nightly", FlowName: "f", IntervalSec: 60}, baseTime)
	b := mustPrepare(t, domain.Schedule{Name: "nightly", FlowName: "f", IntervalSec: 60}, baseTime)
	if a.ID != b.ID {
		t.Errorf("expected same ID for same name, got %s and %s", a.ID, b.ID)
	}
	if a.Timezone != "UTC" {
		t.Errorf("expected default timezone UTC, got %q", a.Timezone)
	}
	if a.NextDueAt == nil || !a.NextDueAt.Equal(baseTime.Add(time.Minute)) {
		t.Errorf("unexpected next due: %v", a.NextDueAt)
	}
}

// --- scheduler.go ---

func TestTickPostsDueJobs(t *testing.T) {
	now := baseTime
	s, store, board := newTestScheduler(t, &now, nil)

	sched := mustPrepare(t, domain.Schedule{
		Name:        "heartbeat",
		FlowName:    "ping",
		IntervalSec: 60,
		Enabled:     true,
		Inputs:      map[string]any{"target": "db"},
	}, baseTime)
	if err := store.Add(sched); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// Ещё рано
	if n, err := s.Tick(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected nothing posted, got %d, %v", n, err)
	}

	now = baseTime.Add(time.Minute)
	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 posted job, got %d", n)
	}

	jobs, _ := board.PostedAfter(context.Background(), nil)
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job on board, got %d", len(jobs))
	}
	if jobs[0].Name != "ping" || jobs[0].Inputs["target"] != "db" {
		t.Errorf("unexpected job: %+v", jobs[0])
	}

	updated, _ := store.Get(sched.ID)
	if updated.LastJobID == nil || *updated.LastJobID != jobs[0].ID {
		t.Errorf("expected last job id %s, got %v", jobs[0].ID, updated.LastJobID)
	}
	if want := now.Add(time.Minute); !updated.NextDueAt.Equal(want) {
		t.Errorf("expected next due %v, got %v", want, updated.NextDueAt)
	}
}

func TestTickIsIdempotentForSameDueTime(t *testing.T) {
	now := baseTime.Add(time.Hour)
	s, _, board := newTestScheduler(t, &now, nil)

	sched := mustPrepare(t, domain.Schedule{Name: "x", FlowName: "ping", IntervalSec: 60, Enabled: true}, baseTime)

	// Хранилище, которое не сохраняет обновления: тик повторится
	// для того же next_due_at
	s.store = staleStore{sched: sched}

	for i := 0; i < 2; i++ {
		if _, err := s.Tick(context.Background()); err != nil {
			t.Fatalf("Tick: %v", err)
		}
	}

	if board.Len() != 1 {
		t.Errorf("expected exactly one job, got %d", board.Len())
	}
}

type staleStore struct {
	sched domain.Schedule
}

func (s staleStore) ListDue(context.Context, time.Time, int) ([]domain.Schedule, error) {
	return []domain.Schedule{*cloneSchedule(&s.sched)}, nil
}

func (s staleStore) Update(context.Context, *domain.Schedule) error { return nil }

func TestTickSkipsUnknownFlow(t *testing.T) {
	now := baseTime.Add(time.Hour)
	s, store, board := newTestScheduler(t, &now, flowSet{"known": true})

	store.Add(mustPrepare(t, domain.Schedule{Name: "a", FlowName: "unknown", IntervalSec: 60, Enabled: true}, baseTime))
	store.Add(mustPrepare(t, domain.Schedule{Name: "b", FlowName: "known", IntervalSec: 60, Enabled: true}, baseTime))

	n, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 1 || board.Len() != 1 {
		t.Errorf("expected only the known flow posted, got %d (board %d)", n, board.Len())
	}
}

func TestTickSkipsDisabled(t *testing.T) {
	now := baseTime.Add(time.Hour)
	s, store, board := newTestScheduler(t, &now, nil)

	store.Add(mustPrepare(t, domain.Schedule{Name: "off", FlowName: "f", IntervalSec: 60, Enabled: false}, baseTime))

	if n, _ := s.Tick(context.Background()); n != 0 || board.Len() != 0 {
		t.Errorf("disabled schedule must not post, got %d", n)
	}
}

func TestTickClosedBoard(t *testing.T) {
	now := baseTime.Add(time.Hour)
	s, store, board := newTestScheduler(t, &now, nil)
	sched := mustPrepare(t, domain.Schedule{Name: "x", FlowName: "f", IntervalSec: 60, Enabled: true}, baseTime)
	store.Add(sched)
	board.Close()

	n, err := s.Tick(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("expected per-schedule failure to be logged, got %d, %v", n, err)
	}

	// next_due_at не сдвигается: job будет опубликован следующим тиком
	got, _ := store.Get(sched.ID)
	if !got.NextDueAt.Equal(*sched.NextDueAt) {
		t.Errorf("next due must stay %v, got %v", sched.NextDueAt, got.NextDueAt)
	}
}

func TestJobIDFor(t *testing.T) {
	due := baseTime
	sched := &domain.Schedule{ID: uuid.New(), NextDueAt: &due}
	a := JobIDFor(sched)

	later := baseTime.Add(time.Minute)
	sched.NextDueAt = &later
	b := JobIDFor(sched)

	if a == b {
		t.Errorf("different due times must give different job ids")
	}
	sched.NextDueAt = &due
	if JobIDFor(sched) != a {
		t.Errorf("same due time must give the same job id")
	}
}

// --- store.go ---

const schedulesYAML = `
schedules:
  - name: nightly-provision
    flow: provision
    cron: "0 3 * * *"
    timezone: Europe/Moscow
    inputs:
      env: staging
  - name: heartbeat
    flow: ping
    interval_sec: 60
    enabled: false
`

func TestParseFile(t *testing.T) {
	schedules, err := ParseFile([]byte(schedulesYAML), baseTime)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(schedules) != 2 {
		t.Fatalf("expected 2 schedules, got %d", len(schedules))
	}

	nightly := schedules[0]
	if !nightly.Enabled || nightly.FlowName != "provision" || nightly.Inputs["env"] != "staging" {
		t.Errorf("unexpected nightly schedule: %+v", nightly)
	}
	if nightly.NextDueAt == nil {
		t.Errorf("expected next due to be calculated")
	}
	if schedules[1].Enabled {
		t.Errorf("heartbeat must be disabled")
	}
}

func TestParseFileErrors(t *testing.T) {
	cases := map[string]string{
		"missing name": "schedules:\n  - flow: f\n    interval_sec: 1\n",
		"duplicate":    "schedules:\n  - {name: a, flow: f, interval_sec: 1}\n  - {name: a, flow: f, interval_sec: 1}\n",
		"no trigger":   "schedules:\n  - {name: a, flow: f}\n",
		"broken yaml":  "schedules: [",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseFile([]byte(data), baseTime); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), &domain.Schedule{ID: uuid.New()})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
