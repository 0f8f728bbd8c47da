// TaskFlow Scheduler — публикует job'ы по расписаниям.
//
// Scheduler:
//   - Синхронизирует расписания из SCHEDULES_FILE в PostgreSQL
//   - Раз в секунду публикует job'ы для наступивших расписаний
//   - Работает в единственном экземпляре через pg_advisory_lock
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/taskflow/internal/conductor"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/mq"
	"github.com/shaiso/taskflow/internal/repo"
	"github.com/shaiso/taskflow/internal/scheduler"
	"github.com/shaiso/taskflow/internal/steps"
	"github.com/shaiso/taskflow/internal/telemetry"
)

const schedLockKey int64 = 424242

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting taskflow-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := repo.EnsureSchema(ctx, pool); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	scheduleRepo := repo.NewScheduleRepo(pool)

	// Расписания из файла
	if path := os.Getenv("SCHEDULES_FILE"); path != "" {
		schedules, err := scheduler.LoadFile(path, time.Now().UTC())
		if err != nil {
			logger.Error("failed to load schedules", "file", path, "error", err)
			os.Exit(1)
		}
		for i := range schedules {
			if err := scheduleRepo.Upsert(ctx, &schedules[i]); err != nil {
				logger.Error("failed to save schedule", "schedule", schedules[i].Name, "error", err)
				os.Exit(1)
			}
		}
		logger.Info("schedules synced", "file", path, "count", len(schedules))
	}

	// Flows (опционально): расписания неизвестных flow пропускаются
	var flows scheduler.FlowChecker
	if dir := os.Getenv("FLOWS_DIR"); dir != "" {
		registry := conductor.NewRegistry()
		if _, err := registry.LoadDir(dir, steps.DefaultRegistry()); err != nil {
			logger.Error("failed to load flows", "dir", dir, "error", err)
			os.Exit(1)
		}
		flows = registry
	}

	// RabbitMQ
	var notifiers []jobboard.Notifier
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger, mq.WithTopology())
	if err != nil {
		logger.Warn("RabbitMQ not available, conductors rely on LISTEN/NOTIFY", "error", err)
	} else {
		defer mqConn.Close()
		notifiers = append(notifiers, mq.NewPublisher(mqConn, logger))
	}

	board := repo.NewJobBoard(pool, "postgres", logger, notifiers...)
	defer board.Close()

	sched := scheduler.New(scheduler.Config{
		Store:   scheduleRepo,
		Board:   board,
		Flows:   flows,
		Metrics: telemetry.NewMetrics(prometheus.DefaultRegisterer),
		Logger:  logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	runLoop(ctx, pool, sched, logger)
	logger.Info("taskflow-scheduler stopped")
}

// runLoop тикает раз в секунду, пока ctx не отменён.
// Тик выполняет только лидер, удерживающий advisory lock.
func runLoop(ctx context.Context, pool *pgxpool.Pool, sched *scheduler.Scheduler, logger *slog.Logger) {
	tk := time.NewTicker(1 * time.Second)
	defer tk.Stop()

	// advisory lock держится на соединении сессии
	conn, err := pool.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire connection", "error", err)
		return
	}
	defer conn.Release()

	var hasLock bool
	defer func() {
		if hasLock {
			_, _ = conn.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
		}
	}()

	for {
		select {
		case <-tk.C:
			// пытаемся стать лидером
			if !hasLock {
				var ok bool
				if err := conn.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
					logger.Warn("lock error", "error", err)
					continue
				}
				if ok {
					logger.Info("acquired scheduler leadership")
				}
				hasLock = ok
			}

			if !hasLock {
				// не лидер — пропускаем тик
				continue
			}

			if _, err := sched.Tick(ctx); err != nil {
				logger.Error("tick failed", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
