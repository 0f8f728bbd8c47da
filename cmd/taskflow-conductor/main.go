// TaskFlow Conductor — выполняет job'ы с доски и обслуживает HTTP API.
//
// Conductor:
//   - Загружает flow spec'и из FLOWS_DIR
//   - Захватывает job'ы на доске PostgreSQL и выполняет их flow
//   - Пишет историю выполнения в logbook
//   - Просыпается по LISTEN/NOTIFY и по сообщениям RabbitMQ
//
// Несколько conductor'ов работают с одной доской: захват job'а
// выполняется под блокировкой строки.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/taskflow/internal/api"
	"github.com/shaiso/taskflow/internal/conductor"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/mq"
	"github.com/shaiso/taskflow/internal/repo"
	"github.com/shaiso/taskflow/internal/steps"
	"github.com/shaiso/taskflow/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting taskflow-conductor")

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

	// Flows
	stepsRegistry := steps.DefaultRegistry()
	flows := conductor.NewRegistry()
	flowsDir := os.Getenv("FLOWS_DIR")
	if flowsDir == "" {
		flowsDir = "./flows"
	}
	n, err := flows.LoadDir(flowsDir, stepsRegistry)
	if err != nil {
		logger.Error("failed to load flows", "dir", flowsDir, "error", err)
		os.Exit(1)
	}
	logger.Info("flows loaded", "dir", flowsDir, "count", n)

	// RabbitMQ
	var notifiers []jobboard.Notifier
	// Топология объявляется при каждом (пере)подключении
	mqConn, err := mq.NewConnection(mq.DefaultURL(), logger,
		mq.WithTopology(),
		mq.WithBackoff(durationEnv("MQ_RECONNECT_MIN", 0), durationEnv("MQ_RECONNECT_MAX", 0)),
	)
	if err != nil {
		logger.Warn("RabbitMQ not available, relying on LISTEN/NOTIFY", "error", err)
	} else {
		defer mqConn.Close()
		notifiers = append(notifiers, mq.NewPublisher(mqConn, logger))
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	board := repo.NewJobBoard(pool, "postgres", logger, notifiers...)
	defer board.Close()

	catalog := repo.NewCatalog(pool)
	defer catalog.Close()

	cond := conductor.New(conductor.Config{
		Board:         board,
		Catalog:       catalog,
		Flows:         flows,
		Owner:         os.Getenv("CONDUCTOR_OWNER"),
		PollInterval:  durationEnv("CONDUCTOR_POLL_INTERVAL", 0),
		Concurrency:   intEnv("CONDUCTOR_CONCURRENCY", 0),
		EraseFinished: os.Getenv("CONDUCTOR_ERASE_FINISHED") == "true",
		Metrics:       metrics,
		Logger:        logger,
	})

	if err := cond.Start(ctx); err != nil {
		logger.Error("failed to start conductor", "error", err)
		os.Exit(1)
	}

	// Ранний wake-up по публикациям из RabbitMQ
	if mqConn != nil {
		consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue:   mq.QueueJobsPosted,
			Handler: mq.WakeHandler(cond.Wake),
		})
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("consumer stopped", "error", err)
			}
		}()
	}

	// HTTP mux: API + /healthz + /metrics
	handler := api.NewHandler(api.Config{
		Board:   board,
		Catalog: catalog,
		Flows:   flows,
		Steps:   stepsRegistry,
		Logger:  logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("CONDUCTOR_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Ждём завершения выполняемых job'ов
	cond.Stop()
	logger.Info("taskflow-conductor stopped")
}

func intEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func durationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
