package conductor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/telemetry"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultConcurrency  = 4
)

// Config — конфигурация Conductor.
type Config struct {
	// Board — доска job'ов с поддержкой владения. Обязательна.
	Board jobboard.ClaimBoard

	// Catalog — хранилище logbook'ов (default: in-memory).
	Catalog catalog.Catalog

	// Flows — реестр flow (default: пустой).
	Flows *Registry

	// Owner — имя владельца при захвате (default: hostname-<uuid>).
	Owner string

	// PollInterval — максимальное ожидание публикации между проходами
	// по доске (default: 10s).
	PollInterval time.Duration

	// Concurrency — сколько job'ов выполняется одновременно (default: 4).
	Concurrency int

	// EraseFinished — стирать job с доски после завершения.
	// Logbook при этом сохраняется.
	EraseFinished bool

	// Metrics — Prometheus метрики (опционально).
	Metrics *telemetry.Metrics

	// Logger
	Logger *slog.Logger
}

// Conductor выполняет job'ы с доски.
type Conductor struct {
	board         jobboard.ClaimBoard
	catalog       catalog.Catalog
	flows         *Registry
	owner         string
	pollInterval  time.Duration
	concurrency   int
	eraseFinished bool
	metrics       *telemetry.Metrics
	logger        *slog.Logger

	// wake — сигнал о публикации из внешнего источника (RabbitMQ)
	wake chan struct{}

	// active — job'ы, выполняемые этим conductor'ом
	active sync.Map

	// Lifecycle
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    atomic.Bool
}

// New создаёт новый Conductor.
func New(cfg Config) *Conductor {
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.NewMemoryCatalog()
	}
	if cfg.Flows == nil {
		cfg.Flows = NewRegistry()
	}
	if cfg.Owner == "" {
		cfg.Owner = defaultOwner()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Conductor{
		board:         cfg.Board,
		catalog:       cfg.Catalog,
		flows:         cfg.Flows,
		owner:         cfg.Owner,
		pollInterval:  cfg.PollInterval,
		concurrency:   cfg.Concurrency,
		eraseFinished: cfg.EraseFinished,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger.With("component", "conductor", "owner", cfg.Owner),
		wake:          make(chan struct{}, 1),
	}
}

func defaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "conductor"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

// Owner возвращает имя владельца, под которым захватываются job'ы.
func (c *Conductor) Owner() string {
	return c.owner
}

// Start запускает цикл обработки доски.
func (c *Conductor) Start(ctx context.Context) error {
	if c.stopped.Load() {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.logger.Info("starting conductor",
		"board", c.board.Name(),
		"poll_interval", c.pollInterval,
		"concurrency", c.concurrency,
		"flows", len(c.flows.Flows()),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()
	return nil
}

// Stop останавливает Conductor и ждёт завершения текущих job'ов.
func (c *Conductor) Stop() {
	c.stopped.Store(true)
	c.logger.Info("stopping conductor...")

	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()

	c.logger.Info("conductor stopped")
}

// IsStopped проверяет, остановлен ли Conductor.
func (c *Conductor) IsStopped() bool {
	return c.stopped.Load()
}

// Wake будит цикл, не дожидаясь Await.
// Не блокируется: повторные сигналы до пробуждения сливаются.
func (c *Conductor) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// loop — основной цикл: проход по доске, затем ожидание публикации.
func (c *Conductor) loop(ctx context.Context) {
	for {
		// Первый проход сразу при старте: подхватываем job'ы,
		// опубликованные пока conductor был выключен
		if _, err := c.RunOnce(ctx); err != nil {
			if errors.Is(err, domain.ErrClosed) {
				c.logger.Warn("board closed, conductor exits")
				return
			}
			c.logger.Error("board pass failed", "error", err)
		}

		if err := c.waitForPost(ctx); err != nil {
			if ctx.Err() == nil && errors.Is(err, domain.ErrClosed) {
				c.logger.Warn("board closed, conductor exits")
			}
			return
		}
	}
}

// waitForPost ждёт публикации, Wake или истечения PollInterval.
// Возвращает ошибку только если ждать дальше бессмысленно.
func (c *Conductor) waitForPost(ctx context.Context) error {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-c.wake:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	_, err := c.board.Await(waitCtx, c.pollInterval)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, domain.ErrClosed):
		return err
	default:
		// Доска недоступна: ждём интервал и пробуем снова
		c.logger.Warn("await failed", "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.pollInterval):
			return nil
		}
	}
}

// RunOnce выполняет один проход по доске: захватывает и выполняет
// все доступные job'ы (не более Concurrency одновременно).
// Возвращает количество job'ов, выполненных этим conductor'ом.
func (c *Conductor) RunOnce(ctx context.Context) (int, error) {
	jobs, err := c.board.PostedBefore(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)

	var processed atomic.Int64
	for i := range jobs {
		job := jobs[i]
		if job.State != domain.JobStateUnclaimed {
			continue
		}
		if !c.flows.Has(job.Name) {
			c.logger.Debug("skipping job with unknown flow", "job_id", job.ID, "flow", job.Name)
			continue
		}
		if _, running := c.active.LoadOrStore(job.ID, struct{}{}); running {
			continue
		}

		g.Go(func() error {
			defer c.active.Delete(job.ID)
			if c.processJob(ctx, job) {
				processed.Add(1)
			}
			return nil
		})
	}

	err = g.Wait()
	return int(processed.Load()), err
}

// processJob захватывает и выполняет один job.
// Возвращает false, если job захватил другой владелец.
func (c *Conductor) processJob(ctx context.Context, job domain.Job) bool {
	logger := telemetry.WithFlow(telemetry.WithJobID(c.logger, job.ID.String()), job.Name)

	if err := c.board.Claim(ctx, job.ID, c.owner); err != nil {
		if errors.Is(err, domain.ErrUnclaimable) || errors.Is(err, domain.ErrJobNotFound) {
			logger.Debug("job taken by another owner", "error", err)
			return false
		}
		logger.Error("failed to claim job", "error", err)
		return false
	}
	if c.metrics != nil {
		c.metrics.JobsClaimed.Inc()
	}

	// Итог job'а записывается и при остановке conductor'а
	finishCtx := context.WithoutCancel(ctx)

	if err := c.board.Transition(ctx, job.ID, c.owner, domain.JobStateRunning, ""); err != nil {
		logger.Error("failed to mark job running", "error", err)
		c.release(finishCtx, job, logger)
		return false
	}

	logger.Info("job started")
	start := time.Now()

	runErr := c.runFlow(ctx, job, logger)

	state := domain.JobStateSuccess
	var errMsg string
	if runErr != nil {
		state = domain.JobStateFailure
		errMsg = runErr.Error()
	}

	if err := c.board.Transition(finishCtx, job.ID, c.owner, state, errMsg); err != nil {
		logger.Error("failed to finish job", "state", state, "error", err)
		return true
	}

	if c.metrics != nil {
		c.metrics.ObserveFlow(job.Name, string(state), time.Since(start))
	}
	if runErr != nil {
		logger.Warn("job failed", "duration", time.Since(start), "error", runErr)
	} else {
		logger.Info("job succeeded", "duration", time.Since(start))
	}

	if c.eraseFinished {
		if err := c.board.Erase(finishCtx, job.ID); err != nil {
			logger.Warn("failed to erase job", "error", err)
		} else if c.metrics != nil {
			c.metrics.JobsErased.Inc()
		}
	}
	return true
}

// runFlow строит flow job'а и выполняет его с записью в logbook.
func (c *Conductor) runFlow(ctx context.Context, job domain.Job, logger *slog.Logger) error {
	factory, ok := c.flows.Lookup(job.Name)
	if !ok {
		return fmt.Errorf("flow %q: %w", job.Name, ErrUnknownFlow)
	}

	flow, err := factory(job, engine.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build flow: %w", err)
	}

	detail, err := c.openFlowDetail(ctx, job.ID, flow.Name())
	if err != nil {
		return err
	}
	flow.AddListener(newRecorder(ctx, detail, c.metrics, logger))

	// шаги логируют с job_id и flow
	ctx = telemetry.WithLogger(ctx, logger)
	return flow.Run(ctx, engine.NewContext(job.Inputs))
}

// openFlowDetail добавляет flow в logbook job'а.
// Повторный запуск (после снятия захвата) получает имя с номером попытки.
func (c *Conductor) openFlowDetail(ctx context.Context, jobID uuid.UUID, name string) (catalog.FlowDetail, error) {
	book, err := c.catalog.CreateOrFetch(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("open logbook: %w", err)
	}

	n, err := book.Len(ctx)
	if err != nil {
		return nil, fmt.Errorf("logbook len: %w", err)
	}

	flowName := name
	if n > 0 {
		flowName = fmt.Sprintf("%s#%d", name, n+1)
	}

	detail, err := book.AddFlow(ctx, flowName)
	if err != nil {
		return nil, fmt.Errorf("add flow to logbook: %w", err)
	}
	return detail, nil
}

// release возвращает job на доску.
func (c *Conductor) release(ctx context.Context, job domain.Job, logger *slog.Logger) {
	if err := c.board.Unclaim(ctx, job.ID, c.owner); err != nil {
		logger.Error("failed to unclaim job", "error", err)
	}
}
