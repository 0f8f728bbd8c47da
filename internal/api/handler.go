package api

import (
	"log/slog"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/conductor"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/steps"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	board   jobboard.ClaimBoard
	catalog catalog.Catalog
	flows   *conductor.Registry
	steps   *steps.Registry
	logger  *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Board   jobboard.ClaimBoard
	Catalog catalog.Catalog

	// Flows — реестр flow. Если задан, POST /jobs принимает
	// только зарегистрированные flow.
	Flows *conductor.Registry

	// Steps — типы шагов для POST /flows/validate (default: DefaultRegistry).
	Steps *steps.Registry

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Steps == nil {
		cfg.Steps = steps.DefaultRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		board:   cfg.Board,
		catalog: cfg.Catalog,
		flows:   cfg.Flows,
		steps:   cfg.Steps,
		logger:  cfg.Logger.With("component", "api"),
	}
}
