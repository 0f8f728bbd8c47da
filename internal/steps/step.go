package steps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/telemetry"
)

// Ошибки шагов.
var (
	// ErrStepNotFound — тип шага не найден в реестре.
	ErrStepNotFound = errors.New("step type not found")

	// ErrEmptyStepType — шаг без типа не регистрируется.
	ErrEmptyStepType = errors.New("empty step type")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepTimeout — шаг превысил таймаут.
	ErrStepTimeout = errors.New("step execution timeout")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")

	// ErrStepFailed — шаг fail завершился ошибкой.
	ErrStepFailed = errors.New("step failed")
)

// Step — интерфейс для типов шагов.
//
// Каждый тип шага (http, delay, transform, fail) реализует этот интерфейс.
// Один и тот же Step используется и для задачи, и для её компенсации.
type Step interface {
	// Type возвращает тип шага.
	Type() string

	// Execute выполняет шаг и возвращает результат.
	// Шаг должен проверять ctx.Done() для graceful shutdown.
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// Request — входные данные для выполнения шага.
type Request struct {
	// TaskName — имя задачи, которая выполняет шаг.
	TaskName string

	// Config — конфигурация шага (уже отрендеренная через engine.RenderConfig).
	Config map[string]any

	// Template — данные шаблонов задачи (входы job, requires, result).
	// Используется шагами, которые рендерят шаблоны сами (transform).
	Template *engine.TemplateData

	// Timeout — таймаут выполнения шага.
	// Если 0, используется таймаут по умолчанию.
	Timeout time.Duration
}

// Response — результат выполнения шага.
type Response struct {
	// Outputs — выходные данные шага.
	// Из них извлекаются provides задачи (см. TaskDef.Outputs).
	Outputs map[string]any
}

// NewRequest создаёт новый Request.
func NewRequest(taskName string, config map[string]any, data *engine.TemplateData, timeout time.Duration) *Request {
	if config == nil {
		config = make(map[string]any)
	}
	return &Request{
		TaskName: taskName,
		Config:   config,
		Template: data,
		Timeout:  timeout,
	}
}

// RequireNames возвращает имена разрешённых входов задачи по алфавиту.
func (r *Request) RequireNames() []string {
	if r.Template == nil || len(r.Template.Requires) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Template.Requires))
	for name := range r.Template.Requires {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Logger возвращает логгер из ctx с именем задачи и её requires.
func (r *Request) Logger(ctx context.Context) *slog.Logger {
	logger := telemetry.WithTask(telemetry.FromContext(ctx), r.TaskName)
	if names := r.RequireNames(); len(names) > 0 {
		logger = logger.With("requires", names)
	}
	return logger
}

// configError — ErrInvalidConfig с типом шага, задачей и её requires.
func (r *Request) configError(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s: %s", ErrInvalidConfig, kind, r.describe(), fmt.Sprintf(format, args...))
}

// cancelled — ErrStepCancelled с именем задачи.
func (r *Request) cancelled(cause error) error {
	return fmt.Errorf("%w: task %s: %v", ErrStepCancelled, r.TaskName, cause)
}

// describe — "task X (requires a, b)" для сообщений об ошибках.
func (r *Request) describe() string {
	if names := r.RequireNames(); len(names) > 0 {
		return fmt.Sprintf("task %s (requires %s)", r.TaskName, strings.Join(names, ", "))
	}
	return "task " + r.TaskName
}

// NewResponse создаёт новый Response с outputs.
func NewResponse(outputs map[string]any) *Response {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	return &Response{
		Outputs: outputs,
	}
}

// EmptyResponse возвращает пустой Response.
func EmptyResponse() *Response {
	return &Response{
		Outputs: make(map[string]any),
	}
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		case string:
			if i, err := strconv.Atoi(n); err == nil {
				return i
			}
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
