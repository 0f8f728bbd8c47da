package steps

import (
	"context"
	"time"
)

const (
	// StepTypeDelay — тип шага задержки.
	StepTypeDelay = "delay"

	// Ключи конфигурации delay.
	configDurationSec = "duration_sec"
	configDurationMs  = "duration_ms"
	configDuration    = "duration"
)

// DelayStep — пауза внутри flow, например ожидание готовности ресурса,
// созданного предыдущей задачей. Отмена ctx прерывает паузу
// с ErrStepCancelled, и flow откатывается.
//
// Конфигурация:
//
//	{
//	    "duration_sec": 10,    // задержка в секундах
//	    // или
//	    "duration_ms": 5000,   // задержка в миллисекундах
//	    // или
//	    "duration": "1m30s"    // строка time.ParseDuration
//	}
type DelayStep struct{}

// NewDelayStep создаёт новый DelayStep.
func NewDelayStep() *DelayStep {
	return &DelayStep{}
}

// Type возвращает тип шага.
func (s *DelayStep) Type() string {
	return StepTypeDelay
}

// Execute выполняет задержку.
// Длительность может прийти из шаблона: {"duration": "{{ .Requires.backoff }}"}.
func (s *DelayStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	duration, err := s.parseDuration(req)
	if err != nil {
		return nil, err
	}

	logger := req.Logger(ctx)
	logger.Debug("delay started", "duration", duration)

	timer := time.NewTimer(duration)
	defer timer.Stop()

	start := time.Now()
	select {
	case <-ctx.Done():
		logger.Debug("delay interrupted", "elapsed", time.Since(start))
		return nil, req.cancelled(ctx.Err())
	case <-timer.C:
		return &Response{
			Outputs: map[string]any{
				"duration_ms": duration.Milliseconds(),
			},
		}, nil
	}
}

// parseDuration извлекает длительность из конфигурации.
// Приоритет: duration_sec, duration_ms, duration.
func (s *DelayStep) parseDuration(req *Request) (time.Duration, error) {
	if sec := GetConfigInt(req.Config, configDurationSec); sec > 0 {
		return time.Duration(sec) * time.Second, nil
	}
	if ms := GetConfigInt(req.Config, configDurationMs); ms > 0 {
		return time.Duration(ms) * time.Millisecond, nil
	}
	if str := GetConfigString(req.Config, configDuration); str != "" {
		duration, err := time.ParseDuration(str)
		if err != nil || duration <= 0 {
			return 0, req.configError(StepTypeDelay, "invalid duration %q", str)
		}
		return duration, nil
	}

	return 0, req.configError(StepTypeDelay, "duration_sec, duration_ms or duration required")
}
