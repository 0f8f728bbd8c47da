package steps

import (
	"context"
	"fmt"
)

const (
	// StepTypeFail — тип шага, который всегда падает.
	StepTypeFail = "fail"

	// Ключ конфигурации.
	configMessage = "message"
)

// FailStep — шаг, который всегда завершается ошибкой.
//
// Используется для проверки компенсаций и для явной остановки flow.
//
// Конфигурация:
//
//	{"message": "quota exceeded for {{ .Inputs.tenant }}"}
type FailStep struct{}

// NewFailStep создаёт новый FailStep.
func NewFailStep() *FailStep {
	return &FailStep{}
}

// Type возвращает тип шага.
func (s *FailStep) Type() string {
	return StepTypeFail
}

// Execute возвращает ErrStepFailed с сообщением из конфигурации.
func (s *FailStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, req.cancelled(err)
	}

	msg := GetConfigString(req.Config, configMessage)
	if msg == "" {
		msg = "task " + req.TaskName + " failed"
	}
	return nil, fmt.Errorf("%w: %s", ErrStepFailed, msg)
}
