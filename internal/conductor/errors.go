package conductor

import "errors"

// Ошибки conductor'а.
var (
	// ErrUnknownFlow — flow с таким именем не зарегистрирован.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrEmptyFlowName — flow регистрируется без имени.
	ErrEmptyFlowName = errors.New("flow name is required")

	// ErrStopped — conductor остановлен.
	ErrStopped = errors.New("conductor stopped")
)
