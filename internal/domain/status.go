package domain

// FlowState — состояние выполнения flow.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCESS
//	                  ↘ REVERTING → FAILURE
//	(или) PENDING → FAILURE (граф не прошёл валидацию)
type FlowState string

const (
	// FlowStatePending — flow создан, задачи ещё добавляются.
	FlowStatePending FlowState = "PENDING"

	// FlowStateRunning — задачи выполняются.
	FlowStateRunning FlowState = "RUNNING"

	// FlowStateReverting — задача упала, выполняются компенсации.
	FlowStateReverting FlowState = "REVERTING"

	// FlowStateSuccess — все задачи выполнены успешно.
	FlowStateSuccess FlowState = "SUCCESS"

	// FlowStateFailure — flow завершился с ошибкой.
	FlowStateFailure FlowState = "FAILURE"
)

// IsTerminal возвращает true, если состояние финальное.
func (s FlowState) IsTerminal() bool {
	switch s {
	case FlowStateSuccess, FlowStateFailure:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление FlowState.
func (s FlowState) String() string {
	return string(s)
}

// JobState — состояние job на доске.
//
// Жизненный цикл:
//
//	UNCLAIMED → CLAIMED → RUNNING → SUCCESS
//	    ↑          |               ↘ FAILURE
//	    └─ unclaim ┘
type JobState string

const (
	// JobStateUnclaimed — job опубликован и ждёт исполнителя.
	JobStateUnclaimed JobState = "UNCLAIMED"

	// JobStateClaimed — job захвачен владельцем, но ещё не запущен.
	JobStateClaimed JobState = "CLAIMED"

	// JobStateRunning — flow job'а выполняется.
	JobStateRunning JobState = "RUNNING"

	// JobStateSuccess — flow job'а завершён успешно.
	JobStateSuccess JobState = "SUCCESS"

	// JobStateFailure — flow job'а завершился с ошибкой.
	JobStateFailure JobState = "FAILURE"
)

// IsTerminal возвращает true, если job можно стереть с доски.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailure:
		return true
	default:
		return false
	}
}

// ParseJobState парсит строку в JobState.
// Неизвестные значения возвращают false.
func ParseJobState(s string) (JobState, bool) {
	switch JobState(s) {
	case JobStateUnclaimed, JobStateClaimed, JobStateRunning, JobStateSuccess, JobStateFailure:
		return JobState(s), true
	default:
		return "", false
	}
}

// TaskOutcome — итог задачи в logbook.
type TaskOutcome string

const (
	// TaskOutcomeSuccess — задача выполнена.
	TaskOutcomeSuccess TaskOutcome = "SUCCESS"

	// TaskOutcomeFailure — задача упала и вызвала откат flow.
	TaskOutcomeFailure TaskOutcome = "FAILURE"

	// TaskOutcomeReverted — компенсация задачи выполнена.
	TaskOutcomeReverted TaskOutcome = "REVERTED"

	// TaskOutcomeRevertFailed — компенсация задачи упала.
	TaskOutcomeRevertFailed TaskOutcome = "REVERT_FAILED"
)
