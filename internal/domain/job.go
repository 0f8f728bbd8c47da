package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job — единица распределяемой работы на доске.
//
// Job создаётся когда:
// - Пользователь публикует его через API/CLI
// - Scheduler публикует его по расписанию
//
// Conductor захватывает job, запускает зарегистрированный flow
// с именем Name и записывает историю в logbook.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// Name — имя flow, который нужно выполнить.
	Name string `json:"name"`

	// Inputs — входные параметры, доступные задачам через Context.
	Inputs map[string]any `json:"inputs,omitempty"`

	// State — текущее состояние job.
	State JobState `json:"state"`

	// Owner — текущий владелец (пусто, если job не захвачен).
	Owner string `json:"owner,omitempty"`

	// Error — текст ошибки, если job завершился с FAILURE.
	Error string `json:"error,omitempty"`

	// PostedOn — доски, на которые job был опубликован.
	PostedOn []string `json:"posted_on,omitempty"`

	// PostedAt — время публикации на доску.
	PostedAt time.Time `json:"posted_at"`

	// UpdatedAt — время последнего изменения.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob создаёт job для flow с указанными входными параметрами.
func NewJob(name string, inputs map[string]any) *Job {
	return &Job{
		ID:     uuid.New(),
		Name:   name,
		Inputs: inputs,
		State:  JobStateUnclaimed,
	}
}

// IsFinished возвращает true, если job завершён (в любом статусе).
func (j *Job) IsFinished() bool {
	return j.State.IsTerminal()
}

// IsClaimed возвращает true, если у job есть владелец.
func (j *Job) IsClaimed() bool {
	return j.Owner != ""
}

// Claim назначает владельца.
func (j *Job) Claim(owner string, now time.Time) {
	j.Owner = owner
	j.State = JobStateClaimed
	j.UpdatedAt = now
}

// Unclaim снимает владельца и возвращает job на доску.
func (j *Job) Unclaim(now time.Time) {
	j.Owner = ""
	j.State = JobStateUnclaimed
	j.UpdatedAt = now
}

// Transition переводит job в новое состояние.
// errMsg сохраняется только для FAILURE.
func (j *Job) Transition(state JobState, errMsg string, now time.Time) {
	j.State = state
	if state == JobStateFailure {
		j.Error = errMsg
	} else {
		j.Error = ""
	}
	j.UpdatedAt = now
}

// Clone возвращает копию job, не разделяющую срезы и карты.
func (j *Job) Clone() Job {
	c := *j
	if j.Inputs != nil {
		c.Inputs = make(map[string]any, len(j.Inputs))
		for k, v := range j.Inputs {
			c.Inputs[k] = v
		}
	}
	if j.PostedOn != nil {
		c.PostedOn = append([]string(nil), j.PostedOn...)
	}
	return c
}
