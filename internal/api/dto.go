package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/domain"
)

// Job DTOs

// PostJobRequest — запрос на публикацию job.
type PostJobRequest struct {
	// ID — необязательный ID (для идемпотентной публикации).
	ID     *uuid.UUID     `json:"id,omitempty"`
	Name   string         `json:"name"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ClaimRequest — запрос на захват job.
type ClaimRequest struct {
	Owner string `json:"owner"`
}

// JobResponse — ответ с job.
type JobResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	State     string         `json:"state"`
	Owner     string         `json:"owner,omitempty"`
	Error     string         `json:"error,omitempty"`
	PostedOn  []string       `json:"posted_on,omitempty"`
	PostedAt  time.Time      `json:"posted_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j domain.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Name:      j.Name,
		Inputs:    j.Inputs,
		State:     string(j.State),
		Owner:     j.Owner,
		Error:     j.Error,
		PostedOn:  j.PostedOn,
		PostedAt:  j.PostedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// LogbookResponse — история выполнения job.
type LogbookResponse struct {
	JobID uuid.UUID             `json:"job_id"`
	Flows []catalog.FlowSummary `json:"flows"`
}

// Flow DTOs

// ValidateFlowResponse — результат проверки flow spec.
type ValidateFlowResponse struct {
	Name  string     `json:"name"`
	Order []string   `json:"order"`
	Tasks []TaskInfo `json:"tasks"`
}

// TaskInfo — задача проверенного flow.
type TaskInfo struct {
	Name     string   `json:"name"`
	Requires []string `json:"requires,omitempty"`
	Provides []string `json:"provides,omitempty"`
	Revert   bool     `json:"revert,omitempty"`
}
