package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/domain"
)

// ListJobs возвращает job'ы доски в порядке публикации.
// GET /api/v1/jobs?posted_after=...&posted_before=... (RFC 3339)
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	after, err := parseTimeParam(r, "posted_after")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	before, err := parseTimeParam(r, "posted_before")
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	jobs, err := h.board.PostedAfter(r.Context(), after)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		if before != nil && !j.PostedAt.Before(*before) {
			continue
		}
		result = append(result, JobFromDomain(j))
	}

	List(w, result, len(result))
}

// PostJob публикует job.
// POST /api/v1/jobs
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) {
	var req PostJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if h.flows != nil && !h.flows.Has(req.Name) {
		InvalidState(w, fmt.Sprintf("flow %q is not registered", req.Name))
		return
	}

	job := domain.NewJob(req.Name, req.Inputs)
	if req.ID != nil {
		job.ID = *req.ID
	}

	if HandleError(w, h.logger, h.board.Post(r.Context(), job)) {
		return
	}

	Created(w, JobFromDomain(*job))
}

// GetJob возвращает job по ID.
// GET /api/v1/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	job, err := h.board.Get(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, JobFromDomain(job))
}

// EraseJob стирает завершённый job.
// DELETE /api/v1/jobs/{id}
func (h *Handler) EraseJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	if HandleError(w, h.logger, h.board.Erase(r.Context(), id)) {
		return
	}

	NoContent(w)
}

// ClaimJob захватывает job.
// POST /api/v1/jobs/{id}/claim
func (h *Handler) ClaimJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Owner == "" {
		BadRequest(w, "owner is required")
		return
	}

	if HandleError(w, h.logger, h.board.Claim(r.Context(), id, req.Owner)) {
		return
	}

	job, err := h.board.Get(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	Success(w, JobFromDomain(job))
}

// UnclaimJob снимает захват.
// DELETE /api/v1/jobs/{id}/claim?owner=...
func (h *Handler) UnclaimJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	owner := r.URL.Query().Get("owner")
	if owner == "" {
		BadRequest(w, "owner is required")
		return
	}

	if HandleError(w, h.logger, h.board.Unclaim(r.Context(), id, owner)) {
		return
	}

	NoContent(w)
}

// GetLogbook возвращает историю выполнения job.
// GET /api/v1/jobs/{id}/logbook
func (h *Handler) GetLogbook(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	exists, err := h.catalog.Contains(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}
	if !exists {
		NotFound(w, "logbook not found")
		return
	}

	book, err := h.catalog.CreateOrFetch(r.Context(), id)
	if HandleError(w, h.logger, err) {
		return
	}

	flows, err := catalog.Snapshot(r.Context(), book)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, LogbookResponse{JobID: id, Flows: flows})
}

// --- Helpers ---

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC 3339 time", name)
	}
	return &t, nil
}
