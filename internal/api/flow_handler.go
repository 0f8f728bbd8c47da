package api

import (
	"io"
	"mime"
	"net/http"

	"github.com/shaiso/taskflow/internal/conductor"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/steps"
)

// maxSpecSize — предел размера тела POST /flows/validate.
const maxSpecSize = 1 << 20

// ListFlows возвращает зарегистрированные flow.
// GET /api/v1/flows
func (h *Handler) ListFlows(w http.ResponseWriter, r *http.Request) {
	if h.flows == nil {
		List(w, []conductor.FlowInfo{}, 0)
		return
	}

	flows := h.flows.Flows()
	List(w, flows, len(flows))
}

// ValidateFlow проверяет flow spec и возвращает порядок выполнения.
// POST /api/v1/flows/validate
//
// Тело — JSON или YAML (Content-Type: application/yaml).
func (h *Handler) ValidateFlow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSpecSize))
	if err != nil {
		BadRequest(w, "cannot read request body")
		return
	}

	spec, err := engine.ParseSpec(data, specFormat(r))
	if HandleError(w, h.logger, err) {
		return
	}

	flow, err := steps.Build(spec, h.steps)
	if HandleError(w, h.logger, err) {
		return
	}

	order, err := flow.Order()
	if HandleError(w, h.logger, err) {
		return
	}

	resp := ValidateFlowResponse{
		Name:  spec.Name,
		Order: make([]string, 0, len(order)),
		Tasks: make([]TaskInfo, 0, len(order)),
	}
	for _, t := range order {
		resp.Order = append(resp.Order, t.Name())
	}
	for _, t := range flow.Tasks() {
		resp.Tasks = append(resp.Tasks, TaskInfo{
			Name:     t.Name(),
			Requires: t.Requires(),
			Provides: t.Provides(),
			Revert:   t.HasRevert(),
		})
	}

	Success(w, resp)
}

// specFormat определяет формат spec по Content-Type. По умолчанию JSON.
func specFormat(r *http.Request) engine.Format {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return engine.FormatYAML
	default:
		return engine.FormatJSON
	}
}
