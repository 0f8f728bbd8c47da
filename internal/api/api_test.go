package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/taskflow/internal/catalog"
	"github.com/shaiso/taskflow/internal/conductor"
	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/jobboard"
	"github.com/shaiso/taskflow/internal/telemetry"
)

type testServer struct {
	*httptest.Server
	board   *jobboard.MemoryBoard
	catalog *catalog.MemoryCatalog
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	board := jobboard.NewMemoryBoard(jobboard.Config{Logger: logger})
	cat := catalog.NewMemoryCatalog()

	flows := conductor.NewRegistry()
	err := flows.Register("greet", func(domain.Job, ...engine.Option) (*engine.Flow, error) {
		return engine.NewFlow("greet"), nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h := NewHandler(Config{Board: board, Catalog: cat, Flows: flows, Logger: logger})
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, board: board, catalog: cat}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decodeData[T any](t *testing.T, data []byte) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return envelope.Data
}

func decodeError(t *testing.T, data []byte) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decode error %s: %v", data, err)
	}
	return resp.Error
}

func (s *testServer) postJob(t *testing.T, name string) JobResponse {
	t.Helper()
	resp, data := s.do(t, http.MethodPost, "/api/v1/jobs", "application/json",
		`{"name":"`+name+`","inputs":{"who":"world"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, data)
	}
	return decodeData[JobResponse](t, data)
}

func TestPostAndGetJob(t *testing.T) {
	s := newTestServer(t)

	job := s.postJob(t, "greet")
	if job.State != string(domain.JobStateUnclaimed) {
		t.Errorf("expected UNCLAIMED, got %s", job.State)
	}
	if job.Inputs["who"] != "world" {
		t.Errorf("expected inputs, got %v", job.Inputs)
	}

	resp, data := s.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID.String(), "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := decodeData[JobResponse](t, data); got.ID != job.ID {
		t.Errorf("expected %s, got %s", job.ID, got.ID)
	}
}

func TestPostJobValidation(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(t, http.MethodPost, "/api/v1/jobs", "application/json", `{"inputs":{}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/v1/jobs", "application/json", `{"name":"unknown"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unknown flow: expected 422, got %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodPost, "/api/v1/jobs", "application/json", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: expected 400, got %d", resp.StatusCode)
	}
}

func TestPostJobDuplicateID(t *testing.T) {
	s := newTestServer(t)
	id := uuid.New().String()
	body := `{"id":"` + id + `","name":"greet"}`

	if resp, _ := s.do(t, http.MethodPost, "/api/v1/jobs", "application/json", body); resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp, data := s.do(t, http.MethodPost, "/api/v1/jobs", "application/json", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if e := decodeError(t, data); e.Code != ErrCodeConflict {
		t.Errorf("expected CONFLICT, got %s", e.Code)
	}
}

func TestListJobsWindow(t *testing.T) {
	s := newTestServer(t)
	first := s.postJob(t, "greet")
	second := s.postJob(t, "greet")

	resp, data := s.do(t, http.MethodGet, "/api/v1/jobs", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if all := decodeData[[]JobResponse](t, data); len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}

	// posted_before — строго раньше
	q := "?posted_before=" + second.PostedAt.Format(time.RFC3339Nano)
	_, data = s.do(t, http.MethodGet, "/api/v1/jobs"+q, "", "")
	before := decodeData[[]JobResponse](t, data)
	for _, j := range before {
		if j.ID == second.ID {
			t.Errorf("posted_before must exclude job posted at the bound")
		}
	}

	// posted_after — включительно
	q = "?posted_after=" + first.PostedAt.Format(time.RFC3339Nano)
	_, data = s.do(t, http.MethodGet, "/api/v1/jobs"+q, "", "")
	if after := decodeData[[]JobResponse](t, data); len(after) != 2 {
		t.Errorf("posted_after must include the bound, got %d jobs", len(after))
	}

	resp, _ = s.do(t, http.MethodGet, "/api/v1/jobs?posted_after=yesterday", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad time, got %d", resp.StatusCode)
	}
}

func TestClaimUnclaim(t *testing.T) {
	s := newTestServer(t)
	job := s.postJob(t, "greet")
	path := "/api/v1/jobs/" + job.ID.String() + "/claim"

	resp, data := s.do(t, http.MethodPost, path, "application/json", `{"owner":"alice"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("claim: expected 200, got %d: %s", resp.StatusCode, data)
	}
	if got := decodeData[JobResponse](t, data); got.Owner != "alice" || got.State != string(domain.JobStateClaimed) {
		t.Errorf("unexpected claimed job: %+v", got)
	}

	resp, data = s.do(t, http.MethodPost, path, "application/json", `{"owner":"bob"}`)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("second claim: expected 422, got %d", resp.StatusCode)
	}
	if e := decodeError(t, data); e.Code != ErrCodeUnclaimable {
		t.Errorf("expected UNCLAIMABLE, got %s", e.Code)
	}

	resp, _ = s.do(t, http.MethodDelete, path+"?owner=bob", "", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("unclaim by stranger: expected 422, got %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodDelete, path, "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unclaim without owner: expected 400, got %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodDelete, path+"?owner=alice", "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("unclaim: expected 204, got %d", resp.StatusCode)
	}
}

func TestEraseJob(t *testing.T) {
	s := newTestServer(t)
	job := s.postJob(t, "greet")
	path := "/api/v1/jobs/" + job.ID.String()

	resp, _ := s.do(t, http.MethodDelete, path, "", "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("erase unfinished: expected 422, got %d", resp.StatusCode)
	}

	ctx := context.Background()
	s.board.Claim(ctx, job.ID, "alice")
	s.board.Transition(ctx, job.ID, "alice", domain.JobStateSuccess, "")

	resp, _ = s.do(t, http.MethodDelete, path, "", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("erase: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = s.do(t, http.MethodDelete, path, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("erase twice: expected 404, got %d", resp.StatusCode)
	}
}

func TestInvalidJobID(t *testing.T) {
	s := newTestServer(t)
	resp, _ := s.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestClosedBoard(t *testing.T) {
	s := newTestServer(t)
	s.board.Close()

	resp, data := s.do(t, http.MethodGet, "/api/v1/jobs", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if e := decodeError(t, data); e.Code != ErrCodeUnavailable {
		t.Errorf("expected UNAVAILABLE, got %s", e.Code)
	}
}

func TestGetLogbook(t *testing.T) {
	s := newTestServer(t)
	job := s.postJob(t, "greet")
	path := "/api/v1/jobs/" + job.ID.String() + "/logbook"

	resp, _ := s.do(t, http.MethodGet, path, "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before execution, got %d", resp.StatusCode)
	}

	ctx := context.Background()
	book, _ := s.catalog.CreateOrFetch(ctx, job.ID)
	fd, _ := book.AddFlow(ctx, "greet")
	fd.AddTask(ctx, "hello", map[string]any{"outcome": "SUCCESS"})

	resp, data := s.do(t, http.MethodGet, path, "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	lb := decodeData[LogbookResponse](t, data)
	if len(lb.Flows) != 1 || lb.Flows[0].Name != "greet" || len(lb.Flows[0].Tasks) != 1 {
		t.Fatalf("unexpected logbook: %+v", lb)
	}
	if lb.Flows[0].Tasks[0].Metadata["outcome"] != "SUCCESS" {
		t.Errorf("unexpected task detail: %+v", lb.Flows[0].Tasks[0])
	}
}

func TestListFlows(t *testing.T) {
	s := newTestServer(t)
	_, data := s.do(t, http.MethodGet, "/api/v1/flows", "", "")
	flows := decodeData[[]conductor.FlowInfo](t, data)
	if len(flows) != 1 || flows[0].Name != "greet" {
		t.Errorf("unexpected flows: %+v", flows)
	}
}

const validSpecYAML = `
name: pipeline
tasks:
  - name: load
    type: delay
    requires: [raw]
    provides: [loaded]
    config: {duration: 1ms}
  - name: fetch
    type: delay
    provides: [raw]
    config: {duration: 1ms}
`

func TestValidateFlowYAML(t *testing.T) {
	s := newTestServer(t)

	resp, data := s.do(t, http.MethodPost, "/api/v1/flows/validate", "application/yaml", validSpecYAML)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, data)
	}
	got := decodeData[ValidateFlowResponse](t, data)
	if strings.Join(got.Order, ",") != "fetch,load" {
		t.Errorf("expected order fetch,load, got %v", got.Order)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].Name != "load" {
		t.Errorf("expected tasks in declaration order, got %+v", got.Tasks)
	}
}

func TestValidateFlowErrors(t *testing.T) {
	s := newTestServer(t)

	cyclic := `{"name":"c","tasks":[
		{"name":"a","type":"delay","requires":["y"],"provides":["x"],"config":{"duration":"1ms"}},
		{"name":"b","type":"delay","requires":["x"],"provides":["y"],"config":{"duration":"1ms"}}]}`

	cases := []struct {
		name string
		body string
	}{
		{"cycle", cyclic},
		{"unknown step", `{"name":"u","tasks":[{"name":"a","type":"teleport"}]}`},
		{"empty", `{"name":"e","tasks":[]}`},
		{"malformed", `{"name":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := s.do(t, http.MethodPost, "/api/v1/flows/validate", "application/json", tc.body)
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", resp.StatusCode, data)
			}
			if e := decodeError(t, data); e.Code != ErrCodeInvalidFlow {
				t.Errorf("expected INVALID_FLOW, got %s (%s)", e.Code, e.Message)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Chain(Logging(logger), Recovery())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}

	logs := buf.String()
	if !strings.Contains(logs, "panic recovered") {
		t.Errorf("expected panic in logs, got %s", logs)
	}
	if !strings.Contains(logs, "level=ERROR msg=\"http request\"") || !strings.Contains(logs, "status=500") {
		t.Errorf("expected 500 request logged at ERROR, got %s", logs)
	}
}

func TestLoggingMiddlewareJobContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/jobs/{id}", Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		telemetry.FromContext(r.Context()).Info("inside handler")
		NotFound(w, "job not found")
	})))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "inside handler") || !strings.Contains(lines[0], "job_id=42") {
		t.Errorf("handler logger must carry job_id: %s", lines[0])
	}
	for _, want := range []string{"level=WARN", "job_id=42", "status=404", "method=GET"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("request log missing %s: %s", want, lines[1])
		}
	}
	if strings.Contains(lines[1], "bytes=0") {
		t.Errorf("expected response size in request log: %s", lines[1])
	}
}
