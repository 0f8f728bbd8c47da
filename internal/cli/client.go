package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, клиент не импортирует internal/api) ---

// JobResponse — job из API.
type JobResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	State     string         `json:"state"`
	Owner     string         `json:"owner,omitempty"`
	Error     string         `json:"error,omitempty"`
	PostedOn  []string       `json:"posted_on,omitempty"`
	PostedAt  string         `json:"posted_at"`
	UpdatedAt string         `json:"updated_at"`
}

// TaskDetailResponse — запись о задаче из logbook.
type TaskDetailResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// FlowDetailResponse — flow из logbook.
type FlowDetailResponse struct {
	Name  string               `json:"name"`
	Tasks []TaskDetailResponse `json:"tasks"`
}

// LogbookResponse — история выполнения job.
type LogbookResponse struct {
	JobID string               `json:"job_id"`
	Flows []FlowDetailResponse `json:"flows"`
}

// FlowInfoResponse — зарегистрированный flow из API.
type FlowInfoResponse struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

// --- Request types ---

// PostJobRequest — публикация job.
type PostJobRequest struct {
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name"`
	Inputs map[string]any `json:"inputs,omitempty"`
}

// ListJobsOpts — окно выборки job'ов.
type ListJobsOpts struct {
	PostedAfter  string
	PostedBefore string
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, возвращённая API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для TaskFlow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Jobs ---

// ListJobs возвращает job'ы в окне публикации.
func (c *Client) ListJobs(opts ListJobsOpts) ([]JobResponse, error) {
	params := url.Values{}
	if opts.PostedAfter != "" {
		params.Set("posted_after", opts.PostedAfter)
	}
	if opts.PostedBefore != "" {
		params.Set("posted_before", opts.PostedBefore)
	}

	var jobs []JobResponse
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// PostJob публикует job.
func (c *Client) PostJob(req PostJobRequest) (*JobResponse, error) {
	var job JobResponse
	err := c.post("/api/v1/jobs", req, &job)
	return &job, err
}

// GetJob возвращает job по ID.
func (c *Client) GetJob(id string) (*JobResponse, error) {
	var job JobResponse
	err := c.get("/api/v1/jobs/"+url.PathEscape(id), &job)
	return &job, err
}

// EraseJob стирает завершённый job.
func (c *Client) EraseJob(id string) error {
	return c.delete("/api/v1/jobs/" + url.PathEscape(id))
}

// ClaimJob захватывает job для owner.
func (c *Client) ClaimJob(id, owner string) (*JobResponse, error) {
	var job JobResponse
	body := map[string]string{"owner": owner}
	err := c.post("/api/v1/jobs/"+url.PathEscape(id)+"/claim", body, &job)
	return &job, err
}

// UnclaimJob снимает захват owner'а.
func (c *Client) UnclaimJob(id, owner string) error {
	params := url.Values{}
	params.Set("owner", owner)
	return c.delete("/api/v1/jobs/" + url.PathEscape(id) + "/claim?" + params.Encode())
}

// Logbook возвращает историю выполнения job.
func (c *Client) Logbook(id string) (*LogbookResponse, error) {
	var lb LogbookResponse
	err := c.get("/api/v1/jobs/"+url.PathEscape(id)+"/logbook", &lb)
	return &lb, err
}

// --- Flows ---

// ListFlows возвращает flow, зарегистрированные на сервере.
func (c *Client) ListFlows() ([]FlowInfoResponse, error) {
	var flows []FlowInfoResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
