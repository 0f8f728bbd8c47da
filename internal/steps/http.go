package steps

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// StepTypeHTTP — тип HTTP шага.
	StepTypeHTTP = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи конфигурации HTTP шага.
const (
	configMethod          = "method"
	configURL             = "url"
	configQuery           = "query"
	configHeaders         = "headers"
	configBody            = "body"
	configSendRequires    = "send_requires"
	configFollowRedirects = "follow_redirects"
	configValidateSSL     = "validate_ssl"
	configTimeoutSec      = "timeout_sec"
	configFailOnStatus    = "fail_on_status"
)

// HTTPStep — запрос к внешнему API из задачи flow.
//
// Конфигурация рендерится до вызова, поэтому url, query, headers и body
// могут ссылаться на входы job'а и requires задачи:
//
//	{
//	    "method": "POST",
//	    "url": "https://cloud.example.com/vms/{{ .Requires.vm.id }}/boot",
//	    "query": {"zone": "{{ .Inputs.zone }}"},
//	    "headers": {"Authorization": "Bearer {{ .Inputs.token }}"},
//	    "body": {"image": "{{ .Requires.image }}"},
//	    "send_requires": false,   // true — body = все requires задачи
//	    "follow_redirects": true,
//	    "validate_ssl": true,
//	    "timeout_sec": 30,        // если у задачи нет timeout_sec
//	    "fail_on_status": true    // статус >= 400 → *HTTPError
//	}
//
// Outputs: status_code, headers, body (JSON разбирается, иначе строка).
// Компенсация обычно тот же шаг: {"method": "DELETE", "url": ".../{{ .Result.vm.id }}"}.
type HTTPStep struct {
	transport         http.RoundTripper
	insecureTransport http.RoundTripper
}

// NewHTTPStep создаёт новый HTTPStep.
// Транспорты общие для всех задач: соединения переиспользуются.
func NewHTTPStep() *HTTPStep {
	base := http.DefaultTransport.(*http.Transport)
	insecure := base.Clone()
	insecure.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	return &HTTPStep{
		transport:         base.Clone(),
		insecureTransport: insecure,
	}
}

// Type возвращает тип шага.
func (s *HTTPStep) Type() string {
	return StepTypeHTTP
}

// Execute выполняет HTTP запрос.
func (s *HTTPStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	cfg, err := s.parseConfig(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := cfg.request(ctx)
	if err != nil {
		return nil, req.configError(StepTypeHTTP, "build request: %v", err)
	}

	logger := req.Logger(ctx).With("method", cfg.method, "url", cfg.url.Redacted())
	start := time.Now()

	resp, err := s.client(cfg, req.Timeout).Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, req.cancelled(ctx.Err())
		}
		logger.Warn("http request failed", "error", err)
		return nil, fmt.Errorf("%s: http request failed: %w", req.describe(), err)
	}
	defer resp.Body.Close()

	out, err := readResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.describe(), err)
	}

	logger.Debug("http request done", "status", resp.StatusCode, "duration", time.Since(start))

	if cfg.failOnStatus && resp.StatusCode >= http.StatusBadRequest {
		logger.Warn("http request rejected", "status", resp.StatusCode)
		body, _ := out.Outputs["body"].(string)
		return nil, &HTTPError{
			TaskName:   req.TaskName,
			Requires:   req.RequireNames(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       body,
		}
	}

	return out, nil
}

// httpConfig — разобранная конфигурация запроса.
type httpConfig struct {
	method          string
	url             *url.URL
	headers         http.Header
	body            any
	followRedirects bool
	validateSSL     bool
	timeout         time.Duration
	failOnStatus    bool
}

func (s *HTTPStep) parseConfig(req *Request) (*httpConfig, error) {
	config := req.Config

	rawURL := GetConfigString(config, configURL)
	if rawURL == "" {
		return nil, req.configError(StepTypeHTTP, "url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, req.configError(StepTypeHTTP, "invalid url %q", rawURL)
	}
	if query := GetConfigMapString(config, configQuery); len(query) > 0 {
		values := u.Query()
		for k, v := range query {
			values.Set(k, v)
		}
		u.RawQuery = values.Encode()
	}

	cfg := &httpConfig{
		method:          strings.ToUpper(GetConfigString(config, configMethod)),
		url:             u,
		headers:         make(http.Header),
		body:            config[configBody],
		followRedirects: GetConfigBool(config, configFollowRedirects, true),
		validateSSL:     GetConfigBool(config, configValidateSSL, true),
		failOnStatus:    GetConfigBool(config, configFailOnStatus, true),
	}
	if cfg.method == "" {
		cfg.method = http.MethodGet
	}
	if sec := GetConfigInt(config, configTimeoutSec); sec > 0 {
		cfg.timeout = time.Duration(sec) * time.Second
	}
	for k, v := range GetConfigMapString(config, configHeaders) {
		cfg.headers.Set(k, v)
	}

	if GetConfigBool(config, configSendRequires, false) {
		if cfg.body != nil {
			return nil, req.configError(StepTypeHTTP, "body and send_requires are mutually exclusive")
		}
		requires := map[string]any{}
		if req.Template != nil {
			requires = req.Template.Requires
		}
		cfg.body = requires
	}

	return cfg, nil
}

// request создаёт *http.Request; map и slice body уходят как JSON.
func (c *httpConfig) request(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	switch b := c.body.(type) {
	case nil:
	case string:
		body = strings.NewReader(b)
	case []byte:
		body = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		body = bytes.NewReader(data)
		if c.headers.Get("Content-Type") == "" {
			c.headers.Set("Content-Type", "application/json")
		}
	}

	r, err := http.NewRequestWithContext(ctx, c.method, c.url.String(), body)
	if err != nil {
		return nil, err
	}
	r.Header = c.headers
	return r, nil
}

// client собирает клиент запроса. Таймаут задачи важнее timeout_sec.
func (s *HTTPStep) client(cfg *httpConfig, taskTimeout time.Duration) *http.Client {
	timeout := defaultHTTPTimeout
	switch {
	case taskTimeout > 0:
		timeout = taskTimeout
	case cfg.timeout > 0:
		timeout = cfg.timeout
	}

	c := &http.Client{Timeout: timeout, Transport: s.transport}
	if !cfg.validateSSL {
		c.Transport = s.insecureTransport
	}
	if !cfg.followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// readResponse превращает ответ в outputs шага.
// Тело больше maxResponseBody — ошибка, а не обрезанный JSON.
func readResponse(resp *http.Response) (*Response, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if len(data) > maxResponseBody {
		return nil, fmt.Errorf("response body exceeds %d bytes", maxResponseBody)
	}

	var body any = string(data)
	if isJSON(resp.Header.Get("Content-Type")) {
		var parsed any
		if err := json.Unmarshal(data, &parsed); err == nil {
			body = parsed
		}
	}

	headers := make(map[string]any, len(resp.Header))
	for key, values := range resp.Header {
		headers[key] = strings.Join(values, ", ")
	}

	return NewResponse(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}), nil
}

// isJSON распознаёт application/json и типы с суффиксом +json.
func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// HTTPError — ответ со статусом >= 400 при fail_on_status.
type HTTPError struct {
	TaskName   string
	Requires   []string
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("task %s: HTTP %d: %s", e.TaskName, e.StatusCode, e.Status)
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}
