package engine

import (
	"strings"
	"testing"
)

func TestNewTemplateData(t *testing.T) {
	// С nil контекстом
	data := NewTemplateData(nil, nil)
	if data.Inputs == nil {
		t.Error("Inputs should not be nil")
	}
	if data.Requires == nil {
		t.Error("Requires should not be nil")
	}

	// Входы задачи копируются
	in := Inputs{"a": 1}
	data = NewTemplateData(NewContext(map[string]any{"key": "value"}), in)
	in["a"] = 2
	if data.Inputs["key"] != "value" {
		t.Error("Inputs should contain job inputs")
	}
	if data.Requires["a"] != 1 {
		t.Errorf("Requires should be a copy, got %v", data.Requires["a"])
	}
}

func TestRender_SimpleInput(t *testing.T) {
	data := NewTemplateData(NewContext(map[string]any{
		"name": "test",
		"count": 42,
	}), nil)

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "string input",
			template: "Hello, {{ .Inputs.name }}!",
			expected: "Hello, test!",
		},
		{
			name:     "number input",
			template: "Count: {{ .Inputs.count }}",
			expected: "Count: 42",
		},
		{
			name:     "no template",
			template: "Plain text",
			expected: "Plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_Requires(t *testing.T) {
	data := NewTemplateData(nil, Inputs{
		"vm": map[string]any{
			"id":    "vm-1",
			"cores": 4,
		},
		"ips": []any{"10.0.0.1", "10.0.0.2"},
	})

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "nested access",
			template: "{{ .Requires.vm.id }}",
			expected: "vm-1",
		},
		{
			name:     "fan-in list",
			template: "{{ len .Requires.ips }}",
			expected: "2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_TemplateFunctions(t *testing.T) {
	data := NewTemplateData(NewContext(map[string]any{
		"text": "Hello World",
		"list": []string{"a", "b", "c"},
	}), nil)

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{
			name:     "lower",
			template: "{{ lower .Inputs.text }}",
			expected: "hello world",
		},
		{
			name:     "upper",
			template: "{{ upper .Inputs.text }}",
			expected: "HELLO WORLD",
		},
		{
			name:     "contains",
			template: "{{ contains .Inputs.text \"World\" }}",
			expected: "true",
		},
		{
			name:     "hasPrefix",
			template: "{{ hasPrefix .Inputs.text \"Hello\" }}",
			expected: "true",
		},
		{
			name:     "default with value",
			template: "{{ default \"fallback\" .Inputs.text }}",
			expected: "Hello World",
		},
		{
			name:     "default with nil",
			template: "{{ default \"fallback\" .Inputs.missing }}",
			expected: "fallback",
		},
		{
			name:     "json",
			template: `{{ json .Inputs.list }}`,
			expected: `["a","b","c"]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Render(tt.template, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestRender_InvalidTemplate(t *testing.T) {
	data := NewTemplateData(NewContext(nil), nil)

	// Некорректный синтаксис
	_, err := Render("{{ .Invalid syntax", data)
	if err == nil {
		t.Error("expected error for invalid template")
	}
	if !strings.Contains(err.Error(), "template parse") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestRenderValue(t *testing.T) {
	data := NewTemplateData(NewContext(map[string]any{"name": "test"}), nil)

	tests := []struct {
		name     string
		value    any
		expected any
	}{
		{
			name:     "nil",
			value:    nil,
			expected: nil,
		},
		{
			name:     "string without template",
			value:    "plain",
			expected: "plain",
		},
		{
			name:     "string with template",
			value:    "Hello, {{ .Inputs.name }}",
			expected: "Hello, test",
		},
		{
			name:     "int",
			value:    42,
			expected: 42,
		},
		{
			name:     "bool",
			value:    true,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := RenderValue(tt.value, data)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestRenderValue_Map(t *testing.T) {
	data := NewTemplateData(NewContext(map[string]any{
		"name": "test",
		"url":  "https://example.com",
	}), nil)

	value := map[string]any{
		"method": "POST",
		"url":    "{{ .Inputs.url }}/api",
		"body": map[string]any{
			"name": "{{ .Inputs.name }}",
		},
	}

	result, err := RenderValue(value, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resultMap, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", result)
	}

	if resultMap["url"] != "https://example.com/api" {
		t.Errorf("expected rendered url, got %v", resultMap["url"])
	}

	body, ok := resultMap["body"].(map[string]any)
	if !ok {
		t.Fatalf("expected body to be map")
	}
	if body["name"] != "test" {
		t.Errorf("expected rendered name, got %v", body["name"])
	}
}

func TestRenderValue_Slice(t *testing.T) {
	data := NewTemplateData(NewContext(map[string]any{"prefix": "item"}), nil)

	value := []any{
		"{{ .Inputs.prefix }}_1",
		"{{ .Inputs.prefix }}_2",
		42,
	}

	result, err := RenderValue(value, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resultSlice, ok := result.([]any)
	if !ok {
		t.Fatalf("expected slice, got %T", result)
	}

	if len(resultSlice) != 3 {
		t.Errorf("expected 3 items, got %d", len(resultSlice))
	}
	if resultSlice[0] != "item_1" {
		t.Errorf("expected item_1, got %v", resultSlice[0])
	}
	if resultSlice[1] != "item_2" {
		t.Errorf("expected item_2, got %v", resultSlice[1])
	}
	if resultSlice[2] != 42 {
		t.Errorf("expected 42, got %v", resultSlice[2])
	}
}

func TestRenderConfig(t *testing.T) {
	data := NewTemplateData(NewContext(map[string]any{
		"api_url": "https://api.example.com",
		"token":   "secret123",
	}), nil)

	config := map[string]any{
		"method": "GET",
		"url":    "{{ .Inputs.api_url }}/users",
		"headers": map[string]any{
			"Authorization": "Bearer {{ .Inputs.token }}",
		},
	}

	result, err := RenderConfig(config, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result["url"] != "https://api.example.com/users" {
		t.Errorf("expected rendered url")
	}

	headers, ok := result["headers"].(map[string]any)
	if !ok {
		t.Fatal("expected headers to be map")
	}
	if headers["Authorization"] != "Bearer secret123" {
		t.Errorf("expected rendered auth header")
	}
}

func TestRenderConfig_Nil(t *testing.T) {
	data := NewTemplateData(NewContext(nil), nil)

	result, err := RenderConfig(nil, data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil {
		t.Error("result should not be nil")
	}
	if len(result) != 0 {
		t.Error("result should be empty")
	}
}

func TestRenderOutput_KeepsType(t *testing.T) {
	data := NewTemplateData(nil, nil)
	data.Response = map[string]any{
		"status": 201,
		"body": map[string]any{
			"id":   "abc",
			"tags": []any{"x"},
		},
	}

	v, err := RenderOutput("{{ .Response.status }}", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 201 {
		t.Errorf("expected 201 (int), got %#v", v)
	}

	v, err = RenderOutput("{{ .Response.body }}", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if body["id"] != "abc" {
		t.Errorf("expected id abc, got %v", body["id"])
	}
}

func TestRenderOutput_String(t *testing.T) {
	data := NewTemplateData(nil, nil)
	data.Response = map[string]any{"id": "abc"}

	v, err := RenderOutput("vm-{{ .Response.id }}", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "vm-abc" {
		t.Errorf("expected vm-abc, got %v", v)
	}
}

func TestRenderOutput_RevertData(t *testing.T) {
	data := NewTemplateData(nil, nil)
	data.Result = map[string]any{"vm_id": "vm-7"}
	data.Error = "boom"

	v, err := RenderOutput("{{ .Result.vm_id }}", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "vm-7" {
		t.Errorf("expected vm-7, got %v", v)
	}

	s, err := Render("failed: {{ .Error }}", data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "failed: boom" {
		t.Errorf("expected rendered error, got %q", s)
	}
}
