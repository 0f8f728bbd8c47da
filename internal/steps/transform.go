package steps

import (
	"context"
	"encoding/json"
	"maps"
	"strings"

	"github.com/shaiso/taskflow/internal/engine"
)

const (
	// StepTypeTransform — тип шага трансформации.
	StepTypeTransform = "transform"

	// Ключ конфигурации.
	configMappings = "mappings"
)

// TransformStep — шаг трансформации входов задачи в её выходы.
//
// Mappings не рендерятся заранее вместе с остальной конфигурацией
// (см. RawConfigKeys): шаблон из одного выражения возвращает значение
// как есть, поэтому {{ .Requires.vm }} публикует map, а не её строку.
// Составные шаблоны рендерятся в строку и, если это JSON, разбираются.
//
// Конфигурация:
//
//	{
//	    "mappings": {
//	        "vm":     "{{ .Requires.vm }}",
//	        "vm_id":  "{{ .Requires.vm.id }}",
//	        "label":  "{{ .Inputs.tenant }}-{{ .Requires.vm.id }}",
//	        "limits": "{\"cpu\": {{ .Inputs.cpu }}}"
//	    }
//	}
//
// Без mappings шаг публикует свои requires без изменений:
// так задача может переименовать вход через provides/outputs.
type TransformStep struct{}

// NewTransformStep создаёт новый TransformStep.
func NewTransformStep() *TransformStep {
	return &TransformStep{}
}

// Type возвращает тип шага.
func (s *TransformStep) Type() string {
	return StepTypeTransform
}

// RawConfigKeys — mappings рендерит сам шаг.
func (s *TransformStep) RawConfigKeys() []string {
	return []string{configMappings}
}

// Execute вычисляет mappings над данными задачи.
func (s *TransformStep) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, req.cancelled(err)
	}

	data := req.Template
	if data == nil {
		data = engine.NewTemplateData(nil, nil)
	}

	mappings, err := s.parseMappings(req)
	if err != nil {
		return nil, err
	}
	if mappings == nil {
		return NewResponse(maps.Clone(data.Requires)), nil
	}

	outputs := make(map[string]any, len(mappings))
	for key, tmpl := range mappings {
		v, err := engine.RenderOutput(tmpl, data)
		if err != nil {
			return nil, req.configError(StepTypeTransform, "mapping %s: %v", key, err)
		}
		if str, ok := v.(string); ok {
			v = s.parseValue(str)
		}
		outputs[key] = v
	}

	req.Logger(ctx).Debug("transform done", "outputs", len(outputs))
	return &Response{Outputs: outputs}, nil
}

// parseMappings извлекает mappings из конфигурации.
// nil — ключ не задан; значение не-строка — ошибка конфигурации.
func (s *TransformStep) parseMappings(req *Request) (map[string]string, error) {
	raw, ok := req.Config[configMappings]
	if !ok || raw == nil {
		return nil, nil
	}

	switch m := raw.(type) {
	case map[string]string:
		return m, nil

	case map[string]any:
		result := make(map[string]string, len(m))
		for key, val := range m {
			str, ok := val.(string)
			if !ok {
				return nil, req.configError(StepTypeTransform, "mapping %s: expected template string, got %T", key, val)
			}
			result[key] = str
		}
		return result, nil

	default:
		return nil, req.configError(StepTypeTransform, "mappings: expected map, got %T", raw)
	}
}

// parseValue разбирает отрендеренную строку как JSON значение.
// Целые числа становятся int64; всё, что не JSON, остаётся строкой.
func (s *TransformStep) parseValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed == "null" {
		return value
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return value
	}
	return normalizeNumbers(v)
}

// normalizeNumbers заменяет json.Number на int64 или float64.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
