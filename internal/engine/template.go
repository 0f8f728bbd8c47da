package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
)

// TemplateData — данные для рендеринга шаблонов задачи.
//
// Используется в Go templates:
//   - {{ .Inputs.param_name }}   — входные параметры job
//   - {{ .Requires.name }}       — разрешённые входы задачи
//   - {{ .Response.field }}      — ответ шага (шаблоны outputs)
//   - {{ .Result.name }}         — результат задачи (шаблоны revert)
//   - {{ .Error }}               — ошибка, вызвавшая откат
//   - {{ .Env.VAR_NAME }}        — переменные окружения
type TemplateData struct {
	// Inputs — входные параметры job.
	Inputs map[string]any `json:"inputs"`

	// Requires — разрешённые входы задачи.
	Requires map[string]any `json:"requires"`

	// Response — выход шага до извлечения outputs.
	Response map[string]any `json:"response,omitempty"`

	// Result — результат задачи, которую откатывают.
	Result map[string]any `json:"result,omitempty"`

	// Error — текст ошибки, вызвавшей откат.
	Error string `json:"error,omitempty"`

	// Env — переменные окружения.
	Env map[string]string `json:"env"`
}

// NewTemplateData создаёт данные шаблона из контекста flow и входов задачи.
func NewTemplateData(fc *Context, in Inputs) *TemplateData {
	data := &TemplateData{
		Inputs:   make(map[string]any),
		Requires: make(map[string]any, len(in)),
		Env:      make(map[string]string),
	}
	if fc != nil && fc.Inputs != nil {
		data.Inputs = fc.Inputs
	}
	for k, v := range in {
		data.Requires[k] = v
	}
	return data
}

// SetEnv устанавливает переменную окружения.
func (d *TemplateData) SetEnv(key, value string) {
	d.Env[key] = value
}

// templateFuncs — дополнительные функции для шаблонов.
var templateFuncs = template.FuncMap{
	// json — сериализует значение в JSON строку
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — возвращает значение по умолчанию, если первый аргумент пустой
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	// coalesce — возвращает первое непустое значение
	"coalesce": func(values ...any) any {
		for _, v := range values {
			if v != nil {
				if s, ok := v.(string); ok && s == "" {
					continue
				}
				return v
			}
		}
		return nil
	},

	// toJSON — алиас для json
	"toJSON": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	},

	// fromJSON — парсит JSON строку
	"fromJSON": func(s string) any {
		var result any
		if err := json.Unmarshal([]byte(s), &result); err != nil {
			return nil
		}
		return result
	},

	// join — объединяет слайс строк
	"join": func(sep string, items []string) string {
		return strings.Join(items, sep)
	},

	// split — разбивает строку на слайс
	"split": func(sep, s string) []string {
		return strings.Split(s, sep)
	},

	// contains — проверяет, содержит ли строка подстроку
	"contains": strings.Contains,

	// hasPrefix — проверяет префикс строки
	"hasPrefix": strings.HasPrefix,

	// hasSuffix — проверяет суффикс строки
	"hasSuffix": strings.HasSuffix,

	// lower — приводит к нижнему регистру
	"lower": strings.ToLower,

	// upper — приводит к верхнему регистру
	"upper": strings.ToUpper,

	// trim — удаляет пробелы по краям
	"trim": strings.TrimSpace,

	// replace — заменяет подстроку
	"replace": strings.ReplaceAll,
}

// Render рендерит строковый шаблон с контекстом.
//
// Шаблон может содержать Go template выражения:
//
//	{{ .Inputs.param }}
//	{{ .Requires.vm_id }}
//	{{ if .Requires.is_valid }}...{{ end }}
func Render(tmpl string, data any) (string, error) {
	// Проверяем, содержит ли строка шаблонные выражения
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice.
func RenderValue(value any, data any) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case string:
		return Render(v, data)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, data)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, data)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case map[string]string:
		result := make(map[string]string, len(v))
		for key, val := range v {
			rendered, err := Render(val, data)
			if err != nil {
				return nil, err
			}
			result[key] = rendered
		}
		return result, nil

	case []string:
		result := make([]string, len(v))
		for i, val := range v {
			rendered, err := Render(val, data)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		// Для остальных типов (int, float, bool) возвращаем как есть
		return value, nil
	}
}

// RenderConfig рендерит конфигурацию шага.
// Это обёртка над RenderValue для map[string]any.
func RenderConfig(config map[string]any, data any) (map[string]any, error) {
	if config == nil {
		return make(map[string]any), nil
	}

	rendered, err := RenderValue(config, data)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected map, got %T", ErrTemplateRender, rendered)
	}

	return result, nil
}

// RenderOutput рендерит шаблон извлечения выхода.
//
// Шаблон, состоящий из одного выражения {{ .X.y }}, возвращает значение
// как есть (map, число, bool). Остальные шаблоны рендерятся в строку.
func RenderOutput(tmpl string, data any) (any, error) {
	if path, ok := singleFieldPath(tmpl); ok {
		v, err := lookupPath(data, path)
		if err == nil {
			return v, nil
		}
	}
	return Render(tmpl, data)
}

// singleFieldPath распознаёт шаблон вида "{{ .A.b.c }}".
func singleFieldPath(tmpl string) ([]string, bool) {
	s := strings.TrimSpace(tmpl)
	if !strings.HasPrefix(s, "{{") || !strings.HasSuffix(s, "}}") {
		return nil, false
	}
	expr := strings.TrimSpace(s[2 : len(s)-2])
	if strings.Contains(expr, "{{") || !strings.HasPrefix(expr, ".") || strings.ContainsAny(expr, " |()\"") {
		return nil, false
	}
	return strings.Split(expr[1:], "."), true
}

// lookupPath проходит по полям TemplateData и вложенным map.
func lookupPath(data any, path []string) (any, error) {
	if len(path) == 0 || path[0] == "" {
		return nil, ErrTemplateRender
	}

	var cur any
	switch d := data.(type) {
	case *TemplateData:
		switch path[0] {
		case "Inputs":
			cur = d.Inputs
		case "Requires":
			cur = d.Requires
		case "Response":
			cur = d.Response
		case "Result":
			cur = d.Result
		case "Error":
			cur = d.Error
		default:
			return nil, ErrTemplateRender
		}
	case map[string]any:
		cur = d[path[0]]
	default:
		return nil, ErrTemplateRender
	}

	for _, key := range path[1:] {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a map", ErrTemplateRender, key)
		}
		v, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("%w: no key %q", ErrTemplateRender, key)
		}
		cur = v
	}
	return cur, nil
}
