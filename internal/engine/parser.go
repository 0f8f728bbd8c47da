package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/taskflow/internal/domain"
)

// Format — формат файла FlowSpec.
type Format string

const (
	// FormatJSON — JSON.
	FormatJSON Format = "json"

	// FormatYAML — YAML.
	FormatYAML Format = "yaml"
)

// FormatFromPath определяет формат по расширению файла.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// ParseSpec парсит FlowSpec из JSON или YAML и валидирует его.
func ParseSpec(data []byte, format Format) (*domain.FlowSpec, error) {
	var spec domain.FlowSpec

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: json: %w", ErrMalformedSpec, err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&spec); err != nil {
			return nil, fmt.Errorf("%w: yaml: %w", ErrMalformedSpec, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// LoadSpecFile читает и парсит FlowSpec из файла.
// Формат определяется по расширению.
func LoadSpecFile(path string) (*domain.FlowSpec, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec %s: %w", path, err)
	}

	spec, err := ParseSpec(data, format)
	if err != nil {
		return nil, fmt.Errorf("spec %s: %w", path, err)
	}
	return spec, nil
}

// Validate выполняет полную валидацию FlowSpec.
//
// Проверяет:
// - Наличие задач
// - Непустые имена и типы
// - Уникальность имён задач
// - Что шаблоны outputs ссылаются на имена из provides
// - Граф зависимостей (producer'ы, неоднозначность, циклы)
//
// Известность типов шагов проверяет steps.Build.
func Validate(spec *domain.FlowSpec) error {
	if spec == nil || len(spec.Tasks) == 0 {
		return NewValidationError("", "tasks", "flow spec has no tasks", ErrEmptyTasks)
	}

	names := make(map[string]bool, len(spec.Tasks))
	for i := range spec.Tasks {
		if err := ValidateTask(&spec.Tasks[i], names); err != nil {
			return err
		}
	}

	// Граф проверяется на задачах-заглушках: важны только имена
	tasks := make([]*Task, len(spec.Tasks))
	for i, def := range spec.Tasks {
		tasks[i] = NewTask(def.Name, nil).Requires(def.Requires...).Provides(def.Provides...).Build()
	}
	if _, err := Connect(tasks, spec.SameInputsAllowed()); err != nil {
		if se, ok := err.(*StateError); ok {
			se.Flow = spec.Name
		}
		return err
	}

	return nil
}

// ValidateTask валидирует одну задачу.
// names — уже встреченные имена задач (для проверки уникальности).
func ValidateTask(def *domain.TaskDef, names map[string]bool) error {
	if def.Name == "" {
		return NewValidationError("", "name", "task has empty name", ErrEmptyTaskName)
	}

	if names[def.Name] {
		return NewValidationError(def.Name, "name",
			fmt.Sprintf("duplicate task name: %s", def.Name), ErrDuplicateTask)
	}
	names[def.Name] = true

	if def.Type == "" {
		return NewValidationError(def.Name, "type", "task has empty type", ErrEmptyTaskType)
	}

	provides := make(map[string]bool, len(def.Provides))
	for _, p := range def.Provides {
		provides[p] = true
	}
	for name := range def.Outputs {
		if !provides[name] {
			return NewValidationError(def.Name, "outputs",
				fmt.Sprintf("output %q is not listed in provides", name), ErrUnknownOutput)
		}
	}

	if def.TimeoutSec < 0 {
		return NewValidationError(def.Name, "timeout_sec",
			"timeout must not be negative", domain.ErrInvalidState)
	}

	if def.Revert != nil && def.Revert.Type == "" {
		return NewValidationError(def.Name, "revert.type",
			"revert has empty type", ErrEmptyTaskType)
	}

	return nil
}
