package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/taskflow/internal/domain"
)

func TestValidate_EmptyTasks(t *testing.T) {
	tests := []struct {
		name string
		spec *domain.FlowSpec
	}{
		{
			name: "nil spec",
			spec: nil,
		},
		{
			name: "empty tasks",
			spec: &domain.FlowSpec{
				Tasks: []domain.TaskDef{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.spec)
			if !errors.Is(err, ErrEmptyTasks) {
				t.Errorf("expected ErrEmptyTasks, got %v", err)
			}
		})
	}
}

func TestValidate_TaskErrors(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []domain.TaskDef
		wantErr error
	}{
		{
			name:    "empty name",
			tasks:   []domain.TaskDef{{Type: "http"}},
			wantErr: ErrEmptyTaskName,
		},
		{
			name: "duplicate name",
			tasks: []domain.TaskDef{
				{Name: "a", Type: "http"},
				{Name: "a", Type: "delay"},
			},
			wantErr: ErrDuplicateTask,
		},
		{
			name:    "empty type",
			tasks:   []domain.TaskDef{{Name: "a"}},
			wantErr: ErrEmptyTaskType,
		},
		{
			name: "output not provided",
			tasks: []domain.TaskDef{
				{Name: "a", Type: "http", Outputs: map[string]string{"x": "{{ .Response.x }}"}},
			},
			wantErr: ErrUnknownOutput,
		},
		{
			name: "revert without type",
			tasks: []domain.TaskDef{
				{Name: "a", Type: "http", Revert: &domain.RevertDef{}},
			},
			wantErr: ErrEmptyTaskType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&domain.FlowSpec{Name: "f", Tasks: tt.tasks})
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_GraphErrors(t *testing.T) {
	no := false

	tests := []struct {
		name    string
		spec    domain.FlowSpec
		wantErr error
	}{
		{
			name: "unresolved requirement",
			spec: domain.FlowSpec{Tasks: []domain.TaskDef{
				{Name: "a", Type: "delay", Requires: []string{"x"}},
			}},
			wantErr: ErrUnresolvedRequirement,
		},
		{
			name: "ambiguous provider",
			spec: domain.FlowSpec{AllowSameInputs: &no, Tasks: []domain.TaskDef{
				{Name: "a", Type: "delay", Provides: []string{"x"}},
				{Name: "b", Type: "delay", Provides: []string{"x"}},
			}},
			wantErr: ErrAmbiguousProvider,
		},
		{
			name: "cycle",
			spec: domain.FlowSpec{Tasks: []domain.TaskDef{
				{Name: "a", Type: "delay", Requires: []string{"y"}, Provides: []string{"x"}},
				{Name: "b", Type: "delay", Requires: []string{"x"}, Provides: []string{"y"}},
			}},
			wantErr: ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.spec)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, domain.ErrInvalidState) {
				t.Errorf("expected invalid state kind, got %v", err)
			}
		})
	}
}

func TestValidate_SameInputsDefault(t *testing.T) {
	spec := &domain.FlowSpec{Tasks: []domain.TaskDef{
		{Name: "a", Type: "delay", Provides: []string{"x"}},
		{Name: "b", Type: "delay", Provides: []string{"x"}},
		{Name: "c", Type: "delay", Requires: []string{"x"}},
	}}

	if err := Validate(spec); err != nil {
		t.Errorf("expected valid spec, got %v", err)
	}
}

const yamlSpec = `
name: provision
description: allocate and boot
tasks:
  - name: allocate
    type: transform
    provides: [vm_id]
    config:
      mappings:
        vm_id: "vm-{{ .Inputs.suffix }}"
    revert:
      type: delay
      config: {duration: 1ms}
  - name: boot
    type: delay
    requires: [vm_id]
    timeout_sec: 5
    config:
      duration: 1ms
`

func TestParseSpec_YAML(t *testing.T) {
	spec, err := ParseSpec([]byte(yamlSpec), FormatYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if spec.Name != "provision" {
		t.Errorf("expected name provision, got %s", spec.Name)
	}
	if len(spec.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(spec.Tasks))
	}
	if spec.Tasks[0].Revert == nil || spec.Tasks[0].Revert.Type != "delay" {
		t.Errorf("expected delay revert, got %+v", spec.Tasks[0].Revert)
	}
	if spec.Tasks[1].TimeoutSec != 5 {
		t.Errorf("expected timeout 5, got %d", spec.Tasks[1].TimeoutSec)
	}
	if !spec.SameInputsAllowed() {
		t.Error("same inputs should be allowed by default")
	}
}

func TestParseSpec_JSON(t *testing.T) {
	data := []byte(`{
		"name": "json-flow",
		"allow_same_inputs": false,
		"tasks": [
			{"name": "a", "type": "delay", "provides": ["x"]},
			{"name": "b", "type": "delay", "requires": ["x"]}
		]
	}`)

	spec, err := ParseSpec(data, FormatJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.SameInputsAllowed() {
		t.Error("expected allow_same_inputs=false")
	}
	if spec.Tasks[1].Requires[0] != "x" {
		t.Errorf("expected requires [x], got %v", spec.Tasks[1].Requires)
	}
}

func TestParseSpec_UnknownField(t *testing.T) {
	_, err := ParseSpec([]byte("name: f\nsteps: []\n"), FormatYAML)
	if !errors.Is(err, ErrMalformedSpec) {
		t.Fatalf("expected ErrMalformedSpec for unknown field, got %v", err)
	}
}

func TestParseSpec_UnsupportedFormat(t *testing.T) {
	_, err := ParseSpec([]byte("{}"), Format("toml"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestLoadSpecFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "provision.yml")
	if err := os.WriteFile(path, []byte(yamlSpec), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	spec, err := LoadSpecFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if spec.Name != "provision" {
		t.Errorf("expected provision, got %s", spec.Name)
	}

	_, err = LoadSpecFile(filepath.Join(dir, "flow.txt"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}
