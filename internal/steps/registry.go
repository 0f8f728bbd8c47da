package steps

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
)

// Registry — реестр типов шагов, на которые ссылаются TaskDef.Type
// и RevertDef.Type. Потокобезопасен.
type Registry struct {
	mu    sync.RWMutex
	steps map[string]Step
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
	}
}

// DefaultRegistry создаёт реестр со встроенными типами:
// delay, http, transform, fail.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, step := range []Step{NewDelayStep(), NewHTTPStep(), NewTransformStep(), NewFailStep()} {
		if err := r.Register(step); err != nil {
			panic(err)
		}
	}
	return r
}

// Register добавляет тип шага.
// Пустой тип — ErrEmptyStepType, повторный — domain.ErrAlreadyExists.
func (r *Registry) Register(step Step) error {
	kind := step.Type()
	if kind == "" {
		return ErrEmptyStepType
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.steps[kind]; exists {
		return fmt.Errorf("step type %q: %w", kind, domain.ErrAlreadyExists)
	}
	r.steps[kind] = step
	return nil
}

// Get возвращает шаг по типу или ErrStepNotFound.
func (r *Registry) Get(kind string) (Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	step, exists := r.steps[kind]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStepNotFound, kind)
	}
	return step, nil
}

// Types возвращает зарегистрированные типы по алфавиту.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.steps))
	for t := range r.steps {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Resolve находит шаг задачи и, если задан revert, шаг её компенсации.
// Неизвестный тип — *engine.ValidationError с полем type или revert.type.
func (r *Registry) Resolve(def *domain.TaskDef) (step, revert Step, err error) {
	step, err = r.lookup(def.Name, "type", def.Type)
	if err != nil {
		return nil, nil, err
	}
	if def.Revert == nil {
		return step, nil, nil
	}
	revert, err = r.lookup(def.Name, "revert.type", def.Revert.Type)
	if err != nil {
		return nil, nil, err
	}
	return step, revert, nil
}

func (r *Registry) lookup(task, field, kind string) (Step, error) {
	step, err := r.Get(kind)
	if err == nil {
		return step, nil
	}
	return nil, engine.NewValidationError(task, field,
		fmt.Sprintf("unknown step type %q (known: %s)", kind, strings.Join(r.Types(), ", ")), err)
}

// Check проверяет, что все типы шагов spec'а зарегистрированы,
// включая типы компенсаций. Возвращает все несоответствия сразу.
func (r *Registry) Check(spec *domain.FlowSpec) error {
	var errs []error
	for i := range spec.Tasks {
		def := &spec.Tasks[i]
		if _, err := r.lookup(def.Name, "type", def.Type); err != nil {
			errs = append(errs, err)
		}
		if def.Revert != nil {
			if _, err := r.lookup(def.Name, "revert.type", def.Revert.Type); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Kinds возвращает типы шагов, которые использует spec
// (задачи и компенсации), без повторов и по алфавиту.
func Kinds(spec *domain.FlowSpec) []string {
	seen := make(map[string]struct{})
	for _, def := range spec.Tasks {
		seen[def.Type] = struct{}{}
		if def.Revert != nil {
			seen[def.Revert.Type] = struct{}{}
		}
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
