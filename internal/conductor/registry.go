package conductor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/shaiso/taskflow/internal/domain"
	"github.com/shaiso/taskflow/internal/engine"
	"github.com/shaiso/taskflow/internal/steps"
)

// FlowFactory создаёт новый flow для job'а.
// Flow одноразовый, поэтому на каждый job строится свой.
type FlowFactory func(job domain.Job, opts ...engine.Option) (*engine.Flow, error)

// FlowInfo — описание зарегистрированного flow.
type FlowInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tasks       []string `json:"tasks,omitempty"`
	Steps       []string `json:"steps,omitempty"`
}

type registryEntry struct {
	info    FlowInfo
	spec    *domain.FlowSpec
	factory FlowFactory
}

// Registry — реестр flow по имени.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register регистрирует flow, собранный в коде.
func (r *Registry) Register(name string, factory FlowFactory) error {
	return r.add(registryEntry{info: FlowInfo{Name: name}, factory: factory})
}

// RegisterSpec регистрирует декларативный flow.
// Spec проверяется сразу: ошибки графа и неизвестные типы шагов
// обнаруживаются при регистрации, а не при первом job'е.
func (r *Registry) RegisterSpec(spec *domain.FlowSpec, stepsRegistry *steps.Registry) error {
	if stepsRegistry == nil {
		stepsRegistry = steps.DefaultRegistry()
	}
	if _, err := steps.Build(spec, stepsRegistry); err != nil {
		return fmt.Errorf("flow %q: %w", spec.Name, err)
	}

	tasks := make([]string, 0, len(spec.Tasks))
	for _, t := range spec.Tasks {
		tasks = append(tasks, t.Name)
	}

	return r.add(registryEntry{
		info: FlowInfo{Name: spec.Name, Description: spec.Description, Tasks: tasks, Steps: steps.Kinds(spec)},
		spec: spec,
		factory: func(_ domain.Job, opts ...engine.Option) (*engine.Flow, error) {
			return steps.Build(spec, stepsRegistry, opts...)
		},
	})
}

func (r *Registry) add(e registryEntry) error {
	if e.info.Name == "" {
		return ErrEmptyFlowName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[e.info.Name]; exists {
		return fmt.Errorf("flow %q: %w", e.info.Name, domain.ErrAlreadyExists)
	}
	r.entries[e.info.Name] = e
	return nil
}

// LoadDir регистрирует все *.yaml, *.yml и *.json файлы каталога.
// Возвращает количество загруженных flow.
func (r *Registry) LoadDir(dir string, stepsRegistry *steps.Registry) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read flows dir: %w", err)
	}

	var loaded int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := engine.FormatFromPath(path); err != nil {
			continue
		}

		spec, err := engine.LoadSpecFile(path)
		if err != nil {
			return loaded, fmt.Errorf("load %s: %w", path, err)
		}
		if err := r.RegisterSpec(spec, stepsRegistry); err != nil {
			return loaded, fmt.Errorf("register %s: %w", path, err)
		}
		loaded++
	}
	return loaded, nil
}

// Lookup возвращает фабрику flow.
func (r *Registry) Lookup(name string) (FlowFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e.factory, ok
}

// Has проверяет, зарегистрирован ли flow.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Spec возвращает spec декларативного flow.
func (r *Registry) Spec(name string) (*domain.FlowSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok || e.spec == nil {
		return nil, false
	}
	return e.spec, true
}

// Flows возвращает описания flow, отсортированные по имени.
func (r *Registry) Flows() []FlowInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]FlowInfo, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, e.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
