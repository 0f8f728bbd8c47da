package domain

// FlowSpec — декларативное описание flow (JSON или YAML).
//
// Spec не задаёт порядок выполнения: порядок выводится из
// requires/provides задач при построении графа.
//
//	name: provision-vm
//	allow_same_inputs: false
//	tasks:
//	  - name: allocate
//	    type: http
//	    provides: [vm_id]
//	    config: {method: POST, url: "https://api/vms"}
//	    outputs: {vm_id: "{{ .Response.body.id }}"}
//	    revert:
//	      type: http
//	      config: {method: DELETE, url: "https://api/vms/{{ .Result.vm_id }}"}
type FlowSpec struct {
	// Version — версия формата спецификации.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Name — имя flow. По нему conductor находит flow для job.
	Name string `json:"name" yaml:"name"`

	// Description — описание назначения flow.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// AllowSameInputs — разрешить нескольким задачам предоставлять одно имя.
	// nil означает значение по умолчанию (true).
	AllowSameInputs *bool `json:"allow_same_inputs,omitempty" yaml:"allow_same_inputs,omitempty"`

	// Tasks — задачи flow в порядке объявления.
	Tasks []TaskDef `json:"tasks" yaml:"tasks"`
}

// TaskDef — определение задачи в FlowSpec.
type TaskDef struct {
	// Name — уникальное имя задачи в рамках flow.
	Name string `json:"name" yaml:"name"`

	// Type — тип шага: "http", "delay", "transform", "fail".
	Type string `json:"type" yaml:"type"`

	// Requires — имена входов, которые задача получает от других задач.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`

	// Provides — имена выходов, которые задача публикует для других задач.
	Provides []string `json:"provides,omitempty" yaml:"provides,omitempty"`

	// Config — конфигурация шага (зависит от типа, поддерживает шаблоны).
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`

	// Outputs — шаблоны извлечения выходов из ответа шага.
	// Ключ — имя из Provides. Без шаблона берётся одноимённый output шага.
	Outputs map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// TimeoutSec — таймаут выполнения шага.
	TimeoutSec int `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// Revert — компенсация задачи при откате flow.
	Revert *RevertDef `json:"revert,omitempty" yaml:"revert,omitempty"`
}

// RevertDef — определение компенсации.
type RevertDef struct {
	// Type — тип шага компенсации.
	Type string `json:"type" yaml:"type"`

	// Config — конфигурация шага; шаблоны видят .Result и .Error.
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

// SameInputsAllowed возвращает значение AllowSameInputs с учётом умолчания.
func (s *FlowSpec) SameInputsAllowed() bool {
	if s.AllowSameInputs == nil {
		return true
	}
	return *s.AllowSameInputs
}
