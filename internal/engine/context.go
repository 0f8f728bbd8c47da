package engine

import "sync"

// Context — общий контекст, разделяемый задачами одного flow.
//
// Inputs — входные параметры job (только для чтения).
// Остальные значения задачи читают и пишут через Get/Set/Append.
// Методы потокобезопасны: задачи могут запускать свои горутины.
type Context struct {
	// Inputs — входные параметры job.
	Inputs map[string]any

	mu     sync.RWMutex
	values map[string]any
}

// NewContext создаёт контекст с входными параметрами.
func NewContext(inputs map[string]any) *Context {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &Context{
		Inputs: inputs,
		values: make(map[string]any),
	}
}

// Get возвращает значение по ключу.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set сохраняет значение по ключу.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Append добавляет значение в список по ключу.
// Если по ключу лежит не []any, значение заменяется новым списком.
func (c *Context) Append(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, _ := c.values[key].([]any)
	c.values[key] = append(list, value)
}

// List возвращает копию списка по ключу.
func (c *Context) List(key string) []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list, _ := c.values[key].([]any)
	return append([]any(nil), list...)
}

// Values возвращает снимок всех значений.
func (c *Context) Values() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snapshot[k] = v
	}
	return snapshot
}
