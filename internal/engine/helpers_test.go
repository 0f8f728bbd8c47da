package engine

import "context"

// orderKey — ключ контекста, куда задачи пишут своё имя.
const orderKey = "order"

// providesRequiresTask возвращает задачу, которая записывает своё имя
// в контекст и возвращает true для каждого provides.
func providesRequiresTask(name string, provides, requires []string) *Task {
	fn := func(_ context.Context, fc *Context, _ Inputs) (Outputs, error) {
		fc.Append(orderKey, name)
		out := make(Outputs, len(provides))
		for _, p := range provides {
			out[p] = true
		}
		return out, nil
	}
	return NewTask(name, fn).Requires(requires...).Provides(provides...).Build()
}

// runOrder возвращает имена задач в порядке выполнения.
func runOrder(fc *Context) []string {
	list := fc.List(orderKey)
	names := make([]string, len(list))
	for i, v := range list {
		names[i], _ = v.(string)
	}
	return names
}

func taskNames(tasks []*Task) []string {
	names := make([]string, len(tasks))
	for i, t := range tasks {
		names[i] = t.Name()
	}
	return names
}
