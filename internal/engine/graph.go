package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph — валидированный граф зависимостей задач.
//
// Задачи хранятся в арене и адресуются индексом (порядок добавления).
// Рёбра producer → consumer дедуплицированы по паре задач.
type Graph struct {
	// tasks — арена задач.
	tasks []*Task

	// index — имя задачи → индекс.
	index map[string]int

	// providers — имя выхода → индексы producer'ов в порядке добавления.
	providers map[string][]int

	// out — producer → consumer'ы.
	out [][]int

	// in — consumer → producer'ы.
	in [][]int

	// order — топологический порядок (индексы).
	order []int
}

// Connect строит и валидирует граф из задач.
//
// Проверки выполняются в порядке:
//  1. nil задачи и дубликаты имён
//  2. несколько producer'ов одного имени (если allowSameInputs = false)
//  3. требования без producer'а
//  4. циклы
//
// Все ошибки — *StateError (errors.Is(err, domain.ErrInvalidState)).
func Connect(tasks []*Task, allowSameInputs bool) (*Graph, error) {
	g := &Graph{
		tasks:     make([]*Task, 0, len(tasks)),
		index:     make(map[string]int, len(tasks)),
		providers: make(map[string][]int),
		out:       make([][]int, len(tasks)),
		in:        make([][]int, len(tasks)),
	}

	// Первый проход: арена и индекс имён
	for i, task := range tasks {
		if task == nil {
			return nil, newStateError("", "", fmt.Sprintf("task #%d is nil", i), ErrNilTask)
		}
		if _, exists := g.index[task.name]; exists {
			return nil, newStateError("", task.name, "duplicate task", ErrDuplicateTask)
		}
		g.index[task.name] = i
		g.tasks = append(g.tasks, task)
	}

	// Второй проход: индекс provides
	for i, task := range g.tasks {
		for _, name := range task.provides {
			g.providers[name] = append(g.providers[name], i)
		}
	}

	if !allowSameInputs {
		for _, task := range g.tasks {
			for _, name := range task.provides {
				producers := g.providers[name]
				if len(producers) > 1 {
					return nil, newStateError("", task.name,
						fmt.Sprintf("ambiguous provider: %q is provided by %s", name, g.names(producers)),
						ErrAmbiguousProvider)
				}
			}
		}
	}

	for _, task := range g.tasks {
		for _, name := range task.requires {
			if len(g.providers[name]) == 0 {
				return nil, newStateError("", task.name,
					fmt.Sprintf("unresolved requirement: nothing provides %q", name),
					ErrUnresolvedRequirement)
			}
		}
	}

	// Третий проход: рёбра producer → consumer
	for consumer, task := range g.tasks {
		for _, name := range task.requires {
			for _, producer := range g.providers[name] {
				g.addEdge(producer, consumer)
			}
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// addEdge добавляет ребро, если его ещё нет.
func (g *Graph) addEdge(from, to int) {
	for _, existing := range g.out[from] {
		if existing == to {
			return
		}
	}
	g.out[from] = append(g.out[from], to)
	g.in[to] = append(g.in[to], from)
}

// topologicalSort выполняет послойный алгоритм Кана.
//
// Каждый слой — все задачи с нулевой входящей степенью,
// упорядоченные по индексу добавления.
func (g *Graph) topologicalSort() ([]int, error) {
	inDegree := make([]int, len(g.tasks))
	for i := range g.tasks {
		inDegree[i] = len(g.in[i])
	}

	layer := make([]int, 0)
	for i, deg := range inDegree {
		if deg == 0 {
			layer = append(layer, i)
		}
	}

	order := make([]int, 0, len(g.tasks))
	for len(layer) > 0 {
		order = append(order, layer...)

		next := make([]int, 0)
		for _, from := range layer {
			for _, to := range g.out[from] {
				inDegree[to]--
				if inDegree[to] == 0 {
					next = append(next, to)
				}
			}
		}
		sort.Ints(next)
		layer = next
	}

	if len(order) != len(g.tasks) {
		cycle := g.findCycle(inDegree)
		return nil, newStateError("", g.tasks[cycle[0]].name,
			"circular dependency: "+g.path(cycle),
			ErrCyclicDependency)
	}

	return order, nil
}

// findCycle возвращает путь цикла среди задач, оставшихся после Кана.
// Первый и последний элементы совпадают.
func (g *Graph) findCycle(inDegree []int) []int {
	const (
		white = iota
		grey
		black
	)
	color := make([]int, len(g.tasks))
	stack := make([]int, 0)

	var visit func(int) []int
	visit = func(v int) []int {
		color[v] = grey
		stack = append(stack, v)
		for _, w := range g.out[v] {
			if inDegree[w] == 0 {
				continue
			}
			switch color[w] {
			case grey:
				for i, s := range stack {
					if s == w {
						cycle := append([]int(nil), stack[i:]...)
						return append(cycle, w)
					}
				}
			case white:
				if cycle := visit(w); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[v] = black
		return nil
	}

	for v := range g.tasks {
		if inDegree[v] > 0 && color[v] == white {
			if cycle := visit(v); cycle != nil {
				return cycle
			}
		}
	}
	// Недостижимо: оставшиеся после Кана вершины всегда содержат цикл
	return []int{0}
}

func (g *Graph) names(indices []int) string {
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = g.tasks[idx].name
	}
	return strings.Join(names, ", ")
}

func (g *Graph) path(indices []int) string {
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = g.tasks[idx].name
	}
	return strings.Join(names, " -> ")
}

// Order возвращает задачи в топологическом порядке.
// Каждый вызов возвращает новый срез с одинаковым содержимым.
func (g *Graph) Order() []*Task {
	order := make([]*Task, len(g.order))
	for i, idx := range g.order {
		order[i] = g.tasks[idx]
	}
	return order
}

// Tasks возвращает задачи в порядке добавления.
func (g *Graph) Tasks() []*Task {
	return append([]*Task(nil), g.tasks...)
}

// Len возвращает количество задач.
func (g *Graph) Len() int {
	return len(g.tasks)
}

// Task возвращает задачу по имени.
func (g *Graph) Task(name string) (*Task, bool) {
	idx, ok := g.index[name]
	if !ok {
		return nil, false
	}
	return g.tasks[idx], true
}

// Producers возвращает задачи, предоставляющие name, в порядке добавления.
func (g *Graph) Producers(name string) []*Task {
	producers := g.providers[name]
	tasks := make([]*Task, len(producers))
	for i, idx := range producers {
		tasks[i] = g.tasks[idx]
	}
	return tasks
}

// DependsOn возвращает задачи, от которых зависит задача name.
func (g *Graph) DependsOn(name string) []*Task {
	return g.neighbours(name, g.in)
}

// Dependents возвращает задачи, которые зависят от задачи name.
func (g *Graph) Dependents(name string) []*Task {
	return g.neighbours(name, g.out)
}

func (g *Graph) neighbours(name string, edges [][]int) []*Task {
	idx, ok := g.index[name]
	if !ok {
		return nil
	}
	tasks := make([]*Task, len(edges[idx]))
	for i, n := range edges[idx] {
		tasks[i] = g.tasks[n]
	}
	return tasks
}

// Roots возвращает задачи без зависимостей.
func (g *Graph) Roots() []*Task {
	roots := make([]*Task, 0)
	for i, task := range g.tasks {
		if len(g.in[i]) == 0 {
			roots = append(roots, task)
		}
	}
	return roots
}
