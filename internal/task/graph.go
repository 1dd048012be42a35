package task

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTaskList     = errors.New("no tasks defined")
	ErrDuplicateTask     = errors.New("duplicate task id")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDependencyCycle   = errors.New("circular dependency")
)

// Graph indexes the dependency edges declared through ArtifactTask inputs.
type Graph struct {
	order      []string
	tasks      map[string]*Task
	dependents map[string][]string
}

// NewGraph validates ids, dependency references and acyclicity.
func NewGraph(tasks []*Task) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, ErrEmptyTaskList
	}
	g := &Graph{
		tasks:      make(map[string]*Task, len(tasks)),
		dependents: make(map[string][]string),
	}
	for i, t := range tasks {
		if t == nil || t.ID == "" {
			return nil, fmt.Errorf("task #%d: id cannot be empty", i)
		}
		if _, dup := g.tasks[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		g.tasks[t.ID] = t
		g.order = append(g.order, t.ID)
	}
	for _, id := range g.order {
		for _, dep := range g.tasks[id].DependsOn() {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, id, dep)
			}
			if dep == id {
				return nil, fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, id, dep)
			}
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		onStack[id] = true
		for _, dep := range g.tasks[id].DependsOn() {
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, id, dep)
			}
		}
		onStack[id] = false
		return nil
	}

	for _, id := range g.order {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// Order returns task ids in declaration order.
func (g *Graph) Order() []string {
	return g.order
}

func (g *Graph) Dependencies(id string) []string {
	t, ok := g.tasks[id]
	if !ok {
		return nil
	}
	return t.DependsOn()
}

func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// AllDependents returns every task transitively depending on id, in
// breadth-first order.
func (g *Graph) AllDependents(id string) []string {
	seen := map[string]bool{id: true}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[cur] {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			queue = append(queue, d)
		}
	}
	return out
}

// Ready reports whether every dependency of id has been accepted.
func (g *Graph) Ready(id string, status func(string) Status) bool {
	for _, dep := range g.Dependencies(id) {
		if status(dep) != StatusAccepted {
			return false
		}
	}
	return true
}
