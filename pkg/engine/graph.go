package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// node is a task plus its wiring inside a Graph.
type node struct {
	task Task
	key  string

	// deps holds identity keys of tasks this node waits on, including
	// follow-ups discovered at run time.
	deps map[string]bool

	// dependents holds identity keys of tasks waiting on this node.
	dependents map[string]bool

	status   TaskStatus
	err      error
	attempts int
	duration time.Duration

	// followupsSeen guards against a task yielding the same follow-up
	// set forever; Run is re-invoked only after new follow-ups complete.
	followupsSeen map[string]bool
}

// Graph is the deduplicated task DAG for one scheduler run. Tasks are
// constructed fresh per run from the manifest, so the graph carries no
// state beyond the run itself.
type Graph struct {
	nodes map[string]*node
	// order preserves insertion order for deterministic reporting.
	order []string
}

// BuildGraph walks the static requirements of the root tasks, deduplicates
// by identity and validates the result. Any error is a configuration error:
// it is raised before a single remote call is issued.
func BuildGraph(roots []Task) (*Graph, error) {
	g := &Graph{nodes: make(map[string]*node)}
	for _, root := range roots {
		if _, err := g.add(root, nil); err != nil {
			return nil, err
		}
	}
	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// add inserts a task and, recursively, its static requirements. The path
// argument tracks the current requirement chain for cycle reporting.
func (g *Graph) add(t Task, path []string) (*node, error) {
	key := t.Identity().Key()
	for _, p := range path {
		if p == key {
			return nil, NewConfigurationError(
				fmt.Sprintf("dependency cycle: %s", formatCycle(append(path, key))), nil,
			).WithCode(ErrCodeCycle)
		}
	}

	if existing, ok := g.nodes[key]; ok {
		return existing, nil
	}

	n := &node{
		task:          t,
		key:           key,
		deps:          make(map[string]bool),
		dependents:    make(map[string]bool),
		status:        TaskStatusPending,
		followupsSeen: make(map[string]bool),
	}
	g.nodes[key] = n
	g.order = append(g.order, key)

	for _, dep := range t.Requires() {
		depNode, err := g.add(dep, append(path, key))
		if err != nil {
			return nil, err
		}
		if depNode.key == key {
			return nil, NewConfigurationError(
				fmt.Sprintf("task %s requires itself", key), nil,
			).WithCode(ErrCodeCycle)
		}
		n.deps[depNode.key] = true
		depNode.dependents[key] = true
	}

	return n, nil
}

// addDynamic inserts a follow-up task discovered during Run and wires it as
// a dependency of the discovering node. Returns the follow-up's node and
// whether it still needs to complete.
func (g *Graph) addDynamic(owner *node, t Task) (*node, bool, error) {
	depNode, err := g.add(t, []string{owner.key})
	if err != nil {
		return nil, false, err
	}
	owner.followupsSeen[depNode.key] = true
	if depNode.status.IsTerminal() {
		if depNode.status == TaskStatusFailed || depNode.status == TaskStatusSkipped {
			return depNode, false, NewPermanentError(
				fmt.Sprintf("follow-up %s already failed", depNode.key), depNode.err,
			).WithCode(ErrCodeDependencyFailed)
		}
		return depNode, false, nil
	}
	owner.deps[depNode.key] = true
	depNode.dependents[owner.key] = true
	return depNode, true, nil
}

// TaskCount returns the number of distinct tasks in the graph.
func (g *Graph) TaskCount() int {
	return len(g.nodes)
}

// Keys returns the identity keys in deterministic (insertion) order.
func (g *Graph) Keys() []string {
	keys := make([]string, len(g.order))
	copy(keys, g.order)
	return keys
}

// detectCycles runs depth-first search over the dependency edges. The
// recursive add already rejects cycles along requirement chains; this
// catches cycles formed across shared, deduplicated nodes.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool)
	inStack := make(map[string]bool)

	var visit func(key string, path []string) error
	visit = func(key string, path []string) error {
		visited[key] = true
		inStack[key] = true
		path = append(path, key)

		for dep := range g.nodes[key].deps {
			if inStack[dep] {
				return NewConfigurationError(
					fmt.Sprintf("dependency cycle: %s", formatCycle(append(path, dep))), nil,
				).WithCode(ErrCodeCycle)
			}
			if !visited[dep] {
				if err := visit(dep, path); err != nil {
					return err
				}
			}
		}

		inStack[key] = false
		return nil
	}

	// Iterate in sorted order for deterministic error messages.
	keys := make([]string, 0, len(g.nodes))
	for key := range g.nodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if !visited[key] {
			if err := visit(key, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// skipDependents marks every transitive dependent of the node as skipped.
func (g *Graph) skipDependents(n *node, cause error) []*node {
	var skipped []*node
	queue := make([]string, 0, len(n.dependents))
	for dep := range n.dependents {
		queue = append(queue, dep)
	}
	sort.Strings(queue)

	seen := make(map[string]bool)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		if seen[key] {
			continue
		}
		seen[key] = true

		d := g.nodes[key]
		if d.status.IsTerminal() {
			continue
		}
		d.status = TaskStatusSkipped
		d.err = NewPermanentError(
			fmt.Sprintf("dependency %s failed", n.key), cause,
		).WithCode(ErrCodeDependencyFailed)
		skipped = append(skipped, d)

		next := make([]string, 0, len(d.dependents))
		for dd := range d.dependents {
			next = append(next, dd)
		}
		sort.Strings(next)
		queue = append(queue, next...)
	}
	return skipped
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}
