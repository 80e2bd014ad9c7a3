package di

import (
	"slices"
	"sort"
	"sync"
)

// buildStack holds the ids currently being resolved, outermost first.
type buildStack struct {
	mu  sync.Mutex
	ids []string
}

// push fails with CyclicDependencyError when id is already on the stack.
func (s *buildStack) push(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.ids, id) {
		path := append(slices.Clone(s.ids), id)
		return CyclicDependencyError{Path: path}
	}
	s.ids = append(s.ids, id)
	return nil
}

func (s *buildStack) pop() {
	s.mu.Lock()
	s.ids = s.ids[:len(s.ids)-1]
	s.mu.Unlock()
}

func (s *buildStack) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ids)
}

func (s *buildStack) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// detectCycles walks every definition in sorted id order and fails on the
// first construction cycle. Lazy references are not edges.
func detectCycles(defs map[string]*Definition) error {
	ids := make([]string, 0, len(defs))
	for id := range defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	done := map[string]bool{}
	var stack buildStack
	var visit func(id string) error
	visit = func(id string) error {
		if done[id] {
			return nil
		}
		if err := stack.push(id); err != nil {
			return err
		}
		var err error
		if d, ok := defs[id]; ok {
			d.eachReference(func(ref Reference, lazy bool) {
				if err != nil || lazy {
					return
				}
				err = visit(ref.ID)
			})
		}
		if err != nil {
			return err
		}
		stack.pop()
		done[id] = true
		return nil
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// dependencyLevels groups ids so every id comes after the ids it
// constructs eagerly. Ids inside a level are sorted.
func dependencyLevels(defs map[string]*Definition) [][]string {
	inDegree := make(map[string]int, len(defs))
	dependents := map[string][]string{}
	for id := range defs {
		inDegree[id] += 0
	}
	for id, d := range defs {
		seen := map[string]bool{}
		d.eachReference(func(ref Reference, lazy bool) {
			if lazy || seen[ref.ID] {
				return
			}
			if _, ok := defs[ref.ID]; !ok {
				return
			}
			seen[ref.ID] = true
			inDegree[id]++
			dependents[ref.ID] = append(dependents[ref.ID], id)
		})
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var levels [][]string
	for len(queue) > 0 {
		sort.Strings(queue)
		levels = append(levels, queue)
		var next []string
		for _, id := range queue {
			for _, dep := range dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}
	return levels
}
