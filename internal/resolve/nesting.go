package resolve

import (
	"github.com/mattjoyce/honeycomb/internal/schema"
)

// DefaultMaxDepth bounds DAG template nesting when no limit is configured.
const DefaultMaxDepth = 32

// CheckNesting walks DAG templates reachable from roots and fails when a DAG
// reaches itself through nested templates or the chain grows past maxDepth.
// Each DAG is walked once.
func CheckNesting(roots []*schema.DAG, pool *Pool, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	const (
		walking = 1
		done    = 2
	)
	state := make(map[string]int)

	var walk func(key string, dag *schema.DAG, stack []string) error
	walk = func(key string, dag *schema.DAG, stack []string) error {
		switch state[key] {
		case done:
			return nil
		case walking:
			idx := 0
			for i := range stack {
				if stack[i] == key {
					idx = i
					break
				}
			}
			cycle := append(append([]string{}, stack[idx:]...), key)
			return &schema.GraphCycleError{DAG: stack[0], Path: cycle}
		}
		if len(stack) >= maxDepth {
			return &schema.DepthLimitError{What: "dag template", Limit: maxDepth, Path: append(append([]string{}, stack...), key)}
		}

		state[key] = walking
		stack = append(stack, key)
		for _, task := range dag.Tasks {
			t, name, err := pool.Lookup(task.Template)
			if err != nil {
				return err
			}
			child, ok := t.(*schema.DAG)
			if !ok {
				continue
			}
			if err := walk(name, child, stack); err != nil {
				return err
			}
		}
		state[key] = done
		return nil
	}

	for _, root := range roots {
		if err := walk(root.Name, root, nil); err != nil {
			return err
		}
	}
	return nil
}
