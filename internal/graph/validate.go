// Package graph validates the task graph of a single DAG: unique task names,
// known task references, inferred needs, cycle absence, and a deterministic
// topological order.
package graph

import (
	"container/heap"
	"errors"
	"fmt"
	"sort"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// Annotated is a validated DAG. DAG is a copy of the input whose task needs
// hold the effective need set, listed in declaration order.
type Annotated struct {
	DAG *schema.DAG
	// Order lists task names so that every task follows all of its needs.
	Order []string
	// Needs maps each task to its effective needs.
	Needs map[string][]string
	// Inferred maps each task to the needs found only through its references.
	Inferred map[string][]string
}

// Validate checks dag and returns it annotated with effective needs and a
// topological order. The input is never modified.
//
// Duplicate names, unknown tasks and cycles stop validation. Reference
// problems are collected and returned together.
func Validate(dag *schema.DAG) (*Annotated, error) {
	if dag == nil {
		return nil, &schema.DocumentError{Reason: "nil dag"}
	}

	index := make(map[string]int, len(dag.Tasks))
	for i, task := range dag.Tasks {
		if task.Name == "" {
			return nil, &schema.DocumentError{Path: dag.Name, Reason: fmt.Sprintf("task %d has no name", i)}
		}
		if _, dup := index[task.Name]; dup {
			return nil, &schema.TaskNameError{DAG: dag.Name, Name: task.Name}
		}
		index[task.Name] = i
	}
	if err := checkUniqueIO(dag); err != nil {
		return nil, err
	}

	needs, inferred, err := collectNeeds(dag, index)
	if err != nil {
		return nil, err
	}
	if err := findCycle(dag, needs); err != nil {
		return nil, err
	}
	order := topoOrder(dag, needs)

	if err := checkReferences(dag); err != nil {
		return nil, err
	}

	out := dag.Clone()
	needNames := make(map[string][]string, len(dag.Tasks))
	inferredNames := make(map[string][]string, len(dag.Tasks))
	for i := range out.Tasks {
		name := out.Tasks[i].Name
		needNames[name] = namesOf(dag, needs[i])
		inferredNames[name] = namesOf(dag, inferred[i])
		out.Tasks[i].Needs = append([]string(nil), needNames[name]...)
	}

	return &Annotated{
		DAG:      out,
		Order:    order,
		Needs:    needNames,
		Inferred: inferredNames,
	}, nil
}

// collectNeeds returns, per task index, the effective and the inferred need
// sets as sorted declaration indices.
func collectNeeds(dag *schema.DAG, index map[string]int) (needs, inferred [][]int, err error) {
	needs = make([][]int, len(dag.Tasks))
	inferred = make([][]int, len(dag.Tasks))
	var unknown []error

	for i, task := range dag.Tasks {
		explicit := make(map[int]struct{}, len(task.Needs))
		for _, need := range task.Needs {
			j, ok := index[need]
			if !ok {
				unknown = append(unknown, &schema.UnknownTaskError{
					Location: schema.Location{DAG: dag.Name, Task: task.Name, Field: "needs"},
					Name:     need,
				})
				continue
			}
			explicit[j] = struct{}{}
		}

		found := make(map[int]struct{})
		for _, ref := range taskRefs(task) {
			name, _, _ := schema.TaskSource(ref.Reference)
			j, ok := index[name]
			if !ok {
				unknown = append(unknown, &schema.UnknownTaskError{
					Location: schema.Location{DAG: dag.Name, Task: task.Name, Field: ref.field},
					Name:     name,
				})
				continue
			}
			if _, listed := explicit[j]; !listed {
				found[j] = struct{}{}
			}
		}

		effective := make(map[int]struct{}, len(explicit)+len(found))
		for j := range explicit {
			effective[j] = struct{}{}
		}
		for j := range found {
			effective[j] = struct{}{}
		}
		needs[i] = sortedIndices(effective)
		inferred[i] = sortedIndices(found)
	}

	if len(unknown) > 0 {
		return nil, nil, errors.Join(unknown...)
	}
	return needs, inferred, nil
}

type fieldRef struct {
	schema.Reference
	field string
}

// taskRefs returns the task references held by a task's arguments and loop.
func taskRefs(task schema.Task) []fieldRef {
	var out []fieldRef
	for _, arg := range task.Arguments {
		if _, _, ok := schema.TaskSource(arg.From.Reference); ok {
			out = append(out, fieldRef{Reference: arg.From.Reference, field: "arguments." + arg.Name})
		}
	}
	if task.Loop != nil {
		if _, _, ok := schema.TaskSource(task.Loop.From.Reference); ok {
			out = append(out, fieldRef{Reference: task.Loop.From.Reference, field: "loop"})
		}
	}
	return out
}

// findCycle walks needs depth first in declaration order and reports the first
// cycle found. The reported path reads "a -> b -> a" when a needs b and b needs a.
func findCycle(dag *schema.DAG, needs [][]int) error {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(dag.Tasks))
	var stack []int

	var walk func(i int) []int
	walk = func(i int) []int {
		color[i] = gray
		stack = append(stack, i)
		for _, j := range needs[i] {
			switch color[j] {
			case gray:
				start := 0
				for k, v := range stack {
					if v == j {
						start = k
						break
					}
				}
				cycle := append(append([]int{}, stack[start:]...), j)
				return cycle
			case white:
				if cycle := walk(j); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range dag.Tasks {
		if color[i] != white {
			continue
		}
		if cycle := walk(i); cycle != nil {
			return &schema.GraphCycleError{DAG: dag.Name, Path: namesOf(dag, cycle)}
		}
	}
	return nil
}

// topoOrder is Kahn's algorithm with ready tasks taken in declaration order.
// needs must already be known to be acyclic.
func topoOrder(dag *schema.DAG, needs [][]int) []string {
	dependents := make([][]int, len(dag.Tasks))
	inDegree := make([]int, len(dag.Tasks))
	for i, ns := range needs {
		inDegree[i] = len(ns)
		for _, j := range ns {
			dependents[j] = append(dependents[j], i)
		}
	}

	ready := &indexHeap{}
	for i, d := range inDegree {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]string, 0, len(dag.Tasks))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, dag.Tasks[i].Name)
		for _, next := range dependents[i] {
			inDegree[next]--
			if inDegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	return order
}

type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *indexHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func sortedIndices(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func namesOf(dag *schema.DAG, indices []int) []string {
	out := make([]string, len(indices))
	for k, i := range indices {
		out[k] = dag.Tasks[i].Name
	}
	return out
}
