package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// checkReferences runs every per-task and per-output check and joins the failures.
func checkReferences(dag *schema.DAG) error {
	var errs []error
	for _, task := range dag.Tasks {
		errs = append(errs, checkTask(dag, task)...)
	}
	for _, out := range dag.Outputs {
		if err := schema.CheckOutput(dag, out); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// checkUniqueIO rejects repeated names among the DAG inputs, the DAG outputs
// and each task's returns. Lookups take the first match, so a repeat would
// make reference types depend on declaration order.
func checkUniqueIO(dag *schema.DAG) error {
	unique := func(path, kind string, names []string) error {
		seen := make(map[string]struct{}, len(names))
		for _, name := range names {
			if _, dup := seen[name]; dup {
				return &schema.DocumentError{Path: path, Reason: fmt.Sprintf("%s %q is declared more than once", kind, name)}
			}
			seen[name] = struct{}{}
		}
		return nil
	}

	names := make([]string, 0, len(dag.Inputs))
	for _, in := range dag.Inputs {
		names = append(names, in.Name)
	}
	if err := unique(dag.Name, "input", names); err != nil {
		return err
	}
	names = names[:0]
	for _, out := range dag.Outputs {
		names = append(names, out.Name)
	}
	if err := unique(dag.Name, "output", names); err != nil {
		return err
	}
	for _, task := range dag.Tasks {
		names = names[:0]
		for _, r := range task.Returns {
			names = append(names, r.Name)
		}
		if err := unique(dag.Name+"/"+task.Name, "return", names); err != nil {
			return err
		}
	}
	return nil
}

func checkTask(dag *schema.DAG, task schema.Task) []error {
	var errs []error
	loc := func(field string) schema.Location {
		return schema.Location{DAG: dag.Name, Task: task.Name, Field: field}
	}

	seen := make(map[string]struct{}, len(task.Arguments))
	for _, arg := range task.Arguments {
		field := "arguments." + arg.Name
		if _, dup := seen[arg.Name]; dup {
			errs = append(errs, &schema.ReferenceError{Location: loc(field), Source: arg.Name, Reason: "argument is bound more than once"})
			continue
		}
		seen[arg.Name] = struct{}{}

		ref := arg.From.Reference
		if err := schema.CheckReferenceAt(dag, ref, loc(field)); err != nil {
			errs = append(errs, err)
			continue
		}
		if item, ok := ref.(schema.ItemReference); ok && task.Loop == nil {
			errs = append(errs, &schema.ReferenceError{
				Location: loc(field),
				Source:   itemSource(item.Variable),
				Reason:   "item references need a loop on the task",
			})
		}
		if arg.SubPath != "" {
			if ref.Shape() == schema.ShapeScalar {
				errs = append(errs, &schema.ReferenceError{
					Location: loc(field),
					Reason:   fmt.Sprintf("sub_path needs a file, folder or path reference, not %s", ref.Kind()),
				})
			}
			errs = append(errs, checkPlaceholders(task, arg.SubPath, loc(field+".sub_path"))...)
		}
	}

	if task.Loop != nil {
		if err := checkLoop(dag, task, loc("loop")); err != nil {
			errs = append(errs, err)
		}
	}
	if task.SubFolder != "" {
		errs = append(errs, checkPlaceholders(task, task.SubFolder, loc("sub_folder"))...)
	}
	return errs
}

// checkLoop requires the loop source to be an array.
func checkLoop(dag *schema.DAG, task schema.Task, loc schema.Location) error {
	ref := task.Loop.From.Reference
	if err := schema.CheckReferenceAt(dag, ref, loc); err != nil {
		return err
	}
	notArray := func(source string, t schema.ValueType) error {
		return &schema.ReferenceError{
			Location: loc,
			Source:   source,
			Reason:   fmt.Sprintf("loop source must be an array, not %s", t),
		}
	}
	switch v := ref.(type) {
	case schema.ValueListReference:
		return nil
	case schema.InputReference:
		in, _ := dag.Input(v.Variable)
		if in.Type != schema.TypeArray {
			return notArray(v.Variable, in.Type)
		}
		return nil
	case schema.TaskReference:
		t, _ := dag.Task(v.Name)
		ret, _ := t.Return(v.Variable)
		if ret.Type != schema.TypeArray {
			return notArray(v.Name+"."+v.Variable, ret.Type)
		}
		return nil
	default:
		return &schema.ReferenceError{Location: loc, Reason: fmt.Sprintf("%s cannot be a loop source", ref.Kind())}
	}
}

// checkPlaceholders allows {{item}} and {{item.<field>}} on looped tasks and
// {{arguments.<name>}} for bound arguments. Substitution happens at run time.
func checkPlaceholders(task schema.Task, text string, loc schema.Location) []error {
	var errs []error
	for _, ph := range schema.Placeholders(text) {
		switch {
		case ph == "item" || strings.HasPrefix(ph, "item."):
			if task.Loop == nil {
				errs = append(errs, &schema.ReferenceError{Location: loc, Source: ph, Reason: "item placeholder needs a loop on the task"})
			}
		case strings.HasPrefix(ph, "arguments."):
			name := strings.TrimPrefix(ph, "arguments.")
			if _, ok := task.Argument(name); !ok {
				errs = append(errs, &schema.ReferenceError{Location: loc, Source: ph, Reason: "no argument named " + name})
			}
		default:
			errs = append(errs, &schema.ReferenceError{
				Location: loc,
				Source:   ph,
				Reason:   "only item, item.<field> and arguments.<name> placeholders are allowed",
			})
		}
	}
	return errs
}

func itemSource(variable string) string {
	if variable == "" {
		return "item"
	}
	return "item." + variable
}
