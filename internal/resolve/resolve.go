package resolve

import (
	"errors"
	"fmt"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// ResolvedDAG is a DAG whose task template fields hold baked names.
type ResolvedDAG struct {
	DAG *schema.DAG
	// Templates maps each task name to the template it runs.
	Templates map[string]schema.Template
}

// ResolveTemplates rewrites every task's template to the name it resolves to
// in pool. The input DAG is not modified. All failures are returned together.
func ResolveTemplates(dag *schema.DAG, pool *Pool) (*ResolvedDAG, error) {
	out := dag.Clone()
	templates := make(map[string]schema.Template, len(out.Tasks))
	var errs []error

	for i := range out.Tasks {
		task := &out.Tasks[i]
		loc := schema.Location{DAG: dag.Name, Task: task.Name, Field: "template"}
		if task.Template == dag.Name {
			errs = append(errs, &schema.GraphCycleError{DAG: dag.Name, Path: []string{dag.Name, dag.Name}})
			continue
		}
		t, name, err := pool.Lookup(task.Template)
		if err != nil {
			errs = append(errs, locate(err, loc))
			continue
		}
		task.Template = name
		templates[task.Name] = t
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &ResolvedDAG{DAG: out, Templates: templates}, nil
}

func locate(err error, loc schema.Location) error {
	var notFound *schema.TemplateNotFoundError
	if errors.As(err, &notFound) {
		notFound.Location = loc
		return notFound
	}
	var depErr *schema.DependencyNotFoundError
	if errors.As(err, &depErr) {
		depErr.Location = loc
		return depErr
	}
	return fmt.Errorf("%s: %w", loc, err)
}

// CheckIO compares every task with the signature of its template: required
// inputs must be bound, arguments must name template inputs, and returns must
// name template outputs of a compatible type. Placeholder templates are skipped.
func (r *ResolvedDAG) CheckIO() error {
	var errs []error
	for _, task := range r.DAG.Tasks {
		t, ok := r.Templates[task.Name]
		if !ok || t.TemplateKind() == schema.TemplateKindSource {
			continue
		}
		sig := t.Signature()
		mismatch := func(field, reason string) {
			errs = append(errs, &schema.TemplateMismatchError{
				Location: schema.Location{DAG: r.DAG.Name, Task: task.Name, Field: field},
				Template: task.Template,
				Reason:   reason,
			})
		}

		for _, in := range sig.Inputs {
			if _, bound := task.Argument(in.Name); !bound && in.Required {
				mismatch("arguments", fmt.Sprintf("required input %q is not bound", in.Name))
			}
		}
		for _, arg := range task.Arguments {
			field := "arguments." + arg.Name
			port, ok := sig.Input(arg.Name)
			if !ok {
				mismatch(field, fmt.Sprintf("template has no input %q", arg.Name))
				continue
			}
			if !bindable(arg.From.Reference, port.Type, arg.SubPath != "") {
				mismatch(field, fmt.Sprintf("%s cannot bind input of type %s", arg.From.Kind(), port.Type))
			}
		}
		for _, ret := range task.Returns {
			field := "returns." + ret.Name
			port, ok := sig.Output(ret.Name)
			if !ok {
				mismatch(field, fmt.Sprintf("template has no output %q", ret.Name))
				continue
			}
			if !returnable(ret.Type, port.Type) {
				mismatch(field, fmt.Sprintf("return of type %s cannot carry output of type %s", ret.Type, port.Type))
			}
		}
	}
	return errors.Join(errs...)
}

// bindable reports whether ref can feed a template input of type t. Item and
// literal scalar references are only typed at run time. A sub_path narrows a
// folder to any file or folder inside it.
func bindable(ref schema.Reference, t schema.ValueType, subPath bool) bool {
	switch ref.(type) {
	case schema.ItemReference, schema.ValueReference, schema.ValueListReference:
		return true
	}
	if t == schema.TypeGeneric {
		return true
	}
	if ref.Shape() == schema.ShapePath || (subPath && ref.Shape() == schema.ShapeFolder) {
		return t.IsArtifact()
	}
	if t == schema.TypePath {
		return ref.Shape() != schema.ShapeScalar
	}
	return ref.Shape().Accepts(t)
}

func returnable(ret, out schema.ValueType) bool {
	if ret == out || ret == schema.TypeGeneric || out == schema.TypeGeneric {
		return true
	}
	if ret == schema.TypePath || out == schema.TypePath {
		return ret.IsArtifact() && out.IsArtifact()
	}
	return ret.Shape() == schema.ShapeScalar && out.Shape() == schema.ShapeScalar
}
