package schema

import "fmt"

// CheckReference reports whether ref resolves to exactly one well-typed
// source inside dag. Literal and item references always pass here; whether an
// item reference is legal depends on the task holding it.
func CheckReference(dag *DAG, ref Reference) error {
	return CheckReferenceAt(dag, ref, Location{DAG: dag.Name})
}

// CheckReferenceAt is CheckReference with the caller's location attached to any error.
func CheckReferenceAt(dag *DAG, ref Reference, loc Location) error {
	if ref == nil {
		return &ReferenceError{Location: loc, Reason: "missing reference"}
	}
	if name, ok := InputSource(ref); ok {
		in, found := dag.Input(name)
		if !found {
			return &ReferenceError{Location: loc, Source: name, Reason: "no such input in dag " + dag.Name}
		}
		if !ref.Shape().Accepts(in.Type) {
			return &ReferenceError{
				Location: loc,
				Source:   name,
				Reason:   fmt.Sprintf("%s cannot read input of type %s", ref.Kind(), in.Type),
			}
		}
		return nil
	}
	if task, variable, ok := TaskSource(ref); ok {
		source := task + "." + variable
		t, found := dag.Task(task)
		if !found {
			return &UnknownTaskError{Location: loc, Name: task}
		}
		ret, found := t.Return(variable)
		if !found {
			return &ReferenceError{Location: loc, Source: source, Reason: "task " + task + " declares no such return"}
		}
		if !ref.Shape().Accepts(ret.Type) {
			return &ReferenceError{
				Location: loc,
				Source:   source,
				Reason:   fmt.Sprintf("%s cannot read return of type %s", ref.Kind(), ret.Type),
			}
		}
		return nil
	}
	return nil
}

// CheckOutput checks a DAG output's source: a task return of a compatible
// type or a literal file or folder path.
func CheckOutput(dag *DAG, out DAGOutput) error {
	loc := Location{DAG: dag.Name, Field: "outputs." + out.Name}
	switch v := out.From.Reference.(type) {
	case nil:
		return &ReferenceError{Location: loc, Reason: "output has no source"}
	case FileReference:
		return checkOutputPath(loc, v.Path, out.Type, TypeFile)
	case FolderReference:
		return checkOutputPath(loc, v.Path, out.Type, TypeFolder)
	case TaskReference, TaskFileReference, TaskFolderReference, TaskPathReference:
		if err := CheckReferenceAt(dag, v, loc); err != nil {
			return err
		}
		task, variable, _ := TaskSource(v)
		t, _ := dag.Task(task)
		ret, _ := t.Return(variable)
		if ret.Type.Shape() != out.Type.Shape() && out.Type != TypePath && out.Type != TypeGeneric {
			return &ReferenceError{
				Location: loc,
				Source:   task + "." + variable,
				Reason:   fmt.Sprintf("return of type %s cannot feed output of type %s", ret.Type, out.Type),
			}
		}
		return nil
	default:
		return &ReferenceError{Location: loc, Reason: fmt.Sprintf("%s cannot source a dag output", v.Kind())}
	}
}

func checkOutputPath(loc Location, path string, declared, literal ValueType) error {
	if path == "" {
		return &ReferenceError{Location: loc, Reason: "output path is empty"}
	}
	if len(Placeholders(path)) > 0 {
		return &ReferenceError{Location: loc, Source: path, Reason: "output path cannot be templated"}
	}
	if declared != literal && declared != TypePath {
		return &ReferenceError{
			Location: loc,
			Source:   path,
			Reason:   fmt.Sprintf("%s path cannot feed output of type %s", literal, declared),
		}
	}
	return nil
}
