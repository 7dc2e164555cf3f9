package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// RefKind is the "type" discriminator of a reference in a document.
type RefKind string

const (
	KindInput       RefKind = "InputReference"
	KindInputFile   RefKind = "InputFileReference"
	KindInputFolder RefKind = "InputFolderReference"
	KindInputPath   RefKind = "InputPathReference"
	KindTask        RefKind = "TaskReference"
	KindTaskFile    RefKind = "TaskFileReference"
	KindTaskFolder  RefKind = "TaskFolderReference"
	KindTaskPath    RefKind = "TaskPathReference"
	KindItem        RefKind = "ItemReference"
	KindValue       RefKind = "ValueReference"
	KindValueFile   RefKind = "ValueFileReference"
	KindValueFolder RefKind = "ValueFolderReference"
	KindValueList   RefKind = "ValueListReference"
	KindFile        RefKind = "FileReference"
	KindFolder      RefKind = "FolderReference"
)

// Reference is a typed pointer to where a value comes from. The set of
// implementations is closed: every variant is declared in this file.
type Reference interface {
	Kind() RefKind
	Shape() Shape
	isReference()
}

// InputReference reads a scalar DAG input.
type InputReference struct {
	Variable string `json:"variable"`
}

// InputFileReference reads a file DAG input.
type InputFileReference struct {
	Variable string `json:"variable"`
}

// InputFolderReference reads a folder DAG input.
type InputFolderReference struct {
	Variable string `json:"variable"`
}

// InputPathReference reads a file or folder DAG input.
type InputPathReference struct {
	Variable string `json:"variable"`
}

// TaskReference reads a scalar return of another task.
type TaskReference struct {
	Name     string `json:"name"`
	Variable string `json:"variable"`
}

// TaskFileReference reads a file return of another task.
type TaskFileReference struct {
	Name     string `json:"name"`
	Variable string `json:"variable"`
}

// TaskFolderReference reads a folder return of another task.
type TaskFolderReference struct {
	Name     string `json:"name"`
	Variable string `json:"variable"`
}

// TaskPathReference reads a file or folder return of another task.
type TaskPathReference struct {
	Name     string `json:"name"`
	Variable string `json:"variable"`
}

// ItemReference reads the current loop element; Variable uses dot notation
// for nested fields and may be empty for the whole item.
type ItemReference struct {
	Variable string `json:"variable,omitempty"`
}

// ValueReference is a literal scalar.
type ValueReference struct {
	Value any `json:"value"`
}

// ValueFileReference is a literal file path.
type ValueFileReference struct {
	Path string `json:"path"`
}

// ValueFolderReference is a literal folder path.
type ValueFolderReference struct {
	Path string `json:"path"`
}

// ValueListReference is a literal list, usable as a loop source.
type ValueListReference struct {
	Value []any `json:"value"`
}

// FileReference names a file relative to the DAG's output folder.
type FileReference struct {
	Path string `json:"path"`
}

// FolderReference names a folder relative to the DAG's output folder.
type FolderReference struct {
	Path string `json:"path"`
}

func (InputReference) Kind() RefKind       { return KindInput }
func (InputFileReference) Kind() RefKind   { return KindInputFile }
func (InputFolderReference) Kind() RefKind { return KindInputFolder }
func (InputPathReference) Kind() RefKind   { return KindInputPath }
func (TaskReference) Kind() RefKind        { return KindTask }
func (TaskFileReference) Kind() RefKind    { return KindTaskFile }
func (TaskFolderReference) Kind() RefKind  { return KindTaskFolder }
func (TaskPathReference) Kind() RefKind    { return KindTaskPath }
func (ItemReference) Kind() RefKind        { return KindItem }
func (ValueReference) Kind() RefKind       { return KindValue }
func (ValueFileReference) Kind() RefKind   { return KindValueFile }
func (ValueFolderReference) Kind() RefKind { return KindValueFolder }
func (ValueListReference) Kind() RefKind   { return KindValueList }
func (FileReference) Kind() RefKind        { return KindFile }
func (FolderReference) Kind() RefKind      { return KindFolder }

func (InputReference) Shape() Shape       { return ShapeScalar }
func (InputFileReference) Shape() Shape   { return ShapeFile }
func (InputFolderReference) Shape() Shape { return ShapeFolder }
func (InputPathReference) Shape() Shape   { return ShapePath }
func (TaskReference) Shape() Shape        { return ShapeScalar }
func (TaskFileReference) Shape() Shape    { return ShapeFile }
func (TaskFolderReference) Shape() Shape  { return ShapeFolder }
func (TaskPathReference) Shape() Shape    { return ShapePath }
func (ItemReference) Shape() Shape        { return ShapeScalar }
func (ValueReference) Shape() Shape       { return ShapeScalar }
func (ValueFileReference) Shape() Shape   { return ShapeFile }
func (ValueFolderReference) Shape() Shape { return ShapeFolder }
func (ValueListReference) Shape() Shape   { return ShapeScalar }
func (FileReference) Shape() Shape        { return ShapeFile }
func (FolderReference) Shape() Shape      { return ShapeFolder }

func (InputReference) isReference()       {}
func (InputFileReference) isReference()   {}
func (InputFolderReference) isReference() {}
func (InputPathReference) isReference()   {}
func (TaskReference) isReference()        {}
func (TaskFileReference) isReference()    {}
func (TaskFolderReference) isReference()  {}
func (TaskPathReference) isReference()    {}
func (ItemReference) isReference()        {}
func (ValueReference) isReference()       {}
func (ValueFileReference) isReference()   {}
func (ValueFolderReference) isReference() {}
func (ValueListReference) isReference()   {}
func (FileReference) isReference()        {}
func (FolderReference) isReference()      {}

// InputSource returns the DAG input a reference reads, if any.
func InputSource(r Reference) (string, bool) {
	switch v := r.(type) {
	case InputReference:
		return v.Variable, true
	case InputFileReference:
		return v.Variable, true
	case InputFolderReference:
		return v.Variable, true
	case InputPathReference:
		return v.Variable, true
	}
	return "", false
}

// TaskSource returns the task and return name a reference reads, if any.
func TaskSource(r Reference) (task, variable string, ok bool) {
	switch v := r.(type) {
	case TaskReference:
		return v.Name, v.Variable, true
	case TaskFileReference:
		return v.Name, v.Variable, true
	case TaskFolderReference:
		return v.Name, v.Variable, true
	case TaskPathReference:
		return v.Name, v.Variable, true
	}
	return "", "", false
}

// Ref carries a Reference through JSON documents, keyed by its "type" field.
type Ref struct {
	Reference
}

// NewRef wraps r.
func NewRef(r Reference) Ref {
	return Ref{Reference: r}
}

// IsZero reports whether no reference is set.
func (r Ref) IsZero() bool {
	return r.Reference == nil
}

func (r Ref) MarshalJSON() ([]byte, error) {
	if r.Reference == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(r.Reference)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(r.Kind())
	fields["type"] = kind
	return json.Marshal(fields)
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.Reference = nil
		return nil
	}
	var head struct {
		Type RefKind `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("reference: %w", err)
	}

	var target Reference
	switch head.Type {
	case KindInput:
		target = &InputReference{}
	case KindInputFile:
		target = &InputFileReference{}
	case KindInputFolder:
		target = &InputFolderReference{}
	case KindInputPath:
		target = &InputPathReference{}
	case KindTask:
		target = &TaskReference{}
	case KindTaskFile:
		target = &TaskFileReference{}
	case KindTaskFolder:
		target = &TaskFolderReference{}
	case KindTaskPath:
		target = &TaskPathReference{}
	case KindItem:
		target = &ItemReference{}
	case KindValue:
		target = &ValueReference{}
	case KindValueFile:
		target = &ValueFileReference{}
	case KindValueFolder:
		target = &ValueFolderReference{}
	case KindValueList:
		target = &ValueListReference{}
	case KindFile:
		target = &FileReference{}
	case KindFolder:
		target = &FolderReference{}
	case "":
		return fmt.Errorf("reference: missing type")
	default:
		return fmt.Errorf("reference: unknown type %q", head.Type)
	}

	if err := decodeRefBody(data, target); err != nil {
		return fmt.Errorf("reference %s: %w", head.Type, err)
	}
	r.Reference = deref(target)
	return nil
}

func decodeRefBody(data []byte, target Reference) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "type")
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}

// deref turns the pointer used for decoding back into the value variant.
func deref(r Reference) Reference {
	switch v := r.(type) {
	case *InputReference:
		return *v
	case *InputFileReference:
		return *v
	case *InputFolderReference:
		return *v
	case *InputPathReference:
		return *v
	case *TaskReference:
		return *v
	case *TaskFileReference:
		return *v
	case *TaskFolderReference:
		return *v
	case *TaskPathReference:
		return *v
	case *ItemReference:
		return *v
	case *ValueReference:
		return *v
	case *ValueFileReference:
		return *v
	case *ValueFolderReference:
		return *v
	case *ValueListReference:
		return *v
	case *FileReference:
		return *v
	case *FolderReference:
		return *v
	}
	return r
}

var placeholderPattern = regexp.MustCompile(`{{\s*([_a-zA-Z0-9.\-\$#\?]*)\s*}}`)

// Placeholders returns the names inside {{ }} markers in s, in order.
func Placeholders(s string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
