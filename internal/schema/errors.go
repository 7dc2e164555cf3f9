package schema

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrReference          = errors.New("invalid reference")
	ErrTaskName           = errors.New("duplicate task name")
	ErrUnknownTask        = errors.New("unknown task")
	ErrGraphCycle         = errors.New("dependency cycle")
	ErrTemplateNotFound   = errors.New("template not found")
	ErrDependencyNotFound = errors.New("dependency not found")
	ErrDigestMismatch     = errors.New("digest mismatch")
	ErrDepthLimit         = errors.New("depth limit exceeded")
	ErrTemplateMismatch   = errors.New("template mismatch")
	ErrInvalidDocument    = errors.New("invalid document")
)

// Location points at the place in a recipe an error was raised for.
type Location struct {
	DAG   string
	Task  string
	Field string
}

func (l Location) String() string {
	parts := make([]string, 0, 3)
	if l.DAG != "" {
		parts = append(parts, "dag "+l.DAG)
	}
	if l.Task != "" {
		parts = append(parts, "task "+l.Task)
	}
	if l.Field != "" {
		parts = append(parts, l.Field)
	}
	return strings.Join(parts, ", ")
}

func located(l Location, msg string) string {
	if s := l.String(); s != "" {
		return s + ": " + msg
	}
	return msg
}

// ReferenceError reports a binding to a missing or mistyped source.
type ReferenceError struct {
	Location
	// Source is the input or "task.return" the reference points at.
	Source string
	Reason string
}

func (e *ReferenceError) Error() string {
	return located(e.Location, fmt.Sprintf("reference %q: %s", e.Source, e.Reason))
}

func (e *ReferenceError) Unwrap() error { return ErrReference }

// TaskNameError reports a task name declared twice in one DAG.
type TaskNameError struct {
	DAG  string
	Name string
}

func (e *TaskNameError) Error() string {
	return fmt.Sprintf("dag %s: task %q is declared more than once", e.DAG, e.Name)
}

func (e *TaskNameError) Unwrap() error { return ErrTaskName }

// UnknownTaskError reports a needs entry or reference naming a task absent from the DAG.
type UnknownTaskError struct {
	Location
	Name string
}

func (e *UnknownTaskError) Error() string {
	return located(e.Location, fmt.Sprintf("unknown task %q", e.Name))
}

func (e *UnknownTaskError) Unwrap() error { return ErrUnknownTask }

// GraphCycleError reports a dependency cycle. Path starts and ends with the same task.
type GraphCycleError struct {
	DAG  string
	Path []string
}

func (e *GraphCycleError) Error() string {
	return fmt.Sprintf("dag %s: dependency cycle: %s", e.DAG, strings.Join(e.Path, " -> "))
}

func (e *GraphCycleError) Unwrap() error { return ErrGraphCycle }

// TemplateNotFoundError reports a template name that resolves to nothing.
type TemplateNotFoundError struct {
	Location
	Template string
	Reason   string
}

func (e *TemplateNotFoundError) Error() string {
	msg := fmt.Sprintf("template %q not found", e.Template)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return located(e.Location, msg)
}

func (e *TemplateNotFoundError) Unwrap() error { return ErrTemplateNotFound }

// DependencyNotFoundError reports a namespace that names no declared or supplied dependency.
type DependencyNotFoundError struct {
	Location
	Alias    string
	Template string
	Reason   string
}

func (e *DependencyNotFoundError) Error() string {
	msg := fmt.Sprintf("dependency %q not found", e.Alias)
	if e.Template != "" {
		msg = fmt.Sprintf("dependency %q for template %q not found", e.Alias, e.Template)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return located(e.Location, msg)
}

func (e *DependencyNotFoundError) Unwrap() error { return ErrDependencyNotFound }

// DigestMismatchError reports a dependency whose pinned hash disagrees with the package supplied.
type DigestMismatchError struct {
	Dependency string
	Want       string
	Got        string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("dependency %s: pinned hash %s does not match package digest %s", e.Dependency, e.Want, e.Got)
}

func (e *DigestMismatchError) Unwrap() error { return ErrDigestMismatch }

// DepthLimitError reports nesting deeper than the configured limit.
type DepthLimitError struct {
	What  string
	Limit int
	Path  []string
}

func (e *DepthLimitError) Error() string {
	return fmt.Sprintf("%s nesting exceeds depth %d: %s", e.What, e.Limit, strings.Join(e.Path, " -> "))
}

func (e *DepthLimitError) Unwrap() error { return ErrDepthLimit }

// TemplateMismatchError reports a task whose arguments or returns disagree
// with the inputs and outputs of its template.
type TemplateMismatchError struct {
	Location
	Template string
	Reason   string
}

func (e *TemplateMismatchError) Error() string {
	return located(e.Location, fmt.Sprintf("template %s: %s", e.Template, e.Reason))
}

func (e *TemplateMismatchError) Unwrap() error { return ErrTemplateMismatch }

// DocumentError reports a malformed document caught before any graph checks run.
type DocumentError struct {
	Path   string
	Reason string
}

func (e *DocumentError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return e.Path + ": " + e.Reason
}

func (e *DocumentError) Unwrap() error { return ErrInvalidDocument }
