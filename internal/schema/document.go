package schema

import (
	"bytes"
	"encoding/json"
	"strings"
)

// APIVersion is the document version written by this module.
const APIVersion = "v1beta1"

// EntryDAG is the name of a recipe's entry point DAG.
const EntryDAG = "main"

// Argument binds a template input to a reference.
type Argument struct {
	Name string `json:"name"`
	From Ref    `json:"from"`
	// SubPath narrows a file or folder source to part of its content.
	SubPath     string         `json:"sub_path,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Loop runs a task once per element of an array-typed source.
type Loop struct {
	From Ref `json:"from"`
}

// Task is one node of a DAG.
type Task struct {
	Name        string         `json:"name"`
	Template    string         `json:"template"`
	Description string         `json:"description,omitempty"`
	Arguments   []Argument     `json:"arguments,omitempty"`
	Needs       []string       `json:"needs,omitempty"`
	Loop        *Loop          `json:"loop,omitempty"`
	SubFolder   string         `json:"sub_folder,omitempty"`
	Returns     []Return       `json:"returns,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Argument returns the task argument bound to name.
func (t *Task) Argument(name string) (Argument, bool) {
	for _, a := range t.Arguments {
		if a.Name == name {
			return a, true
		}
	}
	return Argument{}, false
}

// Return returns the task return called name.
func (t *Task) Return(name string) (Return, bool) {
	for _, r := range t.Returns {
		if r.Name == name {
			return r, true
		}
	}
	return Return{}, false
}

// DAG is a named graph of tasks with declared inputs and outputs.
type DAG struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Inputs      []Input `json:"inputs,omitempty"`
	// FailFast is a hint for the executor; nothing here enforces it.
	FailFast    bool           `json:"fail_fast"`
	Tasks       []Task         `json:"tasks"`
	Outputs     []DAGOutput    `json:"outputs,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// UnmarshalJSON applies the fail_fast default of true and rejects unknown keys.
func (d *DAG) UnmarshalJSON(data []byte) error {
	type plain DAG
	p := plain{FailFast: true}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	*d = DAG(p)
	return nil
}

// Task returns the task called name.
func (d *DAG) Task(name string) (*Task, bool) {
	for i := range d.Tasks {
		if d.Tasks[i].Name == name {
			return &d.Tasks[i], true
		}
	}
	return nil, false
}

// Input returns the DAG input called name.
func (d *DAG) Input(name string) (Input, bool) {
	for _, in := range d.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// Clone returns a copy whose slices can be modified without touching d.
// Reference values and literal payloads are shared; they are never mutated.
func (d *DAG) Clone() *DAG {
	if d == nil {
		return nil
	}
	out := *d
	out.Inputs = append([]Input(nil), d.Inputs...)
	out.Outputs = append([]DAGOutput(nil), d.Outputs...)
	out.Tasks = make([]Task, len(d.Tasks))
	for i, t := range d.Tasks {
		t.Arguments = append([]Argument(nil), t.Arguments...)
		t.Needs = append([]string(nil), t.Needs...)
		t.Returns = append([]Return(nil), t.Returns...)
		if t.Loop != nil {
			loop := *t.Loop
			t.Loop = &loop
		}
		out.Tasks[i] = t
	}
	return &out
}

// Function is an atomic command template.
type Function struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Inputs      []Input        `json:"inputs,omitempty"`
	Outputs     []Output       `json:"outputs,omitempty"`
	Command     string         `json:"command,omitempty"`
	Language    string         `json:"language,omitempty"`
	Source      string         `json:"source,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// DockerConfig runs a plugin's functions inside a container image.
type DockerConfig struct {
	Image    string `json:"image"`
	Registry string `json:"registry,omitempty"`
	Workdir  string `json:"workdir"`
}

// LocalConfig runs a plugin's functions on the host.
type LocalConfig struct {
	Annotations map[string]any `json:"annotations,omitempty"`
}

// PluginConfig is the execution configuration shared by a plugin's functions.
type PluginConfig struct {
	Docker *DockerConfig `json:"docker,omitempty"`
	Local  *LocalConfig  `json:"local,omitempty"`
}

// Maintainer identifies a package maintainer.
type Maintainer struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// License names a package license.
type License struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// Metadata describes a package.
type Metadata struct {
	Name        string         `json:"name"`
	Tag         string         `json:"tag"`
	AppVersion  string         `json:"app_version,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	Maintainers []Maintainer   `json:"maintainers,omitempty"`
	Home        string         `json:"home,omitempty"`
	Sources     []string       `json:"sources,omitempty"`
	Icon        string         `json:"icon,omitempty"`
	Deprecated  bool           `json:"deprecated,omitempty"`
	Description string         `json:"description,omitempty"`
	License     *License       `json:"license,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Plugin is a package exposing a flat list of functions.
type Plugin struct {
	APIVersion string       `json:"api_version,omitempty"`
	Metadata   Metadata     `json:"metadata"`
	Config     PluginConfig `json:"config"`
	Functions  []Function   `json:"functions"`
	Digest     string       `json:"digest,omitempty"`
}

// Function returns the function called name.
func (p *Plugin) Function(name string) (Function, bool) {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

// DependencyKind is the package kind a dependency points at.
type DependencyKind string

const (
	DependencyPlugin DependencyKind = "plugin"
	DependencyRecipe DependencyKind = "recipe"
)

// Valid reports whether k is a known dependency kind.
func (k DependencyKind) Valid() bool {
	return k == DependencyPlugin || k == DependencyRecipe
}

// Dependency points a recipe at another package.
type Dependency struct {
	Kind   DependencyKind `json:"kind"`
	Name   string         `json:"name"`
	Tag    string         `json:"tag"`
	Source string         `json:"source,omitempty"`
	// Hash pins the dependency to a package digest.
	Hash  string `json:"hash,omitempty"`
	Alias string `json:"alias,omitempty"`
}

// RefName is the namespace tasks use to reach this dependency's templates.
func (d Dependency) RefName() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

// IsLocked reports whether the dependency is pinned to a digest.
func (d Dependency) IsLocked() bool {
	return d.Hash != ""
}

// Recipe is a package of DAGs plus the dependencies they draw templates from.
// A baked recipe additionally carries its digest and the flattened templates.
type Recipe struct {
	APIVersion   string        `json:"api_version,omitempty"`
	Metadata     Metadata      `json:"metadata"`
	Dependencies []Dependency  `json:"dependencies,omitempty"`
	Flow         []DAG         `json:"flow"`
	Templates    []TemplateDoc `json:"templates,omitempty"`
	Digest       string        `json:"digest,omitempty"`
}

// IsBaked reports whether r carries a digest.
func (r *Recipe) IsBaked() bool {
	return r.Digest != ""
}

// DAG returns the flow DAG called name.
func (r *Recipe) DAG(name string) (*DAG, bool) {
	for i := range r.Flow {
		if r.Flow[i].Name == name {
			return &r.Flow[i], true
		}
	}
	return nil, false
}

// Entry returns the entry point DAG.
func (r *Recipe) Entry() (*DAG, bool) {
	return r.DAG(EntryDAG)
}

// Dependency returns the dependency whose reference name is ref.
func (r *Recipe) Dependency(ref string) (Dependency, bool) {
	for _, d := range r.Dependencies {
		if d.RefName() == ref {
			return d, true
		}
	}
	return Dependency{}, false
}

// Clone returns a deep enough copy of r to rewrite names and flows.
func (r *Recipe) Clone() *Recipe {
	out := *r
	out.Dependencies = append([]Dependency(nil), r.Dependencies...)
	out.Flow = make([]DAG, len(r.Flow))
	for i := range r.Flow {
		out.Flow[i] = *r.Flow[i].Clone()
	}
	out.Templates = append([]TemplateDoc(nil), r.Templates...)
	return &out
}

// SplitTemplateName splits "namespace/name" into its parts. Bare names have
// an empty namespace.
func SplitTemplateName(ref string) (namespace, name string) {
	i := strings.Index(ref, "/")
	if i < 0 {
		return "", ref
	}
	return ref[:i], ref[i+1:]
}

// QualifiedName joins a namespace and a template name.
func QualifiedName(namespace, name string) string {
	if namespace == "" {
		return name
	}
	return namespace + "/" + name
}
