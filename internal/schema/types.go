package schema

// ValueType is the declared type of an input, output, or task return.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeArray   ValueType = "array"
	TypeObject  ValueType = "object"
	TypeGeneric ValueType = "generic"
	TypeFile    ValueType = "file"
	TypeFolder  ValueType = "folder"
	TypePath    ValueType = "path"
)

// Valid reports whether t is one of the declared value types.
func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject,
		TypeGeneric, TypeFile, TypeFolder, TypePath:
		return true
	}
	return false
}

// Shape collapses a value type into the shape a reference must carry to bind it.
func (t ValueType) Shape() Shape {
	switch t {
	case TypeFile:
		return ShapeFile
	case TypeFolder:
		return ShapeFolder
	case TypePath:
		return ShapePath
	default:
		return ShapeScalar
	}
}

// IsArtifact reports whether values of this type live on the filesystem.
func (t ValueType) IsArtifact() bool {
	return t.Shape() != ShapeScalar
}

// Shape is the coarse kind of value a reference points at.
type Shape string

const (
	ShapeScalar Shape = "scalar"
	ShapeFile   Shape = "file"
	ShapeFolder Shape = "folder"
	ShapePath   Shape = "path"
)

// Accepts reports whether a reference of shape s may bind a source declared as t.
// A path reference binds any file, folder, or path source.
func (s Shape) Accepts(t ValueType) bool {
	switch s {
	case ShapeScalar:
		return t.Shape() == ShapeScalar
	case ShapeFile:
		return t == TypeFile
	case ShapeFolder:
		return t == TypeFolder
	case ShapePath:
		return t.IsArtifact()
	}
	return false
}

// Input declares a named input of a DAG or a Function.
type Input struct {
	Type        ValueType      `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Default     any            `json:"default,omitempty"`
	Required    *bool          `json:"required,omitempty"`
	Spec        map[string]any `json:"spec,omitempty"`
	ItemsType   ValueType      `json:"items_type,omitempty"`
	Extensions  []string       `json:"extensions,omitempty"`
	// Path is where a function expects an artifact input to be placed.
	Path        string         `json:"path,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// IsRequired reports whether callers must bind this input.
// An explicit required flag wins; otherwise an input without a default is required.
func (in Input) IsRequired() bool {
	if in.Required != nil {
		return *in.Required
	}
	return in.Default == nil
}

// Output declares a value a Function produces.
type Output struct {
	Type        ValueType      `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Path        string         `json:"path,omitempty"`
	ItemsType   ValueType      `json:"items_type,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// DAGOutput declares a value a DAG exposes, sourced from a task return or a path.
type DAGOutput struct {
	Type        ValueType      `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	From        Ref            `json:"from"`
	Required    *bool          `json:"required,omitempty"`
	ItemsType   ValueType      `json:"items_type,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Return is a value a task exposes to downstream tasks and DAG outputs.
type Return struct {
	Type        ValueType      `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Path        string         `json:"path,omitempty"`
	Annotations map[string]any `json:"annotations,omitempty"`
}

// Port is the name and type of one template input or output.
type Port struct {
	Name     string
	Type     ValueType
	Required bool
}

// Signature is the externally visible IO of a template.
type Signature struct {
	Inputs  []Port
	Outputs []Port
}

// Input returns the named input port.
func (s Signature) Input(name string) (Port, bool) {
	for _, p := range s.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Output returns the named output port.
func (s Signature) Output(name string) (Port, bool) {
	for _, p := range s.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

func inputPorts(inputs []Input) []Port {
	out := make([]Port, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, Port{Name: in.Name, Type: in.Type, Required: in.IsRequired()})
	}
	return out
}
