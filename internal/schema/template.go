package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TemplateKind is the "type" discriminator of a template document.
type TemplateKind string

const (
	TemplateKindFunction TemplateKind = "Function"
	TemplateKindDAG      TemplateKind = "DAG"
	TemplateKindSource   TemplateKind = "Source"
)

// Template is what a task runs: a Function, a DAG, or a Source placeholder
// for a dependency that has not been baked yet. The set is closed.
type Template interface {
	TemplateName() string
	TemplateKind() TemplateKind
	Signature() Signature
	isTemplate()
}

// TemplateFunction is a plugin function carrying the plugin's execution config.
type TemplateFunction struct {
	Function
	Config PluginConfig `json:"config"`
}

// SourceTemplate stands in for a template of a dependency that is declared
// but whose package was not supplied.
type SourceTemplate struct {
	Dependency string
	Name       string
}

func (f *TemplateFunction) TemplateName() string       { return f.Name }
func (f *TemplateFunction) TemplateKind() TemplateKind { return TemplateKindFunction }
func (f *TemplateFunction) isTemplate()                {}

func (f *TemplateFunction) Signature() Signature {
	sig := Signature{Inputs: inputPorts(f.Inputs)}
	for _, out := range f.Outputs {
		sig.Outputs = append(sig.Outputs, Port{Name: out.Name, Type: out.Type})
	}
	return sig
}

func (d *DAG) TemplateName() string       { return d.Name }
func (d *DAG) TemplateKind() TemplateKind { return TemplateKindDAG }
func (d *DAG) isTemplate()                {}

func (d *DAG) Signature() Signature {
	sig := Signature{Inputs: inputPorts(d.Inputs)}
	for _, out := range d.Outputs {
		sig.Outputs = append(sig.Outputs, Port{Name: out.Name, Type: out.Type})
	}
	return sig
}

func (s *SourceTemplate) TemplateName() string       { return QualifiedName(s.Dependency, s.Name) }
func (s *SourceTemplate) TemplateKind() TemplateKind { return TemplateKindSource }
func (s *SourceTemplate) Signature() Signature       { return Signature{} }
func (s *SourceTemplate) isTemplate()                {}

// TemplateDoc carries a Function or DAG template through JSON documents.
type TemplateDoc struct {
	Template
}

func (t TemplateDoc) MarshalJSON() ([]byte, error) {
	var body []byte
	var err error
	switch v := t.Template.(type) {
	case *TemplateFunction:
		body, err = json.Marshal(v)
	case *DAG:
		body, err = json.Marshal(v)
	case nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("template %q of kind %s cannot be serialized", t.TemplateName(), t.TemplateKind())
	}
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(t.TemplateKind())
	fields["type"] = kind
	return json.Marshal(fields)
}

func (t *TemplateDoc) UnmarshalJSON(data []byte) error {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("template: %w", err)
	}
	var kind TemplateKind
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &kind); err != nil {
			return fmt.Errorf("template type: %w", err)
		}
	}
	delete(fields, "type")
	body, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	switch kind {
	case TemplateKindFunction:
		var fn TemplateFunction
		if err := dec.Decode(&fn); err != nil {
			return fmt.Errorf("function template: %w", err)
		}
		t.Template = &fn
	case TemplateKindDAG:
		var dag DAG
		if err := dec.Decode(&dag); err != nil {
			return fmt.Errorf("dag template: %w", err)
		}
		t.Template = &dag
	case "":
		return fmt.Errorf("template: missing type")
	default:
		return fmt.Errorf("template: unknown type %q", kind)
	}
	return nil
}
