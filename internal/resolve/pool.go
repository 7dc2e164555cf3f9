// Package resolve maps task template names to templates. Names are either bare,
// for templates of the same package, or "<namespace>/<name>", where the
// namespace is a dependency reference name or a package digest.
package resolve

import (
	"fmt"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// Namespace is the template set a baked package exposes.
type Namespace struct {
	Digest    string
	Templates map[string]schema.Template
}

// NewNamespace indexes templates by name, dropping any namespace prefix the
// template name already carries.
func NewNamespace(digest string, templates ...schema.Template) *Namespace {
	ns := &Namespace{Digest: digest, Templates: make(map[string]schema.Template, len(templates))}
	for _, t := range templates {
		_, name := schema.SplitTemplateName(t.TemplateName())
		ns.Templates[name] = t
	}
	return ns
}

// Pool is a two level template table: namespace -> name -> template.
// The empty namespace holds the package's own templates.
type Pool struct {
	local   map[string]schema.Template
	byRef   map[string]*Namespace
	digests map[string]*Namespace
	sources map[string]struct{}
}

func NewPool() *Pool {
	return &Pool{
		local:   make(map[string]schema.Template),
		byRef:   make(map[string]*Namespace),
		digests: make(map[string]*Namespace),
		sources: make(map[string]struct{}),
	}
}

// AddLocal registers a template of the package being resolved.
func (p *Pool) AddLocal(t schema.Template) error {
	name := t.TemplateName()
	if _, dup := p.local[name]; dup {
		return &schema.DocumentError{Path: name, Reason: "template is declared more than once"}
	}
	p.local[name] = t
	return nil
}

// AddNamespace exposes ns under a dependency reference name. An empty ref
// registers the namespace under its digest only.
func (p *Pool) AddNamespace(ref string, ns *Namespace) error {
	if ref != "" {
		if _, dup := p.byRef[ref]; dup {
			return &schema.DocumentError{Path: ref, Reason: "dependency reference name is used more than once"}
		}
		if _, dup := p.sources[ref]; dup {
			return &schema.DocumentError{Path: ref, Reason: "dependency reference name is used more than once"}
		}
		p.byRef[ref] = ns
	}
	if ns.Digest == "" {
		return nil
	}
	if existing, ok := p.digests[ns.Digest]; ok {
		for name, t := range ns.Templates {
			existing.Templates[name] = t
		}
		return nil
	}
	merged := NewNamespace(ns.Digest)
	for name, t := range ns.Templates {
		merged.Templates[name] = t
	}
	p.digests[ns.Digest] = merged
	return nil
}

// AddSource declares a dependency whose package is not available. Templates
// under it resolve to placeholders.
func (p *Pool) AddSource(ref string) error {
	if _, dup := p.byRef[ref]; dup {
		return &schema.DocumentError{Path: ref, Reason: "dependency reference name is used more than once"}
	}
	p.sources[ref] = struct{}{}
	return nil
}

// Lookup resolves a task template name. It returns the template and the
// name it goes by once baked: bare for local templates, "<digest>/<name>"
// for dependency templates.
func (p *Pool) Lookup(ref string) (schema.Template, string, error) {
	namespace, name := schema.SplitTemplateName(ref)
	if name == "" {
		return nil, "", &schema.TemplateNotFoundError{Template: ref, Reason: "empty template name"}
	}
	if namespace == "" {
		t, ok := p.local[name]
		if !ok {
			return nil, "", &schema.TemplateNotFoundError{Template: ref, Reason: "no template of that name in this package"}
		}
		return t, name, nil
	}

	ns, ok := p.byRef[namespace]
	if !ok {
		ns, ok = p.digests[namespace]
	}
	if ok {
		t, found := ns.Templates[name]
		if !found {
			return nil, "", &schema.TemplateNotFoundError{
				Template: ref,
				Reason:   fmt.Sprintf("dependency %s exposes no template %q", namespace, name),
			}
		}
		return t, schema.QualifiedName(ns.Digest, name), nil
	}
	if _, ok := p.sources[namespace]; ok {
		return &schema.SourceTemplate{Dependency: namespace, Name: name}, ref, nil
	}
	return nil, "", &schema.DependencyNotFoundError{Alias: namespace, Template: ref, Reason: "no declared dependency uses this name"}
}
