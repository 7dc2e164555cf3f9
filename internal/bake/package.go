package bake

import (
	"fmt"

	"github.com/mattjoyce/honeycomb/internal/digest"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

// Package is a fetched plugin or recipe. Exactly one of Plugin and Recipe is set.
// Digest is empty until the package is baked.
type Package struct {
	Kind   schema.DependencyKind
	Digest string
	Plugin *schema.Plugin
	Recipe *schema.Recipe
}

// PluginPackage wraps a plugin document.
func PluginPackage(p *schema.Plugin) *Package {
	return &Package{Kind: schema.DependencyPlugin, Digest: p.Digest, Plugin: p}
}

// RecipePackage wraps a recipe document.
func RecipePackage(r *schema.Recipe) *Package {
	return &Package{Kind: schema.DependencyRecipe, Digest: r.Digest, Recipe: r}
}

// Metadata returns the package metadata.
func (p *Package) Metadata() schema.Metadata {
	if p.Plugin != nil {
		return p.Plugin.Metadata
	}
	if p.Recipe != nil {
		return p.Recipe.Metadata
	}
	return schema.Metadata{}
}

// String names the package as name:tag.
func (p *Package) String() string {
	m := p.Metadata()
	return fmt.Sprintf("%s %s:%s", p.Kind, m.Name, m.Tag)
}

// IsBaked reports whether the package carries a digest.
func (p *Package) IsBaked() bool {
	return p.Digest != ""
}

// Verify recomputes the digest of a baked package and compares it with the
// one it carries.
func (p *Package) Verify() error {
	var (
		got string
		err error
	)
	switch {
	case p.Plugin != nil:
		got, err = digest.Plugin(p.Plugin)
	case p.Recipe != nil:
		got, err = digest.Recipe(p.Recipe)
	default:
		return &schema.DocumentError{Reason: "empty package"}
	}
	if err != nil {
		return err
	}
	if got != p.Digest {
		return &schema.DigestMismatchError{Dependency: p.Metadata().Name, Want: p.Digest, Got: got}
	}
	return nil
}

// Templates returns what a baked package contributes to a dependent recipe,
// every name qualified as "<digest>/<name>".
//
// A plugin contributes its functions. A recipe contributes its flow DAGs, with
// task templates naming sibling DAGs rewritten to qualified names, and the
// templates it already carries.
func (p *Package) Templates() []schema.Template {
	switch {
	case p.Plugin != nil:
		out := make([]schema.Template, 0, len(p.Plugin.Functions))
		for _, fn := range p.Plugin.Functions {
			fn.Name = schema.QualifiedName(p.Digest, fn.Name)
			out = append(out, &schema.TemplateFunction{Function: fn, Config: p.Plugin.Config})
		}
		return out
	case p.Recipe != nil:
		out := make([]schema.Template, 0, len(p.Recipe.Flow)+len(p.Recipe.Templates))
		for i := range p.Recipe.Flow {
			dag := p.Recipe.Flow[i].Clone()
			dag.Name = schema.QualifiedName(p.Digest, dag.Name)
			for j := range dag.Tasks {
				if ns, _ := schema.SplitTemplateName(dag.Tasks[j].Template); ns == "" {
					dag.Tasks[j].Template = schema.QualifiedName(p.Digest, dag.Tasks[j].Template)
				}
			}
			out = append(out, dag)
		}
		for _, doc := range p.Recipe.Templates {
			out = append(out, doc.Template)
		}
		return out
	}
	return nil
}
