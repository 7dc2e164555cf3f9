// Package bake flattens a recipe and its baked dependencies into one
// self-contained document whose templates are addressed by package digest.
package bake

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mattjoyce/honeycomb/internal/digest"
	"github.com/mattjoyce/honeycomb/internal/graph"
	"github.com/mattjoyce/honeycomb/internal/resolve"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

// Bake bakes recipe against deps, keyed by dependency reference name (alias,
// or name when no alias is set). Every dependency package must already be
// baked. The input is not modified and nothing is returned on failure.
func Bake(recipe *schema.Recipe, deps map[string]*Package) (*schema.Recipe, error) {
	return bake(recipe, deps, resolve.DefaultMaxDepth, false)
}

// Lint runs the same checks as Bake but tolerates dependencies that were not
// supplied: their templates resolve to placeholders and are not type checked.
func Lint(recipe *schema.Recipe, deps map[string]*Package) error {
	_, err := bake(recipe, deps, resolve.DefaultMaxDepth, true)
	return err
}

// BakePlugin checks a plugin and returns a copy carrying its digest.
func BakePlugin(p *schema.Plugin) (*schema.Plugin, error) {
	name := p.Metadata.Name
	if err := checkPlugin(p); err != nil {
		return nil, stageError(StageValidate, name, err)
	}
	out := *p
	out.Functions = append([]schema.Function(nil), p.Functions...)
	if out.APIVersion == "" {
		out.APIVersion = schema.APIVersion
	}
	d, err := digest.Plugin(&out)
	if err != nil {
		return nil, stageError(StageDigest, name, err)
	}
	out.Digest = d
	return &out, nil
}

func checkPlugin(p *schema.Plugin) error {
	if err := checkMetadata(p.Metadata); err != nil {
		return err
	}
	if len(p.Functions) == 0 {
		return &schema.DocumentError{Path: p.Metadata.Name, Reason: "plugin has no functions"}
	}
	seen := make(map[string]struct{}, len(p.Functions))
	for _, fn := range p.Functions {
		if fn.Name == "" {
			return &schema.DocumentError{Path: p.Metadata.Name, Reason: "function without a name"}
		}
		if strings.Contains(fn.Name, "/") {
			return &schema.DocumentError{Path: p.Metadata.Name, Reason: fmt.Sprintf("function name %q contains '/'", fn.Name)}
		}
		if _, dup := seen[fn.Name]; dup {
			return &schema.DocumentError{Path: p.Metadata.Name, Reason: fmt.Sprintf("function %q is declared more than once", fn.Name)}
		}
		seen[fn.Name] = struct{}{}
		if err := checkPorts(fn.Name, fn.Inputs, fn.Outputs); err != nil {
			return err
		}
	}
	return nil
}

func checkPorts(owner string, inputs []schema.Input, outputs []schema.Output) error {
	seen := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if !in.Type.Valid() {
			return &schema.DocumentError{Path: owner, Reason: fmt.Sprintf("input %q has unknown type %q", in.Name, in.Type)}
		}
		if _, dup := seen[in.Name]; dup {
			return &schema.DocumentError{Path: owner, Reason: fmt.Sprintf("input %q is declared more than once", in.Name)}
		}
		seen[in.Name] = struct{}{}
	}
	seen = make(map[string]struct{}, len(outputs))
	for _, out := range outputs {
		if !out.Type.Valid() {
			return &schema.DocumentError{Path: owner, Reason: fmt.Sprintf("output %q has unknown type %q", out.Name, out.Type)}
		}
		if _, dup := seen[out.Name]; dup {
			return &schema.DocumentError{Path: owner, Reason: fmt.Sprintf("output %q is declared more than once", out.Name)}
		}
		seen[out.Name] = struct{}{}
	}
	return nil
}

func checkMetadata(m schema.Metadata) error {
	if m.Name == "" {
		return &schema.DocumentError{Path: "metadata.name", Reason: "package name is required"}
	}
	if m.Tag == "" {
		return &schema.DocumentError{Path: m.Name, Reason: "metadata.tag is required"}
	}
	return nil
}

// checkRecipe enforces the package-level rules: an entry DAG, unique DAG
// names without '/', and dependency reference names distinct from each other
// and from DAGs.
func checkRecipe(r *schema.Recipe) error {
	if err := checkMetadata(r.Metadata); err != nil {
		return err
	}
	dags := make(map[string]struct{}, len(r.Flow))
	for _, dag := range r.Flow {
		if dag.Name == "" {
			return &schema.DocumentError{Path: r.Metadata.Name, Reason: "flow dag without a name"}
		}
		if strings.Contains(dag.Name, "/") {
			// a task template "a/b" always names dependency a
			return &schema.DocumentError{Path: r.Metadata.Name, Reason: fmt.Sprintf("dag name %q contains '/'", dag.Name)}
		}
		if _, dup := dags[dag.Name]; dup {
			return &schema.DocumentError{Path: r.Metadata.Name, Reason: fmt.Sprintf("dag %q is declared more than once", dag.Name)}
		}
		dags[dag.Name] = struct{}{}
	}
	if _, ok := dags[schema.EntryDAG]; !ok {
		return &schema.DocumentError{Path: r.Metadata.Name, Reason: "flow has no dag named " + schema.EntryDAG}
	}

	refs := make(map[string]struct{}, len(r.Dependencies))
	for _, dep := range r.Dependencies {
		if !dep.Kind.Valid() {
			return &schema.DocumentError{Path: dep.Name, Reason: fmt.Sprintf("unknown dependency kind %q", dep.Kind)}
		}
		if dep.Name == "" {
			return &schema.DocumentError{Path: r.Metadata.Name, Reason: "dependency without a name"}
		}
		ref := dep.RefName()
		if _, dup := refs[ref]; dup {
			return &schema.DocumentError{Path: ref, Reason: "dependency reference name is used more than once"}
		}
		if _, clash := dags[ref]; clash {
			return &schema.DocumentError{Path: ref, Reason: "dependency reference name collides with a dag"}
		}
		refs[ref] = struct{}{}
	}
	return nil
}

func bake(recipe *schema.Recipe, deps map[string]*Package, maxDepth int, lint bool) (*schema.Recipe, error) {
	name := recipe.Metadata.Name
	if err := checkRecipe(recipe); err != nil {
		return nil, stageError(StageValidate, name, err)
	}

	pool := resolve.NewPool()
	carried := make(map[string]schema.Template)
	addCarried := func(ref, ownDigest string, templates []schema.Template) error {
		groups := make(map[string][]schema.Template)
		for _, t := range templates {
			ns, _ := schema.SplitTemplateName(t.TemplateName())
			if ns == "" {
				return &schema.DocumentError{Path: t.TemplateName(), Reason: "carried template has no digest namespace"}
			}
			groups[ns] = append(groups[ns], t)
			carried[t.TemplateName()] = t
		}
		if ref != "" {
			if err := pool.AddNamespace(ref, resolve.NewNamespace(ownDigest, groups[ownDigest]...)); err != nil {
				return err
			}
			delete(groups, ownDigest)
		}
		for ns, ts := range groups {
			if err := pool.AddNamespace("", resolve.NewNamespace(ns, ts...)); err != nil {
				return err
			}
		}
		return nil
	}

	// templates a baked recipe already carries, by digest namespace
	existing := make(map[string][]schema.Template)
	for _, doc := range recipe.Templates {
		ns, _ := schema.SplitTemplateName(doc.TemplateName())
		existing[ns] = append(existing[ns], doc.Template)
	}
	baked := recipe.IsBaked() || len(recipe.Templates) > 0

	type suppliedDep struct {
		ref string
		pkg *Package
	}
	var supplied []suppliedDep
	provenance := make([]schema.Dependency, len(recipe.Dependencies))
	var missing []error
	for i, dep := range recipe.Dependencies {
		provenance[i] = dep
		ref := dep.RefName()
		pkg, ok := deps[ref]
		if !ok || pkg == nil {
			switch {
			case baked && dep.Hash != "" && len(existing[dep.Hash]) > 0:
				// baked output already carries this dependency's templates
			case lint:
				if err := pool.AddSource(ref); err != nil {
					return nil, stageError(StageResolve, name, err)
				}
			default:
				missing = append(missing, &schema.DependencyNotFoundError{Alias: ref, Reason: "package was not supplied"})
			}
			continue
		}
		if err := checkSupplied(dep, pkg); err != nil {
			return nil, stageError(StageResolve, name, err)
		}
		if baked {
			// Flow tasks already point at <hash>/name. Without the hash there
			// is no telling which carried templates the package replaces.
			if dep.Hash == "" {
				return nil, stageError(StageResolve, name, &schema.DocumentError{
					Path:   ref,
					Reason: "baked recipe dependency has no hash; bake from source to change it",
				})
			}
			delete(existing, dep.Hash)
		}
		supplied = append(supplied, suppliedDep{ref: ref, pkg: pkg})
		provenance[i].Hash = pkg.Digest
	}
	if len(missing) > 0 {
		return nil, stageError(StageResolve, name, errors.Join(missing...))
	}

	namespaces := make([]string, 0, len(existing))
	for ns := range existing {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		if err := addCarried("", "", existing[ns]); err != nil {
			return nil, stageError(StageResolve, name, err)
		}
	}
	for _, s := range supplied {
		if err := addCarried(s.ref, s.pkg.Digest, s.pkg.Templates()); err != nil {
			return nil, stageError(StageResolve, name, err)
		}
	}

	for i := range recipe.Flow {
		if err := pool.AddLocal(&recipe.Flow[i]); err != nil {
			return nil, stageError(StageResolve, name, err)
		}
	}

	resolved := make([]*resolve.ResolvedDAG, 0, len(recipe.Flow))
	var errs []error
	for i := range recipe.Flow {
		r, err := resolve.ResolveTemplates(&recipe.Flow[i], pool)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resolved = append(resolved, r)
	}
	if len(errs) > 0 {
		return nil, stageError(StageResolve, name, errors.Join(errs...))
	}

	roots := make([]*schema.DAG, len(resolved))
	for i, r := range resolved {
		roots[i] = r.DAG
	}
	if err := resolve.CheckNesting(roots, pool, maxDepth); err != nil {
		return nil, stageError(StageValidate, name, err)
	}

	flow := make([]schema.DAG, 0, len(resolved))
	for _, r := range resolved {
		annotated, err := graph.Validate(r.DAG)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.CheckIO(); err != nil {
			errs = append(errs, err)
			continue
		}
		flow = append(flow, *annotated.DAG)
	}
	if len(errs) > 0 {
		return nil, stageError(StageValidate, name, errors.Join(errs...))
	}
	if lint {
		return nil, nil
	}

	out := &schema.Recipe{
		APIVersion:   recipe.APIVersion,
		Metadata:     recipe.Metadata,
		Dependencies: provenance,
		Flow:         flow,
		Templates:    templateDocs(reachable(flow, carried)),
	}
	if out.APIVersion == "" {
		out.APIVersion = schema.APIVersion
	}
	if len(out.Dependencies) == 0 {
		out.Dependencies = nil
	}
	d, err := digest.Recipe(out)
	if err != nil {
		return nil, stageError(StageDigest, name, err)
	}
	out.Digest = d
	return out, nil
}

func checkSupplied(dep schema.Dependency, pkg *Package) error {
	if pkg.Kind != dep.Kind {
		return &schema.DependencyNotFoundError{
			Alias:  dep.RefName(),
			Reason: fmt.Sprintf("declared as %s but supplied %s", dep.Kind, pkg.Kind),
		}
	}
	if !pkg.IsBaked() {
		return &schema.DocumentError{Path: dep.RefName(), Reason: "dependency package is not baked"}
	}
	if dep.Hash != "" && dep.Hash != pkg.Digest {
		return &schema.DigestMismatchError{Dependency: dep.RefName(), Want: dep.Hash, Got: pkg.Digest}
	}
	return nil
}

// reachable keeps the carried templates a flow task uses, directly or through
// the tasks of carried DAG templates.
func reachable(flow []schema.DAG, carried map[string]schema.Template) map[string]schema.Template {
	out := make(map[string]schema.Template)
	var visit func(name string)
	visit = func(name string) {
		if _, seen := out[name]; seen {
			return
		}
		t, ok := carried[name]
		if !ok {
			return
		}
		out[name] = t
		if dag, ok := t.(*schema.DAG); ok {
			for _, task := range dag.Tasks {
				visit(task.Template)
			}
		}
	}
	for _, dag := range flow {
		for _, task := range dag.Tasks {
			visit(task.Template)
		}
	}
	return out
}

// templateDocs orders templates by name. Each qualified name appears once.
func templateDocs(templates map[string]schema.Template) []schema.TemplateDoc {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]schema.TemplateDoc, 0, len(names))
	for _, name := range names {
		out = append(out, schema.TemplateDoc{Template: templates[name]})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
