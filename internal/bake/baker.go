package bake

import (
	"context"
	"fmt"

	"github.com/mattjoyce/honeycomb/internal/resolve"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

//go:generate mockgen -destination=mocks/mock_fetcher.go -package=mocks github.com/mattjoyce/honeycomb/internal/bake Fetcher

// Fetcher supplies the package a dependency points at. Tags such as "latest"
// are resolved by the fetcher; the returned package may or may not be baked.
type Fetcher interface {
	Fetch(ctx context.Context, dep schema.Dependency) (*Package, error)
}

// Baker bakes recipes together with their dependency tree.
type Baker struct {
	Fetcher Fetcher
	// MaxDepth bounds both DAG template nesting and dependency tree depth.
	MaxDepth int
}

func (b *Baker) maxDepth() int {
	if b.MaxDepth <= 0 {
		return resolve.DefaultMaxDepth
	}
	return b.MaxDepth
}

// Bake bakes recipe against packages that are already baked.
func (b *Baker) Bake(recipe *schema.Recipe, deps map[string]*Package) (*schema.Recipe, error) {
	return bake(recipe, deps, b.maxDepth(), false)
}

// BakeTree fetches every dependency of recipe, bakes dependencies before their
// dependents, and bakes recipe last. Each package is baked once per call.
func (b *Baker) BakeTree(ctx context.Context, recipe *schema.Recipe) (*schema.Recipe, error) {
	t := &tree{baker: b, done: make(map[string]*Package), active: make(map[string]bool)}
	root := depKey(schema.Dependency{Kind: schema.DependencyRecipe, Name: recipe.Metadata.Name, Tag: recipe.Metadata.Tag})
	t.active[root] = true
	return t.bakeRecipe(ctx, recipe, []string{recipe.Metadata.Name})
}

// Lock returns a copy of recipe with every dependency pinned to the digest
// of the package the fetcher returns for it.
func (b *Baker) Lock(ctx context.Context, recipe *schema.Recipe) (*schema.Recipe, error) {
	t := &tree{baker: b, done: make(map[string]*Package), active: make(map[string]bool)}
	out := recipe.Clone()
	for i, dep := range out.Dependencies {
		pkg, err := t.dependency(ctx, dep, []string{recipe.Metadata.Name})
		if err != nil {
			return nil, err
		}
		out.Dependencies[i].Hash = pkg.Digest
	}
	return out, nil
}

type tree struct {
	baker  *Baker
	done   map[string]*Package
	active map[string]bool
}

func depKey(dep schema.Dependency) string {
	return fmt.Sprintf("%s/%s:%s@%s", dep.Kind, dep.Name, dep.Tag, dep.Hash)
}

func (t *tree) bakeRecipe(ctx context.Context, recipe *schema.Recipe, path []string) (*schema.Recipe, error) {
	deps := make(map[string]*Package, len(recipe.Dependencies))
	for _, dep := range recipe.Dependencies {
		pkg, err := t.dependency(ctx, dep, path)
		if err != nil {
			return nil, err
		}
		deps[dep.RefName()] = pkg
	}
	return t.baker.Bake(recipe, deps)
}

// dependency fetches dep and bakes it if needed, returning a baked package.
func (t *tree) dependency(ctx context.Context, dep schema.Dependency, path []string) (*Package, error) {
	owner := path[len(path)-1]
	key := depKey(dep)
	if pkg, ok := t.done[key]; ok {
		return pkg, nil
	}
	next := append(append([]string{}, path...), dep.Name)
	if t.active[key] {
		return nil, stageError(StageFetch, owner, &schema.GraphCycleError{DAG: path[0], Path: next})
	}
	if len(path) > t.baker.maxDepth() {
		return nil, stageError(StageFetch, owner, &schema.DepthLimitError{What: "dependency", Limit: t.baker.maxDepth(), Path: next})
	}
	if err := ctx.Err(); err != nil {
		return nil, stageError(StageFetch, owner, err)
	}
	if t.baker.Fetcher == nil {
		return nil, stageError(StageFetch, owner, &schema.DependencyNotFoundError{Alias: dep.RefName(), Reason: "no fetcher configured"})
	}

	pkg, err := t.baker.Fetcher.Fetch(ctx, dep)
	if err != nil {
		return nil, stageError(StageFetch, owner, fmt.Errorf("fetch %s: %w", dep.Name, err))
	}
	if pkg == nil {
		return nil, stageError(StageFetch, owner, &schema.DependencyNotFoundError{Alias: dep.RefName(), Reason: "fetcher returned no package"})
	}

	t.active[key] = true
	defer delete(t.active, key)

	var baked *Package
	switch {
	case pkg.IsBaked():
		if err := pkg.Verify(); err != nil {
			return nil, stageError(StageDigest, pkg.String(), err)
		}
		baked = pkg
	case pkg.Plugin != nil:
		p, err := BakePlugin(pkg.Plugin)
		if err != nil {
			return nil, err
		}
		baked = PluginPackage(p)
	case pkg.Recipe != nil:
		r, err := t.bakeRecipe(ctx, pkg.Recipe, next)
		if err != nil {
			return nil, err
		}
		baked = RecipePackage(r)
	default:
		return nil, stageError(StageFetch, owner, &schema.DocumentError{Path: dep.Name, Reason: "fetcher returned an empty package"})
	}

	t.done[key] = baked
	return baked, nil
}
