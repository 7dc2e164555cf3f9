package index

import (
	"context"
	"fmt"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

// repoFetcher serves the packages found in a repository walk. Plugins are
// served baked, recipes as sources so each recipe tree bakes its own
// dependencies. Anything missing goes to fallback when one is set.
// It is filled before any bake starts and only read afterwards.
type repoFetcher struct {
	packages map[string][]*bake.Package // kind/name -> versions
	fallback bake.Fetcher
}

func newRepoFetcher(fallback bake.Fetcher) *repoFetcher {
	return &repoFetcher{packages: make(map[string][]*bake.Package), fallback: fallback}
}

func packageKey(kind schema.DependencyKind, name string) string {
	return string(kind) + "/" + name
}

func (f *repoFetcher) add(pkg *bake.Package) {
	key := packageKey(pkg.Kind, pkg.Metadata().Name)
	f.packages[key] = append(f.packages[key], pkg)
}

func (f *repoFetcher) Fetch(ctx context.Context, dep schema.Dependency) (*bake.Package, error) {
	if pkg := f.lookup(dep); pkg != nil {
		return pkg, nil
	}
	if f.fallback != nil {
		return f.fallback.Fetch(ctx, dep)
	}
	return nil, fmt.Errorf("%w: %s %s:%s", ErrNotIndexed, dep.Kind, dep.Name, dep.Tag)
}

func (f *repoFetcher) lookup(dep schema.Dependency) *bake.Package {
	var best *bake.Package
	for _, pkg := range f.packages[packageKey(dep.Kind, dep.Name)] {
		tag := pkg.Metadata().Tag
		switch {
		case dep.Hash != "":
			// sources have no digest yet; only baked plugins can match a pin
			if pkg.Digest == dep.Hash {
				return pkg
			}
		case dep.Tag == "" || dep.Tag == store.LatestTag:
			if best == nil || store.CompareTags(tag, best.Metadata().Tag) > 0 {
				best = pkg
			}
		case tag == dep.Tag:
			return pkg
		}
	}
	return best
}
