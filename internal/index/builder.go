package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/digest"
	"github.com/mattjoyce/honeycomb/internal/parser"
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

// Repository layout directories.
const (
	PluginsDir = "plugins"
	RecipesDir = "recipes"
)

// Builder walks a repository, bakes every package and indexes the results:
//
//	<root>/plugins/<package folder or file>
//	<root>/recipes/<package folder or file>
//
// Plugins are baked first. Recipes are then baked concurrently, drawing
// dependencies from the repository before the store.
type Builder struct {
	// Workers bounds concurrent bakes; values below one mean one.
	Workers  int
	MaxDepth int
	// Store, when set, resolves dependencies missing from the repository and
	// receives every baked package and a bake log row per attempt.
	Store  *store.Store
	Logger *slog.Logger
	Now    func() time.Time
}

type source struct {
	path string
	rel  string
	doc  parser.Document
}

func (s source) pkg() *bake.Package {
	if s.doc.Plugin != nil {
		return bake.PluginPackage(s.doc.Plugin)
	}
	return bake.RecipePackage(s.doc.Recipe)
}

// Build indexes the repository at root. Packages that fail to load or bake
// are left out; their errors are returned joined together with the index of
// everything that succeeded.
func (b *Builder) Build(ctx context.Context, root string) (*Index, error) {
	logger := b.logger()
	start := b.now()
	ix := New()

	plugins, errsP := b.load(root, PluginsDir, schema.DependencyPlugin)
	recipes, errsR := b.load(root, RecipesDir, schema.DependencyRecipe)
	failures := append(errsP, errsR...)

	var fallback bake.Fetcher
	if b.Store != nil {
		fallback = b.Store
	}
	fetcher := newRepoFetcher(fallback)
	for _, src := range recipes {
		fetcher.add(src.pkg())
	}

	var mu sync.Mutex
	record := func(kind schema.DependencyKind, src source, pkg *bake.Package, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", src.rel, err))
			return
		}
		if pkg.Kind == schema.DependencyPlugin {
			fetcher.add(pkg)
		}
		meta := pkg.Metadata()
		v := Version{
			Name:        meta.Name,
			Tag:         meta.Tag,
			Digest:      pkg.Digest,
			Description: meta.Description,
			Keywords:    meta.Keywords,
			Deprecated:  meta.Deprecated,
			Created:     b.now().UTC(),
			URL:         filepath.ToSlash(src.rel),
		}
		if err := ix.Add(kind, v, false); err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", src.rel, err))
		}
	}

	if err := b.bakeAll(ctx, plugins, record, func(src source) (*bake.Package, error) {
		p, err := bake.BakePlugin(src.doc.Plugin)
		if err != nil {
			return nil, err
		}
		return bake.PluginPackage(p), nil
	}); err != nil {
		return nil, err
	}

	baker := &bake.Baker{Fetcher: fetcher, MaxDepth: b.MaxDepth}
	if err := b.bakeAll(ctx, recipes, record, func(src source) (*bake.Package, error) {
		r, err := baker.BakeTree(ctx, src.doc.Recipe)
		if err != nil {
			return nil, err
		}
		return bake.RecipePackage(r), nil
	}); err != nil {
		return nil, err
	}

	ix.Generated = b.now().UTC()
	logger.Info("repository indexed",
		"root", root,
		"plugins", len(ix.Plugin),
		"recipes", len(ix.Recipe),
		"failures", len(failures),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ix, errors.Join(failures...)
}

// bakeAll runs bakeOne over sources with at most Workers in flight. Only
// context cancellation stops the group; bake failures go to record.
func (b *Builder) bakeAll(
	ctx context.Context,
	sources []source,
	record func(schema.DependencyKind, source, *bake.Package, error),
	bakeOne func(source) (*bake.Package, error),
) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers())

	for _, src := range sources {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			started := b.now()
			pkg, err := bakeOne(src)
			if err == nil && b.Store != nil {
				err = b.Store.Put(gctx, pkg)
			}
			b.logBake(gctx, src, pkg, err, b.now().Sub(started))
			record(src.doc.Kind(), src, pkg, err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (b *Builder) logBake(ctx context.Context, src source, pkg *bake.Package, err error, took time.Duration) {
	logger := b.logger()
	meta := src.pkg().Metadata()
	attrs := []any{"kind", src.doc.Kind(), "package", meta.Name, "tag", meta.Tag, "path", src.rel, "duration_ms", took.Milliseconds()}
	if err != nil {
		logger.Warn("bake failed", append(attrs, "error", err)...)
	} else {
		logger.Debug("package baked", append(attrs, "digest", pkg.Digest)...)
	}
	if b.Store == nil {
		return
	}

	checksum, _ := digest.Digest(sourceDocument(src))
	rec := store.BakeRecord{
		Kind:           src.doc.Kind(),
		Name:           meta.Name,
		Tag:            meta.Tag,
		SourceChecksum: checksum,
		Duration:       took,
	}
	if pkg != nil {
		rec.Digest = pkg.Digest
	}
	if _, recErr := b.Store.RecordBake(ctx, rec, err); recErr != nil {
		logger.Error("failed to record bake", "path", src.rel, "error", recErr)
	}
}

func sourceDocument(src source) any {
	if src.doc.Plugin != nil {
		return src.doc.Plugin
	}
	return src.doc.Recipe
}

// load parses every package under root/dir. A missing directory is empty.
func (b *Builder) load(root, dir string, kind schema.DependencyKind) ([]source, []error) {
	base := filepath.Join(root, dir)
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read %s directory %q: %w", dir, base, err)}
	}

	var (
		sources []source
		errs    []error
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			switch filepath.Ext(entry.Name()) {
			case ".yaml", ".yml", ".json":
			default:
				continue
			}
		}
		path := filepath.Join(base, entry.Name())
		rel := filepath.Join(dir, entry.Name())
		doc, err := parser.Load(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rel, err))
			continue
		}
		if doc.Kind() != kind {
			errs = append(errs, fmt.Errorf("%s: found a %s under %s", rel, doc.Kind(), dir))
			continue
		}
		sources = append(sources, source{path: path, rel: rel, doc: doc})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].rel < sources[j].rel })
	return sources, errs
}

func (b *Builder) workers() int {
	if b.Workers < 1 {
		return 1
	}
	return b.Workers
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.Default()
	}
	return b.Logger
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}
