package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/config"
	"github.com/mattjoyce/honeycomb/internal/digest"
	"github.com/mattjoyce/honeycomb/internal/log"
	"github.com/mattjoyce/honeycomb/internal/parser"
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

func runRecipeNoun(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printRecipeNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRecipeNounHelp(stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lint":
		return runRecipeLint(actionArgs, stdout, stderr)
	case "bake":
		return runRecipeBake(actionArgs, stdout, stderr)
	case "lock":
		return runRecipeLock(actionArgs, stdout, stderr)
	case "digest":
		return runRecipeDigest(actionArgs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown recipe action: %s\n", action)
		return 1
	}
}

func printRecipeNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: honeycomb recipe <action> [flags] <path>")
	fmt.Fprintln(w, "Actions: lint, bake, lock, digest")
	fmt.Fprintln(w, "<path> is a recipe file or a recipe folder (package.yaml, dependencies.yaml, flow/).")
}

func loadRecipe(path string) (*schema.Recipe, error) {
	doc, err := parser.Load(path)
	if err != nil {
		return nil, err
	}
	if doc.Recipe == nil {
		return nil, fmt.Errorf("%s is a plugin, not a recipe", path)
	}
	return doc.Recipe, nil
}

func runRecipeLint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("recipe lint", stderr)
	var c commonFlags
	c.register(fs, false)
	offline := fs.Bool("offline", false, "Do not look dependencies up in the store")
	pos, ok := parseAction(fs, args, 1, "recipe lint [--offline] [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	cfg, logger, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	recipe, err := loadRecipe(pos[0])
	if err != nil {
		return fail(stderr, err)
	}

	deps := make(map[string]*bake.Package)
	if !*offline {
		ctx := context.Background()
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fail(stderr, err)
		}
		defer st.Close()
		for _, dep := range recipe.Dependencies {
			pkg, err := st.Fetch(ctx, dep)
			if errors.Is(err, store.ErrNotFound) {
				logger.Warn("dependency not in store, its templates are not checked", "dependency", dep.RefName())
				continue
			}
			if err != nil {
				return fail(stderr, err)
			}
			deps[dep.RefName()] = pkg
		}
	}

	if err := bake.Lint(recipe, deps); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "%s:%s ok\n", recipe.Metadata.Name, recipe.Metadata.Tag)
	return 0
}

func runRecipeBake(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("recipe bake", stderr)
	var c commonFlags
	c.register(fs, true)
	publish := fs.Bool("store", false, "Publish the baked recipe to the store")
	pos, ok := parseAction(fs, args, 1, "recipe bake [--store] [--output yaml|json] [--out FILE] [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	cfg, logger, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	recipe, err := loadRecipe(pos[0])
	if err != nil {
		return fail(stderr, err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	baked, err := bakeRecipe(ctx, st, cfg, recipe, *publish, logger)
	if err != nil {
		return fail(stderr, err)
	}
	if err := c.writeDocument(baked, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

// bakeRecipe bakes recipe with dependencies from st and records the attempt
// in the bake log. With publish set the result is also stored.
func bakeRecipe(ctx context.Context, st *store.Store, cfg *config.Config, recipe *schema.Recipe, publish bool, logger *slog.Logger) (*schema.Recipe, error) {
	start := time.Now()
	baker := &bake.Baker{Fetcher: st, MaxDepth: cfg.Bake.MaxDepth}
	baked, err := baker.BakeTree(ctx, recipe)
	var pkg *bake.Package
	if err == nil {
		pkg = bake.RecipePackage(baked)
		if publish {
			err = st.Put(ctx, pkg)
		}
	}
	recordBake(ctx, st, recipe, bake.RecipePackage(recipe), pkg, err, time.Since(start), logger)
	if err != nil {
		return nil, err
	}
	log.WithPackage(string(schema.DependencyRecipe), recipe.Metadata.Name).Info("recipe baked", "tag", recipe.Metadata.Tag, "digest", baked.Digest, "stored", publish)
	return baked, nil
}

// recordBake appends one bake attempt to the store's bake log. Failures to
// record are logged and otherwise ignored.
func recordBake(ctx context.Context, st *store.Store, source any, src, baked *bake.Package, cause error, took time.Duration, logger *slog.Logger) {
	meta := src.Metadata()
	rec := store.BakeRecord{
		Kind:     src.Kind,
		Name:     meta.Name,
		Tag:      meta.Tag,
		Duration: took,
	}
	if sum, err := digest.Digest(source); err == nil {
		rec.SourceChecksum = sum
	}
	if baked != nil {
		rec.Digest = baked.Digest
	}
	if _, err := st.RecordBake(ctx, rec, cause); err != nil {
		logger.Warn("failed to record bake", "package", meta.Name, "error", err)
	}
}

func runRecipeLock(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("recipe lock", stderr)
	var c commonFlags
	c.register(fs, true)
	pos, ok := parseAction(fs, args, 1, "recipe lock [--output yaml|json] [--out FILE] [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	cfg, _, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	recipe, err := loadRecipe(pos[0])
	if err != nil {
		return fail(stderr, err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	locked, err := (&bake.Baker{Fetcher: st, MaxDepth: cfg.Bake.MaxDepth}).Lock(ctx, recipe)
	if err != nil {
		return fail(stderr, err)
	}
	if err := c.writeDocument(locked, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runRecipeDigest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("recipe digest", stderr)
	var c commonFlags
	c.register(fs, false)
	pos, ok := parseAction(fs, args, 1, "recipe digest [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	cfg, _, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	recipe, err := loadRecipe(pos[0])
	if err != nil {
		return fail(stderr, err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return fail(stderr, err)
	}
	defer st.Close()

	baked, err := (&bake.Baker{Fetcher: st, MaxDepth: cfg.Bake.MaxDepth}).BakeTree(ctx, recipe)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, baked.Digest)
	return 0
}
