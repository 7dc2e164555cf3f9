package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/log"
	"github.com/mattjoyce/honeycomb/internal/parser"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

func runPluginNoun(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printPluginNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPluginNounHelp(stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "lint":
		return runPluginLint(actionArgs, stdout, stderr)
	case "bake":
		return runPluginBake(actionArgs, stdout, stderr)
	case "digest":
		return runPluginDigest(actionArgs, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown plugin action: %s\n", action)
		return 1
	}
}

func printPluginNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: honeycomb plugin <action> [flags] <path>")
	fmt.Fprintln(w, "Actions: lint, bake, digest")
	fmt.Fprintln(w, "<path> is a plugin file or a plugin folder (package.yaml, config.yaml, functions/).")
}

func loadPlugin(path string) (*schema.Plugin, error) {
	doc, err := parser.Load(path)
	if err != nil {
		return nil, err
	}
	if doc.Plugin == nil {
		return nil, fmt.Errorf("%s is a recipe, not a plugin", path)
	}
	return doc.Plugin, nil
}

func runPluginLint(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("plugin lint", stderr)
	var c commonFlags
	c.register(fs, false)
	pos, ok := parseAction(fs, args, 1, "plugin lint [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	if _, _, err := c.setup(stderr); err != nil {
		return fail(stderr, err)
	}
	p, err := loadPlugin(pos[0])
	if err != nil {
		return fail(stderr, err)
	}
	if _, err := bake.BakePlugin(p); err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "%s:%s ok\n", p.Metadata.Name, p.Metadata.Tag)
	return 0
}

func runPluginDigest(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("plugin digest", stderr)
	var c commonFlags
	c.register(fs, false)
	pos, ok := parseAction(fs, args, 1, "plugin digest [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	if _, _, err := c.setup(stderr); err != nil {
		return fail(stderr, err)
	}
	p, err := loadPlugin(pos[0])
	if err != nil {
		return fail(stderr, err)
	}
	baked, err := bake.BakePlugin(p)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintln(stdout, baked.Digest)
	return 0
}

func runPluginBake(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("plugin bake", stderr)
	var c commonFlags
	c.register(fs, true)
	publish := fs.Bool("store", false, "Publish the baked plugin to the store")
	pos, ok := parseAction(fs, args, 1, "plugin bake [--store] [--output yaml|json] [--out FILE] [--config PATH] <path>", stderr)
	if !ok {
		return 1
	}
	cfg, logger, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	p, err := loadPlugin(pos[0])
	if err != nil {
		return fail(stderr, err)
	}

	start := time.Now()
	baked, err := bake.BakePlugin(p)
	if *publish {
		ctx := context.Background()
		st, openErr := openStore(ctx, cfg)
		if openErr != nil {
			return fail(stderr, openErr)
		}
		defer st.Close()

		var pkg *bake.Package
		if err == nil {
			pkg = bake.PluginPackage(baked)
			err = st.Put(ctx, pkg)
		}
		recordBake(ctx, st, p, bake.PluginPackage(p), pkg, err, time.Since(start), logger)
	}
	if err != nil {
		return fail(stderr, err)
	}
	log.WithPackage(string(schema.DependencyPlugin), p.Metadata.Name).Info("plugin baked", "tag", p.Metadata.Tag, "digest", baked.Digest, "stored", *publish)
	if err := c.writeDocument(baked, stdout); err != nil {
		return fail(stderr, err)
	}
	return 0
}
