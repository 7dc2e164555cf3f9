package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattjoyce/honeycomb/internal/api"
	"github.com/mattjoyce/honeycomb/internal/index"
	"github.com/mattjoyce/honeycomb/internal/lock"
	"github.com/mattjoyce/honeycomb/internal/log"
	"github.com/mattjoyce/honeycomb/internal/store"
)

func runRepoNoun(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printRepoNounHelp(stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRepoNounHelp(stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "index":
		return runRepoIndex(actionArgs, stdout, stderr)
	case "serve":
		return runRepoServe(actionArgs, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown repo action: %s\n", action)
		return 1
	}
}

func printRepoNounHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: honeycomb repo <action> [flags]")
	fmt.Fprintln(w, "Actions: index, serve")
	fmt.Fprintln(w, "A repository holds plugins/ and recipes/, each with package files or folders.")
}

func runRepoIndex(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("repo index", stderr)
	var c commonFlags
	c.register(fs, false)
	out := fs.String("out", "", "Index file to write (default index.output from config)")
	workers := fs.Int("workers", 0, "Concurrent bakes (default index.workers from config)")
	publish := fs.Bool("store", false, "Publish baked packages to the store and log every bake")
	merge := fs.Bool("merge", false, "Merge into an existing index file instead of replacing it")
	overwrite := fs.Bool("overwrite", false, "With --merge, replace versions whose digest changed")
	pos, ok := parseAction(fs, args, 1, "repo index [--out FILE] [--workers N] [--store] [--merge [--overwrite]] [--config PATH] <dir>", stderr)
	if !ok {
		return 1
	}
	cfg, logger, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	if *out == "" {
		*out = cfg.Index.Output
	}
	if *workers <= 0 {
		*workers = cfg.Index.Workers
	}

	guard, err := lock.Acquire(lock.For(*out))
	if err != nil {
		return fail(stderr, fmt.Errorf("another index run is writing %s: %w", *out, err))
	}
	defer guard.Release()

	ctx, cancel := signalContext()
	defer cancel()

	builder := &index.Builder{
		Workers:  *workers,
		MaxDepth: cfg.Bake.MaxDepth,
		Logger:   log.WithComponent("index"),
	}
	if *publish {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return fail(stderr, err)
		}
		defer st.Close()
		builder.Store = st
	}

	ix, buildErr := builder.Build(ctx, pos[0])
	if ix == nil {
		return fail(stderr, buildErr)
	}

	if *merge {
		existing, err := index.Load(*out)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return fail(stderr, err)
		default:
			if err := existing.Merge(ix, *overwrite, !*overwrite); err != nil {
				return fail(stderr, err)
			}
			ix = existing
		}
	}
	if err := ix.Write(*out); err != nil {
		return fail(stderr, err)
	}

	logger.Info("index written", "path", *out, "plugins", len(ix.Plugin), "recipes", len(ix.Recipe))
	fmt.Fprintf(stdout, "indexed %d plugins and %d recipes into %s\n", len(ix.Plugin), len(ix.Recipe), *out)
	if buildErr != nil {
		return fail(stderr, buildErr)
	}
	return 0
}

func runRepoServe(args []string, stderr io.Writer) int {
	fs := newFlagSet("repo serve", stderr)
	var c commonFlags
	c.register(fs, false)
	listen := fs.String("listen", "", "Listen address (default api.listen from config)")
	if _, ok := parseAction(fs, args, 0, "repo serve [--listen ADDR] [--config PATH]", stderr); !ok {
		return 1
	}
	cfg, logger, err := c.setup(stderr)
	if err != nil {
		return fail(stderr, err)
	}
	if *listen != "" {
		cfg.API.Listen = *listen
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Open(ctx, cfg.Store.Path, log.WithComponent("store"))
	if err != nil {
		logger.Error("failed to open package store", "path", cfg.Store.Path, "error", err)
		return 1
	}
	defer st.Close()

	if cfg.API.Token == "" {
		log.Warn("api.token is not set, POST /bake is unauthenticated", "listen", cfg.API.Listen)
	}
	server := api.New(api.Config{
		Listen:          cfg.API.Listen,
		Token:           cfg.API.Token,
		MaxBodyBytes:    cfg.API.MaxBodyBytes,
		MaxDepth:        cfg.Bake.MaxDepth,
		ShutdownTimeout: cfg.API.ShutdownTimeout,
	}, st, log.WithComponent("api"))

	logger.Info("honeycomb serving (press Ctrl+C to stop)", "version", version, "store", cfg.Store.Path)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("api server failed", "error", err)
		return 1
	}
	logger.Info("honeycomb stopped")
	return 0
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
