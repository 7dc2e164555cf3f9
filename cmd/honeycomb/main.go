package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattjoyce/honeycomb/internal/config"
	"github.com/mattjoyce/honeycomb/internal/log"
	"github.com/mattjoyce/honeycomb/internal/parser"
	"github.com/mattjoyce/honeycomb/internal/store"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

// runCLI dispatches <noun> <action> commands. Documents go to stdout, logs
// and errors to stderr.
func runCLI(cliArgs []string, stdout, stderr io.Writer) int {
	if len(cliArgs) < 1 {
		printUsage(stderr)
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "recipe":
		return runRecipeNoun(args, stdout, stderr)
	case "plugin":
		return runPluginNoun(args, stdout, stderr)
	case "repo":
		return runRepoNoun(args, stdout, stderr)
	case "version", "--version":
		return runVersion(args, stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", cmd)
		printUsage(stderr)
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("version", stderr)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(stderr, "Usage: honeycomb version [--json]")
		return 1
	}

	info := currentVersionInfo()
	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, string(data))
		return 0
	}

	fmt.Fprintf(stdout, "honeycomb %s\n", info.Version)
	fmt.Fprintf(stdout, "commit: %s\n", info.Commit)
	fmt.Fprintf(stdout, "built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		if len(commit) > 12 {
			commit = commit[:12]
		}
		info.Commit = commit
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, err := time.Parse(time.RFC3339Nano, built); err == nil {
		info.BuildTime = t.UTC().Format(time.RFC3339)
	}
	return info
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `honeycomb - validate, digest and bake workflow recipes and plugins

Usage:
  honeycomb <noun> <action> [flags]

Recipe Commands:
  recipe lint <path>     Check a recipe; missing dependencies are tolerated
  recipe bake <path>     Bake a recipe with its dependency tree from the store
  recipe lock <path>     Pin every dependency to the digest the store holds
  recipe digest <path>   Print the digest of the baked recipe

Plugin Commands:
  plugin lint <path>     Check a plugin
  plugin bake <path>     Print the baked plugin, optionally storing it
  plugin digest <path>   Print the plugin digest

Repository Commands:
  repo index <dir>       Bake every package under dir and write index.yaml
  repo serve             Serve the package store over HTTP

General:
  version                Show version information
  help                   Show this help message

Every action accepts --config PATH (default $HONEYCOMB_CONFIG or ./honeycomb.yaml).
Use 'honeycomb <noun> help' for resource-specific actions.
`)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// commonFlags are accepted by every action that loads configuration.
type commonFlags struct {
	configPath string
	output     string
	outFile    string
}

func (c *commonFlags) register(fs *flag.FlagSet, documents bool) {
	fs.StringVar(&c.configPath, "config", "", "Path to honeycomb.yaml or its directory")
	if documents {
		fs.StringVar(&c.output, "output", "yaml", "Document format: yaml or json")
		fs.StringVar(&c.outFile, "out", "", "Write the document to a file instead of stdout")
	}
}

// parseAction parses flags and requires exactly want positional arguments.
func parseAction(fs *flag.FlagSet, args []string, want int, usage string, stderr io.Writer) ([]string, bool) {
	if err := fs.Parse(args); err != nil {
		return nil, false
	}
	if fs.NArg() != want {
		fmt.Fprintf(stderr, "Usage: honeycomb %s\n", usage)
		return nil, false
	}
	return fs.Args(), true
}

// setup loads configuration and the process logger.
func (c *commonFlags) setup(stderr io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(config.Resolve(c.configPath))
	if err != nil {
		return nil, nil, err
	}
	log.SetupWriter(cfg.LogLevel, stderr)
	log.Debug("configuration loaded", "store", cfg.Store.Path, "log_level", cfg.LogLevel)
	return cfg, log.WithComponent("cli"), nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	return store.Open(ctx, cfg.Store.Path, log.WithComponent("store"))
}

// writeDocument encodes v in the requested format to stdout or --out.
func (c *commonFlags) writeDocument(v any, stdout io.Writer) error {
	var (
		data []byte
		err  error
	)
	switch c.output {
	case "yaml", "":
		data, err = parser.EncodeYAML(v)
	case "json":
		data, err = parser.EncodeJSON(v)
	default:
		return fmt.Errorf("unknown output format %q (want yaml or json)", c.output)
	}
	if err != nil {
		return err
	}
	if c.outFile == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(c.outFile, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", c.outFile, err)
	}
	return nil
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
