package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// Folder layout file and directory names.
const (
	PackageFile      = "package.yaml"
	DependenciesFile = "dependencies.yaml"
	ConfigFile       = "config.yaml"
	FlowDir          = "flow"
	FunctionsDir     = "functions"
)

// LoadRecipeFolder assembles a recipe from a folder:
//
//	package.yaml       metadata
//	dependencies.yaml  {dependencies: [...]}, optional
//	flow/*.yaml        one DAG per file
func LoadRecipeFolder(dir string) (*schema.Recipe, error) {
	metadata, err := ParseFile(filepath.Join(dir, PackageFile))
	if err != nil {
		return nil, err
	}
	tree := map[string]any{"metadata": metadata}

	depsPath := filepath.Join(dir, DependenciesFile)
	if _, err := os.Stat(depsPath); err == nil {
		deps, err := ParseFile(depsPath)
		if err != nil {
			return nil, err
		}
		if list, ok := deps["dependencies"]; ok {
			tree["dependencies"] = list
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat %q: %w", depsPath, err)
	}

	files, err := yamlFiles(filepath.Join(dir, FlowDir))
	if err != nil {
		return nil, err
	}
	flow := make([]any, 0, len(files))
	for _, file := range files {
		dag, err := ParseFile(file)
		if err != nil {
			return nil, err
		}
		flow = append(flow, dag)
	}
	tree["flow"] = flow

	return recipeFromTree(dir, tree)
}

// LoadPluginFolder assembles a plugin from a folder:
//
//	package.yaml      metadata
//	config.yaml       execution config
//	functions/*.yaml  one function per file
func LoadPluginFolder(dir string) (*schema.Plugin, error) {
	metadata, err := ParseFile(filepath.Join(dir, PackageFile))
	if err != nil {
		return nil, err
	}
	config, err := ParseFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, err
	}

	files, err := yamlFiles(filepath.Join(dir, FunctionsDir))
	if err != nil {
		return nil, err
	}
	functions := make([]any, 0, len(files))
	for _, file := range files {
		fn, err := ParseFile(file)
		if err != nil {
			return nil, err
		}
		functions = append(functions, fn)
	}

	return pluginFromTree(dir, map[string]any{
		"metadata":  metadata,
		"config":    config,
		"functions": functions,
	})
}

// Document is either a recipe or a plugin read from disk.
type Document struct {
	Recipe *schema.Recipe
	Plugin *schema.Plugin
}

// Kind reports which package kind d holds.
func (d Document) Kind() schema.DependencyKind {
	if d.Plugin != nil {
		return schema.DependencyPlugin
	}
	return schema.DependencyRecipe
}

// Load reads a package from a folder or a single file. Folders with a
// functions directory are plugins; other folders are recipes.
func Load(path string) (Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Document{}, fmt.Errorf("stat %q: %w", path, err)
	}

	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(path, FunctionsDir)); err == nil {
			p, err := LoadPluginFolder(path)
			return Document{Plugin: p}, err
		}
		r, err := LoadRecipeFolder(path)
		return Document{Recipe: r}, err
	}

	tree, err := ParseFile(path)
	if err != nil {
		return Document{}, err
	}
	return documentFromTree(path, tree)
}

// Parse decodes a recipe or plugin from YAML or JSON bytes. Documents that
// declare functions are plugins.
func Parse(data []byte) (Document, error) {
	tree, err := decodeBytes(data)
	if err != nil {
		return Document{}, err
	}
	return documentFromTree("document", tree)
}

func documentFromTree(path string, tree map[string]any) (Document, error) {
	if _, ok := tree["functions"]; ok {
		p, err := pluginFromTree(path, tree)
		return Document{Plugin: p}, err
	}
	r, err := recipeFromTree(path, tree)
	return Document{Recipe: r}, err
}
