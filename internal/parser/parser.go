// Package parser turns YAML and JSON package documents into typed schema
// values. Documents may pull in other files with an import_from key.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// ImportKey names the include directive inside a document.
const ImportKey = "import_from"

// maxImportDepth bounds nested import_from chains.
const maxImportDepth = 16

// ParseFile reads a YAML or JSON file into a generic document tree. Every
// import_from key is replaced by the content of the file it names; keys
// already present next to it win.
func ParseFile(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", path, err)
	}
	return parseFile(abs, nil)
}

func parseFile(path string, chain []string) (map[string]any, error) {
	for _, seen := range chain {
		if seen == path {
			return nil, &schema.DocumentError{Path: path, Reason: "import_from cycle: " + strings.Join(append(chain, path), " -> ")}
		}
	}
	if len(chain) >= maxImportDepth {
		return nil, &schema.DepthLimitError{What: "import_from", Limit: maxImportDepth, Path: append(chain, path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document %q: %w", path, err)
	}
	doc, err := decodeTree(path, data)
	if err != nil {
		return nil, err
	}
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, &schema.DocumentError{Path: path, Reason: "document root must be a mapping"}
	}
	if err := resolveImports(root, filepath.Dir(path), append(chain, path)); err != nil {
		return nil, err
	}
	return root, nil
}

func decodeTree(path string, data []byte) (any, error) {
	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, &schema.DocumentError{Path: path, Reason: "parse json: " + err.Error()}
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, &schema.DocumentError{Path: path, Reason: "parse yaml: " + err.Error()}
		}
	default:
		return nil, &schema.DocumentError{Path: path, Reason: "only .yaml, .yml and .json documents are supported"}
	}
	return normalizeTree(doc), nil
}

// normalizeTree converts YAML mappings with non-string keys into string keyed
// maps so the tree can be encoded as JSON.
func normalizeTree(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			val[k] = normalizeTree(child)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[fmt.Sprint(k)] = normalizeTree(child)
		}
		return out
	case []any:
		for i, child := range val {
			val[i] = normalizeTree(child)
		}
		return val
	default:
		return v
	}
}

func resolveImports(node map[string]any, dir string, chain []string) error {
	for key, value := range node {
		if key == ImportKey {
			continue
		}
		if err := resolveValue(value, dir, chain); err != nil {
			return err
		}
	}

	raw, ok := node[ImportKey]
	if !ok {
		return nil
	}
	target, ok := raw.(string)
	if !ok || target == "" {
		return &schema.DocumentError{Path: chain[len(chain)-1], Reason: "import_from must be a file path"}
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(dir, target)
	}
	imported, err := parseFile(filepath.Clean(target), chain)
	if err != nil {
		return err
	}
	delete(node, ImportKey)
	for k, v := range imported {
		if _, exists := node[k]; !exists {
			node[k] = v
		}
	}
	return nil
}

func resolveValue(v any, dir string, chain []string) error {
	switch val := v.(type) {
	case map[string]any:
		return resolveImports(val, dir, chain)
	case []any:
		for _, item := range val {
			if err := resolveValue(item, dir, chain); err != nil {
				return err
			}
		}
	}
	return nil
}

// decodeStrict maps a generic tree onto a typed document, rejecting keys the
// type does not declare.
func decodeStrict(path string, tree any, out any) error {
	data, err := json.Marshal(tree)
	if err != nil {
		return &schema.DocumentError{Path: path, Reason: "encode document: " + err.Error()}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &schema.DocumentError{Path: path, Reason: err.Error()}
	}
	return nil
}

// dropKind removes a "type" discriminator naming kind. Flow DAGs and plugin
// functions may carry one; the typed documents do not.
func dropKind(node any, kind schema.TemplateKind) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if t, ok := m["type"].(string); ok && t == string(kind) {
		delete(m, "type")
	}
}

// ParseRecipe decodes a recipe from YAML or JSON bytes. Documents with an
// import_from key must be read with LoadRecipe so includes resolve relative
// to the file.
func ParseRecipe(data []byte) (*schema.Recipe, error) {
	tree, err := decodeBytes(data)
	if err != nil {
		return nil, err
	}
	return recipeFromTree("recipe", tree)
}

// ParsePlugin decodes a plugin from YAML or JSON bytes.
func ParsePlugin(data []byte) (*schema.Plugin, error) {
	tree, err := decodeBytes(data)
	if err != nil {
		return nil, err
	}
	return pluginFromTree("plugin", tree)
}

// decodeBytes reads YAML, which also accepts JSON documents.
func decodeBytes(data []byte) (map[string]any, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &schema.DocumentError{Reason: "parse document: " + err.Error()}
	}
	root, ok := normalizeTree(doc).(map[string]any)
	if !ok {
		return nil, &schema.DocumentError{Reason: "document root must be a mapping"}
	}
	if _, ok := root[ImportKey]; ok {
		return nil, &schema.DocumentError{Path: ImportKey, Reason: "includes need a file path to resolve against"}
	}
	return root, nil
}

// LoadRecipe reads a recipe from a single document file.
func LoadRecipe(path string) (*schema.Recipe, error) {
	tree, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return recipeFromTree(path, tree)
}

// LoadPlugin reads a plugin from a single document file.
func LoadPlugin(path string) (*schema.Plugin, error) {
	tree, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return pluginFromTree(path, tree)
}

func recipeFromTree(path string, tree map[string]any) (*schema.Recipe, error) {
	if flow, ok := tree["flow"].([]any); ok {
		for _, dag := range flow {
			dropKind(dag, schema.TemplateKindDAG)
		}
	}
	var recipe schema.Recipe
	if err := decodeStrict(path, tree, &recipe); err != nil {
		return nil, err
	}
	if err := checkRecipe(path, &recipe); err != nil {
		return nil, err
	}
	return &recipe, nil
}

func pluginFromTree(path string, tree map[string]any) (*schema.Plugin, error) {
	if fns, ok := tree["functions"].([]any); ok {
		for _, fn := range fns {
			dropKind(fn, schema.TemplateKindFunction)
		}
	}
	var plugin schema.Plugin
	if err := decodeStrict(path, tree, &plugin); err != nil {
		return nil, err
	}
	if err := checkPlugin(path, &plugin); err != nil {
		return nil, err
	}
	return &plugin, nil
}

// yamlFiles lists the .yaml/.yml/.json files directly under dir, sorted.
func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir, err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".json":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
