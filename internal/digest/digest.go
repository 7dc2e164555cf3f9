// Package digest computes content digests of templates and packages.
//
// A digest is the hex encoded BLAKE3-256 sum of a canonical JSON encoding:
// object keys sorted, nulls and empty lists omitted, and the documentation
// fields "annotations" and "description" removed. Empty objects are kept:
// `local: {}` selects host execution and must not hash like no config. List
// order is kept.
package digest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/honeycomb/internal/schema"
)

// Size is the length of a digest in hex characters.
const Size = 64

var ignoredKeys = map[string]struct{}{
	"annotations": {},
	"description": {},
}

// literalKeys hold user payloads whose content is hashed as written.
var literalKeys = map[string]struct{}{
	"default": {},
	"value":   {},
	"spec":    {},
}

// Canonical returns the canonical encoding of v.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal digest input: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("decode digest input: %w", err)
	}
	tree, _ = normalize(tree)
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical form: %w", err)
	}
	return out, nil
}

// normalize drops ignored keys, nulls and empty lists. The second result is
// false when the value itself should be dropped.
func normalize(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, value := range t {
			if _, skip := ignoredKeys[key]; skip {
				continue
			}
			if _, literal := literalKeys[key]; literal {
				if value != nil {
					out[key] = value
				}
				continue
			}
			if n, keep := normalize(value); keep {
				out[key] = n
			}
		}
		return out, true
	case []any:
		if len(t) == 0 {
			return nil, false
		}
		out := make([]any, 0, len(t))
		for _, value := range t {
			n, keep := normalize(value)
			if !keep {
				// keep positions stable so list order stays meaningful
				n = map[string]any{}
			}
			out = append(out, n)
		}
		return out, true
	default:
		return v, true
	}
}

// Bytes hashes raw bytes.
func Bytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Digest hashes the canonical encoding of v.
func Digest(v any) (string, error) {
	body, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return Bytes(body), nil
}

// Template digests a single Function or DAG template.
func Template(t schema.Template) (string, error) {
	return Digest(schema.TemplateDoc{Template: t})
}

type recipeShape struct {
	APIVersion string               `json:"api_version,omitempty"`
	Metadata   schema.Metadata      `json:"metadata"`
	Flow       []schema.DAG         `json:"flow"`
	Templates  []schema.TemplateDoc `json:"templates,omitempty"`
}

// Recipe digests a recipe's metadata, flow and templates. The dependency
// list and any existing digest are left out.
func Recipe(r *schema.Recipe) (string, error) {
	return Digest(recipeShape{
		APIVersion: r.APIVersion,
		Metadata:   r.Metadata,
		Flow:       r.Flow,
		Templates:  r.Templates,
	})
}

type pluginShape struct {
	APIVersion string              `json:"api_version,omitempty"`
	Metadata   schema.Metadata     `json:"metadata"`
	Config     schema.PluginConfig `json:"config"`
	Functions  []schema.Function   `json:"functions"`
}

// Plugin digests a plugin without its digest field.
func Plugin(p *schema.Plugin) (string, error) {
	return Digest(pluginShape{
		APIVersion: p.APIVersion,
		Metadata:   p.Metadata,
		Config:     p.Config,
		Functions:  p.Functions,
	})
}

// Valid reports whether s looks like a digest.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
