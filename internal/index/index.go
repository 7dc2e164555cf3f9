// Package index builds and queries repository indexes: a YAML document that
// lists every baked version of the plugins and recipes in a repository.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

var (
	// ErrVersionExists reports a tag already indexed with another digest.
	ErrVersionExists = errors.New("version already indexed")
	// ErrNotIndexed reports a lookup with no matching version.
	ErrNotIndexed = errors.New("version not indexed")
)

// Version is one baked package version.
type Version struct {
	Name        string    `yaml:"name" json:"name"`
	Tag         string    `yaml:"tag" json:"tag"`
	Digest      string    `yaml:"digest" json:"digest"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Keywords    []string  `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Deprecated  bool      `yaml:"deprecated,omitempty" json:"deprecated,omitempty"`
	Created     time.Time `yaml:"created" json:"created"`
	// URL is the package source relative to the repository root.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// Index maps package names to their versions, newest first.
type Index struct {
	Generated time.Time            `yaml:"generated" json:"generated"`
	Plugin    map[string][]Version `yaml:"plugin" json:"plugin"`
	Recipe    map[string][]Version `yaml:"recipe" json:"recipe"`
}

// New returns an empty index.
func New() *Index {
	return &Index{Plugin: map[string][]Version{}, Recipe: map[string][]Version{}}
}

func (ix *Index) section(kind schema.DependencyKind) (map[string][]Version, error) {
	switch kind {
	case schema.DependencyPlugin:
		if ix.Plugin == nil {
			ix.Plugin = map[string][]Version{}
		}
		return ix.Plugin, nil
	case schema.DependencyRecipe:
		if ix.Recipe == nil {
			ix.Recipe = map[string][]Version{}
		}
		return ix.Recipe, nil
	default:
		return nil, fmt.Errorf("unknown package kind %q", kind)
	}
}

// Add records v under kind. Re-adding an identical version is a no-op; a
// known tag with a different digest fails unless overwrite is set.
func (ix *Index) Add(kind schema.DependencyKind, v Version, overwrite bool) error {
	sec, err := ix.section(kind)
	if err != nil {
		return err
	}
	versions := sec[v.Name]
	kept := versions[:0:0]
	for _, existing := range versions {
		if existing.Tag != v.Tag {
			kept = append(kept, existing)
			continue
		}
		if existing.Digest == v.Digest {
			return nil
		}
		if !overwrite {
			return fmt.Errorf("%w: %s %s:%s", ErrVersionExists, kind, v.Name, v.Tag)
		}
	}
	kept = append(kept, v)
	sortVersions(kept)
	sec[v.Name] = kept
	return nil
}

func sortVersions(vs []Version) {
	tags := make([]string, len(vs))
	byTag := make(map[string]Version, len(vs))
	for i, v := range vs {
		tags[i] = v.Tag
		byTag[v.Tag] = v
	}
	store.SortNewestFirst(tags)
	for i, tag := range tags {
		vs[i] = byTag[tag]
	}
}

// ByTag returns the version of name tagged tag; "latest" or an empty tag
// returns the newest.
func (ix *Index) ByTag(kind schema.DependencyKind, name, tag string) (Version, error) {
	sec, err := ix.section(kind)
	if err != nil {
		return Version{}, err
	}
	versions := sec[name]
	if len(versions) == 0 {
		return Version{}, fmt.Errorf("%w: %s %s", ErrNotIndexed, kind, name)
	}
	if tag == "" || tag == store.LatestTag {
		return versions[0], nil
	}
	for _, v := range versions {
		if v.Tag == tag {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("%w: %s %s:%s", ErrNotIndexed, kind, name, tag)
}

// ByDigest returns the version of name with the given digest.
func (ix *Index) ByDigest(kind schema.DependencyKind, name, digest string) (Version, error) {
	sec, err := ix.section(kind)
	if err != nil {
		return Version{}, err
	}
	for _, v := range sec[name] {
		if v.Digest == digest {
			return v, nil
		}
	}
	return Version{}, fmt.Errorf("%w: %s %s@%s", ErrNotIndexed, kind, name, digest)
}

// Merge adds every version of other. With skip set, conflicting tags keep
// the version already indexed instead of failing.
func (ix *Index) Merge(other *Index, overwrite, skip bool) error {
	for _, kind := range []schema.DependencyKind{schema.DependencyPlugin, schema.DependencyRecipe} {
		sec, err := other.section(kind)
		if err != nil {
			return err
		}
		for _, versions := range sec {
			for _, v := range versions {
				err := ix.Add(kind, v, overwrite)
				if errors.Is(err, ErrVersionExists) && skip {
					continue
				}
				if err != nil {
					return err
				}
			}
		}
	}
	if other.Generated.After(ix.Generated) {
		ix.Generated = other.Generated
	}
	return nil
}

// Load reads an index file.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read index %q: %w", path, err)
	}
	ix := New()
	if err := yaml.Unmarshal(data, ix); err != nil {
		return nil, fmt.Errorf("parse index %q: %w", path, err)
	}
	for _, sec := range []map[string][]Version{ix.Plugin, ix.Recipe} {
		for _, versions := range sec {
			sortVersions(versions)
		}
	}
	return ix, nil
}

// Write saves the index as YAML, replacing path atomically.
func (ix *Index) Write(path string) error {
	data, err := yaml.Marshal(ix)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}
