// Package store keeps baked packages in SQLite and serves them back to the
// baking pipeline by name, tag and digest.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/schema"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound reports a package missing from the store.
var ErrNotFound = errors.New("package not found")

// Store is a SQLite backed package repository.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ bake.Fetcher = (*Store)(nil)

// Open opens the store at path, creating the database if needed.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	db, err := openSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger.With("component", "store"), now: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Entry summarises a stored package.
type Entry struct {
	Kind        schema.DependencyKind `json:"kind" yaml:"kind"`
	Name        string                `json:"name" yaml:"name"`
	Tag         string                `json:"tag" yaml:"tag"`
	Digest      string                `json:"digest" yaml:"digest"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords    []string              `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	CreatedAt   time.Time             `json:"created_at" yaml:"created"`
}

// Put stores a baked package after checking its digest. A package already
// stored under the same kind, name and tag with another digest is replaced.
func (s *Store) Put(ctx context.Context, pkg *bake.Package) error {
	if !pkg.IsBaked() {
		return fmt.Errorf("put %s: package is not baked", pkg)
	}
	if err := pkg.Verify(); err != nil {
		return fmt.Errorf("put %s: %w", pkg, err)
	}

	var doc any = pkg.Plugin
	if pkg.Recipe != nil {
		doc = pkg.Recipe
	}
	document, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("put %s: encode document: %w", pkg, err)
	}
	meta := pkg.Metadata()
	keywords, err := json.Marshal(append([]string{}, meta.Keywords...))
	if err != nil {
		return fmt.Errorf("put %s: encode keywords: %w", pkg, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM packages WHERE kind = ? AND name = ? AND tag = ? AND digest <> ?;`,
		string(pkg.Kind), meta.Name, meta.Tag, pkg.Digest,
	); err != nil {
		return fmt.Errorf("replace %s: %w", pkg, err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO packages(digest, kind, name, tag, description, keywords, document, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(digest) DO NOTHING;`,
		pkg.Digest, string(pkg.Kind), meta.Name, meta.Tag, meta.Description, string(keywords), string(document),
		s.now().UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert %s: %w", pkg, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("package stored", "kind", pkg.Kind, "name", meta.Name, "tag", meta.Tag, "digest", pkg.Digest)
	return nil
}

// Fetch implements bake.Fetcher. A dependency with a hash is looked up by
// digest; otherwise by name and tag, where an empty tag or "latest" selects
// the highest version.
func (s *Store) Fetch(ctx context.Context, dep schema.Dependency) (*bake.Package, error) {
	if dep.Hash != "" {
		pkg, err := s.ByDigest(ctx, dep.Hash)
		if err != nil {
			return nil, err
		}
		if pkg.Kind != dep.Kind || pkg.Metadata().Name != dep.Name {
			return nil, fmt.Errorf("%w: digest %s is %s, not %s %s", ErrNotFound, dep.Hash, pkg, dep.Kind, dep.Name)
		}
		return pkg, nil
	}

	tag := dep.Tag
	if tag == "" || tag == LatestTag {
		latest, err := s.latestTag(ctx, dep.Kind, dep.Name)
		if err != nil {
			return nil, err
		}
		tag = latest
	}
	return s.ByTag(ctx, dep.Kind, dep.Name, tag)
}

// ByTag returns the package stored under kind, name and tag.
func (s *Store) ByTag(ctx context.Context, kind schema.DependencyKind, name, tag string) (*bake.Package, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, digest, document FROM packages WHERE kind = ? AND name = ? AND tag = ?;`,
		string(kind), name, tag,
	)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s:%s", ErrNotFound, kind, name, tag)
	}
	return pkg, err
}

// ByDigest returns the package with the given digest.
func (s *Store) ByDigest(ctx context.Context, digest string) (*bake.Package, error) {
	row := s.db.QueryRowContext(ctx, `SELECT kind, digest, document FROM packages WHERE digest = ?;`, digest)
	pkg, err := scanPackage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: digest %s", ErrNotFound, digest)
	}
	return pkg, err
}

func (s *Store) latestTag(ctx context.Context, kind schema.DependencyKind, name string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM packages WHERE kind = ? AND name = ?;`, string(kind), name)
	if err != nil {
		return "", fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return "", fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("list tags: %w", err)
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("%w: %s %s", ErrNotFound, kind, name)
	}
	SortNewestFirst(tags)
	return tags[0], nil
}

// List returns every stored package of kind, or of both kinds when kind is
// empty, ordered by name and then newest version first.
func (s *Store) List(ctx context.Context, kind schema.DependencyKind) ([]Entry, error) {
	query := `SELECT kind, name, tag, digest, description, keywords, created_at FROM packages`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY kind, name;`, args...)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e        Entry
			kindStr  string
			desc     sql.NullString
			keywords string
			created  string
		)
		if err := rows.Scan(&kindStr, &e.Name, &e.Tag, &e.Digest, &desc, &keywords, &created); err != nil {
			return nil, fmt.Errorf("scan package: %w", err)
		}
		e.Kind = schema.DependencyKind(kindStr)
		e.Description = desc.String
		if err := json.Unmarshal([]byte(keywords), &e.Keywords); err != nil {
			return nil, fmt.Errorf("decode keywords of %s: %w", e.Name, err)
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at of %s: %w", e.Name, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	sortEntries(out)
	return out, nil
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return CompareTags(a.Tag, b.Tag) > 0
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPackage(row rowScanner) (*bake.Package, error) {
	var kind, digest, document string
	if err := row.Scan(&kind, &digest, &document); err != nil {
		return nil, err
	}
	switch schema.DependencyKind(kind) {
	case schema.DependencyPlugin:
		var p schema.Plugin
		if err := json.Unmarshal([]byte(document), &p); err != nil {
			return nil, fmt.Errorf("decode plugin %s: %w", digest, err)
		}
		return bake.PluginPackage(&p), nil
	case schema.DependencyRecipe:
		var r schema.Recipe
		if err := json.Unmarshal([]byte(document), &r); err != nil {
			return nil, fmt.Errorf("decode recipe %s: %w", digest, err)
		}
		return bake.RecipePackage(&r), nil
	default:
		return nil, fmt.Errorf("package %s has unknown kind %q", digest, kind)
	}
}

// BakeStatus is the outcome recorded in the bake log.
type BakeStatus string

const (
	BakeSucceeded BakeStatus = "succeeded"
	BakeFailed    BakeStatus = "failed"
)

// BakeRecord is one row of the bake log.
type BakeRecord struct {
	ID             string                `json:"id"`
	Kind           schema.DependencyKind `json:"kind"`
	Name           string                `json:"name"`
	Tag            string                `json:"tag"`
	Digest         string                `json:"digest,omitempty"`
	Status         BakeStatus            `json:"status"`
	Stage          string                `json:"stage,omitempty"`
	Error          string                `json:"error,omitempty"`
	SourceChecksum string                `json:"source_checksum,omitempty"`
	Duration       time.Duration         `json:"duration_ns"`
	CreatedAt      time.Time             `json:"created_at"`
}

// RecordBake appends a bake attempt to the log and returns its id. A
// *bake.BakeError cause fills in the failing stage.
func (s *Store) RecordBake(ctx context.Context, rec BakeRecord, cause error) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	rec.Status = BakeSucceeded
	if cause != nil {
		rec.Status = BakeFailed
		rec.Error = cause.Error()
		var bakeErr *bake.BakeError
		if errors.As(cause, &bakeErr) {
			rec.Stage = string(bakeErr.Stage)
		}
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO bake_log(id, kind, name, tag, digest, status, stage, last_error, source_checksum, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, string(rec.Kind), rec.Name, rec.Tag, nullable(rec.Digest), string(rec.Status),
		nullable(rec.Stage), nullable(rec.Error), nullable(rec.SourceChecksum),
		rec.Duration.Milliseconds(), rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("record bake: %w", err)
	}
	return rec.ID, nil
}

// Bakes returns the most recent bake log rows, newest first.
func (s *Store) Bakes(ctx context.Context, limit int) ([]BakeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, name, tag, digest, status, stage, last_error, source_checksum, duration_ms, created_at
FROM bake_log ORDER BY created_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list bakes: %w", err)
	}
	defer rows.Close()

	var out []BakeRecord
	for rows.Next() {
		var (
			rec                              BakeRecord
			kind, status, created            string
			digest, stage, lastErr, checksum sql.NullString
			durationMS                       int64
		)
		if err := rows.Scan(&rec.ID, &kind, &rec.Name, &rec.Tag, &digest, &status, &stage, &lastErr, &checksum, &durationMS, &created); err != nil {
			return nil, fmt.Errorf("scan bake: %w", err)
		}
		rec.Kind = schema.DependencyKind(kind)
		rec.Status = BakeStatus(status)
		rec.Digest, rec.Stage, rec.Error, rec.SourceChecksum = digest.String, stage.String, lastErr.String, checksum.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at of bake %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
