package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/honeycomb/internal/bake"
	"github.com/mattjoyce/honeycomb/internal/digest"
	"github.com/mattjoyce/honeycomb/internal/parser"
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context(), "")
	if err != nil {
		s.logger.Error("failed to list packages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "package store unavailable")
		return
	}
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Packages:      len(entries),
	})
}

func parseKind(raw string) (schema.DependencyKind, bool) {
	kind := schema.DependencyKind(raw)
	return kind, kind.Valid()
}

// handleListPackages handles GET /packages, optionally filtered by ?kind=.
func (s *Server) handleListPackages(w http.ResponseWriter, r *http.Request) {
	var kind schema.DependencyKind
	if raw := r.URL.Query().Get("kind"); raw != "" {
		k, ok := parseKind(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "kind must be plugin or recipe")
			return
		}
		kind = k
	}
	entries, err := s.store.List(r.Context(), kind)
	if err != nil {
		s.logger.Error("failed to list packages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list packages")
		return
	}
	if entries == nil {
		entries = []store.Entry{}
	}
	respondJSON(w, http.StatusOK, PackageListResponse{Packages: entries})
}

// handleGetPackage handles GET /packages/{kind}/{name}/{tag}; tag may be "latest".
func (s *Server) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseKind(chi.URLParam(r, "kind"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "kind must be plugin or recipe")
		return
	}
	dep := schema.Dependency{Kind: kind, Name: chi.URLParam(r, "name"), Tag: chi.URLParam(r, "tag")}
	pkg, err := s.store.Fetch(r.Context(), dep)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, packageResponse(pkg))
}

// handleGetDigest handles GET /digests/{digest}.
func (s *Server) handleGetDigest(w http.ResponseWriter, r *http.Request) {
	d := chi.URLParam(r, "digest")
	if !digest.Valid(d) {
		s.writeError(w, http.StatusBadRequest, "digest must be 64 lowercase hex characters")
		return
	}
	pkg, err := s.store.ByDigest(r.Context(), d)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, packageResponse(pkg))
}

// handleListBakes handles GET /bakes?limit=N.
func (s *Server) handleListBakes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	bakes, err := s.store.Bakes(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list bakes", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list bakes")
		return
	}
	if bakes == nil {
		bakes = []store.BakeRecord{}
	}
	respondJSON(w, http.StatusOK, BakeListResponse{Bakes: bakes})
}

// handleBake handles POST /bake. The body is a recipe or plugin document in
// YAML or JSON. Recipe dependencies are fetched from the store. With
// ?store=true the baked package is also published.
func (s *Server) handleBake(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	publish, _ := strconv.ParseBool(r.URL.Query().Get("store"))

	doc, err := parser.Parse(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	var pkg *bake.Package
	src := sourcePackage(doc)
	if doc.Plugin != nil {
		var p *schema.Plugin
		if p, err = bake.BakePlugin(doc.Plugin); err == nil {
			pkg = bake.PluginPackage(p)
		}
	} else {
		baker := &bake.Baker{Fetcher: s.store, MaxDepth: s.config.MaxDepth}
		var rcp *schema.Recipe
		if rcp, err = baker.BakeTree(ctx, doc.Recipe); err == nil {
			pkg = bake.RecipePackage(rcp)
		}
	}
	if err == nil && publish {
		err = s.store.Put(ctx, pkg)
	}

	meta := src.Metadata()
	rec := store.BakeRecord{Kind: src.Kind, Name: meta.Name, Tag: meta.Tag, Duration: time.Since(start)}
	rec.SourceChecksum = digest.Bytes(body)
	if pkg != nil {
		rec.Digest = pkg.Digest
	}
	bakeID, recErr := s.store.RecordBake(ctx, rec, err)
	if recErr != nil {
		s.logger.Error("failed to record bake", "package", meta.Name, "error", recErr)
	}

	if err != nil {
		s.writeBakeError(w, err)
		return
	}
	s.logger.Info("package baked", "kind", pkg.Kind, "package", meta.Name, "tag", meta.Tag, "digest", pkg.Digest, "stored", publish)
	respondJSON(w, http.StatusOK, BakeResponse{BakeID: bakeID, Stored: publish, PackageResponse: packageResponse(pkg)})
}

func sourcePackage(doc parser.Document) *bake.Package {
	if doc.Plugin != nil {
		return bake.PluginPackage(doc.Plugin)
	}
	return bake.RecipePackage(doc.Recipe)
}

func packageResponse(pkg *bake.Package) PackageResponse {
	return PackageResponse{Kind: pkg.Kind, Digest: pkg.Digest, Plugin: pkg.Plugin, Recipe: pkg.Recipe}
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("package lookup failed", "error", err)
	s.writeError(w, http.StatusInternalServerError, "package lookup failed")
}

// writeBakeError maps a bake failure to 422 for document problems, 404 for
// missing dependencies and 500 otherwise.
func (s *Server) writeBakeError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	var bakeErr *bake.BakeError
	if errors.As(err, &bakeErr) {
		resp.Stage = string(bakeErr.Stage)
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, schema.ErrDependencyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidDocument),
		errors.Is(err, schema.ErrReference),
		errors.Is(err, schema.ErrTaskName),
		errors.Is(err, schema.ErrUnknownTask),
		errors.Is(err, schema.ErrGraphCycle),
		errors.Is(err, schema.ErrTemplateNotFound),
		errors.Is(err, schema.ErrTemplateMismatch),
		errors.Is(err, schema.ErrDigestMismatch),
		errors.Is(err, schema.ErrDepthLimit):
		status = http.StatusUnprocessableEntity
	default:
		s.logger.Error("bake failed", "error", err)
	}
	respondJSON(w, status, resp)
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
