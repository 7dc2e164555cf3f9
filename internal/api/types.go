package api

import (
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	// Stage names the bake stage a POST /bake failure came from.
	Stage string `json:"stage,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Packages      int    `json:"packages"`
}

// PackageListResponse is returned by GET /packages.
type PackageListResponse struct {
	Packages []store.Entry `json:"packages"`
}

// PackageResponse carries one stored document. Exactly one of Plugin and
// Recipe is set.
type PackageResponse struct {
	Kind   schema.DependencyKind `json:"kind"`
	Digest string                `json:"digest"`
	Plugin *schema.Plugin        `json:"plugin,omitempty"`
	Recipe *schema.Recipe        `json:"recipe,omitempty"`
}

// BakeResponse is returned by POST /bake.
type BakeResponse struct {
	BakeID string `json:"bake_id"`
	Stored bool   `json:"stored"`
	PackageResponse
}

// BakeListResponse is returned by GET /bakes.
type BakeListResponse struct {
	Bakes []store.BakeRecord `json:"bakes"`
}
