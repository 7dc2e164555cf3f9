package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hclog "github.com/mattjoyce/honeycomb/internal/log"
	"github.com/mattjoyce/honeycomb/internal/schema"
	"github.com/mattjoyce/honeycomb/internal/store"
)

const skyTools = `
metadata:
  name: sky-tools
  tag: 0.9.0
config:
  local: {}
functions:
  - name: generate-sky
    command: gensky 6 21 12 -c > sky.rad
    outputs:
      - {name: sky, type: file, path: sky.rad}
`

const skyOnly = `
metadata:
  name: sky-only
  tag: 1.0.0
dependencies:
  - {kind: plugin, name: sky-tools, tag: latest}
flow:
  - name: main
    tasks:
      - name: sky
        template: sky-tools/generate-sky
`

func newTestServer(t *testing.T, token string) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"), hclog.Discard())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return New(Config{Token: token, MaxBodyBytes: 64 << 10}, st, hclog.Discard()), st
}

func do(t *testing.T, s *Server, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
	return v
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, "")
	rr := do(t, s, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[HealthzResponse](t, rr)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Packages)
}

func TestBakeStoreAndLookup(t *testing.T) {
	s, _ := newTestServer(t, "")

	rr := do(t, s, http.MethodPost, "/bake?store=true", skyTools, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	plugin := decode[BakeResponse](t, rr)
	assert.True(t, plugin.Stored)
	assert.Equal(t, schema.DependencyPlugin, plugin.Kind)
	assert.Len(t, plugin.Digest, 64)
	assert.NotEmpty(t, plugin.BakeID)

	rr = do(t, s, http.MethodPost, "/bake", skyOnly, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	recipe := decode[BakeResponse](t, rr)
	assert.False(t, recipe.Stored)
	require.NotNil(t, recipe.Recipe)
	entry, ok := recipe.Recipe.Entry()
	require.True(t, ok)
	task, ok := entry.Task("sky")
	require.True(t, ok)
	assert.Equal(t, plugin.Digest+"/generate-sky", task.Template)

	rr = do(t, s, http.MethodGet, "/packages/plugin/sky-tools/latest", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, plugin.Digest, decode[PackageResponse](t, rr).Digest)

	rr = do(t, s, http.MethodGet, "/digests/"+plugin.Digest, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "sky-tools", decode[PackageResponse](t, rr).Plugin.Metadata.Name)

	rr = do(t, s, http.MethodGet, "/packages?kind=plugin", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[PackageListResponse](t, rr)
	require.Len(t, list.Packages, 1)
	assert.Equal(t, "0.9.0", list.Packages[0].Tag)

	rr = do(t, s, http.MethodGet, "/packages?kind=recipe", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decode[PackageListResponse](t, rr).Packages, "recipe was baked without store=true")

	rr = do(t, s, http.MethodGet, "/bakes", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	bakes := decode[BakeListResponse](t, rr)
	require.Len(t, bakes.Bakes, 2)
	assert.Equal(t, "sky-only", bakes.Bakes[0].Name)
	assert.Equal(t, store.BakeSucceeded, bakes.Bakes[0].Status)
}

func TestBakeFailures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		stage  string
	}{
		{
			name:   "malformed document",
			body:   "metadata: [",
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown field",
			body:   "metadata: {name: x, tag: 1.0.0}\nflow: [{name: main, tasks: []}]\nowner: me\n",
			status: http.StatusBadRequest,
		},
		{
			name:   "missing dependency",
			body:   skyOnly,
			status: http.StatusNotFound,
			stage:  "fetch",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, "")
			rr := do(t, s, http.MethodPost, "/bake", tt.body, nil)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
			resp := decode[ErrorResponse](t, rr)
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.stage, resp.Stage)
		})
	}
}

func TestBakeFailureIsLogged(t *testing.T) {
	s, st := newTestServer(t, "")
	rr := do(t, s, http.MethodPost, "/bake", skyOnly, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	bakes, err := st.Bakes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, bakes, 1)
	assert.Equal(t, store.BakeFailed, bakes[0].Status)
	assert.Equal(t, "fetch", bakes[0].Stage)
	assert.Len(t, bakes[0].SourceChecksum, 64)
}

func TestBakeBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, "")
	body := skyTools + "# " + strings.Repeat("x", 70<<10) + "\n"
	rr := do(t, s, http.MethodPost, "/bake", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestLookupErrors(t *testing.T) {
	s, _ := newTestServer(t, "")
	tests := []struct {
		target string
		status int
	}{
		{"/packages/plugin/sky-tools/latest", http.StatusNotFound},
		{"/packages/operator/sky-tools/1.0.0", http.StatusBadRequest},
		{"/packages?kind=operator", http.StatusBadRequest},
		{"/digests/not-a-digest", http.StatusBadRequest},
		{"/digests/" + strings.Repeat("a", 64), http.StatusNotFound},
		{"/bakes?limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rr := do(t, s, http.MethodGet, tt.target, "", nil)
			assert.Equal(t, tt.status, rr.Code)
		})
	}
}

func TestBakeRequiresToken(t *testing.T) {
	s, _ := newTestServer(t, "secret-token")

	tests := []struct {
		name   string
		header map[string]string
		status int
	}{
		{"missing header", nil, http.StatusUnauthorized},
		{"wrong scheme", map[string]string{"Authorization": "Basic secret-token"}, http.StatusUnauthorized},
		{"wrong token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"valid token", map[string]string{"Authorization": "Bearer secret-token"}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, s, http.MethodPost, "/bake", skyTools, tt.header)
			assert.Equal(t, tt.status, rr.Code, rr.Body.String())
		})
	}

	// reads stay open
	rr := do(t, s, http.MethodGet, "/packages", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
