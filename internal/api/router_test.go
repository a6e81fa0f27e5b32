package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/cache"
	"sitedeploy/internal/config"
	"sitedeploy/internal/containers"
	"sitedeploy/internal/gitworkspace"
	"sitedeploy/internal/ports"
	"sitedeploy/internal/proxy"
	"sitedeploy/internal/registry"
	"sitedeploy/internal/sessions"
)

func newTestEngine(t *testing.T) (http.Handler, *registry.Registry, config.Config) {
	t.Helper()
	dir := t.TempDir()

	db, err := registry.Connect(registry.Config{Driver: registry.DriverSQLite, DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	reg := registry.New(db)

	pool := ports.NewAllocator(ports.DefaultConfig(), nil)
	resolver := buildplan.NewResolver(nil)
	sup := containers.NewSupervisor(resolver, pool)
	git := gitworkspace.NewService()

	routeCache := cache.NewRouteCache(cache.RegistrySource{Registry: reg}, cache.DefaultConfig())
	opts := proxy.ConfigOptions{Domain: "dev.local", EditorDomain: "editor.dev.local", AdminAddr: "localhost:2019",
		StorageRoot: dir, ControlPlane: "localhost:8080", HealthPath: "/healthz"}
	orch := proxy.NewOrchestrator(reg, routeCache, opts, filepath.Join(dir, "proxy.conf"))

	sessionCfg := sessions.DefaultConfig()
	sessionCfg.Domain = "dev.local"
	mgr := sessions.NewManager(reg, git, sup, pool, orch, sessionCfg)

	cfg := config.Config{RootDir: dir, EditorDomain: "editor.dev.local"}

	engine := New(Deps{
		Registry:     reg,
		Git:          git,
		Resolver:     resolver,
		Supervisor:   sup,
		Orchestrator: orch,
		Sessions:     mgr,
		Cfg:          cfg,
	})
	return engine, reg, cfg
}

func doJSON(t *testing.T, engine http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateListAndGetSite(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "blog"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created registry.Site
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "blog", created.Name)
	assert.NotZero(t, created.ID)

	list := doJSON(t, engine, http.MethodGet, "/api/sites", nil)
	assert.Equal(t, http.StatusOK, list.Code)

	get := doJSON(t, engine, http.MethodGet, "/api/sites/blog", nil)
	assert.Equal(t, http.StatusOK, get.Code)
}

func TestCreateSiteNameConflict(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	rec := doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "dup"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "dup"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetMissingSiteReturns404(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodGet, "/api/sites/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchSiteVisibility(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "priv"})
	require.Equal(t, http.StatusCreated, rec.Code)

	visibility := registry.VisibilityPublic
	rec = doJSON(t, engine, http.MethodPatch, "/api/sites/priv", patchSiteRequest{Visibility: &visibility})
	require.Equal(t, http.StatusOK, rec.Code)

	site, err := reg.GetSite("priv")
	require.NoError(t, err)
	assert.Equal(t, registry.VisibilityPublic, site.Visibility)
}

func TestFileTreeReadWriteDelete(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "files"})
	require.Equal(t, http.StatusCreated, rec.Code)

	site, err := reg.GetSite("files")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(site.Path, "index.html"), []byte("hi"), 0o644))

	tree := doJSON(t, engine, http.MethodGet, "/api/sites/files/tree", nil)
	assert.Equal(t, http.StatusOK, tree.Code)

	read := doJSON(t, engine, http.MethodGet, "/api/sites/files/file/index.html", nil)
	assert.Equal(t, http.StatusOK, read.Code)
	assert.Equal(t, "hi", read.Body.String())

	req := httptest.NewRequest(http.MethodPut, "/api/sites/files/file/index.html", bytes.NewReader([]byte("bye")))
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	del := doJSON(t, engine, http.MethodDelete, "/api/sites/files/file/index.html", nil)
	assert.Equal(t, http.StatusNoContent, del.Code)
}

func TestFileAPIRejectsPathEscape(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "escape"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, engine, http.MethodGet, "/api/sites/escape/file/../../../etc/passwd", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEditSessionLifecycle(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	rec := doJSON(t, engine, http.MethodPost, "/api/sites", createSiteRequest{Name: "edit"})
	require.Equal(t, http.StatusCreated, rec.Code)

	start := doJSON(t, engine, http.MethodPost, "/api/sites/edit/edit/start", nil)
	require.Equal(t, http.StatusCreated, start.Code)

	var started struct {
		SessionID uint `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(start.Body.Bytes(), &started))
	require.NotZero(t, started.SessionID)

	status := doJSON(t, engine, http.MethodGet, "/api/sites/edit/edit/status", nil)
	assert.Equal(t, http.StatusOK, status.Code)

	cancelResp := doJSON(t, engine, http.MethodDelete,
		"/api/sites/edit/edit/"+strconv.FormatUint(uint64(started.SessionID), 10), nil)
	assert.Equal(t, http.StatusNoContent, cancelResp.Code)
}
