package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/cache"
	"sitedeploy/internal/containers"
	"sitedeploy/internal/gitworkspace"
	"sitedeploy/internal/ports"
	"sitedeploy/internal/proxy"
	"sitedeploy/internal/registry"
)

func newTestManager(t *testing.T) (*Manager, *registry.Registry, *registry.Site) {
	t.Helper()
	dir := t.TempDir()

	db, err := registry.Connect(registry.Config{Driver: registry.DriverSQLite, DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	reg := registry.New(db)

	sitePath := filepath.Join(dir, "site")
	require.NoError(t, os.MkdirAll(sitePath, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sitePath, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	site := &registry.Site{Name: "blog", Path: sitePath, OwnerUserID: 1, Visibility: registry.VisibilityPublic}
	require.NoError(t, reg.CreateSite(site))

	pool := ports.NewAllocator(ports.DefaultConfig(), nil)
	sup := containers.NewSupervisor(buildplan.NewResolver(nil), pool)
	git := gitworkspace.NewService()

	routeCache := cache.NewRouteCache(cache.RegistrySource{Registry: reg}, cache.DefaultConfig())
	configPath := filepath.Join(dir, "proxy.conf")
	opts := proxy.ConfigOptions{Domain: "dev.local", EditorDomain: "editor.dev.local", AdminAddr: "localhost:2019",
		StorageRoot: dir, ControlPlane: "localhost:8080", HealthPath: "/healthz"}
	orch := proxy.NewOrchestrator(reg, routeCache, opts, configPath)

	cfg := DefaultConfig()
	cfg.Domain = "dev.local"
	cfg.SessionCap = 2
	cfg.SessionTTL = time.Hour

	return NewManager(reg, git, sup, pool, orch, cfg), reg, site
}

func TestStartCreatesBranchContainerAndRoute(t *testing.T) {
	mgr, reg, site := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := mgr.Start(ctx, 1, site.Name)
	require.NoError(t, err)
	assert.Equal(t, registry.SessionActive, session.Status)
	assert.NotEmpty(t, session.ContainerName)
	assert.NotZero(t, session.PreviewPort)
	assert.Contains(t, session.PreviewURL, "dev.local")

	route, err := reg.GetRouteBySubdomain(session.BranchName + "-blog.dev.local")
	require.NoError(t, err)
	assert.Equal(t, session.PreviewPort, route.TargetPort)

	require.NoError(t, mgr.Cleanup(ctx, session.ID))
	_, err = reg.GetSession(session.ID)
	assert.Error(t, err)
}

func TestCommitIsNoOpWhenNothingChanged(t *testing.T) {
	mgr, _, site := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := mgr.Start(ctx, 2, site.Name)
	require.NoError(t, err)
	defer mgr.Cleanup(ctx, session.ID)

	hash, err := mgr.Commit(ctx, session.ID, "no changes", "tester")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestSessionCapForceCleansOldestSession(t *testing.T) {
	mgr, reg, site := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	first, err := mgr.Start(ctx, 3, site.Name)
	require.NoError(t, err)
	second, err := mgr.Start(ctx, 3, site.Name)
	require.NoError(t, err)
	defer mgr.Cleanup(ctx, second.ID)

	third, err := mgr.Start(ctx, 3, site.Name)
	require.NoError(t, err)
	defer mgr.Cleanup(ctx, third.ID)

	_, err = reg.GetSession(first.ID)
	assert.Error(t, err, "oldest session should have been force-cleaned once the cap was reached")
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	mgr, _, site := newTestManager(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session, err := mgr.Start(ctx, 4, site.Name)
	require.NoError(t, err)

	ch := mgr.Subscribe(session.ID)
	defer mgr.Unsubscribe(session.ID, ch)

	require.NoError(t, mgr.Cancel(ctx, session.ID))

	select {
	case <-ch:
	case <-time.After(time.Second):
	}
}
