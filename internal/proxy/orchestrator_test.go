package proxy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitedeploy/internal/registry"
)

type stubCache struct {
	entries map[string]int
}

func newStubCache() *stubCache { return &stubCache{entries: map[string]int{}} }

func (s *stubCache) Lookup(subdomain string) (int, bool) {
	port, ok := s.entries[subdomain]
	return port, ok
}
func (s *stubCache) Set(subdomain string, port int) { s.entries[subdomain] = port }
func (s *stubCache) Invalidate(subdomain string)    { delete(s.entries, subdomain) }
func (s *stubCache) InvalidateAll()                 { s.entries = map[string]int{} }

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubCache) {
	t.Helper()
	dir := t.TempDir()
	db, err := registry.Connect(registry.Config{Driver: registry.DriverSQLite, DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	reg := registry.New(db)
	cache := newStubCache()
	opts := ConfigOptions{Domain: "dev.local", EditorDomain: "editor.dev.local", AdminAddr: "localhost:2019",
		StorageRoot: dir, ControlPlane: "localhost:8080", HealthPath: "/healthz"}
	return NewOrchestrator(reg, cache, opts, filepath.Join(dir, "proxy.conf")), cache
}

func TestAddRouteUpdatesCacheAndReloadsConfig(t *testing.T) {
	orch, cache := newTestOrchestrator(t)

	_, err := orch.AddRoute(nil, "blog", "blog.dev.local", 3001)
	require.NoError(t, err)

	port, ok := cache.Lookup("blog.dev.local")
	require.True(t, ok)
	assert.Equal(t, 3001, port)

	require.NoError(t, orch.Reload(context.Background()))
	contents, err := os.ReadFile(orch.configPath)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "blog.dev.local")
}

func TestRemoveRouteReportsWhetherAnythingWasRemoved(t *testing.T) {
	orch, _ := newTestOrchestrator(t)

	sessionID := uint(42)
	_, err := orch.AddRoute(&sessionID, "blog", "blog-edit-1.dev.local", 3100)
	require.NoError(t, err)

	removed, err := orch.RemoveRoute(sessionID)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = orch.RemoveRoute(sessionID)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestCleanupExpiredPurgesOldRoutesAndInvalidatesCache(t *testing.T) {
	orch, cache := newTestOrchestrator(t)

	_, err := orch.AddRoute(nil, "blog", "blog.dev.local", 3001)
	require.NoError(t, err)

	n, err := orch.CleanupExpired(-time.Hour) // everything is "older" than a negative cutoff
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := cache.Lookup("blog.dev.local")
	assert.False(t, ok)
}

func TestHealthReflectsRegistryReachability(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	assert.True(t, orch.Health())
}
