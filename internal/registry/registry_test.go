package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	db, err := Connect(Config{Driver: DriverSQLite, DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	return New(db)
}

func TestCreateAndGetSite(t *testing.T) {
	r := newTestRegistry(t)

	site := &Site{Name: "blog", Path: "/sites/blog", OwnerUserID: 1, Visibility: VisibilityPublic}
	require.NoError(t, r.CreateSite(site))

	got, err := r.GetSite("blog")
	require.NoError(t, err)
	assert.Equal(t, "/sites/blog", got.Path)
}

func TestCreateSiteDuplicateNameConflicts(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.CreateSite(&Site{Name: "blog", Path: "/a", OwnerUserID: 1}))
	assert.Error(t, r.CreateSite(&Site{Name: "blog", Path: "/b", OwnerUserID: 1}))
}

func TestSessionLifecycleAndExpiry(t *testing.T) {
	r := newTestRegistry(t)

	session := &EditingSession{
		UserID: 1, SiteName: "blog", BranchName: "edit-1",
		Status: SessionActive, Mode: ModeEdit,
		CreatedAt: time.Now(), LastActivity: time.Now(),
		ExpiresAt: time.Now().Add(-time.Minute), AutoCleanup: true,
	}
	require.NoError(t, r.CreateSession(session))

	active, err := r.GetActiveSession(1, "blog")
	require.NoError(t, err)
	assert.Equal(t, "edit-1", active.BranchName)

	expired, err := r.ExpiredSessions(time.Now())
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, session.BranchName, expired[0].BranchName)
}

func TestRouteReplaceOnSameSubdomain(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.AddRoute(&DynamicRoute{Subdomain: "blog.example.com", TargetPort: 3001, SiteName: "blog"}))
	require.NoError(t, r.AddRoute(&DynamicRoute{Subdomain: "blog.example.com", TargetPort: 3002, SiteName: "blog"}))

	route, err := r.GetRouteBySubdomain("blog.example.com")
	require.NoError(t, err)
	assert.Equal(t, 3002, route.TargetPort)

	routes, err := r.ListRoutes()
	require.NoError(t, err)
	assert.Len(t, routes, 1)
}

func TestAdminPasswordSetAndVerify(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.SetAdminPassword("correct-horse"))

	ok, err := r.VerifyAdminPassword("correct-horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.VerifyAdminPassword("wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPortAllocationPersistence(t *testing.T) {
	r := newTestRegistry(t)

	require.NoError(t, r.SavePortAllocation("blog-production", 3001, "production"))
	loaded, err := r.LoadPortAllocations()
	require.NoError(t, err)
	assert.Equal(t, 3001, loaded["blog-production"])

	require.NoError(t, r.DeletePortAllocation("blog-production"))
	loaded, err = r.LoadPortAllocations()
	require.NoError(t, err)
	assert.NotContains(t, loaded, "blog-production")
}
