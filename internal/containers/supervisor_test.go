package containers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/ports"
)

func TestContainerNaming(t *testing.T) {
	assert.Equal(t, "blog-production", ContainerName("blog", RoleProduction))
	assert.Equal(t, "edit-170-blog-preview", PreviewContainerName("edit-170", "blog"))
}

func TestSupervisorCreatesStaticSiteWithBasicStrategy(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))

	sup := NewSupervisor(buildplan.NewResolver(nil), ports.NewAllocator(ports.DefaultConfig(), nil))
	site := Site{Name: "blog", Path: dir}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := sup.Create(ctx, site, RoleProduction)
	require.NoError(t, err)
	assert.Equal(t, StrategyBasic, c.Strategy)
	assert.True(t, sup.WaitHealthy(ctx, c.Name, c.Port, 2*time.Second))
	assert.True(t, sup.IsRunning(ctx, c.Name))

	require.NoError(t, sup.Stop(ctx, c.Name))
	assert.False(t, sup.IsRunning(ctx, c.Name))
}

func TestSupervisorResolvesDeclaredStartCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts":{"start":"node server.js"}}`), 0o644))

	sup := NewSupervisor(buildplan.NewResolver(nil), ports.NewAllocator(ports.DefaultConfig(), nil))
	site := Site{Name: "app", Path: dir}

	plan, err := sup.resolver.Resolve(site.Path)
	require.NoError(t, err)
	assert.Equal(t, buildplan.TypeDynamic, plan.SiteType)
	assert.Equal(t, "npm start", plan.StartCmd)
}

func TestSplitCommandHandlesQuotedArguments(t *testing.T) {
	assert.Equal(t, []string{"npm", "run", "build"}, splitCommand("npm run build"))
	assert.Equal(t, []string{"sh", "-c", "echo hi"}, splitCommand(`sh -c "echo hi"`))
}
