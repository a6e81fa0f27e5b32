package buildplan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSite(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, contents := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	}
	return dir
}

func TestResolveDockerfileWins(t *testing.T) {
	dir := writeSite(t, map[string]string{
		"Dockerfile":   "FROM scratch",
		"package.json": `{"scripts":{"start":"node index.js"}}`,
	})

	resolver := NewResolver(nil)
	plan, err := resolver.Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeDynamic, plan.SiteType)
	assert.Equal(t, StrategyDocker, plan.Strategy)
}

func TestResolveNextJSMarker(t *testing.T) {
	dir := writeSite(t, map[string]string{
		"next.config.js": "module.exports = {}",
	})

	plan, err := NewResolver(nil).Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, "nextjs", plan.Framework)
	assert.Equal(t, TypeDynamic, plan.SiteType)
}

func TestResolvePackageJSONBuildOnlyIsStaticBuild(t *testing.T) {
	dir := writeSite(t, map[string]string{
		"package.json": `{"scripts":{"build":"vite build"}}`,
	})

	plan, err := NewResolver(nil).Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeStaticBuild, plan.SiteType)
}

func TestResolvePackageJSONWithStartIsDynamic(t *testing.T) {
	dir := writeSite(t, map[string]string{
		"package.json": `{"scripts":{"start":"node server.js"}}`,
	})

	plan, err := NewResolver(nil).Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeDynamic, plan.SiteType)
}

func TestResolveIndexHTMLIsStatic(t *testing.T) {
	dir := writeSite(t, map[string]string{"index.html": "<html></html>"})

	plan, err := NewResolver(nil).Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeStatic, plan.SiteType)
	assert.Equal(t, StrategyBasic, plan.Strategy)
}

func TestResolveEmptyDirectoryDefaultsDynamic(t *testing.T) {
	dir := t.TempDir()

	plan, err := NewResolver(nil).Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, TypeDynamic, plan.SiteType)
}

func TestDetectPackageManagerPrecedence(t *testing.T) {
	yarnDir := writeSite(t, map[string]string{"yarn.lock": ""})
	assert.Equal(t, PackageManagerYarn, DetectPackageManager(yarnDir))

	pnpmDir := writeSite(t, map[string]string{"pnpm-lock.yaml": ""})
	assert.Equal(t, PackageManagerPnpm, DetectPackageManager(pnpmDir))

	manifestDir := writeSite(t, map[string]string{
		"package.json": `{"packageManager":"pnpm@8.6.0"}`,
		"yarn.lock":    "",
	})
	assert.Equal(t, PackageManagerPnpm, DetectPackageManager(manifestDir), "explicit manifest field beats lockfile sniffing")

	npmDir := t.TempDir()
	assert.Equal(t, PackageManagerNpm, DetectPackageManager(npmDir))
}

func TestNormalizeAndCompareVersions(t *testing.T) {
	assert.Equal(t, "18.2.0", NormalizeVersion("^18.2.0"))
	assert.Equal(t, -1, CompareVersions("1.2.0", "1.10.0"))
	assert.Equal(t, 1, CompareVersions("2.0.0", "1.9.9"))
}
