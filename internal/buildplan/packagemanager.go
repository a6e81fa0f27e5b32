package buildplan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"sitedeploy/internal/logging"
)

// PackageManager is the JavaScript package manager a site declares,
// detected by lockfile/config presence.
type PackageManager string

const (
	PackageManagerBun  PackageManager = "bun"
	PackageManagerYarn PackageManager = "yarn"
	PackageManagerPnpm PackageManager = "pnpm"
	PackageManagerNpm  PackageManager = "npm"
)

// DetectPackageManager chooses a package manager for a site directory.
// Precedence, per the resolution algorithm: an explicit runtime-config
// file naming the package manager beats a bun lockfile, which beats a
// yarn lockfile, which beats a pnpm lockfile; npm is the default when
// none of those are present.
func DetectPackageManager(path string) PackageManager {
	if pm, ok := packageManagerFromManifest(path); ok {
		return pm
	}
	switch {
	case hasFile(path, "bun.lockb"), hasFile(path, "bun.lock"):
		return PackageManagerBun
	case hasFile(path, "yarn.lock"):
		return PackageManagerYarn
	case hasFile(path, "pnpm-lock.yaml"):
		return PackageManagerPnpm
	default:
		return PackageManagerNpm
	}
}

// packageManagerFromManifest reads package.json's "packageManager" field
// (the runtime-config signal that takes precedence over lockfile sniffing).
func packageManagerFromManifest(path string) (PackageManager, bool) {
	data, err := os.ReadFile(filepath.Join(path, "package.json"))
	if err != nil {
		return "", false
	}
	var manifest struct {
		PackageManager string `json:"packageManager"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil || manifest.PackageManager == "" {
		return "", false
	}
	name := strings.SplitN(manifest.PackageManager, "@", 2)[0]
	switch name {
	case "bun":
		return PackageManagerBun, true
	case "yarn":
		return PackageManagerYarn, true
	case "pnpm":
		return PackageManagerPnpm, true
	case "npm":
		return PackageManagerNpm, true
	default:
		return "", false
	}
}

// NormalizeVersion strips a dependency-range prefix (^, ~, >=, etc.) and
// parses the remainder as a semantic version, returning the canonical
// "major.minor.patch" string. Ranges that do not parse are returned
// unchanged so callers can still surface the raw declared value.
func NormalizeVersion(raw string) string {
	cleaned := strings.TrimLeft(raw, "^~>=<v ")
	v, err := semver.NewVersion(cleaned)
	if err != nil {
		return raw
	}
	return v.String()
}

// CompareVersions returns -1, 0, or 1 comparing two normalized version
// strings, using full semantic-version precedence rather than a
// lexicographic or hand-rolled dot-split comparison.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// minSupportedNodeVersion is the oldest Node LTS the basic and Docker
// strategies are exercised against; an engines.node below it still
// resolves, but gets flagged.
const minSupportedNodeVersion = "18.0.0"

// resolveRuntimeVersion pins Plan.RuntimeVersion from the manifest: the
// matched framework's declared dependency range if one was given,
// otherwise the package.json engines.node constraint. Both are reduced
// through NormalizeVersion so the plan carries a comparable version
// rather than a raw range string.
func resolveRuntimeVersion(pkg packageJSON, framework string) string {
	if framework != "" {
		if raw, ok := pkg.Dependencies[framework]; ok {
			return NormalizeVersion(raw)
		}
		if raw, ok := pkg.DevDependencies[framework]; ok {
			return NormalizeVersion(raw)
		}
	}
	if raw, ok := pkg.Engines["node"]; ok {
		version := NormalizeVersion(raw)
		if CompareVersions(version, minSupportedNodeVersion) < 0 {
			logging.L().Warn("site declares a Node engine below the supported minimum",
				zap.String("declared", raw), zap.String("minimum", minSupportedNodeVersion))
		}
		return version
	}
	return ""
}
