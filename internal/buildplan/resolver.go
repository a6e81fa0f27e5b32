// Package buildplan inspects a site's working directory and derives a
// BuildPlan: site type, framework, and the install/build/start commands the
// container supervisor needs to run. Resolution is side-effect-free and
// idempotent — it only reads files.
package buildplan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// SiteType classifies how a site's output is produced and served.
type SiteType string

const (
	TypeStatic      SiteType = "static"       // plain files, no build step
	TypeStaticBuild SiteType = "static-build" // build step produces static output
	TypeDynamic     SiteType = "dynamic"      // long-running server process
)

// Strategy is the container build/run mechanism C4 should use.
type Strategy string

const (
	StrategyDocker Strategy = "docker"
	StrategyPlan   Strategy = "plan"
	StrategyBasic  Strategy = "basic"
)

// Plan is the resolved build plan for a site.
type Plan struct {
	SiteType       SiteType
	Framework      string
	Strategy       Strategy
	InstallCmd     string
	BuildCmd       string
	StartCmd       string
	OutputDir      string
	RuntimeVersion string
	PackageManager PackageManager
}

// PlanTool is the optional "external plan tool" hook from step 2 of the
// resolution algorithm. Implementations translate a site directory into a
// structured plan; when none is registered, resolution falls through to
// the marker-file heuristic.
type PlanTool interface {
	Plan(path string) (*Plan, bool)
}

// Resolver resolves BuildPlans for site directories.
type Resolver struct {
	tool PlanTool // optional; nil is valid
}

// NewResolver constructs a Resolver. tool may be nil.
func NewResolver(tool PlanTool) *Resolver {
	return &Resolver{tool: tool}
}

// Resolve inspects path and returns its build plan.
func (r *Resolver) Resolve(path string) (*Plan, error) {
	if hasFile(path, "Dockerfile") {
		return &Plan{SiteType: TypeDynamic, Strategy: StrategyDocker}, nil
	}

	if r.tool != nil {
		if plan, ok := r.tool.Plan(path); ok {
			plan.Strategy = StrategyPlan
			if plan.SiteType == TypeDynamic && ContainsReverseProxyHint(plan.StartCmd) {
				plan.SiteType = TypeStaticBuild
			}
			return plan, nil
		}
	}

	return r.resolveByMarkers(path)
}

// marker is one entry in the ordered fallback-heuristic table. SSG markers
// are listed ahead of SSR markers ahead of the plain-index fallback, per
// the tie-break rule: first match wins, never infer multiple frameworks.
type marker struct {
	file      string
	framework string
	siteType  SiteType
	install   string
	build     string
	start     string
	output    string
}

var markerTable = []marker{
	{file: "svelte.config.js", framework: "svelte", siteType: TypeStaticBuild, install: "npm install", build: "npm run build", output: "build"},
	{file: "angular.json", framework: "angular", siteType: TypeStaticBuild, install: "npm install", build: "npm run build", output: "dist"},
	{file: "vite.config.js", framework: "vite", siteType: TypeStaticBuild, install: "npm install", build: "npm run build", output: "dist"},
	{file: "vite.config.ts", framework: "vite", siteType: TypeStaticBuild, install: "npm install", build: "npm run build", output: "dist"},
	{file: "vue.config.js", framework: "vue", siteType: TypeStaticBuild, install: "npm install", build: "npm run build", output: "dist"},
	{file: "gatsby-config.js", framework: "gatsby", siteType: TypeStaticBuild, install: "npm install", build: "npm run build", output: "public"},
	{file: "next.config.js", framework: "nextjs", siteType: TypeDynamic, install: "npm install", build: "npm run build", start: "npm start", output: ".next"},
	{file: "next.config.mjs", framework: "nextjs", siteType: TypeDynamic, install: "npm install", build: "npm run build", start: "npm start", output: ".next"},
	{file: "nuxt.config.js", framework: "nuxt", siteType: TypeDynamic, install: "npm install", build: "npm run build", start: "npm start", output: ".output"},
	{file: "nuxt.config.ts", framework: "nuxt", siteType: TypeDynamic, install: "npm install", build: "npm run build", start: "npm start", output: ".output"},
	{file: "go.mod", framework: "go", siteType: TypeDynamic, install: "go mod download", build: "go build -o app .", start: "./app"},
	{file: "Cargo.toml", framework: "rust", siteType: TypeDynamic, install: "", build: "cargo build --release", start: "./target/release/app"},
	{file: "requirements.txt", framework: "python", siteType: TypeDynamic, install: "pip install -r requirements.txt", start: "python main.py"},
	{file: "pyproject.toml", framework: "python", siteType: TypeDynamic, install: "pip install .", start: "python main.py"},
	{file: "manage.py", framework: "django", siteType: TypeDynamic, install: "pip install -r requirements.txt", start: "gunicorn config.wsgi:application"},
}

func (r *Resolver) resolveByMarkers(path string) (*Plan, error) {
	for _, m := range markerTable {
		if hasFile(path, m.file) {
			plan := &Plan{
				SiteType:   m.siteType,
				Framework:  m.framework,
				Strategy:   strategyFor(m.siteType),
				InstallCmd: m.install,
				BuildCmd:   m.build,
				StartCmd:   m.start,
				OutputDir:  m.output,
			}
			if pkg, ok := readPackageJSON(path); ok {
				plan.RuntimeVersion = resolveRuntimeVersion(pkg, m.framework)
			}
			return plan, nil
		}
	}

	if pkg, ok := readPackageJSON(path); ok {
		plan, err := resolveFromPackageJSON(pkg)
		if err == nil {
			plan.PackageManager = DetectPackageManager(path)
			plan.RuntimeVersion = resolveRuntimeVersion(pkg, "")
		}
		return plan, err
	}

	if hasFile(path, "index.html") {
		return &Plan{SiteType: TypeStatic, Strategy: StrategyBasic}, nil
	}

	return &Plan{SiteType: TypeDynamic, Strategy: StrategyBasic}, nil
}

func strategyFor(t SiteType) Strategy {
	if t == TypeDynamic {
		return StrategyBasic
	}
	return StrategyBasic
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
	Scripts         map[string]string `json:"scripts"`
	Engines         map[string]string `json:"engines"`
}

func readPackageJSON(path string) (packageJSON, bool) {
	data, err := os.ReadFile(filepath.Join(path, "package.json"))
	if err != nil {
		return packageJSON{}, false
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return packageJSON{}, false
	}
	return pkg, true
}

// resolveFromPackageJSON implements step 5: a build script only means
// static-build, a start script present means dynamic.
func resolveFromPackageJSON(pkg packageJSON) (*Plan, error) {
	_, hasBuild := pkg.Scripts["build"]
	_, hasStart := pkg.Scripts["start"]

	plan := &Plan{Strategy: StrategyBasic, InstallCmd: "npm install"}
	if hasBuild {
		plan.BuildCmd = "npm run build"
	}
	if hasStart {
		plan.StartCmd = "npm start"
		plan.SiteType = TypeDynamic
		return plan, nil
	}
	if hasBuild {
		plan.SiteType = TypeStaticBuild
		return plan, nil
	}
	plan.SiteType = TypeDynamic
	return plan, nil
}

func hasFile(path, name string) bool {
	_, err := os.Stat(filepath.Join(path, name))
	return err == nil
}

// ContainsReverseProxyHint reports whether a start command string looks
// like it merely serves pre-built static output through a thin proxy
// (classifying the plan-tool path as static-build rather than dynamic).
func ContainsReverseProxyHint(startCmd string) bool {
	lower := strings.ToLower(startCmd)
	for _, hint := range []string{"serve", "nginx", "caddy file-server"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}
