// Package containers implements the container supervisor (C4): it builds
// and runs one long-lived process per site container, tracks its status,
// health-probes it, and tears it down. Three strategies back a container
// depending on what the build plan resolver found: docker, plan, or basic.
package containers

import "time"

// Status is a container's lifecycle state.
type Status string

const (
	StatusBuilding Status = "building"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusFailed   Status = "failed"
)

// Role distinguishes a production container from a preview container.
type Role string

const (
	RoleProduction Role = "production"
	RolePreview    Role = "preview"
)

// Strategy is how a container's process is built/run.
type Strategy string

const (
	StrategyDocker Strategy = "docker"
	StrategyPlan   Strategy = "plan"
	StrategyBasic  Strategy = "basic"
)

// Site is the minimal description of a deployable unit the supervisor
// needs: where its source lives and what to call its container.
type Site struct {
	Name string
	Path string
	Env  map[string]string
}

// Container is the supervisor's record of one running (or formerly
// running) process representing a site.
type Container struct {
	Name      string
	SitePath  string
	Role      Role
	Port      int
	Status    Status
	Strategy  Strategy
	ImageTag  string // set when Strategy != basic
	CreatedAt time.Time
}

// ContainerName derives the name the rest of the system (ports, proxy,
// registry) addresses this container by.
func ContainerName(siteName string, role Role) string {
	return siteName + "-" + string(role)
}

// PreviewContainerName is the preview naming scheme used by editing
// sessions: <branch>-<site>-preview.
func PreviewContainerName(branch, siteName string) string {
	return branch + "-" + siteName + "-preview"
}

