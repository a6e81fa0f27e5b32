package containers

import (
	"context"
	"strings"
	"time"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/logging"
	"sitedeploy/internal/process"

	"go.uber.org/zap"
)

// planBackend runs a resolved plan's install/build commands before
// handing off to the same process-launch path basicBackend uses for its
// run phase. A failed install or build step falls back to basic: the
// start command (or static serving) is attempted without a build.
type planBackend struct {
	runner *process.Runner
	basic  *basicBackend
}

func newPlanBackend(basic *basicBackend) *planBackend {
	return &planBackend{runner: process.NewRunner(), basic: basic}
}

// build runs plan.InstallCmd then plan.BuildCmd in site.Path. Returns
// false when either step fails, signaling the caller to fall back to the
// basic strategy.
func (p *planBackend) build(ctx context.Context, site Site, plan *buildplan.Plan) bool {
	for _, cmd := range []string{plan.InstallCmd, plan.BuildCmd} {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		argv := splitCommand(cmd)
		result := p.runner.Run(ctx, process.Spec{
			Dir:     site.Path,
			Argv:    argv,
			Timeout: 5 * time.Minute,
		})
		if !result.Succeeded() {
			logging.L().Warn("plan build step failed, falling back to basic",
				zap.String("site", site.Name), zap.String("cmd", cmd), zap.String("stderr", result.Stderr))
			return false
		}
	}
	return true
}

func (p *planBackend) run(ctx context.Context, site Site, name string, port int, role Role, plan *buildplan.Plan) error {
	return p.basic.run(ctx, site, name, port, role, plan)
}

func (p *planBackend) stop(ctx context.Context, name string) error {
	return p.basic.stop(ctx, name)
}

func (p *planBackend) isRunning(ctx context.Context, name string) bool {
	return p.basic.isRunning(ctx, name)
}
