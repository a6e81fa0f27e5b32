package containers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/errs"
	"sitedeploy/internal/logging"
	"sitedeploy/internal/metrics"
	"sitedeploy/internal/ports"

	"go.uber.org/zap"
)

// Supervisor is the container supervisor (C4): it owns every container's
// lifecycle, serialized per container name so concurrent operations on
// the same site never race.
type Supervisor struct {
	resolver *buildplan.Resolver
	portPool *ports.Allocator

	docker *dockerBackend // nil when no Docker daemon is reachable
	basic  *basicBackend
	plan   *planBackend

	mu         sync.Mutex
	containers map[string]*Container
	locks      map[string]*sync.Mutex
}

// NewSupervisor constructs a Supervisor. A missing Docker daemon is not
// fatal: sites resolving to the docker strategy simply fail at create
// time with a BuildError, while plan/basic sites are unaffected.
func NewSupervisor(resolver *buildplan.Resolver, portPool *ports.Allocator) *Supervisor {
	basic := newBasicBackend()
	docker, err := newDockerBackend()
	if err != nil {
		logging.L().Warn("docker unavailable, docker-strategy sites will fail to build", zap.Error(err))
		docker = nil
	}
	return &Supervisor{
		resolver:   resolver,
		portPool:   portPool,
		docker:     docker,
		basic:      basic,
		plan:       newPlanBackend(basic),
		containers: make(map[string]*Container),
		locks:      make(map[string]*sync.Mutex),
	}
}

func (s *Supervisor) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Create builds and runs a container for site in the given role, naming
// it with the default production/preview scheme. Preview containers that
// need the branch-qualified name (edit sessions) should call CreateNamed.
func (s *Supervisor) Create(ctx context.Context, site Site, role Role) (*Container, error) {
	return s.CreateNamed(ctx, site, role, ContainerName(site.Name, role))
}

// CreateNamed is Create with an explicit container name, used by the
// editing session manager for its <branch>-<site>-preview naming scheme.
func (s *Supervisor) CreateNamed(ctx context.Context, site Site, role Role, name string) (*Container, error) {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	s.setStatus(name, StatusBuilding)

	plan, err := s.resolver.Resolve(site.Path)
	if err != nil {
		s.setStatus(name, StatusFailed)
		return nil, errs.Wrap(errs.KindBuild, "containers.Create", err)
	}

	portRole := ports.RoleProduction
	if role == RolePreview {
		portRole = ports.RolePreview
	}
	port, err := s.portPool.Allocate(name, portRole)
	if err != nil {
		s.setStatus(name, StatusFailed)
		return nil, errs.Wrap(errs.KindRuntime, "containers.Create", err)
	}

	buildStart := time.Now()
	strategy, imageTag, err := s.buildPhase(ctx, site, name, plan)
	metrics.Get().BuildDuration.WithLabelValues(string(plan.Strategy)).Observe(time.Since(buildStart).Seconds())
	if err != nil {
		s.setStatus(name, StatusFailed)
		metrics.Get().RecordContainerFailed(string(role), string(plan.Strategy))
		return nil, err
	}

	if err := s.runPhase(ctx, site, name, port, role, strategy, imageTag, plan); err != nil {
		s.setStatus(name, StatusFailed)
		metrics.Get().RecordContainerFailed(string(role), string(strategy))
		return nil, err
	}

	if strategy == StrategyDocker && !s.WaitHealthy(ctx, name, port, 30*time.Second) {
		s.setStatus(name, StatusFailed)
		metrics.Get().RecordContainerFailed(string(role), string(strategy))
		err := errs.New(errs.KindRuntime, "containers.Create",
			fmt.Sprintf("container %s did not become healthy: %s", name, s.dockerFailureDetail(ctx, name)))
		_ = s.docker.stop(ctx, name)
		s.portPool.Release(name)
		return nil, err
	}
	metrics.Get().RecordContainerCreated(string(role), string(strategy))

	c := &Container{
		Name:      name,
		SitePath:  site.Path,
		Role:      role,
		Port:      port,
		Status:    StatusRunning,
		Strategy:  strategy,
		ImageTag:  imageTag,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.containers[name] = c
	s.mu.Unlock()
	return c, nil
}

// buildPhase prepares whatever the run phase needs. It implements C2's
// strategy selection and the plan->basic fallback named in the
// supervisor's create algorithm.
func (s *Supervisor) buildPhase(ctx context.Context, site Site, name string, plan *buildplan.Plan) (Strategy, string, error) {
	switch plan.Strategy {
	case buildplan.StrategyDocker:
		if s.docker == nil {
			return "", "", errs.New(errs.KindBuild, "containers.buildPhase", "docker strategy requested but no docker daemon is reachable")
		}
		tag, err := s.docker.buildImage(ctx, site, name)
		if err != nil {
			return "", "", err
		}
		return StrategyDocker, tag, nil

	case buildplan.StrategyPlan:
		if s.plan.build(ctx, site, plan) {
			return StrategyPlan, "", nil
		}
		return StrategyBasic, "", nil

	default:
		return StrategyBasic, "", nil
	}
}

func (s *Supervisor) runPhase(ctx context.Context, site Site, name string, port int, role Role, strategy Strategy, imageTag string, plan *buildplan.Plan) error {
	switch strategy {
	case StrategyDocker:
		return s.docker.run(ctx, site, name, port, role, imageTag)
	case StrategyPlan:
		return s.plan.run(ctx, site, name, port, role, plan)
	default:
		return s.basic.run(ctx, site, name, port, role, plan)
	}
}

// Stop tears the named container down. Idempotent: stopping an unknown
// or already-stopped container is not an error.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	lock := s.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	c := s.containers[name]
	s.mu.Unlock()

	strategy := StrategyBasic
	if c != nil {
		strategy = c.Strategy
	}

	var err error
	switch strategy {
	case StrategyDocker:
		if s.docker != nil {
			err = s.docker.stop(ctx, name)
		}
	default:
		err = s.plan.stop(ctx, name)
	}

	s.setStatus(name, StatusStopped)
	s.portPool.Release(name)
	if c != nil {
		metrics.Get().RecordContainerStopped(string(c.Role))
	}
	return err
}

// Restart stops and recreates name from the stored site descriptor.
func (s *Supervisor) Restart(ctx context.Context, site Site, role Role, name string) (*Container, error) {
	if err := s.Stop(ctx, name); err != nil {
		return nil, err
	}
	return s.CreateNamed(ctx, site, role, name)
}

// IsRunning asks the runtime, not the in-memory table, whether name is
// up. The in-memory table is only a cache.
func (s *Supervisor) IsRunning(ctx context.Context, name string) bool {
	s.mu.Lock()
	c := s.containers[name]
	s.mu.Unlock()

	strategy := StrategyBasic
	if c != nil {
		strategy = c.Strategy
	}
	if strategy == StrategyDocker {
		if s.docker == nil {
			return false
		}
		return s.docker.isRunning(ctx, name)
	}
	return s.plan.isRunning(ctx, name)
}

// WaitHealthy polls the container's port until any HTTP response arrives
// (liveness, not readiness: any status code counts) or timeout elapses.
func (s *Supervisor) WaitHealthy(ctx context.Context, name string, port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	url := fmt.Sprintf("http://127.0.0.1:%d/", port)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}
	}
	return false
}

// Discover enumerates already-running containers at startup (Docker
// only; basic-strategy processes do not survive a control plane
// restart) and rehydrates the in-memory table so a restart does not
// lose track of, or reissue ports for, containers still running.
func (s *Supervisor) Discover(ctx context.Context) error {
	if s.docker == nil {
		return nil
	}
	found, err := s.docker.discover(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, port := range found {
		role := RoleProduction
		if strings.HasSuffix(name, "-preview") {
			role = RolePreview
		}
		s.containers[name] = &Container{
			Name:     name,
			Role:     role,
			Port:     port,
			Status:   StatusRunning,
			Strategy: StrategyDocker,
		}

		portRole := ports.RoleProduction
		if role == RolePreview {
			portRole = ports.RolePreview
		}
		s.portPool.Reserve(name, port, portRole)
	}
	return nil
}

// dockerFailureDetail fetches a container's recent combined stdout/stderr
// for an unhealthy-startup error, so an operator does not have to go
// find the container by hand before it is removed.
func (s *Supervisor) dockerFailureDetail(ctx context.Context, name string) string {
	tail, err := s.docker.logs(ctx, name, "50")
	if err != nil {
		return "logs unavailable: " + err.Error()
	}
	return tail
}

func (s *Supervisor) setStatus(name string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.containers[name]; ok {
		c.Status = status
		return
	}
	s.containers[name] = &Container{Name: name, Status: status}
}

// Get returns the in-memory record for name, if any.
func (s *Supervisor) Get(name string) (*Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[name]
	return c, ok
}
