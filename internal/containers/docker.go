package containers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"go.uber.org/zap"

	"sitedeploy/internal/errs"
	"sitedeploy/internal/logging"
)

// dockerBackend runs containers against a real Docker Engine, for sites
// whose build plan resolved to the docker strategy (an explicit
// Dockerfile present in the site directory).
type dockerBackend struct {
	cli *client.Client
}

func newDockerBackend() (*dockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, "containers.newDockerBackend", err)
	}
	return &dockerBackend{cli: cli}, nil
}

// buildImage builds the site's Dockerfile into an image tagged
// deploy-<name>:latest, using the site directory as the build context.
func (d *dockerBackend) buildImage(ctx context.Context, site Site, name string) (string, error) {
	tag := fmt.Sprintf("deploy-%s:latest", name)

	tar, err := archive.TarWithOptions(site.Path, &archive.TarOptions{})
	if err != nil {
		return "", errs.Wrap(errs.KindBuild, "containers.buildImage", err)
	}
	defer tar.Close()

	resp, err := d.cli.ImageBuild(ctx, tar, types.ImageBuildOptions{
		Tags:       []string{tag},
		Dockerfile: "Dockerfile",
		Remove:     true,
	})
	if err != nil {
		return "", errs.Wrap(errs.KindBuild, "containers.buildImage", err)
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	if _, err := io.Copy(&out, resp.Body); err != nil {
		return "", errs.Wrap(errs.KindBuild, "containers.buildImage", err)
	}
	if strings.Contains(out.String(), `"error"`) {
		return "", errs.New(errs.KindBuild, "containers.buildImage", out.String())
	}
	return tag, nil
}

// run starts name from imageTag, bound to port, with role-specific env.
func (d *dockerBackend) run(ctx context.Context, site Site, name string, port int, role Role, imageTag string) error {
	d.removeExisting(ctx, name)

	portSpec := nat.Port(fmt.Sprintf("%d/tcp", port))
	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			portSpec: {{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", port)}},
		},
		SecurityOpt:    []string{"no-new-privileges:true"},
		CapDrop:        []string{"ALL"},
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=64m",
		},
		Resources: container.Resources{
			Memory:     512 * 1024 * 1024,
			MemorySwap: 512 * 1024 * 1024,
			NanoCPUs:   1_000_000_000,
			PidsLimit:  ptrInt64(256),
		},
		RestartPolicy: container.RestartPolicy{Name: "unless-stopped"},
	}

	env := flattenEnv(siteEnv(site, role, port))

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        imageTag,
		Env:          env,
		ExposedPorts: nat.PortSet{portSpec: {}},
	}, hostConfig, nil, nil, name)
	if err != nil {
		return errs.Wrap(errs.KindRuntime, "containers.docker.run", err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return errs.Wrap(errs.KindRuntime, "containers.docker.run", err)
	}
	return nil
}

// stop sends a graceful stop, then removes the container. Idempotent: a
// missing container is not an error.
func (d *dockerBackend) stop(ctx context.Context, name string) error {
	timeout := 5
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout}); err != nil {
		if !client.IsErrNotFound(err) {
			logging.L().Warn("docker stop failed", zap.String("container", name), zap.Error(err))
		}
	}
	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return errs.Wrap(errs.KindRuntime, "containers.docker.stop", err)
		}
	}
	return nil
}

func (d *dockerBackend) removeExisting(ctx context.Context, name string) {
	_ = d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
}

// isRunning asks the Docker daemon directly; the runtime, not the
// in-memory table, is the source of truth.
func (d *dockerBackend) isRunning(ctx context.Context, name string) bool {
	inspect, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}

// discover enumerates containers named "*-production" or "*-preview" and
// returns their name -> published host port, for startup rehydration.
func (d *dockerBackend) discover(ctx context.Context) (map[string]int, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, errs.Wrap(errs.KindRuntime, "containers.docker.discover", err)
	}

	out := make(map[string]int)
	for _, c := range list {
		for _, n := range c.Names {
			trimmed := strings.TrimPrefix(n, "/")
			if !strings.HasSuffix(trimmed, "-production") && !strings.HasSuffix(trimmed, "-preview") {
				continue
			}
			for _, p := range c.Ports {
				if p.PublicPort != 0 {
					out[trimmed] = int(p.PublicPort)
					break
				}
			}
		}
	}
	return out, nil
}

// logs returns the tail of a container's combined stdout/stderr, used by
// wait_healthy callers to attach diagnostic detail to a failure.
func (d *dockerBackend) logs(ctx context.Context, name string, tail string) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{ShowStdout: true, ShowStderr: true, Tail: tail})
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil && err != io.EOF {
		return "", err
	}
	return stdout.String() + stderr.String(), nil
}

func siteEnv(site Site, role Role, port int) map[string]string {
	env := make(map[string]string, len(site.Env)+2)
	for k, v := range site.Env {
		env[k] = v
	}
	env["PORT"] = fmt.Sprintf("%d", port)
	if role == RolePreview {
		env["NODE_ENV"] = "development"
	} else {
		env["NODE_ENV"] = "production"
	}
	return env
}

func flattenEnv(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out
}

func ptrInt64(v int64) *int64 { return &v }
