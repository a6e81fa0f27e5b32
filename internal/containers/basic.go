package containers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/errs"
)

// basicBackend runs a container's process directly on the host instead of
// inside Docker: a declared start command for dynamic sites, or an
// in-process static file server for plain HTML sites. It exists so a
// control plane with no Docker daemon available can still serve the
// common case.
type basicBackend struct {
	mu        sync.Mutex
	processes map[string]*exec.Cmd
	servers   map[string]*http.Server
}

func newBasicBackend() *basicBackend {
	return &basicBackend{
		processes: make(map[string]*exec.Cmd),
		servers:   make(map[string]*http.Server),
	}
}

// run launches name's process. plan.StartCmd decides the launcher: empty
// means "serve site.Path as static files"; otherwise the command is split
// into argv and launched directly as a child process.
func (b *basicBackend) run(ctx context.Context, site Site, name string, port int, role Role, plan *buildplan.Plan) error {
	b.mu.Lock()
	b.stopLocked(name)
	b.mu.Unlock()

	if plan.StartCmd == "" {
		return b.runStatic(site, name, port, plan.OutputDir)
	}
	return b.runCommand(site, name, port, role, plan)
}

func (b *basicBackend) runStatic(site Site, name string, port int, outputDir string) error {
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.Dir(resolveOutputDir(site.Path, outputDir))))

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: mux,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errs.Wrap(errs.KindRuntime, "containers.basic.runStatic", err)
	}

	go func() {
		_ = srv.Serve(ln)
	}()

	b.mu.Lock()
	b.servers[name] = srv
	b.mu.Unlock()
	return nil
}

// runCommand launches plan.StartCmd (e.g. "npm start", "./app") as a
// detached child process, with PORT/NODE_ENV in its environment. The
// child's stdout/stderr are inherited so operators can tail the control
// plane's own logs to see it.
func (b *basicBackend) runCommand(site Site, name string, port int, role Role, plan *buildplan.Plan) error {
	argv := splitCommand(plan.StartCmd)
	if len(argv) == 0 {
		return errs.New(errs.KindBuild, "containers.basic.runCommand", "empty start command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = site.Path
	cmd.Env = append(os.Environ(), flattenEnv(siteEnv(site, role, port))...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return errs.Wrap(errs.KindRuntime, "containers.basic.runCommand", err)
	}

	b.mu.Lock()
	b.processes[name] = cmd
	b.mu.Unlock()

	go func() { _ = cmd.Wait() }() // reap; exit status observed via isRunning
	return nil
}

func (b *basicBackend) stop(ctx context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked(name)
	return nil
}

func (b *basicBackend) stopLocked(name string) {
	if cmd, ok := b.processes[name]; ok {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		delete(b.processes, name)
	}
	if srv, ok := b.servers[name]; ok {
		_ = srv.Close()
		delete(b.servers, name)
	}
}

func (b *basicBackend) isRunning(ctx context.Context, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cmd, ok := b.processes[name]; ok {
		return cmd.Process != nil && cmd.ProcessState == nil
	}
	if _, ok := b.servers[name]; ok {
		return true
	}
	return false
}

func resolveOutputDir(sitePath, outputDir string) string {
	if outputDir == "" {
		return sitePath
	}
	return filepath.Join(sitePath, outputDir)
}

func splitCommand(s string) []string {
	var out []string
	var cur []rune
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == ' ' && !inQuote:
			if len(cur) > 0 {
				out = append(out, string(cur))
				cur = cur[:0]
			}
		default:
			cur = append(cur, r)
		}
	}
	if len(cur) > 0 {
		out = append(out, string(cur))
	}
	return out
}

