// Package proxy is the proxy orchestrator (C5): it maintains the active
// DynamicRoute set, serializes it to a fronting-proxy config file with a
// debounced atomic reload, and serves an in-process reverse-proxy router
// that the fronting proxy (or, absent one, a direct caller) forwards to.
package proxy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"sitedeploy/internal/registry"
)

// ConfigOptions parameterizes the generated fronting-proxy config file.
type ConfigOptions struct {
	Domain        string // wildcard base domain, e.g. "dev.deploy"
	EditorDomain  string // origin allowed to iframe preview routes
	AdminAddr     string
	StorageRoot   string
	ControlPlane  string // host:port the base/wildcard blocks proxy to
	HealthPath    string
}

// renderConfig produces the deterministic text form named in the
// external-interfaces section: a global options block, a root-domain
// route, a wildcard fallback, then one block per dynamic route.
func renderConfig(opts ConfigOptions, routes []registry.DynamicRoute) string {
	var b strings.Builder

	fmt.Fprintf(&b, "{\n")
	fmt.Fprintf(&b, "\tadmin %s\n", opts.AdminAddr)
	fmt.Fprintf(&b, "\tstorage file_system %s\n", opts.StorageRoot)
	fmt.Fprintf(&b, "\tlog {\n\t\toutput stdout\n\t\tformat json\n\t}\n")
	fmt.Fprintf(&b, "}\n\n")

	writeBlock(&b, opts.Domain, opts.ControlPlane, opts.HealthPath, "")
	writeBlock(&b, "*."+opts.Domain, opts.ControlPlane, opts.HealthPath, "")

	for _, route := range routes {
		csp := fmt.Sprintf("frame-ancestors 'self' https://%s", opts.EditorDomain)
		writeBlock(&b, route.Subdomain, fmt.Sprintf("localhost:%d", route.TargetPort), opts.HealthPath, csp)
	}

	return b.String()
}

func writeBlock(b *strings.Builder, host, upstream, healthPath, csp string) {
	fmt.Fprintf(b, "%s {\n", host)
	fmt.Fprintf(b, "\tencode gzip zstd\n")
	fmt.Fprintf(b, "\theader {\n")
	fmt.Fprintf(b, "\t\tX-Content-Type-Options nosniff\n")
	fmt.Fprintf(b, "\t\tX-Frame-Options SAMEORIGIN\n")
	if csp != "" {
		fmt.Fprintf(b, "\t\tContent-Security-Policy \"%s\"\n", csp)
	}
	fmt.Fprintf(b, "\t}\n")
	fmt.Fprintf(b, "\treverse_proxy %s {\n", upstream)
	fmt.Fprintf(b, "\t\theader_up Host {host}\n")
	fmt.Fprintf(b, "\t\theader_up X-Forwarded-For {remote}\n")
	if healthPath != "" {
		fmt.Fprintf(b, "\t\thealth_uri %s\n", healthPath)
		fmt.Fprintf(b, "\t\thealth_interval 15s\n")
	}
	fmt.Fprintf(b, "\t}\n")
	fmt.Fprintf(b, "}\n\n")
}

// writeConfigAtomically regenerates the config file at path: write to a
// tempfile in the same directory, fsync, then rename into place, so a
// reader never observes a half-written file and a crash mid-write never
// corrupts the previous config.
func writeConfigAtomically(path, contents string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".proxy-config-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.WriteString(contents); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
