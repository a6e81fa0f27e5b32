package proxy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sitedeploy/internal/logging"
	"sitedeploy/internal/metrics"
	"sitedeploy/internal/registry"
)

// ReloadDebounce is the window over which back-to-back route changes are
// coalesced into one config regeneration, matching the "about a second"
// debounce named for C5's reload.
const ReloadDebounce = 1 * time.Second

// ReloadTimeout bounds how long a single reload (render + atomic write)
// is allowed to take before it's logged as failed.
const ReloadTimeout = 10 * time.Second

// RouteCache is what the orchestrator needs from the route snapshot
// cache: it both answers the Router's lookups and must be kept in step
// with every registry mutation.
type RouteCache interface {
	RouteLookup
	Set(subdomain string, port int)
	Invalidate(subdomain string)
	InvalidateAll()
}

// Orchestrator is C5 in full: it owns the active DynamicRoute set via
// the registry, regenerates and atomically rewrites the fronting-proxy
// config on change with a debounce, keeps the route cache in step, and
// exposes the in-process Router as a fallback serving path.
type Orchestrator struct {
	registry   *registry.Registry
	cache      RouteCache
	router     *Router
	opts       ConfigOptions
	configPath string

	mu           sync.Mutex
	reloadTimer  *time.Timer
	reloadQueued bool
	reloading    bool
}

func NewOrchestrator(reg *registry.Registry, cache RouteCache, opts ConfigOptions, configPath string) *Orchestrator {
	return &Orchestrator{
		registry:   reg,
		cache:      cache,
		router:     NewRouter(opts.Domain, opts.EditorDomain, cache),
		opts:       opts,
		configPath: configPath,
	}
}

// Router returns the in-process fallback serving path.
func (o *Orchestrator) Router() *Router { return o.router }

// AddRoute registers a route for a running container and schedules a
// reload. It replaces any existing route for the same subdomain.
func (o *Orchestrator) AddRoute(sessionID *uint, siteName, subdomain string, port int) (*registry.DynamicRoute, error) {
	route := &registry.DynamicRoute{
		Subdomain:  subdomain,
		TargetPort: port,
		SessionID:  sessionID,
		SiteName:   siteName,
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.registry.AddRoute(route); err != nil {
		return nil, err
	}
	o.cache.Set(subdomain, port)
	o.scheduleReload()
	return route, nil
}

// RemoveRoute tears down the route owned by a session, if any.
func (o *Orchestrator) RemoveRoute(sessionID uint) (bool, error) {
	var subdomains []string
	if routes, err := o.registry.ListRoutes(); err == nil {
		for _, r := range routes {
			if r.SessionID != nil && *r.SessionID == sessionID {
				subdomains = append(subdomains, r.Subdomain)
			}
		}
	}
	removed, err := o.registry.RemoveRouteBySession(sessionID)
	if err != nil {
		return false, err
	}
	if removed {
		for _, s := range subdomains {
			o.cache.Invalidate(s)
		}
		o.scheduleReload()
	}
	return removed, nil
}

// CleanupExpired purges routes older than maxAge and reloads if any
// were removed, for the periodic sweeper's route half.
func (o *Orchestrator) CleanupExpired(maxAge time.Duration) (int, error) {
	n, err := o.registry.PurgeRoutesOlderThan(time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.cache.InvalidateAll()
		o.scheduleReload()
	}
	return int(n), nil
}

// scheduleReload coalesces bursts of route changes into a single
// regeneration ReloadDebounce after the last one, rather than rewriting
// the config file on every single add_route/remove_route call.
func (o *Orchestrator) scheduleReload() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.reloadQueued = true
	if o.reloadTimer != nil {
		return
	}
	o.reloadTimer = time.AfterFunc(ReloadDebounce, o.runScheduledReload)
}

func (o *Orchestrator) runScheduledReload() {
	o.mu.Lock()
	o.reloadTimer = nil
	queued := o.reloadQueued
	o.reloadQueued = false
	if o.reloading {
		// A reload is already in flight; it will itself re-check
		// reloadQueued isn't visible to it, so schedule another.
		if queued {
			o.reloadTimer = time.AfterFunc(ReloadDebounce, o.runScheduledReload)
		}
		o.mu.Unlock()
		return
	}
	o.reloading = true
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), ReloadTimeout)
	defer cancel()
	start := time.Now()
	err := o.Reload(ctx)
	metrics.Get().RecordProxyReload(err == nil, time.Since(start).Seconds())
	if err != nil {
		logging.L().Error("proxy config reload failed", zap.Error(err))
	}

	o.mu.Lock()
	o.reloading = false
	o.mu.Unlock()
}

// Reload regenerates and atomically writes the fronting-proxy config
// from the registry's current route set. Safe to call directly (e.g.
// from an admin command) in addition to the debounced path.
func (o *Orchestrator) Reload(ctx context.Context) error {
	routes, err := o.registry.ListRoutes()
	if err != nil {
		return err
	}
	contents := renderConfig(o.opts, routes)
	if err := ctx.Err(); err != nil {
		return err
	}
	return writeConfigAtomically(o.configPath, contents)
}

// Health reports whether the orchestrator can currently read the
// registry's route set, the cheapest meaningful liveness signal.
func (o *Orchestrator) Health() bool {
	_, err := o.registry.ListRoutes()
	return err == nil
}
