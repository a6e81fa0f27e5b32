// Package api is the thin binding layer named in the external-interfaces
// expansion: it mounts the inbound HTTP surface onto C1-C7 and performs
// no authentication, templating, or editor-UI concerns of its own.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"sitedeploy/internal/buildplan"
	"sitedeploy/internal/config"
	"sitedeploy/internal/containers"
	"sitedeploy/internal/gitworkspace"
	"sitedeploy/internal/middleware"
	"sitedeploy/internal/proxy"
	"sitedeploy/internal/registry"
	"sitedeploy/internal/sessions"
)

// Deps bundles the components the router dispatches to (every one of
// C1-C7 except the port allocator, which only C4 and C6 use). The API
// layer owns none of their state; it only translates HTTP requests into
// calls against them.
type Deps struct {
	Registry    *registry.Registry
	Git         *gitworkspace.Service
	Resolver    *buildplan.Resolver
	Supervisor  *containers.Supervisor
	Orchestrator *proxy.Orchestrator
	Sessions    *sessions.Manager
	Cfg         config.Config
}

// New builds the gin engine with the full middleware chain and every
// route named in the external-interfaces table mounted.
func New(deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	limiter := middleware.NewIPRateLimiter(rate.Limit(200), 50)
	r.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.CORS([]string{"https://" + deps.Cfg.EditorDomain, "http://localhost:5173"}),
		middleware.Security(),
		middleware.RateLimit(limiter),
		middleware.Timeout(30*time.Second),
	)

	h := &handlers{deps: deps}

	r.GET("/health", h.health)
	r.GET("/metrics", h.metrics)

	api := r.Group("/api")
	{
		api.POST("/sites", h.createSite)
		api.GET("/sites", h.listSites)
		api.GET("/sites/:id", h.getSite)
		api.PATCH("/sites/:id", h.patchSite)
		api.DELETE("/sites/:id", h.deleteSite)
		api.POST("/sites/:id/deploy", h.deploySite)
		api.PATCH("/sites/:id/env", h.patchSiteEnv)

		api.POST("/sites/:id/edit/start", h.startEdit)
		api.GET("/sites/:id/edit/status", h.editStatus)
		api.POST("/sites/:id/edit/:sid/commit", h.commitEdit)
		api.POST("/sites/:id/edit/:sid/deploy", h.deployEdit)
		api.DELETE("/sites/:id/edit/:sid", h.cancelEdit)

		api.GET("/sites/:id/tree", h.fileTree)
		api.GET("/sites/:id/file/*path", h.readFile)
		api.PUT("/sites/:id/file/*path", h.writeFile)
		api.POST("/sites/:id/file/*path", h.writeFile)
		api.DELETE("/sites/:id/file/*path", h.deleteFile)
	}

	return r
}

type handlers struct {
	deps Deps
}
