package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sitedeploy/internal/containers"
	"sitedeploy/internal/registry"
)

type createSiteRequest struct {
	Name   string `json:"name" binding:"required"`
	GitURL string `json:"git_url"`
	Type   string `json:"type"`
}

// createSite implements `POST /api/sites`.
func (h *handlers) createSite(c *gin.Context) {
	var req createSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	path := h.deps.Cfg.RootDir + "/" + req.Name
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Minute)
	defer cancel()

	if req.GitURL != "" {
		if err := h.deps.Git.Clone(ctx, req.GitURL, path); err != nil {
			fail(c, err)
			return
		}
	} else if err := h.deps.Git.Initialize(ctx, path); err != nil {
		fail(c, err)
		return
	}

	site := &registry.Site{
		Name:        req.Name,
		Path:        path,
		GitURL:      req.GitURL,
		OwnerUserID: callerUserID(c),
		Visibility:  registry.VisibilityPrivate,
		Status:      registry.SiteStopped,
	}
	if err := h.deps.Registry.CreateSite(site); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, site)
}

func (h *handlers) listSites(c *gin.Context) {
	sites, err := h.deps.Registry.ListSites()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sites)
}

func (h *handlers) getSite(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, site)
}

type patchSiteRequest struct {
	Visibility *registry.Visibility `json:"visibility"`
}

// patchSite implements `PATCH /api/sites/:id`. Only visibility is
// mutable this way; environment changes go through the dedicated `/env`
// route named in the external-interfaces table.
func (h *handlers) patchSite(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	var req patchSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.Visibility != nil {
		site.Visibility = *req.Visibility
		if err := h.deps.Registry.UpdateSiteVisibility(site.Name, site.Visibility); err != nil {
			fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, site)
}

// deleteSite implements `DELETE /api/sites/:id`. Per the site lifecycle,
// deletion must also tear down anything the site still owns: its
// editing sessions (preview container, dynamic route, branch) and its
// production container. Sessions are cleaned up first and the site row
// is only deleted once every one of them has gone; a cleanup failure
// aborts before the site row is touched; rather than leave the site row
// committed with its container and sessions only half torn down.
func (h *handlers) deleteSite(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	ctx := c.Request.Context()

	sessionsForSite, err := h.deps.Registry.SessionsForSite(site.Name)
	if err != nil {
		fail(c, err)
		return
	}
	for _, session := range sessionsForSite {
		if err := h.deps.Sessions.Cleanup(ctx, session.ID); err != nil {
			fail(c, err)
			return
		}
	}

	prodName := containers.ContainerName(site.Name, containers.RoleProduction)
	_ = h.deps.Supervisor.Stop(ctx, prodName)
	if err := h.deps.Registry.DeleteSite(site.Name); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type patchSiteEnvRequest struct {
	Env map[string]string `json:"env" binding:"required"`
}

func (h *handlers) patchSiteEnv(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	var req patchSiteEnvRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.deps.Registry.UpdateSiteEnv(site.Name, req.Env); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// deploySite implements `POST /api/sites/:id/deploy`: triggers a
// production rebuild and returns immediately, the work itself runs
// asynchronously per the external-interfaces table.
func (h *handlers) deploySite(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	go h.runDeploy(*site)
	c.JSON(http.StatusOK, gin.H{"site_id": site.ID})
}

func (h *handlers) runDeploy(site registry.Site) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	name := containers.ContainerName(site.Name, containers.RoleProduction)
	_ = h.deps.Registry.UpdateSiteStatus(site.Name, registry.SiteBuilding, "", 0)

	cs := containers.Site{Name: site.Name, Path: site.Path, Env: site.Env}
	container, err := h.deps.Supervisor.Restart(ctx, cs, containers.RoleProduction, name)
	if err != nil {
		_ = h.deps.Registry.UpdateSiteStatus(site.Name, registry.SiteFailed, "", 0)
		return
	}
	_ = h.deps.Registry.UpdateSiteStatus(site.Name, registry.SiteRunning, name, container.Port)
}

func (h *handlers) lookupSite(c *gin.Context) (*registry.Site, error) {
	idParam := c.Param("id")
	if idParam != "" {
		if id, err := strconv.ParseUint(idParam, 10, 64); err == nil {
			site, err := h.deps.Registry.GetSiteByID(uint(id))
			if err != nil {
				fail(c, err)
				return nil, err
			}
			return site, nil
		}
		site, err := h.deps.Registry.GetSite(idParam)
		if err != nil {
			fail(c, err)
			return nil, err
		}
		return site, nil
	}
	name := c.Param("name")
	site, err := h.deps.Registry.GetSite(name)
	if err != nil {
		fail(c, err)
		return nil, err
	}
	return site, nil
}

// callerUserID is a placeholder identity source: authentication is out
// of this module's scope, so every request acts as a single fixed owner
// until a router in front of this API supplies a real caller identity.
func callerUserID(c *gin.Context) uint {
	if v := c.GetHeader("X-User-ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			return uint(id)
		}
	}
	return 1
}
