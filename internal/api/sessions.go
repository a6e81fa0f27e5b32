package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// startEdit implements `POST /api/sites/:id/edit/start`.
func (h *handlers) startEdit(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	session, err := h.deps.Sessions.Start(c.Request.Context(), callerUserID(c), site.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id":  session.ID,
		"branch":      session.BranchName,
		"preview_url": session.PreviewURL,
		"status":      session.Status,
	})
}

// editStatus implements `GET /api/sites/:id/edit/status`.
func (h *handlers) editStatus(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	session, err := h.deps.Registry.GetActiveSession(callerUserID(c), site.Name)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"session": nil})
		return
	}

	containerStatus := "error"
	if session.ContainerName != "" {
		if cont, ok := h.deps.Supervisor.Get(session.ContainerName); ok {
			switch cont.Status {
			case "running":
				containerStatus = "running"
			case "building":
				containerStatus = "building"
			default:
				containerStatus = "error"
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"session":          session,
		"containerStatus":  containerStatus,
	})
}

func (h *handlers) sessionID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("sid"), 10, 64)
	if err != nil {
		badRequest(c, "invalid session id")
		return 0, false
	}
	return uint(id), true
}

// commitEdit implements `POST /api/sites/:id/edit/:sid/commit`.
func (h *handlers) commitEdit(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
		Author  string `json:"author"`
	}
	_ = c.ShouldBindJSON(&req)

	hash, err := h.deps.Sessions.Commit(c.Request.Context(), id, req.Message, req.Author)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commit": hash})
}

// deployEdit implements `POST /api/sites/:id/edit/:sid/deploy`.
func (h *handlers) deployEdit(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.deps.Sessions.Deploy(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// cancelEdit implements `DELETE /api/sites/:id/edit/:sid`.
func (h *handlers) cancelEdit(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	if err := h.deps.Sessions.Cancel(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
