package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// health reports the control plane's own liveness plus the proxy
// orchestrator's registry reachability, the cheapest signal it exposes.
func (h *handlers) health(c *gin.Context) {
	status := http.StatusOK
	healthy := h.deps.Orchestrator.Health()
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": "ok", "proxy_healthy": healthy})
}

// metrics exposes the Prometheus collectors registered across C1-C7.
func (h *handlers) metrics(c *gin.Context) {
	promhttp.Handler().ServeHTTP(c.Writer, c.Request)
}
