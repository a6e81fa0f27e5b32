package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"sitedeploy/internal/logging"
)

// Router is the in-process fallback routing surface: given a request's
// Host header, it re-derives the same subdomain->container decision C5
// writes into the fronting-proxy config, and reverse-proxies directly.
// This is what the config file's root-domain and wildcard blocks proxy
// to, and it gives the control plane a working request path before an
// operator has wired an external proxy at all.
type Router struct {
	domain       string
	editorDomain string
	lookup       RouteLookup
}

// RouteLookup resolves a subdomain to an upstream port, consulting the
// route snapshot cache described in the proxy orchestrator's expansion.
type RouteLookup interface {
	Lookup(subdomain string) (port int, ok bool)
}

// NewRouter constructs the in-process router. domain is the wildcard
// base domain (requests for bare `domain` or unmatched subdomains return
// 404 rather than looping back into the fronting proxy).
func NewRouter(domain, editorDomain string, lookup RouteLookup) *Router {
	return &Router{domain: domain, editorDomain: editorDomain, lookup: lookup}
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subdomain := rt.extractSubdomain(r.Host)
	if subdomain == "" {
		rt.serveStatus(w, http.StatusNotFound, "unknown host")
		return
	}

	port, ok := rt.lookup.Lookup(subdomain + "." + rt.domain)
	if !ok {
		rt.serveStatus(w, http.StatusNotFound, "no route for "+subdomain)
		return
	}

	rt.proxyTo(w, r, port)
}

func (rt *Router) extractSubdomain(host string) string {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	suffix := "." + rt.domain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	return strings.TrimSuffix(host, suffix)
}

func (rt *Router) proxyTo(w http.ResponseWriter, r *http.Request, port int) {
	target, err := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
	if err != nil {
		rt.serveStatus(w, http.StatusInternalServerError, "bad upstream")
		return
	}

	reverseProxy := &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			if clientIP, _, ok := strings.Cut(req.RemoteAddr, ":"); ok {
				req.Header.Set("X-Forwarded-For", clientIP)
			}
			req.Header.Set("X-Forwarded-Host", r.Host)
			req.Header.Set("X-Forwarded-Proto", "https")
		},
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Set("X-Content-Type-Options", "nosniff")
			resp.Header.Set("X-Frame-Options", "SAMEORIGIN")
			resp.Header.Set("Content-Security-Policy", fmt.Sprintf("frame-ancestors 'self' https://%s", rt.editorDomain))
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logging.L().Warn("proxy upstream error", zap.Int("port", port), zap.Error(err))
			rt.serveStatus(w, http.StatusBadGateway, "upstream unavailable")
		},
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	reverseProxy.ServeHTTP(w, r)
}

func (rt *Router) serveStatus(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, message)
}
