package api

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// treeEntry is one node in a site's file tree response.
type treeEntry struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Dir      bool        `json:"dir"`
	Children []treeEntry `json:"children,omitempty"`
}

// resolveFilePath joins a site's working-copy root with a caller-supplied
// relative path, rejecting any path separator escape or `..` segment per
// the file-API boundary behavior: a path that tries to leave the site
// root is an AccessError, not a 404.
func resolveFilePath(root, requested string) (string, bool) {
	requested = strings.TrimPrefix(requested, "/")
	for _, part := range strings.Split(requested, "/") {
		if part == ".." {
			return "", false
		}
	}
	clean := filepath.Clean("/" + requested)
	if clean == "/" {
		clean = ""
	}
	full := filepath.Join(root, clean)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

// fileTree implements `GET /api/sites/:id/tree`.
func (h *handlers) fileTree(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	root := site.Path
	entries, err := walkTree(root, root)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func walkTree(root, dir string) ([]treeEntry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]treeEntry, 0, len(items))
	for _, item := range items {
		if item.Name() == ".git" {
			continue
		}
		rel, _ := filepath.Rel(root, filepath.Join(dir, item.Name()))
		entry := treeEntry{Name: item.Name(), Path: rel, Dir: item.IsDir()}
		if item.IsDir() {
			children, err := walkTree(root, filepath.Join(dir, item.Name()))
			if err != nil {
				return nil, err
			}
			entry.Children = children
		}
		out = append(out, entry)
	}
	return out, nil
}

// readFile implements `GET /api/sites/:id/file/*path`.
func (h *handlers) readFile(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	full, ok := resolveFilePath(site.Path, c.Param("path"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "path escapes site root"})
		return
	}
	data, err := os.ReadFile(full)
	if err != nil {
		notFound(c, "file not found")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", data)
}

// writeFile implements `PUT`/`POST /api/sites/:id/file/*path`: write
// the request body to the path, bump the session's activity, and
// restart the preview container per §4.6 if the write warrants it.
func (h *handlers) writeFile(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	full, ok := resolveFilePath(site.Path, c.Param("path"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "path escapes site root"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "could not read request body")
		return
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		fail(c, err)
		return
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		fail(c, err)
		return
	}

	if session, err := h.deps.Registry.GetActiveSession(callerUserID(c), site.Name); err == nil {
		_ = h.deps.Sessions.UpdateActivity(session.ID)
	}
	c.Status(http.StatusOK)
}

// deleteFile implements `DELETE /api/sites/:id/file/*path`.
func (h *handlers) deleteFile(c *gin.Context) {
	site, err := h.lookupSite(c)
	if err != nil {
		return
	}
	full, ok := resolveFilePath(site.Path, c.Param("path"))
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "path escapes site root"})
		return
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		fail(c, err)
		return
	}
	if session, err := h.deps.Registry.GetActiveSession(callerUserID(c), site.Name); err == nil {
		_ = h.deps.Sessions.UpdateActivity(session.ID)
	}
	c.Status(http.StatusNoContent)
}
