package sessions

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"sitedeploy/internal/containers"
	"sitedeploy/internal/logging"
	"sitedeploy/internal/registry"
)

// manifestNames are the files whose change always forces a preview
// restart, regardless of what hasFileWatching concludes about the dev
// server, since they can change the install/start command entirely.
var manifestNames = map[string]bool{
	"package.json": true,
	"go.mod":       true,
	"Pipfile":      true,
	"requirements.txt": true,
}

// watchDevDependencies are devDependency/dependency names whose presence
// implies the project's own dev server already hot-reloads on save.
var watchDevDependencies = []string{"vite", "nodemon", "webpack-dev-server", "next"}

type fileWatcher struct {
	watcher *fsnotify.Watcher
	cancel  func()
}

// startWatcher registers a filesystem watch on the site's working
// directory for the lifetime of the session, implementing the
// file-watching-probe expansion: the watch itself is what lets the
// session manager learn about a save without the router calling
// UpdateActivity for every keystroke-triggered autosave.
func (m *Manager) startWatcher(session *registry.EditingSession, sitePath string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.L().Warn("session file watcher unavailable", zap.Uint("session_id", session.ID), zap.Error(err))
		return
	}
	if err := addRecursive(watcher, sitePath); err != nil {
		logging.L().Warn("session file watcher could not walk site path", zap.Uint("session_id", session.ID), zap.Error(err))
		watcher.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &fileWatcher{watcher: watcher, cancel: cancel}

	m.watchMu.Lock()
	m.watchers[session.ID] = fw
	m.watchMu.Unlock()

	go m.runWatcher(ctx, watcher, session.ID, sitePath)
}

func (m *Manager) stopWatcher(sessionID uint) {
	m.watchMu.Lock()
	fw, ok := m.watchers[sessionID]
	delete(m.watchers, sessionID)
	m.watchMu.Unlock()
	if !ok {
		return
	}
	fw.cancel()
	fw.watcher.Close()
}

func (m *Manager) runWatcher(ctx context.Context, watcher *fsnotify.Watcher, sessionID uint, sitePath string) {
	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	var manifestTouched bool

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if manifestNames[filepath.Base(event.Name)] {
				manifestTouched = true
			}
			debounce.Reset(300 * time.Millisecond)
		case <-debounce.C:
			m.onSave(ctx, sessionID, sitePath, manifestTouched)
			manifestTouched = false
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.L().Warn("session file watcher error", zap.Uint("session_id", sessionID), zap.Error(err))
		}
	}
}

// onSave applies the restart-on-save policy: a manifest change always
// restarts; otherwise restart only if the site has no dev server that
// would already hot-reload.
func (m *Manager) onSave(ctx context.Context, sessionID uint, sitePath string, manifestTouched bool) {
	_ = m.UpdateActivity(sessionID)

	if !manifestTouched && hasFileWatching(sitePath) {
		return
	}

	session, err := m.reg.GetSession(sessionID)
	if err != nil || session.ContainerName == "" {
		return
	}
	site, err := m.reg.GetSite(session.SiteName)
	if err != nil {
		return
	}

	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.sup.Restart(ctx, containers.Site{Name: site.Name, Path: site.Path, Env: site.Env}, containers.RolePreview, session.ContainerName); err != nil {
		logging.L().Warn("preview restart-on-save failed", zap.Uint("session_id", sessionID), zap.Error(err))
	}
}

// hasFileWatching inspects package.json for a dev server dependency
// known to hot-reload on its own, so a routine save does not need a
// container restart.
func hasFileWatching(sitePath string) bool {
	data, err := os.ReadFile(filepath.Join(sitePath, "package.json"))
	if err != nil {
		return false
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return false
	}
	for _, name := range watchDevDependencies {
		if _, ok := pkg.Dependencies[name]; ok {
			return true
		}
		if _, ok := pkg.DevDependencies[name]; ok {
			return true
		}
	}
	return false
}

// addRecursive walks root and watches every directory, skipping the
// usual dependency/VCS directories a save inside never needs to
// restart for anyway.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	skip := map[string]bool{"node_modules": true, ".git": true, "dist": true, "build": true}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if skip[filepath.Base(path)] {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}
