// Package sessions is the editing session manager (C6): it ties one
// (user, site) to one git branch, one preview container, and one
// dynamic route, and runs the state machine and periodic sweeper that
// tear all three down again. Grounded on the teacher's preview-session
// bookkeeping (internal/sessions_src/preview.go's per-project session
// map, container_preview.go's cleanup loop) but rebuilt around the
// branch-and-container model instead of an in-memory bundled preview.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sitedeploy/internal/containers"
	"sitedeploy/internal/errs"
	"sitedeploy/internal/gitworkspace"
	"sitedeploy/internal/logging"
	"sitedeploy/internal/metrics"
	"sitedeploy/internal/ports"
	"sitedeploy/internal/proxy"
	"sitedeploy/internal/registry"
)

// Config carries the operational knobs the session manager needs
// beyond its collaborators: the per-user session cap, how long an idle
// session lives before the sweeper reclaims it, how often the sweeper
// runs, and the domain used to build preview URLs.
type Config struct {
	SessionCap      int
	SessionTTL      time.Duration
	SweeperInterval time.Duration
	Domain          string
}

func DefaultConfig() Config {
	return Config{
		SessionCap:      5,
		SessionTTL:      2 * time.Hour,
		SweeperInterval: 5 * time.Minute,
		Domain:          "dev.deploy",
	}
}

// Event is one lifecycle transition published on a session's broadcast
// channel, per the session-event-notifications expansion.
type Event struct {
	SessionID  uint
	Transition string
	At         time.Time
}

// Manager is C6.
type Manager struct {
	reg  *registry.Registry
	git  *gitworkspace.Service
	sup  *containers.Supervisor
	pool *ports.Allocator
	orch *proxy.Orchestrator
	cfg  Config

	mu    sync.Mutex
	locks map[uint]*sync.Mutex

	watchMu  sync.Mutex
	watchers map[uint]*fileWatcher

	subMu sync.Mutex
	subs  map[uint][]chan Event

	stopSweeper chan struct{}
}

func NewManager(reg *registry.Registry, git *gitworkspace.Service, sup *containers.Supervisor,
	pool *ports.Allocator, orch *proxy.Orchestrator, cfg Config) *Manager {
	return &Manager{
		reg:      reg,
		git:      git,
		sup:      sup,
		pool:     pool,
		orch:     orch,
		cfg:      cfg,
		locks:    make(map[uint]*sync.Mutex),
		watchers: make(map[uint]*fileWatcher),
		subs:     make(map[uint][]chan Event),
	}
}

func (m *Manager) lockFor(id uint) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Start implements the `start(user, site)` operation: enforce the
// per-user session cap, create a branch, start its preview container,
// and register its route.
func (m *Manager) Start(ctx context.Context, userID uint, siteName string) (*registry.EditingSession, error) {
	if err := m.enforceSessionCap(ctx, userID); err != nil {
		return nil, err
	}

	site, err := m.reg.GetSite(siteName)
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, "sessions.Start", err)
	}

	if err := m.git.Initialize(ctx, site.Path); err != nil {
		return nil, err
	}
	branch, err := m.git.CreateEditBranch(ctx, site.Path, "edit")
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session := &registry.EditingSession{
		UserID:       userID,
		SiteName:     siteName,
		BranchName:   branch,
		Status:       registry.SessionActive,
		Mode:         registry.ModeEdit,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(m.cfg.SessionTTL),
		AutoCleanup:  true,
	}
	if err := m.reg.CreateSession(session); err != nil {
		return nil, err
	}

	if err := m.startPreview(ctx, site, session); err != nil {
		session.Status = registry.SessionFailed
		_ = m.reg.UpdateSession(session)
		m.cleanupBestEffort(ctx, session)
		return nil, err
	}

	metrics.Get().RecordSessionStarted()
	m.publish(session.ID, "active")
	m.startWatcher(session, site.Path)
	return session, nil
}

// startPreview builds the preview container on the branch checkout and
// registers its route, steps 5-6 of `start`.
func (m *Manager) startPreview(ctx context.Context, site *registry.Site, session *registry.EditingSession) error {
	containerName := containers.PreviewContainerName(session.BranchName, session.SiteName)
	c, err := m.sup.CreateNamed(ctx, containers.Site{Name: site.Name, Path: site.Path, Env: site.Env}, containers.RolePreview, containerName)
	if err != nil {
		return err
	}

	subdomain := fmt.Sprintf("%s-%s.%s", session.BranchName, session.SiteName, m.cfg.Domain)
	if _, err := m.orch.AddRoute(&session.ID, session.SiteName, subdomain, c.Port); err != nil {
		return err
	}

	session.ContainerName = containerName
	session.PreviewPort = c.Port
	session.PreviewURL = "https://" + subdomain
	return m.reg.UpdateSession(session)
}

// enforceSessionCap force-cleans the least-recently-active session for
// userID if they are already at the cap.
func (m *Manager) enforceSessionCap(ctx context.Context, userID uint) error {
	active, err := m.reg.ActiveSessionsForUser(userID)
	if err != nil {
		return err
	}
	if len(active) < m.cfg.SessionCap {
		return nil
	}
	oldest := active[0]
	logging.S().Infow("session cap reached, force-cleaning oldest session", "user_id", userID, "session_id", oldest.ID)
	return m.Cleanup(ctx, oldest.ID)
}

// Commit implements `commit(session_id, message?, author?)`.
func (m *Manager) Commit(ctx context.Context, sessionID uint, message, author string) (string, error) {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.reg.GetSession(sessionID)
	if err != nil {
		return "", err
	}
	site, err := m.reg.GetSite(session.SiteName)
	if err != nil {
		return "", err
	}

	hash, err := m.git.Commit(ctx, site.Path, message, author)
	if err != nil {
		return "", err
	}
	if hash == "" {
		return "", nil
	}

	now := time.Now().UTC()
	session.CurrentCommit = hash
	session.CommitsCount++
	session.LastActivity = now
	if err := m.reg.UpdateSession(session); err != nil {
		return "", err
	}
	if err := m.reg.RecordCommit(&registry.BranchCommit{
		SessionID: sessionID, SiteName: session.SiteName, Branch: session.BranchName,
		CommitHash: hash, Message: message, Author: author, CreatedAt: now,
	}); err != nil {
		logging.L().Warn("commit audit row failed", zap.Uint("session_id", sessionID), zap.Error(err))
	}
	return hash, nil
}

// Deploy implements `deploy(session_id)`: merge to main, rebuild the
// production container, and tear the session down.
func (m *Manager) Deploy(ctx context.Context, sessionID uint) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.reg.GetSession(sessionID)
	if err != nil {
		return err
	}
	site, err := m.reg.GetSite(session.SiteName)
	if err != nil {
		return err
	}

	session.Status = registry.SessionDeploying
	if err := m.reg.UpdateSession(session); err != nil {
		return err
	}
	m.publish(sessionID, "deploying")

	if err := m.git.MergeToMain(ctx, site.Path, session.BranchName); err != nil {
		session.Status = registry.SessionFailed
		_ = m.reg.UpdateSession(session)
		m.publish(sessionID, "failed")
		return err
	}

	prodName := containers.ContainerName(site.Name, containers.RoleProduction)
	container, err := m.sup.Restart(ctx, containers.Site{Name: site.Name, Path: site.Path, Env: site.Env}, containers.RoleProduction, prodName)
	if err != nil {
		session.Status = registry.SessionFailed
		_ = m.reg.UpdateSession(session)
		m.publish(sessionID, "failed")
		return err
	}
	_ = m.reg.UpdateSiteStatus(site.Name, registry.SiteRunning, prodName, container.Port)

	m.cleanupLocked(ctx, session, false)
	metrics.Get().RecordSessionEnded(false)
	return nil
}

// Cancel implements `cancel(session_id)`.
func (m *Manager) Cancel(ctx context.Context, sessionID uint) error {
	session, err := m.reg.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.Status = registry.SessionInactive
	if err := m.reg.UpdateSession(session); err != nil {
		return err
	}
	return m.Cleanup(ctx, sessionID)
}

// Cleanup implements `cleanup(session_id)`: best-effort teardown of the
// route, container, branch, and session row, in that order.
func (m *Manager) Cleanup(ctx context.Context, sessionID uint) error {
	return m.cleanup(ctx, sessionID, false)
}

// CleanupExpired is Cleanup for a session the sweeper is reclaiming past
// its TTL, distinguished only so the occupancy metric can tell expiry
// apart from a normal deploy/cancel.
func (m *Manager) CleanupExpired(ctx context.Context, sessionID uint) error {
	return m.cleanup(ctx, sessionID, true)
}

func (m *Manager) cleanup(ctx context.Context, sessionID uint, expired bool) error {
	lock := m.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := m.reg.GetSession(sessionID)
	if err != nil {
		return err
	}
	m.cleanupLocked(ctx, session, expired)
	metrics.Get().RecordSessionEnded(expired)
	return nil
}

func (m *Manager) cleanupLocked(ctx context.Context, session *registry.EditingSession, expired bool) {
	defer m.publish(session.ID, "removed")
	m.stopWatcher(session.ID)

	if _, err := m.orch.RemoveRoute(session.ID); err != nil {
		logging.L().Warn("session cleanup: remove route failed", zap.Uint("session_id", session.ID), zap.Error(err))
	}
	if session.ContainerName != "" {
		if err := m.sup.Stop(ctx, session.ContainerName); err != nil {
			logging.L().Warn("session cleanup: stop container failed", zap.Uint("session_id", session.ID), zap.Error(err))
		}
	}

	site, err := m.reg.GetSite(session.SiteName)
	if err == nil {
		force := session.Status == registry.SessionInactive || session.Status == registry.SessionFailed
		if err := m.git.DeleteBranch(ctx, site.Path, session.BranchName, force); err != nil {
			logging.L().Warn("session cleanup: delete branch failed", zap.Uint("session_id", session.ID), zap.Error(err))
		}
	}

	if err := m.reg.DeleteSession(session.ID); err != nil {
		logging.L().Warn("session cleanup: delete session row failed", zap.Uint("session_id", session.ID), zap.Error(err))
	}
}

// cleanupBestEffort is cleanupLocked for a session that never made it
// past Start: it has no caller holding the session's lock yet.
func (m *Manager) cleanupBestEffort(ctx context.Context, session *registry.EditingSession) {
	lock := m.lockFor(session.ID)
	lock.Lock()
	defer lock.Unlock()
	m.cleanupLocked(ctx, session, false)
}

// UpdateActivity bumps last_activity, postponing the sweeper's expiry.
func (m *Manager) UpdateActivity(sessionID uint) error {
	session, err := m.reg.GetSession(sessionID)
	if err != nil {
		return err
	}
	session.LastActivity = time.Now().UTC()
	return m.reg.UpdateSession(session)
}

// Subscribe returns a channel receiving this session's lifecycle
// events until Unsubscribe is called, for the session-event
// notifications expansion.
func (m *Manager) Subscribe(sessionID uint) chan Event {
	ch := make(chan Event, 8)
	m.subMu.Lock()
	m.subs[sessionID] = append(m.subs[sessionID], ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(sessionID uint, ch chan Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	subs := m.subs[sessionID]
	for i, s := range subs {
		if s == ch {
			m.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(sessionID uint, transition string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	event := Event{SessionID: sessionID, Transition: transition, At: time.Now().UTC()}
	for _, ch := range m.subs[sessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
