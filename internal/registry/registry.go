// Package registry is the site registry (C7): the single source of
// truth for Sites, EditingSessions, DynamicRoutes, and BranchCommits,
// backed by a GORM connection (sqlite by default, postgres optionally).
package registry

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"sitedeploy/internal/errs"
)

// Registry is C7. All mutation of Sites and EditingSessions goes through
// it; other components may snapshot-read.
type Registry struct {
	db *gorm.DB
}

// New wraps an already-connected GORM database.
func New(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

// CreateSite inserts a new site. Returns a ConflictError if the name is
// already registered.
func (r *Registry) CreateSite(site *Site) error {
	if err := r.db.Create(site).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.CreateSite", err)
	}
	return nil
}

func (r *Registry) GetSite(name string) (*Site, error) {
	var site Site
	if err := r.db.Where("name = ?", name).First(&site).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.GetSite", err)
	}
	return &site, nil
}

func (r *Registry) GetSiteByID(id uint) (*Site, error) {
	var site Site
	if err := r.db.First(&site, id).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.GetSiteByID", err)
	}
	return &site, nil
}

func (r *Registry) ListSites() ([]Site, error) {
	var sites []Site
	if err := r.db.Order("name").Find(&sites).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.ListSites", err)
	}
	return sites, nil
}

// UpdateSiteStatus is called by the deploy paths (the API's site deploy
// and the session manager's Deploy) whenever a site's production
// container changes state.
func (r *Registry) UpdateSiteStatus(name string, status SiteStatus, containerID string, port int) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"status":       status,
		"container_id": containerID,
		"port":         port,
	}
	if status == SiteRunning {
		updates["last_deployed_at"] = &now
	}
	if err := r.db.Model(&Site{}).Where("name = ?", name).Updates(updates).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.UpdateSiteStatus", err)
	}
	return nil
}

// UpdateSiteEnv replaces a site's environment map wholesale.
func (r *Registry) UpdateSiteEnv(name string, env map[string]string) error {
	if err := r.db.Model(&Site{}).Where("name = ?", name).Update("env", EnvMap(env)).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.UpdateSiteEnv", err)
	}
	return nil
}

// UpdateSiteVisibility flips a site between public and private.
func (r *Registry) UpdateSiteVisibility(name string, visibility Visibility) error {
	if err := r.db.Model(&Site{}).Where("name = ?", name).Update("visibility", visibility).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.UpdateSiteVisibility", err)
	}
	return nil
}

// DeleteSite removes a site's record. The caller is responsible for
// tearing down its container and any session first.
func (r *Registry) DeleteSite(name string) error {
	if err := r.db.Where("name = ?", name).Delete(&Site{}).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.DeleteSite", err)
	}
	return nil
}

// CreateSession inserts a new editing session. Callers must ensure no
// other active session exists for (user, site) before calling this; the
// uniqueness invariant is enforced by the editing session manager, not
// by a database constraint, since "active" is a value of a mutable
// status column rather than something a unique index can express.
func (r *Registry) CreateSession(session *EditingSession) error {
	if err := r.db.Create(session).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.CreateSession", err)
	}
	return nil
}

func (r *Registry) GetActiveSession(userID uint, siteName string) (*EditingSession, error) {
	var session EditingSession
	err := r.db.Where("user_id = ? AND site_name = ? AND status IN ?", userID, siteName,
		[]EditingSessionStatus{SessionActive, SessionDeploying}).First(&session).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.GetActiveSession", err)
	}
	return &session, nil
}

// ActiveSessionsForUser returns every session for userID in a state that
// counts against the per-user session cap, oldest-first by activity, so
// the caller can force-cleanup the least-recently-used one.
func (r *Registry) ActiveSessionsForUser(userID uint) ([]EditingSession, error) {
	var sessions []EditingSession
	err := r.db.Where("user_id = ? AND status IN ?", userID,
		[]EditingSessionStatus{SessionActive, SessionDeploying, SessionInactive}).
		Order("last_activity asc").Find(&sessions).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.ActiveSessionsForUser", err)
	}
	return sessions, nil
}

// SessionsForSite returns every session against siteName in a state that
// still has a running preview container, for C7's delete_site teardown.
func (r *Registry) SessionsForSite(siteName string) ([]EditingSession, error) {
	var sessions []EditingSession
	err := r.db.Where("site_name = ? AND status IN ?", siteName,
		[]EditingSessionStatus{SessionActive, SessionDeploying, SessionInactive}).Find(&sessions).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.SessionsForSite", err)
	}
	return sessions, nil
}

func (r *Registry) GetSession(id uint) (*EditingSession, error) {
	var session EditingSession
	if err := r.db.First(&session, id).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.GetSession", err)
	}
	return &session, nil
}

func (r *Registry) UpdateSession(session *EditingSession) error {
	if err := r.db.Save(session).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.UpdateSession", err)
	}
	return nil
}

func (r *Registry) DeleteSession(id uint) error {
	if err := r.db.Delete(&EditingSession{}, id).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.DeleteSession", err)
	}
	return nil
}

// ExpiredSessions returns sessions whose expires_at has passed and that
// are marked for automatic cleanup, for the periodic sweeper.
func (r *Registry) ExpiredSessions(now time.Time) ([]EditingSession, error) {
	var sessions []EditingSession
	err := r.db.Where("auto_cleanup = ? AND expires_at < ? AND status != ?", true, now, SessionInactive).
		Find(&sessions).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.ExpiredSessions", err)
	}
	return sessions, nil
}

// AddRoute inserts a dynamic route, replacing any existing route for the
// same subdomain.
func (r *Registry) AddRoute(route *DynamicRoute) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subdomain = ?", route.Subdomain).Delete(&DynamicRoute{}).Error; err != nil {
			return err
		}
		return tx.Create(route).Error
	})
}

func (r *Registry) RemoveRouteBySession(sessionID uint) (bool, error) {
	result := r.db.Where("session_id = ?", sessionID).Delete(&DynamicRoute{})
	if result.Error != nil {
		return false, errs.Wrap(errs.KindConflict, "registry.RemoveRouteBySession", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *Registry) ListRoutes() ([]DynamicRoute, error) {
	var routes []DynamicRoute
	if err := r.db.Find(&routes).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.ListRoutes", err)
	}
	return routes, nil
}

func (r *Registry) GetRouteBySubdomain(subdomain string) (*DynamicRoute, error) {
	var route DynamicRoute
	if err := r.db.Where("subdomain = ?", subdomain).First(&route).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.GetRouteBySubdomain", err)
	}
	return &route, nil
}

// PurgeRoutesOlderThan deletes routes whose created_at predates the
// cutoff, for C5's cleanup_expired.
func (r *Registry) PurgeRoutesOlderThan(cutoff time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", cutoff).Delete(&DynamicRoute{})
	if result.Error != nil {
		return 0, errs.Wrap(errs.KindConflict, "registry.PurgeRoutesOlderThan", result.Error)
	}
	return result.RowsAffected, nil
}

// RecordCommit appends an audit row for a commit made inside a session.
func (r *Registry) RecordCommit(commit *BranchCommit) error {
	if err := r.db.Create(commit).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.RecordCommit", err)
	}
	return nil
}

// SavePortAllocation persists one name->port binding so a restart does
// not reissue it.
func (r *Registry) SavePortAllocation(name string, port int, role string) error {
	alloc := PortAllocation{Name: name, Port: port, Role: role}
	if err := r.db.Save(&alloc).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.SavePortAllocation", err)
	}
	return nil
}

func (r *Registry) DeletePortAllocation(name string) error {
	if err := r.db.Where("name = ?", name).Delete(&PortAllocation{}).Error; err != nil {
		return errs.Wrap(errs.KindConflict, "registry.DeletePortAllocation", err)
	}
	return nil
}

// LoadPortAllocations returns the persisted name->port set, for seeding
// the in-memory allocator at startup.
func (r *Registry) LoadPortAllocations() (map[string]int, error) {
	var rows []PortAllocation
	if err := r.db.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(errs.KindConflict, "registry.LoadPortAllocations", err)
	}
	out := make(map[string]int, len(rows))
	for _, row := range rows {
		out[row.Name] = row.Port
	}
	return out, nil
}

// bcryptCost is deliberately the library default rather than a
// hand-tuned value: this hash protects a single administrative
// credential, not a high-volume login path, so the slower adaptive cost
// is a feature, not a latency budget to optimize away.
const bcryptCost = bcrypt.DefaultCost

// SetAdminPassword hashes and stores the single administrator password.
func (r *Registry) SetAdminPassword(plaintext string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return errs.Wrap(errs.KindConflict, "registry.SetAdminPassword", err)
	}

	var settings AdminSettings
	err = r.db.First(&settings, 1).Error
	settings.ID = 1
	settings.PasswordHash = string(hash)
	settings.UpdatedAt = time.Now().UTC()

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		err = r.db.Create(&settings).Error
	case err != nil:
		return errs.Wrap(errs.KindConflict, "registry.SetAdminPassword", err)
	default:
		err = r.db.Save(&settings).Error
	}
	if err != nil {
		return errs.Wrap(errs.KindConflict, "registry.SetAdminPassword", err)
	}
	return nil
}

// VerifyAdminPassword reports whether plaintext matches the stored hash.
func (r *Registry) VerifyAdminPassword(plaintext string) (bool, error) {
	var settings AdminSettings
	if err := r.db.First(&settings, 1).Error; err != nil {
		return false, errs.Wrap(errs.KindConflict, "registry.VerifyAdminPassword", err)
	}
	return bcrypt.CompareHashAndPassword([]byte(settings.PasswordHash), []byte(plaintext)) == nil, nil
}
