package registry

import "time"

// SiteStatus mirrors the top-level status a Site reports to callers.
type SiteStatus string

const (
	SiteStopped  SiteStatus = "stopped"
	SiteBuilding SiteStatus = "building"
	SiteRunning  SiteStatus = "running"
	SiteFailed   SiteStatus = "failed"
)

// Visibility controls whether a site's production route is reachable
// without an editing session.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Site is the persistent record of a deployable unit. Name is the unique,
// DNS-safe identifier callers address it by; Path is its checkout on disk.
type Site struct {
	ID             uint       `gorm:"primaryKey"`
	Name           string     `gorm:"uniqueIndex;size:80;not null"`
	Path           string     `gorm:"not null"`
	GitURL         string     `gorm:"size:500"`
	OwnerUserID    uint       `gorm:"index;not null"`
	Visibility     Visibility `gorm:"size:16;not null;default:private"`
	Status         SiteStatus `gorm:"size:16;not null;default:stopped"`
	ContainerID    string     `gorm:"size:120"`
	Port           int
	Env            EnvMap `gorm:"type:text"`
	CreatedAt      time.Time
	LastDeployedAt *time.Time
}

// EditingSessionStatus is C6's session status.
type EditingSessionStatus string

const (
	SessionActive    EditingSessionStatus = "active"
	SessionDeploying EditingSessionStatus = "deploying"
	SessionInactive  EditingSessionStatus = "inactive"
	SessionFailed    EditingSessionStatus = "failed"
)

// EditingSessionMode distinguishes a hands-on edit from a read-only
// preview of someone else's branch.
type EditingSessionMode string

const (
	ModeEdit    EditingSessionMode = "edit"
	ModePreview EditingSessionMode = "preview"
)

// EditingSession is one active author-on-branch context (C6).
type EditingSession struct {
	ID            uint   `gorm:"primaryKey"`
	UserID        uint   `gorm:"index;not null"`
	SiteName      string `gorm:"index;size:80;not null"`
	BranchName    string `gorm:"uniqueIndex;size:120;not null"`
	ContainerName string `gorm:"size:140"`
	PreviewPort   int
	PreviewURL    string `gorm:"size:255"`
	Status        EditingSessionStatus `gorm:"size:16;not null;default:active"`
	Mode          EditingSessionMode   `gorm:"size:16;not null;default:edit"`
	BaseCommit    string               `gorm:"size:64"`
	CurrentCommit string               `gorm:"size:64"`
	CommitsCount  int
	CreatedAt     time.Time
	LastActivity  time.Time
	ExpiresAt     time.Time
	AutoCleanup   bool `gorm:"default:true"`
}

// DynamicRoute is one subdomain mapping maintained by C5.
type DynamicRoute struct {
	ID         uint   `gorm:"primaryKey"`
	Subdomain  string `gorm:"uniqueIndex;size:180;not null"`
	TargetPort int    `gorm:"not null"`
	SessionID  *uint  `gorm:"index"`
	SiteName   string `gorm:"index;size:80;not null"`
	CreatedAt  time.Time
}

// BranchCommit is an append-only audit row linking a session commit to a
// branch.
type BranchCommit struct {
	ID         uint   `gorm:"primaryKey"`
	SessionID  uint   `gorm:"index;not null"`
	SiteName   string `gorm:"index;size:80;not null"`
	Branch     string `gorm:"size:120;not null"`
	CommitHash string `gorm:"size:64;not null"`
	Message    string `gorm:"size:500"`
	Author     string `gorm:"size:120"`
	CreatedAt  time.Time
}

// AdminSettings is the singleton row holding the single-user
// administrative login's password hash and the schema version last
// applied by this process.
type AdminSettings struct {
	ID                  uint `gorm:"primaryKey"`
	PasswordHash        string `gorm:"size:120"`
	LastMigrationApplied uint
	UpdatedAt           time.Time
}

// PortAllocation persists the port allocator's in-use set (C3 expansion)
// so a restart does not reissue a port still bound by a container
// discovered during C4's discover() sweep.
type PortAllocation struct {
	Name string `gorm:"primaryKey;size:140"`
	Port int    `gorm:"uniqueIndex;not null"`
	Role string `gorm:"size:16;not null"`
}
