// Package ports allocates TCP ports to containers. Allocation and release
// happen under a single mutex; production and preview ranges are kept
// disjoint so concurrent scans for either role never race against each
// other.
package ports

import (
	"sync"

	"go.uber.org/zap"

	"sitedeploy/internal/logging"
	"sitedeploy/internal/metrics"
)

// Role is the purpose a port is allocated for.
type Role string

const (
	RoleProduction Role = "production"
	RolePreview    Role = "preview"
	RoleSession    Role = "session"
)

// Config sets the base of each role's port range.
type Config struct {
	ProductionBase int
	PreviewBase    int
	SessionBase    int
	RangeSize      int // max ports per range before allocation fails
}

// DefaultConfig matches the bases named in the specification.
func DefaultConfig() Config {
	return Config{
		ProductionBase: 3001,
		PreviewBase:    4001,
		SessionBase:    4001,
		RangeSize:      1000,
	}
}

// Persister durably records the name->port bindings an Allocator hands
// out, so a restarted process can seed NewAllocator's preallocated map
// instead of reissuing a port still bound by a running container.
type Persister interface {
	SavePortAllocation(name string, port int, role string) error
	DeletePortAllocation(name string) error
}

// Allocator hands out collision-free ports per (name, role).
type Allocator struct {
	mu         sync.Mutex
	cfg        Config
	byName     map[string]int  // container name -> allocated port
	roleByName map[string]Role // container name -> role, for metrics on release
	inUse      map[int]bool
	persister  Persister
}

// NewAllocator constructs an Allocator. Preallocated should list ports
// already bound to running containers discovered at startup (see C4's
// discover operation), so a restart never reissues them.
func NewAllocator(cfg Config, preallocated map[string]int) *Allocator {
	a := &Allocator{
		cfg:        cfg,
		byName:     make(map[string]int, len(preallocated)),
		roleByName: make(map[string]Role, len(preallocated)),
		inUse:      make(map[int]bool, len(preallocated)),
	}
	for name, port := range preallocated {
		a.byName[name] = port
		a.inUse[port] = true
	}
	return a
}

// SetPersister attaches durable storage for future Allocate/Release
// calls. It is separate from the constructor so every existing call site
// built around the preallocated-map recovery path keeps working
// unchanged; callers that want persistence opt in explicitly.
func (a *Allocator) SetPersister(p Persister) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.persister = p
}

// Allocate returns the port bound to name if one already exists (stability
// within a session's lifetime), otherwise scans the role's range for the
// lowest free port, reserves it, and returns it.
func (a *Allocator) Allocate(name string, role Role) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.byName[name]; ok {
		return port, nil
	}

	base := a.baseFor(role)
	for port := base; port < base+a.cfg.rangeSize(); port++ {
		if a.inUse[port] {
			continue
		}
		a.inUse[port] = true
		a.byName[name] = port
		a.roleByName[name] = role
		a.reportInUse(role)
		a.persist(name, port, role)
		return port, nil
	}
	return 0, ErrExhausted
}

// AllocateForSession derives a deterministic preview port from a numeric
// session id, as session_base + session_id, falling back to a scanned
// allocation if that exact port is already taken.
func (a *Allocator) AllocateForSession(name string, sessionID uint) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.byName[name]; ok {
		return port, nil
	}

	candidate := a.cfg.SessionBase + int(sessionID)
	if !a.inUse[candidate] {
		a.inUse[candidate] = true
		a.byName[name] = candidate
		a.roleByName[name] = RoleSession
		a.reportInUse(RoleSession)
		a.persist(name, candidate, RoleSession)
		return candidate, nil
	}

	for port := a.cfg.SessionBase; port < a.cfg.SessionBase+a.cfg.rangeSize(); port++ {
		if a.inUse[port] {
			continue
		}
		a.inUse[port] = true
		a.byName[name] = port
		a.roleByName[name] = RoleSession
		a.reportInUse(RoleSession)
		a.persist(name, port, RoleSession)
		return port, nil
	}
	return 0, ErrExhausted
}

// Release frees the port held by name, if any.
func (a *Allocator) Release(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port, ok := a.byName[name]
	if !ok {
		return
	}
	role := a.roleByName[name]
	delete(a.byName, name)
	delete(a.roleByName, name)
	delete(a.inUse, port)
	a.reportInUse(role)
	if a.persister != nil {
		if err := a.persister.DeletePortAllocation(name); err != nil {
			logging.L().Warn("delete persisted port allocation", zap.String("name", name), zap.Error(err))
		}
	}
}

// persist saves a newly assigned port, if a Persister is attached. Called
// with mu already held.
func (a *Allocator) persist(name string, port int, role Role) {
	if a.persister == nil {
		return
	}
	if err := a.persister.SavePortAllocation(name, port, string(role)); err != nil {
		logging.L().Warn("persist port allocation", zap.String("name", name), zap.Error(err))
	}
}

// Reserve folds an already-running (name, port) pair discovered outside
// the allocator's own bookkeeping (see Supervisor.Discover) into inUse
// without scanning, so a later Allocate for a different name cannot
// reissue the same port. It does not persist: the pair is already
// durable, having been either previously saved by this process or
// discovered independently of it.
func (a *Allocator) Reserve(name string, port int, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.byName[name]; ok {
		return
	}
	a.inUse[port] = true
	a.byName[name] = port
	a.roleByName[name] = role
	a.reportInUse(role)
}

// reportInUse recomputes and publishes the in-use count for role. Called
// with mu already held.
func (a *Allocator) reportInUse(role Role) {
	count := 0
	for _, r := range a.roleByName {
		if r == role {
			count++
		}
	}
	metrics.Get().SetPortPoolInUse(string(role), count)
}

func (a *Allocator) baseFor(role Role) int {
	switch role {
	case RoleProduction:
		return a.cfg.ProductionBase
	case RolePreview, RoleSession:
		return a.cfg.PreviewBase
	default:
		return a.cfg.ProductionBase
	}
}

func (c Config) rangeSize() int {
	if c.RangeSize <= 0 {
		return 1000
	}
	return c.RangeSize
}
