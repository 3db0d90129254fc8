// Package tenant implements per-tenant quota enforcement: a tiered
// session cap plus a request-rate limiter, checked before a session is
// created; context creation is not checked. Grounded on the
// teacher's services/tenant/manager.go (a sync.Map of *Tenant behind
// tier-based limits, golang.org/x/time/rate for the request shaping),
// generalized from a fixed three-tier table to a configurable one.
package tenant

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apxerrors "browserfleet/errors"
	"browserfleet/logger"
)

// TierLimits configures one tier's quota.
type TierLimits struct {
	MaxSessions     int
	RequestsPerSec  float64
	BurstMultiplier int
}

// Config maps tier name to its limits, plus the tier new tenants get
// when none is specified.
type Config struct {
	Tiers      map[string]TierLimits
	DefaultTier string
}

func DefaultConfig() Config {
	return Config{
		DefaultTier: "free",
		Tiers: map[string]TierLimits{
			"free":       {MaxSessions: 3, RequestsPerSec: 1, BurstMultiplier: 2},
			"pro":        {MaxSessions: 25, RequestsPerSec: 10, BurstMultiplier: 2},
			"enterprise": {MaxSessions: 100, RequestsPerSec: 100, BurstMultiplier: 2},
		},
	}
}

// Tenant is one organization's quota-tracking record.
type Tenant struct {
	ID              string
	OrganizationID  string
	Tier            string
	CreatedAt       time.Time

	limiter *rate.Limiter

	mu              sync.Mutex
	currentSessions int
	maxSessions     int
}

// Manager is the core's tenant quota service.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	tenants map[string]*Tenant // keyed by OrganizationID
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	return &Manager{cfg: cfg, tenants: make(map[string]*Tenant)}
}

// CreateTenant registers a tenant at the given tier, falling back to
// the configured default tier for an unrecognized one.
func (m *Manager) CreateTenant(orgID, tier string) *Tenant {
	limits, ok := m.cfg.Tiers[tier]
	if !ok {
		tier = m.cfg.DefaultTier
		limits = m.cfg.Tiers[tier]
	}
	t := &Tenant{
		ID:             uuid.NewString(),
		OrganizationID: orgID,
		Tier:           tier,
		CreatedAt:      time.Now(),
		maxSessions:    limits.MaxSessions,
		limiter:        rate.NewLimiter(rate.Limit(limits.RequestsPerSec), limits.MaxSessions*limits.BurstMultiplier),
	}

	m.mu.Lock()
	m.tenants[orgID] = t
	m.mu.Unlock()

	logger.Info("tenant: created", zap.String("org_id", orgID), zap.String("tier", tier))
	return t
}

// GetTenant fetches a tenant by organization id.
func (m *Manager) GetTenant(orgID string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[orgID]
	if !ok {
		return nil, apxerrors.New(apxerrors.NotFound, fmt.Sprintf("tenant %q not found", orgID))
	}
	return t, nil
}

// AllocateSession checks the tenant's rate limit and session cap,
// reserving one session slot on success. Call ReleaseSession when the
// session ends.
func (m *Manager) AllocateSession(orgID string) error {
	t, err := m.GetTenant(orgID)
	if err != nil {
		return err
	}
	if !t.limiter.Allow() {
		return apxerrors.New(apxerrors.ResourceExhausted, "tenant rate limit exceeded")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentSessions >= t.maxSessions {
		return apxerrors.New(apxerrors.ResourceExhausted, "tenant session limit exceeded")
	}
	t.currentSessions++
	return nil
}

// ReleaseSession returns one reserved session slot to the tenant.
func (m *Manager) ReleaseSession(orgID string) {
	t, err := m.GetTenant(orgID)
	if err != nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.currentSessions > 0 {
		t.currentSessions--
	}
}

// Usage reports a tenant's current session occupancy.
type Usage struct {
	CurrentSessions int
	MaxSessions     int
}

func (m *Manager) Usage(orgID string) (Usage, error) {
	t, err := m.GetTenant(orgID)
	if err != nil {
		return Usage{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{CurrentSessions: t.currentSessions, MaxSessions: t.maxSessions}, nil
}
