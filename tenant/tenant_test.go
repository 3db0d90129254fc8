package tenant

import (
	"testing"

	"github.com/stretchr/testify/require"

	apxerrors "browserfleet/errors"
)

func TestCreateTenantFallsBackToDefaultTier(t *testing.T) {
	m := New(DefaultConfig())
	tn := m.CreateTenant("org-1", "nonexistent-tier")
	require.Equal(t, "free", tn.Tier)
}

func TestAllocateSessionEnforcesSessionCap(t *testing.T) {
	m := New(Config{DefaultTier: "free", Tiers: map[string]TierLimits{
		"free": {MaxSessions: 2, RequestsPerSec: 1000, BurstMultiplier: 10},
	}})
	m.CreateTenant("org-1", "free")

	require.NoError(t, m.AllocateSession("org-1"))
	require.NoError(t, m.AllocateSession("org-1"))

	err := m.AllocateSession("org-1")
	require.Error(t, err)
	require.Equal(t, apxerrors.ResourceExhausted, apxerrors.KindOf(err))

	m.ReleaseSession("org-1")
	require.NoError(t, m.AllocateSession("org-1"))
}

func TestAllocateSessionUnknownTenant(t *testing.T) {
	m := New(DefaultConfig())
	err := m.AllocateSession("missing-org")
	require.Error(t, err)
	require.Equal(t, apxerrors.NotFound, apxerrors.KindOf(err))
}
