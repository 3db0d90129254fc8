package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
)

func newTestRegistry() *Registry {
	return New(NewMemStore(), nil, time.Hour)
}

func TestCreateSessionGetDeleteRoundTrip(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(context.Background())
	principal := core.Principal{UserID: "u1"}

	s, err := r.CreateSession(context.Background(), principal, time.Hour, map[string]string{"k": "v"})
	require.NoError(t, err)

	got, err := r.GetSession(context.Background(), principal, s.ID)
	require.NoError(t, err)
	require.Equal(t, s.ID, got.ID)

	_, err = r.DeleteSession(context.Background(), principal, s.ID)
	require.NoError(t, err)

	_, err = r.GetSession(context.Background(), principal, s.ID)
	require.Error(t, err)
	require.Equal(t, apxerrors.NotFound, apxerrors.KindOf(err))
}

func TestCrossPrincipalAccessDenied(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(context.Background())

	owner := core.Principal{UserID: "owner"}
	other := core.Principal{UserID: "intruder"}

	s, err := r.CreateSession(context.Background(), owner, time.Hour, nil)
	require.NoError(t, err)

	_, err = r.GetSession(context.Background(), other, s.ID)
	require.Error(t, err)
	require.Equal(t, apxerrors.PermissionDenied, apxerrors.KindOf(err))
}

func TestDeleteSessionCascadesContextsAndPages(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(context.Background())
	principal := core.Principal{UserID: "u1"}

	s, err := r.CreateSession(context.Background(), principal, time.Hour, nil)
	require.NoError(t, err)

	c, err := r.CreateContext(context.Background(), principal, s.ID, core.ContextOptions{ViewportWidth: 1280, ViewportHeight: 720})
	require.NoError(t, err)

	p, err := r.CreatePage(context.Background(), principal, c.ID)
	require.NoError(t, err)

	closed, err := r.DeleteSession(context.Background(), principal, s.ID)
	require.NoError(t, err)
	require.Contains(t, closed, c.ID)

	_, err = r.GetContext(context.Background(), principal, c.ID)
	require.Error(t, err)

	_, err = r.GetPage(context.Background(), principal, p.ID)
	require.Error(t, err)
}

func TestListSessionsOnlyReturnsLiveOnes(t *testing.T) {
	r := newTestRegistry()
	defer r.Shutdown(context.Background())
	principal := core.Principal{UserID: "u1"}

	_, err := r.CreateSession(context.Background(), principal, time.Hour, nil)
	require.NoError(t, err)
	expired, err := r.CreateSession(context.Background(), principal, -time.Hour, nil)
	require.NoError(t, err)
	_ = expired

	list, err := r.ListSessions(context.Background(), principal, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
}
