package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeChecker struct {
	name  string
	state ComponentState
}

func (f fakeChecker) Name() string                            { return f.name }
func (f fakeChecker) Check(ctx context.Context) ComponentState { return f.state }

func TestStatusAllOperationalIsHealthy(t *testing.T) {
	m := New(time.Now(), fakeChecker{"pool", Operational}, fakeChecker{"registry", Operational})
	s := m.Status(context.Background())
	require.Equal(t, StatusHealthy, s.Overall)
}

func TestStatusOneDegradedIsDegraded(t *testing.T) {
	m := New(time.Now(), fakeChecker{"pool", Operational}, fakeChecker{"proxy", Degraded})
	s := m.Status(context.Background())
	require.Equal(t, StatusDegraded, s.Overall)
}

func TestStatusOneDownIsUnhealthy(t *testing.T) {
	m := New(time.Now(), fakeChecker{"pool", Down}, fakeChecker{"proxy", Degraded})
	s := m.Status(context.Background())
	require.Equal(t, StatusUnhealthy, s.Overall)
}

func TestStatusCarriesPoolAndProxyStats(t *testing.T) {
	m := New(time.Now())
	m.SetPoolStats(PoolStats{Total: 3, Idle: 2})
	m.SetProxyStats(ProxyStats{Total: 2, Healthy: 2})
	s := m.Status(context.Background())
	require.Equal(t, 3, s.Pool.Total)
	require.Equal(t, 2, s.Proxy.Healthy)
}
