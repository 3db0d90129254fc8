package proxymgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"browserfleet/core"
)

// fakeProber succeeds for any endpoint in its healthy set.
type fakeProber struct{ healthy map[string]bool }

func (p *fakeProber) Probe(ctx context.Context, ep core.ProxyEndpoint) error {
	if p.healthy[ep.ID] {
		return nil
	}
	return context.DeadlineExceeded
}

func twoEndpoints() []core.ProxyEndpoint {
	return []core.ProxyEndpoint{
		{ID: "p1", Protocol: "http", Host: "proxy1.internal", Port: 8080, Priority: 1},
		{ID: "p2", Protocol: "http", Host: "proxy2.internal", Port: 8080, Priority: 1},
	}
}

func TestEnabledPolicyWithNoStrategyFallsBackToConfigDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DefaultStrategy = StrategyRoundRobin
	m := New(cfg, twoEndpoints(), nil, nil)
	m.ConfigureContextProxy("ctx-1", core.ProxyPolicy{Enabled: true})

	ep, err := m.GetProxyForUrl("https://example.com", "ctx-1")
	require.NoError(t, err)
	require.NotNil(t, ep)
}

func TestDisabledPolicyNeverAssignsAProxy(t *testing.T) {
	m := New(DefaultConfig(), twoEndpoints(), nil, nil)
	m.ConfigureContextProxy("ctx-1", core.ProxyPolicy{Enabled: false})

	ep, err := m.GetProxyForUrl("https://example.com", "ctx-1")
	require.NoError(t, err)
	require.Nil(t, ep)
}

// TestFailoverAndStickyRotation reproduces the spec's end-to-end
// scenario: three consecutive failures on the context's assigned
// endpoint mark it unhealthy and (with rotateOnError) rotate the
// context onto the other endpoint; a later successful probe re-admits
// the original endpoint into the healthy pool without moving the
// context back, since nothing has triggered its own rotation.
func TestFailoverAndStickyRotation(t *testing.T) {
	m := New(DefaultConfig(), twoEndpoints(), nil, nil)
	policy := core.ProxyPolicy{Enabled: true, Strategy: string(StrategyPriority), RotateOnError: true, RotationInterval: time.Hour}
	m.ConfigureContextProxy("ctx-1", policy)

	first, err := m.GetProxyForUrl("https://example.com", "ctx-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	firstID := first.ID

	for i := 0; i < 3; i++ {
		m.ReportFailure(firstID, context.DeadlineExceeded)
	}

	stats := m.Stats()
	require.Equal(t, 1, stats.Unhealthy)

	second, err := m.GetProxyForUrl("https://example.com", "ctx-1")
	require.NoError(t, err)
	require.NotEqual(t, firstID, second.ID)

	m.ReportSuccess(firstID)
	stats = m.Stats()
	require.Equal(t, 0, stats.Unhealthy)

	stillSecond, err := m.GetProxyForUrl("https://example.com", "ctx-1")
	require.NoError(t, err)
	require.Equal(t, second.ID, stillSecond.ID)
}

func TestBypassPatternSkipsProxy(t *testing.T) {
	endpoints := twoEndpoints()
	endpoints[0].BypassPatterns = []string{"*.internal.corp"}
	m := New(DefaultConfig(), endpoints[:1], nil, nil)
	m.ConfigureContextProxy("ctx-1", core.ProxyPolicy{Enabled: true, Strategy: string(StrategyPriority)})

	ep, err := m.GetProxyForUrl("http://service.internal.corp/health", "ctx-1")
	require.NoError(t, err)
	require.Nil(t, ep)
}

func TestReportFailureBelowThresholdStaysHealthy(t *testing.T) {
	m := New(DefaultConfig(), twoEndpoints(), nil, nil)
	m.ReportFailure("p1", context.DeadlineExceeded)
	m.ReportFailure("p1", context.DeadlineExceeded)
	require.Equal(t, 2, m.Stats().Healthy)
}

func TestProbeLoopReadmitsOnSuccess(t *testing.T) {
	cfg := Config{FailoverThreshold: 1, ProbeInterval: 20 * time.Millisecond, ProbeTimeout: 50 * time.Millisecond}
	prober := &fakeProber{healthy: map[string]bool{"p1": true, "p2": true}}
	m := New(cfg, twoEndpoints(), prober, nil)
	defer m.Shutdown(context.Background())

	m.ReportFailure("p1", context.DeadlineExceeded)
	require.Equal(t, 1, m.Stats().Unhealthy)

	require.Eventually(t, func() bool {
		return m.Stats().Unhealthy == 0
	}, time.Second, 10*time.Millisecond)
}
