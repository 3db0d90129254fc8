// Package health implements the Status() operation (§6.4): an overall
// status plus per-component states, uptime, and pool/proxy counters.
// Grounded on the teacher's services/health/handler.go — a handler
// holding references to every service it reports on, running their
// checks in parallel and rolling the results into one overall status
// — generalized from a fixed six-service list to the pool/registry/
// proxymgr/executor set this core actually has.
package health

import (
	"context"
	"sync"
	"time"
)

// ComponentState is one subsystem's reported state.
type ComponentState string

const (
	Operational ComponentState = "operational"
	Degraded    ComponentState = "degraded"
	Down        ComponentState = "down"
)

// OverallStatus is the aggregate rollup of all component states.
type OverallStatus string

const (
	StatusHealthy   OverallStatus = "healthy"
	StatusDegraded  OverallStatus = "degraded"
	StatusUnhealthy OverallStatus = "unhealthy"
)

// Checker reports one component's current state. Implemented by the
// pool, registry, and proxymgr adapters wired in cmd/fleetd.
type Checker interface {
	Name() string
	Check(ctx context.Context) ComponentState
}

// PoolStats is the subset of pool.Stats the status payload surfaces,
// duplicated here rather than imported to keep health dependency-free
// of pool (cmd/fleetd populates it from the live pool.Stats()).
type PoolStats struct {
	Total, Idle, InUse, Unhealthy, Waiters int
}

// ProxyStats mirrors proxymgr.Stats for the same reason.
type ProxyStats struct {
	Total, Healthy, Unhealthy, Assignments int
}

// Status is the shape returned by Status().
type Status struct {
	Overall    OverallStatus             `json:"status"`
	Components map[string]ComponentState `json:"components"`
	UptimeMS   int64                     `json:"uptime_ms"`
	Pool       PoolStats                 `json:"pool"`
	Proxy      ProxyStats                `json:"proxy"`
}

// Monitor is the core's health-aggregation service.
type Monitor struct {
	startedAt time.Time
	checkers  []Checker

	mu        sync.RWMutex
	poolStats PoolStats
	proxyStats ProxyStats
}

// New constructs a Monitor. startedAt is passed in (not captured via
// time.Now at construction) so cmd/fleetd controls the process's
// uptime epoch explicitly.
func New(startedAt time.Time, checkers ...Checker) *Monitor {
	return &Monitor{startedAt: startedAt, checkers: checkers}
}

// SetPoolStats records the latest pool.Stats() snapshot for inclusion
// in Status().
func (m *Monitor) SetPoolStats(s PoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poolStats = s
}

// SetProxyStats records the latest proxymgr.Stats() snapshot.
func (m *Monitor) SetProxyStats(s ProxyStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proxyStats = s
}

// Status runs every registered checker in parallel (bounded by ctx)
// and rolls the results into an overall status: healthy if all
// operational, degraded if any is degraded (and none down), unhealthy
// if any is down.
func (m *Monitor) Status(ctx context.Context) Status {
	components := make(map[string]ComponentState, len(m.checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, c := range m.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			state := c.Check(ctx)
			mu.Lock()
			components[c.Name()] = state
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	m.mu.RLock()
	pool, proxy := m.poolStats, m.proxyStats
	m.mu.RUnlock()

	return Status{
		Overall:    rollup(components),
		Components: components,
		UptimeMS:   time.Since(m.startedAt).Milliseconds(),
		Pool:       pool,
		Proxy:      proxy,
	}
}

func rollup(components map[string]ComponentState) OverallStatus {
	sawDegraded := false
	for _, state := range components {
		switch state {
		case Down:
			return StatusUnhealthy
		case Degraded:
			sawDegraded = true
		}
	}
	if sawDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
