// Package proxymgr implements the Proxy Manager: assignment, rotation,
// and health tracking of upstream network proxies per context (§4.4).
// Grounded on the teacher's services/geo/router.go — a sync.Map of
// named endpoints behind a mutex, a background prober, capacity
// accounting — generalized from geo-region routing to proxy-endpoint
// routing, and wrapping the prober in github.com/sony/gobreaker the
// same way the pool wraps its launch path.
package proxymgr

import (
	"context"
	"math/rand"
	"net"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/eventbus"
	"browserfleet/logger"
)

// Strategy selects among healthy endpoints.
type Strategy string

const (
	StrategyRoundRobin    Strategy = "round-robin"
	StrategyPriority      Strategy = "priority"
	StrategyLeastFailures Strategy = "least-failures"
	StrategyRandom        Strategy = "random"
)

// Config bounds the manager's behavior.
type Config struct {
	FailoverThreshold int
	ProbeInterval     time.Duration
	ProbeTimeout      time.Duration

	// DefaultStrategy is applied to a context's policy when its own
	// Strategy is unset, so a deployment-wide default (config.Proxy.Strategy)
	// doesn't have to be repeated by every ConfigureContextProxy caller.
	DefaultStrategy Strategy
}

func DefaultConfig() Config {
	return Config{FailoverThreshold: 3, ProbeInterval: 30 * time.Second, ProbeTimeout: 5 * time.Second, DefaultStrategy: StrategyRoundRobin}
}

// Prober checks an endpoint's liveness, returning an error on
// failure. cmd/fleetd supplies the concrete implementation
// (httpProber, a plain GET to the endpoint's own address rather than
// a request routed through it).
type Prober interface {
	Probe(ctx context.Context, endpoint core.ProxyEndpoint) error
}

// Manager is the core's proxy-assignment service.
type Manager struct {
	cfg     Config
	prober  Prober
	bus     *eventbus.Bus
	breaker *gobreaker.CircuitBreaker

	mu          sync.Mutex
	endpoints   map[string]*core.ProxyEndpoint
	assignments map[string]*core.ContextProxyAssignment // contextID -> assignment
	policies    map[string]core.ProxyPolicy             // contextID -> policy
	rrCursor    int

	stopProbe chan struct{}
	probeDone chan struct{}
}

// New constructs a Manager over the given seed endpoints.
func New(cfg Config, endpoints []core.ProxyEndpoint, prober Prober, bus *eventbus.Bus) *Manager {
	m := &Manager{
		cfg:         cfg,
		prober:      prober,
		bus:         bus,
		endpoints:   make(map[string]*core.ProxyEndpoint, len(endpoints)),
		assignments: make(map[string]*core.ContextProxyAssignment),
		policies:    make(map[string]core.ProxyPolicy),
		stopProbe:   make(chan struct{}),
		probeDone:   make(chan struct{}),
	}
	for i := range endpoints {
		e := endpoints[i]
		e.Healthy = true
		m.endpoints[e.ID] = &e
	}
	m.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "proxymgr-probe",
		Timeout: cfg.ProbeInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("proxymgr: prober breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	if prober != nil {
		go m.probeLoop()
	} else {
		close(m.probeDone)
	}
	return m
}

// ConfigureContextProxy sets the proxy policy for a context. A
// disabled policy clears any existing assignment; GetProxyForUrl then
// always returns (nil, nil) for that context — the spec's "disabled
// ⇒ no proxy" primary semantics (see DESIGN.md's Open Question entry).
func (m *Manager) ConfigureContextProxy(contextID string, policy core.ProxyPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if policy.Enabled && policy.Strategy == "" {
		policy.Strategy = string(m.cfg.DefaultStrategy)
	}
	m.policies[contextID] = policy
	if !policy.Enabled {
		delete(m.assignments, contextID)
	}
}

// GetProxyForUrl returns the endpoint currently assigned to context
// for url, assigning or rotating one first if needed. nil, nil means
// no proxy should be used.
func (m *Manager) GetProxyForUrl(rawURL, contextID string) (*core.ProxyEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	policy, ok := m.policies[contextID]
	if !ok || !policy.Enabled {
		return nil, nil
	}

	assignment, hasAssignment := m.assignments[contextID]
	needsNew := !hasAssignment || time.Now().After(assignment.NextRotation)
	if needsNew {
		ep, err := m.pickByStrategy(Strategy(policy.Strategy))
		if err != nil {
			return nil, err
		}
		assignment = &core.ContextProxyAssignment{
			ContextID: contextID, EndpointID: ep.ID, AssignedAt: time.Now(),
			NextRotation: rotationDeadline(policy),
		}
		m.assignments[contextID] = assignment
		m.publish("proxy.assigned", map[string]any{"context_id": contextID, "endpoint_id": ep.ID})
	}

	ep := m.endpoints[assignment.EndpointID]
	if ep == nil {
		delete(m.assignments, contextID)
		return nil, apxerrors.New(apxerrors.UpstreamProxyFailure, "assigned endpoint no longer exists")
	}
	if bypassed(ep, rawURL) {
		return nil, nil
	}
	return cloneEndpoint(ep), nil
}

func rotationDeadline(policy core.ProxyPolicy) time.Time {
	if policy.RotationInterval <= 0 {
		return time.Now().Add(24 * time.Hour)
	}
	return time.Now().Add(policy.RotationInterval)
}

func bypassed(ep *core.ProxyEndpoint, rawURL string) bool {
	host := rawURL
	if idx := strings.Index(rawURL, "://"); idx != -1 {
		host = rawURL[idx+3:]
	}
	if idx := strings.IndexAny(host, "/:"); idx != -1 {
		host = host[:idx]
	}
	for _, pattern := range ep.BypassPatterns {
		if _, cidr, err := net.ParseCIDR(pattern); err == nil {
			if ip := net.ParseIP(host); ip != nil && cidr.Contains(ip) {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pattern, host); ok {
			return true
		}
	}
	return false
}

// pickByStrategy chooses a healthy endpoint by strategy. Caller must
// hold m.mu.
func (m *Manager) pickByStrategy(strategy Strategy) (*core.ProxyEndpoint, error) {
	var healthy []*core.ProxyEndpoint
	for _, e := range m.endpoints {
		if e.Healthy {
			healthy = append(healthy, e)
		}
	}
	if len(healthy) == 0 {
		return nil, apxerrors.New(apxerrors.UpstreamProxyFailure, "no healthy proxy endpoints available")
	}

	switch strategy {
	case StrategyPriority:
		best := healthy[0]
		for _, e := range healthy[1:] {
			if e.Priority > best.Priority {
				best = e
			}
		}
		return best, nil
	case StrategyLeastFailures:
		best := healthy[0]
		for _, e := range healthy[1:] {
			if e.ConsecutiveFails < best.ConsecutiveFails {
				best = e
			}
		}
		return best, nil
	case StrategyRandom:
		return healthy[rand.Intn(len(healthy))], nil
	default: // round-robin
		m.rrCursor = (m.rrCursor + 1) % len(healthy)
		return healthy[m.rrCursor], nil
	}
}

// ReportSuccess resets an endpoint's failure counters and marks it
// healthy again.
func (m *Manager) ReportSuccess(endpointID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[endpointID]
	if !ok {
		return
	}
	wasUnhealthy := !ep.Healthy
	ep.ConsecutiveFails = 0
	ep.LastSuccess = time.Now()
	ep.Healthy = true
	if wasUnhealthy {
		m.publish("proxy.healthy", map[string]any{"endpoint_id": endpointID})
	}
}

// ReportFailure increments an endpoint's failure counter; at
// FailoverThreshold it is marked unhealthy and, if rotateOnError is
// set on any context currently assigned to it, those contexts rotate
// immediately to a fresh endpoint.
func (m *Manager) ReportFailure(endpointID string, failureErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[endpointID]
	if !ok {
		return
	}
	ep.ConsecutiveFails++
	if failureErr != nil {
		ep.LastError = failureErr.Error()
	}
	if ep.ConsecutiveFails >= m.cfg.FailoverThreshold && ep.Healthy {
		ep.Healthy = false
		m.publish("proxy.unhealthy", map[string]any{"endpoint_id": endpointID})
		for contextID, a := range m.assignments {
			if a.EndpointID != endpointID {
				continue
			}
			if policy, ok := m.policies[contextID]; ok && policy.RotateOnError {
				delete(m.assignments, contextID)
			}
		}
	}
}

// Stats summarizes endpoint health and assignment counts.
type Stats struct {
	Total       int
	Healthy     int
	Unhealthy   int
	Assignments int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Total: len(m.endpoints), Assignments: len(m.assignments)}
	for _, e := range m.endpoints {
		if e.Healthy {
			s.Healthy++
		} else {
			s.Unhealthy++
		}
	}
	return s
}

func (m *Manager) publish(topic string, data map[string]any) {
	if m.bus != nil {
		m.bus.Publish(topic, "internal", data)
	}
}

func cloneEndpoint(e *core.ProxyEndpoint) *core.ProxyEndpoint {
	cp := *e
	return &cp
}

// probeLoop periodically re-probes unhealthy endpoints; a success
// re-admits them via ReportSuccess.
func (m *Manager) probeLoop() {
	defer close(m.probeDone)
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopProbe:
			return
		case <-ticker.C:
			m.runProbes()
		}
	}
}

func (m *Manager) runProbes() {
	m.mu.Lock()
	var targets []core.ProxyEndpoint
	for _, e := range m.endpoints {
		if !e.Healthy {
			targets = append(targets, *e)
		}
	}
	m.mu.Unlock()

	for _, ep := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
		_, err := m.breaker.Execute(func() (any, error) {
			return nil, m.prober.Probe(ctx, ep)
		})
		cancel()
		if err != nil {
			logger.Debug("proxymgr: probe still failing", zap.String("endpoint_id", ep.ID), zap.Error(err))
			continue
		}
		m.ReportSuccess(ep.ID)
	}
}

// Shutdown stops the background prober.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.prober == nil {
		return nil
	}
	close(m.stopProbe)
	select {
	case <-m.probeDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
