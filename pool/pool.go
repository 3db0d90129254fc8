package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/eventbus"
	"browserfleet/executor"
	"browserfleet/logger"
)

type waiter struct {
	configKey string
	result    chan acquireResult
}

type acquireResult struct {
	lease *Lease
	err   error
}

// Pool owns a bounded set of browser instances behind a single
// Driver. One Pool exists per driver type (e.g. "playwright" or
// "container"); cmd/fleetd wires whichever config.Pool.Driver names.
type Pool struct {
	cfg    Config
	driver Driver
	bus    *eventbus.Bus

	mu        sync.Mutex
	instances map[string]*core.BrowserInstance
	handles   map[string]Handle
	idle      []string // instance ids, oldest-released first
	waiters   []*waiter
	closed    bool

	breaker *gobreaker.CircuitBreaker

	stopHealth chan struct{}
	healthDone chan struct{}
}

// New constructs a Pool. It does not prewarm; call Prewarm explicitly
// (typically right after New, from cmd/fleetd) so startup failures are
// visible to the caller rather than swallowed in a constructor.
func New(cfg Config, driver Driver, bus *eventbus.Bus) *Pool {
	p := &Pool{
		cfg:        cfg,
		driver:     driver,
		bus:        bus,
		instances:  make(map[string]*core.BrowserInstance),
		handles:    make(map[string]Handle),
		stopHealth: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pool-launch",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("pool: launch circuit breaker state change",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	go p.healthLoop()
	return p
}

// Prewarm launches the configured minimum up front.
func (p *Pool) Prewarm(ctx context.Context, configKey string) error {
	for i := 0; i < p.cfg.Min; i++ {
		if _, err := p.launch(ctx, configKey); err != nil {
			return apxerrors.Wrap(apxerrors.Internal, "prewarm failed", err)
		}
	}
	return nil
}

// Acquire returns an IDLE instance if one exists, launches a new one
// up to Max, or blocks in the FIFO waiter queue until one frees up or
// ctx's deadline expires (ResourceExhausted).
func (p *Pool) Acquire(ctx context.Context, configKey string) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, apxerrors.New(apxerrors.Internal, "pool is shut down")
	}

	if id, ok := p.popIdle(configKey); ok {
		inst := p.instances[id]
		inst.State = core.BrowserInUse
		h := p.handles[id]
		p.mu.Unlock()
		return p.newLease(inst, h), nil
	}

	if len(p.instances) < p.cfg.Max {
		p.mu.Unlock()
		inst, h, err := p.launch(ctx, configKey)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		inst.State = core.BrowserInUse
		p.mu.Unlock()
		return p.newLease(inst, h), nil
	}

	if len(p.waiters) >= p.cfg.AcquireQueueCap {
		p.mu.Unlock()
		return nil, apxerrors.New(apxerrors.ResourceExhausted, "acquire queue full")
	}
	w := &waiter{configKey: configKey, result: make(chan acquireResult, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case res := <-w.result:
		return res.lease, res.err
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, apxerrors.New(apxerrors.ResourceExhausted, "acquire deadline exceeded")
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) popIdle(configKey string) (string, bool) {
	for i, id := range p.idle {
		inst := p.instances[id]
		if inst == nil {
			continue
		}
		if configKey == "" || inst.ConfigKey == configKey {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return id, true
		}
	}
	return "", false
}

func (p *Pool) newLease(inst *core.BrowserInstance, h Handle) *Lease {
	return &Lease{Instance: inst, Handle: h, leaseID: uuid.NewString()}
}

func (p *Pool) launch(ctx context.Context, configKey string) (*core.BrowserInstance, Handle, error) {
	launchCtx, cancel := context.WithTimeout(ctx, p.cfg.LaunchTimeout)
	defer cancel()

	result, err := p.breaker.Execute(func() (any, error) {
		return backoffLaunch(launchCtx, p.driver, configKey)
	})
	if err != nil {
		return nil, nil, apxerrors.Wrap(apxerrors.ResourceExhausted, "launch failed", err)
	}
	h := result.(Handle)

	inst := &core.BrowserInstance{
		ID:               h.ID(),
		State:            core.BrowserStarting,
		CreatedAt:        time.Now(),
		AssignedContexts: make(map[string]struct{}),
		ConfigKey:        configKey,
	}

	p.mu.Lock()
	p.instances[inst.ID] = inst
	p.handles[inst.ID] = h
	inst.State = core.BrowserIdle
	p.mu.Unlock()

	p.publish("browser.launched", map[string]any{"instance_id": inst.ID})
	return inst, h, nil
}

// backoffLaunch retries driver.Launch with exponential backoff up to
// a small cap, per §4.1's "launch failure is retried with exponential
// backoff up to a cap" before the circuit breaker's own failure
// counter takes over across calls.
func backoffLaunch(ctx context.Context, driver Driver, configKey string) (Handle, error) {
	const maxAttempts = 3
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		h, err := driver.Launch(ctx, configKey)
		if err == nil {
			return h, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

// Release returns a lease's instance to IDLE, or hands it directly to
// the oldest waiter (FIFO), or terminates it if the pool is draining
// it for unhealthiness.
func (p *Pool) Release(lease *Lease) {
	if lease == nil || lease.released {
		return
	}
	lease.released = true

	p.mu.Lock()
	inst := p.instances[lease.Instance.ID]
	if inst == nil {
		p.mu.Unlock()
		return
	}

	if inst.State == core.BrowserUnhealthy || inst.State == core.BrowserTerminating {
		p.mu.Unlock()
		p.terminate(inst.ID)
		return
	}

	if w := p.popWaiter(inst.ConfigKey); w != nil {
		inst.State = core.BrowserInUse
		h := p.handles[inst.ID]
		p.mu.Unlock()
		w.result <- acquireResult{lease: p.newLease(inst, h)}
		return
	}

	inst.State = core.BrowserIdle
	p.idle = append(p.idle, inst.ID)
	p.mu.Unlock()

	p.trimIdle()
}

func (p *Pool) popWaiter(configKey string) *waiter {
	for i, w := range p.waiters {
		if w.configKey == "" || w.configKey == configKey {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return w
		}
	}
	return nil
}

// trimIdle terminates the oldest idle instances down to TargetIdle
// (never below Min) once idle count exceeds TargetIdle+IdleGrace.
func (p *Pool) trimIdle() {
	p.mu.Lock()
	if len(p.idle) <= p.cfg.TargetIdle+p.cfg.IdleGrace {
		p.mu.Unlock()
		return
	}
	excess := len(p.idle) - p.cfg.TargetIdle
	if len(p.instances)-excess < p.cfg.Min {
		excess = len(p.instances) - p.cfg.Min
	}
	var toTerminate []string
	for i := 0; i < excess && i < len(p.idle); i++ {
		toTerminate = append(toTerminate, p.idle[i])
	}
	p.idle = p.idle[len(toTerminate):]
	p.mu.Unlock()

	for _, id := range toTerminate {
		p.terminate(id)
	}
}

func (p *Pool) terminate(id string) {
	p.mu.Lock()
	inst := p.instances[id]
	h := p.handles[id]
	if inst == nil {
		p.mu.Unlock()
		return
	}
	inst.State = core.BrowserTerminating
	delete(p.instances, id)
	delete(p.handles, id)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()
	if err := p.driver.Terminate(ctx, h); err != nil {
		logger.Warn("pool: terminate failed", zap.String("instance_id", id), zap.Error(err))
	}
}

// ReportCrash publishes a browser.crashed event carrying the ids in
// the instance's AssignedContexts, terminates the instance, and
// launches a replacement if below Min. It changes no registry state:
// nothing subscribes the registry to browser.crashed, and the pool
// does not fill AssignedContexts, so the event's context_ids list is
// empty.
func (p *Pool) ReportCrash(instanceID, reason string) {
	p.mu.Lock()
	inst, ok := p.instances[instanceID]
	if !ok {
		p.mu.Unlock()
		return
	}
	contextIDs := make([]string, 0, len(inst.AssignedContexts))
	for cid := range inst.AssignedContexts {
		contextIDs = append(contextIDs, cid)
	}
	p.mu.Unlock()

	p.publish("browser.crashed", map[string]any{
		"instance_id": instanceID, "reason": reason, "context_ids": contextIDs,
	})
	p.terminate(instanceID)

	p.mu.Lock()
	belowMin := len(p.instances) < p.cfg.Min
	configKey := inst.ConfigKey
	p.mu.Unlock()

	if belowMin {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), p.cfg.LaunchTimeout)
			defer cancel()
			if _, _, err := p.launch(ctx, configKey); err != nil {
				logger.Error("pool: replacement launch failed", zap.Error(err))
			}
		}()
	}
}

// healthLoop periodically probes every non-terminating instance.
func (p *Pool) healthLoop() {
	defer close(p.healthDone)
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopHealth:
			return
		case <-ticker.C:
			p.runHealthChecks()
		}
	}
}

func (p *Pool) runHealthChecks() {
	p.mu.Lock()
	snapshot := make(map[string]Handle, len(p.handles))
	for id, h := range p.handles {
		inst := p.instances[id]
		if inst != nil && inst.State != core.BrowserTerminating && inst.State != core.BrowserStarting {
			snapshot[id] = h
		}
	}
	p.mu.Unlock()

	for id, h := range snapshot {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HealthCheckTimeout)
		err := p.driver.HealthCheck(ctx, h)
		cancel()

		p.mu.Lock()
		inst := p.instances[id]
		if inst == nil {
			p.mu.Unlock()
			continue
		}
		now := time.Now()
		inst.LastHealthCheck = now
		if err != nil {
			inst.ConsecutiveFails++
			inst.LastHealthOK = false
		} else {
			inst.ConsecutiveFails = 0
			inst.LastHealthOK = true
		}
		shouldDrain := inst.ConsecutiveFails >= p.cfg.UnhealthyThreshold
		wasIdle := inst.State == core.BrowserIdle
		if shouldDrain {
			inst.State = core.BrowserUnhealthy
		}
		p.mu.Unlock()

		if shouldDrain {
			p.publish("browser.unhealthy", map[string]any{"instance_id": id})
			if wasIdle {
				p.terminate(id)
			}
			// IN_USE instances are drained on Release (see Release above);
			// if nobody ever releases within DrainTimeout, force it.
			go p.forceDrainAfterTimeout(id)
		}
	}
}

func (p *Pool) forceDrainAfterTimeout(id string) {
	time.Sleep(p.cfg.DrainTimeout)
	p.mu.Lock()
	inst, ok := p.instances[id]
	p.mu.Unlock()
	if !ok || inst.State != core.BrowserUnhealthy {
		return
	}
	p.terminate(id)
}

// NewPage opens a page on instanceID's browser and adapts it into the
// Action Executor's PageDriver, for the Provider bridge to hand back
// through executor.PageProvider.
func (p *Pool) NewPage(ctx context.Context, instanceID string) (executor.PageDriver, error) {
	p.mu.Lock()
	h, ok := p.handles[instanceID]
	p.mu.Unlock()
	if !ok {
		return nil, apxerrors.New(apxerrors.NotFound, "browser instance not found")
	}
	ph, err := p.driver.NewPage(ctx, h)
	if err != nil {
		return nil, err
	}
	return p.driver.WrapPage(ph)
}

func (p *Pool) publish(topic string, data map[string]any) {
	if p.bus != nil {
		p.bus.Publish(topic, "internal", data)
	}
}

// Stats reports point-in-time pool counters.
type Stats struct {
	Total    int
	Idle     int
	InUse    int
	Unhealthy int
	Waiters  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Total: len(p.instances), Waiters: len(p.waiters)}
	for _, inst := range p.instances {
		switch inst.State {
		case core.BrowserIdle:
			s.Idle++
		case core.BrowserInUse:
			s.InUse++
		case core.BrowserUnhealthy:
			s.Unhealthy++
		}
	}
	return s
}

// Shutdown cancels all in-flight waiters, terminates every instance,
// and stops the health loop. It returns once every instance is gone
// or grace elapses.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	for _, w := range p.waiters {
		w.result <- acquireResult{err: apxerrors.New(apxerrors.Canceled, "pool shutting down")}
	}
	p.waiters = nil
	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	close(p.stopHealth)

	for _, id := range ids {
		p.terminate(id)
	}

	select {
	case <-p.healthDone:
	case <-ctx.Done():
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
	return nil
}
