// Package pool implements the Browser Pool: a bounded set of
// long-lived browser processes, health-checked and recycled on crash,
// acquired through a FIFO waiter queue once capacity is exhausted.
// Grounded on the teacher's services/browser_pool package: the
// channel-backed idle set and prewarm idiom of playwright_manager.go,
// generalized behind a driver interface so a Playwright-backed driver
// and a Docker-container-backed driver can share one state machine.
package pool

import (
	"context"
	"time"

	"browserfleet/core"
	"browserfleet/executor"
)

// Driver is the small capability interface the pool consumes from the
// underlying browser technology (§6.3). Errors returned by any method
// must already be classified into the errors.Kind taxonomy by the
// driver implementation — the pool never inspects driver-specific
// error types.
type Driver interface {
	// Launch starts a new browser process for configKey and returns an
	// opaque handle the pool stores on the BrowserInstance.
	Launch(ctx context.Context, configKey string) (Handle, error)

	// HealthCheck probes liveness and a cheap in-browser round trip
	// (e.g. open+close a blank page). A non-nil error means the
	// instance failed the probe.
	HealthCheck(ctx context.Context, h Handle) error

	// Terminate stops the browser process and releases its resources.
	Terminate(ctx context.Context, h Handle) error

	// NewPage opens a new page inside the handle's default context.
	NewPage(ctx context.Context, h Handle) (PageHandle, error)

	// WrapPage adapts a PageHandle into the executor's PageDriver
	// capability interface, classifying driver errors into the §7
	// taxonomy the same way Launch/HealthCheck/Terminate already do.
	WrapPage(h PageHandle) (executor.PageDriver, error)
}

// Handle is an opaque reference to a running browser process, owned
// by exactly one driver implementation.
type Handle interface {
	ID() string
}

// PageHandle is an opaque reference to a page/tab inside a Handle.
type PageHandle interface {
	ID() string
}

// Lease is the one-shot ticket Acquire returns. Releasing it (or
// letting it be garbage collected without Release, which the pool
// cannot detect — callers must Release explicitly) returns
// the instance to IDLE.
type Lease struct {
	Instance *core.BrowserInstance
	Handle   Handle
	leaseID  string
	released bool
}

// Config is the pool's capacity and policy configuration.
type Config struct {
	Min                   int
	Max                   int
	TargetIdle            int
	IdleGrace             int
	LaunchTimeout         time.Duration
	HealthCheckInterval   time.Duration
	HealthCheckTimeout    time.Duration
	UnhealthyThreshold    int
	DrainTimeout          time.Duration
	AcquireQueueCap       int
}

// DefaultConfig mirrors config.PoolConf's defaults for standalone use
// (e.g. tests) without going through the config package.
func DefaultConfig() Config {
	return Config{
		Min:                 2,
		Max:                 10,
		TargetIdle:          2,
		IdleGrace:           1,
		LaunchTimeout:       30 * time.Second,
		HealthCheckInterval: 15 * time.Second,
		HealthCheckTimeout:  5 * time.Second,
		UnhealthyThreshold:  3,
		DrainTimeout:        30 * time.Second,
		AcquireQueueCap:     256,
	}
}
