// Package shutdown implements the graceful-shutdown coordinator every
// long-lived service registers a cleanup handler with. Carried over
// almost unchanged from the teacher's services/shutdown/coordinator.go
// — handlers started in reverse registration order and run in parallel,
// a process-wide timeout, OS signal wiring — since the mechanism
// itself is domain-agnostic; only the handler constructors at the
// bottom of the file are rebuilt against this core's own services
// instead of the teacher's browser_pool/tunnel/database set.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"browserfleet/logger"
)

// Handler is one service's shutdown cleanup.
type Handler func(context.Context) error

// Coordinator runs every registered handler concurrently on receipt
// of an OS signal or an explicit Shutdown call.
type Coordinator struct {
	mu           sync.Mutex
	handlers     []Handler
	handlerNames []string

	shutdownOnce sync.Once
	shutdownChan chan struct{}
	timeout      time.Duration
}

// NewCoordinator constructs a Coordinator with an overall shutdown
// timeout.
func NewCoordinator(timeout time.Duration) *Coordinator {
	return &Coordinator{shutdownChan: make(chan struct{}), timeout: timeout}
}

// RegisterHandler registers a named shutdown handler. Handlers are
// started in reverse registration order but run concurrently, so the
// order in which they finish is not defined.
func (c *Coordinator) RegisterHandler(name string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
	c.handlerNames = append(c.handlerNames, name)
}

// Start begins listening for SIGINT/SIGTERM/SIGHUP/SIGQUIT and
// triggers Shutdown on receipt of one.
func (c *Coordinator) Start() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown: received signal", zap.String("signal", sig.String()))
		c.Shutdown()
	}()
}

// Shutdown runs every handler exactly once, even if called
// concurrently or more than once.
func (c *Coordinator) Shutdown() {
	c.shutdownOnce.Do(func() {
		logger.Info("shutdown: starting graceful shutdown")
		close(c.shutdownChan)

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		c.executeShutdown(ctx)
	})
}

func (c *Coordinator) executeShutdown(ctx context.Context) {
	c.mu.Lock()
	handlers := append([]Handler(nil), c.handlers...)
	names := append([]string(nil), c.handlerNames...)
	c.mu.Unlock()

	var wg sync.WaitGroup
	errCount := 0
	var errMu sync.Mutex

	for i := len(handlers) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			name, handler := names[idx], handlers[idx]

			handlerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := handler(handlerCtx); err != nil {
				logger.Error("shutdown: handler failed", zap.String("name", name), zap.Error(err))
				errMu.Lock()
				errCount++
				errMu.Unlock()
				return
			}
			logger.Info("shutdown: handler complete", zap.String("name", name))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown: all handlers complete")
	case <-ctx.Done():
		logger.Warn("shutdown: timeout exceeded, forcing exit")
	}

	if errCount > 0 {
		logger.Warn("shutdown: completed with errors", zap.Int("error_count", errCount))
	}
}

// WaitForShutdown blocks until shutdown has been initiated.
func (c *Coordinator) WaitForShutdown() {
	<-c.shutdownChan
}
