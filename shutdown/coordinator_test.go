package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShutdownRunsEveryHandler(t *testing.T) {
	c := NewCoordinator(time.Second)
	var mu sync.Mutex
	var order []string

	c.RegisterHandler("a", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		return nil
	})
	c.RegisterHandler("b", func(ctx context.Context) error {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		return nil
	})

	c.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a", "b"}, order)
}

func TestShutdownOnlyRunsHandlersOnce(t *testing.T) {
	c := NewCoordinator(time.Second)
	calls := 0
	var mu sync.Mutex
	c.RegisterHandler("once", func(ctx context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	c.Shutdown()
	c.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
}

func TestWaitForShutdownUnblocksAfterShutdown(t *testing.T) {
	c := NewCoordinator(time.Second)
	done := make(chan struct{})
	go func() {
		c.WaitForShutdown()
		close(done)
	}()

	c.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForShutdown did not unblock")
	}
}
