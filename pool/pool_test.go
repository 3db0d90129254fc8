package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apxerrors "browserfleet/errors"
	"browserfleet/executor"
)

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string { return h.id }

type fakeDriver struct {
	mu       sync.Mutex
	launched int
	failNext bool
}

func (d *fakeDriver) Launch(ctx context.Context, configKey string) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.launched++
	return &fakeHandle{id: "h" + time.Now().String()}, nil
}

func (d *fakeDriver) HealthCheck(ctx context.Context, h Handle) error { return nil }
func (d *fakeDriver) Terminate(ctx context.Context, h Handle) error   { return nil }
func (d *fakeDriver) NewPage(ctx context.Context, h Handle) (PageHandle, error) {
	return &fakeHandle{id: "p" + time.Now().String()}, nil
}

func (d *fakeDriver) WrapPage(h PageHandle) (executor.PageDriver, error) {
	return nil, apxerrors.New(apxerrors.Internal, "fakeDriver does not wrap pages")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Min = 0
	cfg.Max = 1
	cfg.HealthCheckInterval = time.Hour
	cfg.DrainTimeout = 50 * time.Millisecond
	return cfg
}

func TestAcquireLaunchesUpToMax(t *testing.T) {
	p := New(testConfig(), &fakeDriver{}, nil)
	defer p.Shutdown(context.Background())

	lease, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, 1, p.Stats().InUse)
}

func TestAcquireBeyondMaxBlocksThenResourceExhausted(t *testing.T) {
	p := New(testConfig(), &fakeDriver{}, nil)
	defer p.Shutdown(context.Background())

	lease1, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, lease1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx, "")
	require.Error(t, err)
	require.Equal(t, apxerrors.ResourceExhausted, apxerrors.KindOf(err))
}

func TestReleaseWakesFIFOWaiter(t *testing.T) {
	p := New(testConfig(), &fakeDriver{}, nil)
	defer p.Shutdown(context.Background())

	lease1, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)

	waiterDone := make(chan *Lease, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		lease2, err := p.Acquire(ctx, "")
		require.NoError(t, err)
		waiterDone <- lease2
	}()

	time.Sleep(50 * time.Millisecond)
	p.Release(lease1)

	select {
	case lease2 := <-waiterDone:
		require.NotNil(t, lease2)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken after release")
	}
}

func TestShutdownCancelsWaitersAndTerminatesInstances(t *testing.T) {
	p := New(testConfig(), &fakeDriver{}, nil)

	lease, err := p.Acquire(context.Background(), "")
	require.NoError(t, err)
	_ = lease

	waiterErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), "")
		waiterErr <- err
	}()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, p.Shutdown(context.Background()))

	select {
	case err := <-waiterErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("shutdown did not cancel pending waiter")
	}
}
