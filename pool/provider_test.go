package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"browserfleet/core"
	"browserfleet/executor"
	"browserfleet/registry"
)

func newTestRegistry() *registry.Registry {
	return registry.New(registry.NewMemStore(), nil, time.Hour)
}

// wrappingFakeDriver is a fakeDriver that successfully wraps pages,
// so CreatePage/ResolvePage can be exercised past the point
// fakeDriver's always-erroring WrapPage stops them.
type wrappingFakeDriver struct {
	fakeDriver
}

func (d *wrappingFakeDriver) WrapPage(h PageHandle) (executor.PageDriver, error) {
	return &stubPageDriver{id: h.ID()}, nil
}

// stubPageDriver is a minimal executor.PageDriver double identified by
// the underlying PageHandle id, just enough to prove Provider hands
// back the same instance across ResolvePage calls.
type stubPageDriver struct{ id string }

func (s *stubPageDriver) Goto(string, core.WaitUntil, time.Duration) (string, int, error) {
	return "", 0, nil
}
func (s *stubPageDriver) Reload(time.Duration) error                             { return nil }
func (s *stubPageDriver) GoBack(time.Duration) (bool, error)                     { return false, nil }
func (s *stubPageDriver) GoForward(time.Duration) (bool, error)                  { return false, nil }
func (s *stubPageDriver) Evaluate(string, []any) (any, error)                    { return nil, nil }
func (s *stubPageDriver) WaitForSelector(string, time.Duration) error            { return nil }
func (s *stubPageDriver) WaitForFunction(string, time.Duration) error            { return nil }
func (s *stubPageDriver) Click(string, core.MouseButton, int, time.Duration, time.Duration) error {
	return nil
}
func (s *stubPageDriver) Type(string, string, time.Duration, time.Duration) error { return nil }
func (s *stubPageDriver) SetViewport(core.ViewportSpec) error                     { return nil }
func (s *stubPageDriver) SetUserAgent(string) error                              { return nil }
func (s *stubPageDriver) Screenshot(executor.ScreenshotOptions) ([]byte, error)   { return nil, nil }
func (s *stubPageDriver) PDF() ([]byte, error)                                    { return nil, nil }
func (s *stubPageDriver) SetCookie(core.Cookie) error                            { return nil }
func (s *stubPageDriver) GetCookie(string) (*core.Cookie, error)                 { return nil, nil }
func (s *stubPageDriver) DeleteCookie(string) error                              { return nil }
func (s *stubPageDriver) ClearCookies() error                                    { return nil }
func (s *stubPageDriver) Close() error                                          { return nil }

func TestProviderCreatePageAcquiresAndAssignsOnFirstUse(t *testing.T) {
	reg := newTestRegistry()
	p := New(testConfig(), &fakeDriver{}, nil)
	defer p.Shutdown(context.Background())
	pr := NewProvider(p, reg, "chromium")

	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1"}, time.Hour, nil)
	require.NoError(t, err)
	c, err := reg.CreateContext(context.Background(), core.Principal{UserID: "u1"}, sess.ID, core.ContextOptions{})
	require.NoError(t, err)
	require.Empty(t, c.BrowserInstanceID)

	// fakeDriver.WrapPage always errors (it has no real page to wrap),
	// so CreatePage surfaces that error rather than a page/driver pair;
	// what this test actually proves is that ensureInstance ran and
	// assigned a browser instance to the context before failing there.
	_, _, err = pr.CreatePage(c.ID)
	require.Error(t, err)

	updated, err := reg.LookupContext(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, updated.BrowserInstanceID)
}

func TestProviderResolvePageReturnsSameDriverCreatePageOpened(t *testing.T) {
	reg := newTestRegistry()
	p := New(testConfig(), &wrappingFakeDriver{}, nil)
	defer p.Shutdown(context.Background())
	pr := NewProvider(p, reg, "chromium")

	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1"}, time.Hour, nil)
	require.NoError(t, err)
	c, err := reg.CreateContext(context.Background(), core.Principal{UserID: "u1"}, sess.ID, core.ContextOptions{})
	require.NoError(t, err)

	pageID, opened, err := pr.CreatePage(c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, pageID)

	resolved, err := pr.ResolvePage(c.ID, pageID)
	require.NoError(t, err)
	require.Same(t, opened, resolved)
}

func TestProviderResolvePageUnknownIDIsNotFound(t *testing.T) {
	reg := newTestRegistry()
	p := New(testConfig(), &wrappingFakeDriver{}, nil)
	defer p.Shutdown(context.Background())
	pr := NewProvider(p, reg, "chromium")

	_, err := pr.ResolvePage("ctx-1", "no-such-page")
	require.Error(t, err)
}

func TestProviderReusesAssignedInstanceOnSecondResolve(t *testing.T) {
	reg := newTestRegistry()
	p := New(testConfig(), &fakeDriver{}, nil)
	defer p.Shutdown(context.Background())
	pr := NewProvider(p, reg, "chromium")

	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1"}, time.Hour, nil)
	require.NoError(t, err)
	c, err := reg.CreateContext(context.Background(), core.Principal{UserID: "u1"}, sess.ID, core.ContextOptions{})
	require.NoError(t, err)

	first, err := pr.ensureInstance(c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := pr.ensureInstance(c.ID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, p.Stats().Total) // only one instance ever launched
}
