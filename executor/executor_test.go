package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/eventbus"
	"browserfleet/registry"
)

// fakePage is an in-memory PageDriver double recording the last call.
type fakePage struct {
	gotoURL string
	closed  bool
}

func (f *fakePage) Goto(url string, w core.WaitUntil, t time.Duration) (string, int, error) {
	f.gotoURL = url
	return url, 200, nil
}
func (f *fakePage) Reload(time.Duration) error                 { return nil }
func (f *fakePage) GoBack(time.Duration) (bool, error)         { return true, nil }
func (f *fakePage) GoForward(time.Duration) (bool, error)      { return true, nil }
func (f *fakePage) Evaluate(code string, args []any) (any, error) {
	switch code {
	case "1+2+3":
		return 6, nil
	default:
		return nil, nil
	}
}
func (f *fakePage) WaitForSelector(string, time.Duration) error { return nil }
func (f *fakePage) WaitForFunction(string, time.Duration) error { return nil }
func (f *fakePage) Click(string, core.MouseButton, int, time.Duration, time.Duration) error {
	return nil
}
func (f *fakePage) Type(string, string, time.Duration, time.Duration) error { return nil }
func (f *fakePage) SetViewport(core.ViewportSpec) error                    { return nil }
func (f *fakePage) SetUserAgent(string) error                              { return nil }
func (f *fakePage) Screenshot(ScreenshotOptions) ([]byte, error)           { return []byte("png"), nil }
func (f *fakePage) PDF() ([]byte, error)                                  { return []byte("pdf"), nil }
func (f *fakePage) SetCookie(core.Cookie) error                           { return nil }
func (f *fakePage) GetCookie(string) (*core.Cookie, error)                { return nil, nil }
func (f *fakePage) DeleteCookie(string) error                             { return nil }
func (f *fakePage) ClearCookies() error                                   { return nil }
func (f *fakePage) Close() error                                          { f.closed = true; return nil }

type fakeProvider struct{ page *fakePage }

func (p *fakeProvider) ResolvePage(contextID, pageID string) (PageDriver, error) { return p.page, nil }
func (p *fakeProvider) CreatePage(contextID string) (string, PageDriver, error) {
	return "page-1", p.page, nil
}

func newTestExecutor(t *testing.T) (*Executor, *registry.Registry, core.Principal, string) {
	t.Helper()
	store := registry.NewMemStore()
	reg := registry.New(store, nil, time.Hour)
	principal := core.Principal{UserID: "user-1"}
	sess, err := reg.CreateSession(context.Background(), principal, time.Hour, nil)
	require.NoError(t, err)
	ctx, err := reg.CreateContext(context.Background(), principal, sess.ID, core.ContextOptions{})
	require.NoError(t, err)

	exec := New(DefaultConfig(), reg, &fakeProvider{page: &fakePage{}}, eventbus.New(16))
	return exec, reg, principal, ctx.ID
}

func TestExecuteNavigateBlocksPrivateNetwork(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID, PageID: "page-1"}

	result := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionNavigate, URL: "http://127.0.0.1/"})
	require.False(t, result.Success)
	require.Equal(t, string(apxerrors.BlockedByPolicy), result.ErrorKind)
}

func TestExecuteEvaluateRejectsDeniedPattern(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID, PageID: "page-1"}

	result := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionEvaluate, Code: "eval('1')"})
	require.False(t, result.Success)
	require.Equal(t, string(apxerrors.BlockedByPolicy), result.ErrorKind)
}

func TestExecuteEvaluateSucceeds(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID, PageID: "page-1"}

	result := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionEvaluate, Code: "1+2+3"})
	require.True(t, result.Success)
	require.Equal(t, 6, result.Value)
}

func TestExecuteSetViewportBoundaries(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID, PageID: "page-1"}

	ok := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionSetViewport, Viewport: &core.ViewportSpec{Width: 100, Height: 100}})
	require.True(t, ok.Success)

	bad := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionSetViewport, Viewport: &core.ViewportSpec{Width: 99, Height: 100}})
	require.False(t, bad.Success)
	require.Equal(t, string(apxerrors.InvalidArgument), bad.ErrorKind)

	ok2 := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionSetViewport, Viewport: &core.ViewportSpec{Width: 7680, Height: 4320}})
	require.True(t, ok2.Success)

	bad2 := exec.Execute(context.Background(), ec, core.Action{Type: core.ActionSetViewport, Viewport: &core.ViewportSpec{Width: 7681, Height: 100}})
	require.False(t, bad2.Success)
}

func TestExecuteBatchRejectsOversizedBatch(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID, PageID: "page-1"}

	actions := make([]core.Action, 101)
	for i := range actions {
		actions[i] = core.Action{Type: core.ActionEvaluate, Code: "1+1"}
	}
	_, err := exec.ExecuteBatch(context.Background(), ec, actions, core.DefaultBatchOptions())
	require.Error(t, err)
	require.Equal(t, apxerrors.InvalidArgument, apxerrors.KindOf(err))

	actions100 := actions[:100]
	results, err := exec.ExecuteBatch(context.Background(), ec, actions100, core.DefaultBatchOptions())
	require.NoError(t, err)
	require.Len(t, results, 100)
}

func TestExecuteBatchParallelRequiresDistinctPerActionPages(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID}

	dup := []core.Action{
		{Type: core.ActionEvaluate, Code: "1+1", PageID: "page-1"},
		{Type: core.ActionEvaluate, Code: "1+1", PageID: "page-1"},
	}
	_, err := exec.ExecuteBatch(context.Background(), ec, dup, core.BatchOptions{Parallel: 2})
	require.Error(t, err)
	require.Equal(t, apxerrors.InvalidArgument, apxerrors.KindOf(err))

	distinct := []core.Action{
		{Type: core.ActionEvaluate, Code: "1+1", PageID: "page-1"},
		{Type: core.ActionEvaluate, Code: "1+1", PageID: "page-2"},
	}
	results, err := exec.ExecuteBatch(context.Background(), ec, distinct, core.BatchOptions{Parallel: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
}

func TestHistoryAndMetricsAccumulate(t *testing.T) {
	exec, _, principal, contextID := newTestExecutor(t)
	ec := core.ExecContext{Principal: principal, ContextID: contextID, PageID: "page-1"}

	for i := 0; i < 5; i++ {
		exec.Execute(context.Background(), ec, core.Action{Type: core.ActionEvaluate, Code: "1+1"})
	}
	m := exec.Metrics(contextID)
	require.Equal(t, 5, m.Total)
	require.Equal(t, 5, m.Successful)
	require.Equal(t, 0, m.Failed)
}
