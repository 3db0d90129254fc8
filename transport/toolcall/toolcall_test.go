package toolcall

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"browserfleet/core"
	"browserfleet/eventbus"
	"browserfleet/executor"
	"browserfleet/registry"
)

type fakePage struct{}

func (f *fakePage) Goto(url string, w core.WaitUntil, t time.Duration) (string, int, error) {
	return url, 200, nil
}
func (f *fakePage) Reload(time.Duration) error                                    { return nil }
func (f *fakePage) GoBack(time.Duration) (bool, error)                            { return true, nil }
func (f *fakePage) GoForward(time.Duration) (bool, error)                         { return true, nil }
func (f *fakePage) Evaluate(code string, args []any) (any, error)                 { return 42, nil }
func (f *fakePage) WaitForSelector(string, time.Duration) error                   { return nil }
func (f *fakePage) WaitForFunction(string, time.Duration) error                   { return nil }
func (f *fakePage) Click(string, core.MouseButton, int, time.Duration, time.Duration) error { return nil }
func (f *fakePage) Type(string, string, time.Duration, time.Duration) error       { return nil }
func (f *fakePage) SetViewport(core.ViewportSpec) error                          { return nil }
func (f *fakePage) SetUserAgent(string) error                                    { return nil }
func (f *fakePage) Screenshot(executor.ScreenshotOptions) ([]byte, error)         { return []byte("png"), nil }
func (f *fakePage) PDF() ([]byte, error)                                          { return nil, nil }
func (f *fakePage) SetCookie(core.Cookie) error                                   { return nil }
func (f *fakePage) GetCookie(string) (*core.Cookie, error)                       { return nil, nil }
func (f *fakePage) DeleteCookie(string) error                                     { return nil }
func (f *fakePage) ClearCookies() error                                           { return nil }
func (f *fakePage) Close() error                                                  { return nil }

type fakeProvider struct{}

func (p *fakeProvider) ResolvePage(contextID, pageID string) (executor.PageDriver, error) {
	return &fakePage{}, nil
}
func (p *fakeProvider) CreatePage(contextID string) (string, executor.PageDriver, error) {
	return "page-1", &fakePage{}, nil
}

func newTestExecutor(t *testing.T) (*executor.Executor, string) {
	t.Helper()
	bus := eventbus.New(16)
	reg := registry.New(registry.NewMemStore(), bus, time.Hour)
	principal := core.Principal{UserID: "u1"}
	sess, err := reg.CreateSession(context.Background(), principal, time.Hour, nil)
	require.NoError(t, err)
	c, err := reg.CreateContext(context.Background(), principal, sess.ID, core.ContextOptions{})
	require.NoError(t, err)
	return executor.New(executor.DefaultConfig(), reg, &fakeProvider{}, bus), c.ID
}

func callToolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestNavigateToolSucceeds(t *testing.T) {
	exec, contextID := newTestExecutor(t)
	s := New("test", exec)
	result, err := s.handleNavigate(context.Background(), callToolRequest(map[string]any{
		"context_id": contextID,
		"url":        "https://example.com",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
}

func TestNavigateToolMissingURL(t *testing.T) {
	exec, contextID := newTestExecutor(t)
	s := New("test", exec)
	result, err := s.handleNavigate(context.Background(), callToolRequest(map[string]any{
		"context_id": contextID,
	}))
	require.NoError(t, err)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	require.Contains(t, text.Text, "Error")
}

func TestEvaluateToolSucceeds(t *testing.T) {
	exec, contextID := newTestExecutor(t)
	s := New("test", exec)
	result, err := s.handleEvaluate(context.Background(), callToolRequest(map[string]any{
		"context_id": contextID,
		"page_id":    "page-1",
		"code":       "6*7",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, result.Content)
}
