package wsocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
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
func (f *fakePage) Evaluate(code string, args []any) (any, error)                 { return nil, nil }
func (f *fakePage) WaitForSelector(string, time.Duration) error                   { return nil }
func (f *fakePage) WaitForFunction(string, time.Duration) error                   { return nil }
func (f *fakePage) Click(string, core.MouseButton, int, time.Duration, time.Duration) error { return nil }
func (f *fakePage) Type(string, string, time.Duration, time.Duration) error       { return nil }
func (f *fakePage) SetViewport(core.ViewportSpec) error                          { return nil }
func (f *fakePage) SetUserAgent(string) error                                    { return nil }
func (f *fakePage) Screenshot(executor.ScreenshotOptions) ([]byte, error)         { return nil, nil }
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

func newTestServer(t *testing.T) (*Server, *eventbus.Bus) {
	t.Helper()
	bus := eventbus.New(16)
	reg := registry.New(registry.NewMemStore(), bus, time.Hour)
	exec := executor.New(executor.DefaultConfig(), reg, &fakeProvider{}, bus)
	return New(bus, reg, exec), bus
}

func dialTestServer(t *testing.T, s *Server) *gorillaws.Conn {
	t.Helper()
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSubscribeForwardsMatchingEvents(t *testing.T) {
	s, bus := newTestServer(t)
	conn := dialTestServer(t, s)

	require.NoError(t, conn.WriteJSON(inboundFrame{Kind: "subscribe", Pattern: "context.*"}))

	require.Eventually(t, func() bool {
		bus.Publish("context.created", "internal", map[string]any{"context_id": "ctx-1"})
		var out outboundFrame
		conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		if err := conn.ReadJSON(&out); err != nil {
			return false
		}
		return out.Kind == "event" && out.Event.Topic == "context.created"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestExecuteFrameReturnsResult(t *testing.T) {
	s, _ := newTestServer(t)
	conn := dialTestServer(t, s)

	reg := s.reg
	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1"}, time.Hour, nil)
	require.NoError(t, err)
	c, err := reg.CreateContext(context.Background(), core.Principal{UserID: "u1"}, sess.ID, core.ContextOptions{})
	require.NoError(t, err)

	require.NoError(t, conn.WriteJSON(inboundFrame{
		Kind:      "execute",
		ContextID: c.ID,
		RequestID: "req-1",
		Action:    core.Action{Type: core.ActionNavigate, URL: "https://example.com"},
	}))

	var out outboundFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, "result", out.Kind)
	require.Equal(t, "req-1", out.RequestID)
	require.True(t, out.Result.Success)
}
