package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/require"

	"browserfleet/core"
	"browserfleet/eventbus"
	"browserfleet/executor"
	"browserfleet/registry"
	"browserfleet/tenant"
	"browserfleet/usage"
)

type fakePage struct{}

func (f *fakePage) Goto(url string, w core.WaitUntil, t time.Duration) (string, int, error) {
	return url, 200, nil
}
func (f *fakePage) Reload(time.Duration) error                                             { return nil }
func (f *fakePage) GoBack(time.Duration) (bool, error)                                      { return true, nil }
func (f *fakePage) GoForward(time.Duration) (bool, error)                                   { return true, nil }
func (f *fakePage) Evaluate(code string, args []any) (any, error)                           { return nil, nil }
func (f *fakePage) WaitForSelector(string, time.Duration) error                             { return nil }
func (f *fakePage) WaitForFunction(string, time.Duration) error                             { return nil }
func (f *fakePage) Click(string, core.MouseButton, int, time.Duration, time.Duration) error { return nil }
func (f *fakePage) Type(string, string, time.Duration, time.Duration) error                 { return nil }
func (f *fakePage) SetViewport(core.ViewportSpec) error                                     { return nil }
func (f *fakePage) SetUserAgent(string) error                                               { return nil }
func (f *fakePage) Screenshot(executor.ScreenshotOptions) ([]byte, error)                   { return nil, nil }
func (f *fakePage) PDF() ([]byte, error)                                                    { return nil, nil }
func (f *fakePage) SetCookie(core.Cookie) error                                             { return nil }
func (f *fakePage) GetCookie(string) (*core.Cookie, error)                                  { return nil, nil }
func (f *fakePage) DeleteCookie(string) error                                               { return nil }
func (f *fakePage) ClearCookies() error                                                     { return nil }
func (f *fakePage) Close() error                                                             { return nil }

type fakeProvider struct{}

func (p *fakeProvider) ResolvePage(contextID, pageID string) (executor.PageDriver, error) {
	return &fakePage{}, nil
}
func (p *fakeProvider) CreatePage(contextID string) (string, executor.PageDriver, error) {
	return "page-1", &fakePage{}, nil
}

func newTestHandlers(t *testing.T) (*CoreHandlers, *registry.Registry) {
	t.Helper()
	bus := eventbus.New(16)
	reg := registry.New(registry.NewMemStore(), bus, time.Hour)
	exec := executor.New(executor.DefaultConfig(), reg, &fakeProvider{}, bus)
	return &CoreHandlers{
		Registry: reg,
		Executor: exec,
		Tenant:   tenant.New(tenant.DefaultConfig()),
		Usage:    usage.New(),
	}, reg
}

func withURLParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateSessionAllocatesTenantQuotaAndTracksUsage(t *testing.T) {
	c, _ := newTestHandlers(t)

	body, _ := json.Marshal(createSessionRequest{TTLSeconds: 60})
	r := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.Header.Set("X-User-Id", "user-1")
	r.Header.Set("X-Organization-Id", "org-1")

	resp, status, err := c.CreateSession(httptest.NewRecorder(), r)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, resp)

	tn, err := c.Tenant.GetTenant("org-1")
	require.NoError(t, err)
	require.NotNil(t, tn)

	u := c.Usage.GetUsage("org-1", time.Now().Format("2006-01"))
	require.EqualValues(t, 1, u.Sessions)
}

func TestCreateSessionExhaustedQuotaIsRejected(t *testing.T) {
	c, _ := newTestHandlers(t)
	c.Tenant.CreateTenant("org-1", "free") // MaxSessions: 3

	for i := 0; i < 3; i++ {
		body, _ := json.Marshal(createSessionRequest{TTLSeconds: 60})
		r := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
		r.Header.Set("X-User-Id", "user-1")
		r.Header.Set("X-Organization-Id", "org-1")
		_, status, err := c.CreateSession(httptest.NewRecorder(), r)
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, status)
	}

	body, _ := json.Marshal(createSessionRequest{TTLSeconds: 60})
	r := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.Header.Set("X-User-Id", "user-1")
	r.Header.Set("X-Organization-Id", "org-1")
	_, _, err := c.CreateSession(httptest.NewRecorder(), r)
	require.Error(t, err)
}

func TestDeleteSessionReleasesTenantQuota(t *testing.T) {
	c, _ := newTestHandlers(t)

	body, _ := json.Marshal(createSessionRequest{TTLSeconds: 60})
	r := httptest.NewRequest(http.MethodPost, "/v1/sessions", bytes.NewReader(body))
	r.Header.Set("X-User-Id", "user-1")
	r.Header.Set("X-Organization-Id", "org-1")
	sessAny, status, err := c.CreateSession(httptest.NewRecorder(), r)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	sess := sessAny.(*core.Session)

	usageBefore, err := c.Tenant.Usage("org-1")
	require.NoError(t, err)
	require.Equal(t, 1, usageBefore.CurrentSessions)

	delReq := httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+sess.ID, nil)
	delReq.Header.Set("X-User-Id", "user-1")
	delReq.Header.Set("X-Organization-Id", "org-1")
	delReq = withURLParams(delReq, map[string]string{"session_id": sess.ID})

	_, status, err = c.DeleteSession(httptest.NewRecorder(), delReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)

	usageAfter, err := c.Tenant.Usage("org-1")
	require.NoError(t, err)
	require.Equal(t, 0, usageAfter.CurrentSessions)
}

func TestUpdateSessionMetadataMerges(t *testing.T) {
	c, reg := newTestHandlers(t)

	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1"}, time.Hour, map[string]string{"a": "1"})
	require.NoError(t, err)

	body, _ := json.Marshal(updateSessionMetadataRequest{Metadata: map[string]string{"b": "2"}})
	r := httptest.NewRequest(http.MethodPatch, "/v1/sessions/"+sess.ID, bytes.NewReader(body))
	r.Header.Set("X-User-Id", "u1")
	r = withURLParams(r, map[string]string{"session_id": sess.ID})

	_, status, err := c.UpdateSessionMetadata(httptest.NewRecorder(), r)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, status)

	updated, err := reg.GetSession(context.Background(), core.Principal{UserID: "u1"}, sess.ID)
	require.NoError(t, err)
	require.Equal(t, "1", updated.Metadata["a"])
	require.Equal(t, "2", updated.Metadata["b"])
}

func TestListSessionContextsReturnsOwnedContexts(t *testing.T) {
	c, reg := newTestHandlers(t)

	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1"}, time.Hour, nil)
	require.NoError(t, err)
	ctxObj, err := reg.CreateContext(context.Background(), core.Principal{UserID: "u1"}, sess.ID, core.ContextOptions{})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/v1/sessions/"+sess.ID+"/contexts", nil)
	r.Header.Set("X-User-Id", "u1")
	r = withURLParams(r, map[string]string{"session_id": sess.ID})

	resp, status, err := c.ListSessionContexts(httptest.NewRecorder(), r)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	contexts := resp.([]*core.Context)
	require.Len(t, contexts, 1)
	require.Equal(t, ctxObj.ID, contexts[0].ID)
}

func TestExecuteTracksActionUsage(t *testing.T) {
	c, reg := newTestHandlers(t)

	sess, err := reg.CreateSession(context.Background(), core.Principal{UserID: "u1", OrganizationID: "org-1"}, time.Hour, nil)
	require.NoError(t, err)
	ctxObj, err := reg.CreateContext(context.Background(), core.Principal{UserID: "u1", OrganizationID: "org-1"}, sess.ID, core.ContextOptions{})
	require.NoError(t, err)

	execReq := executeRequest{Action: core.Action{Type: core.ActionNavigate, URL: "https://example.com"}}
	body, _ := json.Marshal(execReq)
	r := httptest.NewRequest(http.MethodPost, "/v1/contexts/"+ctxObj.ID+"/execute", bytes.NewReader(body))
	r.Header.Set("X-User-Id", "u1")
	r.Header.Set("X-Organization-Id", "org-1")
	r = withURLParams(r, map[string]string{"context_id": ctxObj.ID})

	resp, status, err := c.Execute(httptest.NewRecorder(), r)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	result := resp.(core.ActionResult)
	require.True(t, result.Success)

	u := c.Usage.GetUsage("org-1", time.Now().Format("2006-01"))
	require.EqualValues(t, 1, u.ActionCount)
}
