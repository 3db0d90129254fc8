package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/schema"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/executor"
	"browserfleet/health"
	"browserfleet/registry"
	"browserfleet/tenant"
	"browserfleet/usage"
)

var queryDecoder = schema.NewDecoder()

func init() {
	queryDecoder.IgnoreUnknownKeys(true)
}

// CoreHandlers implements every route's (any, int, error) handler by
// calling into the registry/executor/health services. Kept separate
// from Server so the same handler set can be reused by other
// transports that need programmatic (non-HTTP) access in tests.
type CoreHandlers struct {
	Registry *registry.Registry
	Executor *executor.Executor
	Monitor  *health.Monitor

	// Tenant and Usage are optional (nil disables quota enforcement
	// and accounting, e.g. in single-tenant deployments or tests).
	Tenant *tenant.Manager
	Usage  *usage.Accountant
}

func (c *CoreHandlers) Health(w http.ResponseWriter, r *http.Request) (any, int, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	return c.Monitor.Status(ctx), http.StatusOK, nil
}

func (c *CoreHandlers) Catalog(w http.ResponseWriter, r *http.Request) (any, int, error) {
	return map[string]any{
		"actions": []string{
			"navigate", "click", "type", "screenshot", "evaluate", "wait",
			"cookie", "historyNavigate", "setViewport",
		},
		"frontends": []string{"http", "websocket", "rpc", "mcp"},
	}, http.StatusOK, nil
}

type createSessionRequest struct {
	TTLSeconds int               `json:"ttlSeconds"`
	Metadata   map[string]string `json:"metadata"`
}

func (c *CoreHandlers) CreateSession(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, 0, apxerrors.New(apxerrors.InvalidArgument, "malformed request body")
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = 3600
	}
	principal := principalFromRequest(r)

	if c.Tenant != nil {
		if err := c.ensureTenant(principal.OrganizationID).AllocateSession(principal.OrganizationID); err != nil {
			return nil, 0, err
		}
	}

	sess, err := c.Registry.CreateSession(r.Context(), principal, time.Duration(req.TTLSeconds)*time.Second, req.Metadata)
	if err != nil {
		if c.Tenant != nil {
			c.Tenant.ReleaseSession(principal.OrganizationID)
		}
		return nil, 0, err
	}
	if c.Usage != nil {
		c.Usage.TrackSession(principal.OrganizationID)
	}
	return sess, http.StatusCreated, nil
}

// ensureTenant lazily registers orgID at the default tier the first
// time it is seen, the same on-demand provisioning the teacher's
// tenant manager left to an explicit admin call — this core has no
// separate tenant-provisioning endpoint, so CreateSession does it.
func (c *CoreHandlers) ensureTenant(orgID string) *tenant.Manager {
	if _, err := c.Tenant.GetTenant(orgID); err != nil {
		c.Tenant.CreateTenant(orgID, "")
	}
	return c.Tenant
}

func (c *CoreHandlers) GetSession(w http.ResponseWriter, r *http.Request) (any, int, error) {
	principal := principalFromRequest(r)
	sess, err := c.Registry.GetSession(r.Context(), principal, chi.URLParam(r, "session_id"))
	if err != nil {
		return nil, 0, err
	}
	return sess, http.StatusOK, nil
}

func (c *CoreHandlers) ListSessions(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var filter registry.Filter
	if err := queryDecoder.Decode(&filter, r.URL.Query()); err != nil {
		return nil, 0, apxerrors.New(apxerrors.InvalidArgument, "malformed query parameters")
	}
	principal := principalFromRequest(r)
	filter.PrincipalID = principal.UserID
	sessions, err := c.Registry.ListSessions(r.Context(), principal, filter)
	if err != nil {
		return nil, 0, err
	}
	return sessions, http.StatusOK, nil
}

func (c *CoreHandlers) DeleteSession(w http.ResponseWriter, r *http.Request) (any, int, error) {
	principal := principalFromRequest(r)
	closed, err := c.Registry.DeleteSession(r.Context(), principal, chi.URLParam(r, "session_id"))
	if err != nil {
		return nil, 0, err
	}
	if c.Tenant != nil {
		c.Tenant.ReleaseSession(principal.OrganizationID)
	}
	return map[string]any{"closedContextIds": closed}, http.StatusOK, nil
}

func (c *CoreHandlers) TouchSession(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var req struct {
		TTLSeconds int `json:"ttlSeconds"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = 3600
	}
	principal := principalFromRequest(r)
	if err := c.Registry.TouchSession(r.Context(), principal, chi.URLParam(r, "session_id"), time.Duration(req.TTLSeconds)*time.Second); err != nil {
		return nil, 0, err
	}
	return nil, http.StatusNoContent, nil
}

type updateSessionMetadataRequest struct {
	Metadata map[string]string `json:"metadata"`
}

// UpdateSessionMetadata merges the request body into a session's
// metadata, leaving every other field untouched.
func (c *CoreHandlers) UpdateSessionMetadata(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var req updateSessionMetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, 0, apxerrors.New(apxerrors.InvalidArgument, "malformed request body")
	}
	principal := principalFromRequest(r)
	if err := c.Registry.UpdateMetadata(r.Context(), principal, chi.URLParam(r, "session_id"), req.Metadata); err != nil {
		return nil, 0, err
	}
	return nil, http.StatusNoContent, nil
}

// ListSessionContexts lists the contexts owned by a session.
func (c *CoreHandlers) ListSessionContexts(w http.ResponseWriter, r *http.Request) (any, int, error) {
	principal := principalFromRequest(r)
	contexts, err := c.Registry.ListBySession(r.Context(), principal, chi.URLParam(r, "session_id"))
	if err != nil {
		return nil, 0, err
	}
	return contexts, http.StatusOK, nil
}

type createContextRequest struct {
	core.ContextOptions
}

func (c *CoreHandlers) CreateContext(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var req createContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, 0, apxerrors.New(apxerrors.InvalidArgument, "malformed request body")
	}
	principal := principalFromRequest(r)
	ctx, err := c.Registry.CreateContext(r.Context(), principal, chi.URLParam(r, "session_id"), req.ContextOptions)
	if err != nil {
		return nil, 0, err
	}
	return ctx, http.StatusCreated, nil
}

func (c *CoreHandlers) GetContext(w http.ResponseWriter, r *http.Request) (any, int, error) {
	principal := principalFromRequest(r)
	ctx, err := c.Registry.GetContext(r.Context(), principal, chi.URLParam(r, "context_id"))
	if err != nil {
		return nil, 0, err
	}
	return ctx, http.StatusOK, nil
}

func (c *CoreHandlers) CloseContext(w http.ResponseWriter, r *http.Request) (any, int, error) {
	principal := principalFromRequest(r)
	if err := c.Registry.Close(r.Context(), principal, chi.URLParam(r, "context_id")); err != nil {
		return nil, 0, err
	}
	return nil, http.StatusNoContent, nil
}

type executeRequest struct {
	PageID string      `json:"pageId"`
	Action core.Action `json:"action"`
}

func (c *CoreHandlers) Execute(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, 0, apxerrors.New(apxerrors.InvalidArgument, "malformed request body")
	}
	principal := principalFromRequest(r)
	ec := core.ExecContext{Principal: principal, ContextID: chi.URLParam(r, "context_id"), PageID: req.PageID}
	started := time.Now()
	result := c.Executor.Execute(r.Context(), ec, req.Action)
	if c.Usage != nil {
		c.Usage.TrackAction(principal.OrganizationID, time.Since(started))
	}
	status := http.StatusOK
	if !result.Success {
		status = statusForErrorKind(result.ErrorKind)
	}
	return result, status, nil
}

type executeBatchRequest struct {
	PageID  string            `json:"pageId"`
	Actions []core.Action     `json:"actions"`
	Options core.BatchOptions `json:"options"`
}

func (c *CoreHandlers) ExecuteBatch(w http.ResponseWriter, r *http.Request) (any, int, error) {
	var req executeBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, 0, apxerrors.New(apxerrors.InvalidArgument, "malformed request body")
	}
	if req.Options == (core.BatchOptions{}) {
		req.Options = core.DefaultBatchOptions()
	}
	principal := principalFromRequest(r)
	ec := core.ExecContext{Principal: principal, ContextID: chi.URLParam(r, "context_id"), PageID: req.PageID}
	results, err := c.Executor.ExecuteBatch(r.Context(), ec, req.Actions, req.Options)
	if err != nil {
		return nil, 0, err
	}
	return results, http.StatusOK, nil
}

func statusForErrorKind(kind string) int {
	switch apxerrors.Kind(kind) {
	case apxerrors.InvalidArgument:
		return http.StatusBadRequest
	case apxerrors.BlockedByPolicy:
		return http.StatusForbidden
	case apxerrors.Timeout:
		return http.StatusGatewayTimeout
	case apxerrors.Canceled:
		return 499
	case apxerrors.BrowserCrashed:
		return http.StatusServiceUnavailable
	case apxerrors.ScriptRuntimeError:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
