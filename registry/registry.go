// Package registry implements the Session & Context Registry: session,
// context, and page bookkeeping with ownership enforcement, a
// background expiry sweeper, and per-session/per-context
// serialization (§4.2, §5). Storage is abstracted behind Store so an
// alternative backend can be substituted without changing callers —
// grounded on the teacher's sync.Map-keyed service registries
// (services/tenant/manager.go, services/geo/router.go) generalized
// into a pluggable interface plus a real Mongo-backed implementation
// (registry/mongostore.go) exercising go.mongodb.org/mongo-driver.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/eventbus"
	"browserfleet/logger"
)

// Store is the pluggable backing interface. The default is the
// in-memory implementation below; registry/mongostore.go is the
// durable alternative.
type Store interface {
	PutSession(ctx context.Context, s *core.Session) error
	GetSession(ctx context.Context, id string) (*core.Session, error)
	ListSessions(ctx context.Context, principalID string) ([]*core.Session, error)
	DeleteSession(ctx context.Context, id string) error

	PutContext(ctx context.Context, c *core.Context) error
	GetContext(ctx context.Context, id string) (*core.Context, error)
	ListContextsBySession(ctx context.Context, sessionID string) ([]*core.Context, error)
	DeleteContext(ctx context.Context, id string) error

	PutPage(ctx context.Context, p *core.Page) error
	GetPage(ctx context.Context, id string) (*core.Page, error)
	ListPagesByContext(ctx context.Context, contextID string) ([]*core.Page, error)
	DeletePage(ctx context.Context, id string) error
}

// Filter narrows ListSessions. State, when non-empty, restricts
// results to sessions in that lifecycle state — decoded from query
// parameters by transport/httpapi via gorilla/schema.
type Filter struct {
	PrincipalID string
	State       core.SessionState `schema:"state"`
}

// Registry is the core's session/context/page bookkeeping service.
// Per-session and per-context mutexes serialize operations against
// the same session/context (§5); distinct sessions/contexts proceed
// in parallel.
type Registry struct {
	store Store
	bus   *eventbus.Bus

	mu            sync.Mutex // guards the maps below, not the domain objects
	sessionLocks  map[string]*sync.Mutex
	contextLocks  map[string]*sync.Mutex

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New constructs a Registry over store, starting its background
// expiry sweeper at the given interval.
func New(store Store, bus *eventbus.Bus, sweepInterval time.Duration) *Registry {
	r := &Registry{
		store:        store,
		bus:          bus,
		sessionLocks: make(map[string]*sync.Mutex),
		contextLocks: make(map[string]*sync.Mutex),
		stopSweep:    make(chan struct{}),
		sweepDone:    make(chan struct{}),
	}
	go r.sweepLoop(sweepInterval)
	return r
}

func (r *Registry) lockFor(m map[string]*sync.Mutex, id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := m[id]
	if !ok {
		l = &sync.Mutex{}
		m[id] = l
	}
	return l
}

func (r *Registry) sessionLock(id string) *sync.Mutex { return r.lockFor(r.sessionLocks, id) }
func (r *Registry) contextLock(id string) *sync.Mutex { return r.lockFor(r.contextLocks, id) }

// CreateSession creates a new session owned by principal, expiring
// after ttl.
func (r *Registry) CreateSession(ctx context.Context, principal core.Principal, ttl time.Duration, metadata map[string]string) (*core.Session, error) {
	now := time.Now()
	s := &core.Session{
		ID:        uuid.NewString(),
		Principal: principal,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Metadata:  metadata,
		State:     core.SessionActive,
	}
	if err := r.store.PutSession(ctx, s); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "creating session", err)
	}
	r.publish("session.created", map[string]any{"session_id": s.ID})
	return s, nil
}

// GetSession fetches a session, enforcing that principal owns it.
func (r *Registry) GetSession(ctx context.Context, principal core.Principal, id string) (*core.Session, error) {
	s, err := r.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apxerrors.New(apxerrors.NotFound, "session not found")
	}
	if s.Principal.UserID != principal.UserID {
		return nil, apxerrors.New(apxerrors.PermissionDenied, "principal does not own session")
	}
	return s, nil
}

// ListSessions lists sessions matching filter, always scoped to the
// caller's own principal.
func (r *Registry) ListSessions(ctx context.Context, principal core.Principal, filter Filter) ([]*core.Session, error) {
	all, err := r.store.ListSessions(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := all[:0]
	for _, s := range all {
		if !s.Live(now) {
			continue
		}
		if filter.State != "" && s.State != filter.State {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// UpdateMetadata merges patch into a session's metadata under its
// per-session lock.
func (r *Registry) UpdateMetadata(ctx context.Context, principal core.Principal, id string, patch map[string]string) error {
	lock := r.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := r.GetSession(ctx, principal, id)
	if err != nil {
		return err
	}
	if s.Metadata == nil {
		s.Metadata = map[string]string{}
	}
	for k, v := range patch {
		s.Metadata[k] = v
	}
	return r.store.PutSession(ctx, s)
}

// TouchSession extends a session's expiry by ttl from now.
func (r *Registry) TouchSession(ctx context.Context, principal core.Principal, id string, ttl time.Duration) error {
	lock := r.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	s, err := r.GetSession(ctx, principal, id)
	if err != nil {
		return err
	}
	s.ExpiresAt = time.Now().Add(ttl)
	return r.store.PutSession(ctx, s)
}

// DeleteSession cascades: every context is closed (releasing browsers
// and proxies is the caller's responsibility via the returned context
// ids — the registry does not import pool/proxymgr to avoid a
// dependency cycle), every page closed, history dropped.
func (r *Registry) DeleteSession(ctx context.Context, principal core.Principal, id string) ([]string, error) {
	lock := r.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := r.GetSession(ctx, principal, id); err != nil {
		return nil, err
	}

	contexts, err := r.store.ListContextsBySession(ctx, id)
	if err != nil {
		return nil, err
	}
	closedContextIDs := make([]string, 0, len(contexts))
	for _, c := range contexts {
		if err := r.closeContextLocked(ctx, c); err != nil {
			logger.Warn("registry: error closing context during session delete", zap.String("context_id", c.ID), zap.Error(err))
		}
		closedContextIDs = append(closedContextIDs, c.ID)
	}

	if err := r.store.DeleteSession(ctx, id); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "deleting session", err)
	}
	r.publish("session.deleted", map[string]any{"session_id": id})
	return closedContextIDs, nil
}

// CreateContext creates a context owned by sessionID.
func (r *Registry) CreateContext(ctx context.Context, principal core.Principal, sessionID string, opts core.ContextOptions) (*core.Context, error) {
	if _, err := r.GetSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	c := &core.Context{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Options:    opts,
		State:      core.ContextActive,
		PageIDs:    make(map[string]struct{}),
		CreatedAt:  time.Now(),
		LastUsedAt: time.Now(),
	}
	if err := r.store.PutContext(ctx, c); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "creating context", err)
	}
	r.publish("context.created", map[string]any{"context_id": c.ID, "session_id": sessionID})
	return c, nil
}

// GetContext fetches a context, enforcing ownership by walking up to
// its session.
func (r *Registry) GetContext(ctx context.Context, principal core.Principal, id string) (*core.Context, error) {
	c, err := r.store.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apxerrors.New(apxerrors.NotFound, "context not found")
	}
	if _, err := r.GetSession(ctx, principal, c.SessionID); err != nil {
		return nil, err
	}
	return c, nil
}

// LookupContext fetches a context without ownership enforcement, for
// internal callers (the pool Provider bridge) invoked only after the
// Action Executor's own authorize step has already verified ownership.
func (r *Registry) LookupContext(ctx context.Context, id string) (*core.Context, error) {
	c, err := r.store.GetContext(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apxerrors.New(apxerrors.NotFound, "context not found")
	}
	return c, nil
}

// CreatePageUnchecked creates a page inside contextID without
// re-deriving the caller's principal, for the same internal pool
// Provider bridge as LookupContext.
func (r *Registry) CreatePageUnchecked(ctx context.Context, contextID string) (*core.Page, error) {
	lock := r.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.LookupContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	p := &core.Page{ID: uuid.NewString(), ContextID: contextID, CreatedAt: time.Now()}
	if err := r.store.PutPage(ctx, p); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "creating page", err)
	}
	c.PageIDs[p.ID] = struct{}{}
	if err := r.store.PutContext(ctx, c); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "updating context page set", err)
	}
	r.publish("page.created", map[string]any{"page_id": p.ID, "context_id": contextID})
	return p, nil
}

// ListBySession lists contexts owned by sessionID.
func (r *Registry) ListBySession(ctx context.Context, principal core.Principal, sessionID string) ([]*core.Context, error) {
	if _, err := r.GetSession(ctx, principal, sessionID); err != nil {
		return nil, err
	}
	return r.store.ListContextsBySession(ctx, sessionID)
}

// AssignBrowser records that instanceID now backs contextID,
// transitioning it to ACTIVE.
func (r *Registry) AssignBrowser(ctx context.Context, contextID, instanceID string) error {
	lock := r.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.store.GetContext(ctx, contextID)
	if err != nil {
		return err
	}
	if c == nil {
		return apxerrors.New(apxerrors.NotFound, "context not found")
	}
	c.BrowserInstanceID = instanceID
	c.State = core.ContextActive
	if err := r.store.PutContext(ctx, c); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "assigning browser", err)
	}
	r.publish("context.assigned", map[string]any{"context_id": contextID, "instance_id": instanceID})
	return nil
}

// MarkRecovering transitions each of the given contexts to
// RECOVERING. It runs only when called directly; it is not
// subscribed to browser.crashed events.
func (r *Registry) MarkRecovering(ctx context.Context, contextIDs []string) {
	for _, id := range contextIDs {
		lock := r.contextLock(id)
		lock.Lock()
		c, err := r.store.GetContext(ctx, id)
		if err == nil && c != nil {
			c.State = core.ContextRecovering
			c.BrowserInstanceID = ""
			_ = r.store.PutContext(ctx, c)
		}
		lock.Unlock()
	}
}

// Close closes a context: its pages, then the context itself.
func (r *Registry) Close(ctx context.Context, principal core.Principal, id string) error {
	lock := r.contextLock(id)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.GetContext(ctx, principal, id)
	if err != nil {
		return err
	}
	return r.closeContextLocked(ctx, c)
}

// closeContextLocked assumes the caller already holds the context's
// lock (or is deleting the owning session and thus has exclusive
// access transitively).
func (r *Registry) closeContextLocked(ctx context.Context, c *core.Context) error {
	pages, err := r.store.ListPagesByContext(ctx, c.ID)
	if err != nil {
		return err
	}
	for _, p := range pages {
		_ = r.store.DeletePage(ctx, p.ID)
	}
	c.State = core.ContextClosed
	if err := r.store.DeleteContext(ctx, c.ID); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "closing context", err)
	}
	r.publish("context.closed", map[string]any{"context_id": c.ID})
	return nil
}

// CreatePage creates a page inside contextID.
func (r *Registry) CreatePage(ctx context.Context, principal core.Principal, contextID string) (*core.Page, error) {
	lock := r.contextLock(contextID)
	lock.Lock()
	defer lock.Unlock()

	c, err := r.GetContext(ctx, principal, contextID)
	if err != nil {
		return nil, err
	}
	p := &core.Page{ID: uuid.NewString(), ContextID: contextID, CreatedAt: time.Now()}
	if err := r.store.PutPage(ctx, p); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "creating page", err)
	}
	c.PageIDs[p.ID] = struct{}{}
	if err := r.store.PutContext(ctx, c); err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "updating context page set", err)
	}
	r.publish("page.created", map[string]any{"page_id": p.ID, "context_id": contextID})
	return p, nil
}

// GetPage fetches a page, enforcing ownership through its context.
func (r *Registry) GetPage(ctx context.Context, principal core.Principal, id string) (*core.Page, error) {
	p, err := r.store.GetPage(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apxerrors.New(apxerrors.NotFound, "page not found")
	}
	if _, err := r.GetContext(ctx, principal, p.ContextID); err != nil {
		return nil, err
	}
	return p, nil
}

// ClosePage closes a single page.
func (r *Registry) ClosePage(ctx context.Context, principal core.Principal, id string) error {
	p, err := r.GetPage(ctx, principal, id)
	if err != nil {
		return err
	}
	lock := r.contextLock(p.ContextID)
	lock.Lock()
	defer lock.Unlock()

	if err := r.store.DeletePage(ctx, p.ID); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "closing page", err)
	}
	if c, err := r.store.GetContext(ctx, p.ContextID); err == nil && c != nil {
		delete(c.PageIDs, p.ID)
		_ = r.store.PutContext(ctx, c)
	}
	return nil
}

func (r *Registry) publish(topic string, data map[string]any) {
	if r.bus != nil {
		r.bus.Publish(topic, "internal", data)
	}
}

// sweepLoop periodically removes sessions past expiresAt.
func (r *Registry) sweepLoop(interval time.Duration) {
	defer close(r.sweepDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

func (r *Registry) sweepExpired() {
	ctx := context.Background()
	// Listing across all principals isn't exposed by Store (it's
	// scoped per-principal by design); MemStore and MongoStore both
	// expose an additional AllSessions hook the sweeper uses directly.
	all, ok := r.store.(interface {
		AllSessions(ctx context.Context) ([]*core.Session, error)
	})
	if !ok {
		return
	}
	sessions, err := all.AllSessions(ctx)
	if err != nil {
		logger.Warn("registry: sweep failed listing sessions", zap.Error(err))
		return
	}
	now := time.Now()
	for _, s := range sessions {
		if !s.Live(now) {
			if _, err := r.DeleteSession(ctx, s.Principal, s.ID); err != nil {
				logger.Warn("registry: sweep failed deleting expired session", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
	}
}

// Shutdown stops the sweeper.
func (r *Registry) Shutdown(ctx context.Context) error {
	close(r.stopSweep)
	select {
	case <-r.sweepDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
