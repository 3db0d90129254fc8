package registry

import (
	"context"
	"sync"

	"browserfleet/core"
)

// MemStore is the default in-memory Store: plain Go maps by id with
// secondary indexes by principal, session and context, all guarded by
// one RWMutex so range operations (ListSessions, sweep) are
// consistent snapshots rather than sync.Map's weaker iteration
// guarantees. The maps are neither sharded nor ordered; listing
// methods return entries in map iteration order.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
	byPrincipal map[string]map[string]struct{} // principalID -> session ids

	contexts        map[string]*core.Context
	contextsBySession map[string]map[string]struct{}

	pages         map[string]*core.Page
	pagesByContext map[string]map[string]struct{}
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions:          make(map[string]*core.Session),
		byPrincipal:       make(map[string]map[string]struct{}),
		contexts:          make(map[string]*core.Context),
		contextsBySession: make(map[string]map[string]struct{}),
		pages:             make(map[string]*core.Page),
		pagesByContext:    make(map[string]map[string]struct{}),
	}
}

func (m *MemStore) PutSession(ctx context.Context, s *core.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	set, ok := m.byPrincipal[s.Principal.UserID]
	if !ok {
		set = make(map[string]struct{})
		m.byPrincipal[s.Principal.UserID] = set
	}
	set[s.ID] = struct{}{}
	return nil
}

func (m *MemStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id], nil
}

func (m *MemStore) ListSessions(ctx context.Context, principalID string) ([]*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Session
	for id := range m.byPrincipal[principalID] {
		if s, ok := m.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// AllSessions supports the registry's expiry sweeper, which must scan
// across every principal.
func (m *MemStore) AllSessions(ctx context.Context) ([]*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		delete(m.byPrincipal[s.Principal.UserID], id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemStore) PutContext(ctx context.Context, c *core.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contexts[c.ID] = c
	set, ok := m.contextsBySession[c.SessionID]
	if !ok {
		set = make(map[string]struct{})
		m.contextsBySession[c.SessionID] = set
	}
	set[c.ID] = struct{}{}
	return nil
}

func (m *MemStore) GetContext(ctx context.Context, id string) (*core.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contexts[id], nil
}

func (m *MemStore) ListContextsBySession(ctx context.Context, sessionID string) ([]*core.Context, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Context
	for id := range m.contextsBySession[sessionID] {
		if c, ok := m.contexts[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemStore) DeleteContext(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contexts[id]; ok {
		delete(m.contextsBySession[c.SessionID], id)
	}
	delete(m.contexts, id)
	return nil
}

func (m *MemStore) PutPage(ctx context.Context, p *core.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[p.ID] = p
	set, ok := m.pagesByContext[p.ContextID]
	if !ok {
		set = make(map[string]struct{})
		m.pagesByContext[p.ContextID] = set
	}
	set[p.ID] = struct{}{}
	return nil
}

func (m *MemStore) GetPage(ctx context.Context, id string) (*core.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pages[id], nil
}

func (m *MemStore) ListPagesByContext(ctx context.Context, contextID string) ([]*core.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Page
	for id := range m.pagesByContext[contextID] {
		if p, ok := m.pages[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemStore) DeletePage(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pages[id]; ok {
		delete(m.pagesByContext[p.ContextID], id)
	}
	delete(m.pages, id)
	return nil
}
