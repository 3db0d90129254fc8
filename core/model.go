// Package core defines the shared data model every subsystem (pool,
// registry, executor, proxymgr, eventbus) operates on. Types here are
// arena members keyed by id; cross-references between them are id
// fields, never pointers, so the pool and the registry each own their
// own arena without forming ownership cycles (see the back-edge note
// on BrowserInstance.AssignedContexts below).
package core

import "time"

// Principal identifies the caller an operation is authorized against.
type Principal struct {
	UserID         string
	DisplayName    string
	Roles          []string
	OrganizationID string // tenant quota/usage key; defaults to UserID when unset
}

// SessionState is the lifecycle state of a Session.
type SessionState string

const (
	SessionActive SessionState = "ACTIVE"
	SessionClosed SessionState = "CLOSED"
)

// Session is an authenticated lifetime for a principal. It owns zero
// or more Contexts.
type Session struct {
	ID        string
	Principal Principal
	CreatedAt time.Time
	ExpiresAt time.Time
	Metadata  map[string]string
	State     SessionState
}

// Live reports whether the session has not yet expired or closed.
func (s *Session) Live(now time.Time) bool {
	return s.State == SessionActive && now.Before(s.ExpiresAt)
}

// ContextState is the lifecycle state of a Context.
type ContextState string

const (
	ContextActive     ContextState = "ACTIVE"
	ContextRecovering ContextState = "RECOVERING"
	ContextClosed     ContextState = "CLOSED"
)

// ProxyPolicy configures a context's proxy assignment behavior.
type ProxyPolicy struct {
	Enabled         bool
	Strategy        string // round-robin | priority | least-failures | random
	RotateOnError   bool
	RotationInterval time.Duration
	Tags            []string
}

// ContextOptions is the immutable configuration snapshot a Context is
// created with.
type ContextOptions struct {
	ViewportWidth    int
	ViewportHeight   int
	DeviceScaleFactor float64
	HasTouch         bool
	IsMobile         bool
	UserAgent        string
	Proxy            ProxyPolicy
	Headless         bool
	Incognito        bool
	DefaultTimeout   time.Duration
}

// Context is an isolated browser profile owned by a Session.
type Context struct {
	ID                 string
	SessionID          string
	Options            ContextOptions
	State              ContextState
	BrowserInstanceID  string // empty when unassigned
	PageIDs            map[string]struct{}
	CreatedAt          time.Time
	LastUsedAt         time.Time
	LastAction         string
}

// Page is a browsing surface inside a Context. Pages never move
// between contexts.
type Page struct {
	ID          string
	ContextID   string
	URL         string
	Ready       bool
	CreatedAt   time.Time
	LastAction  time.Time
}

// BrowserState is the lifecycle state of a BrowserInstance.
type BrowserState string

const (
	BrowserStarting    BrowserState = "STARTING"
	BrowserIdle        BrowserState = "IDLE"
	BrowserInUse       BrowserState = "IN_USE"
	BrowserUnhealthy   BrowserState = "UNHEALTHY"
	BrowserTerminating BrowserState = "TERMINATING"
)

// BrowserInstance is a running headless-browser process owned by the
// pool. AssignedContexts is a back-edge (id set only, never a handle);
// the pool creates it empty and reads it in ReportCrash, and no code
// adds context ids to it. It is not owned by the instance.
type BrowserInstance struct {
	ID                string
	State             BrowserState
	CreatedAt         time.Time
	LastHealthCheck   time.Time
	LastHealthOK      bool
	ConsecutiveFails  int
	AssignedContexts  map[string]struct{}
	ConfigKey         string
}

// ProxyEndpoint is an upstream network proxy the Proxy Manager may
// assign to a context.
type ProxyEndpoint struct {
	ID                string
	Protocol          string // http | https | socks5
	Host              string
	Port              int
	Username          string
	Password          string
	BypassPatterns    []string
	Tags              []string
	Priority          int
	ConsecutiveFails  int
	LastError         string
	LastSuccess       time.Time
	LatencyEWMA       time.Duration
	Healthy           bool
}

// ContextProxyAssignment maps a context to the endpoint currently
// serving it.
type ContextProxyAssignment struct {
	ContextID        string
	EndpointID       string
	AssignedAt       time.Time
	ErrorCount       int
	NextRotation     time.Time
}

// ActionRecord is one entry in a context's bounded history ring.
type ActionRecord struct {
	Type       string
	PageID     string
	ContextID  string
	Success    bool
	Start      time.Time
	End        time.Time
	ErrorKind  string
	Params     map[string]string // redacted for logging only
}

// Duration is a convenience accessor used by metrics aggregation.
func (a ActionRecord) Duration() time.Duration { return a.End.Sub(a.Start) }
