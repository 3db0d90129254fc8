package executor

import (
	"time"

	"browserfleet/core"
)

// PageDriver is the Action Executor's view of §6.3's capability
// interface, scoped to operations against one already-open page. The
// pool's Driver (browser-level launch/health/terminate) and this
// PageDriver (page-level navigate/click/evaluate/...) are deliberately
// separate small interfaces: the pool never needs to know about pages,
// and the executor never needs to know how a browser was launched.
type PageDriver interface {
	Goto(url string, waitUntil core.WaitUntil, timeout time.Duration) (finalURL string, statusCode int, err error)
	Reload(timeout time.Duration) error
	GoBack(timeout time.Duration) (moved bool, err error)
	GoForward(timeout time.Duration) (moved bool, err error)

	Evaluate(code string, args []any) (any, error)
	WaitForSelector(selector string, timeout time.Duration) error
	WaitForFunction(code string, timeout time.Duration) error

	Click(selector string, button core.MouseButton, clickCount int, delay time.Duration, timeout time.Duration) error
	Type(selector, text string, delay time.Duration, timeout time.Duration) error

	SetViewport(spec core.ViewportSpec) error
	SetUserAgent(ua string) error

	Screenshot(opts ScreenshotOptions) ([]byte, error)
	PDF() ([]byte, error)

	SetCookie(c core.Cookie) error
	GetCookie(name string) (*core.Cookie, error)
	DeleteCookie(name string) error
	ClearCookies() error

	Close() error
}

// ScreenshotOptions mirrors the screenshot action's parameter set.
type ScreenshotOptions struct {
	Selector string
	FullPage bool
	Format   string
	Quality  int
	Clip     *core.Rect
}

// PageProvider resolves or creates pages for a context, bridging the
// executor to whatever owns the live browser (the pool + registry,
// wired together in cmd/fleetd).
type PageProvider interface {
	ResolvePage(contextID, pageID string) (PageDriver, error)
	CreatePage(contextID string) (pageID string, driver PageDriver, err error)
}
