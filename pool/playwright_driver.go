package pool

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	apxerrors "browserfleet/errors"
	"browserfleet/executor"
)

// PlaywrightDriver is the primary Driver, launching real Chromium
// processes via playwright-go. Grounded on
// services/browser_pool/playwright_manager.go's createBrowserInstance
// (isolated BrowserContext per instance, headless launch options,
// Page.Evaluate liveness probe) generalized behind the Driver
// interface instead of owning its own channel-based pool.
type PlaywrightDriver struct {
	pw       *playwright.Playwright
	headless bool
}

// NewPlaywrightDriver starts the playwright driver process. Call once
// per pool instance; Close stops it.
func NewPlaywrightDriver(headless bool) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "starting playwright driver", err)
	}
	return &PlaywrightDriver{pw: pw, headless: headless}, nil
}

func (d *PlaywrightDriver) Close() error {
	return d.pw.Stop()
}

type pwHandle struct {
	id      string
	browser playwright.Browser
}

func (h *pwHandle) ID() string { return h.id }

type pwPageHandle struct {
	id   string
	page playwright.Page
}

func (h *pwPageHandle) ID() string { return h.id }

// Launch starts a new Chromium process. configKey selects the
// browser type ("chromium" default, "firefox", "webkit") the way
// playwright_manager.go's prewarm mix does, but one instance per
// launch rather than a fixed ratio — the pool decides mix policy.
func (d *PlaywrightDriver) Launch(ctx context.Context, configKey string) (Handle, error) {
	headless := d.headless
	opts := playwright.BrowserTypeLaunchOptions{Headless: &headless}

	var browserType playwright.BrowserType
	switch configKey {
	case "firefox":
		browserType = d.pw.Firefox
	case "webkit":
		browserType = d.pw.WebKit
	default:
		browserType = d.pw.Chromium
	}

	browser, err := browserType.Launch(opts)
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "launching browser", err)
	}
	return &pwHandle{id: uuid.NewString(), browser: browser}, nil
}

// HealthCheck opens and closes a blank page — the same cheap
// liveness probe playwright_manager.go's ReleaseBrowser health check
// uses (Page.Evaluate("1+1")), run here against a scratch page so it
// never disturbs a page a caller may be using concurrently.
func (d *PlaywrightDriver) HealthCheck(ctx context.Context, h Handle) error {
	handle, ok := h.(*pwHandle)
	if !ok {
		return apxerrors.New(apxerrors.Internal, "wrong handle type")
	}
	if !handle.browser.IsConnected() {
		return apxerrors.New(apxerrors.BrowserCrashed, "browser disconnected")
	}
	page, err := handle.browser.NewPage()
	if err != nil {
		return apxerrors.Wrap(apxerrors.BrowserCrashed, "health check new page failed", err)
	}
	defer page.Close()

	if _, err := page.Evaluate("1+1"); err != nil {
		return apxerrors.Wrap(apxerrors.BrowserCrashed, "health check evaluate failed", err)
	}
	return nil
}

func (d *PlaywrightDriver) Terminate(ctx context.Context, h Handle) error {
	handle, ok := h.(*pwHandle)
	if !ok {
		return apxerrors.New(apxerrors.Internal, "wrong handle type")
	}
	if err := handle.browser.Close(); err != nil {
		return apxerrors.Wrap(apxerrors.Internal, "closing browser", err)
	}
	return nil
}

func (d *PlaywrightDriver) NewPage(ctx context.Context, h Handle) (PageHandle, error) {
	handle, ok := h.(*pwHandle)
	if !ok {
		return nil, apxerrors.New(apxerrors.Internal, "wrong handle type")
	}
	page, err := handle.browser.NewPage()
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.Internal, "opening page", err)
	}
	return &pwPageHandle{id: uuid.NewString(), page: page}, nil
}

// WrapPage adapts a PageHandle produced by NewPage into the Action
// Executor's PageDriver via executor.PlaywrightPage.
func (d *PlaywrightDriver) WrapPage(h PageHandle) (executor.PageDriver, error) {
	page, err := Page(h)
	if err != nil {
		return nil, apxerrors.New(apxerrors.Internal, "wrong handle type")
	}
	return executor.NewPlaywrightPage(page), nil
}

// Page returns the underlying playwright.Page for a PageHandle
// produced by this driver, for use by the Action Executor's handlers.
func Page(h PageHandle) (playwright.Page, error) {
	pp, ok := h.(*pwPageHandle)
	if !ok {
		return nil, fmt.Errorf("not a playwright page handle")
	}
	return pp.page, nil
}

// Browser returns the underlying playwright.Browser for a Handle.
func Browser(h Handle) (playwright.Browser, error) {
	ph, ok := h.(*pwHandle)
	if !ok {
		return nil, fmt.Errorf("not a playwright handle")
	}
	return ph.browser, nil
}
