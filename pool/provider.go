package pool

import (
	"context"
	"sync"

	apxerrors "browserfleet/errors"
	"browserfleet/executor"
	"browserfleet/registry"
)

// Provider bridges the Browser Pool and Session & Context Registry
// into executor.PageProvider: acquiring and recording a context's
// browser instance on first use, then opening pages against it.
// Grounded on the teacher's services/browser_pool/manager.go
// AcquireBrowser/ReleaseBrowser pairing, adapted so the pairing key is
// a context id tracked by the registry instead of a bare handle the
// caller must remember to release itself.
type Provider struct {
	pool      *Pool
	reg       *registry.Registry
	configKey string

	mu    sync.Mutex
	pages map[string]executor.PageDriver // page id -> the driver CreatePage opened it with
}

// NewProvider constructs a Provider. configKey selects which browser
// flavor (e.g. "chromium", "firefox") new instances are launched as;
// it is forwarded to Pool.Acquire unchanged.
func NewProvider(pool *Pool, reg *registry.Registry, configKey string) *Provider {
	return &Provider{pool: pool, reg: reg, configKey: configKey, pages: make(map[string]executor.PageDriver)}
}

// ResolvePage returns the PageDriver CreatePage previously opened for
// pageID, so later actions (screenshot, click, evaluate,
// historyNavigate, ...) continue operating on the same underlying
// page rather than a fresh blank one — page state (URL, history, DOM)
// must persist across actions against the same page id (§3).
func (pr *Provider) ResolvePage(contextID, pageID string) (executor.PageDriver, error) {
	pr.mu.Lock()
	driver, ok := pr.pages[pageID]
	pr.mu.Unlock()
	if !ok {
		return nil, apxerrors.New(apxerrors.NotFound, "page not found")
	}
	return driver, nil
}

// CreatePage acquires/opens a new page inside contextID's assigned (or
// freshly acquired) browser instance, records it in the registry so it
// is visible to ListBySession/GetPage callers, and caches the opened
// PageDriver under the new page id for ResolvePage to hand back later.
func (pr *Provider) CreatePage(contextID string) (string, executor.PageDriver, error) {
	instanceID, err := pr.ensureInstance(contextID)
	if err != nil {
		return "", nil, err
	}
	driver, err := pr.pool.NewPage(context.Background(), instanceID)
	if err != nil {
		return "", nil, err
	}
	page, err := pr.reg.CreatePageUnchecked(context.Background(), contextID)
	if err != nil {
		return "", nil, err
	}
	pr.mu.Lock()
	pr.pages[page.ID] = driver
	pr.mu.Unlock()
	return page.ID, driver, nil
}

func (pr *Provider) ensureInstance(contextID string) (string, error) {
	c, err := pr.reg.LookupContext(context.Background(), contextID)
	if err != nil {
		return "", err
	}
	if c.BrowserInstanceID != "" {
		return c.BrowserInstanceID, nil
	}

	lease, err := pr.pool.Acquire(context.Background(), pr.configKey)
	if err != nil {
		return "", apxerrors.Wrap(apxerrors.ResourceExhausted, "acquiring browser for context", err)
	}
	if err := pr.reg.AssignBrowser(context.Background(), contextID, lease.Instance.ID); err != nil {
		return "", err
	}
	return lease.Instance.ID, nil
}
