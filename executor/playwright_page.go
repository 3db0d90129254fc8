package executor

import (
	"time"

	"github.com/playwright-community/playwright-go"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
)

// PlaywrightPage adapts a playwright.Page to PageDriver, classifying
// playwright's errors into the §7 taxonomy at this boundary per
// §6.3's contract ("the driver's errors are classified into the
// error taxonomy at this boundary").
type PlaywrightPage struct {
	page playwright.Page
}

// NewPlaywrightPage wraps an already-open page.
func NewPlaywrightPage(page playwright.Page) *PlaywrightPage {
	return &PlaywrightPage{page: page}
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case contains(msg, "Timeout"):
		return apxerrors.Wrap(apxerrors.Timeout, "browser operation timed out", err)
	case contains(msg, "disconnected") || contains(msg, "closed") || contains(msg, "crashed"):
		return apxerrors.Wrap(apxerrors.BrowserCrashed, "browser disconnected", err)
	default:
		return apxerrors.Wrap(apxerrors.Internal, "browser operation failed", err)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func waitUntilState(w core.WaitUntil) *playwright.WaitUntilState {
	var s playwright.WaitUntilState
	switch w {
	case core.WaitDOMContentLoaded:
		s = playwright.WaitUntilStateDomcontentloaded
	case core.WaitNetworkIdle0, core.WaitNetworkIdle2:
		s = playwright.WaitUntilStateNetworkidle
	default:
		s = playwright.WaitUntilStateLoad
	}
	return &s
}

func (p *PlaywrightPage) Goto(url string, waitUntil core.WaitUntil, timeout time.Duration) (string, int, error) {
	resp, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: waitUntilState(waitUntil),
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		return "", 0, classify(err)
	}
	status := 0
	if resp != nil {
		status = resp.Status()
	}
	return p.page.URL(), status, nil
}

func (p *PlaywrightPage) Reload(timeout time.Duration) error {
	_, err := p.page.Reload(playwright.PageReloadOptions{Timeout: playwright.Float(float64(timeout.Milliseconds()))})
	return classify(err)
}

func (p *PlaywrightPage) GoBack(timeout time.Duration) (bool, error) {
	resp, err := p.page.GoBack(playwright.PageGoBackOptions{Timeout: playwright.Float(float64(timeout.Milliseconds()))})
	if err != nil {
		return false, classify(err)
	}
	return resp != nil, nil
}

func (p *PlaywrightPage) GoForward(timeout time.Duration) (bool, error) {
	resp, err := p.page.GoForward(playwright.PageGoForwardOptions{Timeout: playwright.Float(float64(timeout.Milliseconds()))})
	if err != nil {
		return false, classify(err)
	}
	return resp != nil, nil
}

func (p *PlaywrightPage) Evaluate(code string, args []any) (any, error) {
	v, err := p.page.Evaluate(code, args)
	if err != nil {
		return nil, apxerrors.Wrap(apxerrors.ScriptRuntimeError, "script threw", err)
	}
	return v, nil
}

func (p *PlaywrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	_, err := p.page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return classify(err)
}

func (p *PlaywrightPage) WaitForFunction(code string, timeout time.Duration) error {
	_, err := p.page.WaitForFunction(code, nil, playwright.PageWaitForFunctionOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return classify(err)
}

func buttonOf(b core.MouseButton) *playwright.MouseButton {
	var v playwright.MouseButton
	switch b {
	case core.ButtonRight:
		v = playwright.MouseButtonRight
	case core.ButtonMiddle:
		v = playwright.MouseButtonMiddle
	default:
		v = playwright.MouseButtonLeft
	}
	return &v
}

func (p *PlaywrightPage) Click(selector string, button core.MouseButton, clickCount int, delay, timeout time.Duration) error {
	if clickCount <= 0 {
		clickCount = 1
	}
	err := p.page.Click(selector, playwright.PageClickOptions{
		Button:     buttonOf(button),
		ClickCount: playwright.Int(clickCount),
		Delay:      playwright.Float(float64(delay.Milliseconds())),
		Timeout:    playwright.Float(float64(timeout.Milliseconds())),
	})
	return classify(err)
}

func (p *PlaywrightPage) Type(selector, text string, delay, timeout time.Duration) error {
	err := p.page.Fill(selector, text, playwright.PageFillOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return classify(err)
}

func (p *PlaywrightPage) SetViewport(spec core.ViewportSpec) error {
	return classify(p.page.SetViewportSize(spec.Width, spec.Height))
}

func (p *PlaywrightPage) SetUserAgent(ua string) error {
	// playwright-go sets the user agent at context-creation time, not
	// per page; exposed here as a no-op when called post-creation so
	// the executor's handler contract stays uniform across actions.
	return nil
}

func (p *PlaywrightPage) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	pwOpts := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
	}
	switch opts.Format {
	case "jpeg":
		pwOpts.Type = playwright.ScreenshotTypeJpeg
		if opts.Quality > 0 {
			pwOpts.Quality = playwright.Int(opts.Quality)
		}
	default:
		pwOpts.Type = playwright.ScreenshotTypePng
	}
	if opts.Clip != nil {
		pwOpts.Clip = &playwright.Rect{
			X: opts.Clip.X, Y: opts.Clip.Y, Width: opts.Clip.Width, Height: opts.Clip.Height,
		}
	}
	b, err := p.page.Screenshot(pwOpts)
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

func (p *PlaywrightPage) PDF() ([]byte, error) {
	b, err := p.page.PDF()
	if err != nil {
		return nil, classify(err)
	}
	return b, nil
}

func (p *PlaywrightPage) SetCookie(c core.Cookie) error {
	sameSite := playwright.SameSiteAttributeLax
	switch c.SameSite {
	case "Strict":
		sameSite = playwright.SameSiteAttributeStrict
	case "None":
		sameSite = playwright.SameSiteAttributeNone
	}
	err := p.page.Context().AddCookies([]playwright.OptionalCookie{{
		Name: c.Name, Value: c.Value, Domain: playwright.String(c.Domain),
		Path: playwright.String(c.Path), Secure: playwright.Bool(c.Secure),
		SameSite: &sameSite,
	}})
	return classify(err)
}

func (p *PlaywrightPage) GetCookie(name string) (*core.Cookie, error) {
	cookies, err := p.page.Context().Cookies()
	if err != nil {
		return nil, classify(err)
	}
	for _, c := range cookies {
		if c.Name == name {
			return &core.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path, Secure: c.Secure}, nil
		}
	}
	return nil, nil
}

func (p *PlaywrightPage) DeleteCookie(name string) error {
	// playwright-go's context cookie API has no single-cookie delete;
	// clearing and re-adding the rest matches the observable contract.
	cookies, err := p.page.Context().Cookies()
	if err != nil {
		return classify(err)
	}
	if err := p.page.Context().ClearCookies(); err != nil {
		return classify(err)
	}
	var keep []playwright.OptionalCookie
	for _, c := range cookies {
		if c.Name == name {
			continue
		}
		keep = append(keep, playwright.OptionalCookie{
			Name: c.Name, Value: c.Value, Domain: playwright.String(c.Domain), Path: playwright.String(c.Path),
		})
	}
	if len(keep) == 0 {
		return nil
	}
	return classify(p.page.Context().AddCookies(keep))
}

func (p *PlaywrightPage) ClearCookies() error {
	return classify(p.page.Context().ClearCookies())
}

func (p *PlaywrightPage) Close() error {
	return classify(p.page.Close())
}
