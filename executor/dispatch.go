package executor

import (
	"context"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
)

// dispatch routes a validated action to the page driver's matching
// method and shapes the driver's return into an ActionResult. url is
// the pre-checked, normalized navigate URL (empty for other types).
func dispatch(ctx context.Context, p PageDriver, a core.Action, url string) (core.ActionResult, error) {
	timeout := remaining(ctx)

	switch a.Type {
	case core.ActionNavigate:
		finalURL, status, err := p.Goto(url, a.WaitUntil, timeout)
		if err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{FinalURL: finalURL, StatusCode: status}, nil

	case core.ActionHistoryNavigate:
		var moved bool
		var err error
		switch a.Direction {
		case core.HistoryBack:
			moved, err = p.GoBack(timeout)
		case core.HistoryForward:
			moved, err = p.GoForward(timeout)
		case core.HistoryRefresh:
			err = p.Reload(timeout)
			moved = err == nil
		}
		if err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{Value: moved}, nil

	case core.ActionClick:
		if err := p.Click(a.Selector, a.Button, a.ClickCount, a.Delay, timeout); err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{}, nil

	case core.ActionTypeText:
		if err := p.Type(a.Selector, a.Text, a.Delay, timeout); err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{}, nil

	case core.ActionEvaluate:
		v, err := p.Evaluate(a.Code, a.Args)
		if err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{Value: v}, nil

	case core.ActionWait:
		var err error
		switch {
		case a.Selector != "":
			err = p.WaitForSelector(a.Selector, timeout)
		case a.WaitFunction != "":
			err = p.WaitForFunction(a.WaitFunction, timeout)
		case a.WaitDuration > 0:
			select {
			case <-ctx.Done():
				err = ctx.Err()
			case <-timeAfter(a.WaitDuration):
			}
		}
		if err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{}, nil

	case core.ActionScreenshot:
		b, err := p.Screenshot(ScreenshotOptions{
			Selector: a.Selector, FullPage: a.FullPage, Format: a.Format, Quality: a.Quality, Clip: a.Clip,
		})
		if err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{ImageBytes: b, Size: len(b)}, nil

	case core.ActionCookie:
		return dispatchCookie(p, a)

	case core.ActionSetViewport:
		if err := p.SetViewport(*a.Viewport); err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{Viewport: a.Viewport}, nil

	default:
		return core.ActionResult{}, apxerrors.New(apxerrors.InvalidArgument, "unsupported action type")
	}
}

func dispatchCookie(p PageDriver, a core.Action) (core.ActionResult, error) {
	switch a.CookieOp {
	case core.CookieSet:
		if err := p.SetCookie(*a.Cookie); err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{}, nil
	case core.CookieGet:
		c, err := p.GetCookie(a.CookieName)
		if err != nil {
			return core.ActionResult{}, err
		}
		if c == nil {
			return core.ActionResult{}, nil
		}
		return core.ActionResult{Cookies: []core.Cookie{*c}}, nil
	case core.CookieDel:
		if err := p.DeleteCookie(a.CookieName); err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{}, nil
	case core.CookieClear:
		if err := p.ClearCookies(); err != nil {
			return core.ActionResult{}, err
		}
		return core.ActionResult{}, nil
	default:
		return core.ActionResult{}, apxerrors.New(apxerrors.InvalidArgument, "unrecognized cookie operation")
	}
}
