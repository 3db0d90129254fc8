package executor

import (
	"browserfleet/core"
)

const (
	minViewportDim   = 100
	maxViewportW     = 7680
	maxViewportH     = 4320
	minDeviceScale   = 0.1
	maxDeviceScale   = 5.0
	maxTextLength    = 100 * 1024
	maxURLFieldLen   = 2048
)

// validateAction enforces the per-action-type parameter contracts of
// §4.3 that don't need a live page or network lookup (structural
// shape, not SSRF/script policy — those are pre-checks run later
// against ValidateURL/ValidateScript).
func validateAction(a core.Action, maxBatchSize int) *ValidationFailure {
	switch a.Type {
	case core.ActionNavigate:
		if a.URL == "" {
			return &ValidationFailure{Kind: InvalidURL, Reason: "navigate requires a url"}
		}
		if len(a.URL) > maxURLFieldLen {
			return &ValidationFailure{Kind: InvalidURL, Reason: "url exceeds max length"}
		}
	case core.ActionClick:
		if a.Selector == "" {
			return &ValidationFailure{Kind: InvalidURL, Reason: "click requires a selector"}
		}
	case core.ActionTypeText:
		if a.Selector == "" {
			return &ValidationFailure{Kind: InvalidURL, Reason: "type requires a selector"}
		}
		if len(a.Text) > maxTextLength {
			return &ValidationFailure{Kind: InvalidURL, Reason: "text exceeds 100KB"}
		}
	case core.ActionEvaluate:
		if a.Code == "" {
			return &ValidationFailure{Kind: InvalidURL, Reason: "evaluate requires code"}
		}
	case core.ActionWait:
		if a.Selector == "" && a.WaitFunction == "" && a.WaitDuration <= 0 {
			return &ValidationFailure{Kind: InvalidURL, Reason: "wait requires a selector, function, or duration"}
		}
	case core.ActionCookie:
		switch a.CookieOp {
		case core.CookieSet:
			if a.Cookie == nil {
				return &ValidationFailure{Kind: InvalidURL, Reason: "cookie set requires a cookie"}
			}
		case core.CookieGet, core.CookieDel:
			if a.CookieName == "" {
				return &ValidationFailure{Kind: InvalidURL, Reason: "cookie get/delete requires a name"}
			}
		case core.CookieClear:
		default:
			return &ValidationFailure{Kind: InvalidURL, Reason: "unrecognized cookie operation"}
		}
	case core.ActionHistoryNavigate:
		switch a.Direction {
		case core.HistoryBack, core.HistoryForward, core.HistoryRefresh:
		default:
			return &ValidationFailure{Kind: InvalidURL, Reason: "unrecognized history direction"}
		}
	case core.ActionSetViewport:
		if a.Viewport == nil {
			return &ValidationFailure{Kind: InvalidURL, Reason: "setViewport requires a viewport"}
		}
		if err := validateViewport(*a.Viewport); err != nil {
			return err
		}
	case core.ActionScreenshot:
		if a.Format != "" && a.Format != "png" && a.Format != "jpeg" {
			return &ValidationFailure{Kind: InvalidURL, Reason: "screenshot format must be png or jpeg"}
		}
	default:
		return &ValidationFailure{Kind: InvalidURL, Reason: "unrecognized action type"}
	}
	return nil
}

func validateViewport(v core.ViewportSpec) *ValidationFailure {
	if v.Width < minViewportDim || v.Width > maxViewportW {
		return &ValidationFailure{Kind: InvalidURL, Reason: "viewport width out of [100,7680]"}
	}
	if v.Height < minViewportDim || v.Height > maxViewportH {
		return &ValidationFailure{Kind: InvalidURL, Reason: "viewport height out of [100,4320]"}
	}
	if v.DeviceScaleFactor != 0 && (v.DeviceScaleFactor < minDeviceScale || v.DeviceScaleFactor > maxDeviceScale) {
		return &ValidationFailure{Kind: InvalidURL, Reason: "deviceScaleFactor out of [0.1,5.0]"}
	}
	return nil
}
