// Package response implements the JSON response helpers every HTTP
// handler in this repo funnels through: the apxresp call convention
// (RespondJSON/RespondError/RespondMessage) transport/httpapi's
// Server.wrap uses to turn a (any, int, error) handler result into a
// response. Rebuilt from the call convention observed at the teacher's
// http handler call sites, which never shipped the package itself in
// the retrieved sources.
package response

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	apxerrors "browserfleet/errors"
	"browserfleet/logger"
)

// envelope is the shape every JSON response (success or error) takes.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// RespondJSON writes v as a JSON body wrapped in the common envelope
// with the given status code.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: v}); err != nil {
		logger.Error("response: failed to encode JSON body", zap.Error(err))
	}
}

// RespondError maps an *errors.Error's Kind to an HTTP status and
// writes only Kind/Message to the client — the Cause chain, which may
// carry internal detail, is never serialized.
func RespondError(w http.ResponseWriter, err *apxerrors.Error) {
	status := statusForKind(err.Kind)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: string(err.Kind) + ": " + err.Message})
}

// RespondMessage writes a plain message under the given status, used
// for internal/opaque failures that must not leak detail.
func RespondMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: msg})
}

func statusForKind(k apxerrors.Kind) int {
	switch k {
	case apxerrors.InvalidArgument:
		return http.StatusBadRequest
	case apxerrors.Unauthorized:
		return http.StatusUnauthorized
	case apxerrors.PermissionDenied:
		return http.StatusForbidden
	case apxerrors.NotFound:
		return http.StatusNotFound
	case apxerrors.ResourceExhausted:
		return http.StatusTooManyRequests
	case apxerrors.Timeout:
		return http.StatusGatewayTimeout
	case apxerrors.Canceled:
		return 499
	case apxerrors.BlockedByPolicy:
		return http.StatusForbidden
	case apxerrors.BrowserCrashed:
		return http.StatusServiceUnavailable
	case apxerrors.ScriptRuntimeError:
		return http.StatusUnprocessableEntity
	case apxerrors.UpstreamProxyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
