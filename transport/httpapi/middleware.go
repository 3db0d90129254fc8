// Package httpapi is the HTTP front-end adapter: chi routing, cors,
// structured-logging middleware, and thin handlers translating JSON
// requests into core operations (§6, "thin transport adapters"). The
// middleware stack is carried over from the teacher's
// http/middleware/{cors,mlogger}.go almost unchanged — both are
// already domain-agnostic.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"
	"github.com/rs/cors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// enableCORS builds the cors middleware from allowed origins, ported
// from the teacher's EnabCors.
func enableCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"*"},
	})
	return corsHandler.Handler
}

type loggerOpts struct {
	withReferer   bool
	withUserAgent bool
}

type pathKind string

const (
	healthPath  pathKind = "/health"
	metricsPath pathKind = "/metrics"
)

var quietPaths = []pathKind{healthPath, metricsPath}

func apiKindOf(r *http.Request) pathKind {
	switch {
	case strings.Contains(r.URL.Path, "/metrics"):
		return metricsPath
	case strings.Contains(r.URL.Path, "/health"):
		return healthPath
	default:
		return ""
	}
}

// loggerWithMetrics logs every request at Info (Debug for health/
// metrics polling, to keep those out of normal log volume), ported
// from the teacher's NewLoggerWithMetrics.
func loggerWithMetrics(log *zap.Logger, opts loggerOpts) func(http.Handler) http.Handler {
	if log == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				reqLogger := log.With(
					zap.String("proto", r.Proto),
					zap.String("path", r.URL.Path),
					zap.String("reqId", middleware.GetReqID(r.Context())),
					zap.Int64("latency_ms", time.Since(start).Milliseconds()),
					zap.Int("status", ww.Status()),
					zap.Int("size", ww.BytesWritten()),
					zap.String("method", r.Method),
				)
				if opts.withReferer {
					if ref := r.Header.Get("Referer"); ref != "" {
						reqLogger = reqLogger.With(zap.String("ref", ref))
					}
				}
				if opts.withUserAgent {
					if ua := r.Header.Get("User-Agent"); ua != "" {
						reqLogger = reqLogger.With(zap.String("ua", ua))
					}
				}
				if lo.Contains(quietPaths, apiKindOf(r)) {
					reqLogger.Debug("served")
				} else {
					reqLogger.Info("served")
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
