package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	apxresp "browserfleet/http/response"
	"browserfleet/logger"
)

// Server is the HTTP front-end, wiring chi routes to the core's
// registry/executor/health operations. Grounded on the teacher's
// http/server.go (chi.NewRouter + middleware chain +
// ToHTTPHandlerFunc adapter over a (any, int, error) handler shape),
// generalized from the teacher's fixed test-execution route tree to
// this core's session/context/page/execute/health/catalog operations.
type Server struct {
	logger      *zap.Logger
	prefix      string
	corsOrigins []string
	core        *CoreHandlers
}

// New constructs a Server.
func New(log *zap.Logger, prefix string, corsOrigins []string, core *CoreHandlers) *Server {
	return &Server{logger: log, prefix: prefix, corsOrigins: corsOrigins, core: core}
}

// Listen serves on addr until ctx is canceled, then drains for up to
// 5 seconds.
func (s *Server) Listen(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(loggerWithMetrics(s.logger, loggerOpts{}))
	r.Use(middleware.Recoverer)
	r.Use(enableCORS(s.corsOrigins))

	r.Route(s.prefix, func(r chi.Router) {
		r.Get("/health", s.wrap(s.core.Health))
		r.Get("/catalog", s.wrap(s.core.Catalog))

		r.Route("/v1/sessions", func(r chi.Router) {
			r.Post("/", s.wrap(s.core.CreateSession))
			r.Get("/", s.wrap(s.core.ListSessions))
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.wrap(s.core.GetSession))
				r.Patch("/", s.wrap(s.core.UpdateSessionMetadata))
				r.Delete("/", s.wrap(s.core.DeleteSession))
				r.Post("/extend", s.wrap(s.core.TouchSession))
				r.Get("/contexts", s.wrap(s.core.ListSessionContexts))
				r.Post("/contexts", s.wrap(s.core.CreateContext))
			})
		})

		r.Route("/v1/contexts/{context_id}", func(r chi.Router) {
			r.Get("/", s.wrap(s.core.GetContext))
			r.Delete("/", s.wrap(s.core.CloseContext))
			r.Post("/execute", s.wrap(s.core.Execute))
			r.Post("/execute-batch", s.wrap(s.core.ExecuteBatch))
		})
	})

	server := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("httpapi: listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

type coreHandlerFunc func(w http.ResponseWriter, r *http.Request) (any, int, error)

func (s *Server) wrap(h coreHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response, status, err := h(w, r)
		if err != nil {
			if apxErr, ok := err.(*apxerrors.Error); ok {
				apxresp.RespondError(w, apxErr)
				return
			}
			s.logger.Error("httpapi: internal error", zap.Error(err))
			apxresp.RespondMessage(w, http.StatusInternalServerError, "internal error")
			return
		}
		if response != nil {
			apxresp.RespondJSON(w, status, response)
			return
		}
		w.WriteHeader(status)
	}
}

// principalFromRequest extracts the caller's identity. Token
// validation is an auth-boundary concern out of this spec's scope
// (§1); this adapter only shapes whatever the boundary already
// established into a core.Principal.
func principalFromRequest(r *http.Request) core.Principal {
	userID := r.Header.Get("X-User-Id")
	orgID := r.Header.Get("X-Organization-Id")
	if orgID == "" {
		orgID = userID
	}
	return core.Principal{UserID: userID, DisplayName: r.Header.Get("X-User-Name"), OrganizationID: orgID}
}
