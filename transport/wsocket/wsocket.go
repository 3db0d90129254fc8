// Package wsocket is the push/subscribe transport: a client opens one
// WebSocket connection per session and receives session.*/context.*/
// page.*/proxy.* events as they are published to the bus, plus can
// submit execute requests over the same connection and receive their
// results inline. Grounded on the teacher's services/tunnel/service.go
// (a sync.Map-keyed connection registry, a gorilla/websocket.Upgrader
// held once, a read-loop goroutine per connection) generalized from
// tunnel's one-shot HTTP-proxy-over-websocket protocol to a long-lived
// event-subscription + execute-request protocol over JSON frames.
package wsocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"browserfleet/core"
	apxerrors "browserfleet/errors"
	"browserfleet/eventbus"
	"browserfleet/executor"
	"browserfleet/logger"
	"browserfleet/registry"
)

// inboundFrame is a client->server message. Kind selects which fields
// apply: "subscribe" (Pattern), "execute" (ContextID/PageID/Action).
type inboundFrame struct {
	Kind      string      `json:"kind"`
	Pattern   string      `json:"pattern,omitempty"`
	ContextID string      `json:"contextId,omitempty"`
	PageID    string      `json:"pageId,omitempty"`
	Action    core.Action `json:"action"`
	RequestID string      `json:"requestId,omitempty"`
}

// outboundFrame is a server->client message. Kind is "event",
// "result", or "error".
type outboundFrame struct {
	Kind      string            `json:"kind"`
	RequestID string            `json:"requestId,omitempty"`
	Event     *eventbus.Event   `json:"event,omitempty"`
	Result    *core.ActionResult `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Server upgrades HTTP connections to WebSocket and bridges them to
// the bus and the executor.
type Server struct {
	bus      *eventbus.Bus
	reg      *registry.Registry
	exec     *executor.Executor
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// New constructs a Server.
func New(bus *eventbus.Bus, reg *registry.Registry, exec *executor.Executor) *Server {
	return &Server{
		bus:  bus,
		reg:  reg,
		exec: exec,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades the request and runs the connection's lifetime on
// the calling goroutine, returning once the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("wsocket: upgrade failed", zap.Error(err))
		return
	}
	connID := uuid.NewString()

	s.mu.Lock()
	s.conns[connID] = conn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, connID)
		s.mu.Unlock()
		conn.Close()
	}()

	principal := principalFromRequest(r)
	s.handleConnection(connID, principal, conn)
}

func (s *Server) handleConnection(connID string, principal core.Principal, conn *websocket.Conn) {
	var writeMu sync.Mutex
	write := func(f outboundFrame) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(f); err != nil {
			logger.Debug("wsocket: write failed", zap.String("conn_id", connID), zap.Error(err))
		}
	}

	var subCancel context.CancelFunc
	defer func() {
		if subCancel != nil {
			subCancel()
		}
	}()

	for {
		var in inboundFrame
		if err := conn.ReadJSON(&in); err != nil {
			logger.Debug("wsocket: connection closed", zap.String("conn_id", connID), zap.Error(err))
			return
		}

		switch in.Kind {
		case "subscribe":
			if subCancel != nil {
				subCancel()
			}
			var ctx context.Context
			ctx, subCancel = context.WithCancel(context.Background())
			go s.pumpEvents(ctx, connID, in.Pattern, write)

		case "execute":
			ec := core.ExecContext{Principal: principal, ContextID: in.ContextID, PageID: in.PageID}
			result := s.exec.Execute(context.Background(), ec, in.Action)
			write(outboundFrame{Kind: "result", RequestID: in.RequestID, Result: &result})

		default:
			write(outboundFrame{Kind: "error", RequestID: in.RequestID, Error: string(apxerrors.InvalidArgument) + ": unrecognized frame kind"})
		}
	}
}

// pumpEvents forwards bus events matching pattern to the connection
// until ctx is canceled, mirroring the teacher's one-goroutine-per-
// connection read loop but for outbound delivery instead of inbound
// proxying.
func (s *Server) pumpEvents(ctx context.Context, connID, pattern string, write func(outboundFrame)) {
	sub := s.bus.Subscribe(connID+":"+pattern, pattern)
	defer s.bus.Unsubscribe(connID + ":" + pattern)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			write(outboundFrame{Kind: "event", Event: &ev})
		}
	}
}

// CloseAll closes every live connection, called from the shutdown
// coordinator.
func (s *Server) CloseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.conns, id)
	}
}

func principalFromRequest(r *http.Request) core.Principal {
	return core.Principal{UserID: r.Header.Get("X-User-Id"), DisplayName: r.Header.Get("X-User-Name")}
}
