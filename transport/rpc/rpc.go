// Package rpc is the binary RPC transport: net/rpc over gob, for
// same-process-family callers (internal tooling, other services in the
// same deployment) that want typed Go calls instead of decoding JSON.
// No example repo or ecosystem library in the pack carries a gRPC or
// protobuf dependency wired to this domain; net/rpc + encoding/gob is
// the stdlib's own answer to a binary RPC surface and needs no
// generated stubs, matching the "thin adapter" shape every other
// transport in this package follows.
package rpc

import (
	"context"
	"net"
	"net/rpc"
	"time"

	"go.uber.org/zap"

	"browserfleet/core"
	"browserfleet/executor"
	"browserfleet/logger"
	"browserfleet/registry"
)

// Service is the net/rpc-registered type. Every exported method takes
// exactly (args, *reply) and returns error, the convention net/rpc's
// reflection-based dispatch requires.
type Service struct {
	reg  *registry.Registry
	exec *executor.Executor
}

// CreateSessionArgs/Reply mirror httpapi's createSessionRequest but as
// a plain Go struct, gob-encodable without any JSON tags.
type CreateSessionArgs struct {
	Principal  core.Principal
	TTLSeconds int
	Metadata   map[string]string
}

type CreateSessionReply struct {
	Session core.Session
}

func (s *Service) CreateSession(args CreateSessionArgs, reply *CreateSessionReply) error {
	ttl := args.TTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	sess, err := s.reg.CreateSession(context.Background(), args.Principal, time.Duration(ttl)*time.Second, args.Metadata)
	if err != nil {
		return err
	}
	reply.Session = *sess
	return nil
}

type CreateContextArgs struct {
	Principal core.Principal
	SessionID string
	Options   core.ContextOptions
}

type CreateContextReply struct {
	Context core.Context
}

func (s *Service) CreateContext(args CreateContextArgs, reply *CreateContextReply) error {
	c, err := s.reg.CreateContext(context.Background(), args.Principal, args.SessionID, args.Options)
	if err != nil {
		return err
	}
	reply.Context = *c
	return nil
}

type UpdateMetadataArgs struct {
	Principal core.Principal
	SessionID string
	Patch     map[string]string
}

type UpdateMetadataReply struct{}

func (s *Service) UpdateMetadata(args UpdateMetadataArgs, reply *UpdateMetadataReply) error {
	return s.reg.UpdateMetadata(context.Background(), args.Principal, args.SessionID, args.Patch)
}

type ListBySessionArgs struct {
	Principal core.Principal
	SessionID string
}

type ListBySessionReply struct {
	Contexts []core.Context
}

func (s *Service) ListBySession(args ListBySessionArgs, reply *ListBySessionReply) error {
	contexts, err := s.reg.ListBySession(context.Background(), args.Principal, args.SessionID)
	if err != nil {
		return err
	}
	out := make([]core.Context, 0, len(contexts))
	for _, c := range contexts {
		out = append(out, *c)
	}
	reply.Contexts = out
	return nil
}

// ExecuteArgs/Reply wrap one Action-Executor call.
type ExecuteArgs struct {
	ExecContext core.ExecContext
	Action      core.Action
}

type ExecuteReply struct {
	Result core.ActionResult
}

func (s *Service) Execute(args ExecuteArgs, reply *ExecuteReply) error {
	reply.Result = s.exec.Execute(context.Background(), args.ExecContext, args.Action)
	return nil
}

type ExecuteBatchArgs struct {
	ExecContext core.ExecContext
	Actions     []core.Action
	Options     core.BatchOptions
}

type ExecuteBatchReply struct {
	Results []core.ActionResult
}

func (s *Service) ExecuteBatch(args ExecuteBatchArgs, reply *ExecuteBatchReply) error {
	results, err := s.exec.ExecuteBatch(context.Background(), args.ExecContext, args.Actions, args.Options)
	if err != nil {
		return err
	}
	reply.Results = results
	return nil
}

type CloseContextArgs struct {
	Principal core.Principal
	ContextID string
}

type CloseContextReply struct{}

func (s *Service) CloseContext(args CloseContextArgs, reply *CloseContextReply) error {
	return s.reg.Close(context.Background(), args.Principal, args.ContextID)
}

// Server owns the net/rpc registration and listener lifecycle.
type Server struct {
	rpcServer *rpc.Server
	listener  net.Listener
}

// New registers a Service exposing reg/exec over net/rpc.
func New(reg *registry.Registry, exec *executor.Executor) (*Server, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName("Fleet", &Service{reg: reg, exec: exec}); err != nil {
		return nil, err
	}
	return &Server{rpcServer: rpcServer}, nil
}

// Listen accepts connections on addr until ctx is canceled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	logger.Info("rpc: listening", zap.String("addr", addr))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logger.Warn("rpc: accept failed", zap.Error(err))
				return err
			}
		}
		go s.rpcServer.ServeConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
