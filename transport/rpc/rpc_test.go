package rpc

import (
	"context"
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"browserfleet/core"
	"browserfleet/eventbus"
	"browserfleet/executor"
	"browserfleet/registry"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	bus := eventbus.New(16)
	reg := registry.New(registry.NewMemStore(), bus, time.Hour)
	exec := executor.New(executor.DefaultConfig(), reg, noopPages{}, bus)

	srv, err := New(reg, exec)
	require.NoError(t, err)

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().String()
	probe.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	go func() { _ = srv.Listen(ctx, addr) }()
	time.Sleep(50 * time.Millisecond)
	return addr
}

type noopPages struct{}

func (noopPages) ResolvePage(contextID, pageID string) (executor.PageDriver, error) {
	return nil, nil
}
func (noopPages) CreatePage(contextID string) (string, executor.PageDriver, error) {
	return "", nil, nil
}

func TestCreateSessionOverRPC(t *testing.T) {
	addr := startTestServer(t)
	client, err := rpc.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	var reply CreateSessionReply
	err = client.Call("Fleet.CreateSession", CreateSessionArgs{
		Principal:  core.Principal{UserID: "u1"},
		TTLSeconds: 60,
	}, &reply)
	require.NoError(t, err)
	require.NotEmpty(t, reply.Session.ID)
	require.Equal(t, core.SessionActive, reply.Session.State)
}

func TestUpdateMetadataAndListBySessionOverRPC(t *testing.T) {
	addr := startTestServer(t)
	client, err := rpc.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	principal := core.Principal{UserID: "u1"}

	var sessReply CreateSessionReply
	err = client.Call("Fleet.CreateSession", CreateSessionArgs{Principal: principal, TTLSeconds: 60}, &sessReply)
	require.NoError(t, err)

	var updReply UpdateMetadataReply
	err = client.Call("Fleet.UpdateMetadata", UpdateMetadataArgs{
		Principal: principal,
		SessionID: sessReply.Session.ID,
		Patch:     map[string]string{"k": "v"},
	}, &updReply)
	require.NoError(t, err)

	var ctxReply CreateContextReply
	err = client.Call("Fleet.CreateContext", CreateContextArgs{
		Principal: principal,
		SessionID: sessReply.Session.ID,
	}, &ctxReply)
	require.NoError(t, err)

	var listReply ListBySessionReply
	err = client.Call("Fleet.ListBySession", ListBySessionArgs{
		Principal: principal,
		SessionID: sessReply.Session.ID,
	}, &listReply)
	require.NoError(t, err)
	require.Len(t, listReply.Contexts, 1)
	require.Equal(t, ctxReply.Context.ID, listReply.Contexts[0].ID)
}
