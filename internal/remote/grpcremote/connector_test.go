package grpcremote_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/remote"
	"github.com/and161185/cafe-collab/internal/remote/grpcremote"
	"github.com/and161185/cafe-collab/internal/remote/memory"
	grpcserver "github.com/and161185/cafe-collab/internal/server/grpc"
)

func startServer(t *testing.T, store *memory.Store) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpcserver.NewGRPCServer(grpcserver.New(store, nil, true), zaptest.NewLogger(t))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(func() { gs.Stop(); _ = lis.Close() })
	return grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() })
}

func TestConnector_HeaderPrincipal(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	store.Seed(3, 1, []byte("seed"), "bob")
	dialer := startServer(t, store)

	conn := grpcremote.NewConnector(grpcremote.Config{Addr: "passthrough:///bufnet", Plaintext: true}, zaptest.NewLogger(t), dialer)
	r, err := conn.Connect(context.Background(), remote.Principal{Handle: "alice"})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()
	f, err := r.LoadFile(ctx, 3, 1)
	require.NoError(t, err)
	require.Equal(t, "seed", string(f.Content))
	require.Equal(t, "bob", f.UpdatedBy)

	_, err = r.SaveFile(ctx, 3, 1, []byte("mine"))
	require.NoError(t, err)
	f, err = r.LoadFile(ctx, 3, 1)
	require.NoError(t, err)
	require.Equal(t, "alice", f.UpdatedBy)
}

func TestConnector_Errors(t *testing.T) {
	t.Parallel()

	conn := grpcremote.NewConnector(grpcremote.Config{Addr: "passthrough:///bufnet", Plaintext: true}, nil)
	_, err := conn.Connect(context.Background(), remote.Principal{})
	require.ErrorIs(t, err, errs.ErrAccessDenied)

	// a closed listener surfaces on the first call, not on Connect
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())
	dead := grpcremote.NewConnector(grpcremote.Config{Addr: "passthrough:///bufnet", Plaintext: true, Timeout: 200 * time.Millisecond}, nil,
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }))
	r, err := dead.Connect(context.Background(), remote.Principal{Handle: "alice"})
	require.NoError(t, err)
	defer r.Close()
	_, err = r.ListFiles(context.Background(), 1)
	require.ErrorIs(t, err, errs.ErrRemoteUnavailable)
}
