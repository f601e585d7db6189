package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/cafe-collab/internal/convert"
	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote/grpcremote"
	"github.com/and161185/cafe-collab/internal/remote/memory"
)

const bufSize = 1 << 20

var signKey = []byte("secret")

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithMD(kv ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
}

func startBufGRPC(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	gs := NewGRPCServer(srv, zaptest.NewLogger(t))
	go func() { _ = gs.Serve(lis) }()
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })
	return cc
}

func withToken(ctx context.Context, tok string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	got, err := bearerTokenFromMD(ctxWithMD("authorization", "Bearer abc.def.ghi"))
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}
	if _, err := bearerTokenFromMD(ctxWithMD("authorization", "Basic foo")); err == nil {
		t.Fatalf("want error on non-bearer")
	}
	if _, err := bearerTokenFromMD(ctxWithMD("authorization", "Bearer   ")); err == nil {
		t.Fatalf("want error on empty token")
	}
	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	s := New(memory.NewStore(nil), signKey, false)
	now := time.Now().UTC()

	p, err := s.Authenticate(ctxWithMD("authorization", "Bearer "+makeJWT(t, "alice", signKey, jwt.SigningMethodHS256, now.Add(-time.Minute), time.Hour)))
	require.NoError(t, err)
	require.Equal(t, "alice", p.Handle)
	require.NotEmpty(t, p.Token)

	cases := map[string]context.Context{
		"expired":   ctxWithMD("authorization", "Bearer "+makeJWT(t, "alice", signKey, jwt.SigningMethodHS256, now.Add(-2*time.Hour), -time.Hour)),
		"wrong key": ctxWithMD("authorization", "Bearer "+makeJWT(t, "alice", []byte("other"), jwt.SigningMethodHS256, now, time.Hour)),
		"wrong alg": ctxWithMD("authorization", "Bearer "+makeJWT(t, "alice", signKey, jwt.SigningMethodHS384, now, time.Hour)),
		"garbage":   ctxWithMD("authorization", "Bearer not-a-jwt"),
		"header":    ctxWithMD(grpcremote.UserHeader, "mallory"),
		"nothing":   context.Background(),
	}
	for name, ctx := range cases {
		if _, err := s.Authenticate(ctx); status.Code(err) != codes.Unauthenticated {
			t.Fatalf("%s: want Unauthenticated, got %v", name, err)
		}
	}

	trusting := New(memory.NewStore(nil), nil, true)
	p, err = trusting.Authenticate(ctxWithMD(grpcremote.UserHeader, " carol "))
	require.NoError(t, err)
	require.Equal(t, "carol", p.Handle)

	_, err = trusting.Authenticate(ctxWithMD("authorization", "Bearer x.y.z"))
	require.Equal(t, codes.Unauthenticated, status.Code(err), "tokens need a verify key")
}

func TestServer_RoundTrip(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	cc := startBufGRPC(t, New(store, signKey, false))
	tok := makeJWT(t, "alice", signKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	ctx := withToken(context.Background(), tok)
	c := grpcremote.NewClient(cc, nil)

	v, err := c.SaveFile(ctx, 5, 1, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, model.Version(1), v)

	f, err := c.LoadFile(ctx, 5, 1)
	require.NoError(t, err)
	require.Equal(t, "hello", string(f.Content))
	require.Equal(t, "alice", f.UpdatedBy)

	ids, err := c.ListFiles(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, []model.FileID{1}, ids)

	_, err = c.LoadFile(ctx, 5, 2)
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, c.Announce(ctx, 5, model.CollaboratorRecord{DisplayName: "Alice"}))
	require.NoError(t, c.PutCursor(ctx, 5, model.CursorRecord{FileID: 1, Line: 2, Selection: &model.Range{EndLine: 3}}))

	cs, err := c.ListCollaborators(ctx, 5)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	require.Equal(t, "alice", cs[0].RemoteUserID)

	cur, err := c.ListCursors(ctx, 5)
	require.NoError(t, err)
	require.Len(t, cur, 1)
	require.Equal(t, 3, cur[0].Selection.EndLine)

	require.ErrorIs(t, c.Withdraw(ctx, 5, "bob"), errs.ErrAccessDenied)
	require.NoError(t, c.Withdraw(ctx, 5, "alice"))

	_, err = c.ListFiles(context.Background(), 5)
	require.ErrorIs(t, err, errs.ErrAccessDenied, "no credentials")
}

func TestServer_Validation(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(nil)
	store.MaxFileSize = 3
	cc := startBufGRPC(t, New(store, nil, true))
	ctx := metadata.AppendToOutgoingContext(context.Background(), grpcremote.UserHeader, "dev")
	c := grpcremote.NewClient(cc, nil)

	_, err := c.SaveFile(ctx, 1, 1, []byte("toolong"))
	require.ErrorIs(t, err, errs.ErrFileTooLarge)

	_, err = c.ListFiles(ctx, 0)
	require.ErrorIs(t, err, errs.ErrInvalidOperation)

	out := new(structpb.Struct)
	err = cc.Invoke(ctx, grpcremote.FullMethod(grpcremote.MethodPutCursor), convert.TableRequest(1), out)
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}
