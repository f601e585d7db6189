package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/cafe-collab/internal/feed/wsfeed"
	"github.com/and161185/cafe-collab/internal/model"
	"github.com/and161185/cafe-collab/internal/remote/grpcremote"
	"github.com/and161185/cafe-collab/internal/remote/memory"
	"github.com/and161185/cafe-collab/internal/service"
)

func TestFeedAuth(t *testing.T) {
	t.Parallel()
	key := []byte("k")
	tok, _, err := service.NewTokenIssuer(key, time.Hour, nil).Issue("alice")
	require.NoError(t, err)

	req := func(mut func(r *http.Request)) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/feed?table=1", nil)
		mut(r)
		return r
	}

	auth := feedAuth(key, false)
	u, err := auth(req(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }))
	require.NoError(t, err)
	require.Equal(t, "alice", u)

	u, err = auth(req(func(r *http.Request) { r.URL.RawQuery += "&token=" + tok }))
	require.NoError(t, err)
	require.Equal(t, "alice", u)

	_, err = auth(req(func(r *http.Request) { r.Header.Set("Authorization", "Basic xyz") }))
	require.Error(t, err)
	_, err = auth(req(func(r *http.Request) { r.Header.Set(grpcremote.UserHeader, "mallory") }))
	require.Error(t, err, "header must not be trusted")

	other, _, err := service.NewTokenIssuer([]byte("other"), time.Hour, nil).Issue("eve")
	require.NoError(t, err)
	_, err = auth(req(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+other) }))
	require.Error(t, err)

	trusted := feedAuth(nil, true)
	u, err = trusted(req(func(r *http.Request) { r.Header.Set(grpcremote.UserHeader, " bob ") }))
	require.NoError(t, err)
	require.Equal(t, "bob", u)
	_, err = trusted(req(func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }))
	require.Error(t, err, "tokens need a key")
}

func TestRouter(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_hits_total", Help: "h"})
	reg.MustRegister(hits)
	hits.Inc()

	relay := wsfeed.NewRelay(nil, nil, zaptest.NewLogger(t))
	srv := httptest.NewServer(newRouter(relay, reg))
	defer srv.Close()

	get := func(path string) (int, string) {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(b)
	}

	code, body := get("/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)

	code, body = get("/metrics")
	require.Equal(t, http.StatusOK, code)
	require.True(t, strings.Contains(body, "test_hits_total 1"))

	code, _ = get("/feed?table=0")
	require.Equal(t, http.StatusBadRequest, code)

	resp, err := http.Post(srv.URL+"/healthz", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestGRPC_HealthWithoutCredentials(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	s := newGRPC(memory.NewStore(nil), []byte("k"), false, zaptest.NewLogger(t), true)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer cc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	rem := grpcremote.NewClient(cc, nil)
	_, err = rem.ListFiles(ctx, model.WorkspaceID(1))
	require.Error(t, err, "storage calls need a principal")
}
