package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/and161185/cafe-collab/internal/errs"
	"github.com/and161185/cafe-collab/internal/feed/wsfeed"
	"github.com/and161185/cafe-collab/internal/identity"
	"github.com/and161185/cafe-collab/internal/remote/grpcremote"
)

// feedAuth authenticates feed handshakes the same way the gRPC server does:
// a bearer token (header or ?token=), or the user header when trusted.
func feedAuth(verifyKey []byte, trustHeader bool) wsfeed.Authenticator {
	return func(r *http.Request) (string, error) {
		raw := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); h != "" {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return "", errors.New("bad authorization header")
			}
			raw = parts[1]
		}
		if raw != "" {
			if len(verifyKey) == 0 {
				return "", errs.ErrAccessDenied
			}
			return (&identity.Token{Raw: strings.TrimSpace(raw), VerifyKey: verifyKey}).Handle()
		}
		if trustHeader {
			if u := strings.TrimSpace(r.Header.Get(grpcremote.UserHeader)); u != "" {
				return u, nil
			}
		}
		return "", errs.ErrAccessDenied
	}
}

// newRouter mounts the feed relay, metrics and liveness endpoints.
func newRouter(relay http.Handler, reg prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/feed", relay).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	return r
}
