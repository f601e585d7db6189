package grpcserver

import (
	"context"

	"github.com/and161185/cafe-collab/internal/remote"
)

type ctxKey string

const principalKey ctxKey = "cafe.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p remote.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the caller stored by WithPrincipal.
func PrincipalFromCtx(ctx context.Context) (remote.Principal, bool) {
	p, ok := ctx.Value(principalKey).(remote.Principal)
	return p, ok && p.Handle != ""
}
