package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/ledgersync/internal/core"
)

type ctxKey int

const tenantKey ctxKey = iota

// Headers identifying the caller. Authentication happens upstream; the API
// trusts these once the API key check has passed.
const (
	headerTenant = "X-Tenant-ID"
	headerUser   = "X-User-ID"
)

// WithRequestMetadata adds actor, IP, and User-Agent to context for audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	if user := strings.TrimSpace(r.Header.Get(headerUser)); user != "" {
		ctx = core.ContextWithActor(ctx, user)
	}
	ctx = core.ContextWithIPAddress(ctx, r.RemoteAddr) // already rewritten by TrustedRealIP
	ctx = core.ContextWithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// requireTenant rejects requests without X-Tenant-ID and stores the tenant
// and request metadata in the request context.
func requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(headerTenant))
		if tenant == "" {
			respondError(w, r, &core.MissingFieldsError{Fields: []string{headerTenant}})
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenant)
		ctx = WithRequestMetadata(ctx, r)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey).(string)
	return t
}

func userFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerUser))
}
