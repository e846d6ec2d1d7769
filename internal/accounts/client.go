package accounts

import (
	"context"
	"net"
	"net/http"
)

type clientKey struct{}

// WithClient tags ctx with the address a request came from.
func WithClient(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientKey{}, addr)
}

// ClientFrom returns the address set by WithClient, or "" when unknown.
func ClientFrom(ctx context.Context) string {
	addr, _ := ctx.Value(clientKey{}).(string)
	return addr
}

// clientAddr stores the caller's host in the request context. RemoteAddr has
// already been rewritten by chi's RealIP when the request came through the
// gateway.
func clientAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), host)))
	})
}
