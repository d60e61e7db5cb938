// Package metadata records who is on the other end of a request: the client
// address and a parsed User-Agent.
package metadata

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

type contextKeyClient struct{}

// Client describes the remote side of a request.
type Client struct {
	IP        string
	UserAgent string
	Browser   string
	OS        string
	Bot       bool
}

// LogAttrs renders the client as slog key-value pairs.
func (c Client) LogAttrs() []any {
	return []any{"client_ip", c.IP, "client_browser", c.Browser, "client_os", c.OS, "client_bot", c.Bot}
}

// ClientMetadata stores the Client for the request in its context. It should
// run before the request logger.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ParseClient(ClientIPFromRequest(r), r.Header.Get("User-Agent"))
		next.ServeHTTP(w, r.WithContext(WithClient(r.Context(), client)))
	})
}

// ParseClient builds a Client from an address and a raw User-Agent header.
func ParseClient(ip, userAgent string) Client {
	c := Client{IP: ip, UserAgent: userAgent}
	if userAgent == "" {
		return c
	}
	ua := useragent.New(userAgent)
	c.Browser, _ = ua.Browser()
	c.OS = ua.OS()
	c.Bot = ua.Bot()
	return c
}

func WithClient(ctx context.Context, c Client) context.Context {
	return context.WithValue(ctx, contextKeyClient{}, c)
}

// ClientFrom returns the Client stored by ClientMetadata, if any.
func ClientFrom(ctx context.Context) (Client, bool) {
	c, ok := ctx.Value(contextKeyClient{}).(Client)
	return c, ok
}

// ClientIPFromRequest prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection's remote address.
func ClientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
