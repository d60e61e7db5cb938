// Package requesttime pins one "now" per request. Maturity checks, event
// timestamps and lot dates inside a request all read the same instant.
package requesttime

import (
	"net/http"
	"time"

	"bondledger/pkg/requestcontext"
)

// Middleware stores the arrival time in the request context. Read it with
// requestcontext.Now.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
