// Package requesttime pins one "now" per HTTP request so transaction
// timestamps, contact touches and audit events agree.
package requesttime

import (
	"net/http"
	"time"

	"paybook/pkg/requestcontext"
)

func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
