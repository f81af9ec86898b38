// Package auth authenticates bearer tokens and attaches the principal to
// the request context.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"paybook/internal/auth/models"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/platform/httputil"
	"paybook/pkg/requestcontext"
)

// Authenticator resolves an access token to an active session's principal.
// It checks the signature, the revocation list and the session status.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Principal, error)
}

type contextKeyPrincipal struct{}

// GetPrincipal returns the principal set by RequireAuth.
func GetPrincipal(ctx context.Context) (*models.Principal, bool) {
	p, ok := ctx.Value(contextKeyPrincipal{}).(*models.Principal)
	return p, ok
}

// WithPrincipal attaches p as RequireAuth would. Useful in handler tests.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	ctx = context.WithValue(ctx, contextKeyPrincipal{}, p)
	ctx = requestcontext.WithUserID(ctx, p.UserID)
	ctx = requestcontext.WithSessionID(ctx, p.SessionID)
	return requestcontext.WithTokenJTI(ctx, p.JTI)
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

func RequireAuth(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := BearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid Authorization header"))
				return
			}

			principal, err := authn.Authenticate(ctx, token)
			if err != nil {
				if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
					logger.WarnContext(ctx, "unauthorized access - rejected token",
						"error", err,
						"request_id", requestID,
					)
				} else {
					logger.ErrorContext(ctx, "failed to authenticate token",
						"error", err,
						"request_id", requestID,
					)
				}
				httputil.WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, principal)))
		})
	}
}
