package httptransport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	authmodels "paybook/internal/auth/models"
	authservice "paybook/internal/auth/service"
	dErrors "paybook/pkg/domain-errors"
	"paybook/pkg/platform/httputil"
	"paybook/pkg/platform/middleware/auth"
	"paybook/pkg/requestcontext"
)

const defaultKeepAlive = 25 * time.Second

type AuthHandler struct {
	auth      AuthService
	logger    *slog.Logger
	keepAlive time.Duration
}

func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, logger: logger, keepAlive: defaultKeepAlive}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type SessionResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	Device     string    `json:"device"`
	CreatedAt  time.Time `json:"created_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// AuthResponse carries the bearer token. Password hashes never leave the
// service.
type AuthResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresAt   time.Time        `json:"expires_at"`
	User        UserResponse     `json:"user"`
	Session     *SessionResponse `json:"session,omitempty"`
}

func toSessionResponse(s *authmodels.Session) *SessionResponse {
	if s == nil {
		return nil
	}
	return &SessionResponse{
		ID:         s.ID.String(),
		Status:     string(s.Status),
		Device:     s.DeviceDisplayName,
		CreatedAt:  s.CreatedAt,
		LastSeenAt: s.LastSeenAt,
		ExpiresAt:  s.ExpiresAt,
	}
}

func toAuthResponse(res *authmodels.AuthResult) AuthResponse {
	resp := AuthResponse{
		AccessToken: res.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   res.ExpiresAt,
		Session:     toSessionResponse(res.Session),
	}
	if res.User != nil {
		resp.User = UserResponse{ID: res.User.ID.String(), Email: res.User.Email}
	}
	return resp
}

// RegisterPublic mounts the routes reachable without a token.
func (h *AuthHandler) RegisterPublic(r chi.Router) {
	r.Post("/auth/signup", h.HandleSignUp)
	r.Post("/auth/signin", h.HandleSignIn)
	r.Post("/auth/refresh", h.HandleRefresh)
}

// Register mounts the routes behind RequireAuth. The event stream is
// mounted separately because it must outlive the request timeout.
func (h *AuthHandler) Register(r chi.Router) {
	r.Post("/auth/signout", h.HandleSignOut)
	r.Get("/auth/session", h.HandleSession)
}

func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[authservice.SignUpRequest](w, r, h.logger)
	if !ok {
		return
	}
	res, err := h.auth.SignUp(r.Context(), *req)
	if err != nil {
		h.writeError(w, r, "sign up failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toAuthResponse(res))
}

func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.DecodeJSON[signInRequest](w, r, h.logger)
	if !ok {
		return
	}
	res, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, "sign in failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	if err := h.auth.SignOut(r.Context(), p); err != nil {
		h.writeError(w, r, "sign out failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRefresh sits outside RequireAuth so that an expired token can still
// be exchanged while its session is active.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.BearerToken(r)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
		return
	}
	res, err := h.auth.RefreshToken(r.Context(), token)
	if err != nil {
		h.writeError(w, r, "token refresh failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAuthResponse(res))
}

func (h *AuthHandler) HandleSession(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	session, err := h.auth.CurrentSession(r.Context(), p)
	if err != nil {
		h.writeError(w, r, "session lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		User    UserResponse     `json:"user"`
		Session *SessionResponse `json:"session"`
	}{
		User:    UserResponse{ID: p.UserID.String(), Email: p.Email},
		Session: toSessionResponse(session),
	})
}

// HandleSessionEvents streams the caller's session events as server-sent
// events. The stream ends when the client goes away or when the caller's
// own session ends.
func (h *AuthHandler) HandleSessionEvents(w http.ResponseWriter, r *http.Request) {
	p, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	events, cancel, err := h.auth.Subscribe(ctx, p.UserID)
	if err != nil {
		h.writeError(w, r, "subscribe failed", err)
		return
	}
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.WarnContext(ctx, "event stream not flushable", "error", err)
		return
	}

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			_ = rc.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.ErrorContext(ctx, "encode session event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload); err != nil {
				return
			}
			_ = rc.Flush()
			if event.EndsSession() && event.SessionID == p.SessionID {
				return
			}
		}
	}
}

func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logError(r, h.logger, msg, err)
	httputil.WriteError(w, err)
}

func requirePrincipal(w http.ResponseWriter, r *http.Request) (*authmodels.Principal, bool) {
	p, ok := auth.GetPrincipal(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return nil, false
	}
	return p, true
}

// logError logs client faults at warn and everything else at error.
func logError(r *http.Request, logger *slog.Logger, msg string, err error) {
	ctx := r.Context()
	if httputil.StatusFor(dErrors.CodeOf(err)) < http.StatusInternalServerError {
		logger.WarnContext(ctx, msg, "error", err, "path", r.URL.Path, "request_id", requestcontext.RequestID(ctx))
		return
	}
	logger.ErrorContext(ctx, msg, "error", err, "path", r.URL.Path, "request_id", requestcontext.RequestID(ctx))
}
