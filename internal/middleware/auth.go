package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/session"
	"github.com/2beens/gymlog/internal/telemetry/tracing"
	"github.com/2beens/gymlog/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/codes"
)

//go:generate mockgen -source=$GOFILE -destination=auth_mock_test.go -package=middleware_test

const msgUnauthenticated = "Usuario no autenticado"

type sessionProvider interface {
	CurrentSession(ctx context.Context) *backend.Session
}

// AuthMiddlewareHandler guards every route that requires an authenticated user.
// The session is looked up on each request, never cached in the handler.
type AuthMiddlewareHandler struct {
	sessions             sessionProvider
	allowedPaths         map[string]bool
	allowedPathsPrefixes []string
}

func NewAuthMiddlewareHandler(sessions sessionProvider) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		sessions: sessions,
		allowedPaths: map[string]bool{
			"/":                  true,
			session.LoginPath:    true,
			session.CallbackPath: true,
			"/healthz":           true,
		},
		allowedPathsPrefixes: []string{
			session.SignInPathPrefix,
		},
	}
}

func (h *AuthMiddlewareHandler) pathIsAlwaysAllowed(path string) bool {
	if h.allowedPaths[path] {
		return true
	}
	for _, prefix := range h.allowedPathsPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, PUT, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
				ctx = session.WithID(ctx, cookie.Value)
			}

			if h.pathIsAlwaysAllowed(r.URL.Path) {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			if session.IDFromContext(ctx) == "" {
				log.Tracef("[missing session] [auth middleware] unauthorized => %s", r.URL.Path)
				span.SetStatus(codes.Error, "missing-session")
				deny(w, r)
				return
			}

			sess := h.sessions.CurrentSession(ctx)
			if sess == nil {
				log.Tracef("[invalid session] [auth middleware] unauthorized => %s", r.URL.Path)
				span.SetStatus(codes.Error, "not-logged")
				deny(w, r)
				return
			}

			span.SetStatus(codes.Ok, "ok")
			ctx = backend.WithAccessToken(ctx, sess.AccessToken)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// deny sends API clients a 401 and browsers to the login page.
func deny(w http.ResponseWriter, r *http.Request) {
	if WantsJSON(r) {
		pkg.WriteJSONError(w, msgUnauthenticated, http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, session.LoginPath, http.StatusFound)
}

func WantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), pkg.ContentType.JSON)
}
