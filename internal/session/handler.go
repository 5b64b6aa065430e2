package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/gymlog/internal/telemetry/tracing"
	"github.com/2beens/gymlog/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	CookieName       = "gymlog_session"
	LoginPath        = "/login"
	HomePath         = "/home"
	CallbackPath     = "/auth/callback"
	SignInPathPrefix = "/auth/signin/"
)

// Handler serves the sign in and sign out routes.
type Handler struct {
	manager       *Manager
	provider      string
	cookieTTL     time.Duration
	secureCookies bool
}

func NewHandler(manager *Manager, provider string, cookieTTL time.Duration, secureCookies bool) *Handler {
	if cookieTTL <= 0 {
		cookieTTL = DefaultTTL
	}
	return &Handler{
		manager:       manager,
		provider:      provider,
		cookieTTL:     cookieTTL,
		secureCookies: secureCookies,
	}
}

// SetupRoutes registers the auth routes. signInMiddlewares wrap the sign in route only.
func (h *Handler) SetupRoutes(router *mux.Router, signInMiddlewares ...mux.MiddlewareFunc) {
	router.HandleFunc("/", h.handleRoot).Methods("GET").Name("root")
	router.HandleFunc(LoginPath, h.handleLogin).Methods("GET").Name("login")
	router.HandleFunc(CallbackPath, h.handleCallback).Methods("GET").Name("auth-callback")
	router.HandleFunc("/auth/signout", h.handleSignOut).Methods("POST", "OPTIONS").Name("signout")

	signInRouter := router.PathPrefix(strings.TrimSuffix(SignInPathPrefix, "/")).Subrouter()
	signInRouter.HandleFunc("/{provider}", h.handleSignIn).Methods("GET").Name("signin")
	signInRouter.Use(signInMiddlewares...)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, LoginPath, http.StatusFound)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionHandler.login")
	defer span.End()

	if IDFromContext(ctx) != "" && h.manager.CurrentSession(ctx) != nil {
		http.Redirect(w, r, HomePath, http.StatusFound)
		return
	}

	pkg.WriteJSON(w, map[string]string{
		"provider":   h.provider,
		"signin_url": SignInPathPrefix + h.provider,
	}, http.StatusOK)
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionHandler.signIn")
	defer span.End()

	provider := mux.Vars(r)["provider"]
	span.SetAttributes(attribute.String("provider", provider))

	authorizeURL, err := h.manager.SignInWithProvider(ctx, provider)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		pkg.WriteJSONError(w, ErrSignInFailed.Error(), http.StatusBadGateway)
		return
	}

	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionHandler.callback")
	defer span.End()

	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		log.Warnf("sign in rejected by provider: %s: %s", providerErr, q.Get("error_description"))
		span.SetStatus(codes.Error, providerErr)
		pkg.WriteJSONError(w, ErrSignInFailed.Error(), http.StatusBadRequest)
		return
	}

	sessionID, _, err := h.manager.CompleteSignIn(ctx, q.Get("flow"), q.Get("code"))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		status := http.StatusBadGateway
		if errors.Is(err, ErrFlowNotFound) {
			status = http.StatusBadRequest
		}
		pkg.WriteJSONError(w, ErrSignInFailed.Error(), status)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(h.cookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, HomePath, http.StatusFound)
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "sessionHandler.signOut")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.manager.SignOut(ctx, IDFromContext(ctx)); err != nil {
		span.SetStatus(codes.Error, err.Error())
		pkg.WriteJSONError(w, ErrSignOutFailed.Error(), http.StatusBadGateway)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, LoginPath, http.StatusSeeOther)
}
