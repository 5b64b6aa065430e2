// Package session manages the authenticated sessions of gymlog users: the OAuth (PKCE)
// sign in flow against the backend identity service, session storage, token refresh and
// session change notifications.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"
	"github.com/2beens/gymlog/pkg"

	"github.com/coocood/freecache"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrSignInFailed  = errors.New("Error al iniciar sesión con Google")
	ErrSignOutFailed = errors.New("Error al cerrar sesión")
)

const (
	// access tokens expiring within this margin are refreshed before use
	refreshMargin    = time.Minute
	codeVerifierLen  = 64
	userCacheSize    = 8 * 1024 * 1024
	defaultUserCache = time.Minute
)

type Manager struct {
	auth         backend.Auth
	store        Store
	callbackURL  string
	userCache    *freecache.Cache
	userCacheTTL time.Duration
	broadcaster  *broadcaster
	now          func() time.Time
	newID        func() string
}

type ManagerParams struct {
	Auth  backend.Auth
	Store Store
	// CallbackURL is where the provider redirects back to, e.g. https://gymlog.app/auth/callback
	CallbackURL  string
	UserCacheTTL time.Duration
}

func NewManager(params ManagerParams) *Manager {
	userCacheTTL := params.UserCacheTTL
	if userCacheTTL <= 0 {
		userCacheTTL = defaultUserCache
	}
	return &Manager{
		auth:         params.Auth,
		store:        params.Store,
		callbackURL:  params.CallbackURL,
		userCache:    freecache.NewCache(userCacheSize),
		userCacheTTL: userCacheTTL,
		broadcaster:  newBroadcaster(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// CurrentSession returns the session bound to ctx (see WithID), refreshed if its
// access token is about to expire. It returns nil when there is no usable session;
// store and transport failures are logged, never returned.
func (m *Manager) CurrentSession(ctx context.Context) *backend.Session {
	sessionID := IDFromContext(ctx)
	if sessionID == "" {
		return nil
	}

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			log.Errorf("session manager, get session: %s", err)
		}
		return nil
	}

	expiry := accessTokenExpiry(sess)
	if expiry.IsZero() || m.now().Add(refreshMargin).Before(expiry) {
		return sess
	}

	refreshed, err := m.refresh(ctx, sessionID, sess)
	if err != nil {
		log.Warnf("session manager, refresh session %s: %s", sessionID, err)
		if m.now().Before(expiry) {
			return sess
		}
		return nil
	}
	return refreshed
}

func (m *Manager) refresh(ctx context.Context, sessionID string, sess *backend.Session) (_ *backend.Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.refresh")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	refreshed, err := m.auth.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		return nil, err
	}
	if refreshed.User == nil {
		refreshed.User = sess.User
	}
	if err := m.store.Save(ctx, sessionID, refreshed); err != nil {
		return nil, fmt.Errorf("save refreshed session: %w", err)
	}

	m.broadcaster.publish(Change{Event: EventTokenRefreshed, SessionID: sessionID, User: refreshed.User})
	return refreshed, nil
}

// CurrentUser validates the current session with the identity service and returns its user.
// A missing or rejected session yields a nil user and no error.
func (m *Manager) CurrentUser(ctx context.Context) (_ *backend.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.currentUser")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	sess := m.CurrentSession(ctx)
	if sess == nil || sess.AccessToken == "" {
		return nil, nil
	}

	cacheKey := userCacheKey(sess.AccessToken)
	if userJson, err := m.userCache.Get(cacheKey); err == nil {
		user := &backend.User{}
		if err := json.Unmarshal(userJson, user); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return user, nil
		}
	}

	user, err := m.auth.GetUser(ctx, sess.AccessToken)
	if err != nil {
		var backendErr *backend.Error
		if errors.As(err, &backendErr) && backendErr.Status == http.StatusUnauthorized {
			log.Debugf("session manager, access token rejected: %s", err)
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if userJson, err := json.Marshal(user); err == nil {
		if err := m.userCache.Set(cacheKey, userJson, expireSeconds(m.userCacheTTL)); err != nil {
			log.Warnf("session manager, cache user %s: %s", user.ID, err)
		}
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	return user, nil
}

// SignInWithProvider starts an OAuth redirect flow and returns the provider URL to redirect to.
func (m *Manager) SignInWithProvider(ctx context.Context, provider string) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.signInWithProvider")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("provider", provider))

	authorizeURL, err := m.startFlow(ctx, provider)
	if err != nil {
		log.Errorf("session manager, sign in with %s: %s", provider, err)
		return "", fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}
	return authorizeURL, nil
}

func (m *Manager) startFlow(ctx context.Context, provider string) (string, error) {
	codeVerifier, err := pkg.RandomToken(codeVerifierLen)
	if err != nil {
		return "", fmt.Errorf("generate code verifier: %w", err)
	}

	flowID := m.newID()
	if err := m.store.SaveFlow(ctx, flowID, codeVerifier); err != nil {
		return "", fmt.Errorf("save sign in flow: %w", err)
	}

	redirectTo, err := url.Parse(m.callbackURL)
	if err != nil {
		return "", fmt.Errorf("parse callback url: %w", err)
	}
	q := redirectTo.Query()
	q.Set("flow", flowID)
	redirectTo.RawQuery = q.Encode()

	return m.auth.AuthorizeURL(provider, redirectTo.String(), backend.CodeChallenge(codeVerifier))
}

// CompleteSignIn finishes the flow started by SignInWithProvider, stores the new
// session and returns its id.
func (m *Manager) CompleteSignIn(ctx context.Context, flowID, authCode string) (_ string, _ *backend.Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.completeSignIn")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	sessionID, sess, err := m.completeFlow(ctx, flowID, authCode)
	if err != nil {
		log.Errorf("session manager, complete sign in: %s", err)
		return "", nil, fmt.Errorf("%w: %w", ErrSignInFailed, err)
	}

	m.broadcaster.publish(Change{Event: EventSignedIn, SessionID: sessionID, User: sess.User})
	return sessionID, sess, nil
}

func (m *Manager) completeFlow(ctx context.Context, flowID, authCode string) (string, *backend.Session, error) {
	if flowID == "" || authCode == "" {
		return "", nil, fmt.Errorf("missing flow id or auth code: %w", ErrFlowNotFound)
	}

	codeVerifier, err := m.store.TakeFlow(ctx, flowID)
	if err != nil {
		return "", nil, err
	}

	sess, err := m.auth.ExchangeCode(ctx, authCode, codeVerifier)
	if err != nil {
		return "", nil, fmt.Errorf("exchange code: %w", err)
	}

	sessionID := m.newID()
	if err := m.store.Save(ctx, sessionID, sess); err != nil {
		return "", nil, fmt.Errorf("save session: %w", err)
	}
	return sessionID, sess, nil
}

// SignOut signs the session out of the identity service and forgets it.
// Signing out an unknown session is a no-op.
func (m *Manager) SignOut(ctx context.Context, sessionID string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.signOut")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		log.Errorf("session manager, sign out, get session: %s", err)
		return fmt.Errorf("%w: %w", ErrSignOutFailed, err)
	}

	if err := m.auth.SignOut(ctx, sess.AccessToken); err != nil {
		var backendErr *backend.Error
		// an already invalid token is as good as signed out
		if !errors.As(err, &backendErr) || backendErr.Status != http.StatusUnauthorized {
			log.Errorf("session manager, sign out: %s", err)
			return fmt.Errorf("%w: %w", ErrSignOutFailed, err)
		}
	}

	if err := m.store.Delete(ctx, sessionID); err != nil {
		log.Errorf("session manager, sign out, delete session: %s", err)
		return fmt.Errorf("%w: %w", ErrSignOutFailed, err)
	}
	m.userCache.Del(userCacheKey(sess.AccessToken))

	m.broadcaster.publish(Change{Event: EventSignedOut, SessionID: sessionID, User: sess.User})
	return nil
}

// OnSessionChange registers a listener for sign in, sign out and token refresh events.
// The returned func unsubscribes it.
func (m *Manager) OnSessionChange(listener Listener) func() {
	return m.broadcaster.subscribe(listener)
}

// ActiveSessions returns the number of stored sessions.
func (m *Manager) ActiveSessions(ctx context.Context) (int64, error) {
	return m.store.Count(ctx)
}

func (m *Manager) ScanAndClean(ctx context.Context) {
	m.store.ScanAndClean(ctx)
}

// Close drops all listeners; later subscriptions are ignored.
func (m *Manager) Close() {
	m.broadcaster.close()
}

// accessTokenExpiry reads the exp claim of the access token, falling back to expires_at.
// The token signature is verified by the identity service, not here.
func accessTokenExpiry(sess *backend.Session) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return sess.Expiry()
}

func userCacheKey(accessToken string) []byte {
	sum := sha256.Sum256([]byte(accessToken))
	return sum[:]
}
