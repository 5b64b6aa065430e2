package session

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/backend/backendmock"
	"github.com/2beens/gymlog/internal/backend/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testCallbackURL = "http://localhost:8080/auth/callback"

func newMemoryManager(t *testing.T) (*Manager, *memory.Auth) {
	t.Helper()
	auth := memory.NewAuth(&backend.User{
		ID:          "u1",
		Email:       "ana@example.com",
		AppMetadata: map[string]any{"provider": "google"},
	})
	m := NewManager(ManagerParams{
		Auth:        auth,
		Store:       NewCacheStore(time.Hour, time.Minute),
		CallbackURL: testCallbackURL,
	})
	t.Cleanup(m.Close)
	return m, auth
}

func signIn(t *testing.T, m *Manager) (string, *backend.Session) {
	t.Helper()
	ctx := context.Background()

	authorizeURL, err := m.SignInWithProvider(ctx, "google")
	require.NoError(t, err)

	redirect, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	assert.Equal(t, "/auth/callback", redirect.Path)

	sessionID, sess, err := m.CompleteSignIn(ctx, redirect.Query().Get("flow"), redirect.Query().Get("code"))
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)
	return sessionID, sess
}

func TestManager_SignInAndOut(t *testing.T) {
	m, _ := newMemoryManager(t)

	var events []Event
	unsubscribe := m.OnSessionChange(func(c Change) {
		events = append(events, c.Event)
		if c.User != nil {
			assert.Equal(t, "u1", c.User.ID)
		}
	})
	defer unsubscribe()

	ctx := context.Background()
	assert.Nil(t, m.CurrentSession(ctx))
	user, err := m.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	sessionID, sess := signIn(t, m)
	assert.Equal(t, "google", sess.User.Provider())

	reqCtx := WithID(ctx, sessionID)
	current := m.CurrentSession(reqCtx)
	require.NotNil(t, current)
	assert.Equal(t, sess.AccessToken, current.AccessToken)

	user, err = m.CurrentUser(reqCtx)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "ana@example.com", user.Email)

	active, err := m.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active)

	require.NoError(t, m.SignOut(ctx, sessionID))
	assert.Nil(t, m.CurrentSession(reqCtx))
	user, err = m.CurrentUser(reqCtx)
	require.NoError(t, err)
	assert.Nil(t, user)

	// unknown sessions are already signed out
	require.NoError(t, m.SignOut(ctx, sessionID))

	assert.Equal(t, []Event{EventSignedIn, EventSignedOut}, events)
}

func TestManager_CompleteSignIn_FlowIsSingleUse(t *testing.T) {
	m, _ := newMemoryManager(t)
	ctx := context.Background()

	authorizeURL, err := m.SignInWithProvider(ctx, "google")
	require.NoError(t, err)
	redirect, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	flowID, code := redirect.Query().Get("flow"), redirect.Query().Get("code")

	_, _, err = m.CompleteSignIn(ctx, flowID, code)
	require.NoError(t, err)

	_, _, err = m.CompleteSignIn(ctx, flowID, code)
	assert.ErrorIs(t, err, ErrSignInFailed)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, _, err = m.CompleteSignIn(ctx, "", "")
	assert.ErrorIs(t, err, ErrSignInFailed)
}

func TestManager_RefreshesExpiringToken(t *testing.T) {
	m, auth := newMemoryManager(t)
	auth.SetTokenTTL(30 * time.Second)

	var events []Event
	m.OnSessionChange(func(c Change) { events = append(events, c.Event) })

	sessionID, sess := signIn(t, m)
	refreshed := m.CurrentSession(WithID(context.Background(), sessionID))
	require.NotNil(t, refreshed)
	assert.NotEqual(t, sess.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, sess.RefreshToken, refreshed.RefreshToken)
	assert.Equal(t, []Event{EventSignedIn, EventTokenRefreshed}, events)
}

func TestManager_RefreshFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := backendmock.NewMockAuth(ctrl)
	store := NewCacheStore(time.Hour, time.Minute)
	m := NewManager(ManagerParams{Auth: auth, Store: store, CallbackURL: testCallbackURL})
	defer m.Close()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	// expiring soon but still valid: the old session is kept
	require.NoError(t, store.Save(ctx, "soon", &backend.Session{
		AccessToken:  "opaque-1",
		RefreshToken: "r1",
		ExpiresAt:    now.Add(30 * time.Second).Unix(),
	}))
	// already expired: no session
	require.NoError(t, store.Save(ctx, "expired", &backend.Session{
		AccessToken:  "opaque-2",
		RefreshToken: "r2",
		ExpiresAt:    now.Add(-time.Minute).Unix(),
	}))

	refreshErr := &backend.Error{Code: "refresh_token_not_found", Status: http.StatusBadRequest}
	auth.EXPECT().RefreshSession(gomock.Any(), "r1").Return(nil, refreshErr)
	auth.EXPECT().RefreshSession(gomock.Any(), "r2").Return(nil, refreshErr)

	sess := m.CurrentSession(WithID(ctx, "soon"))
	require.NotNil(t, sess)
	assert.Equal(t, "opaque-1", sess.AccessToken)

	assert.Nil(t, m.CurrentSession(WithID(ctx, "expired")))
}

func TestManager_CurrentUser(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := backendmock.NewMockAuth(ctrl)
	store := NewCacheStore(time.Hour, time.Minute)
	m := NewManager(ManagerParams{Auth: auth, Store: store, CallbackURL: testCallbackURL})
	defer m.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "s1", &backend.Session{AccessToken: "good"}))
	require.NoError(t, store.Save(ctx, "s2", &backend.Session{AccessToken: "revoked"}))
	require.NoError(t, store.Save(ctx, "s3", &backend.Session{AccessToken: "flaky"}))

	// second lookup is served from the user cache
	auth.EXPECT().GetUser(gomock.Any(), "good").Return(&backend.User{ID: "u1"}, nil).Times(1)
	auth.EXPECT().GetUser(gomock.Any(), "revoked").Return(nil, &backend.Error{Code: "bad_jwt", Status: http.StatusUnauthorized})
	auth.EXPECT().GetUser(gomock.Any(), "flaky").Return(nil, errors.New("connection refused"))

	for i := 0; i < 2; i++ {
		user, err := m.CurrentUser(WithID(ctx, "s1"))
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "u1", user.ID)
	}

	user, err := m.CurrentUser(WithID(ctx, "s2"))
	require.NoError(t, err)
	assert.Nil(t, user)

	_, err = m.CurrentUser(WithID(ctx, "s3"))
	assert.ErrorContains(t, err, "connection refused")
}

func TestManager_SignInFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := backendmock.NewMockAuth(ctrl)
	m := NewManager(ManagerParams{Auth: auth, Store: NewCacheStore(time.Hour, time.Minute), CallbackURL: testCallbackURL})
	defer m.Close()

	auth.EXPECT().
		AuthorizeURL("google", gomock.Any(), gomock.Any()).
		DoAndReturn(func(provider, redirectTo, challenge string) (string, error) {
			u, err := url.Parse(redirectTo)
			require.NoError(t, err)
			assert.NotEmpty(t, u.Query().Get("flow"))
			assert.Len(t, challenge, 43)
			return "", errors.New("provider disabled")
		})

	_, err := m.SignInWithProvider(context.Background(), "google")
	assert.ErrorIs(t, err, ErrSignInFailed)
	assert.Equal(t, "Error al iniciar sesión con Google: provider disabled", err.Error())
}

func TestManager_SignOutFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	auth := backendmock.NewMockAuth(ctrl)
	store := NewCacheStore(time.Hour, time.Minute)
	m := NewManager(ManagerParams{Auth: auth, Store: store, CallbackURL: testCallbackURL})
	defer m.Close()
	ctx := context.Background()

	var events []Event
	m.OnSessionChange(func(c Change) { events = append(events, c.Event) })

	require.NoError(t, store.Save(ctx, "s1", &backend.Session{AccessToken: "a1"}))
	require.NoError(t, store.Save(ctx, "s2", &backend.Session{AccessToken: "a2"}))

	auth.EXPECT().SignOut(gomock.Any(), "a1").Return(&backend.Error{Message: "upstream", Status: http.StatusBadGateway})
	auth.EXPECT().SignOut(gomock.Any(), "a2").Return(&backend.Error{Code: "bad_jwt", Status: http.StatusUnauthorized})

	err := m.SignOut(ctx, "s1")
	assert.ErrorIs(t, err, ErrSignOutFailed)
	_, err = store.Get(ctx, "s1")
	assert.NoError(t, err, "session is kept when the remote sign out fails")

	require.NoError(t, m.SignOut(ctx, "s2"))
	_, err = store.Get(ctx, "s2")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, []Event{EventSignedOut}, events)
}
