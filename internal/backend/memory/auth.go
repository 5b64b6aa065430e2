package memory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/2beens/gymlog/internal/backend"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var _ backend.Auth = (*Auth)(nil)

const defaultTokenTTL = time.Hour

type codeGrant struct {
	userID    string
	challenge string
}

// Auth is an identity service that signs every authorization request in as the
// default user. Tokens are HS256 JWTs, so expiry handling matches the hosted service.
type Auth struct {
	mu            sync.Mutex
	users         map[string]*backend.User
	accessTokens  map[string]string
	refreshTokens map[string]string
	codes         map[string]codeGrant
	defaultUserID string
	signingKey    []byte
	tokenTTL      time.Duration
	now           func() time.Time
}

func NewAuth(defaultUser *backend.User) *Auth {
	a := &Auth{
		users:         make(map[string]*backend.User),
		accessTokens:  make(map[string]string),
		refreshTokens: make(map[string]string),
		codes:         make(map[string]codeGrant),
		signingKey:    []byte(uuid.NewString()),
		tokenTTL:      defaultTokenTTL,
		now:           time.Now,
	}
	if defaultUser != nil {
		a.AddUser(defaultUser)
		a.defaultUserID = defaultUser.ID
	}
	return a
}

// SetTokenTTL changes the lifetime of newly issued access tokens.
func (a *Auth) SetTokenTTL(ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokenTTL = ttl
}

func (a *Auth) AddUser(u *backend.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = a.now().UTC()
	}
	a.users[u.ID] = u
}

// IssueSession signs the user in directly, skipping the redirect flow.
func (a *Auth) IssueSession(userID string) (*backend.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issueLocked(userID)
}

func (a *Auth) GetUser(_ context.Context, accessToken string) (*backend.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	userID, ok := a.accessTokens[accessToken]
	if !ok {
		return nil, invalidToken("invalid JWT")
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(accessToken, claims, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	}, jwt.WithTimeFunc(a.now)); err != nil {
		return nil, invalidToken(err.Error())
	}

	u := *a.users[userID]
	return &u, nil
}

func (a *Auth) RefreshSession(_ context.Context, refreshToken string) (*backend.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	userID, ok := a.refreshTokens[refreshToken]
	if !ok {
		return nil, &backend.Error{
			Code:    "refresh_token_not_found",
			Message: "Invalid Refresh Token: Refresh Token Not Found",
			Status:  http.StatusBadRequest,
		}
	}
	delete(a.refreshTokens, refreshToken)
	return a.issueLocked(userID)
}

func (a *Auth) AuthorizeURL(provider, redirectTo, codeChallenge string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	target, err := url.Parse(redirectTo)
	if err != nil {
		return "", fmt.Errorf("parse redirect url: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.defaultUserID == "" {
		return "", errors.New("no user to sign in")
	}

	code := uuid.NewString()
	a.codes[code] = codeGrant{userID: a.defaultUserID, challenge: codeChallenge}

	q := target.Query()
	q.Set("code", code)
	target.RawQuery = q.Encode()
	return target.String(), nil
}

func (a *Auth) ExchangeCode(_ context.Context, authCode, codeVerifier string) (*backend.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	grant, ok := a.codes[authCode]
	if !ok {
		return nil, &backend.Error{
			Code:    "flow_state_not_found",
			Message: "invalid flow state, no valid flow state found",
			Status:  http.StatusNotFound,
		}
	}
	delete(a.codes, authCode)

	if backend.CodeChallenge(codeVerifier) != grant.challenge {
		return nil, &backend.Error{
			Code:    "bad_code_verifier",
			Message: "code challenge does not match previously saved code verifier",
			Status:  http.StatusBadRequest,
		}
	}
	return a.issueLocked(grant.userID)
}

func (a *Auth) SignOut(_ context.Context, accessToken string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	userID, ok := a.accessTokens[accessToken]
	if !ok {
		return invalidToken("invalid JWT")
	}
	for token, id := range a.accessTokens {
		if id == userID {
			delete(a.accessTokens, token)
		}
	}
	for token, id := range a.refreshTokens {
		if id == userID {
			delete(a.refreshTokens, token)
		}
	}
	return nil
}

func (a *Auth) issueLocked(userID string) (*backend.Session, error) {
	u, ok := a.users[userID]
	if !ok {
		return nil, &backend.Error{Code: "user_not_found", Message: "User not found", Status: http.StatusNotFound}
	}

	now := a.now()
	expiresAt := now.Add(a.tokenTTL)
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(a.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken := uuid.NewString()
	a.accessTokens[accessToken] = userID
	a.refreshTokens[refreshToken] = userID

	user := *u
	return &backend.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int(a.tokenTTL.Seconds()),
		ExpiresAt:    expiresAt.Unix(),
		User:         &user,
	}, nil
}

func invalidToken(msg string) *backend.Error {
	return &backend.Error{Code: "bad_jwt", Message: msg, Status: http.StatusUnauthorized}
}
