// Package backend defines the contract gymlog needs from the remote data backend:
// table reads with filters, ordering and embedded references, single-row mutations,
// and the auth primitives of the hosted identity service.
package backend

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"time"
)

//go:generate mockgen -source=$GOFILE -destination=backendmock/mocks.go -package=backendmock

// Client is the table-level data interface. Result rows are decoded from JSON into dest,
// so dest follows encoding/json rules (pointer to slice for lists, pointer to struct for single rows).
type Client interface {
	// Select decodes all matching rows into dest (*[]T). No rows is not an error.
	Select(ctx context.Context, q Query, dest any) error
	// SelectSingle expects exactly one row; zero or many rows yield an *Error with CodeNoRows.
	SelectSingle(ctx context.Context, q Query, dest any) error
	// SelectMaybeSingle reports found=false for zero rows; many rows is an *Error with CodeNoRows.
	SelectMaybeSingle(ctx context.Context, q Query, dest any) (found bool, err error)
	// Insert inserts one row and decodes the stored row (with server assigned columns) into dest.
	Insert(ctx context.Context, table string, row any, dest any) error
	// Upsert inserts one row or, on conflict on the onConflict column, merges it into the existing one.
	Upsert(ctx context.Context, table string, row any, onConflict string, dest any) error
	// Update patches exactly one row matched by filters and decodes it into dest.
	Update(ctx context.Context, table string, patch any, filters []Filter, dest any) error
	Delete(ctx context.Context, table string, filters []Filter) error
}

// Auth is the identity service of the backend.
type Auth interface {
	GetUser(ctx context.Context, accessToken string) (*User, error)
	RefreshSession(ctx context.Context, refreshToken string) (*Session, error)
	// AuthorizeURL builds the provider redirect URL of a PKCE OAuth flow.
	AuthorizeURL(provider, redirectTo, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, authCode, codeVerifier string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Provider returns the identity provider the user signed in with, e.g. google.
func (u *User) Provider() string {
	if u == nil || u.AppMetadata == nil {
		return ""
	}
	provider, _ := u.AppMetadata["provider"].(string)
	return provider
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	// ExpiresAt is a unix timestamp (seconds)
	ExpiresAt int64 `json:"expires_at"`
	User      *User `json:"user"`
}

func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

type accessTokenCtxKey struct{}

// WithAccessToken binds the caller's access token to ctx; clients that support
// row-level security forward it to the backend.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenCtxKey{}, token)
}

func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenCtxKey{}).(string)
	return token
}

// CodeChallenge derives the S256 PKCE challenge of a code verifier.
func CodeChallenge(codeVerifier string) string {
	sum := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
