package postgrest

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
)

var _ backend.Auth = (*Auth)(nil)

// Auth is the GoTrue client.
type Auth struct {
	conn *conn
}

func NewAuth(baseURL, anonKey string, httpClient *http.Client) (*Auth, error) {
	c, err := newConn(baseURL, anonKey, httpClient)
	if err != nil {
		return nil, err
	}
	return &Auth{conn: c}, nil
}

func (a *Auth) GetUser(ctx context.Context, accessToken string) (_ *backend.User, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "gotrue.getUser")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if accessToken == "" {
		return nil, errors.New("access token is empty")
	}

	respBytes, err := a.conn.do(ctx, request{
		method:      http.MethodGet,
		path:        authPath + "user",
		bearerToken: accessToken,
	})
	if err != nil {
		return nil, err
	}

	user := &backend.User{}
	if err := backend.DecodeRow(respBytes, user); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	return user, nil
}

func (a *Auth) RefreshSession(ctx context.Context, refreshToken string) (_ *backend.Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "gotrue.refreshSession")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return a.token(ctx, "refresh_token", map[string]string{
		"refresh_token": refreshToken,
	})
}

func (a *Auth) AuthorizeURL(provider, redirectTo, codeChallenge string) (string, error) {
	if provider == "" {
		return "", errors.New("provider is required")
	}
	query := url.Values{}
	query.Set("provider", provider)
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	if codeChallenge != "" {
		query.Set("code_challenge", codeChallenge)
		query.Set("code_challenge_method", "s256")
	}
	return a.conn.endpoint(authPath+"authorize", query), nil
}

func (a *Auth) ExchangeCode(ctx context.Context, authCode, codeVerifier string) (_ *backend.Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "gotrue.exchangeCode")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return a.token(ctx, "pkce", map[string]string{
		"auth_code":     authCode,
		"code_verifier": codeVerifier,
	})
}

func (a *Auth) SignOut(ctx context.Context, accessToken string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "gotrue.signOut")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = a.conn.do(ctx, request{
		method:      http.MethodPost,
		path:        authPath + "logout",
		bearerToken: accessToken,
	})
	return err
}

func (a *Auth) token(ctx context.Context, grantType string, body map[string]string) (*backend.Session, error) {
	query := url.Values{}
	query.Set("grant_type", grantType)

	respBytes, err := a.conn.do(ctx, request{
		method: http.MethodPost,
		path:   authPath + "token",
		query:  query,
		body:   body,
	})
	if err != nil {
		return nil, err
	}

	session := &backend.Session{}
	if err := backend.DecodeRow(respBytes, session); err != nil {
		return nil, err
	}
	if session.AccessToken == "" {
		return nil, errors.New("token response without access token")
	}
	return session, nil
}
