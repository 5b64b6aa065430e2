//go:build integration_test || all_tests

package test

import (
	"context"
	"io"
	"net/http"

	"github.com/2beens/gymlog/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestHealthAndVersion() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t := s.T()

	resp := s.do(ctx, &http.Client{}, "GET", "/healthz", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	client := s.newClient()
	s.signIn(ctx, client)
	resp = s.do(ctx, client, "GET", "/version", "")
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test-version-info", string(body))
}

func (s *IntegrationTestSuite) TestUnauthenticated() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var errResp struct {
		Error string `json:"error"`
	}
	s.doJSON(ctx, client, "GET", "/records", "", http.StatusUnauthorized, &errResp)
	assert.Equal(t, "Usuario no autenticado", errResp.Error)

	req, err := http.NewRequestWithContext(ctx, "GET", serverEndpoint+"/home", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, session.LoginPath, resp.Header.Get("Location"))
}

func (s *IntegrationTestSuite) TestSignInAndOut() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	client := s.newClient()
	s.signIn(ctx, client)

	var home struct {
		Today []map[string]any `json:"today"`
	}
	s.doJSON(ctx, client, "GET", "/home", "", http.StatusOK, &home)

	// signed in users skip the login page
	resp := s.do(ctx, client, "GET", session.LoginPath, "")
	resp.Body.Close()
	assert.Equal(t, session.HomePath, resp.Request.URL.Path)

	resp = s.do(ctx, client, "POST", "/auth/signout", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session.LoginPath, resp.Request.URL.Path)

	s.doJSON(ctx, client, "GET", "/profile", "", http.StatusUnauthorized, nil)
}
