// Package postgrest talks to a hosted Supabase project: table access through
// PostgREST (/rest/v1) and identity through GoTrue (/auth/v1).
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/2beens/gymlog/internal/backend"
)

const (
	restPath = "/rest/v1/"
	authPath = "/auth/v1/"

	mimeJSON   = "application/json"
	mimeObject = "application/vnd.pgrst.object+json"
)

// conn is the HTTP plumbing shared by Client and Auth.
type conn struct {
	baseURL    *url.URL
	anonKey    string
	httpClient *http.Client
}

func newConn(baseURL, anonKey string, httpClient *http.Client) (*conn, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend url: %q", baseURL)
	}
	if anonKey == "" {
		return nil, fmt.Errorf("anon key is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &conn{
		baseURL:    u,
		anonKey:    anonKey,
		httpClient: httpClient,
	}, nil
}

type request struct {
	method      string
	path        string
	query       url.Values
	accept      string
	prefer      []string
	bearerToken string
	body        any
}

func (c *conn) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do executes r and returns the response body of a 2xx response.
// Any other status is returned as *backend.Error.
func (c *conn) do(ctx context.Context, r request) ([]byte, error) {
	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return nil, err
	}

	token := r.bearerToken
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if r.body != nil {
		req.Header.Set("Content-Type", mimeJSON)
	}
	accept := r.accept
	if accept == "" {
		accept = mimeJSON
	}
	req.Header.Set("Accept", accept)
	if len(r.prefer) > 0 {
		req.Header.Set("Prefer", strings.Join(r.prefer, ","))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, responseError(resp.StatusCode, respBytes)
	}
	return respBytes, nil
}

func responseError(status int, body []byte) *backend.Error {
	backendErr := &backend.Error{}
	if err := json.Unmarshal(body, backendErr); err != nil || backendErr.Message == "" {
		backendErr.Message = http.StatusText(status)
		if len(body) > 0 && !json.Valid(body) {
			backendErr.Details = string(body)
		}
	}
	backendErr.Status = status
	return backendErr
}
