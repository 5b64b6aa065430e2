package postgrest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ backend.Client = (*Client)(nil)

// Client is the PostgREST table client. Requests carry the access token bound to the
// context (backend.WithAccessToken) so row level security applies; without one the anon key is used.
type Client struct {
	conn *conn
}

func NewClient(baseURL, anonKey string, httpClient *http.Client) (*Client, error) {
	c, err := newConn(baseURL, anonKey, httpClient)
	if err != nil {
		return nil, err
	}
	return &Client{conn: c}, nil
}

func (c *Client) Select(ctx context.Context, q backend.Query, dest any) (err error) {
	ctx, span := startSpan(ctx, "postgrest.select", q.Table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	respBytes, err := c.conn.do(ctx, request{
		method:      http.MethodGet,
		path:        restPath + q.Table,
		query:       queryValues(q),
		bearerToken: backend.AccessTokenFromContext(ctx),
	})
	if err != nil {
		return err
	}
	return backend.DecodeRows(respBytes, dest)
}

func (c *Client) SelectSingle(ctx context.Context, q backend.Query, dest any) (err error) {
	ctx, span := startSpan(ctx, "postgrest.selectSingle", q.Table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	respBytes, err := c.conn.do(ctx, request{
		method:      http.MethodGet,
		path:        restPath + q.Table,
		query:       queryValues(q),
		accept:      mimeObject,
		bearerToken: backend.AccessTokenFromContext(ctx),
	})
	if err != nil {
		return err
	}
	return backend.DecodeRow(respBytes, dest)
}

func (c *Client) SelectMaybeSingle(ctx context.Context, q backend.Query, dest any) (found bool, err error) {
	ctx, span := startSpan(ctx, "postgrest.selectMaybeSingle", q.Table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	respBytes, err := c.conn.do(ctx, request{
		method:      http.MethodGet,
		path:        restPath + q.Table,
		query:       queryValues(q),
		bearerToken: backend.AccessTokenFromContext(ctx),
	})
	if err != nil {
		return false, err
	}

	var rows []json.RawMessage
	if err := backend.DecodeRows(respBytes, &rows); err != nil {
		return false, err
	}
	switch len(rows) {
	case 0:
		return false, nil
	case 1:
		return true, backend.DecodeRow(rows[0], dest)
	default:
		return false, backend.NoRowsError(len(rows))
	}
}

func (c *Client) Insert(ctx context.Context, table string, row any, dest any) (err error) {
	ctx, span := startSpan(ctx, "postgrest.insert", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	respBytes, err := c.conn.do(ctx, request{
		method:      http.MethodPost,
		path:        restPath + table,
		accept:      mimeObject,
		prefer:      []string{"return=representation"},
		bearerToken: backend.AccessTokenFromContext(ctx),
		body:        row,
	})
	if err != nil {
		return err
	}
	return backend.DecodeRow(respBytes, dest)
}

func (c *Client) Upsert(ctx context.Context, table string, row any, onConflict string, dest any) (err error) {
	ctx, span := startSpan(ctx, "postgrest.upsert", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	query := url.Values{}
	if onConflict != "" {
		query.Set("on_conflict", onConflict)
	}
	respBytes, err := c.conn.do(ctx, request{
		method:      http.MethodPost,
		path:        restPath + table,
		query:       query,
		accept:      mimeObject,
		prefer:      []string{"resolution=merge-duplicates", "return=representation"},
		bearerToken: backend.AccessTokenFromContext(ctx),
		body:        row,
	})
	if err != nil {
		return err
	}
	return backend.DecodeRow(respBytes, dest)
}

func (c *Client) Update(ctx context.Context, table string, patch any, filters []backend.Filter, dest any) (err error) {
	ctx, span := startSpan(ctx, "postgrest.update", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	respBytes, err := c.conn.do(ctx, request{
		method:      http.MethodPatch,
		path:        restPath + table,
		query:       filterValues(url.Values{}, filters),
		accept:      mimeObject,
		prefer:      []string{"return=representation"},
		bearerToken: backend.AccessTokenFromContext(ctx),
		body:        patch,
	})
	if err != nil {
		return err
	}
	return backend.DecodeRow(respBytes, dest)
}

func (c *Client) Delete(ctx context.Context, table string, filters []backend.Filter) (err error) {
	ctx, span := startSpan(ctx, "postgrest.delete", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = c.conn.do(ctx, request{
		method:      http.MethodDelete,
		path:        restPath + table,
		query:       filterValues(url.Values{}, filters),
		prefer:      []string{"return=minimal"},
		bearerToken: backend.AccessTokenFromContext(ctx),
	})
	return err
}

// queryValues renders q in the PostgREST query syntax:
// select=*,exercises(id,name)&user_id=eq.abc&order=created_at.desc
func queryValues(q backend.Query) url.Values {
	values := url.Values{}
	values.Set("select", q.SelectClause())
	filterValues(values, q.Filters)
	if q.Order != nil {
		direction := "desc"
		if q.Order.Ascending {
			direction = "asc"
		}
		values.Set("order", q.Order.Column+"."+direction)
	}
	return values
}

func filterValues(values url.Values, filters []backend.Filter) url.Values {
	for _, f := range filters {
		values.Add(f.Column, string(f.Op)+"."+backend.FormatValue(f.Value))
	}
	return values
}

func startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	ctx, span := tracing.GlobalTracer.Start(ctx, name)
	span.SetAttributes(attribute.String("table", table))
	return ctx, span
}
