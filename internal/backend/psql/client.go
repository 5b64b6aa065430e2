// Package psql implements the backend contract directly on a Postgres database,
// for self-hosted setups without a PostgREST gateway.
package psql

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

//go:embed schema.sql
var Schema string

var _ backend.Client = (*Client)(nil)

type Client struct {
	db *pgxpool.Pool
}

func NewClient(db *pgxpool.Pool) *Client {
	return &Client{
		db: db,
	}
}

// ApplySchema creates the gymlog tables when they do not exist yet.
func ApplySchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (c *Client) Select(ctx context.Context, q backend.Query, dest any) (err error) {
	ctx, span := startSpan(ctx, "psql.select", q.Table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := c.queryRows(ctx, q)
	if err != nil {
		return err
	}
	return decodeRows(rows, dest)
}

func (c *Client) SelectSingle(ctx context.Context, q backend.Query, dest any) (err error) {
	ctx, span := startSpan(ctx, "psql.selectSingle", q.Table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := c.queryRows(ctx, q)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return backend.NoRowsError(len(rows))
	}
	return backend.DecodeRow(rows[0], dest)
}

func (c *Client) SelectMaybeSingle(ctx context.Context, q backend.Query, dest any) (found bool, err error) {
	ctx, span := startSpan(ctx, "psql.selectMaybeSingle", q.Table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	rows, err := c.queryRows(ctx, q)
	if err != nil {
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
	ctx, span := startSpan(ctx, "psql.insert", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	return c.insert(ctx, table, row, "", dest)
}

func (c *Client) Upsert(ctx context.Context, table string, row any, onConflict string, dest any) (err error) {
	ctx, span := startSpan(ctx, "psql.upsert", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if onConflict == "" {
		return errors.New("upsert requires a conflict column")
	}
	return c.insert(ctx, table, row, onConflict, dest)
}

func (c *Client) Update(ctx context.Context, table string, patch any, filters []backend.Filter, dest any) (err error) {
	ctx, span := startSpan(ctx, "psql.update", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	values, payload, err := rowPayload(patch)
	if err != nil {
		return err
	}
	query, args, err := buildUpdate(table, sortedColumns(values), filters)
	if err != nil {
		return err
	}

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				span.AddEvent("rollback failed: " + rbErr.Error())
			}
		}
	}()

	updated, err := collectJSON(tx.Query(ctx, query, append([]any{payload}, args...)...))
	if err != nil {
		return err
	}
	// single-row semantics: touching zero or many rows is undone
	if len(updated) != 1 {
		return backend.NoRowsError(len(updated))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return backend.DecodeRow(updated[0], dest)
}

func (c *Client) Delete(ctx context.Context, table string, filters []backend.Filter) (err error) {
	ctx, span := startSpan(ctx, "psql.delete", table)
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	query, args, err := buildDelete(table, filters)
	if err != nil {
		return err
	}
	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return toBackendError(err)
	}
	span.SetAttributes(attribute.Int64("rows.deleted", tag.RowsAffected()))
	return nil
}

func (c *Client) insert(ctx context.Context, table string, row any, onConflict string, dest any) error {
	values, payload, err := rowPayload(row)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return errors.New("insert of an empty row")
	}

	inserted, err := collectJSON(c.db.Query(ctx, buildInsert(table, sortedColumns(values), onConflict), payload))
	if err != nil {
		return err
	}
	if len(inserted) != 1 {
		return fmt.Errorf("unexpected inserted rows count: %d", len(inserted))
	}
	return backend.DecodeRow(inserted[0], dest)
}

func (c *Client) queryRows(ctx context.Context, q backend.Query) ([][]byte, error) {
	query, args, err := buildSelect(q)
	if err != nil {
		return nil, err
	}
	return collectJSON(c.db.Query(ctx, query, args...))
}

// collectJSON reads single jsonb column rows.
func collectJSON(rows pgx.Rows, err error) ([][]byte, error) {
	if err != nil {
		return nil, toBackendError(err)
	}
	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]byte, error) {
		var raw []byte
		err := row.Scan(&raw)
		return raw, err
	})
	if err != nil {
		return nil, toBackendError(err)
	}
	return result, nil
}

func decodeRows(rows [][]byte, dest any) error {
	raw := make([]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		raw = append(raw, r)
	}
	rowsJson, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}
	return backend.DecodeRows(rowsJson, dest)
}

func rowPayload(row any) (map[string]any, string, error) {
	values, err := backend.RowMap(row)
	if err != nil {
		return nil, "", err
	}
	payload, err := json.Marshal(values)
	if err != nil {
		return nil, "", fmt.Errorf("marshal row: %w", err)
	}
	return values, string(payload), nil
}

// toBackendError maps postgres errors onto *backend.Error, keeping the SQLSTATE as code.
func toBackendError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &backend.Error{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Details: pgErr.Detail,
			Hint:    pgErr.Hint,
		}
	}
	return err
}

func startSpan(ctx context.Context, name, table string) (context.Context, trace.Span) {
	ctx, span := tracing.GlobalTracer.Start(ctx, name)
	span.SetAttributes(attribute.String("table", table))
	return ctx, span
}
