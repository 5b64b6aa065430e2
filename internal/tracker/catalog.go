package tracker

import (
	"context"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Catalog is a read-only, name ordered reference table.
type Catalog[T any] struct {
	client backend.Client
	table  string
	errMsg string
	state  state[[]T]
}

type Categories = Catalog[Category]

type Units = Catalog[Unit]

func NewCategories(client backend.Client) *Categories {
	return newCatalog[Category](client, tableCategories, MsgLoadCategories)
}

func NewUnits(client backend.Client) *Units {
	return newCatalog[Unit](client, tableUnits, MsgLoadUnits)
}

func newCatalog[T any](client backend.Client, table, errMsg string) *Catalog[T] {
	c := &Catalog[T]{
		client: client,
		table:  table,
		errMsg: errMsg,
	}
	c.state.value = []T{}
	return c
}

// List returns all rows ordered by name ascending. On failure the error is recorded
// and the previously loaded rows are returned.
func (c *Catalog[T]) List(ctx context.Context) []T {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.catalog.list")
	span.SetAttributes(attribute.String("table", c.table))
	var err error
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	c.state.start()

	var items []T
	if err = c.client.Select(ctx, backend.From(c.table).OrderBy("name", true), &items); err != nil {
		log.Errorf("list %s: %s", c.table, err)
		c.state.fail(ErrorMessage(err, c.errMsg))
		return c.state.get()
	}

	if items == nil {
		items = []T{}
	}
	c.state.succeed(items)
	return items
}

func (c *Catalog[T]) State() State[[]T] {
	return c.state.snapshot()
}
