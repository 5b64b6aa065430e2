package backend

import (
	"strings"
)

type Operator string

const (
	OpEq  Operator = "eq"
	OpGte Operator = "gte"
	OpLte Operator = "lte"
)

// Filter is a single column predicate; all filters of a query are AND-ed.
type Filter struct {
	Column string
	Op     Operator
	Value  any
}

func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

func Gte(column string, value any) Filter {
	return Filter{Column: column, Op: OpGte, Value: value}
}

func Lte(column string, value any) Filter {
	return Filter{Column: column, Op: OpLte, Value: value}
}

type Order struct {
	Column    string
	Ascending bool
}

// Embed joins a referenced row into every result row, under the referenced table name.
// ForeignKey is the column of the queried table holding the referenced row id.
type Embed struct {
	Table      string
	ForeignKey string
	Columns    []string
}

// String renders the embed in the select syntax, e.g. exercises(id,name).
func (e Embed) String() string {
	cols := "*"
	if len(e.Columns) > 0 {
		cols = strings.Join(e.Columns, ",")
	}
	return e.Table + "(" + cols + ")"
}

// Query describes a table read. Build it with From and the chained helpers;
// every helper returns a copy, so a base query can be shared.
type Query struct {
	Table   string
	Columns []string
	Embeds  []Embed
	Filters []Filter
	Order   *Order
}

func From(table string) Query {
	return Query{Table: table}
}

func (q Query) Select(columns ...string) Query {
	q.Columns = append([]string(nil), columns...)
	return q
}

func (q Query) Embed(table, foreignKey string, columns ...string) Query {
	q.Embeds = append(append([]Embed(nil), q.Embeds...), Embed{
		Table:      table,
		ForeignKey: foreignKey,
		Columns:    columns,
	})
	return q
}

func (q Query) Where(filters ...Filter) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), filters...)
	return q
}

func (q Query) Eq(column string, value any) Query {
	return q.Where(Eq(column, value))
}

func (q Query) Gte(column string, value any) Query {
	return q.Where(Gte(column, value))
}

func (q Query) Lte(column string, value any) Query {
	return q.Where(Lte(column, value))
}

func (q Query) OrderBy(column string, ascending bool) Query {
	q.Order = &Order{Column: column, Ascending: ascending}
	return q
}

// SelectClause renders columns and embeds, e.g. *,exercises(id,name,description).
func (q Query) SelectClause() string {
	parts := make([]string, 0, 1+len(q.Embeds))
	if len(q.Columns) == 0 {
		parts = append(parts, "*")
	} else {
		parts = append(parts, q.Columns...)
	}
	for _, e := range q.Embeds {
		parts = append(parts, e.String())
	}
	return strings.Join(parts, ",")
}
