package psql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/2beens/gymlog/internal/backend"

	"github.com/jackc/pgx/v5"
)

const rowAlias = "t"

var sqlOperators = map[backend.Operator]string{
	backend.OpEq:  "=",
	backend.OpGte: ">=",
	backend.OpLte: "<=",
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func column(alias, name string) string {
	return alias + "." + ident(name)
}

// jsonObject renders the row of alias as a jsonb object, restricted to columns when given.
func jsonObject(alias string, columns []string) string {
	if len(columns) == 0 {
		return "to_jsonb(" + alias + ")"
	}
	parts := make([]string, 0, 2*len(columns))
	for _, c := range columns {
		parts = append(parts, "'"+strings.ReplaceAll(c, "'", "''")+"'", column(alias, c))
	}
	return "jsonb_build_object(" + strings.Join(parts, ", ") + ")"
}

// buildSelect renders q as a query returning one jsonb object per row.
// Embeds become correlated sub-selects merged into the row object.
func buildSelect(q backend.Query) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(jsonObject(rowAlias, q.Columns))
	for i, e := range q.Embeds {
		if e.ForeignKey == "" {
			return "", nil, fmt.Errorf("embed %s: foreign key column is required", e.Table)
		}
		alias := fmt.Sprintf("e%d", i)
		fmt.Fprintf(&sb,
			" || jsonb_build_object('%s', (SELECT %s FROM %s AS %s WHERE %s = %s))",
			strings.ReplaceAll(e.Table, "'", "''"),
			jsonObject(alias, e.Columns),
			ident(e.Table), alias,
			column(alias, "id"), column(rowAlias, e.ForeignKey),
		)
	}
	fmt.Fprintf(&sb, " FROM %s AS %s", ident(q.Table), rowAlias)

	where, args, err := whereClause(q.Filters, 1)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(where)

	if q.Order != nil {
		direction := "DESC"
		if q.Order.Ascending {
			direction = "ASC"
		}
		fmt.Fprintf(&sb, " ORDER BY %s %s", column(rowAlias, q.Order.Column), direction)
	}
	return sb.String(), args, nil
}

func whereClause(filters []backend.Filter, firstArg int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for i, f := range filters {
		op, ok := sqlOperators[f.Op]
		if !ok {
			return "", nil, fmt.Errorf("unsupported operator: %s", f.Op)
		}
		conds = append(conds, fmt.Sprintf("%s %s $%d", column(rowAlias, f.Column), op, firstArg+i))
		args = append(args, f.Value)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// buildInsert renders an insert of a single jsonb row ($1) limited to columns, so omitted
// columns get their defaults. A non-empty onConflict turns it into a merging upsert.
func buildInsert(table string, columns []string, onConflict string) string {
	cols := identList(columns)
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"INSERT INTO %s AS %s (%s) SELECT %s FROM jsonb_populate_record(NULL::%s, $1::jsonb)",
		ident(table), rowAlias, cols, cols, ident(table),
	)
	if onConflict != "" {
		sets := make([]string, 0, len(columns))
		for _, c := range columns {
			if c == onConflict {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(c), ident(c)))
		}
		if len(sets) == 0 {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(onConflict), ident(onConflict)))
		}
		fmt.Fprintf(&sb, " ON CONFLICT (%s) DO UPDATE SET %s", ident(onConflict), strings.Join(sets, ", "))
	}
	sb.WriteString(" RETURNING to_jsonb(" + rowAlias + ")")
	return sb.String()
}

// buildUpdate renders an update setting columns from the jsonb patch ($1).
func buildUpdate(table string, columns []string, filters []backend.Filter) (string, []any, error) {
	sets := make([]string, 0, len(columns))
	for _, c := range columns {
		sets = append(sets, fmt.Sprintf("%s = s.%s", ident(c), ident(c)))
	}
	where, args, err := whereClause(filters, 2)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf(
		"UPDATE %s AS %s SET %s FROM jsonb_populate_record(NULL::%s, $1::jsonb) AS s%s RETURNING to_jsonb(%s)",
		ident(table), rowAlias, strings.Join(sets, ", "), ident(table), where, rowAlias,
	)
	return query, args, nil
}

func buildDelete(table string, filters []backend.Filter) (string, []any, error) {
	where, args, err := whereClause(filters, 1)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s AS %s%s", ident(table), rowAlias, where), args, nil
}

func identList(columns []string) string {
	quoted := make([]string, 0, len(columns))
	for _, c := range columns {
		quoted = append(quoted, ident(c))
	}
	return strings.Join(quoted, ", ")
}

func sortedColumns(row map[string]any) []string {
	columns := make([]string, 0, len(row))
	for c := range row {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	return columns
}
