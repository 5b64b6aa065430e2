package psql

import (
	"testing"
	"time"

	"github.com/2beens/gymlog/internal/backend"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSelect(t *testing.T) {
	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	q := backend.From("records").
		Embed("exercises", "exercise_id", "id", "name", "description").
		Embed("units", "unit_id").
		Eq("user_id", "u1").
		Gte("created_at", from).
		OrderBy("created_at", false)

	query, args, err := buildSelect(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT to_jsonb(t)`+
			` || jsonb_build_object('exercises', (SELECT jsonb_build_object('id', e0."id", 'name', e0."name", 'description', e0."description") FROM "exercises" AS e0 WHERE e0."id" = t."exercise_id"))`+
			` || jsonb_build_object('units', (SELECT to_jsonb(e1) FROM "units" AS e1 WHERE e1."id" = t."unit_id"))`+
			` FROM "records" AS t WHERE t."user_id" = $1 AND t."created_at" >= $2 ORDER BY t."created_at" DESC`,
		query,
	)
	assert.Equal(t, []any{"u1", from}, args)
}

func TestBuildSelect_Columns(t *testing.T) {
	query, args, err := buildSelect(backend.From("units").Select("id", "name").OrderBy("name", true))
	require.NoError(t, err)
	assert.Equal(t, `SELECT jsonb_build_object('id', t."id", 'name', t."name") FROM "units" AS t ORDER BY t."name" ASC`, query)
	assert.Empty(t, args)
}

func TestBuildSelect_Invalid(t *testing.T) {
	_, _, err := buildSelect(backend.From("records").Where(backend.Filter{Column: "id", Op: "like", Value: "x"}))
	assert.EqualError(t, err, "unsupported operator: like")

	_, _, err = buildSelect(backend.From("records").Embed("exercises", ""))
	assert.Error(t, err)
}

func TestBuildSelect_QuotesIdentifiers(t *testing.T) {
	query, _, err := buildSelect(backend.From(`bad"table`).Eq(`col"; drop`, 1))
	require.NoError(t, err)
	assert.Equal(t, `SELECT to_jsonb(t) FROM "bad""table" AS t WHERE t."col""; drop" = $1`, query)
}

func TestBuildInsert(t *testing.T) {
	assert.Equal(t,
		`INSERT INTO "exercises" AS t ("category_id", "name") SELECT "category_id", "name" FROM jsonb_populate_record(NULL::"exercises", $1::jsonb) RETURNING to_jsonb(t)`,
		buildInsert("exercises", []string{"category_id", "name"}, ""),
	)
	assert.Equal(t,
		`INSERT INTO "profile" AS t ("user_id", "weight") SELECT "user_id", "weight" FROM jsonb_populate_record(NULL::"profile", $1::jsonb)`+
			` ON CONFLICT ("user_id") DO UPDATE SET "weight" = EXCLUDED."weight" RETURNING to_jsonb(t)`,
		buildInsert("profile", []string{"user_id", "weight"}, "user_id"),
	)
	assert.Equal(t,
		`INSERT INTO "profile" AS t ("user_id") SELECT "user_id" FROM jsonb_populate_record(NULL::"profile", $1::jsonb)`+
			` ON CONFLICT ("user_id") DO UPDATE SET "user_id" = EXCLUDED."user_id" RETURNING to_jsonb(t)`,
		buildInsert("profile", []string{"user_id"}, "user_id"),
	)
}

func TestBuildUpdateAndDelete(t *testing.T) {
	query, args, err := buildUpdate("profile", []string{"height", "weight"}, []backend.Filter{backend.Eq("user_id", "u1")})
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "profile" AS t SET "height" = s."height", "weight" = s."weight" FROM jsonb_populate_record(NULL::"profile", $1::jsonb) AS s WHERE t."user_id" = $2 RETURNING to_jsonb(t)`,
		query,
	)
	assert.Equal(t, []any{"u1"}, args)

	query, args, err = buildDelete("records", []backend.Filter{backend.Eq("id", "r1")})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "records" AS t WHERE t."id" = $1`, query)
	assert.Equal(t, []any{"r1"}, args)
}

func TestSortedColumns(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedColumns(map[string]any{"c": 1, "a": 2, "b": 3}))
}
