//go:build integration_test || all_tests

package test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/2beens/gymlog/internal/tracker"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type itemsResponse[T any] struct {
	Items []T    `json:"items"`
	Error string `json:"error"`
}

func (s *IntegrationTestSuite) TestCatalogs() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	client := s.newClient()
	s.signIn(ctx, client)

	var categories itemsResponse[tracker.Category]
	s.doJSON(ctx, client, "GET", "/categories", "", http.StatusOK, &categories)
	require.Len(t, categories.Items, 3)
	assert.Equal(t, "Back", categories.Items[0].Name)
	assert.Equal(t, "Chest", categories.Items[1].Name)
	assert.Equal(t, "Legs", categories.Items[2].Name)
	assert.Empty(t, categories.Error)

	var units itemsResponse[tracker.Unit]
	s.doJSON(ctx, client, "GET", "/units", "", http.StatusOK, &units)
	require.Len(t, units.Items, 2)
	assert.Equal(t, "kg", units.Items[0].Symbol)
	assert.Equal(t, "lb", units.Items[1].Symbol)
}

func (s *IntegrationTestSuite) TestProfile() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	client := s.newClient()
	s.signIn(ctx, client)

	var saved tracker.Profile
	s.doJSON(ctx, client, "PUT", "/profile",
		`{"born_date":"1990-05-01","weight":80.5,"height":180,"gender":"female"}`,
		http.StatusOK, &saved)
	assert.NotZero(t, saved.ID)
	assert.Equal(t, 80.5, saved.Weight)
	assert.Equal(t, "1990-05-01", saved.BornDate)

	// saving again updates the same row
	var again tracker.Profile
	s.doJSON(ctx, client, "PUT", "/profile", `{"weight":82,"height":180}`, http.StatusOK, &again)
	assert.Equal(t, saved.ID, again.ID)
	assert.Equal(t, float64(82), again.Weight)

	var fetched struct {
		Profile *tracker.Profile `json:"profile"`
	}
	s.doJSON(ctx, client, "GET", "/profile", "", http.StatusOK, &fetched)
	require.NotNil(t, fetched.Profile)
	assert.Equal(t, saved.ID, fetched.Profile.ID)
	assert.Equal(t, saved.UserID, fetched.Profile.UserID)

	var count int
	require.NoError(t, s.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM public.profile WHERE user_id = $1`, saved.UserID,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func (s *IntegrationTestSuite) TestExercisesAndRecords() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	t := s.T()

	client := s.newClient()
	s.signIn(ctx, client)

	legs := s.categoryIDs["Legs"]
	name := fmt.Sprintf("%s squat", gofakeit.Adjective())
	var exercise tracker.Exercise
	s.doJSON(ctx, client, "POST", "/exercises",
		fmt.Sprintf(`{"name":%q,"category_id":%d}`, name, legs),
		http.StatusCreated, &exercise)
	require.NotZero(t, exercise.ID)
	require.NotNil(t, exercise.CategoryID)
	assert.Equal(t, legs, *exercise.CategoryID)

	var byCategory itemsResponse[tracker.Exercise]
	s.doJSON(ctx, client, "GET", fmt.Sprintf("/exercises?category_id=%d", legs), "", http.StatusOK, &byCategory)
	var names []string
	for _, e := range byCategory.Items {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, name)

	kg := s.unitIDs["Kilogram"]
	var first, second tracker.Record
	s.doJSON(ctx, client, "POST", "/records",
		fmt.Sprintf(`{"exercise_id":%d,"weight":100,"quantity":5,"unit_id":%d}`, exercise.ID, kg),
		http.StatusCreated, &first)
	s.doJSON(ctx, client, "POST", "/records",
		fmt.Sprintf(`{"exercise_id":%d,"weight":"105.5","quantity":3}`, exercise.ID),
		http.StatusCreated, &second)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "100", first.Weight)
	assert.Nil(t, second.UnitID)

	var today itemsResponse[tracker.Record]
	s.doJSON(ctx, client, "GET", fmt.Sprintf("/records/today/%d", exercise.ID), "", http.StatusOK, &today)
	require.Len(t, today.Items, 2)
	assert.Equal(t, first.ID, today.Items[0].ID)
	assert.Equal(t, second.ID, today.Items[1].ID)
	assert.Nil(t, today.Items[0].Exercise)

	var mine itemsResponse[tracker.Record]
	s.doJSON(ctx, client, "GET", "/records?date="+time.Now().UTC().Format("2006-01-02"), "", http.StatusOK, &mine)
	byID := map[string]tracker.Record{}
	for _, r := range mine.Items {
		byID[r.ID] = r
	}
	require.Contains(t, byID, first.ID)
	enriched := byID[first.ID]
	require.NotNil(t, enriched.Exercise)
	assert.Equal(t, name, enriched.Exercise.Name)
	require.NotNil(t, enriched.Unit)
	assert.Equal(t, "kg", enriched.Unit.Symbol)
	assert.Nil(t, byID[second.ID].Unit)

	day := time.Now().UTC().Format("2006-01-02")
	var ranged itemsResponse[tracker.Record]
	s.doJSON(ctx, client, "GET", fmt.Sprintf("/records/range?from=%s&to=%s", day, day), "", http.StatusOK, &ranged)
	assert.GreaterOrEqual(t, len(ranged.Items), 2)

	s.doJSON(ctx, client, "DELETE", "/records/"+first.ID, "", http.StatusOK, nil)
	s.doJSON(ctx, client, "GET", fmt.Sprintf("/records/today/%d", exercise.ID), "", http.StatusOK, &today)
	require.Len(t, today.Items, 1)
	assert.Equal(t, second.ID, today.Items[0].ID)
}
