package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2beens/gymlog/internal/backend/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordsFixture struct {
	store   *memory.Store
	records *Records
	loc     *time.Location
	now     time.Time
}

func newRecordsFixture(t *testing.T, userID string) *recordsFixture {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	require.NoError(t, err)

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, loc)
	store := memory.NewStore(
		memory.WithUUIDKeys(tableRecords),
		memory.WithClock(func() time.Time { return now }),
	)
	require.NoError(t, store.Seed(tableExercises,
		map[string]any{"id": 1, "name": "Squat", "description": "back squat"},
		map[string]any{"id": 2, "name": "Bench press"},
	))
	require.NoError(t, store.Seed(tableUnits,
		map[string]any{"id": 1, "name": "kilogram", "symbol": "kg"},
	))

	return &recordsFixture{
		store: store,
		records: NewRecords(store, userResolver(userID),
			WithLocation(loc),
			WithClock(func() time.Time { return now }),
		),
		loc: loc,
		now: now,
	}
}

func (f *recordsFixture) seed(t *testing.T, id, userID string, exerciseID int64, createdAt time.Time) {
	t.Helper()
	require.NoError(t, f.store.Seed(tableRecords, map[string]any{
		"id":          id,
		"user_id":     userID,
		"exercise_id": exerciseID,
		"weight":      "100",
		"quantity":    5,
		"unit_id":     1,
		"created_at":  createdAt,
	}))
}

func ids(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestRecords_Create(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	ctx := context.Background()

	kg := int64(1)
	withUnit, err := f.records.Create(ctx, 1, "102.5", 8, &kg)
	require.NoError(t, err)
	assert.NotEmpty(t, withUnit.ID)
	assert.Equal(t, "u1", withUnit.UserID)
	assert.Equal(t, "102.5", withUnit.Weight)
	assert.Equal(t, float64(8), withUnit.Quantity)
	require.NotNil(t, withUnit.UnitID)
	assert.Equal(t, int64(1), *withUnit.UnitID)
	assert.True(t, f.now.Equal(withUnit.CreatedAt))

	noUnit, err := f.records.Create(ctx, 1, "60", 10, nil)
	require.NoError(t, err)
	assert.Nil(t, noUnit.UnitID)
	assert.NotEqual(t, withUnit.ID, noUnit.ID)

	for _, row := range f.store.Rows(tableRecords) {
		if row["id"] == noUnit.ID {
			assert.NotContains(t, row, "unit_id")
		} else {
			assert.Contains(t, row, "unit_id")
		}
	}
}

func TestRecords_CreateUnauthenticated(t *testing.T) {
	f := newRecordsFixture(t, "")

	record, err := f.records.Create(context.Background(), 1, "100", 5, nil)
	assert.Nil(t, record)
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, "Usuario no autenticado", f.records.State().Err)
	assert.Empty(t, f.store.Rows(tableRecords))
}

func TestRecords_ListForUserOnDate(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	day := func(d, h, m, s, ms int) time.Time {
		return time.Date(2024, 3, d, h, m, s, ms*int(time.Millisecond), f.loc)
	}
	f.seed(t, "first-of-day", "u1", 1, day(10, 0, 0, 0, 0))
	f.seed(t, "last-of-day", "u1", 2, day(10, 23, 59, 59, 999))
	f.seed(t, "next-day", "u1", 1, day(11, 0, 0, 0, 0))
	f.seed(t, "previous-day", "u1", 1, day(9, 23, 59, 59, 999))
	f.seed(t, "other-user", "u2", 1, day(10, 12, 0, 0, 0))

	ctx := context.Background()
	onDate := day(10, 8, 30, 0, 0)
	records, err := f.records.ListForUser(ctx, "", &onDate)
	require.NoError(t, err)
	assert.Equal(t, []string{"last-of-day", "first-of-day"}, ids(records))

	require.NotNil(t, records[0].Exercise)
	assert.Equal(t, "Bench press", records[0].Exercise.Name)
	require.NotNil(t, records[1].Exercise)
	require.NotNil(t, records[1].Exercise.Description)
	assert.Equal(t, "back squat", *records[1].Exercise.Description)
	require.NotNil(t, records[1].Unit)
	assert.Equal(t, "kg", records[1].Unit.Symbol)
	assert.Equal(t, records, f.records.State().Value)

	all, err := f.records.ListForUser(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"next-day", "last-of-day", "first-of-day", "previous-day"}, ids(all))

	own, err := f.records.ListForUser(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Equal(t, ids(all), ids(own))

	// another user's id never widens the query
	other, err := f.records.ListForUser(ctx, "u2", nil)
	require.ErrorIs(t, err, ErrForeignRecords)
	assert.Nil(t, other)
	assert.Equal(t, ErrForeignRecords.Error(), f.records.State().Err)
}

func TestRecords_ListForUserFailure(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	ctx := context.Background()

	storeErr := errors.New("connection refused")
	f.store.SetFailure(storeErr)
	records, err := f.records.ListForUser(ctx, "", nil)
	assert.Nil(t, records)
	require.ErrorIs(t, err, storeErr)
	assert.Equal(t, MsgLoadRecords, f.records.State().Err)

	unauthenticated := newRecordsFixture(t, "")
	_, err = unauthenticated.records.ListForUser(ctx, "", nil)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestRecords_ListForExerciseToday(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	f.seed(t, "today-late", "u1", 1, f.now.Add(11*time.Hour+59*time.Minute+59*time.Second+999*time.Millisecond))
	f.seed(t, "today-early", "u1", 1, f.now.Add(-12*time.Hour))
	f.seed(t, "tomorrow", "u1", 1, f.now.Add(12*time.Hour))
	f.seed(t, "other-exercise", "u1", 2, f.now)
	f.seed(t, "other-user", "u2", 1, f.now)

	records := f.records.ListForExerciseToday(context.Background(), 1)
	assert.Equal(t, []string{"today-early", "today-late"}, ids(records))
	for _, r := range records {
		assert.Nil(t, r.Exercise)
		assert.Nil(t, r.Unit)
	}
}

func TestRecords_BestEffortListsSwallowFailures(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	f.seed(t, "r1", "u1", 1, f.now)
	f.store.SetFailure(errors.New("boom"))
	ctx := context.Background()

	today := f.records.ListForExerciseToday(ctx, 1)
	assert.NotNil(t, today)
	assert.Empty(t, today)

	ranged := f.records.ListForDateRange(ctx, f.now.Add(-time.Hour), f.now.Add(time.Hour), "")
	assert.NotNil(t, ranged)
	assert.Empty(t, ranged)
	assert.Empty(t, f.records.State().Err)

	unauthenticated := newRecordsFixture(t, "")
	assert.Empty(t, unauthenticated.records.ListForExerciseToday(ctx, 1))
	assert.Empty(t, unauthenticated.records.ListForDateRange(ctx, f.now, f.now, ""))
}

func TestRecords_ListForDateRange(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, f.loc)
	end := time.Date(2024, 3, 10, 23, 59, 59, 999_000_000, f.loc)
	f.seed(t, "at-end", "u1", 1, end)
	f.seed(t, "at-start", "u1", 2, start)
	f.seed(t, "after", "u1", 1, end.Add(time.Millisecond))
	f.seed(t, "before", "u1", 1, start.Add(-time.Millisecond))
	f.seed(t, "middle", "u2", 1, start.Add(48*time.Hour))

	ctx := context.Background()
	records := f.records.ListForDateRange(ctx, start, end, "")
	assert.Equal(t, []string{"at-start", "at-end"}, ids(records))
	require.NotNil(t, records[0].Exercise)
	assert.Equal(t, "Bench press", records[0].Exercise.Name)

	assert.Equal(t, ids(records), ids(f.records.ListForDateRange(ctx, start, end, "u1")))
	foreign := f.records.ListForDateRange(ctx, start, end, "u2")
	assert.NotNil(t, foreign)
	assert.Empty(t, foreign)
}

func TestRecords_Delete(t *testing.T) {
	f := newRecordsFixture(t, "u1")
	f.seed(t, "r1", "u1", 1, f.now)
	f.seed(t, "r2", "u1", 1, f.now)
	ctx := context.Background()

	require.NoError(t, f.records.Delete(ctx, "r1"))
	records, err := f.records.ListForUser(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, ids(records))

	// already gone
	require.NoError(t, f.records.Delete(ctx, "r1"))

	// records of other users are out of reach
	f.seed(t, "foreign", "u2", 1, f.now)
	require.NoError(t, f.records.Delete(ctx, "foreign"))
	assert.Len(t, f.store.Rows(tableRecords), 2)

	unauthenticated := newRecordsFixture(t, "")
	unauthenticated.seed(t, "r3", "u1", 1, f.now)
	require.ErrorIs(t, unauthenticated.records.Delete(ctx, "r3"), ErrUnauthenticated)
	assert.Len(t, unauthenticated.store.Rows(tableRecords), 1)

	storeErr := errors.New("boom")
	f.store.SetFailure(storeErr)
	require.ErrorIs(t, f.records.Delete(ctx, "r2"), storeErr)
	assert.Equal(t, MsgDeleteRecord, f.records.State().Err)
}
