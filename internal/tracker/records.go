package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Records manages the workout records of users.
type Records struct {
	client backend.Client
	users  UserResolver
	loc    *time.Location
	now    func() time.Time
	state  state[[]Record]
}

type RecordsOption func(*Records)

// WithLocation sets the time zone that defines "today" for ListForExerciseToday.
func WithLocation(loc *time.Location) RecordsOption {
	return func(r *Records) {
		if loc != nil {
			r.loc = loc
		}
	}
}

func WithClock(now func() time.Time) RecordsOption {
	return func(r *Records) {
		r.now = now
	}
}

func NewRecords(client backend.Client, users UserResolver, opts ...RecordsOption) *Records {
	r := &Records{
		client: client,
		users:  users,
		loc:    time.Local,
		now:    time.Now,
	}
	r.state.value = []Record{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type newRecord struct {
	ExerciseID int64   `json:"exercise_id"`
	UserID     string  `json:"user_id"`
	Weight     string  `json:"weight"`
	Quantity   float64 `json:"quantity"`
	UnitID     *int64  `json:"unit_id,omitempty"`
}

// Create stores a record for the current user. unitID is left out of the stored row when not set.
func (r *Records) Create(ctx context.Context, exerciseID int64, weight string, quantity float64, unitID *int64) (_ *Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.records.create")
	span.SetAttributes(attribute.Int64("exercise_id", exerciseID))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	r.state.start()

	user, err := resolveUser(ctx, r.users)
	if err != nil {
		r.state.fail(ErrorMessage(err, MsgCreateRecord))
		return nil, err
	}

	row := newRecord{
		ExerciseID: exerciseID,
		UserID:     user.ID,
		Weight:     weight,
		Quantity:   quantity,
	}
	if unitID != nil && *unitID > 0 {
		row.UnitID = unitID
	}

	record := &Record{}
	if err = r.client.Insert(ctx, tableRecords, row, record); err != nil {
		log.Errorf("create record for exercise %d: %s", exerciseID, err)
		r.state.fail(ErrorMessage(err, MsgCreateRecord))
		return nil, fmt.Errorf("create record: %w", err)
	}

	r.state.finish()
	return record, nil
}

// Delete removes the current user's record with the given id. Deleting a missing record,
// or one owned by somebody else, is a no-op.
func (r *Records) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.records.delete")
	span.SetAttributes(attribute.String("record_id", id))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	r.state.start()

	user, err := resolveUser(ctx, r.users)
	if err != nil {
		r.state.fail(ErrorMessage(err, MsgDeleteRecord))
		return err
	}

	filters := []backend.Filter{
		backend.Eq("id", id),
		backend.Eq("user_id", user.ID),
	}
	if err = r.client.Delete(ctx, tableRecords, filters); err != nil {
		log.Errorf("delete record %s: %s", id, err)
		r.state.fail(ErrorMessage(err, MsgDeleteRecord))
		return fmt.Errorf("delete record: %w", err)
	}

	r.state.finish()
	return nil
}

// ListForUser returns the enriched records of the current user, newest first. userID may
// repeat the current user's id; any other id yields ErrForeignRecords.
// When onDate is set only records of that calendar day, in the location of onDate, are returned.
func (r *Records) ListForUser(ctx context.Context, userID string, onDate *time.Time) (_ []Record, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.records.list-for-user")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	r.state.start()

	userID, err = r.targetUser(ctx, userID)
	if err != nil {
		r.state.fail(ErrorMessage(err, MsgLoadRecords))
		return nil, err
	}

	q := enriched(backend.From(tableRecords)).
		Eq("user_id", userID).
		OrderBy("created_at", false)
	if onDate != nil {
		start, end := DayWindow(*onDate)
		q = q.Gte("created_at", start).Lte("created_at", end)
	}

	var records []Record
	if err = r.client.Select(ctx, q, &records); err != nil {
		log.Errorf("list records of %s: %s", userID, err)
		r.state.fail(ErrorMessage(err, MsgLoadRecords))
		return nil, fmt.Errorf("list records: %w", err)
	}

	if records == nil {
		records = []Record{}
	}
	r.state.succeed(records)
	return records, nil
}

// ListForExerciseToday returns the current user's records of one exercise created today,
// oldest first. Any failure yields an empty list.
func (r *Records) ListForExerciseToday(ctx context.Context, exerciseID int64) []Record {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.records.list-today")
	span.SetAttributes(attribute.Int64("exercise_id", exerciseID))
	var err error
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	user, err := resolveUser(ctx, r.users)
	if err != nil {
		log.Errorf("list today records of exercise %d: %s", exerciseID, err)
		return []Record{}
	}

	start, end := DayWindow(r.now().In(r.loc))
	q := backend.From(tableRecords).
		Eq("user_id", user.ID).
		Eq("exercise_id", exerciseID).
		Gte("created_at", start).
		Lte("created_at", end).
		OrderBy("created_at", true)

	var records []Record
	if err = r.client.Select(ctx, q, &records); err != nil {
		log.Errorf("list today records of exercise %d: %s", exerciseID, err)
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

// ListForDateRange returns the enriched records of the current user created within
// [start, end], oldest first. A userID other than the current user's, like any other
// failure, yields an empty list.
func (r *Records) ListForDateRange(ctx context.Context, start, end time.Time, userID string) []Record {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.records.list-range")
	var err error
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	userID, err = r.targetUser(ctx, userID)
	if err != nil {
		log.Errorf("list records in range: %s", err)
		return []Record{}
	}

	q := enriched(backend.From(tableRecords)).
		Eq("user_id", userID).
		Gte("created_at", start).
		Lte("created_at", end).
		OrderBy("created_at", true)

	var records []Record
	if err = r.client.Select(ctx, q, &records); err != nil {
		log.Errorf("list records of %s in [%s, %s]: %s", userID, start, end, err)
		return []Record{}
	}
	if records == nil {
		records = []Record{}
	}
	return records
}

func (r *Records) State() State[[]Record] {
	return r.state.snapshot()
}

// targetUser always resolves the signed in user; an explicit userID only narrows the
// request and must name that same user.
func (r *Records) targetUser(ctx context.Context, userID string) (string, error) {
	user, err := resolveUser(ctx, r.users)
	if err != nil {
		return "", err
	}
	if userID != "" && userID != user.ID {
		return "", ErrForeignRecords
	}
	return user.ID, nil
}

func enriched(q backend.Query) backend.Query {
	return q.
		Embed(tableExercises, "exercise_id", "id", "name", "description").
		Embed(tableUnits, "unit_id", "id", "name", "symbol")
}
