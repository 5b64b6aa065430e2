package tracker

import (
	"context"
	"fmt"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
)

type Exercises struct {
	client backend.Client
	state  state[[]Exercise]
}

func NewExercises(client backend.Client) *Exercises {
	e := &Exercises{client: client}
	e.state.value = []Exercise{}
	return e
}

// List returns exercises ordered by name, restricted to one category when categoryID is set.
// Failures are recorded and yield the previously loaded exercises.
func (e *Exercises) List(ctx context.Context, categoryID *int64) []Exercise {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.exercises.list")
	var err error
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	e.state.start()

	q := backend.From(tableExercises).OrderBy("name", true)
	if categoryID != nil && *categoryID > 0 {
		q = q.Eq("category_id", *categoryID)
	}

	var exercises []Exercise
	if err = e.client.Select(ctx, q, &exercises); err != nil {
		log.Errorf("list exercises: %s", err)
		e.state.fail(ErrorMessage(err, MsgLoadExercises))
		return e.state.get()
	}

	if exercises == nil {
		exercises = []Exercise{}
	}
	e.state.succeed(exercises)
	return exercises
}

type newExercise struct {
	Name        string  `json:"name"`
	CategoryID  int64   `json:"category_id"`
	Description *string `json:"description,omitempty"`
}

// Create stores a new exercise and returns it with its assigned id.
func (e *Exercises) Create(ctx context.Context, name string, categoryID int64, description *string) (_ *Exercise, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "tracker.exercises.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	e.state.start()

	exercise := &Exercise{}
	row := newExercise{
		Name:        name,
		CategoryID:  categoryID,
		Description: description,
	}
	if err = e.client.Insert(ctx, tableExercises, row, exercise); err != nil {
		log.Errorf("create exercise %q: %s", name, err)
		e.state.fail(ErrorMessage(err, MsgCreateExercise))
		return nil, fmt.Errorf("create exercise: %w", err)
	}

	e.state.finish()
	return exercise, nil
}

func (e *Exercises) State() State[[]Exercise] {
	return e.state.snapshot()
}
