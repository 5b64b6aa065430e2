package tracker

import "time"

const (
	tableCategories = "categories"
	tableUnits      = "units"
	tableExercises  = "exercises"
	tableProfile    = "profile"
	tableRecords    = "records"
)

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Unit struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
}

type Exercise struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CategoryID  *int64    `json:"category_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ProfileFields are the user editable profile attributes.
type ProfileFields struct {
	// BornDate is a calendar date, YYYY-MM-DD
	BornDate string  `json:"born_date,omitempty"`
	Weight   float64 `json:"weight"`
	Height   float64 `json:"height"`
	Gender   string  `json:"gender"`
}

type Profile struct {
	ID     int64  `json:"id"`
	UserID string `json:"user_id"`
	ProfileFields
	CreatedAt time.Time `json:"created_at"`
}

// ExerciseRef is the exercise joined into an enriched record.
type ExerciseRef struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// UnitRef is the unit joined into an enriched record.
type UnitRef struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

type Record struct {
	ID         string    `json:"id"`
	ExerciseID int64     `json:"exercise_id"`
	UserID     string    `json:"user_id"`
	Weight     string    `json:"weight"`
	Quantity   float64   `json:"quantity"`
	UnitID     *int64    `json:"unit_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	// set on enriched records only
	Exercise *ExerciseRef `json:"exercises,omitempty"`
	Unit     *UnitRef     `json:"units,omitempty"`
}
