package tracker

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2beens/gymlog/internal/backend"
	"github.com/2beens/gymlog/internal/telemetry/metrics"
	"github.com/2beens/gymlog/internal/telemetry/tracing"
	"github.com/2beens/gymlog/pkg"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

const dateLayout = "2006-01-02"

// Profile save modes. Check-then-act is for backends that cannot upsert on user_id.
const (
	ProfileSaveUpsert       = "upsert"
	ProfileSaveCheckThenAct = "check-then-act"
)

type Handler struct {
	client         backend.Client
	users          UserResolver
	categories     *Categories
	units          *Units
	exercises      *Exercises
	metricsManager *metrics.Manager
	loc            *time.Location
	now            func() time.Time
	checkThenAct   bool
}

func NewHandler(
	client backend.Client,
	users UserResolver,
	metricsManager *metrics.Manager,
	loc *time.Location,
) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		client:         client,
		users:          users,
		categories:     NewCategories(client),
		units:          NewUnits(client),
		exercises:      NewExercises(client),
		metricsManager: metricsManager,
		loc:            loc,
		now:            time.Now,
	}
}

// WithProfileSaveMode selects how PUT /profile stores the profile; unknown modes keep the upsert.
func (h *Handler) WithProfileSaveMode(mode string) *Handler {
	h.checkThenAct = mode == ProfileSaveCheckThenAct
	return h
}

func (h *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/home", h.handleHome).Methods("GET").Name("home")
	router.HandleFunc("/add-exercise", h.handleAddExerciseView).Methods("GET").Name("add-exercise")
	router.HandleFunc("/categories", h.handleCategories).Methods("GET").Name("list-categories")
	router.HandleFunc("/units", h.handleUnits).Methods("GET").Name("list-units")
	router.HandleFunc("/exercises", h.handleListExercises).Methods("GET").Name("list-exercises")
	router.HandleFunc("/exercises", h.handleCreateExercise).Methods("POST", "OPTIONS").Name("new-exercise")
	router.HandleFunc("/profile", h.handleGetProfile).Methods("GET").Name("get-profile")
	router.HandleFunc("/profile", h.handleSaveProfile).Methods("PUT", "OPTIONS").Name("save-profile")
	router.HandleFunc("/records", h.handleListRecords).Methods("GET").Name("list-records")
	router.HandleFunc("/records", h.handleCreateRecord).Methods("POST", "OPTIONS").Name("new-record")
	router.HandleFunc("/records/today/{exerciseID:[0-9]+}", h.handleTodayRecords).Methods("GET").Name("today-records")
	router.HandleFunc("/records/range", h.handleRecordsRange).Methods("GET").Name("range-records")
	router.HandleFunc("/records/{id}", h.handleDeleteRecord).Methods("DELETE", "OPTIONS").Name("delete-record")
}

func (h *Handler) profiles() *Profiles {
	return NewProfiles(h.client, h.users)
}

func (h *Handler) records() *Records {
	return NewRecords(h.client, h.users, WithLocation(h.loc), WithClock(h.now))
}

type listResponse[T any] struct {
	Items []T    `json:"items"`
	Error string `json:"error,omitempty"`
}

func (h *Handler) handleHome(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.home")
	defer span.End()

	profile, err := h.profiles().Fetch(ctx)
	if err != nil {
		h.writeError(w, "home", err, MsgLoadProfile)
		return
	}

	today := h.now().In(h.loc)
	records, err := h.records().ListForUser(ctx, "", &today)
	if err != nil {
		h.writeError(w, "home", err, MsgLoadRecords)
		return
	}

	pkg.WriteJSON(w, struct {
		Profile *Profile `json:"profile"`
		Today   []Record `json:"today"`
	}{profile, records}, http.StatusOK)
}

func (h *Handler) handleAddExerciseView(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.addExerciseView")
	defer span.End()

	categories := h.categories.List(ctx)
	units := h.units.List(ctx)
	pkg.WriteJSON(w, struct {
		Categories listResponse[Category] `json:"categories"`
		Units      listResponse[Unit]     `json:"units"`
	}{
		Categories: listResponse[Category]{Items: categories, Error: h.categories.State().Err},
		Units:      listResponse[Unit]{Items: units, Error: h.units.State().Err},
	}, http.StatusOK)
}

func (h *Handler) handleCategories(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.categories")
	defer span.End()

	items := h.categories.List(ctx)
	pkg.WriteJSON(w, listResponse[Category]{Items: items, Error: h.categories.State().Err}, http.StatusOK)
}

func (h *Handler) handleUnits(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.units")
	defer span.End()

	items := h.units.List(ctx)
	pkg.WriteJSON(w, listResponse[Unit]{Items: items, Error: h.units.State().Err}, http.StatusOK)
}

func (h *Handler) handleListExercises(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.listExercises")
	defer span.End()

	var categoryID *int64
	if raw := r.URL.Query().Get("category_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			pkg.WriteJSONError(w, "category_id inválido", http.StatusBadRequest)
			return
		}
		categoryID = &id
	}

	items := h.exercises.List(ctx, categoryID)
	pkg.WriteJSON(w, listResponse[Exercise]{Items: items, Error: h.exercises.State().Err}, http.StatusOK)
}

func (h *Handler) handleCreateExercise(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.createExercise")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var req struct {
		Name        string  `json:"name"`
		CategoryID  int64   `json:"category_id"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("create exercise, unmarshal json params: %s", err)
		pkg.WriteJSONError(w, "cuerpo de la petición inválido", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		pkg.WriteJSONError(w, "el nombre es obligatorio", http.StatusBadRequest)
		return
	}
	if req.CategoryID <= 0 {
		pkg.WriteJSONError(w, "la categoría es obligatoria", http.StatusBadRequest)
		return
	}

	exercise, err := NewExercises(h.client).Create(ctx, strings.TrimSpace(req.Name), req.CategoryID, req.Description)
	if err != nil {
		h.writeError(w, "create-exercise", err, MsgCreateExercise)
		return
	}

	h.metricsManager.CounterExercisesCreated.Inc()
	pkg.WriteJSON(w, exercise, http.StatusCreated)
}

func (h *Handler) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.getProfile")
	defer span.End()

	profile, err := h.profiles().Fetch(ctx)
	if err != nil {
		h.writeError(w, "fetch-profile", err, MsgLoadProfile)
		return
	}

	pkg.WriteJSON(w, struct {
		Profile *Profile `json:"profile"`
	}{profile}, http.StatusOK)
}

func (h *Handler) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.saveProfile")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "PUT, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var fields ProfileFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		log.Errorf("save profile, unmarshal json params: %s", err)
		pkg.WriteJSONError(w, "cuerpo de la petición inválido", http.StatusBadRequest)
		return
	}
	if fields.BornDate != "" {
		if _, err := time.Parse(dateLayout, fields.BornDate); err != nil {
			pkg.WriteJSONError(w, "fecha de nacimiento inválida", http.StatusBadRequest)
			return
		}
	}

	save := h.profiles().Update
	if h.checkThenAct {
		save = h.profiles().UpdateCheckThenAct
	}
	profile, err := save(ctx, fields)
	if err != nil {
		h.writeError(w, "save-profile", err, MsgSaveProfile)
		return
	}

	h.metricsManager.CounterProfileSaves.Inc()
	pkg.WriteJSON(w, profile, http.StatusOK)
}

// weightValue accepts the weight both as a JSON number and as a string.
type weightValue string

func (v *weightValue) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(data, []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = weightValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*v = weightValue(n.String())
	return nil
}

func (h *Handler) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.createRecord")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "POST, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	var req struct {
		ExerciseID int64       `json:"exercise_id"`
		Weight     weightValue `json:"weight"`
		Quantity   float64     `json:"quantity"`
		UnitID     *int64      `json:"unit_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Errorf("create record, unmarshal json params: %s", err)
		pkg.WriteJSONError(w, "cuerpo de la petición inválido", http.StatusBadRequest)
		return
	}
	if req.ExerciseID <= 0 {
		pkg.WriteJSONError(w, "el ejercicio es obligatorio", http.StatusBadRequest)
		return
	}
	if req.Weight == "" {
		pkg.WriteJSONError(w, "el peso es obligatorio", http.StatusBadRequest)
		return
	}

	record, err := h.records().Create(ctx, req.ExerciseID, string(req.Weight), req.Quantity, req.UnitID)
	if err != nil {
		h.writeError(w, "create-record", err, MsgCreateRecord)
		return
	}

	h.metricsManager.CounterRecordsCreated.Inc()
	pkg.WriteJSON(w, record, http.StatusCreated)
}

func (h *Handler) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.deleteRecord")
	defer span.End()

	if r.Method == http.MethodOptions {
		w.Header().Add("Allow", "DELETE, OPTIONS")
		w.WriteHeader(http.StatusOK)
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.records().Delete(ctx, id); err != nil {
		h.writeError(w, "delete-record", err, MsgDeleteRecord)
		return
	}

	h.metricsManager.CounterRecordsDeleted.Inc()
	pkg.WriteJSON(w, map[string]string{"deleted": id}, http.StatusOK)
}

func (h *Handler) handleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.listRecords")
	defer span.End()

	q := r.URL.Query()
	var onDate *time.Time
	if raw := q.Get("date"); raw != "" {
		date, err := time.ParseInLocation(dateLayout, raw, h.loc)
		if err != nil {
			pkg.WriteJSONError(w, "fecha inválida, formato esperado AAAA-MM-DD", http.StatusBadRequest)
			return
		}
		onDate = &date
	}

	records, err := h.records().ListForUser(ctx, q.Get("user_id"), onDate)
	if err != nil {
		h.writeError(w, "list-records", err, MsgLoadRecords)
		return
	}

	pkg.WriteJSON(w, listResponse[Record]{Items: records}, http.StatusOK)
}

func (h *Handler) handleTodayRecords(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.todayRecords")
	defer span.End()

	exerciseID, err := strconv.ParseInt(mux.Vars(r)["exerciseID"], 10, 64)
	if err != nil {
		pkg.WriteJSONError(w, "ejercicio inválido", http.StatusBadRequest)
		return
	}

	records := h.records().ListForExerciseToday(ctx, exerciseID)
	pkg.WriteJSON(w, listResponse[Record]{Items: records}, http.StatusOK)
}

func (h *Handler) handleRecordsRange(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "trackerHandler.recordsRange")
	defer span.End()

	q := r.URL.Query()
	from, errFrom := time.ParseInLocation(dateLayout, q.Get("from"), h.loc)
	to, errTo := time.ParseInLocation(dateLayout, q.Get("to"), h.loc)
	if errFrom != nil || errTo != nil {
		pkg.WriteJSONError(w, "rango de fechas inválido, formato esperado AAAA-MM-DD", http.StatusBadRequest)
		return
	}
	if to.Before(from) {
		pkg.WriteJSONError(w, "la fecha final es anterior a la inicial", http.StatusBadRequest)
		return
	}

	start, _ := DayWindow(from)
	_, end := DayWindow(to)
	records := h.records().ListForDateRange(ctx, start, end, q.Get("user_id"))
	pkg.WriteJSON(w, listResponse[Record]{Items: records}, http.StatusOK)
}

func (h *Handler) writeError(w http.ResponseWriter, operation string, err error, fallback string) {
	h.metricsManager.CounterAccessorErrors.With(prometheus.Labels{"operation": operation}).Inc()
	pkg.WriteJSONError(w, ErrorMessage(err, fallback), statusFor(err))
}

func statusFor(err error) int {
	var backendErr *backend.Error
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProfileOwnership), errors.Is(err, ErrForeignRecords):
		return http.StatusForbidden
	case backend.HasCode(err, backend.CodeUniqueViolation):
		return http.StatusConflict
	case errors.As(err, &backendErr) && backendErr.Status >= 400 && backendErr.Status < 500:
		return backendErr.Status
	default:
		return http.StatusInternalServerError
	}
}
