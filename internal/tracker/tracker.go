// Package tracker holds the gymlog data accessors: reference data (categories, units),
// exercises, the user profile and workout records.
//
// Every accessor keeps the outcome of its last call (loading flag, error message, value)
// for the presentation layer. Two error policies exist and are visible in the signatures:
// mutations and primary reads return (T, error) and record the error; best effort reads
// return only T, logging failures and defaulting to an empty result.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/2beens/gymlog/internal/backend"
)

var (
	ErrUnauthenticated  = errors.New("Usuario no autenticado")
	ErrProfileOwnership = errors.New("El perfil no pertenece al usuario actual")
	ErrUserLookup       = errors.New("Error al obtener usuario")
	ErrForeignRecords   = errors.New("Los registros pertenecen a otro usuario")
)

// localized fallback messages, shown when an error carries no message of its own
const (
	MsgLoadCategories = "Error al cargar categorías"
	MsgLoadUnits      = "Error al cargar unidades"
	MsgLoadExercises  = "Error al cargar ejercicios"
	MsgCreateExercise = "Error al crear ejercicio"
	MsgLoadProfile    = "Error al cargar perfil"
	MsgSaveProfile    = "Error al guardar perfil"
	MsgCreateRecord   = "Error al crear registro"
	MsgDeleteRecord   = "Error al eliminar registro"
	MsgLoadRecords    = "Error al cargar registros"
)

// UserResolver returns the user of the current session, or nil when there is none.
type UserResolver interface {
	CurrentUser(ctx context.Context) (*backend.User, error)
}

// UserResolverFunc adapts a func to UserResolver.
type UserResolverFunc func(ctx context.Context) (*backend.User, error)

func (f UserResolverFunc) CurrentUser(ctx context.Context) (*backend.User, error) {
	return f(ctx)
}

// State is a snapshot of an accessor after its last call.
type State[T any] struct {
	Loading bool   `json:"loading"`
	Err     string `json:"error,omitempty"`
	Value   T      `json:"value"`
}

type state[T any] struct {
	mu      sync.RWMutex
	loading bool
	errMsg  string
	value   T
}

func (s *state[T]) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = true
	s.errMsg = ""
}

func (s *state[T]) succeed(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.errMsg = ""
	s.value = v
}

// finish ends a call that does not change the value.
func (s *state[T]) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
}

// fail ends a call with an error message; the last value is kept.
func (s *state[T]) fail(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.errMsg = msg
}

func (s *state[T]) failWith(msg string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	s.errMsg = msg
	s.value = v
}

func (s *state[T]) get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func (s *state[T]) snapshot() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State[T]{Loading: s.loading, Err: s.errMsg, Value: s.value}
}

// ErrorMessage returns the human readable message of err: the message of known
// sentinels and backend errors, otherwise fallback.
func ErrorMessage(err error, fallback string) string {
	var backendErr *backend.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, ErrProfileOwnership), errors.Is(err, ErrUserLookup),
		errors.Is(err, ErrForeignRecords):
		return err.Error()
	case errors.As(err, &backendErr) && backendErr.Message != "":
		return backendErr.Message
	default:
		return fallback
	}
}

func resolveUser(ctx context.Context, users UserResolver) (*backend.User, error) {
	if users == nil {
		return nil, ErrUnauthenticated
	}
	user, err := users.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserLookup, err)
	}
	if user == nil || user.ID == "" {
		return nil, ErrUnauthenticated
	}
	return user, nil
}
