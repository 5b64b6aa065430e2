// Package memory is an in-process implementation of the backend contract.
// It keeps rows as JSON column maps, so filters, ordering and embeds behave
// like the hosted backend for the value types gymlog stores.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2beens/gymlog/internal/backend"

	"github.com/google/uuid"
)

var _ backend.Client = (*Store)(nil)

type row = map[string]any

type Store struct {
	mu         sync.RWMutex
	tables     map[string][]row
	seq        map[string]int64
	uuidTables map[string]bool
	unique     map[string][]string
	failure    error
	now        func() time.Time
}

type Option func(*Store)

// WithUUIDKeys makes the given tables use random uuid ids instead of a sequence.
func WithUUIDKeys(tables ...string) Option {
	return func(s *Store) {
		for _, t := range tables {
			s.uuidTables[t] = true
		}
	}
}

// WithUniqueColumn adds a unique constraint on table.column.
func WithUniqueColumn(table, column string) Option {
	return func(s *Store) {
		s.unique[table] = append(s.unique[table], column)
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		tables:     make(map[string][]row),
		seq:        make(map[string]int64),
		uuidTables: make(map[string]bool),
		unique:     make(map[string][]string),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetFailure makes every call fail with err until it is reset with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = err
}

// Seed stores rows as given, bypassing server assigned defaults for the columns present.
func (s *Store) Seed(table string, rows ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if _, err := s.insertLocked(table, r); err != nil {
			return err
		}
	}
	return nil
}

// Rows returns a copy of the table contents.
func (s *Store) Rows(table string) []map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, copyRow(r))
	}
	return out
}

func (s *Store) Select(_ context.Context, q backend.Query, dest any) error {
	rows, err := s.query(q)
	if err != nil {
		return err
	}
	return decode(rows, dest)
}

func (s *Store) SelectSingle(_ context.Context, q backend.Query, dest any) error {
	rows, err := s.query(q)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return backend.NoRowsError(len(rows))
	}
	return decode(rows[0], dest)
}

func (s *Store) SelectMaybeSingle(_ context.Context, q backend.Query, dest any) (bool, error) {
	rows, err := s.query(q)
	if err != nil {
		return false, err
	}
	switch len(rows) {
	case 0:
		return false, nil
	case 1:
		return true, decode(rows[0], dest)
	default:
		return false, backend.NoRowsError(len(rows))
	}
}

func (s *Store) Insert(_ context.Context, table string, r any, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	inserted, err := s.insertLocked(table, r)
	if err != nil {
		return err
	}
	return decode(inserted, dest)
}

func (s *Store) Upsert(_ context.Context, table string, r any, onConflict string, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	values, err := normalizedRow(r)
	if err != nil {
		return err
	}
	key, ok := values[onConflict]
	if !ok {
		return fmt.Errorf("upsert %s: row has no %s column", table, onConflict)
	}

	for _, existing := range s.tables[table] {
		if equal(existing[onConflict], key) {
			for col, v := range values {
				existing[col] = v
			}
			return decode(existing, dest)
		}
	}

	inserted, err := s.insertLocked(table, values)
	if err != nil {
		return err
	}
	return decode(inserted, dest)
}

func (s *Store) Update(_ context.Context, table string, patch any, filters []backend.Filter, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	values, err := normalizedRow(patch)
	if err != nil {
		return err
	}

	var matched []row
	for _, r := range s.tables[table] {
		if matches(r, filters) {
			matched = append(matched, r)
		}
	}
	if len(matched) != 1 {
		return backend.NoRowsError(len(matched))
	}

	for col, v := range values {
		matched[0][col] = v
	}
	return decode(matched[0], dest)
}

func (s *Store) Delete(_ context.Context, table string, filters []backend.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}

	kept := s.tables[table][:0]
	for _, r := range s.tables[table] {
		if !matches(r, filters) {
			kept = append(kept, r)
		}
	}
	s.tables[table] = kept
	return nil
}

func (s *Store) query(q backend.Query) ([]row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.failure != nil {
		return nil, s.failure
	}

	result := make([]row, 0)
	for _, r := range s.tables[q.Table] {
		if !matches(r, q.Filters) {
			continue
		}
		out := project(r, q.Columns)
		for _, e := range q.Embeds {
			out[e.Table] = s.lookupLocked(e, r[e.ForeignKey])
		}
		result = append(result, out)
	}

	if q.Order != nil {
		col, asc := q.Order.Column, q.Order.Ascending
		sort.SliceStable(result, func(i, j int) bool {
			c, ok := compare(result[i][col], result[j][col])
			if !ok {
				return false
			}
			if asc {
				return c < 0
			}
			return c > 0
		})
	}

	return result, nil
}

func (s *Store) lookupLocked(e backend.Embed, id any) any {
	if id == nil {
		return nil
	}
	for _, r := range s.tables[e.Table] {
		if equal(r["id"], id) {
			return project(r, e.Columns)
		}
	}
	return nil
}

func (s *Store) insertLocked(table string, r any) (row, error) {
	values, err := normalizedRow(r)
	if err != nil {
		return nil, err
	}

	for _, col := range s.unique[table] {
		v, ok := values[col]
		if !ok || v == nil {
			continue
		}
		for _, existing := range s.tables[table] {
			if equal(existing[col], v) {
				return nil, &backend.Error{
					Code:    backend.CodeUniqueViolation,
					Message: fmt.Sprintf("duplicate key value violates unique constraint \"%s_%s_key\"", table, col),
					Details: fmt.Sprintf("Key (%s)=(%v) already exists.", col, v),
				}
			}
		}
	}

	if _, ok := values["id"]; !ok {
		if s.uuidTables[table] {
			values["id"] = uuid.NewString()
		} else {
			s.seq[table]++
			values["id"] = float64(s.seq[table])
		}
	} else if id, ok := values["id"].(float64); ok && int64(id) > s.seq[table] {
		s.seq[table] = int64(id)
	}
	if _, ok := values["created_at"]; !ok {
		values["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}

	s.tables[table] = append(s.tables[table], values)
	return values, nil
}

func matches(r row, filters []backend.Filter) bool {
	for _, f := range filters {
		v, want := r[f.Column], normalize(f.Value)
		switch f.Op {
		case backend.OpEq:
			if !equal(v, want) {
				return false
			}
		case backend.OpGte:
			if c, ok := compare(v, want); !ok || c < 0 {
				return false
			}
		case backend.OpLte:
			if c, ok := compare(v, want); !ok || c > 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return a == b
}

// compare orders numbers numerically, timestamps chronologically and other strings lexically.
func compare(a, b any) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		at, aErr := time.Parse(time.RFC3339Nano, av)
		bt, bErr := time.Parse(time.RFC3339Nano, bv)
		if aErr == nil && bErr == nil {
			return at.Compare(bt), true
		}
		return strings.Compare(av, bv), true
	}
	return 0, false
}

func project(r row, columns []string) row {
	if len(columns) == 0 {
		return copyRow(r)
	}
	out := make(row, len(columns))
	for _, c := range columns {
		out[c] = r[c]
	}
	return out
}

func copyRow(r row) row {
	out := make(row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func normalizedRow(r any) (row, error) {
	m, err := backend.RowMap(r)
	if err != nil {
		return nil, err
	}
	out := make(row, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out, nil
}

// normalize maps a Go value onto its JSON representation (float64, string, bool, nil, ...).
func normalize(v any) any {
	switch val := v.(type) {
	case nil, float64, string, bool:
		return val
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func decode(v any, dest any) error {
	if dest == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}
