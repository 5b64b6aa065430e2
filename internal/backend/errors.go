package backend

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// CodeNoRows is returned when a single-row request matched zero or many rows.
	CodeNoRows = "PGRST116"
	// CodeUniqueViolation is the postgres unique_violation code.
	CodeUniqueViolation = "23505"
)

// Error is a failure reported by the backend.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
	// HTTP status, when the backend is reached over HTTP
	Status int `json:"-"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// UnmarshalJSON accepts both the PostgREST error body and the string/number code variants
// returned by the auth service.
func (e *Error) UnmarshalJSON(data []byte) error {
	var raw struct {
		Code             json.RawMessage `json:"code"`
		ErrorCode        string          `json:"error_code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Error            string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
		Details          json.RawMessage `json:"details"`
		Hint             string          `json:"hint"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	e.Code = rawString(raw.Code)
	if raw.ErrorCode != "" {
		e.Code = raw.ErrorCode
	}
	if e.Code == "" {
		e.Code = raw.Error
	}

	e.Message = firstNonEmpty(raw.Message, raw.Msg, raw.ErrorDescription, raw.Error)
	e.Details = rawString(raw.Details)
	e.Hint = raw.Hint
	return nil
}

// NoRowsError builds the error returned by single-row requests that matched rowsCount rows.
func NoRowsError(rowsCount int) *Error {
	return &Error{
		Code:    CodeNoRows,
		Message: "JSON object requested, multiple (or no) rows returned",
		Details: fmt.Sprintf("The result contains %d rows", rowsCount),
	}
}

func IsNoRows(err error) bool {
	return HasCode(err, CodeNoRows)
}

func HasCode(err error, code string) bool {
	var backendErr *Error
	if errors.As(err, &backendErr) {
		return backendErr.Code == code
	}
	return false
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
