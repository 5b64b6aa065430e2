package backend

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampLayout is the wire format of timestamp filter values: UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatValue renders a filter value the way it is sent to the backend.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case time.Time:
		return val.UTC().Format(TimestampLayout)
	case *time.Time:
		if val == nil {
			return "null"
		}
		return val.UTC().Format(TimestampLayout)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// DecodeRows decodes a JSON array of rows into dest. A null body yields an empty slice.
func DecodeRows(data []byte, dest any) error {
	if len(data) == 0 || string(data) == "null" {
		data = []byte("[]")
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}

// DecodeRow decodes a single JSON object into dest.
func DecodeRow(data []byte, dest any) error {
	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// RowMap converts a row value (struct or map) into its JSON column map.
func RowMap(row any) (map[string]any, error) {
	if m, ok := row.(map[string]any); ok {
		return m, nil
	}
	rowJson, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("marshal row: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(rowJson, &m); err != nil {
		return nil, fmt.Errorf("row is not an object: %w", err)
	}
	return m, nil
}
