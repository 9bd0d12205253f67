package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a structured JSON object stored in a TEXT/JSONB column.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	return scanJSON(src, m, "json map")
}

// JSONText is a raw JSON document stored in a TEXT/JSONB column. It behaves
// like json.RawMessage on the wire but also implements sql.Scanner, since
// drivers may return TEXT columns as either string or []byte.
type JSONText json.RawMessage

// Value implements driver.Valuer.
func (t JSONText) Value() (driver.Value, error) {
	if len(t) == 0 {
		return "{}", nil
	}
	return string(t), nil
}

// Scan implements sql.Scanner.
func (t *JSONText) Scan(src any) error {
	return scanJSON(src, t, "json text")
}

// MarshalJSON implements json.Marshaler.
func (t JSONText) MarshalJSON() ([]byte, error) {
	return json.RawMessage(t).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *JSONText) UnmarshalJSON(data []byte) error {
	return (*json.RawMessage)(t).UnmarshalJSON(data)
}

// StringSet is a set of strings stored as a JSON array column. Order is
// preserved for display but has no semantic meaning.
type StringSet []string

// Contains reports whether the set holds s.
func (ss StringSet) Contains(s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Intersects reports whether the two sets share any element.
func (ss StringSet) Intersects(other StringSet) bool {
	for _, v := range other {
		if ss.Contains(v) {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (ss StringSet) Value() (driver.Value, error) {
	if ss == nil {
		return "[]", nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string set: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (ss *StringSet) Scan(src any) error {
	return scanJSON(src, ss, "string set")
}

// ChangeOperations is the ordered operation list of a changeset, stored as a
// JSON array column.
type ChangeOperations []ChangeOperation

// Value implements driver.Valuer.
func (ops ChangeOperations) Value() (driver.Value, error) {
	if ops == nil {
		return "[]", nil
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operations: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (ops *ChangeOperations) Scan(src any) error {
	return scanJSON(src, ops, "operations")
}

func scanJSON(src, dst any, what string) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into %s", src, what)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", what, err)
	}
	return nil
}
