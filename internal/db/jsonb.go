package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// columnBytes reads a JSON column value as returned by the driver. ok is false
// for SQL NULL.
func columnBytes(value interface{}) (raw []byte, ok bool, err error) {
	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, true, nil
	case string:
		return []byte(v), true, nil
	default:
		return nil, false, fmt.Errorf("unsupported type: %T", value)
	}
}

// JSONB is an opaque JSON object column. Empty and NULL read as {}.
type JSONB json.RawMessage

func (j JSONB) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "{}", nil
	}
	return string(j), nil
}

func (j *JSONB) Scan(value interface{}) error {
	raw, ok, err := columnBytes(value)
	if err != nil {
		return err
	}
	if !ok {
		*j = JSONB("{}")
		return nil
	}
	*j = append((*j)[0:0], raw...)
	return nil
}

func (j JSONB) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("{}"), nil
	}
	return json.RawMessage(j).MarshalJSON()
}

func (j *JSONB) UnmarshalJSON(data []byte) error {
	if j == nil {
		return fmt.Errorf("JSONB: UnmarshalJSON on nil pointer")
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// JSONArray stores a slice as a JSONB array. Empty and NULL read as [].
type JSONArray[T any] []T

func (a JSONArray[T]) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal([]T(a))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (a *JSONArray[T]) Scan(value interface{}) error {
	raw, ok, err := columnBytes(value)
	if err != nil {
		return err
	}
	if !ok {
		*a = JSONArray[T]{}
		return nil
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("decode json array: %w", err)
	}
	if items == nil {
		items = []T{}
	}
	*a = items
	return nil
}
