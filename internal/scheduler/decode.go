package scheduler

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// decodeInto fills dst (a pointer) from raw. The in-memory engine passes
// activity/workflow input through untouched, so the common case is a plain
// type assertion; a durable engine's data converter instead hands back a
// JSON-shaped value (map[string]any, []any, ...), so decodeInto falls back
// to a JSON round-trip in that case.
func decodeInto(raw any, dst any) error {
	if raw == nil {
		return nil
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("scheduler: decodeInto requires a non-nil pointer, got %T", dst)
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(dv.Elem().Type()) {
		dv.Elem().Set(rv)
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("scheduler: re-marshal %T: %w", raw, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("scheduler: unmarshal into %T: %w", dst, err)
	}
	return nil
}
