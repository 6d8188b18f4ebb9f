package audit

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"reflect"
)

// Changes is the per-field diff carried by a change record. For create and
// destroy events each field maps to a single value (the full post- or
// pre-state); for update events each field maps to a two-element [old, new]
// slice. Stored as JSONB.
type Changes map[string]any

// Pair builds the [old, new] representation used for update fields.
func Pair(old, new any) []any {
	return []any{old, new}
}

// SnapshotChanges wraps a full attribute snapshot as the changes of a create
// or destroy event.
func SnapshotChanges(attrs map[string]any) Changes {
	c := make(Changes, len(attrs))
	for k, v := range attrs {
		c[k] = v
	}
	return c
}

// DiffChanges computes update changes from before/after attribute snapshots.
// Only fields whose value differs are included; fields present on one side
// only diff against nil.
func DiffChanges(before, after map[string]any) Changes {
	c := make(Changes)
	for k, newVal := range after {
		oldVal, had := before[k]
		if !had {
			c[k] = Pair(nil, newVal)
			continue
		}
		if !reflect.DeepEqual(oldVal, newVal) {
			c[k] = Pair(oldVal, newVal)
		}
	}
	for k, oldVal := range before {
		if _, still := after[k]; !still {
			c[k] = Pair(oldVal, nil)
		}
	}
	return c
}

// extract pulls one side of each update pair, or copies the changes verbatim
// for create/destroy. idx 0 selects the old value, 1 the new.
func (c Changes) extract(action Action, idx int) Attributes {
	out := make(Attributes, len(c))
	if action != ActionUpdate {
		for k, v := range c {
			out[k] = v
		}
		return out
	}
	for k, v := range c {
		if pair, ok := pairOf(v); ok {
			out[k] = pair[idx]
		} else {
			// Malformed entry for an update; pass through rather than guess.
			out[k] = v
		}
	}
	return out
}

func pairOf(v any) ([]any, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return nil, false
	}
	return pair, true
}

// Value implements driver.Valuer, encoding the changes as JSON for a JSONB
// column. Nil changes become SQL NULL.
func (c Changes) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for JSONB columns.
func (c *Changes) Scan(src any) error {
	if src == nil {
		*c = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Changes", src)
	}
	return json.Unmarshal(data, c)
}
