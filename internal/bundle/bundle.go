// Package bundle models the submitted artifact payload as a typed tree
// of scalars, objects, and arrays, with a dotted-path resolver.
// Bundles are read-only: the resolver never mutates the tree.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies the JSON type of a resolved value.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindNumber Kind = "number"
	KindString Kind = "string"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// Value is one node of an artifact bundle tree.
type Value struct {
	raw any
}

// FromJSON decodes an artifact bundle from raw JSON. Numbers are kept as
// json.Number so large and fractional values round-trip exactly.
func FromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("decode bundle: %w", err)
	}
	return Value{raw: raw}, nil
}

// FromAny wraps an already-decoded JSON tree (maps, slices, scalars).
func FromAny(raw any) Value {
	return Value{raw: raw}
}

// Kind reports the JSON type of the value.
func (v Value) Kind() Kind {
	switch v.raw.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case json.Number, float64, int, int64:
		return KindNumber
	case string:
		return KindString
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return KindNull
	}
}

// Resolve walks a dotted path ("cost_of_error.amount") into the tree.
// A missing intermediate and a wrong-typed intermediate are the same
// outcome: the path is absent, ok is false. Neither is an error.
func (v Value) Resolve(path string) (Value, bool) {
	if path == "" {
		return v, true
	}
	cur := v.raw
	for _, seg := range strings.Split(path, ".") {
		obj, isObj := cur.(map[string]any)
		if !isObj {
			return Value{}, false
		}
		next, present := obj[seg]
		if !present {
			return Value{}, false
		}
		cur = next
	}
	return Value{raw: cur}, true
}

// IsEmpty reports whether the value counts as empty for presence checks:
// explicit null, empty string (after trimming), or empty array.
func (v Value) IsEmpty() bool {
	switch t := v.raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// String returns the string form of a string value.
func (v Value) String() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// Float returns the numeric form of a number value. Strings are not
// coerced: "100" is a string, not a number.
func (v Value) Float() (float64, bool) {
	switch t := v.raw.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// Len returns the element count of an array value.
func (v Value) Len() (int, bool) {
	arr, ok := v.raw.([]any)
	if !ok {
		return 0, false
	}
	return len(arr), true
}

// Display renders a short human-readable form of the value for message
// templates. Long strings are truncated.
func (v Value) Display() string {
	const maxDisplay = 60
	switch t := v.raw.(type) {
	case nil:
		return "null"
	case string:
		if len(t) > maxDisplay {
			return t[:maxDisplay] + "…"
		}
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	case []any:
		return fmt.Sprintf("array(%d)", len(t))
	case map[string]any:
		return fmt.Sprintf("object(%d)", len(t))
	default:
		return fmt.Sprintf("%v", t)
	}
}
