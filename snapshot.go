package pulsesync

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Snapshot is one fetched representation of remote state.
//
// Snapshot is the decoded JSON object returned by a [Fetcher]. The
// synchronizer treats it as opaque apart from the fields named in
// [SyncConfig.EqualityFields]. Nested fields are addressed with dot
// notation, e.g. "traffic.currentSpeed".
type Snapshot map[string]any

// Params holds the fetch parameters passed to a [Fetcher] on every cycle,
// e.g. {"lat": "28.6139", "lon": "77.2090"}.
type Params map[string]string

// EqualFunc reports whether two snapshots are equivalent for notification
// purposes. prev is the current baseline, next the freshly fetched snapshot.
type EqualFunc func(prev, next Snapshot) bool

// Lookup walks the snapshot using a dot-separated path and returns the value
// found there. The second result is false if any segment is missing or an
// intermediate value is not an object.
func (s Snapshot) Lookup(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}

	var current any = map[string]any(s)
	for _, part := range strings.Split(path, ".") {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Number returns the numeric value at path. Missing fields and values that
// do not parse as a finite number yield 0.
func (s Snapshot) Number(path string) float64 {
	v, _ := s.Lookup(path)
	return numberOrZero(v)
}

// String returns the value at path formatted as a string, or "" if missing.
func (s Snapshot) String(path string) string {
	v, ok := s.Lookup(path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Clone returns a deep copy of the snapshot. Nested objects and arrays are
// copied; scalar values are shared.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	return Snapshot(cloneValue(map[string]any(s)).(map[string]any))
}

// FieldsEqual returns an [EqualFunc] that compares only the given fields.
//
// Two snapshots are equal when every listed field compares equal:
//   - if either side is numeric (a number, or a string that parses as one),
//     both sides are compared as numbers, with unparseable values read as 0
//   - booleans and strings compare by value
//   - a field missing on both sides is equal; missing on one side is not
//
// Fields not listed (timestamps, volatile counters) never affect the result.
func FieldsEqual(fields ...string) EqualFunc {
	paths := append([]string(nil), fields...)
	return func(prev, next Snapshot) bool {
		for _, path := range paths {
			a, aok := prev.Lookup(path)
			b, bok := next.Lookup(path)
			if aok != bok {
				return false
			}
			if !aok {
				continue
			}
			if !valuesEqual(a, b) {
				return false
			}
		}
		return true
	}
}

// valuesEqual compares two field values using the rules of FieldsEqual.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	_, aNum := asNumber(a)
	_, bNum := asNumber(b)
	if aNum || bNum {
		return numberOrZero(a) == numberOrZero(b)
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return reflect.DeepEqual(a, b)
	}
}

// asNumber converts v to a finite float64. The second result reports whether
// v is numeric at all.
func asNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// numberOrZero mirrors the dashboards' `parseFloat(x) || 0` convention.
func numberOrZero(v any) float64 {
	f, ok := asNumber(v)
	if !ok {
		return 0
	}
	return f
}

func asObject(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Snapshot:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, val := range t {
			cp[k] = cloneValue(val)
		}
		return cp
	case Snapshot:
		return cloneValue(map[string]any(t))
	case []any:
		cp := make([]any, len(t))
		for i, val := range t {
			cp[i] = cloneValue(val)
		}
		return cp
	default:
		return v
	}
}

// copyParams returns a shallow copy of the params map.
func copyParams(p Params) Params {
	if p == nil {
		return nil
	}
	cp := make(Params, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}
