package templating

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/aymerick/raymond"
)

// str renders a template value as text. nil renders as the empty string.
func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case raymond.SafeString:
		return string(s)
	}
	return raymond.Str(v)
}

// toNumber converts numbers and numeric strings to float64.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func isNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return true
	}
	return false
}

// strictEqual compares two template values without type coercion, except
// that numbers compare by value whatever their Go type.
func strictEqual(a, b any) bool {
	if isNumeric(a) && isNumeric(b) {
		x, _ := toNumber(a)
		y, _ := toNumber(b)
		return x == y
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sa, ok := a.(raymond.SafeString); ok {
		a = string(sa)
	}
	if sb, ok := b.(raymond.SafeString); ok {
		b = string(sb)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two values numerically when both are numbers or numeric
// strings, lexically otherwise.
func compare(a, b any) int {
	x, okA := toNumber(a)
	y, okB := toNumber(b)
	if okA && okB {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(str(a), str(b))
}

// field reads a named member of a map or struct. Struct fields match case
// insensitively.
func field(obj any, name string) any {
	v := reflect.ValueOf(obj)
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil
		}
		return mv.Interface()
	case reflect.Struct:
		fv := v.FieldByNameFunc(func(n string) bool { return strings.EqualFold(n, name) })
		if !fv.IsValid() || !fv.CanInterface() {
			return nil
		}
		return fv.Interface()
	}
	return nil
}

// lookupPath follows a dotted path through nested maps and structs.
func lookupPath(obj any, path string) any {
	current := obj
	for _, part := range strings.Split(path, ".") {
		if current == nil {
			return nil
		}
		current = field(current, part)
	}
	return current
}

func fieldStr(obj any, name string) string {
	return str(field(obj, name))
}

// toSlice returns the elements of a slice or array.
func toSlice(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// isEmptyValue mirrors the emptiness test templates expect: nil, empty
// strings, empty collections and maps without keys are empty.
func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// uniqueBy keeps the first element of every distinct key, in order. With an
// empty property the element itself is the key.
func uniqueBy(items []any, property string) []any {
	seen := make(map[string]bool, len(items))
	out := make([]any, 0, len(items))
	for _, item := range items {
		key := item
		if property != "" {
			key = lookupPath(item, property)
		}
		k := fmt.Sprintf("%T:%#v", key, key)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	return out
}
