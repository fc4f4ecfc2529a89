package engine

import (
	"cmp"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// toNumber converts Go numeric kinds and json.Number. Strings are not numbers
// on their own; see numericPair.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
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
	default:
		return 0, false
	}
}

// numericPair returns both operands as numbers when both are numeric. A
// numeric string is accepted when the other side is a number, since form
// input usually arrives as text.
func numericPair(a, b any) (float64, float64, bool) {
	x, xok := toNumber(a)
	y, yok := toNumber(b)

	switch {
	case xok && yok:
		return x, y, true
	case xok:
		if s, ok := b.(string); ok {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return x, parsed, true
			}
		}
	case yok:
		if s, ok := a.(string); ok {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return parsed, y, true
			}
		}
	}

	return 0, 0, false
}

func equal(a, b any) bool {
	if x, y, ok := numericPair(a, b); ok {
		return x == y
	}

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compare orders two operands numerically or lexically. ok is false when the
// operands are not comparable.
func compare(a, b any) (int, bool) {
	if x, y, ok := numericPair(a, b); ok {
		return cmp.Compare(x, y), true
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if aok && bok {
		return strings.Compare(as, bs), true
	}

	return 0, false
}

func stringPair(a, b any) (string, string, bool) {
	as, aok := a.(string)
	bs, bok := b.(string)

	return as, bs, aok && bok
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	if s, ok := v.(string); ok {
		return s == ""
	}

	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

func asSlice(v any) ([]any, bool) {
	switch items := v.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = item
		}

		return out, true
	}

	if v == nil {
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}

	out := make([]any, rv.Len())
	for i := range rv.Len() {
		out[i] = rv.Index(i).Interface()
	}

	return out, true
}

func memberOf(items []any, value any) bool {
	for _, item := range items {
		if equal(item, value) {
			return true
		}
	}

	return false
}

// truthy interprets a step outcome as a branch decision.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "y", "1", "approved", "accepted", "signed", "paid":
			return true
		default:
			return false
		}
	}

	if n, ok := toNumber(v); ok {
		return n != 0
	}

	return !isEmpty(v)
}
