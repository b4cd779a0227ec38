package docstore

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// Normalize converts a Go value into the value set a Document holds:
// nil, bool, int64, float64, string, time.Time (UTC), Ref, []any and Document.
//
// Integers of every width become int64, floats become float64,
// pointers are dereferenced (nil pointers become nil),
// slices and arrays become []any, and string keyed maps become Document.
func Normalize(v any) (any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case time.Time:
		return v.Round(0).UTC(), nil
	case Ref:
		return v, nil
	case *Ref:
		if v == nil {
			return nil, nil
		}
		return *v, nil
	case Document:
		return normalizeMap(v)
	case map[string]any:
		return normalizeMap(v)
	case []any:
		out := make([]any, 0, len(v))
		for i, e := range v {
			ne, err := Normalize(e)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, ne)
		}
		return out, nil
	}
	return normalizeReflect(reflect.ValueOf(v))
}

func normalizeMap(m map[string]any) (Document, error) {
	out := make(Document, len(m))
	for k, e := range m {
		ne, err := Normalize(e)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = ne
	}
	return out, nil
}

var (
	typeTime = reflect.TypeOf(time.Time{})
	typeRef  = reflect.TypeOf(Ref{})
)

func normalizeReflect(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	switch rv.Type() {
	case typeTime:
		return Normalize(rv.Interface().(time.Time))
	case typeRef:
		return rv.Interface().(Ref), nil
	}
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, ErrInvalidDocument.F("%d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeReflect(rv.Elem())
	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, err := normalizeReflect(rv.Index(i))
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out = append(out, e)
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrInvalidDocument.F("map keys must be strings, got %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return nil, nil
		}
		out := make(Document, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := normalizeReflect(iter.Value())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", iter.Key().String(), err)
			}
			out[iter.Key().String()] = e
		}
		return out, nil
	}
	return nil, ErrInvalidDocument.F("unsupported value type: %s", rv.Type())
}

// Equal reports whether two normalised values are equal.
// Numbers compare by value regardless of being int64 or float64.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case int64, float64:
		c, ok := compareNumbers(a, b)
		return ok && c == 0
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Document:
		bv, ok := b.(Document)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, e := range av {
			be, ok := bv[k]
			if !ok || !Equal(e, be) {
				return false
			}
		}
		return true
	case bool, string, Ref:
		return a == b
	default:
		return reflect.DeepEqual(a, b)
	}
}

// typeRank orders values of different types the same way a document database brackets them,
// so sorting is total even on mixed fields.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case int64, float64:
		return 1
	case string:
		return 2
	case Document:
		return 3
	case []any:
		return 4
	case Ref:
		return 5
	case bool:
		return 6
	case time.Time:
		return 7
	default:
		return 8
	}
}

// Compare orders two normalised values.
// The second result is false when the values belong to different type brackets,
// in which case the order falls back to the bracket order.
func Compare(a, b any) (int, bool) {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1, false
		}
		return 1, false
	}
	switch av := a.(type) {
	case nil:
		return 0, true
	case int64, float64:
		return compareNumbers(a, b)
	case string:
		return strings.Compare(av, b.(string)), true
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		return av.Compare(b.(time.Time)), true
	case Ref:
		bv := b.(Ref)
		if c := strings.Compare(av.Collection, bv.Collection); c != 0 {
			return c, true
		}
		return strings.Compare(av.ID, bv.ID), true
	case []any:
		bv := b.([]any)
		for i := 0; i < len(av) && i < len(bv); i++ {
			if c, _ := Compare(av[i], bv[i]); c != 0 {
				return c, true
			}
		}
		return cmpInt(len(av), len(bv)), true
	case Document:
		return cmpInt(len(av), len(b.(Document))), true
	}
	return 0, false
}

func compareNumbers(a, b any) (int, bool) {
	if ai, ok := a.(int64); ok {
		if bi, ok := b.(int64); ok {
			return cmpInt64(ai, bi), true
		}
	}
	af, ok := toFloat(a)
	if !ok {
		return 0, false
	}
	bf, ok := toFloat(b)
	if !ok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func cmpInt(a, b int) int { return cmpInt64(int64(a), int64(b)) }

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case Document:
		out := make(Document, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func lookupPath(doc Document, path string) (any, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := doc[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return v, true
	}
	sub, ok := v.(Document)
	if !ok {
		return nil, false
	}
	return lookupPath(sub, rest)
}

func setPath(doc Document, path string, v any) error {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		doc[head] = v
		return nil
	}
	sub, ok := doc[head].(Document)
	if !ok {
		if cur, present := doc[head]; present && cur != nil {
			return ErrInvalidModification.F("%q is not an embedded document", head)
		}
		sub = Document{}
		doc[head] = sub
	}
	return setPath(sub, rest, v)
}

func unsetPath(doc Document, path string) {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		delete(doc, head)
		return
	}
	if sub, ok := doc[head].(Document); ok {
		unsetPath(sub, rest)
	}
}
