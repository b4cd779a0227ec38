package mapping

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/docmap/docmap/port/docstore"
)

var (
	typeTime     = reflect.TypeOf(time.Time{})
	typeRef      = reflect.TypeOf(docstore.Ref{})
	typeDocument = reflect.TypeOf(docstore.Document{})
)

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func isNumberKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// checkValueType reports why a Go type cannot be stored as a plain document value.
func checkValueType(t reflect.Type) error {
	switch t {
	case typeTime, typeRef, typeDocument:
		return nil
	}
	switch k := t.Kind(); {
	case k == reflect.String, k == reflect.Bool, isNumberKind(k):
		return nil
	case k == reflect.Interface:
		if t.NumMethod() != 0 {
			return fmt.Errorf("interface type %s is not supported", t)
		}
		return nil
	case k == reflect.Pointer:
		return checkValueType(t.Elem())
	case k == reflect.Slice || k == reflect.Array:
		return checkValueType(t.Elem())
	case k == reflect.Map:
		if t.Key().Kind() != reflect.String {
			return fmt.Errorf("map key type %s is not a string", t.Key())
		}
		return checkValueType(t.Elem())
	case k == reflect.Struct:
		return fmt.Errorf("struct type %s must be declared as an embedded field", t)
	default:
		return fmt.Errorf("type %s is not supported", t)
	}
}

// assign converts a normalised document value into dst.
func assign(dst reflect.Value, v any) error {
	t := dst.Type()
	if v == nil {
		dst.SetZero()
		return nil
	}
	switch t {
	case typeTime:
		tv, ok := v.(time.Time)
		if !ok {
			return mismatch(t, v)
		}
		dst.Set(reflect.ValueOf(tv))
		return nil
	case typeRef:
		rv, ok := v.(docstore.Ref)
		if !ok {
			return mismatch(t, v)
		}
		dst.Set(reflect.ValueOf(rv))
		return nil
	}
	switch t.Kind() {
	case reflect.Interface:
		rv := reflect.ValueOf(v)
		if !rv.Type().AssignableTo(t) {
			return mismatch(t, v)
		}
		dst.Set(rv)
	case reflect.Pointer:
		elem := reflect.New(t.Elem())
		if err := assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
	case reflect.String:
		s, ok := v.(string)
		if !ok {
			return mismatch(t, v)
		}
		dst.SetString(s)
	case reflect.Bool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, v)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := asInt64(v)
		if !ok {
			return mismatch(t, v)
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, t)
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := asInt64(v)
		if !ok {
			return mismatch(t, v)
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("%d overflows %s", n, t)
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		var f float64
		switch n := v.(type) {
		case float64:
			f = n
		case int64:
			f = float64(n)
		default:
			return mismatch(t, v)
		}
		dst.SetFloat(f)
	case reflect.Slice:
		list, ok := v.([]any)
		if !ok {
			return mismatch(t, v)
		}
		out := reflect.MakeSlice(t, len(list), len(list))
		for i, e := range list {
			if err := assign(out.Index(i), e); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		dst.Set(out)
	case reflect.Array:
		list, ok := v.([]any)
		if !ok || len(list) != t.Len() {
			return mismatch(t, v)
		}
		for i, e := range list {
			if err := assign(dst.Index(i), e); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
	case reflect.Map:
		doc, ok := v.(docstore.Document)
		if !ok {
			return mismatch(t, v)
		}
		out := reflect.MakeMapWithSize(t, len(doc))
		for k, e := range doc {
			ev := reflect.New(t.Elem()).Elem()
			if err := assign(ev, e); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), ev)
		}
		dst.Set(out)
	default:
		return mismatch(t, v)
	}
	return nil
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func mismatch(t reflect.Type, v any) error {
	return fmt.Errorf("cannot load %T into %s", v, t)
}
