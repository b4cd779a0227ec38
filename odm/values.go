package odm

import (
	"reflect"

	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/port/docstore"
)

// entityKey converts a mapped entity, given as pointer or value, into its key.
// The second result is false when v is not a mapped entity.
func (ds *Datastore) entityKey(v any) (Key, bool, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return Key{}, false, nil
	}
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() || !ds.Mapper.Registered(rv.Type().Elem()) {
			return Key{}, false, nil
		}
		key, err := ds.GetKey(v)
		return key, true, err
	}
	if rv.Kind() != reflect.Struct || !ds.Mapper.Registered(rv.Type()) {
		return Key{}, false, nil
	}
	ptr := reflect.New(rv.Type())
	ptr.Elem().Set(rv)
	key, err := ds.GetKey(ptr.Interface())
	return key, true, err
}

// refValue converts v into the handle stored by a reference field.
// Keys and mapped entities of the target type are accepted.
func (ds *Datastore) refValue(f *mapping.Field, v any) (docstore.Ref, error) {
	switch v := v.(type) {
	case docstore.Ref:
		return ds.checkRefTarget(f, v)
	case *docstore.Ref:
		if v == nil {
			return docstore.Ref{}, ErrQuery.F("%s: nil key", f.Name)
		}
		return ds.checkRefTarget(f, *v)
	}
	key, ok, err := ds.entityKey(v)
	if err != nil {
		return docstore.Ref{}, err
	}
	if !ok {
		return docstore.Ref{}, ErrQuery.F("%s expects a key or a %s, got %T", f.Name, f.Target, v)
	}
	return ds.checkRefTarget(f, key)
}

func (ds *Datastore) checkRefTarget(f *mapping.Field, ref docstore.Ref) (docstore.Ref, error) {
	td, err := ds.Mapper.Map(f.Target)
	if err != nil {
		return docstore.Ref{}, err
	}
	if ref.Collection != td.Collection {
		return docstore.Ref{}, ErrQuery.F("%s expects a key of %q, got %s", f.Name, td.Collection, ref)
	}
	return ref, nil
}

// scalarValue converts a filter or modification operand into a document value for the field.
// Mapped entities are converted into their keys.
func (ds *Datastore) scalarValue(f *mapping.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case mapping.KindReference, mapping.KindReferenceList:
		return ds.refValue(f, v)
	}
	key, ok, err := ds.entityKey(v)
	if err != nil {
		return nil, err
	}
	if ok {
		return key, nil
	}
	nv, err := docstore.Normalize(v)
	if err != nil {
		return nil, ErrQuery.F("%s: %w", f.Name, err)
	}
	return nv, nil
}

// listValues flattens a slice or array operand. Any other value is a single element list.
func listValues(v any) []any {
	if vs, ok := v.([]any); ok {
		return vs
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		vs := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			vs = append(vs, rv.Index(i).Interface())
		}
		return vs
	default:
		return []any{v}
	}
}
