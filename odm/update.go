package odm

import (
	"reflect"

	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/port/docstore"
)

// UpdateOperations is a set of field modifications applied together, atomically.
// Fields are addressed by declared name or persisted key; dotted paths reach into embedded documents.
type UpdateOperations struct {
	ops []updateOp
}

type updateOp struct {
	op    docstore.ModOp
	field string
	value any
}

func NewUpdateOperations() *UpdateOperations {
	return &UpdateOperations{}
}

func (u *UpdateOperations) add(op docstore.ModOp, field string, value any) *UpdateOperations {
	u.ops = append(u.ops, updateOp{op: op, field: field, value: value})
	return u
}

// Set replaces the value of the field.
func (u *UpdateOperations) Set(field string, value any) *UpdateOperations {
	return u.add(docstore.ModSet, field, value)
}

// Unset removes the field from the document.
func (u *UpdateOperations) Unset(field string) *UpdateOperations {
	return u.add(docstore.ModUnset, field, nil)
}

// Inc adds the amount to a numeric field.
func (u *UpdateOperations) Inc(field string, amount any) *UpdateOperations {
	return u.add(docstore.ModInc, field, amount)
}

// Add appends the value to a list field unless the list already contains it.
func (u *UpdateOperations) Add(field string, value any) *UpdateOperations {
	return u.add(docstore.ModAddToSet, field, []any{value})
}

// AddDup appends the value to a list field, even if the list already contains it.
func (u *UpdateOperations) AddDup(field string, value any) *UpdateOperations {
	return u.add(docstore.ModPush, field, []any{value})
}

// AddAll appends every element of values to a list field.
// Unless addDups is set, elements already in the list are skipped.
func (u *UpdateOperations) AddAll(field string, values any, addDups bool) *UpdateOperations {
	op := docstore.ModAddToSet
	if addDups {
		op = docstore.ModPush
	}
	return u.add(op, field, listValues(values))
}

// RemoveAll removes every occurrence of the values from a list field.
func (u *UpdateOperations) RemoveAll(field string, values ...any) *UpdateOperations {
	return u.add(docstore.ModPullAll, field, values)
}

func (u *UpdateOperations) compile(ds *Datastore, d *mapping.Descriptor) (docstore.Modification, error) {
	if u == nil || len(u.ops) == 0 {
		return nil, ErrUpdate.F("no update operations")
	}
	mod := make(docstore.Modification, 0, len(u.ops))
	for _, op := range u.ops {
		m, err := ds.compileUpdateOp(d, op)
		if err != nil {
			return nil, err
		}
		mod = append(mod, m)
	}
	return mod, nil
}

func (ds *Datastore) compileUpdateOp(d *mapping.Descriptor, op updateOp) (docstore.Mod, error) {
	path, f, err := d.Path(op.field)
	if err != nil {
		return docstore.Mod{}, ErrUpdate.Wrap(err)
	}
	switch {
	case f.Kind == mapping.KindID:
		return docstore.Mod{}, ErrUpdate.F("%s: the identifier cannot be modified", f.Name)
	case f.Transient:
		return docstore.Mod{}, ErrUpdate.F("%s: transient fields are not stored", f.Name)
	case f.NotSaved:
		return docstore.Mod{}, ErrUpdate.F("%s: load-only fields are not written", f.Name)
	}
	mod := docstore.Mod{Op: op.op, Field: path}

	switch op.op {
	case docstore.ModUnset:
		return mod, nil

	case docstore.ModSet:
		v, err := ds.setValue(f, op.value)
		if err != nil {
			return mod, err
		}
		if v == nil && f.Kind == mapping.KindEmbedded {
			mod.Op = docstore.ModUnset
			return mod, nil
		}
		mod.Value = v
		return mod, nil

	case docstore.ModInc:
		v, err := docstore.Normalize(op.value)
		if err != nil {
			return mod, ErrUpdate.F("%s: %w", f.Name, err)
		}
		amount, err := f.Increment(v)
		if err != nil {
			return mod, ErrUpdate.Wrap(err)
		}
		mod.Value = amount
		return mod, nil

	default:
		if !f.IsList() {
			return mod, ErrUpdate.F("%s: %s needs a list field", f.Name, op.op)
		}
		elems, err := ds.listElems(f, op.value.([]any))
		if err != nil {
			return mod, err
		}
		mod.Value = elems
		return mod, nil
	}
}

// listElems converts the elements added to or removed from a list field.
func (ds *Datastore) listElems(f *mapping.Field, values []any) ([]any, error) {
	out := make([]any, 0, len(values))
	for _, v := range values {
		if f.Kind == mapping.KindReferenceList {
			ref, err := ds.refValue(f, v)
			if err != nil {
				return nil, ErrUpdate.Wrap(err)
			}
			out = append(out, ref)
			continue
		}
		nv, err := docstore.Normalize(v)
		if err != nil {
			return nil, ErrUpdate.F("%s: %w", f.Name, err)
		}
		if err := f.CheckElem(nv); err != nil {
			return nil, ErrUpdate.Wrap(err)
		}
		out = append(out, nv)
	}
	return out, nil
}

// setValue converts the new value of a field.
func (ds *Datastore) setValue(f *mapping.Field, v any) (any, error) {
	switch f.Kind {
	case mapping.KindReference:
		if v == nil {
			return nil, nil
		}
		ref, err := ds.refValue(f, v)
		if err != nil {
			return nil, ErrUpdate.Wrap(err)
		}
		return ref, nil
	case mapping.KindReferenceList:
		return ds.listElems(f, listValues(v))
	case mapping.KindEmbedded:
		if v == nil {
			return nil, nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			rv = rv.Elem()
		}
		if rv.Type() != f.Type {
			return nil, ErrUpdate.F("%s: expected %s, got %T", f.Name, f.Type, v)
		}
		ptr := reflect.New(f.Type)
		ptr.Elem().Set(rv)
		doc, err := mapping.EncodeFields(f.Fields, ptr.Interface())
		if err != nil {
			return nil, ErrUpdate.Wrap(err)
		}
		if len(doc) == 0 {
			return nil, nil
		}
		return doc, nil
	default:
		nv, err := ds.scalarValue(f, v)
		if err != nil {
			return nil, ErrUpdate.Wrap(err)
		}
		if err := f.Check(nv); err != nil {
			return nil, ErrUpdate.Wrap(err)
		}
		return nv, nil
	}
}
