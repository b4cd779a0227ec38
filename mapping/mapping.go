// Package mapping turns statically declared field tables into type mapping descriptors.
//
// A mapped entity is a plain struct. Its persisted shape is declared next to it
// with accessor functions instead of struct tags:
//
//	mapping.Entity[Employee]{
//		Collection: "employees",
//		Fields: []mapping.FieldDef[Employee]{
//			mapping.ID(func(e *Employee) *string { return &e.ID }),
//			mapping.Value("firstName", func(e *Employee) *string { return &e.FirstName }),
//			mapping.RefList("underlings", func(e *Employee) *[]*Employee { return &e.Underlings }),
//		},
//	}
//
// A Mapper validates the table once, on first use, and caches the resulting Descriptor.
package mapping

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/docmap/docmap/internal/errorkit"
)

const ErrMapping errorkit.Error = "ErrMapping"

// Kind tells how a field is persisted.
type Kind int

const (
	KindValue Kind = iota
	KindID
	KindEmbedded
	KindReference
	KindReferenceList
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindID:
		return "id"
	case KindEmbedded:
		return "embedded"
	case KindReference:
		return "reference"
	case KindReferenceList:
		return "reference-list"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Definition is a declared entity mapping that a Mapper can register.
type Definition interface {
	// Type is the mapped struct type.
	Type() reflect.Type
	definition() entitySpec
}

// Entity is the mapping table of the ENT struct type.
type Entity[ENT any] struct {
	// Collection is the name of the collection the entities are persisted into.
	Collection string
	Fields     []FieldDef[ENT]
}

func (e Entity[ENT]) Type() reflect.Type {
	return reflect.TypeOf((*ENT)(nil)).Elem()
}

func (e Entity[ENT]) definition() entitySpec {
	spec := entitySpec{typ: e.Type(), collection: e.Collection}
	for _, f := range e.Fields {
		spec.fields = append(spec.fields, f.spec)
	}
	return spec
}

// Embed is the mapping table of a struct stored as an embedded document.
type Embed[V any] struct {
	Fields []FieldDef[V]
}

// FieldDef declares a single field of the ENT struct.
// The option methods return a modified copy, so declarations can be chained.
type FieldDef[ENT any] struct {
	spec fieldSpec
}

// ID declares the identifier field. It is persisted under docstore.IDKey.
func ID[ENT any](ptr func(*ENT) *string) FieldDef[ENT] {
	return FieldDef[ENT]{spec: fieldSpec{
		name: "ID",
		key:  idKey,
		kind: KindID,
		typ:  reflect.TypeOf(""),
		addr: func(owner any) any { return ptr(owner.(*ENT)) },
	}}
}

// Value declares a field persisted as a plain document value.
func Value[ENT, V any](name string, ptr func(*ENT) *V) FieldDef[ENT] {
	return FieldDef[ENT]{spec: fieldSpec{
		name: name,
		key:  name,
		kind: KindValue,
		typ:  reflect.TypeOf((*V)(nil)).Elem(),
		addr: func(owner any) any { return ptr(owner.(*ENT)) },
	}}
}

// Embedded declares a struct field persisted as a nested document.
func Embedded[ENT, V any](name string, ptr func(*ENT) *V, embed Embed[V]) FieldDef[ENT] {
	spec := fieldSpec{
		name: name,
		key:  name,
		kind: KindEmbedded,
		typ:  reflect.TypeOf((*V)(nil)).Elem(),
		addr: func(owner any) any { return ptr(owner.(*ENT)) },
	}
	for _, f := range embed.Fields {
		spec.fields = append(spec.fields, f.spec)
	}
	return FieldDef[ENT]{spec: spec}
}

// Ref declares a field holding another mapped entity.
// It is persisted as a docstore.Ref and resolved back to an instance on load.
func Ref[ENT, T any](name string, ptr func(*ENT) **T) FieldDef[ENT] {
	return FieldDef[ENT]{spec: fieldSpec{
		name:   name,
		key:    name,
		kind:   KindReference,
		typ:    reflect.TypeOf((**T)(nil)).Elem(),
		target: reflect.TypeOf((*T)(nil)).Elem(),
		addr:   func(owner any) any { return ptr(owner.(*ENT)) },
	}}
}

// RefList declares a field holding a list of other mapped entities.
func RefList[ENT, T any](name string, ptr func(*ENT) *[]*T) FieldDef[ENT] {
	return FieldDef[ENT]{spec: fieldSpec{
		name:   name,
		key:    name,
		kind:   KindReferenceList,
		typ:    reflect.TypeOf((*[]*T)(nil)).Elem(),
		target: reflect.TypeOf((*T)(nil)).Elem(),
		addr:   func(owner any) any { return ptr(owner.(*ENT)) },
	}}
}

// As overrides the persisted key of the field.
func (f FieldDef[ENT]) As(key string) FieldDef[ENT] {
	f.spec.key = key
	return f
}

// Indexed marks the field as an index candidate for the document store.
func (f FieldDef[ENT]) Indexed() FieldDef[ENT] {
	f.spec.indexed = true
	return f
}

// NotSaved makes the field load-only: it is read from stored documents but never written.
func (f FieldDef[ENT]) NotSaved() FieldDef[ENT] {
	f.spec.notSaved = true
	return f
}

// Transient excludes the field from both saving and loading.
func (f FieldDef[ENT]) Transient() FieldDef[ENT] {
	f.spec.transient = true
	return f
}

// IgnoreMissing makes a reference field tolerate targets that no longer exist.
func (f FieldDef[ENT]) IgnoreMissing() FieldDef[ENT] {
	f.spec.ignoreMissing = true
	return f
}

const idKey = "_id"

type entitySpec struct {
	typ        reflect.Type
	collection string
	fields     []fieldSpec
}

func (spec entitySpec) signature() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s@%s", spec.typ, spec.collection)
	writeFieldSignatures(&b, spec.fields)
	return b.String()
}

func writeFieldSignatures(b *strings.Builder, fields []fieldSpec) {
	for _, f := range fields {
		fmt.Fprintf(b, "|%s:%s:%s:%v:%t%t%t%t:%v",
			f.name, f.key, f.kind, f.typ, f.indexed, f.notSaved, f.transient, f.ignoreMissing, f.target)
		if 0 < len(f.fields) {
			b.WriteString("{")
			writeFieldSignatures(b, f.fields)
			b.WriteString("}")
		}
	}
}

type fieldSpec struct {
	name          string
	key           string
	kind          Kind
	indexed       bool
	notSaved      bool
	transient     bool
	ignoreMissing bool
	typ           reflect.Type
	target        reflect.Type
	fields        []fieldSpec
	addr          func(owner any) any
}
