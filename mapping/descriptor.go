package mapping

import (
	"reflect"
	"strings"

	"github.com/docmap/docmap/port/docstore"
)

// Descriptor is the validated, immutable mapping of a struct type.
type Descriptor struct {
	Type       reflect.Type
	Collection string
	// Fields are in declaration order, the identifier field included.
	Fields []*Field

	id *Field
}

// Field is a validated field mapping.
type Field struct {
	// Name is the declared name, Key is the persisted one.
	Name string
	Key  string
	Kind Kind

	Indexed       bool
	NotSaved      bool
	Transient     bool
	IgnoreMissing bool

	// Type is the Go type of the struct field.
	Type reflect.Type
	// Target is the referenced entity type of reference fields.
	Target reflect.Type
	// Fields holds the mapping of embedded documents.
	Fields []*Field

	addr func(owner any) any
}

// Field looks up a top level field by its declared name or its persisted key.
func (d *Descriptor) Field(name string) (*Field, bool) {
	f := lookupField(d.Fields, name)
	return f, f != nil
}

// IDField returns the identifier field.
func (d *Descriptor) IDField() *Field { return d.id }

// Path resolves a dotted path of declared names or persisted keys
// into the dotted persisted key path and the addressed field.
func (d *Descriptor) Path(path string) (string, *Field, error) {
	var (
		fields = d.Fields
		keys   []string
		field  *Field
	)
	parts := strings.Split(path, ".")
	for i, part := range parts {
		field = lookupField(fields, part)
		if field == nil {
			return "", nil, ErrMapping.F("%s has no field %q", d.Type, path)
		}
		keys = append(keys, field.Key)
		if i < len(parts)-1 {
			if field.Kind != KindEmbedded {
				return "", nil, ErrMapping.F("%s.%s is not an embedded document", d.Type, field.Name)
			}
			fields = field.Fields
		}
	}
	return strings.Join(keys, "."), field, nil
}

func lookupField(fields []*Field, name string) *Field {
	for _, f := range fields {
		if f.Name == name {
			return f
		}
	}
	for _, f := range fields {
		if f.Key == name {
			return f
		}
	}
	return nil
}

// New makes a new zero entity and returns a pointer to it.
func (d *Descriptor) New() any {
	return reflect.New(d.Type).Interface()
}

// Owns tells whether ptr is a non nil pointer to the mapped type.
func (d *Descriptor) Owns(ptr any) bool {
	rv := reflect.ValueOf(ptr)
	return rv.IsValid() && rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Type().Elem() == d.Type
}

// ID returns the identifier of the entity ptr points to.
func (d *Descriptor) ID(ptr any) (string, bool) {
	if !d.Owns(ptr) {
		return "", false
	}
	id := *d.id.addr(ptr).(*string)
	return id, id != ""
}

// SetID sets the identifier of the entity ptr points to.
func (d *Descriptor) SetID(ptr any, id string) error {
	if !d.Owns(ptr) {
		return ErrMapping.F("expected *%s, got %T", d.Type, ptr)
	}
	*d.id.addr(ptr).(*string) = id
	return nil
}

// Ref returns the store handle of the entity ptr points to.
func (d *Descriptor) Ref(ptr any) (docstore.Ref, bool) {
	id, ok := d.ID(ptr)
	if !ok {
		return docstore.Ref{}, false
	}
	return docstore.Ref{Collection: d.Collection, ID: id}, true
}

// Indexes lists the persisted key paths of the indexed fields.
func (d *Descriptor) Indexes() []string {
	return indexes(d.Fields, "")
}

func indexes(fields []*Field, prefix string) []string {
	var keys []string
	for _, f := range fields {
		if f.Transient {
			continue
		}
		if f.Indexed {
			keys = append(keys, prefix+f.Key)
		}
		if f.Kind == KindEmbedded {
			keys = append(keys, indexes(f.Fields, prefix+f.Key+".")...)
		}
	}
	return keys
}

// Persisted tells whether the field is written into documents.
func (f *Field) Persisted() bool { return !f.Transient && !f.NotSaved }

// Loaded tells whether the field is read from documents.
func (f *Field) Loaded() bool { return !f.Transient }

// IsList tells whether the persisted value of the field is a list.
func (f *Field) IsList() bool {
	switch f.Kind {
	case KindReferenceList:
		return true
	case KindValue:
		t := derefType(f.Type)
		return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
	default:
		return false
	}
}

// IsNumeric tells whether the persisted value of the field is a number.
func (f *Field) IsNumeric() bool {
	if f.Kind != KindValue {
		return false
	}
	return isNumberKind(derefType(f.Type).Kind())
}

// Check tells whether the normalised value could be loaded back into a value field.
func (f *Field) Check(v any) error {
	if f.Kind != KindValue {
		return nil
	}
	return checkAssign(f.Name, f.Type, v)
}

// CheckElem tells whether the normalised value could be loaded as an element of a list value field.
func (f *Field) CheckElem(v any) error {
	if f.Kind != KindValue || !f.IsList() {
		return nil
	}
	return checkAssign(f.Name, derefType(f.Type).Elem(), v)
}

// Increment converts an increment amount for the numeric field.
// Integer fields only take whole amounts, which are returned as int64.
func (f *Field) Increment(v any) (any, error) {
	if !f.IsNumeric() {
		return nil, ErrMapping.F("%s: cannot increment a non-numeric field", f.Name)
	}
	switch v.(type) {
	case int64, float64:
	default:
		return nil, ErrMapping.F("%s: increment by %T", f.Name, v)
	}
	switch derefType(f.Type).Kind() {
	case reflect.Float32, reflect.Float64:
		return v, nil
	}
	n, ok := asInt64(v)
	if !ok {
		return nil, ErrMapping.F("%s: cannot increment %s by %v", f.Name, f.Type, v)
	}
	return n, nil
}

func checkAssign(name string, t reflect.Type, v any) error {
	if err := assign(reflect.New(t).Elem(), v); err != nil {
		return ErrMapping.F("%s: %w", name, err)
	}
	return nil
}

// Addr returns the pointer to the field of the owner struct.
func (f *Field) Addr(owner any) any { return f.addr(owner) }

// Value reads the field from the owner struct as a normalised document value.
// Nil pointers, empty slices, empty maps and embedded documents without stored fields
// read as nil, meaning the field is not stored.
// Reference fields are not covered, see Refs.
func (f *Field) Value(owner any) (any, error) {
	switch f.Kind {
	case KindID:
		id := *f.addr(owner).(*string)
		if id == "" {
			return nil, nil
		}
		return id, nil
	case KindEmbedded:
		doc, err := EncodeFields(f.Fields, f.addr(owner))
		if err != nil || len(doc) == 0 {
			return nil, err
		}
		return doc, nil
	case KindValue:
		rv := reflect.ValueOf(f.addr(owner)).Elem()
		switch rv.Kind() {
		case reflect.Slice, reflect.Map:
			if rv.Len() == 0 {
				return nil, nil
			}
		}
		v, err := docstore.Normalize(rv.Interface())
		if err != nil {
			return nil, ErrMapping.F("%s: %w", f.Name, err)
		}
		return v, nil
	default:
		return nil, ErrMapping.F("%s is a %s field", f.Name, f.Kind)
	}
}

// SetValue writes a normalised document value into the field of the owner struct.
// A nil value resets the field to its zero value.
func (f *Field) SetValue(owner any, v any) error {
	switch f.Kind {
	case KindID:
		id, ok := v.(string)
		if v != nil && !ok {
			return ErrMapping.F("%s: identifier must be a string, got %T", f.Name, v)
		}
		*f.addr(owner).(*string) = id
		return nil
	case KindEmbedded:
		dst := f.addr(owner)
		reflect.ValueOf(dst).Elem().SetZero()
		if v == nil {
			return nil
		}
		doc, ok := v.(docstore.Document)
		if !ok {
			return ErrMapping.F("%s: expected an embedded document, got %T", f.Name, v)
		}
		return DecodeFields(f.Fields, dst, doc)
	case KindValue:
		if err := assign(reflect.ValueOf(f.addr(owner)).Elem(), v); err != nil {
			return ErrMapping.F("%s: %w", f.Name, err)
		}
		return nil
	default:
		return ErrMapping.F("%s is a %s field", f.Name, f.Kind)
	}
}

// Refs returns the non nil entity pointers held by a reference field.
func (f *Field) Refs(owner any) []any {
	rv := reflect.ValueOf(f.addr(owner)).Elem()
	switch f.Kind {
	case KindReference:
		if rv.IsNil() {
			return nil
		}
		return []any{rv.Interface()}
	case KindReferenceList:
		var out []any
		for i := 0; i < rv.Len(); i++ {
			if e := rv.Index(i); !e.IsNil() {
				out = append(out, e.Interface())
			}
		}
		return out
	default:
		return nil
	}
}

// SetRefs sets the entity pointers of a reference field.
// A single reference takes the first target, or nil when targets is empty.
func (f *Field) SetRefs(owner any, targets []any) error {
	ptrType := reflect.PointerTo(f.Target)
	for _, t := range targets {
		if reflect.TypeOf(t) != ptrType {
			return ErrMapping.F("%s: expected %s, got %T", f.Name, ptrType, t)
		}
	}
	rv := reflect.ValueOf(f.addr(owner)).Elem()
	switch f.Kind {
	case KindReference:
		if len(targets) == 0 {
			rv.SetZero()
			return nil
		}
		rv.Set(reflect.ValueOf(targets[0]))
		return nil
	case KindReferenceList:
		if len(targets) == 0 {
			rv.SetZero()
			return nil
		}
		list := reflect.MakeSlice(rv.Type(), len(targets), len(targets))
		for i, t := range targets {
			list.Index(i).Set(reflect.ValueOf(t))
		}
		rv.Set(list)
		return nil
	default:
		return ErrMapping.F("%s is a %s field", f.Name, f.Kind)
	}
}

// EncodeFields builds a document out of the persisted value and embedded fields of owner.
// Identifier and reference fields are left to the caller.
func EncodeFields(fields []*Field, owner any) (docstore.Document, error) {
	doc := docstore.Document{}
	for _, f := range fields {
		if !f.Persisted() {
			continue
		}
		switch f.Kind {
		case KindValue, KindEmbedded:
		default:
			continue
		}
		v, err := f.Value(owner)
		if err != nil {
			return nil, err
		}
		if v != nil {
			doc[f.Key] = v
		}
	}
	return doc, nil
}

// DecodeFields loads the value and embedded fields of owner from the document.
// Fields absent from the document are reset to their zero value.
func DecodeFields(fields []*Field, owner any, doc docstore.Document) error {
	for _, f := range fields {
		if !f.Loaded() {
			continue
		}
		switch f.Kind {
		case KindValue, KindEmbedded:
		default:
			continue
		}
		if err := f.SetValue(owner, doc[f.Key]); err != nil {
			return err
		}
	}
	return nil
}
