package mapping

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/docmap/docmap/internal/errorkit"
)

// Mapper holds the registered entity definitions and the descriptors built from them.
// The zero value is ready to use and safe for concurrent use.
type Mapper struct {
	// Logger [optional] receives the mapping decisions at debug level.
	//
	// default: zap.NewNop()
	Logger *zap.Logger

	mutex       sync.RWMutex
	defs        map[reflect.Type]entitySpec
	descriptors map[reflect.Type]*Descriptor
	group       singleflight.Group
}

// NewMapper makes a Mapper with the given definitions registered.
func NewMapper(logger *zap.Logger, defs ...Definition) (*Mapper, error) {
	m := &Mapper{Logger: logger}
	if err := m.Register(defs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mapper) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

// Register records entity definitions.
// Registering the same definition again is a no-op,
// registering a different definition for an already registered type fails with ErrMapping.
func (m *Mapper) Register(defs ...Definition) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.defs == nil {
		m.defs = make(map[reflect.Type]entitySpec)
	}
	var errs []error
	for _, def := range defs {
		spec := def.definition()
		if prev, ok := m.defs[spec.typ]; ok {
			if prev.signature() != spec.signature() {
				errs = append(errs, ErrMapping.F("%s is already registered with a different definition", spec.typ))
			}
			continue
		}
		m.defs[spec.typ] = spec
	}
	return errorkit.Merge(errs...)
}

// Registered tells whether the type has a definition.
func (m *Mapper) Registered(t reflect.Type) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.defs[derefType(t)]
	return ok
}

// Types lists the registered types ordered by name.
func (m *Mapper) Types() []reflect.Type {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var ts []reflect.Type
	for t := range m.defs {
		ts = append(ts, t)
	}
	slices.SortFunc(ts, func(a, b reflect.Type) int {
		return strings.Compare(a.String(), b.String())
	})
	return ts
}

// Of returns the descriptor of the ENT type.
func Of[ENT any](m *Mapper) (*Descriptor, error) {
	return m.Map(reflect.TypeOf((*ENT)(nil)).Elem())
}

// Map returns the descriptor of the type, building and caching it on first use.
// Pointer types are mapped as their element type.
// Concurrent calls for the same type build the descriptor once.
func (m *Mapper) Map(t reflect.Type) (*Descriptor, error) {
	if t == nil {
		return nil, ErrMapping.F("nil type")
	}
	t = derefType(t)
	if d, ok := m.cached(t); ok {
		return d, nil
	}
	v, err, _ := m.group.Do(fmt.Sprintf("%p", t), func() (any, error) {
		if d, ok := m.cached(t); ok {
			return d, nil
		}
		m.mutex.RLock()
		spec, ok := m.defs[t]
		var d *Descriptor
		var err error
		if ok {
			d, err = m.build(spec)
		}
		m.mutex.RUnlock()
		if !ok {
			return nil, ErrMapping.F("%s is not registered", t)
		}
		if err != nil {
			return nil, err
		}
		return m.store(d), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Descriptor), nil
}

func (m *Mapper) cached(t reflect.Type) (*Descriptor, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	d, ok := m.descriptors[t]
	return d, ok
}

func (m *Mapper) store(d *Descriptor) *Descriptor {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.descriptors == nil {
		m.descriptors = make(map[reflect.Type]*Descriptor)
	}
	if prev, ok := m.descriptors[d.Type]; ok {
		return prev
	}
	m.descriptors[d.Type] = d
	m.logger().Debug("entity mapped",
		zap.Stringer("type", d.Type),
		zap.String("collection", d.Collection),
		zap.Int("fields", len(d.Fields)))
	return d
}

// build validates the definition. The caller holds the read lock.
func (m *Mapper) build(spec entitySpec) (*Descriptor, error) {
	if spec.typ.Kind() != reflect.Struct {
		return nil, ErrMapping.F("%s is not a struct type", spec.typ)
	}
	d := &Descriptor{Type: spec.typ, Collection: spec.collection}
	var errs []error
	if spec.collection == "" {
		errs = append(errs, ErrMapping.F("%s: empty collection name", spec.typ))
	}
	fields, err := m.buildFields(spec.typ, spec.fields, false)
	if err != nil {
		errs = append(errs, err)
	}
	d.Fields = fields
	for _, f := range fields {
		if f.Kind != KindID {
			continue
		}
		if d.id != nil {
			errs = append(errs, ErrMapping.F("%s: more than one identifier field", spec.typ))
			continue
		}
		d.id = f
	}
	if d.id == nil {
		errs = append(errs, ErrMapping.F("%s: no identifier field", spec.typ))
	}
	if err := errorkit.Merge(errs...); err != nil {
		return nil, err
	}
	return d, nil
}

func (m *Mapper) buildFields(owner reflect.Type, specs []fieldSpec, embedded bool) ([]*Field, error) {
	var (
		errs   []error
		fields []*Field
		names  = map[string]struct{}{}
		keys   = map[string]struct{}{}
	)
	for _, spec := range specs {
		f, err := m.buildField(owner, spec, embedded)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := names[f.Name]; ok {
			errs = append(errs, ErrMapping.F("%s: duplicate field name %q", owner, f.Name))
		}
		names[f.Name] = struct{}{}
		if _, ok := keys[f.Key]; ok {
			errs = append(errs, ErrMapping.F("%s: duplicate persisted key %q", owner, f.Key))
		}
		keys[f.Key] = struct{}{}
		fields = append(fields, f)
	}
	return fields, errorkit.Merge(errs...)
}

func (m *Mapper) buildField(owner reflect.Type, spec fieldSpec, embedded bool) (*Field, error) {
	f := &Field{
		Name:          spec.name,
		Key:           spec.key,
		Kind:          spec.kind,
		Indexed:       spec.indexed,
		NotSaved:      spec.notSaved,
		Transient:     spec.transient,
		IgnoreMissing: spec.ignoreMissing,
		Type:          spec.typ,
		Target:        spec.target,
		addr:          spec.addr,
	}
	if f.Name == "" {
		return nil, ErrMapping.F("%s: field without a name", owner)
	}
	if err := checkKey(f); err != nil {
		return nil, ErrMapping.F("%s.%s: %w", owner, f.Name, err)
	}
	if f.Transient && (f.Indexed || f.NotSaved) {
		m.logger().Debug("transient field overrides other options",
			zap.Stringer("type", owner), zap.String("field", f.Name),
			zap.Bool("indexed", f.Indexed), zap.Bool("notSaved", f.NotSaved))
		f.Indexed, f.NotSaved = false, false
	}
	if f.NotSaved && f.Indexed {
		m.logger().Debug("load-only field is not indexed",
			zap.Stringer("type", owner), zap.String("field", f.Name))
		f.Indexed = false
	}
	if f.IgnoreMissing && f.Kind != KindReference && f.Kind != KindReferenceList {
		return nil, ErrMapping.F("%s.%s: only reference fields can ignore missing targets", owner, f.Name)
	}

	switch f.Kind {
	case KindID:
		if embedded {
			return nil, ErrMapping.F("%s.%s: embedded documents have no identifier", owner, f.Name)
		}
		if f.Transient || f.NotSaved {
			return nil, ErrMapping.F("%s.%s: the identifier is always persisted", owner, f.Name)
		}
	case KindValue:
		if err := checkValueType(f.Type); err != nil {
			return nil, ErrMapping.F("%s.%s: %w", owner, f.Name, err)
		}
	case KindEmbedded:
		if f.Type.Kind() != reflect.Struct {
			return nil, ErrMapping.F("%s.%s: embedded type %s is not a struct", owner, f.Name, f.Type)
		}
		fields, err := m.buildFields(f.Type, spec.fields, true)
		if err != nil {
			return nil, err
		}
		f.Fields = fields
	case KindReference, KindReferenceList:
		if embedded {
			return nil, ErrMapping.F("%s.%s: references are not supported in embedded documents", owner, f.Name)
		}
		if _, ok := m.defs[f.Target]; !ok {
			return nil, ErrMapping.F("%s.%s: referenced type %s is not registered", owner, f.Name, f.Target)
		}
	default:
		return nil, ErrMapping.F("%s.%s: unknown field kind %s", owner, f.Name, f.Kind)
	}
	return f, nil
}

func checkKey(f *Field) error {
	switch {
	case f.Key == "":
		return fmt.Errorf("empty persisted key")
	case strings.HasPrefix(f.Key, "$"):
		return fmt.Errorf("persisted key %q starts with $", f.Key)
	case strings.Contains(f.Key, "."):
		return fmt.Errorf("persisted key %q contains a dot", f.Key)
	case f.Key == idKey && f.Kind != KindID:
		return fmt.Errorf("persisted key %q is reserved for the identifier", f.Key)
	case f.Kind == KindID && f.Key != idKey:
		return fmt.Errorf("the identifier is persisted as %q", idKey)
	default:
		return nil
	}
}
