// Package odm is the persistence session of docmap.
//
// A Datastore saves, finds, updates and deletes mapped entities
// through a docstore.Store, using the descriptors of a mapping.Mapper
// to translate between entities and documents.
package odm

import (
	"context"
	"reflect"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docmap/docmap/internal/errorkit"
	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/port/docstore"
)

const (
	ErrNotPersisted     errorkit.Error = "ErrNotPersisted"
	ErrUpdate           errorkit.Error = "ErrUpdate"
	ErrMissingReference errorkit.Error = "ErrMissingReference"
	ErrQuery            errorkit.Error = "ErrQuery"
)

// Key is the store handle of a persisted entity.
type Key = docstore.Ref

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	// UpdatedExisting tells whether an existing document matched.
	UpdatedExisting bool
	// UpdatedCount is the number of modified documents.
	UpdatedCount int
}

type Datastore struct {
	Store  docstore.Store
	Mapper *mapping.Mapper
	// Logger [optional]
	//
	// default: zap.NewNop()
	Logger *zap.Logger
	// MaxDepth [optional] bounds how deep references are resolved on load.
	// Zero means unlimited; cycles are broken either way.
	MaxDepth int
}

type Option func(*Datastore)

func WithLogger(l *zap.Logger) Option {
	return func(ds *Datastore) { ds.Logger = l }
}

func WithMaxDepth(n int) Option {
	return func(ds *Datastore) { ds.MaxDepth = n }
}

func New(store docstore.Store, mapper *mapping.Mapper, opts ...Option) *Datastore {
	ds := &Datastore{Store: store, Mapper: mapper}
	for _, opt := range opts {
		opt(ds)
	}
	return ds
}

func (ds *Datastore) logger() *zap.Logger {
	if ds.Logger == nil {
		return zap.NewNop()
	}
	return ds.Logger
}

func (ds *Datastore) descriptor(ptr any) (*mapping.Descriptor, error) {
	t := reflect.TypeOf(ptr)
	if t == nil || t.Kind() != reflect.Pointer {
		return nil, mapping.ErrMapping.F("expected a pointer to a mapped entity, got %T", ptr)
	}
	d, err := ds.Mapper.Map(t)
	if err != nil {
		return nil, err
	}
	if !d.Owns(ptr) {
		return nil, mapping.ErrMapping.F("nil %T", ptr)
	}
	return d, nil
}

// Save stores the entity ptr points to and returns its key.
//
// When the entity has no identifier yet, a new one is requested from the store
// and assigned to the entity. If saving fails, the entity is left without identifier.
// Saving an entity that already has an identifier replaces the stored document.
func (ds *Datastore) Save(ctx context.Context, ptr any) (_ Key, rErr error) {
	d, err := ds.descriptor(ptr)
	if err != nil {
		return Key{}, err
	}
	doc, err := ds.encode(d, ptr)
	if err != nil {
		return Key{}, err
	}
	id, ok := d.ID(ptr)
	if !ok {
		id, err = ds.Store.NewID(ctx)
		if err != nil {
			return Key{}, err
		}
		if err := d.SetID(ptr, id); err != nil {
			return Key{}, err
		}
		defer errorkit.FinishOnError(&rErr, func() { _ = d.SetID(ptr, "") })
	}
	doc[docstore.IDKey] = id
	if _, err := ds.Store.Save(ctx, d.Collection, doc); err != nil {
		return Key{}, err
	}
	ds.logger().Debug("entity saved",
		zap.String("collection", d.Collection),
		zap.String("id", id),
		zap.Bool("new", !ok))
	return Key{Collection: d.Collection, ID: id}, nil
}

// SaveAll saves the entities concurrently and returns their keys in the same order.
// The same entity must not be passed twice.
func (ds *Datastore) SaveAll(ctx context.Context, ptrs ...any) ([]Key, error) {
	keys := make([]Key, len(ptrs))
	g, ctx := errgroup.WithContext(ctx)
	for i, ptr := range ptrs {
		g.Go(func() error {
			key, err := ds.Save(ctx, ptr)
			if err != nil {
				return err
			}
			keys[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

// GetKey returns the key of an already persisted entity.
func (ds *Datastore) GetKey(ptr any) (Key, error) {
	d, err := ds.descriptor(ptr)
	if err != nil {
		return Key{}, err
	}
	key, ok := d.Ref(ptr)
	if !ok {
		return Key{}, ErrNotPersisted.F("%s has no identifier", d.Type)
	}
	return key, nil
}

// Delete removes the stored document of the entity.
// The entity keeps its identifier.
func (ds *Datastore) Delete(ctx context.Context, ptr any) error {
	key, err := ds.GetKey(ptr)
	if err != nil {
		return err
	}
	n, err := ds.Store.Delete(ctx, key.Collection, docstore.ByID(key.ID))
	if err != nil {
		return err
	}
	if n == 0 {
		return docstore.ErrNotFound.F("%s", key)
	}
	ds.logger().Debug("entity deleted", zap.Stringer("key", key))
	return nil
}

// Update applies the operations atomically to the stored document of the entity.
// The entity itself is not modified.
func (ds *Datastore) Update(ctx context.Context, ptr any, ops *UpdateOperations) (UpdateResult, error) {
	d, err := ds.descriptor(ptr)
	if err != nil {
		return UpdateResult{}, err
	}
	id, ok := d.ID(ptr)
	if !ok {
		return UpdateResult{}, ErrNotPersisted.F("%s has no identifier", d.Type)
	}
	return ds.update(ctx, d, docstore.ByID(id), ops, false)
}

func (ds *Datastore) update(ctx context.Context, d *mapping.Descriptor, filter docstore.Filter, ops *UpdateOperations, multi bool) (UpdateResult, error) {
	mod, err := ops.compile(ds, d)
	if err != nil {
		return UpdateResult{}, err
	}
	res, err := ds.Store.Update(ctx, d.Collection, filter, mod, docstore.UpdateOptions{Multi: multi})
	if err != nil {
		return UpdateResult{}, err
	}
	ds.logger().Debug("documents updated",
		zap.String("collection", d.Collection),
		zap.Int("matched", res.Matched))
	return UpdateResult{UpdatedExisting: res.MatchedExisting, UpdatedCount: res.Matched}, nil
}

// EnsureIndexes creates the store indexes of the indexed fields.
// Without types, every registered type is covered.
// Stores without index support are left alone.
func (ds *Datastore) EnsureIndexes(ctx context.Context, types ...reflect.Type) error {
	indexer, ok := ds.Store.(docstore.Indexer)
	if !ok {
		ds.logger().Debug("store has no index support")
		return nil
	}
	if len(types) == 0 {
		types = ds.Mapper.Types()
	}
	for _, t := range types {
		d, err := ds.Mapper.Map(t)
		if err != nil {
			return err
		}
		for _, key := range d.Indexes() {
			if err := indexer.EnsureIndex(ctx, d.Collection, key); err != nil {
				return err
			}
			ds.logger().Debug("index ensured", zap.String("collection", d.Collection), zap.String("key", key))
		}
	}
	return nil
}

// encode builds the document of the entity, without identifier.
func (ds *Datastore) encode(d *mapping.Descriptor, ptr any) (docstore.Document, error) {
	doc, err := mapping.EncodeFields(d.Fields, ptr)
	if err != nil {
		return nil, err
	}
	for _, f := range d.Fields {
		if !f.Persisted() {
			continue
		}
		if f.Kind != mapping.KindReference && f.Kind != mapping.KindReferenceList {
			continue
		}
		targets := f.Refs(ptr)
		if len(targets) == 0 {
			continue
		}
		refs := make([]any, 0, len(targets))
		for _, target := range targets {
			ref, err := ds.keyOf(target)
			if err != nil {
				return nil, ErrNotPersisted.F("%s.%s: %w", d.Type, f.Name, err)
			}
			refs = append(refs, ref)
		}
		if f.Kind == mapping.KindReference {
			doc[f.Key] = refs[0]
		} else {
			doc[f.Key] = refs
		}
	}
	return doc, nil
}

func (ds *Datastore) keyOf(ptr any) (Key, error) {
	td, err := ds.descriptor(ptr)
	if err != nil {
		return Key{}, err
	}
	ref, ok := td.Ref(ptr)
	if !ok {
		return Key{}, ErrNotPersisted.F("referenced %s has no identifier", td.Type)
	}
	return ref, nil
}
