package odm

import (
	"context"

	"go.uber.org/zap"

	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/port/docstore"
)

// resolver decodes documents into entities and resolves their references.
// Every stored document is decoded at most once per resolver,
// so reference cycles end up as pointer cycles between the loaded entities.
type resolver struct {
	ds     *Datastore
	ctx    context.Context
	loaded map[docstore.Ref]*loadedEntity
}

// loadedEntity is an entity decoded by the resolver,
// along with the shallowest depth it was reached at.
type loadedEntity struct {
	d     *mapping.Descriptor
	doc   docstore.Document
	ptr   any
	depth int
}

func (ds *Datastore) newResolver(ctx context.Context) *resolver {
	return &resolver{ds: ds, ctx: ctx, loaded: make(map[docstore.Ref]*loadedEntity)}
}

// load decodes the document into a new entity of the descriptor's type, or returns the already loaded one.
func (r *resolver) load(d *mapping.Descriptor, doc docstore.Document, depth int) (any, error) {
	id, ok := doc.ID()
	if !ok {
		return nil, docstore.ErrInvalidDocument.F("%s document without identifier", d.Collection)
	}
	key := Key{Collection: d.Collection, ID: id}
	if e, ok := r.loaded[key]; ok {
		return e.ptr, r.reach(e, depth)
	}
	e := &loadedEntity{d: d, doc: doc, ptr: d.New(), depth: depth}
	r.loaded[key] = e
	if err := d.SetID(e.ptr, id); err != nil {
		return nil, err
	}
	if err := mapping.DecodeFields(d.Fields, e.ptr, doc); err != nil {
		return nil, err
	}
	if err := r.resolveRefs(e); err != nil {
		return nil, err
	}
	return e.ptr, nil
}

// reach records that an already loaded entity is needed at the given depth.
// Reaching it closer to the top re-resolves its references,
// since MaxDepth may have cut them off at the depth it was first loaded at.
func (r *resolver) reach(e *loadedEntity, depth int) error {
	if e.depth <= depth {
		return nil
	}
	e.depth = depth
	return r.resolveRefs(e)
}

func (r *resolver) resolveRefs(e *loadedEntity) error {
	if 0 < r.ds.MaxDepth && r.ds.MaxDepth <= e.depth {
		return nil
	}
	for _, f := range e.d.Fields {
		if !f.Loaded() {
			continue
		}
		if f.Kind != mapping.KindReference && f.Kind != mapping.KindReferenceList {
			continue
		}
		refs, err := storedRefs(f, e.doc[f.Key])
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			continue
		}
		targets, err := r.resolve(f, refs, e.depth+1)
		if err != nil {
			return err
		}
		if err := f.SetRefs(e.ptr, targets); err != nil {
			return err
		}
	}
	return nil
}

// resolve returns the entities of the referenced documents, in reference order.
// Documents not loaded yet are fetched with a single query.
func (r *resolver) resolve(f *mapping.Field, refs []docstore.Ref, depth int) ([]any, error) {
	td, err := r.ds.Mapper.Map(f.Target)
	if err != nil {
		return nil, err
	}
	var (
		ids  []any
		seen = map[docstore.Ref]struct{}{}
	)
	for _, ref := range refs {
		if ref.Collection != td.Collection {
			return nil, ErrMissingReference.F("%s: %s is not a %s", f.Name, ref, td.Type)
		}
		if e, ok := r.loaded[ref]; ok {
			if err := r.reach(e, depth); err != nil {
				return nil, err
			}
			continue
		}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		ids = append(ids, ref.ID)
	}
	if 0 < len(ids) {
		q := docstore.Query{Filter: docstore.Filter{docstore.In(docstore.IDKey, ids...)}}
		docs, err := iterkit.CollectErr(r.ds.Store.Find(r.ctx, td.Collection, q))
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if _, err := r.load(td, doc, depth); err != nil {
				return nil, err
			}
		}
	}
	targets := make([]any, 0, len(refs))
	for _, ref := range refs {
		e, ok := r.loaded[ref]
		if !ok {
			if f.IgnoreMissing {
				r.ds.logger().Debug("missing reference ignored",
					zap.String("field", f.Name), zap.Stringer("key", ref))
				continue
			}
			return nil, ErrMissingReference.F("%s: %s", f.Name, ref)
		}
		targets = append(targets, e.ptr)
	}
	return targets, nil
}

func storedRefs(f *mapping.Field, v any) ([]docstore.Ref, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case docstore.Ref:
		return []docstore.Ref{v}, nil
	case []any:
		refs := make([]docstore.Ref, 0, len(v))
		for _, e := range v {
			if e == nil {
				continue
			}
			ref, ok := e.(docstore.Ref)
			if !ok {
				return nil, mapping.ErrMapping.F("%s: expected a reference, got %T", f.Name, e)
			}
			refs = append(refs, ref)
		}
		return refs, nil
	default:
		return nil, mapping.ErrMapping.F("%s: expected a reference, got %T", f.Name, v)
	}
}
