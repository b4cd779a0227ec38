package odm

import (
	"context"
	"iter"
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/docmap/docmap/internal/errorkit"
	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/port/docstore"
)

// Query selects stored ENT entities.
//
// Builder methods record the criteria and return the same Query.
// Invalid criteria are reported by the terminal methods.
type Query[ENT any] struct {
	ds     *Datastore
	conds  []criteria
	sort   []string
	offset int
	limit  int
	errs   []error
}

type criteria struct {
	field string
	op    docstore.Op
	value any
}

// Find starts a query over the stored ENT entities.
func Find[ENT any](ds *Datastore) *Query[ENT] {
	return &Query[ENT]{ds: ds}
}

// FindBy starts a query for the entities whose field equals value.
// A mapped entity given as value is converted into its key.
func FindBy[ENT any](ds *Datastore, field string, value any) *Query[ENT] {
	return Find[ENT](ds).Field(field).Equal(value)
}

// Get returns the entity with the given identifier.
func Get[ENT any](ctx context.Context, ds *Datastore, id string) (ENT, bool, error) {
	return Find[ENT](ds).Field(docstore.IDKey).Equal(id).Get(ctx)
}

// Field starts a condition on the field, addressed by its declared name or persisted key.
// Dotted paths address fields of embedded documents.
func (q *Query[ENT]) Field(name string) *FieldEnd[ENT] {
	return &FieldEnd[ENT]{q: q, field: name}
}

var filterOperators = map[string]docstore.Op{
	"=":      docstore.OpEq,
	"==":     docstore.OpEq,
	"!=":     docstore.OpNe,
	"<>":     docstore.OpNe,
	">":      docstore.OpGt,
	">=":     docstore.OpGte,
	"<":      docstore.OpLt,
	"<=":     docstore.OpLte,
	"in":     docstore.OpIn,
	"nin":    docstore.OpNin,
	"exists": docstore.OpExists,
}

// Filter adds a condition written as "field" or "field op",
// where op is one of = == != <> > >= < <= in nin exists.
// Without operator the condition is an equality.
func (q *Query[ENT]) Filter(condition string, value any) *Query[ENT] {
	parts := strings.Fields(condition)
	switch len(parts) {
	case 1:
		return q.where(parts[0], docstore.OpEq, value)
	case 2:
		op, ok := filterOperators[strings.ToLower(parts[1])]
		if !ok {
			q.errs = append(q.errs, ErrQuery.F("unknown operator in %q", condition))
			return q
		}
		return q.where(parts[0], op, value)
	default:
		q.errs = append(q.errs, ErrQuery.F("invalid condition: %q", condition))
		return q
	}
}

func (q *Query[ENT]) where(field string, op docstore.Op, value any) *Query[ENT] {
	q.conds = append(q.conds, criteria{field: field, op: op, value: value})
	return q
}

// Order sorts the result by the given fields; a "-" prefix sorts descending.
func (q *Query[ENT]) Order(fields ...string) *Query[ENT] {
	q.sort = append(q.sort, fields...)
	return q
}

// Limit caps the number of returned entities. Zero means no limit.
func (q *Query[ENT]) Limit(n int) *Query[ENT] {
	if n < 0 {
		q.errs = append(q.errs, ErrQuery.F("negative limit: %d", n))
	}
	q.limit = n
	return q
}

// Offset skips the first n matching entities.
func (q *Query[ENT]) Offset(n int) *Query[ENT] {
	if n < 0 {
		q.errs = append(q.errs, ErrQuery.F("negative offset: %d", n))
	}
	q.offset = n
	return q
}

func (q *Query[ENT]) clone() *Query[ENT] {
	c := *q
	c.conds = append([]criteria(nil), q.conds...)
	c.sort = append([]string(nil), q.sort...)
	c.errs = append([]error(nil), q.errs...)
	return &c
}

func (q *Query[ENT]) compile() (*mapping.Descriptor, docstore.Query, error) {
	if err := errorkit.Merge(q.errs...); err != nil {
		return nil, docstore.Query{}, err
	}
	d, err := q.ds.Mapper.Map(reflect.TypeOf((*ENT)(nil)).Elem())
	if err != nil {
		return nil, docstore.Query{}, err
	}
	dq := docstore.Query{Skip: q.offset, Limit: q.limit}
	for _, c := range q.conds {
		cond, err := q.ds.condition(d, c)
		if err != nil {
			return nil, docstore.Query{}, err
		}
		dq.Filter = append(dq.Filter, cond)
	}
	for _, key := range docstore.ParseSort(q.sort...) {
		path, f, err := d.Path(key.Field)
		if err != nil {
			return nil, docstore.Query{}, ErrQuery.Wrap(err)
		}
		if f.Transient {
			return nil, docstore.Query{}, ErrQuery.F("cannot sort by transient field %s", f.Name)
		}
		dq.Sort = append(dq.Sort, docstore.SortKey{Field: path, Desc: key.Desc})
	}
	return d, dq, nil
}

func (ds *Datastore) condition(d *mapping.Descriptor, c criteria) (docstore.Condition, error) {
	path, f, err := d.Path(c.field)
	if err != nil {
		return docstore.Condition{}, ErrQuery.Wrap(err)
	}
	if f.Transient {
		return docstore.Condition{}, ErrQuery.F("cannot filter by transient field %s", f.Name)
	}
	cond := docstore.Condition{Field: path, Op: c.op}
	switch c.op {
	case docstore.OpExists:
		b, ok := c.value.(bool)
		if !ok {
			return cond, ErrQuery.F("%s exists expects a bool, got %T", f.Name, c.value)
		}
		cond.Value = b
	case docstore.OpIn, docstore.OpNin:
		vs := make([]any, 0)
		for _, e := range listValues(c.value) {
			v, err := ds.scalarValue(f, e)
			if err != nil {
				return cond, err
			}
			vs = append(vs, v)
		}
		cond.Value = vs
	default:
		v, err := ds.scalarValue(f, c.value)
		if err != nil {
			return cond, err
		}
		cond.Value = v
	}
	return cond, nil
}

// FieldEnd completes a condition started with Query.Field.
type FieldEnd[ENT any] struct {
	q     *Query[ENT]
	field string
}

// Equal matches when the field equals v, or when a list field contains v.
// A nil v matches absent and null fields.
func (f *FieldEnd[ENT]) Equal(v any) *Query[ENT] { return f.q.where(f.field, docstore.OpEq, v) }

func (f *FieldEnd[ENT]) NotEqual(v any) *Query[ENT] { return f.q.where(f.field, docstore.OpNe, v) }

func (f *FieldEnd[ENT]) GreaterThan(v any) *Query[ENT] { return f.q.where(f.field, docstore.OpGt, v) }

func (f *FieldEnd[ENT]) GreaterThanOrEq(v any) *Query[ENT] {
	return f.q.where(f.field, docstore.OpGte, v)
}

func (f *FieldEnd[ENT]) LessThan(v any) *Query[ENT] { return f.q.where(f.field, docstore.OpLt, v) }

func (f *FieldEnd[ENT]) LessThanOrEq(v any) *Query[ENT] { return f.q.where(f.field, docstore.OpLte, v) }

func (f *FieldEnd[ENT]) In(vs ...any) *Query[ENT] { return f.q.where(f.field, docstore.OpIn, vs) }

func (f *FieldEnd[ENT]) NotIn(vs ...any) *Query[ENT] { return f.q.where(f.field, docstore.OpNin, vs) }

func (f *FieldEnd[ENT]) Exists() *Query[ENT] { return f.q.where(f.field, docstore.OpExists, true) }

func (f *FieldEnd[ENT]) DoesNotExist() *Query[ENT] {
	return f.q.where(f.field, docstore.OpExists, false)
}

// HasThisOne matches list fields containing v.
func (f *FieldEnd[ENT]) HasThisOne(v any) *Query[ENT] { return f.Equal(v) }

// Iter runs the query and yields the matching entities with their references resolved.
// Every range over the returned sequence runs the query again.
func (q *Query[ENT]) Iter(ctx context.Context) iter.Seq2[ENT, error] {
	return func(yield func(ENT, error) bool) {
		var zero ENT
		d, dq, err := q.compile()
		if err != nil {
			yield(zero, err)
			return
		}
		q.ds.logger().Debug("query",
			zap.String("collection", d.Collection),
			zap.Int("conditions", len(dq.Filter)))
		r := q.ds.newResolver(ctx)
		for doc, err := range q.ds.Store.Find(ctx, d.Collection, dq) {
			if err != nil {
				yield(zero, err)
				return
			}
			ptr, err := r.load(d, doc, 0)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(*ptr.(*ENT), nil) {
				return
			}
		}
	}
}

// Get returns the first matching entity.
func (q *Query[ENT]) Get(ctx context.Context) (ENT, bool, error) {
	return iterkit.First(q.clone().Limit(1).Iter(ctx))
}

// List returns every matching entity.
func (q *Query[ENT]) List(ctx context.Context) ([]ENT, error) {
	var out []ENT
	for ent, err := range q.Iter(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

// Keys returns the keys of the matching entities without loading them.
func (q *Query[ENT]) Keys(ctx context.Context) ([]Key, error) {
	d, dq, err := q.compile()
	if err != nil {
		return nil, err
	}
	docs := q.ds.Store.Find(ctx, d.Collection, dq)
	return iterkit.CollectErr(iterkit.Map(docs, func(doc docstore.Document) (Key, error) {
		id, ok := doc.ID()
		if !ok {
			return Key{}, docstore.ErrInvalidDocument.F("%s document without identifier", d.Collection)
		}
		return Key{Collection: d.Collection, ID: id}, nil
	}))
}

// Count returns the number of matching entities.
func (q *Query[ENT]) Count(ctx context.Context) (int, error) {
	d, dq, err := q.compile()
	if err != nil {
		return 0, err
	}
	return iterkit.Count(q.ds.Store.Find(ctx, d.Collection, dq))
}

// Delete removes the matching entities and returns how many were removed.
func (q *Query[ENT]) Delete(ctx context.Context) (int, error) {
	d, filter, err := q.targetFilter(ctx)
	if err != nil {
		return 0, err
	}
	n, err := q.ds.Store.Delete(ctx, d.Collection, filter)
	if err != nil {
		return 0, err
	}
	q.ds.logger().Debug("documents deleted", zap.String("collection", d.Collection), zap.Int("count", n))
	return n, nil
}

// Update applies the operations atomically to each matching document.
func (q *Query[ENT]) Update(ctx context.Context, ops *UpdateOperations) (UpdateResult, error) {
	d, filter, err := q.targetFilter(ctx)
	if err != nil {
		return UpdateResult{}, err
	}
	return q.ds.update(ctx, d, filter, ops, true)
}

// targetFilter is the filter of the query.
// With offset or limit the matching identifiers are looked up first.
func (q *Query[ENT]) targetFilter(ctx context.Context) (*mapping.Descriptor, docstore.Filter, error) {
	d, dq, err := q.compile()
	if err != nil {
		return nil, nil, err
	}
	if dq.Skip == 0 && dq.Limit == 0 {
		return d, dq.Filter, nil
	}
	keys, err := q.Keys(ctx)
	if err != nil {
		return nil, nil, err
	}
	ids := make([]any, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key.ID)
	}
	return d, docstore.Filter{docstore.In(docstore.IDKey, ids...)}, nil
}
