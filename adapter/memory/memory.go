// Package memory is an in-process docstore.Store.
// It is meant for tests and demos; documents live only as long as the Memory value.
package memory

import (
	"context"
	"iter"
	"slices"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/docstore"
)

func NewMemory() *Memory {
	return &Memory{}
}

// Memory keeps documents in namespaces, one namespace per collection.
// Stored documents are deep copies, callers never share state with the store.
type Memory struct {
	// MakeID [optional] generates the identifiers of new documents.
	//
	// default: random UUID v4
	MakeID func(context.Context) (string, error)

	mutex      sync.RWMutex
	namespaces map[string]*memoryNamespace
	indexes    map[string][]string
	serial     uint64
}

type memoryNamespace struct {
	docs map[string]memoryEntry
}

// memoryEntry keeps the insertion serial, so listing follows insertion order.
type memoryEntry struct {
	doc    docstore.Document
	serial uint64
}

var (
	_ docstore.Store   = &Memory{}
	_ docstore.Indexer = &Memory{}
)

func (m *Memory) NewID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.MakeID != nil {
		return m.MakeID(ctx)
	}
	return uuid.NewV4().String(), nil
}

func (m *Memory) Save(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	nv, err := docstore.Normalize(doc)
	if err != nil {
		return "", err
	}
	stored, ok := nv.(docstore.Document)
	if !ok {
		return "", docstore.ErrInvalidDocument.F("nil document")
	}
	if _, present := stored[docstore.IDKey]; present {
		if _, ok := stored.ID(); !ok {
			return "", docstore.ErrInvalidDocument.F("identifier must be a non empty string")
		}
	}
	id, ok := stored.ID()
	if !ok {
		id, err = m.NewID(ctx)
		if err != nil {
			return "", err
		}
		stored[docstore.IDKey] = id
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	ns := m.namespace(collection)
	entry, found := ns.docs[id]
	if !found {
		m.serial++
		entry.serial = m.serial
	}
	entry.doc = stored
	ns.docs[id] = entry
	return id, nil
}

func (m *Memory) Find(ctx context.Context, collection string, query docstore.Query) iter.Seq2[docstore.Document, error] {
	return func(yield func(docstore.Document, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		q, err := query.Normalize()
		if err != nil {
			yield(nil, err)
			return
		}
		for doc, err := range q.Run(iterkit.Slice(m.snapshot(collection))) {
			if err == nil {
				err = ctx.Err()
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (m *Memory) Update(ctx context.Context, collection string, filter docstore.Filter, mod docstore.Modification, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	if err := ctx.Err(); err != nil {
		return docstore.UpdateResult{}, err
	}
	filter, err := filter.Normalize()
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	mod, err = mod.Normalize()
	if err != nil {
		return docstore.UpdateResult{}, err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	ns := m.namespace(collection)
	updated := make(map[string]docstore.Document)
	for _, id := range ns.ids() {
		doc := ns.docs[id].doc
		if !filter.Match(doc) {
			continue
		}
		out, err := mod.Apply(doc)
		if err != nil {
			return docstore.UpdateResult{}, err
		}
		updated[id] = out
		if !opts.Multi {
			break
		}
	}
	for id, doc := range updated {
		entry := ns.docs[id]
		entry.doc = doc
		ns.docs[id] = entry
	}
	return docstore.UpdateResult{MatchedExisting: 0 < len(updated), Matched: len(updated)}, nil
}

func (m *Memory) Delete(ctx context.Context, collection string, filter docstore.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ns := m.namespace(collection)
	var n int
	for id, entry := range ns.docs {
		if filter.Match(entry.doc) {
			delete(ns.docs, id)
			n++
		}
	}
	return n, nil
}

// EnsureIndex records the index key. Lookups stay full scans.
func (m *Memory) EnsureIndex(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.indexes == nil {
		m.indexes = make(map[string][]string)
	}
	if !slices.Contains(m.indexes[collection], key) {
		m.indexes[collection] = append(m.indexes[collection], key)
	}
	return nil
}

// Indexes lists the index keys ensured on the collection.
func (m *Memory) Indexes(collection string) []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return slices.Clone(m.indexes[collection])
}

// snapshot copies the documents of the collection in insertion order.
func (m *Memory) snapshot(collection string) []docstore.Document {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	ns, ok := m.namespaces[collection]
	if !ok {
		return nil
	}
	ids := ns.ids()
	docs := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		docs = append(docs, ns.docs[id].doc.Clone())
	}
	return docs
}

// namespace returns the namespace of the collection. The caller holds the write lock.
func (m *Memory) namespace(collection string) *memoryNamespace {
	if m.namespaces == nil {
		m.namespaces = make(map[string]*memoryNamespace)
	}
	ns, ok := m.namespaces[collection]
	if !ok {
		ns = &memoryNamespace{docs: make(map[string]memoryEntry)}
		m.namespaces[collection] = ns
	}
	return ns
}

func (ns *memoryNamespace) ids() []string {
	ids := make([]string, 0, len(ns.docs))
	for id := range ns.docs {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return cmpSerial(ns.docs[a].serial, ns.docs[b].serial)
	})
	return ids
}

func cmpSerial(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
