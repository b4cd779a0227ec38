// Package docstore describes the document store collaborator of the mapper.
//
// A document store keeps schemaless documents grouped into collections.
// Every document carries its identifier under the IDKey field.
// The wire format, connection handling and storage engine belong to the implementations
// in the adapter packages; this package only defines the shared document model:
// documents, references, filters, queries and modifications.
package docstore

import (
	"context"
	"iter"

	"github.com/docmap/docmap/internal/errorkit"
)

// IDKey is the field name under which a document stores its identifier.
const IDKey = "_id"

const (
	ErrNotFound            errorkit.Error = "ErrNotFound"
	ErrInvalidDocument     errorkit.Error = "ErrInvalidDocument"
	ErrInvalidQuery        errorkit.Error = "ErrInvalidQuery"
	ErrInvalidModification errorkit.Error = "ErrInvalidModification"
)

// Store is the generic document store client used by the persistence session.
//
// Each call is independent. Ordering guarantees are limited to single document operations;
// no cross-document transaction is assumed.
type Store interface {
	// NewID generates a new unique document identifier.
	NewID(ctx context.Context) (string, error)
	// Save inserts the document or replaces the one with the same identifier.
	// When the document has no identifier, a new one is generated and returned.
	Save(ctx context.Context, collection string, doc Document) (id string, err error)
	// Find returns the documents of the collection that match the query.
	// Iterating the returned sequence again re-issues the query.
	Find(ctx context.Context, collection string, query Query) iter.Seq2[Document, error]
	// Update applies the modification atomically to the matching documents.
	// Without UpdateOptions.Multi only the first matching document is modified.
	Update(ctx context.Context, collection string, filter Filter, mod Modification, opts UpdateOptions) (UpdateResult, error)
	// Delete removes every matching document and reports how many were removed.
	Delete(ctx context.Context, collection string, filter Filter) (int, error)
}

// Indexer is an optional Store capability to create secondary indexes.
type Indexer interface {
	// EnsureIndex creates an index on the field key of the collection, if not already present.
	EnsureIndex(ctx context.Context, collection, key string) error
}

type UpdateOptions struct {
	// Multi makes the modification apply to every matching document.
	Multi bool
}

type UpdateResult struct {
	// MatchedExisting tells whether at least one existing document matched the filter.
	MatchedExisting bool
	// Matched is the number of documents the modification was applied to.
	Matched int
}

// Ref is a handle to a stored document: the collection it lives in and its identifier.
// Ref values are stored as they are, in place of an embedded copy of the referenced document.
type Ref struct {
	Collection string
	ID         string
}

func (r Ref) IsZero() bool { return r.Collection == "" && r.ID == "" }

func (r Ref) String() string { return r.Collection + "/" + r.ID }

// Document is a single stored record.
// Values are expected in their normalised form, see Normalize.
type Document map[string]any

// ID returns the identifier of the document.
func (doc Document) ID() (string, bool) {
	id, ok := doc[IDKey].(string)
	return id, ok && id != ""
}

// Lookup returns the value of a field.
// Dotted paths address fields of embedded documents.
func (doc Document) Lookup(path string) (any, bool) {
	return lookupPath(doc, path)
}

// Clone makes a deep copy of the document.
func (doc Document) Clone() Document {
	if doc == nil {
		return nil
	}
	return cloneValue(doc).(Document)
}
