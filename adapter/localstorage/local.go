// Package localstorage is a docstore.Store kept in a single local bolt database file.
// Every collection is a bucket; documents are stored under their identifier
// as gzip compressed extended JSON. Ensured index keys are recorded in the
// indexBucket, one nested bucket per collection.
package localstorage

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"iter"
	"time"

	"github.com/boltdb/bolt"
	uuid "github.com/satori/go.uuid"

	"github.com/docmap/docmap/internal/errorkit"
	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/docstore"
)

func NewLocal(path string) (*Local, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &Local{DB: db, CompressionLevel: gzip.DefaultCompression}, nil
}

type Local struct {
	DB               *bolt.DB
	CompressionLevel int
}

var (
	_ docstore.Store   = &Local{}
	_ docstore.Indexer = &Local{}
)

const indexBucket = "docmap.indexes"

func (storage *Local) NewID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewV4().String(), nil
}

func (storage *Local) Save(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, ok := doc.ID()
	if !ok {
		if _, present := doc[docstore.IDKey]; present {
			return "", docstore.ErrInvalidDocument.F("identifier must be a non empty string")
		}
		var err error
		id, err = storage.NewID(ctx)
		if err != nil {
			return "", err
		}
		doc = doc.Clone()
		if doc == nil {
			doc = docstore.Document{}
		}
		doc[docstore.IDKey] = id
	}
	value, err := storage.Serialize(doc)
	if err != nil {
		return "", err
	}
	return id, storage.DB.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(id), value)
	})
}

// Find reads the matching documents in a single read transaction
// and streams them once the transaction is closed,
// so the consumer may call the store again while iterating.
func (storage *Local) Find(ctx context.Context, collection string, query docstore.Query) iter.Seq2[docstore.Document, error] {
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
		var docs []docstore.Document
		err = storage.DB.View(func(tx *bolt.Tx) error {
			return storage.forEach(ctx, tx, collection, func(_ []byte, doc docstore.Document) error {
				if q.Filter.Match(doc) {
					docs = append(docs, doc)
				}
				return nil
			})
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for doc, err := range q.Run(iterkit.Slice(docs)) {
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

func (storage *Local) Update(ctx context.Context, collection string, filter docstore.Filter, mod docstore.Modification, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
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
	var n int
	err = storage.DB.Update(func(tx *bolt.Tx) error {
		updated := make(map[string][]byte)
		err := storage.forEach(ctx, tx, collection, func(key []byte, doc docstore.Document) error {
			if !opts.Multi && 0 < len(updated) {
				return nil
			}
			if !filter.Match(doc) {
				return nil
			}
			out, err := mod.Apply(doc)
			if err != nil {
				return err
			}
			value, err := storage.Serialize(out)
			if err != nil {
				return err
			}
			updated[string(key)] = value
			return nil
		})
		if err != nil {
			return err
		}
		if len(updated) == 0 {
			return nil
		}
		bucket := tx.Bucket([]byte(collection))
		for key, value := range updated {
			if err := bucket.Put([]byte(key), value); err != nil {
				return err
			}
		}
		n = len(updated)
		return nil
	})
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	return docstore.UpdateResult{MatchedExisting: 0 < n, Matched: n}, nil
}

func (storage *Local) Delete(ctx context.Context, collection string, filter docstore.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	var n int
	err = storage.DB.Update(func(tx *bolt.Tx) error {
		var keys [][]byte
		err := storage.forEach(ctx, tx, collection, func(key []byte, doc docstore.Document) error {
			if filter.Match(doc) {
				keys = append(keys, append([]byte(nil), key...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		bucket := tx.Bucket([]byte(collection))
		for _, key := range keys {
			if err := bucket.Delete(key); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}

// EnsureIndex records the index key. Lookups stay bucket scans.
func (storage *Local) EnsureIndex(ctx context.Context, collection, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return storage.DB.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists([]byte(indexBucket))
		if err != nil {
			return err
		}
		keys, err := meta.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return err
		}
		return keys.Put([]byte(key), []byte{})
	})
}

// Indexes lists the index keys ensured on the collection, in key order.
func (storage *Local) Indexes(collection string) ([]string, error) {
	var out []string
	err := storage.DB.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(indexBucket))
		if meta == nil {
			return nil
		}
		keys := meta.Bucket([]byte(collection))
		if keys == nil {
			return nil
		}
		return keys.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// Close the Local database and release the file lock
func (storage *Local) Close() error {
	return storage.DB.Close()
}

func (storage *Local) forEach(ctx context.Context, tx *bolt.Tx, collection string, fn func(key []byte, doc docstore.Document) error) error {
	bucket := tx.Bucket([]byte(collection))
	if bucket == nil {
		return nil
	}
	return bucket.ForEach(func(key, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := storage.Deserialize(value)
		if err != nil {
			return err
		}
		return fn(key, doc)
	})
}

func (storage *Local) Serialize(doc docstore.Document) ([]byte, error) {
	data, err := docstore.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return storage.compress(data)
}

func (storage *Local) Deserialize(compressed []byte) (docstore.Document, error) {
	data, err := storage.decompress(compressed)
	if err != nil {
		return nil, err
	}
	return docstore.Unmarshal(data)
}

func (storage *Local) compress(serialized []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, storage.CompressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(serialized); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (storage *Local) decompress(compressed []byte) (_ []byte, rErr error) {
	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer errorkit.Finish(&rErr, reader.Close)
	return io.ReadAll(reader)
}
