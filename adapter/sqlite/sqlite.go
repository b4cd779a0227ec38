// Package sqlite is a docstore.Store on a single SQLite table, using the pure Go modernc driver.
//
// Documents are kept as extended JSON text next to their collection and identifier.
// Filters are matched in process, after narrowing the scan by collection and identifier.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"regexp"
	"strings"

	uuid "github.com/satori/go.uuid"
	_ "modernc.org/sqlite"

	"github.com/docmap/docmap/internal/errorkit"
	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/docstore"
)

const tableName = "docmap_documents"

const schema = `
CREATE TABLE IF NOT EXISTS docmap_documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	UNIQUE (collection, id)
)`

// Open opens or creates the database at path and prepares its schema.
// The ":memory:" path gives a private in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serialises writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Store{DB: db}, nil
}

type Store struct {
	DB *sql.DB
}

var (
	_ docstore.Store   = &Store{}
	_ docstore.Indexer = &Store{}
)

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) NewID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewV4().String(), nil
}

func (s *Store) Save(ctx context.Context, collection string, doc docstore.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, ok := doc.ID()
	if !ok {
		if _, present := doc[docstore.IDKey]; present {
			return "", docstore.ErrInvalidDocument.F("identifier must be a non empty string")
		}
		var err error
		id, err = s.NewID(ctx)
		if err != nil {
			return "", err
		}
		doc = doc.Clone()
		if doc == nil {
			doc = docstore.Document{}
		}
		doc[docstore.IDKey] = id
	}
	body, err := docstore.Marshal(doc)
	if err != nil {
		return "", err
	}
	const query = `INSERT INTO docmap_documents (collection, id, body) VALUES (?, ?, ?)
ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body`
	if _, err := s.DB.ExecContext(ctx, query, collection, id, string(body)); err != nil {
		return "", err
	}
	return id, nil
}

// Find reads every candidate row before yielding,
// so the consumer may call the store again while iterating.
func (s *Store) Find(ctx context.Context, collection string, query docstore.Query) iter.Seq2[docstore.Document, error] {
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
		rows, err := s.scan(ctx, s.DB, collection, q.Filter)
		if err != nil {
			yield(nil, err)
			return
		}
		docs := make([]docstore.Document, 0, len(rows))
		for _, r := range rows {
			docs = append(docs, r.doc)
		}
		for doc, err := range q.Run(iterkit.Slice(docs)) {
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

func (s *Store) Update(ctx context.Context, collection string, filter docstore.Filter, mod docstore.Modification, opts docstore.UpdateOptions) (_ docstore.UpdateResult, rErr error) {
	filter, err := filter.Normalize()
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	mod, err = mod.Normalize()
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	defer finishTx(&rErr, tx)

	rows, err := s.scan(ctx, tx, collection, filter)
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	if !opts.Multi && 1 < len(rows) {
		rows = rows[:1]
	}
	for _, r := range rows {
		out, err := mod.Apply(r.doc)
		if err != nil {
			return docstore.UpdateResult{}, err
		}
		body, err := docstore.Marshal(out)
		if err != nil {
			return docstore.UpdateResult{}, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE docmap_documents SET body = ? WHERE seq = ?`, string(body), r.seq); err != nil {
			return docstore.UpdateResult{}, err
		}
	}
	return docstore.UpdateResult{MatchedExisting: 0 < len(rows), Matched: len(rows)}, nil
}

func (s *Store) Delete(ctx context.Context, collection string, filter docstore.Filter) (_ int, rErr error) {
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer finishTx(&rErr, tx)

	rows, err := s.scan(ctx, tx, collection, filter)
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `DELETE FROM docmap_documents WHERE seq = ?`, r.seq); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

var indexNameCleaner = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// EnsureIndex creates a partial expression index on the JSON path of the key within the collection.
func (s *Store) EnsureIndex(ctx context.Context, collection, key string) error {
	name := indexNameCleaner.ReplaceAllString(fmt.Sprintf("%s_%s_%s", tableName, collection, key), "_")
	query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %s (json_extract(body, %s)) WHERE collection = %s`,
		name, tableName, quote("$."+key), quote(collection))
	_, err := s.DB.ExecContext(ctx, query)
	return err
}

type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type row struct {
	seq int64
	doc docstore.Document
}

// scan returns the rows of the collection matching the normalised filter, in insertion order.
func (s *Store) scan(ctx context.Context, q queryable, collection string, filter docstore.Filter) (_ []row, rErr error) {
	query := `SELECT seq, body FROM docmap_documents WHERE collection = ?`
	args := []any{collection}
	if ids, ok := filter.IDs(); ok {
		if len(ids) == 0 {
			return nil, nil
		}
		query += ` AND id IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY seq`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer errorkit.Finish(&rErr, rows.Close)

	var out []row
	for rows.Next() {
		var (
			r    row
			body string
		)
		if err := rows.Scan(&r.seq, &body); err != nil {
			return nil, err
		}
		r.doc, err = docstore.Unmarshal([]byte(body))
		if err != nil {
			return nil, err
		}
		if filter.Match(r.doc) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func finishTx(rErr *error, tx *sql.Tx) {
	if *rErr != nil {
		*rErr = errorkit.Merge(*rErr, tx.Rollback())
		return
	}
	*rErr = tx.Commit()
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
