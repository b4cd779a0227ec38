// Package postgresql is a docstore.Store on a PostgreSQL JSONB table.
//
// Filters narrow the scan in SQL on identifiers and exact string, bool and reference equality;
// the complete filter is then matched in process on the decoded documents.
package postgresql

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	uuid "github.com/satori/go.uuid"

	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/docstore"
)

// Store keeps the documents of every collection in the docmap_documents table.
// The table is created by Migrate.
type Store struct {
	Connection Connection
}

var (
	_ docstore.Store   = Store{}
	_ docstore.Indexer = Store{}
)

func (s Store) NewID(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewV4().String(), nil
}

func (s Store) Save(ctx context.Context, collection string, doc docstore.Document) (string, error) {
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
	const query = `INSERT INTO docmap_documents (collection, id, body) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body`
	if _, err := s.Connection.Pool.Exec(ctx, query, collection, id, string(body)); err != nil {
		return "", err
	}
	return id, nil
}

// Find reads every candidate row before yielding,
// so the consumer may call the store again while iterating without holding a pooled connection.
func (s Store) Find(ctx context.Context, collection string, query docstore.Query) iter.Seq2[docstore.Document, error] {
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
		rows, err := scan(ctx, s.Connection.Pool, collection, q.Filter, false)
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

func (s Store) Update(ctx context.Context, collection string, filter docstore.Filter, mod docstore.Modification, opts docstore.UpdateOptions) (docstore.UpdateResult, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	mod, err = mod.Normalize()
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	var n int
	err = s.Connection.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := scan(ctx, tx, collection, filter, true)
		if err != nil {
			return err
		}
		if !opts.Multi && 1 < len(rows) {
			rows = rows[:1]
		}
		for _, r := range rows {
			out, err := mod.Apply(r.doc)
			if err != nil {
				return err
			}
			body, err := docstore.Marshal(out)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `UPDATE docmap_documents SET body = $1::jsonb WHERE seq = $2`, string(body), r.seq); err != nil {
				return err
			}
		}
		n = len(rows)
		return nil
	})
	if err != nil {
		return docstore.UpdateResult{}, err
	}
	return docstore.UpdateResult{MatchedExisting: 0 < n, Matched: n}, nil
}

func (s Store) Delete(ctx context.Context, collection string, filter docstore.Filter) (int, error) {
	filter, err := filter.Normalize()
	if err != nil {
		return 0, err
	}
	var n int
	err = s.Connection.InTx(ctx, func(tx pgx.Tx) error {
		rows, err := scan(ctx, tx, collection, filter, true)
		if err != nil {
			return err
		}
		seqs := make([]int64, 0, len(rows))
		for _, r := range rows {
			seqs = append(seqs, r.seq)
		}
		if len(seqs) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, `DELETE FROM docmap_documents WHERE seq = ANY($1)`, seqs)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		return nil
	})
	return n, err
}

var indexNameCleaner = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// EnsureIndex creates a partial expression index on the JSON path of the key within the collection.
func (s Store) EnsureIndex(ctx context.Context, collection, key string) error {
	name := indexNameCleaner.ReplaceAllString(fmt.Sprintf("docmap_%s_%s", collection, key), "_")
	query := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON docmap_documents ((body #> %s)) WHERE collection = %s`,
		pgx.Identifier{name}.Sanitize(), quote(jsonPath(key)), quote(collection))
	_, err := s.Connection.Pool.Exec(ctx, query)
	return err
}

type row struct {
	seq int64
	doc docstore.Document
}

// scan returns the rows of the collection matching the normalised filter, in insertion order.
// With lock set, the rows are locked for the rest of the transaction.
func scan(ctx context.Context, q queryable, collection string, filter docstore.Filter, lock bool) ([]row, error) {
	query, args := selectQuery(collection, filter)
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var (
			r    row
			body []byte
		)
		if err := rows.Scan(&r.seq, &body); err != nil {
			return nil, err
		}
		r.doc, err = docstore.Unmarshal(body)
		if err != nil {
			return nil, err
		}
		if filter.Match(r.doc) {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

// selectQuery narrows the scan with the parts of the filter that SQL can evaluate exactly.
func selectQuery(collection string, filter docstore.Filter) (string, []any) {
	var (
		where = []string{"collection = $1"}
		args  = []any{collection}
	)
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if ids, ok := filter.IDs(); ok {
		where = append(where, fmt.Sprintf("id = ANY(%s)", param(ids)))
	}
	for _, c := range filter {
		if c.Op != docstore.OpEq || c.Field == docstore.IDKey {
			continue
		}
		switch c.Value.(type) {
		case string, bool, docstore.Ref:
		default:
			continue
		}
		v, err := docstore.MarshalValue(c.Value)
		if err != nil {
			continue
		}
		path, val := param(strings.Split(c.Field, ".")), param(string(v))
		where = append(where, fmt.Sprintf("(body #> %[1]s = %[2]s::jsonb OR body #> %[1]s @> jsonb_build_array(%[2]s::jsonb))", path, val))
	}
	return `SELECT seq, body FROM docmap_documents WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`, args
}

func jsonPath(key string) string {
	return "{" + strings.Join(strings.Split(key, "."), ",") + "}"
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
