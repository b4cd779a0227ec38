package docstore

import (
	"iter"
	"slices"
	"strings"
)

type SortKey struct {
	Field string
	Desc  bool
}

// ParseSort reads sort keys in the "field" / "-field" notation.
func ParseSort(fields ...string) []SortKey {
	var keys []SortKey
	for _, f := range fields {
		for _, part := range strings.Split(f, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if name, ok := strings.CutPrefix(part, "-"); ok {
				keys = append(keys, SortKey{Field: name, Desc: true})
				continue
			}
			keys = append(keys, SortKey{Field: strings.TrimPrefix(part, "+")})
		}
	}
	return keys
}

type Query struct {
	Filter Filter
	Sort   []SortKey
	// Skip is the number of matching documents to skip.
	Skip int
	// Limit is the maximum number of documents returned; zero means no limit.
	Limit int
}

// Normalize validates the query and normalises its filter.
func (q Query) Normalize() (Query, error) {
	f, err := q.Filter.Normalize()
	if err != nil {
		return q, err
	}
	q.Filter = f
	if q.Skip < 0 || q.Limit < 0 {
		return q, ErrInvalidQuery.F("negative skip or limit: %d/%d", q.Skip, q.Limit)
	}
	for _, k := range q.Sort {
		if k.Field == "" {
			return q, ErrInvalidQuery.F("sort key without field name")
		}
	}
	return q, nil
}

// Run applies the normalised query to a sequence of candidate documents:
// filtering, sorting, skipping and limiting.
// Without sort keys the candidates are streamed; with sort keys they are buffered first.
func (q Query) Run(candidates iter.Seq2[Document, error]) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		var (
			skipped int
			emitted int
		)
		emit := func(doc Document) bool {
			if skipped < q.Skip {
				skipped++
				return true
			}
			if 0 < q.Limit && q.Limit <= emitted {
				return false
			}
			emitted++
			if !yield(doc, nil) {
				return false
			}
			return q.Limit == 0 || emitted < q.Limit
		}

		if len(q.Sort) == 0 {
			for doc, err := range candidates {
				if err != nil {
					yield(nil, err)
					return
				}
				if !q.Filter.Match(doc) {
					continue
				}
				if !emit(doc) {
					return
				}
			}
			return
		}

		var matched []Document
		for doc, err := range candidates {
			if err != nil {
				yield(nil, err)
				return
			}
			if q.Filter.Match(doc) {
				matched = append(matched, doc)
			}
		}
		SortDocuments(matched, q.Sort)
		for _, doc := range matched {
			if !emit(doc) {
				return
			}
		}
	}
}

// SortDocuments sorts documents in place by the sort keys. Missing fields sort as null.
func SortDocuments(docs []Document, keys []SortKey) {
	slices.SortStableFunc(docs, func(a, b Document) int {
		for _, k := range keys {
			av, _ := a.Lookup(k.Field)
			bv, _ := b.Lookup(k.Field)
			c, _ := Compare(av, bv)
			if c == 0 {
				continue
			}
			if k.Desc {
				return -c
			}
			return c
		}
		return 0
	})
}
