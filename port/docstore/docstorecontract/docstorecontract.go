// Package docstorecontract holds the behavioural contract of docstore.Store.
// Every adapter runs it against its own implementation.
package docstorecontract

import (
	"context"
	"fmt"
	"time"

	"go.llib.dev/testcase"

	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/contract"
	"github.com/docmap/docmap/port/docstore"
)

func Store(mk contract.Make[docstore.Store]) contract.Contract {
	s := testcase.NewSpec(nil)

	var (
		subject = testcase.Let(s, func(t *testcase.T) docstore.Store {
			return mk(t)
		})
		Context = testcase.Let(s, func(t *testcase.T) context.Context {
			return context.Background()
		})
		collection = testcase.Let(s, func(t *testcase.T) string {
			name := fmt.Sprintf("contract_%d", t.Random.IntBetween(1, 1<<30))
			store := subject.Get(t)
			t.Cleanup(func() {
				_, _ = store.Delete(context.Background(), name, nil)
			})
			return name
		})
	)

	save := func(t *testcase.T, doc docstore.Document) string {
		id, err := subject.Get(t).Save(Context.Get(t), collection.Get(t), doc)
		t.Must.NoError(err)
		t.Must.NotEmpty(id)
		return id
	}
	find := func(t *testcase.T, q docstore.Query) []docstore.Document {
		docs, err := iterkit.CollectErr(subject.Get(t).Find(Context.Get(t), collection.Get(t), q))
		t.Must.NoError(err)
		return docs
	}
	findByID := func(t *testcase.T, id string) (docstore.Document, bool) {
		doc, found, err := iterkit.First(subject.Get(t).Find(Context.Get(t), collection.Get(t), docstore.Query{Filter: docstore.ByID(id)}))
		t.Must.NoError(err)
		return doc, found
	}
	idsOf := func(docs []docstore.Document) []string {
		var ids []string
		for _, doc := range docs {
			id, _ := doc.ID()
			ids = append(ids, id)
		}
		return ids
	}

	s.Describe("NewID", func(s *testcase.Spec) {
		s.Then("it generates distinct non empty identifiers", func(t *testcase.T) {
			a, err := subject.Get(t).NewID(Context.Get(t))
			t.Must.NoError(err)
			b, err := subject.Get(t).NewID(Context.Get(t))
			t.Must.NoError(err)
			t.Must.NotEmpty(a)
			t.Must.NotEqual(a, b)
		})
	})

	s.Describe("Save", func(s *testcase.Spec) {
		s.When("the document has no identifier", func(s *testcase.Spec) {
			s.Then("a new identifier is generated and the document is findable with it", func(t *testcase.T) {
				name := t.Random.String()
				id := save(t, docstore.Document{"name": name})

				doc, found := findByID(t, id)
				t.Must.True(found)
				t.Must.Equal(any(name), doc["name"])
				t.Must.Equal(any(id), doc[docstore.IDKey])
			})
		})

		s.When("the document has an identifier that is already stored", func(s *testcase.Spec) {
			s.Then("the stored document is replaced", func(t *testcase.T) {
				id := save(t, docstore.Document{"name": "a", "extra": true})
				got := save(t, docstore.Document{docstore.IDKey: id, "name": "b"})
				t.Must.Equal(id, got)

				doc, found := findByID(t, id)
				t.Must.True(found)
				t.Must.Equal(any("b"), doc["name"])
				_, ok := doc["extra"]
				t.Must.False(ok)
				t.Must.Equal(1, len(find(t, docstore.Query{})))
			})
		})

		s.Then("the normalised value types survive the round trip", func(t *testcase.T) {
			started := time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC)
			exp := docstore.Document{
				"int":     int64(42),
				"float":   float64(3),
				"string":  "x",
				"bool":    true,
				"null":    nil,
				"time":    started,
				"ref":     docstore.Ref{Collection: "employees", ID: "e1"},
				"list":    []any{"a", int64(1), docstore.Ref{Collection: "employees", ID: "e2"}},
				"nested":  docstore.Document{"city": "Budapest", "zip": int64(1000)},
				"empty":   []any{},
				"deepest": docstore.Document{"a": docstore.Document{"b": []any{docstore.Document{"c": 1.5}}}},
			}
			id := save(t, exp.Clone())
			exp[docstore.IDKey] = id

			got, found := findByID(t, id)
			t.Must.True(found)
			t.Must.True(docstore.Equal(exp, got))
			t.Must.Equal(any(int64(42)), got["int"])
			t.Must.Equal(any(float64(3)), got["float"])
			t.Must.True(started.Equal(got["time"].(time.Time)))
		})

		s.Then("the caller's document is not retained", func(t *testcase.T) {
			doc := docstore.Document{"tags": []any{"a"}}
			id := save(t, doc)
			doc["tags"].([]any)[0] = "b"

			got, _ := findByID(t, id)
			t.Must.Equal(any("a"), got["tags"].([]any)[0])
		})

		s.When("the context is cancelled", func(s *testcase.Spec) {
			Context.Let(s, func(t *testcase.T) context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			})

			s.Then("it fails with the context error", func(t *testcase.T) {
				_, err := subject.Get(t).Save(Context.Get(t), collection.Get(t), docstore.Document{"a": int64(1)})
				t.Must.ErrorIs(context.Canceled, err)
			})
		})
	})

	s.Describe("Find", func(s *testcase.Spec) {
		s.Before(func(t *testcase.T) {
			save(t, docstore.Document{docstore.IDKey: "1", "name": "Scott", "salary": int64(95000), "tags": []any{"go"}})
			save(t, docstore.Document{docstore.IDKey: "2", "name": "Alice", "salary": int64(120000), "boss": docstore.Ref{Collection: "employees", ID: "1"}})
			save(t, docstore.Document{docstore.IDKey: "3", "name": "Bob", "salary": 80000.5, "boss": nil})
		})

		s.Then("an empty query lists every document of the collection", func(t *testcase.T) {
			t.Must.ContainExactly([]string{"1", "2", "3"}, idsOf(find(t, docstore.Query{})))
		})

		s.Then("documents of other collections are not listed", func(t *testcase.T) {
			other := collection.Get(t) + "_other"
			store := subject.Get(t)
			t.Cleanup(func() { _, _ = store.Delete(context.Background(), other, nil) })
			_, err := subject.Get(t).Save(Context.Get(t), other, docstore.Document{"name": "Scott"})
			t.Must.NoError(err)
			t.Must.Equal(1, len(find(t, docstore.Query{Filter: docstore.Filter{docstore.Eq("name", "Scott")}})))
		})

		s.Then("equality matches list elements", func(t *testcase.T) {
			t.Must.Equal([]string{"1"}, idsOf(find(t, docstore.Query{Filter: docstore.Filter{docstore.Eq("tags", "go")}})))
		})

		s.Then("equality with nil matches absent and null fields", func(t *testcase.T) {
			t.Must.ContainExactly([]string{"1", "3"}, idsOf(find(t, docstore.Query{Filter: docstore.Filter{docstore.Eq("boss", nil)}})))
		})

		s.Then("equality with a reference matches the referencing document", func(t *testcase.T) {
			q := docstore.Query{Filter: docstore.Filter{docstore.Eq("boss", docstore.Ref{Collection: "employees", ID: "1"})}}
			t.Must.Equal([]string{"2"}, idsOf(find(t, q)))
		})

		s.Then("range conditions compare numbers across widths", func(t *testcase.T) {
			q := docstore.Query{Filter: docstore.Filter{{Field: "salary", Op: docstore.OpGte, Value: 90000}}}
			t.Must.ContainExactly([]string{"1", "2"}, idsOf(find(t, q)))
		})

		s.Then("sort, skip and limit are applied in order", func(t *testcase.T) {
			q := docstore.Query{Sort: docstore.ParseSort("-salary"), Skip: 1, Limit: 1}
			t.Must.Equal([]string{"1"}, idsOf(find(t, q)))
		})

		s.Then("ranging the result again re-issues the query", func(t *testcase.T) {
			seq := subject.Get(t).Find(Context.Get(t), collection.Get(t), docstore.Query{})
			n, err := iterkit.Count(seq)
			t.Must.NoError(err)
			t.Must.Equal(3, n)

			save(t, docstore.Document{"name": "Dave"})
			n, err = iterkit.Count(seq)
			t.Must.NoError(err)
			t.Must.Equal(4, n)
		})

		s.Then("breaking the iteration early is supported", func(t *testcase.T) {
			for _, err := range subject.Get(t).Find(Context.Get(t), collection.Get(t), docstore.Query{}) {
				t.Must.NoError(err)
				break
			}
			t.Must.Equal(3, len(find(t, docstore.Query{})))
		})

		s.Then("an invalid query is reported through the sequence", func(t *testcase.T) {
			q := docstore.Query{Filter: docstore.Filter{{Field: "name", Op: "$regex", Value: "x"}}}
			_, err := iterkit.CollectErr(subject.Get(t).Find(Context.Get(t), collection.Get(t), q))
			t.Must.ErrorIs(docstore.ErrInvalidQuery, err)
		})

		s.When("the context is cancelled", func(s *testcase.Spec) {
			s.Then("the sequence yields the context error", func(t *testcase.T) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err := iterkit.CollectErr(subject.Get(t).Find(ctx, collection.Get(t), docstore.Query{}))
				t.Must.ErrorIs(context.Canceled, err)
			})
		})
	})

	s.Describe("Update", func(s *testcase.Spec) {
		s.Before(func(t *testcase.T) {
			save(t, docstore.Document{docstore.IDKey: "1", "team": "a", "n": int64(1), "refs": []any{}})
			save(t, docstore.Document{docstore.IDKey: "2", "team": "a", "n": int64(2)})
			save(t, docstore.Document{docstore.IDKey: "3", "team": "b", "n": int64(3)})
		})

		var (
			filter = testcase.Let(s, func(t *testcase.T) docstore.Filter {
				return docstore.Filter{docstore.Eq("team", "a")}
			})
			mod = testcase.Let(s, func(t *testcase.T) docstore.Modification {
				return docstore.Modification{{Op: docstore.ModInc, Field: "n", Value: 10}}
			})
			opts = testcase.Let(s, func(t *testcase.T) docstore.UpdateOptions {
				return docstore.UpdateOptions{}
			})
		)
		act := func(t *testcase.T) (docstore.UpdateResult, error) {
			return subject.Get(t).Update(Context.Get(t), collection.Get(t), filter.Get(t), mod.Get(t), opts.Get(t))
		}
		sumOfN := func(t *testcase.T) int64 {
			var sum int64
			for _, doc := range find(t, docstore.Query{}) {
				sum += doc["n"].(int64)
			}
			return sum
		}

		s.Then("only a single matching document is modified", func(t *testcase.T) {
			res, err := act(t)
			t.Must.NoError(err)
			t.Must.True(res.MatchedExisting)
			t.Must.Equal(1, res.Matched)
			t.Must.Equal(int64(16), sumOfN(t))
		})

		s.And("multi option is set", func(s *testcase.Spec) {
			opts.Let(s, func(t *testcase.T) docstore.UpdateOptions {
				return docstore.UpdateOptions{Multi: true}
			})

			s.Then("every matching document is modified", func(t *testcase.T) {
				res, err := act(t)
				t.Must.NoError(err)
				t.Must.Equal(2, res.Matched)
				t.Must.Equal(int64(26), sumOfN(t))
			})
		})

		s.And("nothing matches the filter", func(s *testcase.Spec) {
			filter.Let(s, func(t *testcase.T) docstore.Filter {
				return docstore.Filter{docstore.Eq("team", "z")}
			})

			s.Then("the result reports no existing match", func(t *testcase.T) {
				res, err := act(t)
				t.Must.NoError(err)
				t.Must.False(res.MatchedExisting)
				t.Must.Equal(0, res.Matched)
				t.Must.Equal(int64(6), sumOfN(t))
			})
		})

		s.And("a reference is added to a list field", func(s *testcase.Spec) {
			filter.Let(s, func(t *testcase.T) docstore.Filter { return docstore.ByID("1") })
			mod.Let(s, func(t *testcase.T) docstore.Modification {
				return docstore.Modification{{Op: docstore.ModAddToSet, Field: "refs", Value: []any{docstore.Ref{Collection: "c", ID: "2"}}}}
			})

			s.Then("the document is findable by the added element", func(t *testcase.T) {
				_, err := act(t)
				t.Must.NoError(err)
				_, err = act(t)
				t.Must.NoError(err)

				docs := find(t, docstore.Query{Filter: docstore.Filter{docstore.Eq("refs", docstore.Ref{Collection: "c", ID: "2"})}})
				t.Must.Equal([]string{"1"}, idsOf(docs))
				t.Must.Equal(1, len(docs[0]["refs"].([]any)))
			})
		})

		s.And("the modification fails on one of the fields", func(s *testcase.Spec) {
			filter.Let(s, func(t *testcase.T) docstore.Filter { return docstore.ByID("1") })
			mod.Let(s, func(t *testcase.T) docstore.Modification {
				return docstore.Modification{
					{Op: docstore.ModSet, Field: "n", Value: 100},
					{Op: docstore.ModAddToSet, Field: "team", Value: []any{"x"}},
				}
			})

			s.Then("the document is left untouched", func(t *testcase.T) {
				_, err := act(t)
				t.Must.ErrorIs(docstore.ErrInvalidModification, err)
				doc, _ := findByID(t, "1")
				t.Must.Equal(any(int64(1)), doc["n"])
			})
		})

		s.And("the modification is empty", func(s *testcase.Spec) {
			mod.Let(s, func(t *testcase.T) docstore.Modification { return nil })

			s.Then("it is rejected", func(t *testcase.T) {
				_, err := act(t)
				t.Must.ErrorIs(docstore.ErrInvalidModification, err)
			})
		})
	})

	s.Describe("Delete", func(s *testcase.Spec) {
		s.Before(func(t *testcase.T) {
			save(t, docstore.Document{docstore.IDKey: "1", "team": "a"})
			save(t, docstore.Document{docstore.IDKey: "2", "team": "a"})
			save(t, docstore.Document{docstore.IDKey: "3", "team": "b"})
		})

		s.Then("matching documents are removed and counted", func(t *testcase.T) {
			n, err := subject.Get(t).Delete(Context.Get(t), collection.Get(t), docstore.Filter{docstore.Eq("team", "a")})
			t.Must.NoError(err)
			t.Must.Equal(2, n)
			t.Must.Equal([]string{"3"}, idsOf(find(t, docstore.Query{})))
		})

		s.Then("deleting an absent document reports zero", func(t *testcase.T) {
			n, err := subject.Get(t).Delete(Context.Get(t), collection.Get(t), docstore.ByID("404"))
			t.Must.NoError(err)
			t.Must.Equal(0, n)
		})
	})

	s.Describe("EnsureIndex", func(s *testcase.Spec) {
		s.Then("it is idempotent when the store supports indexes", func(t *testcase.T) {
			indexer, ok := subject.Get(t).(docstore.Indexer)
			if !ok {
				t.Skip("store has no index support")
			}
			t.Must.NoError(indexer.EnsureIndex(Context.Get(t), collection.Get(t), "name"))
			t.Must.NoError(indexer.EnsureIndex(Context.Get(t), collection.Get(t), "name"))
			save(t, docstore.Document{"name": "indexed"})
			t.Must.Equal(1, len(find(t, docstore.Query{Filter: docstore.Filter{docstore.Eq("name", "indexed")}})))
		})
	})

	return s.AsSuite("Store")
}
