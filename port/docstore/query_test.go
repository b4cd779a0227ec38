package docstore_test

import (
	"errors"
	"testing"

	"go.llib.dev/testcase/assert"

	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/docstore"
)

func TestParseSort(t *testing.T) {
	assert.Equal(t, []docstore.SortKey{
		{Field: "salary", Desc: true},
		{Field: "lastName"},
		{Field: "age"},
	}, docstore.ParseSort("-salary, lastName", "+age"))
}

func TestQuery_Run(t *testing.T) {
	docs := []docstore.Document{
		{"_id": "1", "name": "c", "n": int64(3)},
		{"_id": "2", "name": "a", "n": int64(1)},
		{"_id": "3", "name": "b"},
		{"_id": "4", "name": "d", "n": int64(2)},
	}
	ids := func(tb testing.TB, q docstore.Query) []string {
		q, err := q.Normalize()
		assert.NoError(tb, err)
		vs, err := iterkit.CollectErr(q.Run(iterkit.Slice(docs)))
		assert.NoError(tb, err)
		var out []string
		for _, d := range vs {
			id, _ := d.ID()
			out = append(out, id)
		}
		return out
	}

	t.Run("without sort keeps candidate order", func(t *testing.T) {
		assert.Equal(t, []string{"1", "2", "3", "4"}, ids(t, docstore.Query{}))
	})
	t.Run("sort ascending puts missing first", func(t *testing.T) {
		assert.Equal(t, []string{"3", "2", "4", "1"}, ids(t, docstore.Query{Sort: docstore.ParseSort("n")}))
	})
	t.Run("sort descending", func(t *testing.T) {
		assert.Equal(t, []string{"4", "1", "3", "2"}, ids(t, docstore.Query{Sort: docstore.ParseSort("-name")}))
	})
	t.Run("skip and limit", func(t *testing.T) {
		assert.Equal(t, []string{"2", "3"}, ids(t, docstore.Query{Skip: 1, Limit: 2}))
		assert.Equal(t, []string{"4"}, ids(t, docstore.Query{Sort: docstore.ParseSort("name"), Skip: 3, Limit: 5}))
	})
	t.Run("filter before skip", func(t *testing.T) {
		q := docstore.Query{
			Filter: docstore.Filter{{Field: "n", Op: docstore.OpExists, Value: true}},
			Skip:   1,
		}
		assert.Equal(t, []string{"2", "4"}, ids(t, q))
	})
	t.Run("negative limit is rejected", func(t *testing.T) {
		_, err := docstore.Query{Limit: -1}.Normalize()
		assert.ErrorIs(t, docstore.ErrInvalidQuery, err)
	})
	t.Run("candidate error is yielded", func(t *testing.T) {
		expErr := errors.New("boom")
		_, err := iterkit.CollectErr(docstore.Query{}.Run(iterkit.Error[docstore.Document](expErr)))
		assert.ErrorIs(t, expErr, err)
	})
	t.Run("early break", func(t *testing.T) {
		var (
			n int
			q docstore.Query
		)
		for range q.Run(iterkit.Slice(docs)) {
			n++
			break
		}
		assert.Equal(t, 1, n)
	})
}
