package docstore_test

import (
	"math"
	"testing"
	"time"

	"go.llib.dev/testcase"
	"go.llib.dev/testcase/assert"

	"github.com/docmap/docmap/port/docstore"
)

func TestNormalize(t *testing.T) {
	type Number int16
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	str := "foo"

	for name, tc := range map[string]struct {
		In  any
		Out any
	}{
		"nil":             {In: nil, Out: nil},
		"int":             {In: 42, Out: int64(42)},
		"named int":       {In: Number(7), Out: int64(7)},
		"uint32":          {In: uint32(7), Out: int64(7)},
		"float32":         {In: float32(1.5), Out: float64(1.5)},
		"time in UTC":     {In: now, Out: now.UTC()},
		"pointer":         {In: &str, Out: "foo"},
		"nil pointer":     {In: (*string)(nil), Out: nil},
		"nil slice":       {In: []string(nil), Out: nil},
		"slice":           {In: []int{1, 2}, Out: []any{int64(1), int64(2)}},
		"string map":      {In: map[string]string{"a": "b"}, Out: docstore.Document{"a": "b"}},
		"nested document": {In: map[string]any{"a": []any{1}}, Out: docstore.Document{"a": []any{int64(1)}}},
		"ref":             {In: docstore.Ref{Collection: "c", ID: "1"}, Out: docstore.Ref{Collection: "c", ID: "1"}},
		"ref pointer":     {In: &docstore.Ref{Collection: "c", ID: "1"}, Out: docstore.Ref{Collection: "c", ID: "1"}},
		"nil ref pointer": {In: (*docstore.Ref)(nil), Out: nil},
		"array":           {In: [2]bool{true, false}, Out: []any{true, false}},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := docstore.Normalize(tc.In)
			assert.NoError(t, err)
			if !docstore.Equal(tc.Out, got) {
				t.Fatalf("expected %#v, got %#v", tc.Out, got)
			}
		})
	}

	t.Run("uint64 overflow", func(t *testing.T) {
		_, err := docstore.Normalize(uint64(math.MaxUint64))
		assert.ErrorIs(t, docstore.ErrInvalidDocument, err)
	})
	t.Run("non string map keys", func(t *testing.T) {
		_, err := docstore.Normalize(map[int]string{1: "a"})
		assert.ErrorIs(t, docstore.ErrInvalidDocument, err)
	})
	t.Run("unsupported type", func(t *testing.T) {
		_, err := docstore.Normalize(make(chan int))
		assert.ErrorIs(t, docstore.ErrInvalidDocument, err)
	})
}

func TestEqual(t *testing.T) {
	s := testcase.NewSpec(t)

	s.Test("numbers compare by value across int and float", func(t *testcase.T) {
		t.Must.True(docstore.Equal(int64(2), float64(2)))
		t.Must.False(docstore.Equal(int64(2), float64(2.5)))
	})

	s.Test("times compare by instant", func(t *testcase.T) {
		now := time.Now()
		t.Must.True(docstore.Equal(now, now.In(time.FixedZone("X", 7200))))
	})

	s.Test("nil only equals nil", func(t *testcase.T) {
		t.Must.True(docstore.Equal(nil, nil))
		t.Must.False(docstore.Equal(nil, ""))
		t.Must.False(docstore.Equal("", nil))
	})

	s.Test("documents compare deeply", func(t *testcase.T) {
		key := t.Random.String()
		a := docstore.Document{key: []any{int64(1), docstore.Document{"x": "y"}}}
		b := docstore.Document{key: []any{float64(1), docstore.Document{"x": "y"}}}
		t.Must.True(docstore.Equal(a, b))
		b[key].([]any)[1].(docstore.Document)["x"] = "z"
		t.Must.False(docstore.Equal(a, b))
	})
}

func TestCompare(t *testing.T) {
	c, ok := docstore.Compare(int64(1), float64(1.5))
	assert.True(t, ok)
	assert.Equal(t, -1, c)

	c, ok = docstore.Compare("b", "a")
	assert.True(t, ok)
	assert.Equal(t, 1, c)

	_, ok = docstore.Compare("1", int64(1))
	assert.False(t, ok)

	c, ok = docstore.Compare(nil, int64(0))
	assert.False(t, ok)
	assert.Equal(t, -1, c)
}

func TestDocument_Lookup(t *testing.T) {
	doc := docstore.Document{
		"_id":     "42",
		"address": docstore.Document{"city": "Budapest"},
		"tags":    []any{"a"},
	}

	id, ok := doc.ID()
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	v, ok := doc.Lookup("address.city")
	assert.True(t, ok)
	assert.Equal[any](t, "Budapest", v)

	_, ok = doc.Lookup("address.zip")
	assert.False(t, ok)

	_, ok = doc.Lookup("tags.city")
	assert.False(t, ok)
}

func TestDocument_Clone(t *testing.T) {
	doc := docstore.Document{"list": []any{docstore.Document{"a": int64(1)}}}
	clone := doc.Clone()
	clone["list"].([]any)[0].(docstore.Document)["a"] = int64(2)
	assert.Equal[any](t, int64(1), doc["list"].([]any)[0].(docstore.Document)["a"])
	assert.True(t, docstore.Document(nil).Clone() == nil)
}
