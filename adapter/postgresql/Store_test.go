package postgresql_test

import (
	"context"
	"os"
	"sync"
	"testing"

	"go.llib.dev/testcase"
	"go.llib.dev/testcase/assert"
	"go.llib.dev/testcase/random"

	"github.com/docmap/docmap/adapter/postgresql"
	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/port/docstore"
	"github.com/docmap/docmap/port/docstore/docstorecontract"
)

var rnd = random.New(random.CryptoSeed{})

var (
	connection      postgresql.Connection
	mutexConnection sync.Mutex
)

func DatabaseURL(tb testing.TB) string {
	const envKey = `DOCMAP_POSTGRES_URL`
	databaseURL, ok := os.LookupEnv(envKey)
	if !ok {
		tb.Skipf(`%s env variable is missing`, envKey)
	}
	return databaseURL
}

func GetConnection(tb testing.TB) postgresql.Connection {
	mutexConnection.Lock()
	defer mutexConnection.Unlock()
	if connection.Pool != nil {
		return connection
	}
	ctx := context.Background()
	c, err := postgresql.Connect(ctx, DatabaseURL(tb))
	assert.NoError(tb, err)
	assert.NoError(tb, postgresql.Migrate(ctx, c))
	connection = c
	return c
}

func TestStore(t *testing.T) {
	testcase.RunSuite(t, docstorecontract.Store(func(tb testing.TB) docstore.Store {
		return postgresql.Store{Connection: GetConnection(tb)}
	}))
}

func TestMigrate_idempotent(t *testing.T) {
	c := GetConnection(t)
	assert.NoError(t, postgresql.Migrate(context.Background(), c))
	assert.NoError(t, postgresql.Migrate(context.Background(), c))
}

func TestStore_Find_prefilter(t *testing.T) {
	var (
		ctx        = context.Background()
		store      = postgresql.Store{Connection: GetConnection(t)}
		collection = "prefilter_" + rnd.StringNC(8, "abcdefghijklmnopqrstuvwxyz")
	)
	t.Cleanup(func() { _, _ = store.Delete(context.Background(), collection, nil) })

	boss := docstore.Ref{Collection: "employees", ID: "boss"}
	for _, doc := range []docstore.Document{
		{docstore.IDKey: "1", "name": "Scott", "manager": boss, "tags": []any{"go", "sql"}, "home": docstore.Document{"city": "Budapest"}},
		{docstore.IDKey: "2", "name": "Alice", "tags": []any{"sql"}, "active": true},
		{docstore.IDKey: "3", "name": "Bob", "underlings": []any{boss}, "salary": int64(3)},
	} {
		_, err := store.Save(ctx, collection, doc)
		assert.NoError(t, err)
	}

	for name, tc := range map[string]struct {
		filter docstore.Filter
		ids    []string
	}{
		"string":           {filter: docstore.Filter{docstore.Eq("name", "Alice")}, ids: []string{"2"}},
		"list element":     {filter: docstore.Filter{docstore.Eq("tags", "sql")}, ids: []string{"1", "2"}},
		"reference":        {filter: docstore.Filter{docstore.Eq("manager", boss)}, ids: []string{"1"}},
		"reference list":   {filter: docstore.Filter{docstore.Eq("underlings", boss)}, ids: []string{"3"}},
		"bool":             {filter: docstore.Filter{docstore.Eq("active", true)}, ids: []string{"2"}},
		"embedded path":    {filter: docstore.Filter{docstore.Eq("home.city", "Budapest")}, ids: []string{"1"}},
		"number widths":    {filter: docstore.Filter{docstore.Eq("salary", 3.0)}, ids: []string{"3"}},
		"identifier in":    {filter: docstore.Filter{docstore.In(docstore.IDKey, "1", "3")}, ids: []string{"1", "3"}},
		"nothing matching": {filter: docstore.Filter{docstore.Eq("name", "Zed")}},
	} {
		t.Run(name, func(t *testing.T) {
			docs, err := iterkit.CollectErr(store.Find(ctx, collection, docstore.Query{Filter: tc.filter}))
			assert.NoError(t, err)
			var ids []string
			for _, doc := range docs {
				id, _ := doc.ID()
				ids = append(ids, id)
			}
			assert.Equal(t, tc.ids, ids)
		})
	}
}
