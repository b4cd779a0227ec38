package odm_test

import (
	"context"
	"testing"

	"go.llib.dev/testcase"
	"go.llib.dev/testcase/assert"

	"github.com/docmap/docmap/internal/employees"
	"github.com/docmap/docmap/internal/iterkit"
	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/odm"
)

func TestQuery(t *testing.T) {
	s := testcase.NewSpec(t)

	var (
		ctx = context.Background()
		ds  = testcase.Let(s, func(t *testcase.T) *odm.Datastore {
			return newDatastore(t, nil)
		})
		members = testcase.Let(s, func(t *testcase.T) []*Member {
			var ms []*Member
			for i, name := range []string{"Ann", "Bob", "Cid", "Dan"} {
				m := &Member{Name: name, Age: 20 + i*10}
				_, err := ds.Get(t).Save(ctx, m)
				t.Must.NoError(err)
				ms = append(ms, m)
			}
			return ms
		}).EagerLoading(s)
	)
	names := func(t *testcase.T, q *odm.Query[Member]) []string {
		list, err := q.List(ctx)
		t.Must.NoError(err)
		var out []string
		for _, m := range list {
			out = append(out, m.Name)
		}
		return out
	}

	s.Then("field conditions select the matching entities", func(t *testcase.T) {
		find := func() *odm.Query[Member] { return odm.Find[Member](ds.Get(t)) }
		t.Must.Equal([]string{"Bob"}, names(t, find().Field("name").Equal("Bob")))
		t.Must.Equal([]string{"Ann", "Cid", "Dan"}, names(t, find().Field("name").NotEqual("Bob")))
		t.Must.Equal([]string{"Cid", "Dan"}, names(t, find().Field("age").GreaterThan(30)))
		t.Must.Equal([]string{"Bob", "Cid", "Dan"}, names(t, find().Field("age").GreaterThanOrEq(30)))
		t.Must.Equal([]string{"Ann"}, names(t, find().Field("age").LessThan(30)))
		t.Must.Equal([]string{"Ann", "Bob"}, names(t, find().Field("age").LessThanOrEq(30)))
		t.Must.Equal([]string{"Ann", "Dan"}, names(t, find().Field("name").In("Ann", "Dan")))
		t.Must.Equal([]string{"Bob", "Cid"}, names(t, find().Field("name").NotIn("Ann", "Dan")))
		t.Must.Equal([]string{"Bob"}, names(t, find().Field("age").GreaterThan(20).Field("age").LessThan(40).Field("name").NotEqual("Cid")))
	})

	s.Then("filter conditions accept the operator in the field expression", func(t *testcase.T) {
		find := func() *odm.Query[Member] { return odm.Find[Member](ds.Get(t)) }
		t.Must.Equal([]string{"Cid"}, names(t, find().Filter("name", "Cid")))
		t.Must.Equal([]string{"Cid"}, names(t, find().Filter("name ==", "Cid")))
		t.Must.Equal([]string{"Ann", "Bob", "Dan"}, names(t, find().Filter("name <>", "Cid")))
		t.Must.Equal([]string{"Dan"}, names(t, find().Filter("age >", 40)))
		t.Must.Equal([]string{"Ann", "Bob"}, names(t, find().Filter("age <", 40)))
		t.Must.Equal([]string{"Ann", "Bob"}, names(t, find().Filter("name in", []string{"Ann", "Bob"})))
		t.Must.Equal([]string{"Cid", "Dan"}, names(t, find().Filter("name nin", []string{"Ann", "Bob"})))
		t.Must.Equal([]string{"Ann", "Bob", "Cid", "Dan"}, names(t, find().Filter("name exists", true)))
		t.Must.Empty(names(t, find().Filter("team exists", true)))
	})

	s.Then("order, offset and limit are applied", func(t *testcase.T) {
		q := odm.Find[Member](ds.Get(t)).Order("-age").Offset(1).Limit(2)
		t.Must.Equal([]string{"Cid", "Bob"}, names(t, q))
	})

	s.Then("get returns the first match", func(t *testcase.T) {
		m, found, err := odm.Find[Member](ds.Get(t)).Order("name").Get(ctx)
		t.Must.NoError(err)
		t.Must.True(found)
		t.Must.Equal("Ann", m.Name)

		_, found, err = odm.Find[Member](ds.Get(t)).Field("name").Equal("Zed").Get(ctx)
		t.Must.NoError(err)
		t.Must.False(found)
	})

	s.Then("keys and count do not load the entities", func(t *testcase.T) {
		keys, err := odm.Find[Member](ds.Get(t)).Field("age").GreaterThan(30).Order("age").Keys(ctx)
		t.Must.NoError(err)
		t.Must.Equal([]odm.Key{
			{Collection: "members", ID: members.Get(t)[2].ID},
			{Collection: "members", ID: members.Get(t)[3].ID},
		}, keys)

		n, err := odm.Find[Member](ds.Get(t)).Field("age").GreaterThan(30).Count(ctx)
		t.Must.NoError(err)
		t.Must.Equal(2, n)
	})

	s.Then("iterating again re-issues the query", func(t *testcase.T) {
		seq := odm.Find[Member](ds.Get(t)).Iter(ctx)
		n, err := iterkit.Count(seq)
		t.Must.NoError(err)
		t.Must.Equal(4, n)

		_, err = ds.Get(t).Save(ctx, randomMember())
		t.Must.NoError(err)
		n, err = iterkit.Count(seq)
		t.Must.NoError(err)
		t.Must.Equal(5, n)
	})

	s.Then("delete removes the matching entities", func(t *testcase.T) {
		n, err := odm.Find[Member](ds.Get(t)).Field("age").LessThan(40).Delete(ctx)
		t.Must.NoError(err)
		t.Must.Equal(2, n)
		t.Must.Equal([]string{"Cid", "Dan"}, names(t, odm.Find[Member](ds.Get(t))))
	})

	s.Then("delete with a limit removes only the limited selection", func(t *testcase.T) {
		n, err := odm.Find[Member](ds.Get(t)).Order("-age").Limit(1).Delete(ctx)
		t.Must.NoError(err)
		t.Must.Equal(1, n)
		t.Must.Equal([]string{"Ann", "Bob", "Cid"}, names(t, odm.Find[Member](ds.Get(t))))
	})

	s.Then("update modifies every matching entity", func(t *testcase.T) {
		res, err := odm.Find[Member](ds.Get(t)).Field("age").GreaterThanOrEq(30).
			Update(ctx, odm.NewUpdateOperations().Inc("age", 1))
		t.Must.NoError(err)
		t.Must.True(res.UpdatedExisting)
		t.Must.Equal(3, res.UpdatedCount)

		n, err := odm.Find[Member](ds.Get(t)).Filter("age in", []int{31, 41, 51}).Count(ctx)
		t.Must.NoError(err)
		t.Must.Equal(3, n)
	})

	s.Then("invalid criteria are reported on execution", func(t *testcase.T) {
		for _, q := range []*odm.Query[Member]{
			odm.Find[Member](ds.Get(t)).Filter("name ~", "x"),
			odm.Find[Member](ds.Get(t)).Filter("name is not", "x"),
			odm.Find[Member](ds.Get(t)).Field("unknown").Equal(1),
			odm.Find[Member](ds.Get(t)).Field("name").Equal(func() {}),
			odm.Find[Member](ds.Get(t)).Filter("name exists", "yes"),
			odm.Find[Member](ds.Get(t)).Order("unknown"),
			odm.Find[Member](ds.Get(t)).Limit(-1),
			odm.Find[Member](ds.Get(t)).Offset(-1),
			odm.Find[Member](ds.Get(t)).Field("team").Equal("not a key"),
			odm.Find[Member](ds.Get(t)).Field("team").Equal(odm.Key{Collection: "members", ID: "1"}),
		} {
			_, err := q.List(ctx)
			t.Must.ErrorIs(odm.ErrQuery, err)
		}
	})
}

func TestQuery_references(t *testing.T) {
	ctx := context.Background()
	ds := newDatastore(t, nil)

	team := randomTeam()
	_, err := ds.Save(ctx, team)
	assert.NoError(t, err)
	withTeam := randomMember()
	withTeam.Team = team
	withoutTeam := randomMember()
	_, err = ds.SaveAll(ctx, withTeam, withoutTeam)
	assert.NoError(t, err)

	t.Run("nil matches the entities without reference", func(t *testing.T) {
		list, err := odm.Find[Member](ds).Field("team").Equal(nil).List(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, len(list))
		assert.Equal(t, withoutTeam.ID, list[0].ID)
	})

	t.Run("an entity value is converted into its key", func(t *testing.T) {
		for _, v := range []any{team, *team, odm.Key{Collection: "teams", ID: team.ID}} {
			list, err := odm.FindBy[Member](ds, "team", v).List(ctx)
			assert.NoError(t, err)
			assert.Equal(t, 1, len(list))
			assert.Equal(t, withTeam.ID, list[0].ID)
			assert.Equal(t, team.Name, list[0].Team.Name)
		}
	})

	t.Run("a never saved entity value is not persisted", func(t *testing.T) {
		_, err := odm.FindBy[Member](ds, "team", randomTeam()).List(ctx)
		assert.ErrorIs(t, odm.ErrNotPersisted, err)
	})

	t.Run("embedded fields are addressed with dotted paths", func(t *testing.T) {
		got, found, err := odm.Find[Team](ds).Field("office.city").Equal(team.Office.City).Get(ctx)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, team.ID, got.ID)
		assert.Equal(t, team.Office, got.Office)
	})

	t.Run("transient fields cannot be queried", func(t *testing.T) {
		_, err := odm.Find[Team](ds).Field("notes").Equal("x").List(ctx)
		assert.ErrorIs(t, odm.ErrQuery, err)
	})

	t.Run("a value field holding a key is matched by the entity", func(t *testing.T) {
		boss := employees.New("Boss", "One", nil, 1)
		_, err := ds.Save(ctx, boss)
		assert.NoError(t, err)
		key, err := ds.GetKey(boss)
		assert.NoError(t, err)
		_, err = ds.Save(ctx, employees.New("Worker", "Two", &key, 1))
		assert.NoError(t, err)

		list, err := odm.FindBy[employees.Employee](ds, "manager", boss).List(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 1, len(list))
		assert.Equal(t, "Worker", list[0].FirstName)
	})

	t.Run("unregistered query type", func(t *testing.T) {
		_, err := odm.Find[Office](ds).List(ctx)
		assert.ErrorIs(t, mapping.ErrMapping, err)
	})
}
