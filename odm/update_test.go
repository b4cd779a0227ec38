package odm_test

import (
	"context"
	"testing"

	"go.llib.dev/testcase"

	"github.com/docmap/docmap/internal/employees"
	"github.com/docmap/docmap/odm"
)

func TestDatastore_Update(t *testing.T) {
	s := testcase.NewSpec(t)

	var (
		ctx = context.Background()
		ds  = testcase.Let(s, func(t *testcase.T) *odm.Datastore {
			return newDatastore(t, nil)
		})
		team = testcase.Let(s, func(t *testcase.T) *Team {
			team := randomTeam()
			_, err := ds.Get(t).Save(ctx, team)
			t.Must.NoError(err)
			return team
		})
		member = testcase.Let(s, func(t *testcase.T) *Member {
			m := randomMember()
			_, err := ds.Get(t).Save(ctx, m)
			t.Must.NoError(err)
			return m
		})
		ops = testcase.Let[*odm.UpdateOperations](s, nil)
	)
	act := func(t *testcase.T) (odm.UpdateResult, error) {
		return ds.Get(t).Update(ctx, team.Get(t), ops.Get(t))
	}
	reload := func(t *testcase.T) Team {
		got, found, err := odm.Get[Team](ctx, ds.Get(t), team.Get(t).ID)
		t.Must.NoError(err)
		t.Must.True(found)
		return got
	}

	s.When("members are added", func(s *testcase.Spec) {
		ops.Let(s, func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().
				Add("members", member.Get(t)).
				Add("members", member.Get(t))
		})

		s.Then("the member is referenced once and resolved on load", func(t *testcase.T) {
			res, err := act(t)
			t.Must.NoError(err)
			t.Must.True(res.UpdatedExisting)
			t.Must.Equal(1, res.UpdatedCount)

			got := reload(t)
			t.Must.Equal(1, len(got.Members))
			t.Must.Equal(member.Get(t).Name, got.Members[0].Name)
		})

		s.Then("the entity itself is not modified", func(t *testcase.T) {
			_, err := act(t)
			t.Must.NoError(err)
			t.Must.Empty(team.Get(t).Members)
		})
	})

	s.When("members are added with duplicates allowed", func(s *testcase.Spec) {
		ops.Let(s, func(t *testcase.T) *odm.UpdateOperations {
			key, err := ds.Get(t).GetKey(member.Get(t))
			t.Must.NoError(err)
			return odm.NewUpdateOperations().
				AddDup("members", key).
				AddAll("members", []any{key, member.Get(t)}, true)
		})

		s.Then("every addition is kept", func(t *testcase.T) {
			_, err := act(t)
			t.Must.NoError(err)
			got := reload(t)
			t.Must.Equal(3, len(got.Members))
			t.Must.True(got.Members[0] == got.Members[1])
		})
	})

	s.When("members are removed", func(s *testcase.Spec) {
		s.Before(func(t *testcase.T) {
			_, err := ds.Get(t).Update(ctx, team.Get(t), odm.NewUpdateOperations().AddAll("members", []*Member{member.Get(t)}, false))
			t.Must.NoError(err)
		})
		ops.Let(s, func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().RemoveAll("members", member.Get(t))
		})

		s.Then("the reference is gone", func(t *testcase.T) {
			_, err := act(t)
			t.Must.NoError(err)
			t.Must.Empty(reload(t).Members)
		})
	})

	s.When("value fields are modified", func(s *testcase.Spec) {
		ops.Let(s, func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().
				Set("name", "renamed").
				Set("office.floor", 99).
				Inc("budget", 10).
				Add("tags", "new").
				Set("lead", member.Get(t))
		})

		s.Then("the stored document reflects the modifications", func(t *testcase.T) {
			_, err := act(t)
			t.Must.NoError(err)
			got := reload(t)
			t.Must.Equal("renamed", got.Name)
			t.Must.Equal(99, got.Office.Floor)
			t.Must.Equal(team.Get(t).Office.City, got.Office.City)
			t.Must.Equal(team.Get(t).Budget+10, got.Budget)
			t.Must.Equal(append(append([]string{}, team.Get(t).Tags...), "new"), got.Tags)
			t.Must.NotNil(got.Lead)
			t.Must.Equal(member.Get(t).ID, got.Lead.ID)
		})
	})

	s.When("fields are unset and embedded documents replaced", func(s *testcase.Spec) {
		ops.Let(s, func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().
				Unset("tags").
				Set("office", Office{City: "Szeged", Floor: 1})
		})

		s.Then("the stored document reflects the modifications", func(t *testcase.T) {
			_, err := act(t)
			t.Must.NoError(err)
			got := reload(t)
			t.Must.Empty(got.Tags)
			t.Must.Equal(Office{City: "Szeged", Floor: 1}, got.Office)
		})
	})

	for name, mk := range map[string]func(t *testcase.T) *odm.UpdateOperations{
		"no operations": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations()
		},
		"add to a non list field": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Add("name", "x")
		},
		"add a plain value to a reference list": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Add("members", "x")
		},
		"add a key of another collection to a reference list": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Add("members", odm.Key{Collection: "teams", ID: "1"})
		},
		"remove all from a single reference": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().RemoveAll("lead", member.Get(t))
		},
		"increment a non numeric field": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Inc("name", 1)
		},
		"increment by a non number": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Inc("budget", "1")
		},
		"modify the identifier": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Set("_id", "other")
		},
		"modify a transient field": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Set("notes", "x")
		},
		"modify an unknown field": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Set("unknown", "x")
		},
		"set an embedded field with another type": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Set("office", "Szeged")
		},
		"set a value of another type": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Set("name", 5)
		},
		"add an element of another type": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Add("tags", 5)
		},
		"increment an integer field by a fraction": func(t *testcase.T) *odm.UpdateOperations {
			return odm.NewUpdateOperations().Inc("office.floor", 1.5)
		},
	} {
		s.When(name, func(s *testcase.Spec) {
			ops.Let(s, mk)

			s.Then("it fails with an update error and nothing changes", func(t *testcase.T) {
				before := reload(t)
				_, err := act(t)
				t.Must.ErrorIs(odm.ErrUpdate, err)
				t.Must.Equal(before, reload(t))
			})
		})
	}

	s.Then("an integer field incremented by a whole float still loads", func(t *testcase.T) {
		_, err := ds.Get(t).Update(ctx, team.Get(t), odm.NewUpdateOperations().Inc("office.floor", 2.0))
		t.Must.NoError(err)
		t.Must.Equal(team.Get(t).Office.Floor+2, reload(t).Office.Floor)
	})

	s.Then("updating a never saved entity fails as not persisted", func(t *testcase.T) {
		_, err := ds.Get(t).Update(ctx, randomTeam(), odm.NewUpdateOperations().Set("name", "x"))
		t.Must.ErrorIs(odm.ErrNotPersisted, err)
	})

	s.Then("updating a load-only field fails", func(t *testcase.T) {
		e := employees.New("Load", "Only", nil, 1)
		_, err := ds.Get(t).Save(ctx, e)
		t.Must.NoError(err)
		_, err = ds.Get(t).Update(ctx, e, odm.NewUpdateOperations().Set("readButNotStored", "x"))
		t.Must.ErrorIs(odm.ErrUpdate, err)
	})

	s.Then("updating a deleted entity reports no existing match", func(t *testcase.T) {
		tm := team.Get(t)
		t.Must.NoError(ds.Get(t).Delete(ctx, tm))
		res, err := ds.Get(t).Update(ctx, tm, odm.NewUpdateOperations().Set("name", "x"))
		t.Must.NoError(err)
		t.Must.False(res.UpdatedExisting)
		t.Must.Equal(0, res.UpdatedCount)
	})
}
