package odm_test

import (
	"testing"

	"github.com/Pallinder/go-randomdata"
	"go.llib.dev/testcase/assert"
	"go.uber.org/zap"

	"github.com/docmap/docmap/adapter/memory"
	"github.com/docmap/docmap/internal/employees"
	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/odm"
	"github.com/docmap/docmap/port/docstore"
)

type Team struct {
	ID      string
	Name    string
	Lead    *Member
	Members []*Member
	Tags    []string
	Office  Office
	Budget  float64
	Notes   string
}

type Office struct {
	City  string
	Floor int
}

type Member struct {
	ID     string
	Name   string
	Age    int
	Team   *Team
	Mentor *Member
}

func teamMapping() mapping.Entity[Team] {
	return mapping.Entity[Team]{
		Collection: "teams",
		Fields: []mapping.FieldDef[Team]{
			mapping.ID(func(t *Team) *string { return &t.ID }),
			mapping.Value("name", func(t *Team) *string { return &t.Name }).Indexed(),
			mapping.Ref("lead", func(t *Team) **Member { return &t.Lead }),
			mapping.RefList("members", func(t *Team) *[]*Member { return &t.Members }).IgnoreMissing(),
			mapping.Value("tags", func(t *Team) *[]string { return &t.Tags }),
			mapping.Embedded("office", func(t *Team) *Office { return &t.Office }, mapping.Embed[Office]{
				Fields: []mapping.FieldDef[Office]{
					mapping.Value("city", func(o *Office) *string { return &o.City }).Indexed(),
					mapping.Value("floor", func(o *Office) *int { return &o.Floor }),
				},
			}),
			mapping.Value("budget", func(t *Team) *float64 { return &t.Budget }),
			mapping.Value("notes", func(t *Team) *string { return &t.Notes }).Transient(),
		},
	}
}

func memberMapping() mapping.Entity[Member] {
	return mapping.Entity[Member]{
		Collection: "members",
		Fields: []mapping.FieldDef[Member]{
			mapping.ID(func(m *Member) *string { return &m.ID }),
			mapping.Value("name", func(m *Member) *string { return &m.Name }),
			mapping.Value("age", func(m *Member) *int { return &m.Age }),
			mapping.Ref("team", func(m *Member) **Team { return &m.Team }),
			mapping.Ref("mentor", func(m *Member) **Member { return &m.Mentor }),
		},
	}
}

func newMapper(tb testing.TB) *mapping.Mapper {
	m, err := mapping.NewMapper(zap.NewNop(), employees.Mapping(), teamMapping(), memberMapping())
	assert.NoError(tb, err)
	return m
}

func newDatastore(tb testing.TB, store docstore.Store, opts ...odm.Option) *odm.Datastore {
	if store == nil {
		store = memory.NewMemory()
	}
	return odm.New(store, newMapper(tb), opts...)
}

func randomMember() *Member {
	return &Member{
		Name: randomdata.FullName(randomdata.RandomGender),
		Age:  randomdata.Number(18, 65),
	}
}

func randomTeam() *Team {
	return &Team{
		Name:   randomdata.SillyName(),
		Tags:   []string{randomdata.Noun(), randomdata.Adjective()},
		Office: Office{City: randomdata.City(), Floor: randomdata.Number(1, 20)},
		Budget: float64(randomdata.Number(1000, 100000)) + 0.5,
	}
}
