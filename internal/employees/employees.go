// Package employees is the employee directory used by the docmap walkthrough:
// a boss, the employees reporting to them, and the queries between the two.
package employees

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docmap/docmap/mapping"
	"github.com/docmap/docmap/odm"
)

type Employee struct {
	ID        string
	FirstName string
	LastName  string
	// Salary is only stored when set.
	Salary *int64
	// Manager is stored as a key and never resolved.
	Manager *odm.Key
	// Underlings are stored as keys and resolved on load.
	Underlings []*Employee
	StartDate  *time.Time
	EndDate    *time.Time
	Active     bool
	// ReadButNotStored is loaded from the store but never written to it.
	ReadButNotStored string
	// NotStored is neither loaded nor written.
	NotStored int
}

func New(firstName, lastName string, manager *odm.Key, salary int64) *Employee {
	return &Employee{
		FirstName: firstName,
		LastName:  lastName,
		Manager:   manager,
		Salary:    &salary,
	}
}

func (e *Employee) String() string {
	return fmt.Sprintf("%s %s (%s)", e.FirstName, e.LastName, e.ID)
}

const Collection = "employees"

func Mapping() mapping.Entity[Employee] {
	return mapping.Entity[Employee]{
		Collection: Collection,
		Fields: []mapping.FieldDef[Employee]{
			mapping.ID(func(e *Employee) *string { return &e.ID }),
			mapping.Value("firstName", func(e *Employee) *string { return &e.FirstName }),
			mapping.Value("lastName", func(e *Employee) *string { return &e.LastName }),
			mapping.Value("salary", func(e *Employee) **int64 { return &e.Salary }).Indexed(),
			mapping.Value("manager", func(e *Employee) **odm.Key { return &e.Manager }),
			mapping.RefList("underlings", func(e *Employee) *[]*Employee { return &e.Underlings }),
			mapping.Value("startDate", func(e *Employee) **time.Time { return &e.StartDate }).As("started"),
			mapping.Value("endDate", func(e *Employee) **time.Time { return &e.EndDate }).As("left"),
			mapping.Value("active", func(e *Employee) *bool { return &e.Active }).Indexed(),
			mapping.Value("readButNotStored", func(e *Employee) *string { return &e.ReadButNotStored }).NotSaved(),
			mapping.Value("notStored", func(e *Employee) *int { return &e.NotStored }).Transient(),
		},
	}
}

// Walkthrough saves a boss and an employee, links them both ways, and prints what the queries return.
func Walkthrough(ctx context.Context, ds *odm.Datastore, out io.Writer) error {
	if err := ds.EnsureIndexes(ctx); err != nil {
		return err
	}
	if _, err := ds.Save(ctx, New("Mister", "GOD", nil, 0)); err != nil {
		return err
	}

	boss, found, err := odm.Find[Employee](ds).Field("manager").Equal(nil).Get(ctx)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no employee without a manager")
	}
	bossKey, err := ds.GetKey(&boss)
	if err != nil {
		return err
	}

	scott := New("Scott", "Hernandez", &bossKey, 150*1000)
	scottKey, err := ds.Save(ctx, scott)
	if err != nil {
		return err
	}

	res, err := ds.Update(ctx, &boss, odm.NewUpdateOperations().Add("underlings", scottKey))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "boss updated: existing=%t count=%d\n", res.UpdatedExisting, res.UpdatedCount)

	scottsBoss, found, err := odm.Find[Employee](ds).Filter("underlings", scottKey).Get(ctx)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no manager found for %s", scottKey)
	}
	fmt.Fprintf(out, "manager of %s: %s\n", scott, &scottsBoss)

	for e, err := range odm.FindBy[Employee](ds, "manager", &boss).Iter(ctx) {
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "reports to %s: %s\n", &boss, &e)
	}
	return nil
}
