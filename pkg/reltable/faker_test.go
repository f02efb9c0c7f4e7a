package reltable_test

import (
	"context"
	"testing"

	faker "github.com/go-faker/faker/v4"

	"github.com/zoravur/reactable/pkg/relstmt"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/storage"
)

type fakeUser struct {
	ID    int64  `faker:"-"`
	Email string `faker:"email"`
	Name  string `faker:"name"`
	Age   int    `faker:"boundary_start=18, boundary_end=90"`
}

// TestInsertManyFakedRowsRoundTripThroughFindMany generates randomized rows
// the way pkg/fixgres_demo's factory does, then checks that every inserted
// row is recoverable through a full unfiltered findMany page regardless of
// what faker happened to generate for Name/Email this run.
func TestInsertManyFakedRowsRoundTripThroughFindMany(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)

	const n = 8
	want := map[int64]fakeUser{}
	for i := int64(1); i <= n; i++ {
		u := fakeUser{}
		if err := faker.FakeData(&u); err != nil {
			t.Fatalf("faker.FakeData: %v", err)
		}
		u.ID = i
		want[i] = u
		if err := tbl.Insert(ctx, schema.Row{"id": u.ID, "name": u.Name, "age": u.Age}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	dyn, err := tbl.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   n,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	page, err := dyn.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Rows) != n {
		t.Fatalf("want %d rows, got %d", n, len(page.Rows))
	}
	for _, row := range page.Rows {
		id, _ := row["id"].(int64)
		wu, ok := want[id]
		if !ok {
			t.Fatalf("unexpected row id %v", row["id"])
		}
		if row["name"] != wu.Name {
			t.Errorf("id %d: want name %q, got %v", id, wu.Name, row["name"])
		}
		if row["age"] != wu.Age {
			t.Errorf("id %d: want age %d, got %v", id, wu.Age, row["age"])
		}
	}
}
