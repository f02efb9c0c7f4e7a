package reltable_test

import (
	"context"
	"testing"

	"github.com/zoravur/reactable/internal/memsql"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/reltable"
	"github.com/zoravur/reactable/pkg/relstmt"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/storage"
)

func relexprGe(col string, v any) relexpr.Expression {
	return relexpr.BinOp{L: relexpr.Col(col), R: relexpr.Const(v), Op: relexpr.Ge}
}

type errRelErr string

func (e errRelErr) Error() string { return string(e) }

func usersTable(t *testing.T) *reltable.Table {
	t.Helper()
	st, err := schema.New("users", []schema.Column{
		{Name: "id", Kind: schema.KindNumber},
		{Name: "name", Kind: schema.KindString},
		{Name: "age", Kind: schema.KindNumber},
	}, []string{"id"})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	backend := memsql.NewBackend(memsql.NewTable("users", "id"))
	adapter, err := storage.New(context.Background(), st, backend)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return reltable.New(st, adapter, nil)
}

func TestInsertPublishesInsertEventToFindUniqueHandle(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)

	handle, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	defer handle.Disconnect()

	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	row, err := handle.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if row["name"] != "alice" {
		t.Errorf("want alice, got %v", row["name"])
	}
}

func TestUpdatePropagatesToLiveHandle(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	handle, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	defer handle.Disconnect()

	var seen []schema.Row
	unsub, err := handle.Updated(func(_ struct{}) {
		row, _ := handle.Read()
		seen = append(seen, row)
	}, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}
	defer unsub()

	if err := tbl.Update(ctx, schema.PrimaryKeyRecord{"id": 1}, schema.Row{"age": 31}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(seen) != 1 {
		t.Fatalf("want 1 delta after update, got %d", len(seen))
	}
	if seen[0]["age"] != 31 {
		t.Errorf("want age 31 in folded row, got %v", seen[0]["age"])
	}
	if seen[0]["name"] != "alice" {
		t.Errorf("want name untouched, got %v", seen[0]["name"])
	}
}

func TestDeletePropagatesNilToLiveHandle(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	handle, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	defer handle.Disconnect()

	var gotNil bool
	_, err = handle.Updated(func(_ struct{}) {
		row, _ := handle.Read()
		gotNil = row == nil
	}, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}

	if err := tbl.Delete(ctx, schema.PrimaryKeyRecord{"id": 1}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !gotNil {
		t.Error("want folded row to become nil after delete")
	}
}

func TestFindUniqueForkIsIndependentlyDisconnectable(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	h1, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique h1: %v", err)
	}
	h2, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique h2: %v", err)
	}

	h1.Disconnect()
	if _, err := h1.Read(); err == nil {
		t.Error("want h1.Read to error after its own Disconnect")
	}

	if err := tbl.Update(ctx, schema.PrimaryKeyRecord{"id": 1}, schema.Row{"age": 40}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	row, err := h2.Read()
	if err != nil {
		t.Fatalf("h2.Read: %v", err)
	}
	if row["age"] != 40 {
		t.Errorf("want h2 to keep observing updates after h1 disconnected, got age %v", row["age"])
	}
	h2.Disconnect()
}

func TestFindManyDerivesAddDeltaOnMatchingInsert(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "u", "age": 20}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dyn, err := tbl.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   10,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}

	var deltas [][]reltable.PageDelta
	unsub, err := dyn.Updated(func(d []reltable.PageDelta) {
		deltas = append(deltas, d)
	}, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}
	defer unsub()

	if err := tbl.Insert(ctx, schema.Row{"id": 2, "name": "v", "age": 25}); err != nil {
		t.Fatalf("Insert id 2: %v", err)
	}

	if len(deltas) != 1 || len(deltas[0]) != 1 || deltas[0][0].Kind != reltable.PageAdd {
		t.Fatalf("want one PageAdd delta, got %v", deltas)
	}

	page, err := dyn.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Rows) != 2 {
		t.Errorf("want 2 rows folded into page, got %d", len(page.Rows))
	}
}

func TestFindManyDropsInsertNotMatchingFilter(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "u", "age": 20}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dyn, err := tbl.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   10,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
		Filter:  relexprGe("age", 24),
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}

	var fired bool
	_, err = dyn.Updated(func(_ []reltable.PageDelta) { fired = true }, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}

	if err := tbl.Insert(ctx, schema.Row{"id": 2, "name": "v", "age": 21}); err != nil {
		t.Fatalf("Insert id 2: %v", err)
	}
	if fired {
		t.Error("want no delta for an insert that does not match the filter")
	}
}

func TestFindManyDerivesRemoveDeltaOnMatchingDelete(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "u", "age": 20}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tbl.Insert(ctx, schema.Row{"id": 2, "name": "v", "age": 25}); err != nil {
		t.Fatalf("Insert id 2: %v", err)
	}

	dyn, err := tbl.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   10,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}

	var deltas []reltable.PageDelta
	_, err = dyn.Updated(func(d []reltable.PageDelta) { deltas = append(deltas, d...) }, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}

	if err := tbl.Delete(ctx, schema.PrimaryKeyRecord{"id": 1}); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if len(deltas) != 1 || deltas[0].Kind != reltable.PageRemove {
		t.Fatalf("want one PageRemove delta, got %v", deltas)
	}
	page, err := dyn.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Rows) != 1 || page.Rows[0]["id"] != 2 {
		t.Errorf("want only id 2 left, got %v", page.Rows)
	}
}

func TestFindManyDropsUpdateDeltas(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "u", "age": 20}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	dyn, err := tbl.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   10,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}

	var fired bool
	_, err = dyn.Updated(func(_ []reltable.PageDelta) { fired = true }, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}

	if err := tbl.Update(ctx, schema.PrimaryKeyRecord{"id": 1}, schema.Row{"age": 99}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if fired {
		t.Error("want Update events to be dropped at the FindMany level, not folded into the page")
	}
}

func TestMutateManyBuffersEventsUntilCommit(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)

	handle, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	defer handle.Disconnect()

	var deltaCount int
	_, err = handle.Updated(func(_ struct{}) { deltaCount++ }, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}

	err = tbl.MutateMany(ctx, func(ctx context.Context, tx *reltable.TxTable) error {
		if err := tx.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
			return err
		}
		if deltaCount != 0 {
			t.Error("want no delta observed until the transaction commits")
		}
		return tx.Update(ctx, schema.PrimaryKeyRecord{"id": 1}, schema.Row{"age": 31})
	})
	if err != nil {
		t.Fatalf("MutateMany: %v", err)
	}

	if deltaCount != 2 {
		t.Errorf("want 2 deltas (insert, update) published after commit, got %d", deltaCount)
	}
	row, err := handle.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if row["age"] != 31 {
		t.Errorf("want age 31 after commit, got %v", row["age"])
	}
}

func TestMutateManyPublishesNothingOnError(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)

	handle, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	defer handle.Disconnect()

	var deltaCount int
	_, err = handle.Updated(func(_ struct{}) { deltaCount++ }, nil)
	if err != nil {
		t.Fatalf("Updated: %v", err)
	}

	errBoom := errRelErr("boom")
	err = tbl.MutateMany(ctx, func(ctx context.Context, tx *reltable.TxTable) error {
		if err := tx.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
			return err
		}
		return errBoom
	})
	if err == nil {
		t.Fatal("want MutateMany to surface the callback's error")
	}
	if deltaCount != 0 {
		t.Errorf("want no deltas published when the transaction errors, got %d", deltaCount)
	}
}

func TestCleanupOrphansEvictsReleasedEntries(t *testing.T) {
	ctx := context.Background()
	tbl := usersTable(t)
	if err := tbl.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	handle, err := tbl.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	handle.Disconnect()

	if n := tbl.CleanupOrphans(); n != 1 {
		t.Errorf("want 1 orphaned cache entry reclaimed, got %d", n)
	}
	if n := tbl.CleanupOrphans(); n != 0 {
		t.Errorf("want a second sweep to find nothing left, got %d", n)
	}
}
