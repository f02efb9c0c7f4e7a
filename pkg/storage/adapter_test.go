package storage_test

import (
	"context"
	"testing"

	"github.com/zoravur/reactable/internal/memsql"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/relstmt"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/storage"
)

func relexprGe(col string, v any) relexpr.Expression {
	return relexpr.BinOp{L: relexpr.Col(col), R: relexpr.Const(v), Op: relexpr.Ge}
}

func usersAdapter(t *testing.T) (*storage.Adapter, *memsql.Table) {
	t.Helper()
	st, err := schema.New("users", []schema.Column{
		{Name: "id", Kind: schema.KindNumber},
		{Name: "name", Kind: schema.KindString},
		{Name: "age", Kind: schema.KindNumber},
	}, []string{"id"})
	if err != nil {
		t.Fatalf("schema.New: %v", err)
	}
	tbl := memsql.NewTable("users", "id")
	backend := memsql.NewBackend(tbl)
	adapter, err := storage.New(context.Background(), st, backend)
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return adapter, tbl
}

func TestAdapterInsertThenFindUnique(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)

	err := adapter.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	row, ok, err := adapter.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	if !ok {
		t.Fatal("want row found")
	}
	if row["name"] != "alice" {
		t.Errorf("want alice, got %v", row["name"])
	}
}

func TestAdapterFindUniqueMissingReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)
	_, ok, err := adapter.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 999})
	if err != nil {
		t.Fatalf("FindUnique: %v", err)
	}
	if ok {
		t.Fatal("want no row found")
	}
}

func TestAdapterUpsertInsertsThenUpdatesOnConflict(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)

	if err := adapter.Upsert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Upsert insert: %v", err)
	}
	if err := adapter.Upsert(ctx, schema.Row{"id": 1, "name": "alice2", "age": 31}); err != nil {
		t.Fatalf("Upsert update: %v", err)
	}

	row, ok, err := adapter.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil || !ok {
		t.Fatalf("FindUnique: ok=%v err=%v", ok, err)
	}
	if row["name"] != "alice2" {
		t.Errorf("want alice2 after upsert conflict, got %v", row["name"])
	}
}

func TestAdapterUpdatePartial(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)
	if err := adapter.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := adapter.Update(ctx, schema.PrimaryKeyRecord{"id": 1}, schema.Row{"age": 31}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	row, ok, err := adapter.FindUnique(ctx, schema.PrimaryKeyRecord{"id": 1})
	if err != nil || !ok {
		t.Fatalf("FindUnique: ok=%v err=%v", ok, err)
	}
	if row["age"] != 31 {
		t.Errorf("want age 31, got %v", row["age"])
	}
	if row["name"] != "alice" {
		t.Errorf("want name untouched (alice), got %v", row["name"])
	}
}

func TestAdapterUpdateEmptyPartialIsNoop(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)
	if err := adapter.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := adapter.Update(ctx, schema.PrimaryKeyRecord{"id": 1}, schema.Row{}); err != nil {
		t.Fatalf("Update with empty partial should be a no-op, got error: %v", err)
	}
}

func TestAdapterDeleteRemovesRow(t *testing.T) {
	ctx := context.Background()
	adapter, tbl := usersAdapter(t)
	if err := adapter.Insert(ctx, schema.Row{"id": 1, "name": "alice", "age": 30}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := adapter.Delete(ctx, schema.PrimaryKeyRecord{"id": 1}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(tbl.Rows) != 0 {
		t.Errorf("want 0 rows after delete, got %d", len(tbl.Rows))
	}
}

func TestAdapterFindManyForwardPagination(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)
	for i := 1; i <= 5; i++ {
		if err := adapter.Insert(ctx, schema.Row{"id": i, "name": "u", "age": 20 + i}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	page, err := adapter.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   2,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(page.Rows) != 2 {
		t.Fatalf("want 2 rows, got %d", len(page.Rows))
	}
	if page.Rows[0]["id"] != 1 || page.Rows[1]["id"] != 2 {
		t.Errorf("want ids [1 2], got [%v %v]", page.Rows[0]["id"], page.Rows[1]["id"])
	}
	if page.RowCount != 5 {
		t.Errorf("want RowCount 5, got %d", page.RowCount)
	}
	if page.ItemAfterCount != 3 {
		t.Errorf("want ItemAfterCount 3, got %d", page.ItemAfterCount)
	}

	next, err := adapter.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   2,
		After:   page.EndCursor,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany next: %v", err)
	}
	if len(next.Rows) != 2 || next.Rows[0]["id"] != 3 || next.Rows[1]["id"] != 4 {
		t.Fatalf("want ids [3 4], got %v", next.Rows)
	}
	if next.ItemBeforeCount != 2 {
		t.Errorf("want ItemBeforeCount 2, got %d", next.ItemBeforeCount)
	}
}

func TestAdapterFindManyBackwardPagination(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)
	for i := 1; i <= 5; i++ {
		if err := adapter.Insert(ctx, schema.Row{"id": i, "name": "u", "age": 20 + i}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	page, err := adapter.FindMany(ctx, storage.PageInit{
		Forward: false,
		Last:    2,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(page.Rows) != 2 || page.Rows[0]["id"] != 4 || page.Rows[1]["id"] != 5 {
		t.Fatalf("want ids [4 5] in ascending order, got %v", page.Rows)
	}
}

func TestAdapterFindManyWithFilter(t *testing.T) {
	ctx := context.Background()
	adapter, _ := usersAdapter(t)
	for i := 1; i <= 5; i++ {
		if err := adapter.Insert(ctx, schema.Row{"id": i, "name": "u", "age": 20 + i}); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	page, err := adapter.FindMany(ctx, storage.PageInit{
		Forward: true,
		First:   10,
		OrderBy: []relstmt.OrderTerm{{Column: "id"}},
		Filter:  relexprGe("age", 24),
	})
	if err != nil {
		t.Fatalf("FindMany: %v", err)
	}
	if len(page.Rows) != 3 {
		t.Fatalf("want 3 rows with age >= 24 (ids 3,4,5), got %d: %v", len(page.Rows), page.Rows)
	}
}
