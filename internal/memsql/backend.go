package memsql

import (
	"context"

	"github.com/zoravur/reactable/pkg/storage"
)

// Backend is a storage.Backend implementation backed by an in-memory Table,
// letting pkg/storage and pkg/reltable be exercised without a live Postgres
// connection.
type Backend struct {
	table *Table
}

// NewBackend wraps table as a storage.Backend.
func NewBackend(table *Table) *Backend {
	return &Backend{table: table}
}

func (b *Backend) Prepare(ctx context.Context, sqlText string) (storage.Stmt, error) {
	return &stmtHandle{table: b.table, sql: sqlText}, nil
}

// Transaction runs fn against the same Backend — memsql has no isolation or
// rollback, so a failing fn leaves its earlier writes in place; only the
// real drivers (pkg/pgstore, pkg/pqstore) make MutateMany atomic.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Backend) error) error {
	return fn(ctx, b)
}

type stmtHandle struct {
	table *Table
	sql   string
}

func (s *stmtHandle) Get(ctx context.Context, params []any) (map[string]any, bool, error) {
	rows, err := s.table.Exec(s.sql, params)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (s *stmtHandle) All(ctx context.Context, params []any) ([]map[string]any, error) {
	return s.table.Exec(s.sql, params)
}

func (s *stmtHandle) Run(ctx context.Context, params []any) (storage.RunResult, error) {
	before := len(s.table.Rows)
	_, err := s.table.Exec(s.sql, params)
	if err != nil {
		return storage.RunResult{}, err
	}
	after := len(s.table.Rows)
	affected := int64(1)
	if after != before {
		affected = int64(abs(after - before))
	}
	return storage.RunResult{RowsAffected: affected}, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
