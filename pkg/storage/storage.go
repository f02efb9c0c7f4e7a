// Package storage declares the synchronous backend contract the relational
// core compiles against: prepare/get/all/run plus a transaction wrapper.
// Nothing in this package talks to a real database — pkg/pgstore supplies
// the pgx/v5 implementation, and a second lib/pq-backed implementation
// (pkg/pqstore) is selectable in the root cmd binary to demonstrate the
// contract is driver-agnostic.
package storage

import "context"

// RunResult reports how many rows a mutation affected.
type RunResult struct {
	RowsAffected int64
}

// Stmt is a prepared statement handle. All methods are synchronous, per
// the single-threaded-cooperative concurrency model this module assumes.
type Stmt interface {
	// Get returns at most one row, or ok=false if none matched.
	Get(ctx context.Context, params []any) (row map[string]any, ok bool, err error)
	// All returns every matching row.
	All(ctx context.Context, params []any) ([]map[string]any, error)
	// Run executes a mutation and reports rows affected.
	Run(ctx context.Context, params []any) (RunResult, error)
}

// Backend is the storage driver contract. Prepare compiles SQL text once;
// the returned Stmt is reused across many bind contexts. Transaction runs
// fn against a Backend scoped to one transaction, committing on a nil
// return and rolling back (and re-raising) otherwise.
type Backend interface {
	Prepare(ctx context.Context, sql string) (Stmt, error)
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Backend) error) error
}
