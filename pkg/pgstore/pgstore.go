// Package pgstore implements storage.Backend against Postgres using
// database/sql with the pgx/v5 stdlib driver, the same sql.Open("pgx", ...)
// pattern pkg/fixgres uses for its integration-test sandbox. A second,
// lib/pq-backed implementation of the identical storage.Backend contract
// (pkg/pqstore) is selectable in the root cmd binary to demonstrate the
// adapter layer is driver-agnostic.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/storage"
)

// Backend wraps a *sql.DB opened against the pgx stdlib driver.
type Backend struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens a pgx-backed Backend against dsn.
func Open(dsn string, log *zap.Logger) (*Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open: %w", err)
	}
	return &Backend{db: db, log: log}, nil
}

// FromDB wraps an already-open *sql.DB (e.g. one produced by
// pkg/fixgres.Sandbox) as a Backend.
func FromDB(db *sql.DB, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{db: db, log: log}
}

func (b *Backend) Close() error { return b.db.Close() }

// DB exposes the underlying *sql.DB for callers that need to run queries
// outside the storage.Backend contract, e.g. pkg/richcatalog's
// introspection.
func (b *Backend) DB() *sql.DB { return b.db }

// Prepare compiles sql text into a reusable statement.
func (b *Backend) Prepare(ctx context.Context, sqlText string) (storage.Stmt, error) {
	stmt, err := b.db.PrepareContext(ctx, rebind(sqlText))
	if err != nil {
		b.log.Error("prepare failed", zap.String("sql", sqlText), zap.Error(err))
		return nil, fmt.Errorf("pgstore: prepare: %w", err)
	}
	return &pgStmt{stmt: stmt}, nil
}

// Transaction runs fn inside a single *sql.Tx, committing on a nil return
// and rolling back (then re-raising) otherwise.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Backend) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	txBackend := &txBackend{tx: tx, log: b.log}
	if err := fn(ctx, txBackend); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.log.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// txBackend scopes Prepare to a single *sql.Tx for the lifetime of a
// MutateMany transaction.
type txBackend struct {
	tx  *sql.Tx
	log *zap.Logger
}

func (t *txBackend) Prepare(ctx context.Context, sqlText string) (storage.Stmt, error) {
	stmt, err := t.tx.PrepareContext(ctx, rebind(sqlText))
	if err != nil {
		return nil, fmt.Errorf("pgstore: prepare in tx: %w", err)
	}
	return &pgStmt{stmt: stmt}, nil
}

func (t *txBackend) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Backend) error) error {
	// Nested transactions are flattened onto the same *sql.Tx: Postgres has
	// no true nested transaction, and the spec only requires mutateMany's
	// member mutations to share one transaction.
	return fn(ctx, t)
}

type pgStmt struct {
	stmt *sql.Stmt
}

func (s *pgStmt) Get(ctx context.Context, params []any) (map[string]any, bool, error) {
	rows, err := s.stmt.QueryContext(ctx, params...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}
	row, err := scanRow(rows)
	if err != nil {
		return nil, false, err
	}
	return row, true, nil
}

func (s *pgStmt) All(ctx context.Context, params []any) ([]map[string]any, error) {
	rows, err := s.stmt.QueryContext(ctx, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *pgStmt) Run(ctx context.Context, params []any) (storage.RunResult, error) {
	res, err := s.stmt.ExecContext(ctx, params...)
	if err != nil {
		return storage.RunResult{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storage.RunResult{}, err
	}
	return storage.RunResult{RowsAffected: affected}, nil
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	for i, col := range cols {
		out[col] = values[i]
	}
	return out, nil
}

// rebind rewrites the compiler's positional "?" placeholders into pgx's
// "$1, $2, ..." dialect. The compiler itself stays backend-neutral per the
// storage adapter contract; this is the one place that bends to Postgres.
func rebind(sqlText string) string {
	out := make([]byte, 0, len(sqlText)+8)
	n := 0
	for i := 0; i < len(sqlText); i++ {
		if sqlText[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, sqlText[i])
	}
	return string(out)
}
