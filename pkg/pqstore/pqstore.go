// Package pqstore implements storage.Backend against Postgres using
// database/sql with the lib/pq driver, the alternate backend the root cmd
// binary can select to demonstrate that pkg/storage's Adapter is driver-agnostic: nothing
// above this package knows or cares which of pgstore or pqstore produced
// its Backend.
package pqstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/zoravur/reactable/pkg/storage"
)

// Backend wraps a *sql.DB opened against the lib/pq driver.
type Backend struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens a lib/pq-backed Backend against dsn.
func Open(dsn string, log *zap.Logger) (*Backend, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pqstore: open: %w", err)
	}
	return &Backend{db: db, log: log}, nil
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
		return nil, fmt.Errorf("pqstore: prepare: %w", err)
	}
	return &pqStmt{stmt: stmt}, nil
}

// Transaction runs fn inside a single *sql.Tx, committing on a nil return
// and rolling back (then re-raising) otherwise.
func (b *Backend) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Backend) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pqstore: begin: %w", err)
	}
	txBackend := &txBackend{tx: tx, log: b.log}
	if err := fn(ctx, txBackend); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.log.Error("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pqstore: commit: %w", err)
	}
	return nil
}

type txBackend struct {
	tx  *sql.Tx
	log *zap.Logger
}

func (t *txBackend) Prepare(ctx context.Context, sqlText string) (storage.Stmt, error) {
	stmt, err := t.tx.PrepareContext(ctx, rebind(sqlText))
	if err != nil {
		return nil, fmt.Errorf("pqstore: prepare in tx: %w", err)
	}
	return &pqStmt{stmt: stmt}, nil
}

func (t *txBackend) Transaction(ctx context.Context, fn func(ctx context.Context, tx storage.Backend) error) error {
	return fn(ctx, t)
}

type pqStmt struct {
	stmt *sql.Stmt
}

func (s *pqStmt) Get(ctx context.Context, params []any) (map[string]any, bool, error) {
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

func (s *pqStmt) All(ctx context.Context, params []any) ([]map[string]any, error) {
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

func (s *pqStmt) Run(ctx context.Context, params []any) (storage.RunResult, error) {
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

// rebind rewrites the compiler's positional "?" placeholders into lib/pq's
// "$1, $2, ..." dialect, identical to pgstore's rebind — both drivers speak
// the same Postgres parameter syntax.
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
