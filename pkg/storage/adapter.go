package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/zoravur/reactable/pkg/cursorkey"
	"github.com/zoravur/reactable/pkg/paginate"
	"github.com/zoravur/reactable/pkg/relerr"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/relsql"
	"github.com/zoravur/reactable/pkg/relstmt"
	"github.com/zoravur/reactable/pkg/schema"
	"github.com/zoravur/reactable/pkg/sqlvalidate"
)

// preparedMutation pairs a prepared Stmt with the extractor that turns a
// bind context into its parameter list.
type preparedMutation struct {
	stmt    Stmt
	extract relsql.Extractor
}

// preparedQueryOne is the findUnique-by-PK shape.
type preparedQueryOne struct {
	stmt    Stmt
	extract relsql.Extractor
}

// updateCtx is the bind context for a dynamically-compiled update
// statement: the columns actually changing plus the key identifying the
// row.
type updateCtx struct {
	partial schema.Row
	key     schema.PrimaryKeyRecord
}

// Adapter wraps a Backend for one table: it caches compiled statements for
// insert/upsert/delete/findUnique eagerly at construction, compiles update
// statements lazily per distinct set of changed columns, and implements
// findMany atop pkg/paginate.
type Adapter struct {
	table   *schema.Table
	backend Backend

	insertStmt preparedMutation
	upsertStmt preparedMutation
	deleteStmt preparedMutation
	findStmt   preparedQueryOne

	mu          sync.Mutex
	updateCache map[string]preparedMutation
}

// New constructs an Adapter, eagerly preparing insert/upsert/delete/
// findUnique against backend.
func New(ctx context.Context, table *schema.Table, backend Backend) (*Adapter, error) {
	a := &Adapter{table: table, backend: backend, updateCache: map[string]preparedMutation{}}

	insertStmt, err := compileAndPrepare(ctx, backend, buildInsert(table))
	if err != nil {
		return nil, err
	}
	a.insertStmt = insertStmt

	upsertStmt, err := compileAndPrepare(ctx, backend, buildUpsert(table))
	if err != nil {
		return nil, err
	}
	a.upsertStmt = upsertStmt

	deleteStmt, err := compileAndPrepare(ctx, backend, buildDeleteByPK(table))
	if err != nil {
		return nil, err
	}
	a.deleteStmt = deleteStmt

	findStmt, err := compileAndPrepare(ctx, backend, buildSelectByPK(table))
	if err != nil {
		return nil, err
	}
	a.findStmt = preparedQueryOne(findStmt)

	return a, nil
}

func compileAndPrepare(ctx context.Context, backend Backend, stmt relstmt.Statement) (preparedMutation, error) {
	compiled, err := relsql.Compile(stmt)
	if err != nil {
		return preparedMutation{}, err
	}
	// Belt and suspenders: catch a malformed rendering here, against the
	// real Postgres grammar, rather than as a cryptic driver-level syntax
	// error surfaced from deep inside a request.
	if err := sqlvalidate.Validate(compiled.SQL); err != nil {
		return preparedMutation{}, relerr.Wrap(relerr.CodeCompileUnsupported, "compiled SQL failed validation", err)
	}
	prepared, err := backend.Prepare(ctx, compiled.SQL)
	if err != nil {
		return preparedMutation{}, relerr.BackendError(err)
	}
	return preparedMutation{stmt: prepared, extract: compiled.Extract}, nil
}

func pkParam(col string) relexpr.Parameterizable {
	col2 := col
	return relexpr.Param(col2, func(ctx any) (any, error) {
		key, ok := ctx.(schema.PrimaryKeyRecord)
		if !ok {
			return nil, relerr.SchemaViolation("storage: expected PrimaryKeyRecord bind context")
		}
		v, ok := key[col2]
		if !ok {
			return nil, relerr.SchemaViolation("storage: key missing column " + col2)
		}
		return v, nil
	})
}

func rowParam(col string) relexpr.Parameterizable {
	col2 := col
	return relexpr.Param(col2, func(ctx any) (any, error) {
		row, ok := ctx.(schema.Row)
		if !ok {
			return nil, relerr.SchemaViolation("storage: expected Row bind context")
		}
		v, ok := row[col2]
		if !ok {
			return nil, relerr.SchemaViolation("storage: row missing column " + col2)
		}
		return v, nil
	})
}

func buildInsert(table *schema.Table) relstmt.Insert {
	values := make(map[string]relexpr.Parameterizable, len(table.Columns))
	for col := range table.Columns {
		values[col] = rowParam(col)
	}
	return relstmt.Insert{TableName: table.Name, Values: values}
}

func buildUpsert(table *schema.Table) relstmt.Insert {
	values := make(map[string]relexpr.Parameterizable, len(table.Columns))
	for col := range table.Columns {
		values[col] = rowParam(col)
	}
	set := make(map[string]relexpr.Parameterizable)
	pkSet := make(map[string]bool, len(table.PrimaryKey))
	for _, pk := range table.PrimaryKey {
		pkSet[pk] = true
	}
	for col := range table.Columns {
		if !pkSet[col] {
			set[col] = rowParam(col)
		}
	}
	return relstmt.Insert{
		TableName: table.Name,
		Values:    values,
		OnConflict: &relstmt.OnConflict{
			Columns: append([]string(nil), table.PrimaryKey...),
			Set:     set,
		},
	}
}

func buildDeleteByPK(table *schema.Table) relstmt.Delete {
	key := make(map[string]relexpr.Parameterizable, len(table.PrimaryKey))
	for _, pk := range table.PrimaryKey {
		key[pk] = pkParam(pk)
	}
	return relstmt.Delete{TableName: table.Name, Key: key}
}

func buildSelectByPK(table *schema.Table) relstmt.Select {
	var where relexpr.Expression
	for _, pk := range table.PrimaryKey {
		eq := relexpr.BinOp{L: relexpr.Col(pk), R: pkParam(pk), Op: relexpr.Eq}
		if where == nil {
			where = eq
		} else {
			where = relexpr.BinOp{L: where, R: eq, Op: relexpr.And}
		}
	}
	return relstmt.Select{
		TableName: table.Name,
		Columns:   []relexpr.Expression{relexpr.Asterisk{}},
		Where:     where,
	}
}

// Insert writes a complete row.
func (a *Adapter) Insert(ctx context.Context, row schema.Row) error {
	params, err := a.insertStmt.extract(row)
	if err != nil {
		return err
	}
	if _, err := a.insertStmt.stmt.Run(ctx, params); err != nil {
		return relerr.BackendError(err)
	}
	return nil
}

// Upsert writes row, updating non-primary-key columns on conflict.
func (a *Adapter) Upsert(ctx context.Context, row schema.Row) error {
	params, err := a.upsertStmt.extract(row)
	if err != nil {
		return err
	}
	if _, err := a.upsertStmt.stmt.Run(ctx, params); err != nil {
		return relerr.BackendError(err)
	}
	return nil
}

// Delete removes the row identified by key. A non-matching key is not an
// error (NoSuchRow is not distinguished, per the storage adapter contract).
func (a *Adapter) Delete(ctx context.Context, key schema.PrimaryKeyRecord) error {
	params, err := a.deleteStmt.extract(key)
	if err != nil {
		return err
	}
	if _, err := a.deleteStmt.stmt.Run(ctx, params); err != nil {
		return relerr.BackendError(err)
	}
	return nil
}

// Update sets partial's columns on the row identified by key. An empty
// partial is a silent no-op (EmptyUpdate), not an error.
func (a *Adapter) Update(ctx context.Context, key schema.PrimaryKeyRecord, partial schema.Row) error {
	if len(partial) == 0 {
		return nil
	}
	stmt, err := a.updateStmtFor(ctx, partial)
	if err != nil {
		return err
	}
	params, err := stmt.extract(updateCtx{partial: partial, key: key})
	if err != nil {
		return err
	}
	if _, err := stmt.stmt.Run(ctx, params); err != nil {
		return relerr.BackendError(err)
	}
	return nil
}

func (a *Adapter) updateStmtFor(ctx context.Context, partial schema.Row) (preparedMutation, error) {
	cols := make([]string, 0, len(partial))
	for col := range partial {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	cacheKey := strings.Join(cols, ",")

	a.mu.Lock()
	defer a.mu.Unlock()
	if cached, ok := a.updateCache[cacheKey]; ok {
		return cached, nil
	}

	set := make(map[string]relexpr.Parameterizable, len(cols))
	for _, col := range cols {
		col2 := col
		set[col] = relexpr.Param(col2, func(ctx any) (any, error) {
			uc, ok := ctx.(updateCtx)
			if !ok {
				return nil, relerr.SchemaViolation("storage: expected update bind context")
			}
			return uc.partial[col2], nil
		})
	}
	key := make(map[string]relexpr.Parameterizable, len(a.table.PrimaryKey))
	for _, pk := range a.table.PrimaryKey {
		pk2 := pk
		key[pk] = relexpr.Param(pk2, func(ctx any) (any, error) {
			uc, ok := ctx.(updateCtx)
			if !ok {
				return nil, relerr.SchemaViolation("storage: expected update bind context")
			}
			return uc.key[pk2], nil
		})
	}
	stmt := relstmt.Update{TableName: a.table.Name, Set: set, Key: key}
	prepared, err := compileAndPrepare(ctx, a.backend, stmt)
	if err != nil {
		return preparedMutation{}, err
	}
	a.updateCache[cacheKey] = prepared
	return prepared, nil
}

// FindUnique returns the row for key, or ok=false if no such row exists.
func (a *Adapter) FindUnique(ctx context.Context, key schema.PrimaryKeyRecord) (schema.Row, bool, error) {
	params, err := a.findStmt.extract(key)
	if err != nil {
		return nil, false, err
	}
	row, ok, err := a.findStmt.stmt.Get(ctx, params)
	if err != nil {
		return nil, false, relerr.BackendError(err)
	}
	if !ok {
		return nil, false, nil
	}
	return schema.Row(row), true, nil
}

// PrepareQueryOne compiles stmt and returns a callable bound to a Get.
func (a *Adapter) PrepareQueryOne(ctx context.Context, stmt relstmt.Statement) (func(ctx context.Context, bindCtx any) (schema.Row, bool, error), error) {
	pm, err := compileAndPrepare(ctx, a.backend, stmt)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, bindCtx any) (schema.Row, bool, error) {
		params, err := pm.extract(bindCtx)
		if err != nil {
			return nil, false, err
		}
		row, ok, err := pm.stmt.Get(ctx, params)
		if err != nil {
			return nil, false, relerr.BackendError(err)
		}
		return schema.Row(row), ok, nil
	}, nil
}

// PrepareQueryAll compiles stmt and returns a callable bound to an All.
func (a *Adapter) PrepareQueryAll(ctx context.Context, stmt relstmt.Statement) (func(ctx context.Context, bindCtx any) ([]schema.Row, error), error) {
	pm, err := compileAndPrepare(ctx, a.backend, stmt)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, bindCtx any) ([]schema.Row, error) {
		params, err := pm.extract(bindCtx)
		if err != nil {
			return nil, err
		}
		rows, err := pm.stmt.All(ctx, params)
		if err != nil {
			return nil, relerr.BackendError(err)
		}
		out := make([]schema.Row, len(rows))
		for i, r := range rows {
			out[i] = schema.Row(r)
		}
		return out, nil
	}, nil
}

// PrepareCount compiles stmt and returns a callable bound to a count Get.
func (a *Adapter) PrepareCount(ctx context.Context, stmt relstmt.Statement) (func(ctx context.Context, bindCtx any) (int64, error), error) {
	pm, err := compileAndPrepare(ctx, a.backend, stmt)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, bindCtx any) (int64, error) {
		params, err := pm.extract(bindCtx)
		if err != nil {
			return 0, err
		}
		row, ok, err := pm.stmt.Get(ctx, params)
		if err != nil {
			return 0, relerr.BackendError(err)
		}
		if !ok {
			return 0, nil
		}
		for _, v := range row {
			return toInt64(v), nil
		}
		return 0, nil
	}, nil
}

// PrepareMutation compiles stmt and returns a callable bound to a Run.
func (a *Adapter) PrepareMutation(ctx context.Context, stmt relstmt.Statement) (func(ctx context.Context, bindCtx any) (RunResult, error), error) {
	pm, err := compileAndPrepare(ctx, a.backend, stmt)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, bindCtx any) (RunResult, error) {
		params, err := pm.extract(bindCtx)
		if err != nil {
			return RunResult{}, err
		}
		res, err := pm.stmt.Run(ctx, params)
		if err != nil {
			return RunResult{}, relerr.BackendError(err)
		}
		return res, nil
	}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// PageInit mirrors spec's ForwardPageInit/BackwardPageInit union.
type PageInit struct {
	Forward  bool
	After    cursorkey.Cursor // forward only
	Before   cursorkey.Cursor // backward only
	First    int              // forward only
	Last     int              // backward only
	OrderBy  []relstmt.OrderTerm
	Filter   relexpr.Expression
}

// Page is the result of findMany.
type Page struct {
	Rows            []schema.Row
	RowCount        int64
	StartCursor     cursorkey.Cursor
	EndCursor       cursorkey.Cursor
	ItemBeforeCount int64
	ItemAfterCount  int64
}

// FindMany implements the pagination algorithm atop pkg/paginate's
// seven-query plan.
func (a *Adapter) FindMany(ctx context.Context, init PageInit) (Page, error) {
	plan, err := paginate.Build(a.table, init.OrderBy, init.Filter)
	if err != nil {
		return Page{}, err
	}
	cursorCols := plan.CursorColumns()

	runAll, err := a.PrepareQueryAll(ctx, pickLoadStatement(plan, init))
	if err != nil {
		return Page{}, err
	}
	limit := init.First
	var bindCursor cursorkey.Cursor
	backward := !init.Forward
	if init.Forward {
		bindCursor = init.After
	} else {
		limit = init.Last
		bindCursor = init.Before
	}

	rows, err := runAll(ctx, paginate.Ctx{Cursor: bindCursor, Limit: limit})
	if err != nil {
		return Page{}, err
	}
	if backward {
		reverseRows(rows)
	}

	countTotal, err := a.PrepareCount(ctx, plan.CountTotal)
	if err != nil {
		return Page{}, err
	}
	rowCount, err := countTotal(ctx, paginate.Ctx{})
	if err != nil {
		return Page{}, err
	}

	page := Page{Rows: rows, RowCount: rowCount}
	if len(rows) > 0 {
		page.StartCursor = rowCursor(rows[0], cursorCols)
		page.EndCursor = rowCursor(rows[len(rows)-1], cursorCols)
	}

	itemBefore, err := a.computeItemBeforeCount(ctx, plan, init, page, backward)
	if err != nil {
		return Page{}, err
	}
	page.ItemBeforeCount = itemBefore

	itemAfter, err := a.computeItemAfterCount(ctx, plan, init, page, backward)
	if err != nil {
		return Page{}, err
	}
	page.ItemAfterCount = itemAfter

	return page, nil
}

func pickLoadStatement(plan *paginate.Plan, init PageInit) relstmt.Select {
	switch {
	case init.Forward && init.After == nil:
		return plan.LoadFirst
	case init.Forward:
		return plan.LoadNext
	case !init.Forward && init.Before == nil:
		return plan.LoadLast
	default:
		return plan.LoadPrev
	}
}

func (a *Adapter) computeItemBeforeCount(ctx context.Context, plan *paginate.Plan, init PageInit, page Page, backward bool) (int64, error) {
	if init.Forward && init.After == nil {
		return 0, nil
	}
	if len(page.Rows) == 0 {
		return page.RowCount, nil
	}
	countBefore, err := a.PrepareCount(ctx, plan.CountBefore)
	if err != nil {
		return 0, err
	}
	return countBefore(ctx, paginate.Ctx{Cursor: page.StartCursor})
}

func (a *Adapter) computeItemAfterCount(ctx context.Context, plan *paginate.Plan, init PageInit, page Page, backward bool) (int64, error) {
	if backward && init.Before == nil {
		return 0, nil
	}
	if len(page.Rows) == 0 {
		return page.RowCount, nil
	}
	countAfter, err := a.PrepareCount(ctx, plan.CountAfter)
	if err != nil {
		return 0, err
	}
	return countAfter(ctx, paginate.Ctx{Cursor: page.EndCursor})
}

func rowCursor(row schema.Row, cols []string) cursorkey.Cursor {
	c := make(cursorkey.Cursor, len(cols))
	for _, col := range cols {
		c[col] = row[col]
	}
	return c
}

func reverseRows(rows []schema.Row) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}

// MutateMany runs fn inside a single backend transaction so that either
// all of its mutations become visible or none do. The callback receives an
// Adapter whose prepared statements are re-derived against the
// transaction-scoped Backend, since a Stmt handle from the outer
// connection is not guaranteed valid inside a nested transaction context.
func (a *Adapter) MutateMany(ctx context.Context, fn func(ctx context.Context, tx *Adapter) error) error {
	return a.backend.Transaction(ctx, func(ctx context.Context, txBackend Backend) error {
		txAdapter, err := New(ctx, a.table, txBackend)
		if err != nil {
			return err
		}
		return fn(ctx, txAdapter)
	})
}
