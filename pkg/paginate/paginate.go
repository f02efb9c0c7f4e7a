// Package paginate builds the seven-query seek-pagination bundle described
// for a table: loadFirst, loadLast, loadNext, loadPrev, countTotal,
// countAfter, countBefore. It is pure — it produces relstmt.Statement
// values, it does not run them (pkg/storage does that atop pkg/relsql and
// a storage.Backend). The planner generalizes
// other_examples' nrfta-go-paging Paginator/FetchParams/CursorPosition
// vocabulary into a design that emits SQL directly rather than delegating
// to an ORM, and its WHERE-tuple construction follows the same
// positional-argument-building shape used for affected-row predicates
// elsewhere in this module's reactive layer.
package paginate

import (
	"github.com/zoravur/reactable/pkg/cursorkey"
	"github.com/zoravur/reactable/pkg/relerr"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/relstmt"
	"github.com/zoravur/reactable/pkg/schema"
)

// Ctx is the bind-time context threaded through every prepared query's
// parameter extractor. Cursor is read by loadNext/loadPrev/countAfter/
// countBefore; Limit is read by loadFirst/loadLast/loadNext/loadPrev.
// CountTotal ignores both fields.
type Ctx struct {
	Cursor cursorkey.Cursor
	Limit  int
}

// Plan is the seven-query bundle for one (table, orderBy, filter) triple.
type Plan struct {
	OrderBy []relstmt.OrderTerm

	LoadFirst relstmt.Select
	LoadLast  relstmt.Select
	LoadNext  relstmt.Select
	LoadPrev  relstmt.Select

	CountTotal  relstmt.Count
	CountAfter  relstmt.Count
	CountBefore relstmt.Count
}

// CursorColumns returns the orderBy column names in order — the shape a
// Cursor's Tuple must be built against to compare with this plan's rows.
func (p *Plan) CursorColumns() []string {
	cols := make([]string, len(p.OrderBy))
	for i, t := range p.OrderBy {
		cols[i] = t.Column
	}
	return cols
}

// Build validates orderBy against table's primary key and constructs the
// seven-query plan. It raises PaginationMisordered if orderBy does not
// cover every primary-key column, or mixes ascending and descending
// directions.
func Build(table *schema.Table, orderBy []relstmt.OrderTerm, filter relexpr.Expression) (*Plan, error) {
	if err := assertPrimaryKeyOrdered(table, orderBy); err != nil {
		return nil, err
	}
	if err := assertDirectionsAgree(orderBy); err != nil {
		return nil, err
	}

	cursorCols := make([]string, len(orderBy))
	for i, t := range orderBy {
		cursorCols[i] = t.Column
	}
	inverted := invert(orderBy)

	limitParam := relexpr.Param("limit", func(ctx any) (any, error) {
		c, ok := ctx.(Ctx)
		if !ok {
			return nil, relerr.New(relerr.CodeSchemaViolation, "paginate: expected paginate.Ctx bind context")
		}
		return c.Limit, nil
	})

	gtCursor := relexpr.BinOp{L: cursorTupleExpr(cursorCols), R: cursorParamTuple(cursorCols), Op: relexpr.Gt}
	ltCursor := relexpr.BinOp{L: cursorTupleExpr(cursorCols), R: cursorParamTuple(cursorCols), Op: relexpr.Lt}

	selectCols := []relexpr.Expression{relexpr.Asterisk{}}

	loadFirst := relstmt.Select{
		TableName: table.Name,
		Columns:   selectCols,
		Where:     filter,
		OrderBy:   orderBy,
		Limit:     limitParam,
	}
	loadLast := relstmt.Select{
		TableName: table.Name,
		Columns:   selectCols,
		Where:     filter,
		OrderBy:   inverted,
		Limit:     limitParam,
	}
	loadNext := relstmt.Select{
		TableName: table.Name,
		Columns:   selectCols,
		Where:     andFilter(filter, gtCursor),
		OrderBy:   orderBy,
		Limit:     limitParam,
	}
	loadPrev := relstmt.Select{
		TableName: table.Name,
		Columns:   selectCols,
		Where:     andFilter(filter, ltCursor),
		OrderBy:   inverted,
		Limit:     limitParam,
	}
	countTotal := relstmt.Count{TableName: table.Name, Where: filter}
	countAfter := relstmt.Count{TableName: table.Name, Where: andFilter(filter, gtCursor)}
	countBefore := relstmt.Count{TableName: table.Name, Where: andFilter(filter, ltCursor)}

	return &Plan{
		OrderBy:     orderBy,
		LoadFirst:   loadFirst,
		LoadLast:    loadLast,
		LoadNext:    loadNext,
		LoadPrev:    loadPrev,
		CountTotal:  countTotal,
		CountAfter:  countAfter,
		CountBefore: countBefore,
	}, nil
}

func cursorTupleExpr(cols []string) relexpr.Expression {
	exprs := make([]relexpr.Expression, len(cols))
	for i, c := range cols {
		exprs[i] = relexpr.Col(c)
	}
	return relexpr.Tuple{Exprs: exprs}
}

func cursorParamTuple(cols []string) relexpr.Expression {
	exprs := make([]relexpr.Expression, len(cols))
	for i, c := range cols {
		col := c
		exprs[i] = relexpr.Param(col, func(ctx any) (any, error) {
			bc, ok := ctx.(Ctx)
			if !ok {
				return nil, relerr.New(relerr.CodeSchemaViolation, "paginate: expected paginate.Ctx bind context")
			}
			v, ok := bc.Cursor[col]
			if !ok {
				return nil, relerr.SchemaViolation("paginate: cursor missing column " + col)
			}
			return v, nil
		})
	}
	return relexpr.Tuple{Exprs: exprs}
}

func andFilter(filter relexpr.Expression, extra relexpr.Expression) relexpr.Expression {
	if filter == nil {
		return extra
	}
	return relexpr.BinOp{L: filter, R: extra, Op: relexpr.And}
}

func invert(orderBy []relstmt.OrderTerm) []relstmt.OrderTerm {
	out := make([]relstmt.OrderTerm, len(orderBy))
	for i, t := range orderBy {
		out[i] = relstmt.OrderTerm{Column: t.Column, Desc: !t.Desc}
	}
	return out
}

func assertPrimaryKeyOrdered(table *schema.Table, orderBy []relstmt.OrderTerm) error {
	present := make(map[string]bool, len(orderBy))
	for _, t := range orderBy {
		present[t.Column] = true
	}
	for _, pk := range table.PrimaryKey {
		if !present[pk] {
			return relerr.PaginationMisordered("orderBy must cover primary key column " + pk)
		}
	}
	return nil
}

func assertDirectionsAgree(orderBy []relstmt.OrderTerm) error {
	if len(orderBy) == 0 {
		return relerr.PaginationMisordered("orderBy must not be empty")
	}
	desc := orderBy[0].Desc
	for _, t := range orderBy[1:] {
		if t.Desc != desc {
			return relerr.PaginationMisordered("orderBy directions must be uniform (all ascending or all descending)")
		}
	}
	return nil
}
