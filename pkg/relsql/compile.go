// Package relsql compiles a relstmt.Statement into parameterized SQL text
// plus a parameter extractor — a pure function from a caller-supplied
// context to the ordered list of bind values the text's `?` placeholders
// expect. Rendering follows a fixed, bit-exact contract: every BinOp is
// fully parenthesized, Constants and Parameters both render as `?`, and
// map-valued statement fields (Insert.Values, Update.Set/Key) are
// traversed in sorted-key order so the same statement always compiles to
// the same text and extractor schedule.
package relsql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zoravur/reactable/pkg/relerr"
	"github.com/zoravur/reactable/pkg/relexpr"
	"github.com/zoravur/reactable/pkg/relstmt"
)

// Extractor maps a caller context to the ordered bind values a compiled
// statement's placeholders expect.
type Extractor func(ctx any) ([]any, error)

// Compiled is the result of compiling a Statement.
type Compiled struct {
	SQL     string
	Extract Extractor
}

// schedule accumulates Parameterizable nodes in left-to-right rendering
// order; Compile converts it into an Extractor after rendering completes.
type schedule struct {
	params []relexpr.Expression
}

func (s *schedule) add(e relexpr.Expression) {
	s.params = append(s.params, e)
}

func (s *schedule) extractor() Extractor {
	params := s.params
	return func(ctx any) ([]any, error) {
		out := make([]any, len(params))
		for i, p := range params {
			v, err := extractOne(p, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
}

func extractOne(e relexpr.Expression, ctx any) (any, error) {
	switch n := e.(type) {
	case relexpr.Constant:
		return n.Value, nil
	case relexpr.Parameter:
		return n.Extract(ctx)
	default:
		return nil, relerr.CompileUnsupported(relexpr.Kind(e))
	}
}

// Compile renders stmt to SQL text and a parameter extractor.
func Compile(stmt relstmt.Statement) (Compiled, error) {
	sc := &schedule{}
	var sql string
	var err error
	switch s := stmt.(type) {
	case relstmt.Select:
		sql, err = compileSelect(s, sc)
	case relstmt.Count:
		sql, err = compileCount(s, sc)
	case relstmt.Insert:
		sql, err = compileInsert(s, sc)
	case relstmt.Update:
		sql, err = compileUpdate(s, sc)
	case relstmt.Delete:
		sql, err = compileDelete(s, sc)
	default:
		err = fmt.Errorf("relsql: unsupported statement type %T", stmt)
	}
	if err != nil {
		return Compiled{}, err
	}
	return Compiled{SQL: sql, Extract: sc.extractor()}, nil
}

func compileSelect(s relstmt.Select, sc *schedule) (string, error) {
	cols := "*"
	if len(s.Columns) > 0 {
		parts := make([]string, len(s.Columns))
		for i, c := range s.Columns {
			rendered, err := renderExpr(c, sc)
			if err != nil {
				return "", err
			}
			parts[i] = rendered
		}
		cols = strings.Join(parts, ", ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, s.TableName)
	if s.Where != nil {
		where, err := renderExpr(s.Where, sc)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " WHERE %s", where)
	}
	if len(s.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(renderOrderBy(s.OrderBy))
	}
	if s.Limit != nil {
		sc.add(s.Limit)
		b.WriteString(" LIMIT ?")
	}
	return b.String(), nil
}

func compileCount(c relstmt.Count, sc *schedule) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT COUNT(*) FROM %s", c.TableName)
	if c.Where != nil {
		where, err := renderExpr(c.Where, sc)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " WHERE %s", where)
	}
	return b.String(), nil
}

func compileInsert(ins relstmt.Insert, sc *schedule) (string, error) {
	cols := sortedKeys(ins.Values)
	if len(cols) == 0 {
		return "", relerr.SchemaViolation("insert requires at least one column value")
	}
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		sc.add(ins.Values[col])
		placeholders[i] = "?"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES (%s)",
		ins.TableName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if ins.OnConflict != nil {
		setCols := sortedKeys(ins.OnConflict.Set)
		setParts := make([]string, len(setCols))
		for i, col := range setCols {
			sc.add(ins.OnConflict.Set[col])
			setParts[i] = fmt.Sprintf("%s = ?", col)
		}
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(ins.OnConflict.Columns, ", "), strings.Join(setParts, ", "))
	}
	return b.String(), nil
}

func compileUpdate(u relstmt.Update, sc *schedule) (string, error) {
	setCols := sortedKeys(u.Set)
	if len(setCols) == 0 {
		// EmptyUpdate is a silent no-op, not an error; the caller (storage
		// adapter) is responsible for short-circuiting before reaching the
		// compiler. Compiling it anyway would produce invalid SQL, so this
		// is still a hard error at this layer.
		return "", relerr.New(relerr.CodeSchemaViolation, "update requires at least one set column")
	}
	setParts := make([]string, len(setCols))
	for i, col := range setCols {
		sc.add(u.Set[col])
		setParts[i] = fmt.Sprintf("%s = ?", col)
	}
	keyCols := sortedKeys(u.Key)
	keyParts := make([]string, len(keyCols))
	for i, col := range keyCols {
		sc.add(u.Key[col])
		keyParts[i] = fmt.Sprintf("%s = ?", col)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		u.TableName, strings.Join(setParts, ", "), strings.Join(keyParts, " AND ")), nil
}

func compileDelete(d relstmt.Delete, sc *schedule) (string, error) {
	keyCols := sortedKeys(d.Key)
	keyParts := make([]string, len(keyCols))
	for i, col := range keyCols {
		sc.add(d.Key[col])
		keyParts[i] = fmt.Sprintf("%s = ?", col)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.TableName, strings.Join(keyParts, " AND ")), nil
}

func renderOrderBy(terms []relstmt.OrderTerm) string {
	parts := make([]string, len(terms))
	for i, t := range terms {
		dir := "ASC"
		if t.Desc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s %s", t.Column, dir)
	}
	return strings.Join(parts, ", ")
}

// renderExpr renders e to SQL text, appending any Constant/Parameter leaves
// it encounters to sc in left-to-right order.
func renderExpr(e relexpr.Expression, sc *schedule) (string, error) {
	switch n := e.(type) {
	case relexpr.Asterisk:
		return "*", nil
	case relexpr.Column:
		return n.Name, nil
	case relexpr.Constant:
		sc.add(n)
		return "?", nil
	case relexpr.Parameter:
		sc.add(n)
		return "?", nil
	case relexpr.UnOp:
		inner, err := renderExpr(n.E, sc)
		if err != nil {
			return "", err
		}
		op := string(n.Op)
		if n.Op == relexpr.Not {
			return fmt.Sprintf("(NOT %s)", inner), nil
		}
		return fmt.Sprintf("(%s%s)", op, inner), nil
	case relexpr.BinOp:
		l, err := renderExpr(n.L, sc)
		if err != nil {
			return "", err
		}
		r, err := renderExpr(n.R, sc)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", l, n.Op, r), nil
	case relexpr.Fn:
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			rendered, err := renderExpr(a, sc)
			if err != nil {
				return "", err
			}
			args[i] = rendered
		}
		return fmt.Sprintf("%s(%s)", n.Name, strings.Join(args, ", ")), nil
	case relexpr.Tuple:
		parts := make([]string, len(n.Exprs))
		for i, sub := range n.Exprs {
			rendered, err := renderExpr(sub, sc)
			if err != nil {
				return "", err
			}
			parts[i] = rendered
		}
		return fmt.Sprintf("(%s)", strings.Join(parts, ", ")), nil
	default:
		return "", relerr.CompileUnsupported(relexpr.Kind(e))
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
