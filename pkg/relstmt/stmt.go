// Package relstmt declares the statement AST compiled by pkg/relsql:
// Select, Count, Insert, Update, Delete. Each carries a table name and the
// expression-level pieces defined in pkg/relexpr; dispatch over the sum
// type follows the same tagged-switch idiom as pkg/relexpr rather than a
// visitor hierarchy.
package relstmt

import "github.com/zoravur/reactable/pkg/relexpr"

// OrderTerm is one column of an ORDER BY clause.
type OrderTerm struct {
	Column string
	Desc   bool
}

// Statement is the sum type: Select | Count | Insert | Update | Delete.
type Statement interface {
	stmtNode()
	Table() string
}

// Select projects columns from a table, optionally filtered, ordered, and
// limited.
type Select struct {
	TableName string
	Columns   []relexpr.Expression
	Where     relexpr.Expression // nil means no WHERE clause
	OrderBy   []OrderTerm
	Limit     relexpr.Parameterizable // nil means no LIMIT clause
}

// Count is a SELECT COUNT(*) with an optional WHERE clause.
type Count struct {
	TableName string
	Where     relexpr.Expression
}

// OnConflict describes an INSERT ... ON CONFLICT (cols) DO UPDATE SET ...
// clause.
type OnConflict struct {
	Columns []string
	Set     map[string]relexpr.Parameterizable
}

// Insert inserts one row, with an optional upsert clause.
type Insert struct {
	TableName  string
	Values     map[string]relexpr.Parameterizable
	OnConflict *OnConflict // nil means plain INSERT
}

// Update sets columns on the row identified by Key.
type Update struct {
	TableName string
	Set       map[string]relexpr.Parameterizable
	Key       map[string]relexpr.Parameterizable
}

// Delete removes the row identified by Key.
type Delete struct {
	TableName string
	Key       map[string]relexpr.Parameterizable
}

func (s Select) stmtNode() {}
func (c Count) stmtNode()  {}
func (i Insert) stmtNode() {}
func (u Update) stmtNode() {}
func (d Delete) stmtNode() {}

func (s Select) Table() string { return s.TableName }
func (c Count) Table() string  { return c.TableName }
func (i Insert) Table() string { return i.TableName }
func (u Update) Table() string { return u.TableName }
func (d Delete) Table() string { return d.TableName }
