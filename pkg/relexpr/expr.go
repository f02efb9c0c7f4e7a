// Package relexpr declares the expression AST shared by the statement model
// (pkg/relstmt), the SQL compiler (pkg/relsql) and the client-side
// interpreter in interp.go — one small closed sum type, not a general SQL
// grammar. Traversal follows the tagged-union, exhaustive-switch style used
// throughout this module's relational layer rather than a visitor
// hierarchy.
package relexpr

import (
	"fmt"

	"github.com/zoravur/reactable/pkg/relerr"
)

// BinOpKind enumerates binary operators.
type BinOpKind string

const (
	Eq  BinOpKind = "="
	Lt  BinOpKind = "<"
	Gt  BinOpKind = ">"
	Le  BinOpKind = "<="
	Ge  BinOpKind = ">="
	Ne  BinOpKind = "<>"
	Add BinOpKind = "+"
	Sub BinOpKind = "-"
	Mul BinOpKind = "*"
	Div BinOpKind = "/"
	Pow BinOpKind = "^"
	And BinOpKind = "AND"
	Or  BinOpKind = "OR"
)

// UnOpKind enumerates unary operators.
type UnOpKind string

const (
	Neg UnOpKind = "-"
	Pos UnOpKind = "+"
	Not UnOpKind = "NOT"
)

// Expression is the sum type: Column | Constant | Parameter | BinOp | UnOp |
// Fn | Tuple | Asterisk. Each variant implements exprNode as a marker; the
// type itself (via a type switch) is the tag.
type Expression interface {
	exprNode()
}

// Column references a bare column by name.
type Column struct {
	Name string
}

// Constant is a literal value known at AST-construction time.
type Constant struct {
	Value any
}

// Parameter is a late-bound value extracted from a caller-supplied context
// at bind time (spec's Parameterizable union member alongside Constant).
type Parameter struct {
	// Label identifies the parameter for diagnostics; it plays no role in
	// compilation or extraction order.
	Label   string
	Extract func(ctx any) (any, error)
}

// BinOp is a binary operation over two subexpressions.
type BinOp struct {
	L, R Expression
	Op   BinOpKind
}

// UnOp is a unary operation over one subexpression.
type UnOp struct {
	E  Expression
	Op UnOpKind
}

// Fn is an n-ary function call.
type Fn struct {
	Name string
	Args []Expression
}

// Tuple groups expressions for row-value comparison, e.g. (a, b) > (?, ?).
type Tuple struct {
	Exprs []Expression
}

// Asterisk renders as the unqualified `*` projection.
type Asterisk struct{}

func (Column) exprNode()    {}
func (Constant) exprNode()  {}
func (Parameter) exprNode() {}
func (BinOp) exprNode()     {}
func (UnOp) exprNode()      {}
func (Fn) exprNode()        {}
func (Tuple) exprNode()     {}
func (Asterisk) exprNode()  {}

// Parameterizable is the restriction of Expression to {Constant, Parameter}
// — the only node kinds legal in value positions of Insert/Update (spec
// §3's Statement definitions).
type Parameterizable interface {
	Expression
	parameterizable()
}

func (Constant) parameterizable()  {}
func (Parameter) parameterizable() {}

// Kind returns a short diagnostic tag for an Expression's dynamic type,
// used in CompileUnsupported/InterpUnsupported error messages.
func Kind(e Expression) string {
	switch e.(type) {
	case Column:
		return "Column"
	case Constant:
		return "Constant"
	case Parameter:
		return "Parameter"
	case BinOp:
		return "BinOp"
	case UnOp:
		return "UnOp"
	case Fn:
		return "Fn"
	case Tuple:
		return "Tuple"
	case Asterisk:
		return "Asterisk"
	default:
		return fmt.Sprintf("%T", e)
	}
}

// Col is a constructor shorthand for Column{Name: name}.
func Col(name string) Column { return Column{Name: name} }

// Const is a constructor shorthand for Constant{Value: v}.
func Const(v any) Constant { return Constant{Value: v} }

// Param builds a Parameter node from a typed extractor, wrapping panics
// from extractor misuse is the caller's responsibility — extract functions
// are expected to return relerr.SchemaViolation or similar on bad ctx shape
// rather than panic.
func Param(label string, extract func(ctx any) (any, error)) Parameter {
	return Parameter{Label: label, Extract: extract}
}

// unsupported builds the InterpUnsupported (interp true) or
// CompileUnsupported error for an AST node whose kind isn't handled by a
// particular exhaustive switch. Only the interpreter calls it; pkg/relsql
// builds its errors with relerr directly.
func unsupported(e Expression, interp bool) error {
	if interp {
		return relerr.InterpUnsupported(Kind(e))
	}
	return relerr.CompileUnsupported(Kind(e))
}
