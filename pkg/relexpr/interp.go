package relexpr

import (
	"fmt"
	"math"

	"github.com/zoravur/reactable/pkg/relerr"
)

// Eval evaluates e against row, treating row itself as the Parameter
// extraction context — the sole caller of this interpreter (the reactive
// Table's findMany delta derivation) evaluates a page filter against a
// single affected row, so Column lookups and Parameter extraction share
// the same source. Coercion mirrors the compiler: numeric ops on numbers,
// strict equality otherwise, ^ is exponentiation, / is floating division.
func Eval(e Expression, row map[string]any) (any, error) {
	switch n := e.(type) {
	case Column:
		v, ok := row[n.Name]
		if !ok {
			return nil, relerr.SchemaViolation(fmt.Sprintf("column %q not present in row", n.Name))
		}
		return v, nil
	case Constant:
		return n.Value, nil
	case Parameter:
		return n.Extract(row)
	case UnOp:
		v, err := Eval(n.E, row)
		if err != nil {
			return nil, err
		}
		return evalUnOp(n.Op, v)
	case BinOp:
		l, err := Eval(n.L, row)
		if err != nil {
			return nil, err
		}
		r, err := Eval(n.R, row)
		if err != nil {
			return nil, err
		}
		return evalBinOp(n.Op, l, r)
	case Fn:
		return nil, fmt.Errorf("relexpr: function %q has no interpreter binding", n.Name)
	case Tuple:
		vals := make([]any, len(n.Exprs))
		for i, sub := range n.Exprs {
			v, err := Eval(sub, row)
			if err != nil {
				return nil, err
			}
			vals[i] = v
		}
		return vals, nil
	default:
		return nil, unsupported(e, true)
	}
}

// EvalBool is Eval followed by a bool assertion, the common case for
// filter predicates.
func EvalBool(e Expression, row map[string]any) (bool, error) {
	v, err := Eval(e, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("relexpr: expression did not evaluate to bool, got %T", v)
	}
	return b, nil
}

func evalUnOp(op UnOpKind, v any) (any, error) {
	switch op {
	case Not:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("relexpr: NOT applied to non-bool %T", v)
		}
		return !b, nil
	case Neg:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("relexpr: unary - applied to non-numeric %T", v)
		}
		return -f, nil
	case Pos:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("relexpr: unary + applied to non-numeric %T", v)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("relexpr: unknown unary operator %q", op)
	}
}

func evalBinOp(op BinOpKind, l, r any) (any, error) {
	switch op {
	case And:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("relexpr: AND applied to non-bool operands")
		}
		return lb && rb, nil
	case Or:
		lb, lok := l.(bool)
		rb, rok := r.(bool)
		if !lok || !rok {
			return nil, fmt.Errorf("relexpr: OR applied to non-bool operands")
		}
		return lb || rb, nil
	case Eq:
		return valuesEqual(l, r), nil
	case Ne:
		return !valuesEqual(l, r), nil
	}

	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	switch op {
	case Lt, Gt, Le, Ge:
		if !lok || !rok {
			return nil, fmt.Errorf("relexpr: comparison %q applied to non-numeric operands", op)
		}
		switch op {
		case Lt:
			return lf < rf, nil
		case Gt:
			return lf > rf, nil
		case Le:
			return lf <= rf, nil
		case Ge:
			return lf >= rf, nil
		}
	case Add, Sub, Mul, Div, Pow:
		if !lok || !rok {
			return nil, fmt.Errorf("relexpr: arithmetic operator %q applied to non-numeric operands", op)
		}
		switch op {
		case Add:
			return lf + rf, nil
		case Sub:
			return lf - rf, nil
		case Mul:
			return lf * rf, nil
		case Div:
			return lf / rf, nil
		case Pow:
			return math.Pow(lf, rf), nil
		}
	}
	return nil, fmt.Errorf("relexpr: unknown binary operator %q", op)
}

func valuesEqual(l, r any) bool {
	if lf, lok := toFloat(l); lok {
		if rf, rok := toFloat(r); rok {
			return lf == rf
		}
	}
	return l == r
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
