package relexpr

import "testing"

func TestEvalColumn(t *testing.T) {
	row := map[string]any{"id": 7}
	v, err := Eval(Col("id"), row)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != 7 {
		t.Errorf("want 7, got %v", v)
	}
}

func TestEvalColumnMissing(t *testing.T) {
	_, err := Eval(Col("missing"), map[string]any{"id": 1})
	if err == nil {
		t.Fatal("want error for missing column, got nil")
	}
}

func TestEvalConstant(t *testing.T) {
	v, err := Eval(Const("hi"), nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != "hi" {
		t.Errorf("want hi, got %v", v)
	}
}

func TestEvalParameter(t *testing.T) {
	p := Param("name", func(ctx any) (any, error) {
		row := ctx.(map[string]any)
		return row["name"], nil
	})
	v, err := Eval(p, map[string]any{"name": "alice"})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != "alice" {
		t.Errorf("want alice, got %v", v)
	}
}

func TestEvalBinOpArithmetic(t *testing.T) {
	cases := []struct {
		op   BinOpKind
		l, r float64
		want float64
	}{
		{Add, 2, 3, 5},
		{Sub, 5, 3, 2},
		{Mul, 4, 3, 12},
		{Div, 10, 4, 2.5},
		{Pow, 2, 3, 8},
	}
	for _, c := range cases {
		v, err := Eval(BinOp{L: Const(c.l), R: Const(c.r), Op: c.op}, nil)
		if err != nil {
			t.Fatalf("op %q: %v", c.op, err)
		}
		if v != c.want {
			t.Errorf("op %q: want %v, got %v", c.op, c.want, v)
		}
	}
}

func TestEvalBinOpComparison(t *testing.T) {
	cases := []struct {
		op   BinOpKind
		l, r float64
		want bool
	}{
		{Lt, 1, 2, true},
		{Gt, 2, 1, true},
		{Le, 2, 2, true},
		{Ge, 2, 3, false},
	}
	for _, c := range cases {
		v, err := Eval(BinOp{L: Const(c.l), R: Const(c.r), Op: c.op}, nil)
		if err != nil {
			t.Fatalf("op %q: %v", c.op, err)
		}
		if v != c.want {
			t.Errorf("op %q: want %v, got %v", c.op, c.want, v)
		}
	}
}

func TestEvalBinOpEqualityCoercesNumericTypes(t *testing.T) {
	v, err := Eval(BinOp{L: Const(int64(3)), R: Const(float64(3)), Op: Eq}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != true {
		t.Errorf("want true comparing int64(3) == float64(3), got %v", v)
	}
}

func TestEvalBinOpAndOr(t *testing.T) {
	v, err := Eval(BinOp{L: Const(true), R: Const(false), Op: And}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != false {
		t.Errorf("want false, got %v", v)
	}

	v, err = Eval(BinOp{L: Const(true), R: Const(false), Op: Or}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != true {
		t.Errorf("want true, got %v", v)
	}
}

func TestEvalUnOpNot(t *testing.T) {
	v, err := Eval(UnOp{E: Const(true), Op: Not}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != false {
		t.Errorf("want false, got %v", v)
	}
}

func TestEvalUnOpNeg(t *testing.T) {
	v, err := Eval(UnOp{E: Const(5.0), Op: Neg}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if v != -5.0 {
		t.Errorf("want -5, got %v", v)
	}
}

func TestEvalTuple(t *testing.T) {
	v, err := Eval(Tuple{Exprs: []Expression{Const(1), Const(2)}}, nil)
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	vals, ok := v.([]any)
	if !ok || len(vals) != 2 {
		t.Fatalf("want 2-element []any, got %#v", v)
	}
}

func TestEvalBoolRejectsNonBool(t *testing.T) {
	_, err := EvalBool(Const(5), nil)
	if err == nil {
		t.Fatal("want error evaluating non-bool as bool")
	}
}

func TestEvalFnUnsupported(t *testing.T) {
	_, err := Eval(Fn{Name: "lower", Args: []Expression{Const("X")}}, nil)
	if err == nil {
		t.Fatal("want error for uninterpreted Fn")
	}
}

func TestKindNamesEachVariant(t *testing.T) {
	cases := []struct {
		e    Expression
		want string
	}{
		{Col("a"), "Column"},
		{Const(1), "Constant"},
		{Parameter{}, "Parameter"},
		{BinOp{}, "BinOp"},
		{UnOp{}, "UnOp"},
		{Fn{}, "Fn"},
		{Tuple{}, "Tuple"},
		{Asterisk{}, "Asterisk"},
	}
	for _, c := range cases {
		if got := Kind(c.e); got != c.want {
			t.Errorf("Kind(%T) = %q, want %q", c.e, got, c.want)
		}
	}
}
