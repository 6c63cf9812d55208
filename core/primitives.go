package fez

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Placeholder pre-declares a global variable before any evaluation.
type Placeholder struct {
	Name  string
	Value Value
}

// BuildGlobalEnv returns a fresh global environment holding every primitive
// and placeholder exactly once.
func BuildGlobalEnv(prims []Primitive, placeholders []Placeholder) (*Env, error) {
	env := NewGlobalEnv()
	for i := range prims {
		p := &prims[i]
		if p.Arity < 0 {
			return nil, fmt.Errorf("primitive %s: negative arity", p.Name)
		}
		if p.Fn == nil {
			return nil, fmt.Errorf("primitive %s: missing implementation", p.Name)
		}
		if err := env.Define(p.Name, PrimitiveVal(p)); err != nil {
			return nil, err
		}
	}
	for _, ph := range placeholders {
		if err := env.Define(ph.Name, ph.Value); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// NewDefaultGlobalEnv builds the global environment from DefaultPrimitives
// and DefaultPlaceholders, printing to stdout.
func NewDefaultGlobalEnv() *Env {
	env, err := BuildGlobalEnv(DefaultPrimitives(os.Stdout), DefaultPlaceholders())
	if err != nil {
		// the default tables contain no duplicates
		panic(err)
	}
	return env
}

func DefaultPlaceholders() []Placeholder {
	return []Placeholder{
		{Name: "t", Value: True},
		{Name: "f", Value: False},
		{Name: "nil", Value: Nil},
		{Name: "foo", Value: Unspecified},
		{Name: "bar", Value: Unspecified},
		{Name: "fib", Value: Unspecified},
		{Name: "fact", Value: Unspecified},
	}
}

var errDivByZero = errors.New("division by zero")

// DefaultPrimitives returns the host procedures of the global environment.
// display and newline write to out.
func DefaultPrimitives(out io.Writer) []Primitive {
	return []Primitive{
		// Pairs
		{Name: "cons", Arity: 2, Fn: primCons},
		{Name: "car", Arity: 1, Fn: primCar},
		{Name: "cdr", Arity: 1, Fn: primCdr},
		{Name: "set-car!", Arity: 2, Fn: primSetCar},
		{Name: "set-cdr!", Arity: 2, Fn: primSetCdr},
		// Arithmetic
		{Name: "+", Arity: 2, Fn: arith("+", func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b })},
		{Name: "-", Arity: 2, Fn: arith("-", func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b })},
		{Name: "*", Arity: 2, Fn: arith("*", func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b })},
		{Name: "/", Arity: 2, Fn: primDiv},
		// Comparison
		{Name: "<", Arity: 2, Fn: compare("<", func(c int) bool { return c < 0 })},
		{Name: ">", Arity: 2, Fn: compare(">", func(c int) bool { return c > 0 })},
		{Name: "=", Arity: 2, Fn: compare("=", func(c int) bool { return c == 0 })},
		{Name: "eq?", Arity: 2, Fn: func(args []Value) (Value, error) { return BoolVal(Eq(args[0], args[1])), nil }},
		{Name: "equal?", Arity: 2, Fn: func(args []Value) (Value, error) { return BoolVal(Equal(args[0], args[1])), nil }},
		// Predicates
		{Name: "null?", Arity: 1, Fn: kindPredicate(ValNil)},
		{Name: "pair?", Arity: 1, Fn: kindPredicate(ValPair)},
		{Name: "symbol?", Arity: 1, Fn: kindPredicate(ValSymbol)},
		{Name: "procedure?", Arity: 1, Fn: func(args []Value) (Value, error) { return BoolVal(args[0].Callable()), nil }},
		{Name: "not", Arity: 1, Fn: func(args []Value) (Value, error) { return BoolVal(args[0].IsFalse()), nil }},
		// Vectors
		{Name: "vector-ref", Arity: 2, Fn: primVectorRef},
		{Name: "vector-length", Arity: 1, Fn: primVectorLength},
		// Output
		{Name: "display", Arity: 1, Fn: func(args []Value) (Value, error) {
			if _, err := io.WriteString(out, args[0].Display()); err != nil {
				return Value{}, &PrimitiveError{Name: "display", Err: err}
			}
			return Unspecified, nil
		}},
		{Name: "newline", Arity: 0, Fn: func(args []Value) (Value, error) {
			if _, err := io.WriteString(out, "\n"); err != nil {
				return Value{}, &PrimitiveError{Name: "newline", Err: err}
			}
			return Unspecified, nil
		}},
	}
}

func primCons(args []Value) (Value, error) {
	return Cons(args[0], args[1]), nil
}

func pairArg(name string, v Value) (*Pair, error) {
	if v.Kind != ValPair {
		return nil, &PrimitiveError{Name: name, Err: fmt.Errorf("expected Pair, got %s", v.KindName())}
	}
	return v.Pair, nil
}

func primCar(args []Value) (Value, error) {
	p, err := pairArg("car", args[0])
	if err != nil {
		return Value{}, err
	}
	return p.Car, nil
}

func primCdr(args []Value) (Value, error) {
	p, err := pairArg("cdr", args[0])
	if err != nil {
		return Value{}, err
	}
	return p.Cdr, nil
}

func primSetCar(args []Value) (Value, error) {
	p, err := pairArg("set-car!", args[0])
	if err != nil {
		return Value{}, err
	}
	p.Car = args[1]
	return args[1], nil
}

func primSetCdr(args []Value) (Value, error) {
	p, err := pairArg("set-cdr!", args[0])
	if err != nil {
		return Value{}, err
	}
	p.Cdr = args[1]
	return args[1], nil
}

// numericArgs extracts two numeric args, promoting to float if mixed.
func numericArgs(name string, args []Value) (int64, int64, float64, float64, bool, error) {
	a, b := args[0], args[1]
	if a.Kind == ValInt && b.Kind == ValInt {
		return a.Int, b.Int, 0, 0, false, nil
	}
	fa, err := toFloat(name, a)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	fb, err := toFloat(name, b)
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	return 0, 0, fa, fb, true, nil
}

func toFloat(name string, v Value) (float64, error) {
	switch v.Kind {
	case ValInt:
		return float64(v.Int), nil
	case ValFloat:
		return v.Float, nil
	default:
		return 0, &PrimitiveError{Name: name, Err: fmt.Errorf("expected number, got %s", v.KindName())}
	}
}

func arith(name string, onInt func(a, b int64) int64, onFloat func(a, b float64) float64) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		ai, bi, af, bf, isFloat, err := numericArgs(name, args)
		if err != nil {
			return Value{}, err
		}
		if isFloat {
			return FloatVal(onFloat(af, bf)), nil
		}
		return IntVal(onInt(ai, bi)), nil
	}
}

func primDiv(args []Value) (Value, error) {
	ai, bi, af, bf, isFloat, err := numericArgs("/", args)
	if err != nil {
		return Value{}, err
	}
	if isFloat {
		if bf == 0 {
			return Value{}, &PrimitiveError{Name: "/", Err: errDivByZero}
		}
		return FloatVal(af / bf), nil
	}
	if bi == 0 {
		return Value{}, &PrimitiveError{Name: "/", Err: errDivByZero}
	}
	if ai%bi != 0 {
		return FloatVal(float64(ai) / float64(bi)), nil
	}
	return IntVal(ai / bi), nil
}

func compare(name string, ok func(cmp int) bool) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		ai, bi, af, bf, isFloat, err := numericArgs(name, args)
		if err != nil {
			return Value{}, err
		}
		cmp := 0
		if isFloat {
			switch {
			case af < bf:
				cmp = -1
			case af > bf:
				cmp = 1
			}
		} else {
			switch {
			case ai < bi:
				cmp = -1
			case ai > bi:
				cmp = 1
			}
		}
		return BoolVal(ok(cmp)), nil
	}
}

func kindPredicate(kind ValueKind) func([]Value) (Value, error) {
	return func(args []Value) (Value, error) {
		return BoolVal(args[0].Kind == kind), nil
	}
}

func primVectorRef(args []Value) (Value, error) {
	if args[0].Kind != ValVector {
		return Value{}, &PrimitiveError{Name: "vector-ref", Err: fmt.Errorf("expected Vector, got %s", args[0].KindName())}
	}
	if args[1].Kind != ValInt {
		return Value{}, &PrimitiveError{Name: "vector-ref", Err: fmt.Errorf("expected Int index, got %s", args[1].KindName())}
	}
	elems := *args[0].Vector
	idx := args[1].Int
	if idx < 0 || idx >= int64(len(elems)) {
		return Value{}, &PrimitiveError{Name: "vector-ref", Err: fmt.Errorf("index %d out of range", idx)}
	}
	return elems[idx], nil
}

func primVectorLength(args []Value) (Value, error) {
	if args[0].Kind != ValVector {
		return Value{}, &PrimitiveError{Name: "vector-length", Err: fmt.Errorf("expected Vector, got %s", args[0].KindName())}
	}
	return IntVal(int64(len(*args[0].Vector))), nil
}
