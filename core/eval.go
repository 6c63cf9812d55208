package fez

import (
	"fmt"
)

// DefaultMaxDepth bounds nested (non-tail) evaluation.
const DefaultMaxDepth = 10000

// Evaluator evaluates expressions. Tail positions (if branches, the last
// form of begin, closure bodies) loop instead of recursing, so only
// non-tail nesting counts towards MaxDepth.
type Evaluator struct {
	MaxDepth int // 0 means unlimited
	depth    int
}

func NewEvaluator() *Evaluator {
	return &Evaluator{MaxDepth: DefaultMaxDepth}
}

// Eval evaluates expr in env with a fresh default evaluator.
func Eval(expr Value, env *Env) (Value, error) {
	return NewEvaluator().Eval(expr, env)
}

// Apply calls fn with already evaluated args.
func Apply(fn Value, args []Value) (Value, error) {
	return NewEvaluator().Apply(fn, args)
}

func (e *Evaluator) Eval(expr Value, env *Env) (Value, error) {
	if e.MaxDepth > 0 && e.depth >= e.MaxDepth {
		return Value{}, ErrDepthExceeded
	}
	e.depth++
	defer func() { e.depth-- }()

	for {
		switch expr.Kind {
		case ValSymbol:
			return env.Lookup(expr.Str)
		case ValInt, ValFloat, ValString, ValBool, ValVector:
			return expr, nil
		case ValPair:
			// combination, handled below
		default:
			return Value{}, &UnevaluableError{Expr: expr}
		}

		head, rest := expr.Pair.Car, expr.Pair.Cdr

		if head.Kind == ValSymbol {
			switch head.Str {
			case "quote":
				return evalQuote(rest)

			case "if":
				test, conseq, alt, hasAlt, err := ifParts(rest)
				if err != nil {
					return Value{}, err
				}
				cond, err := e.Eval(test, env)
				if err != nil {
					return Value{}, err
				}
				if !cond.IsFalse() {
					expr = conseq
					continue
				}
				if !hasAlt {
					return Unspecified, nil
				}
				expr = alt
				continue

			case "begin":
				body, err := ListToSlice(rest)
				if err != nil {
					return Value{}, &SyntaxError{Form: "begin", Reason: err.Error()}
				}
				if len(body) == 0 {
					return Unspecified, nil
				}
				if err := e.evalButLast(body, env); err != nil {
					return Value{}, err
				}
				expr = body[len(body)-1]
				continue

			case "set!":
				return e.evalSet(rest, env)

			case "lambda":
				return evalLambda(rest, env)
			}
		}

		fn, err := e.Eval(head, env)
		if err != nil {
			return Value{}, err
		}
		args, err := e.evalOperands(rest, env)
		if err != nil {
			return Value{}, err
		}

		if fn.Kind != ValClosure {
			return e.Apply(fn, args)
		}

		// Closure call in tail position: continue in the new frame.
		c := fn.Closure
		frame, err := Extend(c.Env, c.Params, args)
		if err != nil {
			return Value{}, err
		}
		if len(c.Body) == 0 {
			return Unspecified, nil
		}
		if err := e.evalButLast(c.Body, frame); err != nil {
			return Value{}, err
		}
		expr, env = c.Body[len(c.Body)-1], frame
	}
}

// Apply invokes a primitive or closure.
func (e *Evaluator) Apply(fn Value, args []Value) (Value, error) {
	switch fn.Kind {
	case ValPrimitive:
		p := fn.Prim
		if len(args) != p.Arity {
			return Value{}, &ArityError{Context: p.Name, Expected: p.Arity, Actual: len(args)}
		}
		return p.Fn(args)
	case ValClosure:
		c := fn.Closure
		frame, err := Extend(c.Env, c.Params, args)
		if err != nil {
			return Value{}, err
		}
		return e.EvalSequence(c.Body, frame)
	default:
		return Value{}, &NotCallableError{Value: fn}
	}
}

// EvalSequence evaluates body left to right and returns the last result,
// or Unspecified when body is empty.
func (e *Evaluator) EvalSequence(body []Value, env *Env) (Value, error) {
	if len(body) == 0 {
		return Unspecified, nil
	}
	if err := e.evalButLast(body, env); err != nil {
		return Value{}, err
	}
	return e.Eval(body[len(body)-1], env)
}

func (e *Evaluator) evalButLast(body []Value, env *Env) error {
	for _, x := range body[:len(body)-1] {
		if _, err := e.Eval(x, env); err != nil {
			return err
		}
	}
	return nil
}

func (e *Evaluator) evalOperands(operands Value, env *Env) ([]Value, error) {
	var args []Value
	for operands.Kind == ValPair {
		val, err := e.Eval(operands.Pair.Car, env)
		if err != nil {
			return nil, err
		}
		args = append(args, val)
		operands = operands.Pair.Cdr
	}
	if operands.Kind != ValNil {
		return nil, &SyntaxError{Form: "combination", Reason: "improper operand list"}
	}
	return args, nil
}

// evalQuote: (quote datum)
func evalQuote(rest Value) (Value, error) {
	parts, err := ListToSlice(rest)
	if err != nil || len(parts) != 1 {
		return Value{}, &SyntaxError{Form: "quote", Reason: "expected exactly 1 datum"}
	}
	return parts[0], nil
}

// ifParts destructures (if test conseq [alt]).
func ifParts(rest Value) (test, conseq, alt Value, hasAlt bool, err error) {
	parts, lerr := ListToSlice(rest)
	if lerr != nil || len(parts) < 2 || len(parts) > 3 {
		err = &SyntaxError{Form: "if", Reason: "expected (if test consequent [alternate])"}
		return
	}
	test, conseq = parts[0], parts[1]
	if len(parts) == 3 {
		alt, hasAlt = parts[2], true
	}
	return
}

// evalSet: (set! name expr)
func (e *Evaluator) evalSet(rest Value, env *Env) (Value, error) {
	parts, err := ListToSlice(rest)
	if err != nil || len(parts) != 2 {
		return Value{}, &SyntaxError{Form: "set!", Reason: "expected (set! name expr)"}
	}
	if parts[0].Kind != ValSymbol {
		return Value{}, &SyntaxError{Form: "set!", Reason: fmt.Sprintf("target must be a symbol, got %s", parts[0].String())}
	}
	val, err := e.Eval(parts[1], env)
	if err != nil {
		return Value{}, err
	}
	return env.Update(parts[0].Str, val)
}

// evalLambda: (lambda params body...) closes over the current env.
func evalLambda(rest Value, env *Env) (Value, error) {
	if rest.Kind != ValPair {
		return Value{}, &SyntaxError{Form: "lambda", Reason: "expected (lambda params body...)"}
	}
	params := rest.Pair.Car
	if err := checkParams(params); err != nil {
		return Value{}, err
	}
	body, err := ListToSlice(rest.Pair.Cdr)
	if err != nil {
		return Value{}, &SyntaxError{Form: "lambda", Reason: err.Error()}
	}
	return ClosureVal(&Closure{Params: params, Body: body, Env: env}), nil
}

func checkParams(params Value) error {
	seen := make(map[string]bool)
	p := params
	for p.Kind == ValPair {
		if p.Pair.Car.Kind != ValSymbol {
			return &SyntaxError{Form: "lambda", Reason: "parameter must be a symbol, got " + p.Pair.Car.String()}
		}
		if seen[p.Pair.Car.Str] {
			return &SyntaxError{Form: "lambda", Reason: "duplicate parameter " + p.Pair.Car.Str}
		}
		seen[p.Pair.Car.Str] = true
		p = p.Pair.Cdr
	}
	switch p.Kind {
	case ValNil:
		return nil
	case ValSymbol:
		if seen[p.Str] {
			return &SyntaxError{Form: "lambda", Reason: "duplicate parameter " + p.Str}
		}
		return nil
	default:
		return &SyntaxError{Form: "lambda", Reason: "malformed parameter list " + params.String()}
	}
}

// EvalString reads a single expression from input and evaluates it in env.
func (e *Evaluator) EvalString(input string, env *Env) (Value, error) {
	expr, err := Read(input)
	if err != nil {
		return Value{}, fmt.Errorf("parse error: %w", err)
	}
	return e.Eval(expr, env)
}

// EvalAll evaluates every top-level form in input and returns the last
// result, or Unspecified for input with no forms.
func (e *Evaluator) EvalAll(input string, env *Env) (Value, error) {
	exprs, err := ReadAll(input)
	if err != nil {
		return Value{}, fmt.Errorf("parse error: %w", err)
	}
	return e.EvalSequence(exprs, env)
}
