package fez

import (
	"fmt"
	"strconv"
	"strings"
)

type ValueKind int

const (
	ValInt ValueKind = iota
	ValFloat
	ValBool
	ValString
	ValSymbol
	ValNil // the empty list
	ValPair
	ValVector
	ValClosure
	ValPrimitive
	ValUnspecified // result of an empty begin
)

// Pair is a mutable cons cell. Lists are chains of pairs ending in ValNil.
type Pair struct {
	Car Value
	Cdr Value
}

// Closure is a procedure value. Env is captured by reference, so later
// mutations of outer bindings are visible inside the body.
type Closure struct {
	Params Value
	Body   []Value
	Env    *Env
}

// Primitive is a host procedure with a fixed arity.
type Primitive struct {
	Name  string
	Arity int
	Fn    func(args []Value) (Value, error)
}

type Value struct {
	Kind    ValueKind
	Int     int64
	Float   float64
	Bool    bool
	Str     string
	Pair    *Pair
	Vector  *[]Value
	Closure *Closure
	Prim    *Primitive
}

var (
	True        = Value{Kind: ValBool, Bool: true}
	False       = Value{Kind: ValBool, Bool: false}
	Nil         = Value{Kind: ValNil}
	Unspecified = Value{Kind: ValUnspecified}
)

func IntVal(n int64) Value     { return Value{Kind: ValInt, Int: n} }
func FloatVal(f float64) Value { return Value{Kind: ValFloat, Float: f} }
func StringVal(s string) Value { return Value{Kind: ValString, Str: s} }
func Sym(name string) Value    { return Value{Kind: ValSymbol, Str: name} }

func BoolVal(b bool) Value {
	if b {
		return True
	}
	return False
}

func Cons(car, cdr Value) Value {
	return Value{Kind: ValPair, Pair: &Pair{Car: car, Cdr: cdr}}
}

func VectorVal(elems []Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Kind: ValVector, Vector: &elems}
}

func ClosureVal(c *Closure) Value     { return Value{Kind: ValClosure, Closure: c} }
func PrimitiveVal(p *Primitive) Value { return Value{Kind: ValPrimitive, Prim: p} }

// List builds a proper list from elems.
func List(elems ...Value) Value {
	return ListWithTail(elems, Nil)
}

// ListWithTail builds a list of elems terminated by tail instead of ().
func ListWithTail(elems []Value, tail Value) Value {
	result := tail
	for i := len(elems) - 1; i >= 0; i-- {
		result = Cons(elems[i], result)
	}
	return result
}

// ListToSlice flattens a proper list. Improper and circular lists are an
// error.
func ListToSlice(v Value) ([]Value, error) {
	var out []Value
	slow := v
	for v.Kind == ValPair {
		out = append(out, v.Pair.Car)
		v = v.Pair.Cdr
		if len(out)%2 == 0 {
			slow = slow.Pair.Cdr
			if v.Kind == ValPair && v.Pair == slow.Pair {
				return nil, fmt.Errorf("circular list")
			}
		}
	}
	if v.Kind != ValNil {
		return nil, fmt.Errorf("improper list ending in %s", v.String())
	}
	return out, nil
}

// IsFalse is the only truth test of the dialect: #f is false, everything
// else (0, "", the empty list) is true.
func (v Value) IsFalse() bool {
	return v.Kind == ValBool && !v.Bool
}

func (v Value) IsSymbol(name string) bool {
	return v.Kind == ValSymbol && v.Str == name
}

func (v Value) Callable() bool {
	return v.Kind == ValClosure || v.Kind == ValPrimitive
}

func (v Value) String() string {
	var sb strings.Builder
	writeValue(&sb, v, true, &path{})
	return sb.String()
}

// Display renders v the way display does: strings without quotes.
func (v Value) Display() string {
	var sb strings.Builder
	writeValue(&sb, v, false, &path{})
	return sb.String()
}

// path holds the pairs and vectors enclosing the value being written. A
// reference back into it is a cycle and is written as "...".
type path struct {
	pairs   map[*Pair]bool
	vectors map[*[]Value]bool
}

func (p *path) enterPair(c *Pair) bool {
	if p.pairs[c] {
		return false
	}
	if p.pairs == nil {
		p.pairs = make(map[*Pair]bool)
	}
	p.pairs[c] = true
	return true
}

func (p *path) enterVector(vec *[]Value) bool {
	if p.vectors[vec] {
		return false
	}
	if p.vectors == nil {
		p.vectors = make(map[*[]Value]bool)
	}
	p.vectors[vec] = true
	return true
}

func writeValue(sb *strings.Builder, v Value, quoted bool, seen *path) {
	switch v.Kind {
	case ValInt:
		sb.WriteString(strconv.FormatInt(v.Int, 10))
	case ValFloat:
		s := strconv.FormatFloat(v.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEIN") {
			s += ".0"
		}
		sb.WriteString(s)
	case ValBool:
		if v.Bool {
			sb.WriteString("#t")
		} else {
			sb.WriteString("#f")
		}
	case ValString:
		if quoted {
			sb.WriteString(quoteString(v.Str))
		} else {
			sb.WriteString(v.Str)
		}
	case ValSymbol:
		sb.WriteString(v.Str)
	case ValNil:
		sb.WriteString("()")
	case ValPair:
		if !seen.enterPair(v.Pair) {
			sb.WriteString("...")
			return
		}
		entered := []*Pair{v.Pair}
		defer func() {
			for _, c := range entered {
				delete(seen.pairs, c)
			}
		}()
		if v.Pair.Car.IsSymbol("quote") && v.Pair.Cdr.Kind == ValPair && v.Pair.Cdr.Pair.Cdr.Kind == ValNil {
			sb.WriteByte('\'')
			writeValue(sb, v.Pair.Cdr.Pair.Car, quoted, seen)
			return
		}
		sb.WriteByte('(')
		writeValue(sb, v.Pair.Car, quoted, seen)
		rest := v.Pair.Cdr
		for rest.Kind == ValPair {
			if !seen.enterPair(rest.Pair) {
				break
			}
			entered = append(entered, rest.Pair)
			sb.WriteByte(' ')
			writeValue(sb, rest.Pair.Car, quoted, seen)
			rest = rest.Pair.Cdr
		}
		if rest.Kind != ValNil {
			sb.WriteString(" . ")
			writeValue(sb, rest, quoted, seen)
		}
		sb.WriteByte(')')
	case ValVector:
		if !seen.enterVector(v.Vector) {
			sb.WriteString("...")
			return
		}
		defer delete(seen.vectors, v.Vector)
		sb.WriteString("#(")
		for i, e := range *v.Vector {
			if i > 0 {
				sb.WriteByte(' ')
			}
			writeValue(sb, e, quoted, seen)
		}
		sb.WriteByte(')')
	case ValClosure:
		fmt.Fprintf(sb, "#<closure %s>", v.Closure.Params.String())
	case ValPrimitive:
		fmt.Fprintf(sb, "#<primitive %s/%d>", v.Prim.Name, v.Prim.Arity)
	case ValUnspecified:
		sb.WriteString("#<unspecified>")
	default:
		fmt.Fprintf(sb, "#<unknown:%d>", v.Kind)
	}
}

func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func (v Value) KindName() string {
	switch v.Kind {
	case ValInt:
		return "Int"
	case ValFloat:
		return "Float"
	case ValBool:
		return "Bool"
	case ValString:
		return "String"
	case ValSymbol:
		return "Symbol"
	case ValNil:
		return "Nil"
	case ValPair:
		return "Pair"
	case ValVector:
		return "Vector"
	case ValClosure:
		return "Closure"
	case ValPrimitive:
		return "Primitive"
	case ValUnspecified:
		return "Unspecified"
	default:
		return "Unknown"
	}
}

// Eq is identity: heap objects compare by pointer, atoms by value.
func Eq(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValInt:
		return a.Int == b.Int
	case ValFloat:
		return a.Float == b.Float
	case ValBool:
		return a.Bool == b.Bool
	case ValString:
		return a.Str == b.Str
	case ValSymbol:
		return a.Str == b.Str
	case ValNil, ValUnspecified:
		return true
	case ValPair:
		return a.Pair == b.Pair
	case ValVector:
		return a.Vector == b.Vector
	case ValClosure:
		return a.Closure == b.Closure
	case ValPrimitive:
		return a.Prim == b.Prim
	}
	return false
}

// Equal compares pairs and vectors structurally and everything else with Eq.
// Circular structure is handled: a pair of nodes already under comparison is
// assumed equal.
func Equal(a, b Value) bool {
	return equal(a, b, &comparing{})
}

type comparing struct {
	pairs   map[[2]*Pair]bool
	vectors map[[2]*[]Value]bool
}

func equal(a, b Value, c *comparing) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ValPair:
		for a.Kind == ValPair && b.Kind == ValPair {
			key := [2]*Pair{a.Pair, b.Pair}
			if c.pairs[key] {
				return true
			}
			if c.pairs == nil {
				c.pairs = make(map[[2]*Pair]bool)
			}
			c.pairs[key] = true
			if !equal(a.Pair.Car, b.Pair.Car, c) {
				return false
			}
			a, b = a.Pair.Cdr, b.Pair.Cdr
		}
		return equal(a, b, c)
	case ValVector:
		key := [2]*[]Value{a.Vector, b.Vector}
		if c.vectors[key] {
			return true
		}
		if c.vectors == nil {
			c.vectors = make(map[[2]*[]Value]bool)
		}
		c.vectors[key] = true
		as, bs := *a.Vector, *b.Vector
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !equal(as[i], bs[i], c) {
				return false
			}
		}
		return true
	}
	return Eq(a, b)
}

// ValueToGo converts a Value to a JSON-friendly Go value for the wire.
// Circular data has no JSON shape and converts to its printed form.
func ValueToGo(v Value) (any, error) {
	if isCircular(v, &path{}) {
		return v.String(), nil
	}
	return valueToGo(v)
}

func isCircular(v Value, seen *path) bool {
	switch v.Kind {
	case ValPair:
		var entered []*Pair
		defer func() {
			for _, c := range entered {
				delete(seen.pairs, c)
			}
		}()
		for v.Kind == ValPair {
			if !seen.enterPair(v.Pair) {
				return true
			}
			entered = append(entered, v.Pair)
			if isCircular(v.Pair.Car, seen) {
				return true
			}
			v = v.Pair.Cdr
		}
		return isCircular(v, seen)
	case ValVector:
		if !seen.enterVector(v.Vector) {
			return true
		}
		defer delete(seen.vectors, v.Vector)
		for _, e := range *v.Vector {
			if isCircular(e, seen) {
				return true
			}
		}
	}
	return false
}

func valueToGo(v Value) (any, error) {
	switch v.Kind {
	case ValInt:
		return v.Int, nil
	case ValFloat:
		return v.Float, nil
	case ValBool:
		return v.Bool, nil
	case ValString:
		return v.Str, nil
	case ValNil:
		return []any{}, nil
	case ValPair:
		elems, err := ListToSlice(v)
		if err != nil {
			// dotted data has no JSON shape; fall back to its printed form
			return v.String(), nil
		}
		arr := make([]any, len(elems))
		for i, e := range elems {
			if arr[i], err = valueToGo(e); err != nil {
				return nil, err
			}
		}
		return arr, nil
	case ValVector:
		elems := *v.Vector
		arr := make([]any, len(elems))
		for i, e := range elems {
			j, err := valueToGo(e)
			if err != nil {
				return nil, err
			}
			arr[i] = j
		}
		return arr, nil
	case ValSymbol, ValClosure, ValPrimitive, ValUnspecified:
		return v.String(), nil
	default:
		return nil, fmt.Errorf("unknown value kind")
	}
}
