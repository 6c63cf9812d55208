package fez

// Env is one frame of bindings plus a link to the enclosing environment.
// A nil *Env is the empty environment.
type Env struct {
	names []string
	cells map[string]*Value
	outer *Env
}

// NewGlobalEnv returns an empty root frame.
func NewGlobalEnv() *Env {
	return newFrame(nil, 0)
}

func newFrame(outer *Env, size int) *Env {
	return &Env{
		names: make([]string, 0, size),
		cells: make(map[string]*Value, size),
		outer: outer,
	}
}

func (e *Env) bind(name string, v Value) {
	cell := v
	e.names = append(e.names, name)
	e.cells[name] = &cell
}

func (e *Env) find(name string) *Value {
	for f := e; f != nil; f = f.outer {
		if cell, ok := f.cells[name]; ok {
			return cell
		}
	}
	return nil
}

// Lookup returns the value of the innermost binding of name.
func (e *Env) Lookup(name string) (Value, error) {
	cell := e.find(name)
	if cell == nil {
		return Value{}, &UnboundVariableError{Name: name}
	}
	return *cell, nil
}

// Update overwrites the innermost binding of name in place and returns v.
// It never creates a binding.
func (e *Env) Update(name string, v Value) (Value, error) {
	cell := e.find(name)
	if cell == nil {
		return Value{}, &UnboundVariableError{Name: name}
	}
	*cell = v
	return v, nil
}

// Define adds name to the innermost frame. Used while building the global
// environment; a name may be defined once per frame.
func (e *Env) Define(name string, v Value) error {
	if _, ok := e.cells[name]; ok {
		return &DuplicateBindingError{Name: name}
	}
	e.bind(name, v)
	return nil
}

// Names lists the innermost frame's bindings in insertion order.
func (e *Env) Names() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

// Extend prepends a frame to env binding params to args positionally.
// params is a proper list of symbols, a dotted list whose tail symbol
// collects the remaining args, or a lone symbol that collects all of them.
func Extend(env *Env, params Value, args []Value) (*Env, error) {
	frame := newFrame(env, len(args))
	p := params
	i := 0
	for p.Kind == ValPair {
		name := p.Pair.Car
		if name.Kind != ValSymbol {
			return nil, &SyntaxError{Form: "lambda", Reason: "parameter must be a symbol, got " + name.String()}
		}
		if i >= len(args) {
			return nil, &ArityError{Context: "too few values", Expected: countParams(params), Actual: len(args), Variadic: isVariadic(params)}
		}
		frame.bind(name.Str, args[i])
		i++
		p = p.Pair.Cdr
	}
	switch p.Kind {
	case ValNil:
		if i < len(args) {
			return nil, &ArityError{Context: "too many values", Expected: i, Actual: len(args)}
		}
	case ValSymbol:
		frame.bind(p.Str, List(args[i:]...))
	default:
		return nil, &SyntaxError{Form: "lambda", Reason: "malformed parameter list " + params.String()}
	}
	return frame, nil
}

func countParams(params Value) int {
	n := 0
	for params.Kind == ValPair {
		n++
		params = params.Pair.Cdr
	}
	return n
}

func isVariadic(params Value) bool {
	for params.Kind == ValPair {
		params = params.Pair.Cdr
	}
	return params.Kind == ValSymbol
}
