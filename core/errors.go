package fez

import (
	"errors"
	"fmt"
)

// ErrDepthExceeded is returned when nested non-tail evaluation goes deeper
// than Evaluator.MaxDepth.
var ErrDepthExceeded = errors.New("maximum recursion depth exceeded")

// UnboundVariableError is returned by lookup and set! when no frame binds Name.
type UnboundVariableError struct {
	Name string
}

func (e *UnboundVariableError) Error() string {
	return fmt.Sprintf("unbound variable: %s", e.Name)
}

// UnevaluableError is returned for atoms that are neither symbols nor
// self-evaluating, such as the empty list.
type UnevaluableError struct {
	Expr Value
}

func (e *UnevaluableError) Error() string {
	return fmt.Sprintf("cannot evaluate %s", e.Expr.String())
}

// ArityError reports a count mismatch in a primitive call or a parameter
// binding. Expected is the minimum when Variadic is set.
type ArityError struct {
	Context  string
	Expected int
	Actual   int
	Variadic bool
}

func (e *ArityError) Error() string {
	if e.Variadic {
		return fmt.Sprintf("%s: expected at least %d args, got %d", e.Context, e.Expected, e.Actual)
	}
	return fmt.Sprintf("%s: expected %d args, got %d", e.Context, e.Expected, e.Actual)
}

type NotCallableError struct {
	Value Value
}

func (e *NotCallableError) Error() string {
	return fmt.Sprintf("cannot call %s value %s", e.Value.KindName(), e.Value.String())
}

// SyntaxError reports a malformed special form.
type SyntaxError struct {
	Form   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Form, e.Reason)
}

type DuplicateBindingError struct {
	Name string
}

func (e *DuplicateBindingError) Error() string {
	return fmt.Sprintf("duplicate binding: %s", e.Name)
}

// PrimitiveError wraps a failure inside a host operation.
type PrimitiveError struct {
	Name string
	Err  error
}

func (e *PrimitiveError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *PrimitiveError) Unwrap() error { return e.Err }
