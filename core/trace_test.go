package fez

import (
	"fmt"
	"testing"
)

func assocRef(t *testing.T, alist Value, key string) Value {
	t.Helper()
	entries, err := ListToSlice(alist)
	if err != nil {
		t.Fatalf("trace is not a list: %v", err)
	}
	for _, e := range entries {
		if e.Kind == ValPair && e.Pair.Car.IsSymbol(key) {
			return e.Pair.Cdr
		}
	}
	t.Fatalf("key %s not found in %s", key, alist.String())
	return Value{}
}

func TestTraceToValue(t *testing.T) {
	tr := &Trace{
		Op:        "eval",
		Entry:     "(+ 1 2)",
		Result:    IntVal(3),
		Timestamp: "2026-02-27T20:00:00Z",
	}

	v := tr.ToValue()
	if !Equal(assocRef(t, v, "op"), Sym("eval")) {
		t.Fatalf("op mismatch: %s", v.String())
	}
	if !Equal(assocRef(t, v, "entry"), StringVal("(+ 1 2)")) {
		t.Fatalf("entry mismatch: %s", v.String())
	}
	if !Equal(assocRef(t, v, "result"), IntVal(3)) {
		t.Fatalf("result mismatch: %s", v.String())
	}
	if !Eq(assocRef(t, v, "error"), False) {
		t.Fatalf("error should be #f: %s", v.String())
	}
	if !Equal(assocRef(t, v, "timestamp"), StringVal("2026-02-27T20:00:00Z")) {
		t.Fatalf("timestamp mismatch: %s", v.String())
	}
}

func TestTraceToValueError(t *testing.T) {
	tr := &Trace{Op: "eval", Entry: "x", Error: "unbound variable: x"}
	v := tr.ToValue()
	if !Equal(assocRef(t, v, "error"), StringVal("unbound variable: x")) {
		t.Fatalf("error mismatch: %s", v.String())
	}
	if !Eq(assocRef(t, v, "result"), False) {
		t.Fatalf("result should be #f on error: %s", v.String())
	}
}

func TestTraceToGo(t *testing.T) {
	ok := (&Trace{Op: "eval", Entry: "'(1 2)", Result: List(IntVal(1), IntVal(2)), Printed: "(1 2)"}).ToGo()
	if ok["result"] != "(1 2)" {
		t.Fatalf("result mismatch: %v", ok["result"])
	}
	if _, has := ok["error"]; has {
		t.Fatal("successful trace should have no error key")
	}

	failed := (&Trace{Op: "definitial", Entry: "foo", Error: "already bound: foo"}).ToGo()
	if failed["error"] != "already bound: foo" {
		t.Fatalf("error mismatch: %v", failed["error"])
	}
	if _, has := failed["result"]; has {
		t.Fatal("failed trace should have no result key")
	}
}

func TestAppendTraceCap(t *testing.T) {
	s := &Session{maxTraces: 3}
	for i := 0; i < 5; i++ {
		s.appendTrace(&Trace{Op: "eval", Entry: fmt.Sprintf("%d", i)})
	}
	ts := s.Traces(-1)
	if len(ts) != 3 {
		t.Fatalf("expected 3 traces, got %d", len(ts))
	}
	if ts[0].Entry != "2" || ts[2].Entry != "4" {
		t.Fatalf("expected oldest dropped, got %s..%s", ts[0].Entry, ts[2].Entry)
	}
	if last := s.Traces(1); len(last) != 1 || last[0].Entry != "4" {
		t.Fatalf("Traces(1) = %v", last)
	}
	if all := s.Traces(10); len(all) != 3 {
		t.Fatalf("Traces(10) should clamp to 3, got %d", len(all))
	}
}
