package fez

import (
	"bytes"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/RobotDisco/fez-scheme/store"
)

func newTestSession(t *testing.T, journal Journal) (*Session, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	s, err := NewSession(journal, &out)
	if err != nil {
		t.Fatal(err)
	}
	return s, &out
}

func openTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestSessionManual(t *testing.T) {
	s, _ := newTestSession(t, nil)
	resp := s.HandleRequest(map[string]any{"id": "r1"})
	if resp["ok"] != true || resp["id"] != "r1" {
		t.Fatalf("unexpected manual response: %v", resp)
	}
	m := resp["value"].(map[string]any)
	if m["name"] != "fez" {
		t.Fatalf("unexpected name: %v", m["name"])
	}
	ops := m["ops"].(map[string]any)
	for _, op := range []string{"eval", "definitial", "bindings", "traces", "clear"} {
		if _, ok := ops[op]; !ok {
			t.Fatalf("manual is missing op %s", op)
		}
	}
}

func TestSessionEvalRequest(t *testing.T) {
	s, _ := newTestSession(t, nil)
	resp := s.HandleRequest(map[string]any{"id": "r1", "op": "eval", "expr": "(cons 1 '(2))"})
	if resp["ok"] != true {
		t.Fatalf("eval failed: %v", resp)
	}
	if resp["value"] != "(1 2)" {
		t.Fatalf("unexpected value: %v", resp["value"])
	}
	data, ok := resp["data"].([]any)
	if !ok || len(data) != 2 || data[0] != int64(1) {
		t.Fatalf("unexpected data: %#v", resp["data"])
	}
}

func TestSessionEvalPersistsGlobals(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if _, err := s.Eval(`(set! fact (lambda (n) (if (= n 0) 1 (* n (fact (- n 1))))))`); err != nil {
		t.Fatal(err)
	}
	val, err := s.Eval(`(fact 5)`)
	if err != nil || !Equal(val, IntVal(120)) {
		t.Fatalf("expected 120, got %s, %v", val.String(), err)
	}
}

func TestSessionErrorKinds(t *testing.T) {
	s, _ := newTestSession(t, nil)
	for _, tc := range []struct {
		expr string
		kind string
	}{
		{"undefined-thing", "unbound-variable"},
		{"(set! undefined-thing 1)", "unbound-variable"},
		{"()", "unevaluable-expression"},
		{"((lambda (x) x))", "arity-mismatch"},
		{"(car 1 2)", "arity-mismatch"},
		{"(1 2)", "not-callable"},
		{"(if)", "syntax"},
		{"(car 1)", "primitive"},
		{"(a b", "error"},
	} {
		resp := s.HandleRequest(map[string]any{"op": "eval", "expr": tc.expr})
		if resp["ok"] != false {
			t.Fatalf("%s: expected failure, got %v", tc.expr, resp)
		}
		if resp["kind"] != tc.kind {
			t.Fatalf("%s: expected kind %s, got %v (%v)", tc.expr, tc.kind, resp["kind"], resp["error"])
		}
	}
}

func TestErrorKindDepth(t *testing.T) {
	if got := ErrorKind(ErrDepthExceeded); got != "depth-exceeded" {
		t.Fatalf("ErrorKind(ErrDepthExceeded) = %s", got)
	}
	if got := ErrorKind(errors.New("x")); got != "error" {
		t.Fatalf("ErrorKind(plain) = %s", got)
	}
}

func TestSessionEvalMissingExpr(t *testing.T) {
	s, _ := newTestSession(t, nil)
	resp := s.HandleRequest(map[string]any{"op": "eval"})
	if resp["ok"] != false {
		t.Fatalf("expected failure, got %v", resp)
	}
}

func TestSessionUnknownOp(t *testing.T) {
	s, _ := newTestSession(t, nil)
	resp := s.HandleRequest(map[string]any{"op": "frobnicate"})
	if resp["ok"] != false {
		t.Fatalf("expected failure, got %v", resp)
	}
}

func TestSessionDefinitial(t *testing.T) {
	s, _ := newTestSession(t, nil)
	resp := s.HandleRequest(map[string]any{"op": "definitial", "name": "square", "expr": "(lambda (x) (* x x))"})
	if resp["ok"] != true {
		t.Fatalf("definitial failed: %v", resp)
	}
	val, err := s.Eval("(square 7)")
	if err != nil || !Equal(val, IntVal(49)) {
		t.Fatalf("expected 49, got %s, %v", val.String(), err)
	}

	resp = s.HandleRequest(map[string]any{"op": "definitial", "name": "square", "expr": "1"})
	if resp["ok"] != false || resp["kind"] != "duplicate-binding" {
		t.Fatalf("expected duplicate-binding, got %v", resp)
	}

	// placeholders count as bindings too
	if _, err := s.Definitial("car", ""); err == nil {
		t.Fatal("expected duplicate error for primitive name")
	}
}

func TestSessionDefinitialPlaceholder(t *testing.T) {
	s, _ := newTestSession(t, nil)
	val, err := s.Definitial("later", "")
	if err != nil {
		t.Fatal(err)
	}
	if val.Kind != ValUnspecified {
		t.Fatalf("expected unspecified, got %s", val.String())
	}
	if _, err := s.Eval("(set! later 3)"); err != nil {
		t.Fatalf("set! on placeholder: %v", err)
	}
}

func TestSessionDefinitialFailureLeavesNoBinding(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if _, err := s.Definitial("broken", "(car '())"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := s.Env().Lookup("broken"); err == nil {
		t.Fatal("failed definitial should not bind")
	}
}

func TestSessionBindings(t *testing.T) {
	s, _ := newTestSession(t, nil)
	resp := s.HandleRequest(map[string]any{"op": "bindings"})
	names := resp["value"].([]any)
	if len(names) == 0 {
		t.Fatal("expected bindings")
	}
	for i := 1; i < len(names); i++ {
		if names[i-1].(string) > names[i].(string) {
			t.Fatalf("bindings not sorted: %v", names)
		}
	}
	found := false
	for _, n := range names {
		if n == "traces" {
			found = true
		}
	}
	if !found {
		t.Fatal("traces primitive should be bound")
	}
}

func TestSessionTraces(t *testing.T) {
	s, _ := newTestSession(t, nil)
	s.Eval("(+ 1 2)")
	s.Eval("nope")

	resp := s.HandleRequest(map[string]any{"op": "traces", "n": float64(1)})
	ts := resp["value"].([]any)
	if len(ts) != 1 {
		t.Fatalf("expected 1 trace, got %d", len(ts))
	}
	last := ts[0].(map[string]any)
	if last["entry"] != "nope" || last["error"] == nil {
		t.Fatalf("unexpected trace: %v", last)
	}

	// (traces) sees both earlier requests
	val, err := s.Eval("(car (car (cdr (car (traces)))))")
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(val, Sym("entry")) {
		t.Fatalf("expected entry key, got %s", val.String())
	}
	n, err := s.Eval("(cdr (car (cdr (car (traces)))))")
	if err != nil || !Equal(n, StringVal("(+ 1 2)")) {
		t.Fatalf("expected first entry source, got %s, %v", n.String(), err)
	}
}

func TestSessionClear(t *testing.T) {
	s, _ := newTestSession(t, nil)
	s.Eval("(set! foo 1)")
	s.Definitial("extra", "2")

	resp := s.HandleRequest(map[string]any{"op": "clear"})
	if resp["ok"] != true {
		t.Fatalf("clear failed: %v", resp)
	}
	if _, err := s.Env().Lookup("extra"); err == nil {
		t.Fatal("clear should drop definitials")
	}
	foo, _ := s.Env().Lookup("foo")
	if foo.Kind != ValUnspecified {
		t.Fatalf("clear should reset placeholders, foo = %s", foo.String())
	}
	if len(s.Traces(-1)) != 0 {
		t.Fatal("clear should drop traces")
	}
}

func TestSessionDisplayOutput(t *testing.T) {
	s, out := newTestSession(t, nil)
	if _, err := s.Eval(`(display "hello")`); err != nil {
		t.Fatal(err)
	}
	if out.String() != "hello" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSessionJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fez.db")

	st := openTestStore(t, path)
	s, out := newTestSession(t, st)
	if _, err := s.Definitial("counter", "0"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Eval(`(set! counter (+ counter 1)) (display "tick")`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Eval("unbound-and-not-journaled"); err == nil {
		t.Fatal("expected error")
	}
	if out.String() != "tick" {
		t.Fatalf("unexpected output %q", out.String())
	}
	st.Close()

	st = openTestStore(t, path)
	defer st.Close()
	entries, err := st.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 journaled entries, got %d", len(entries))
	}

	s2, out2 := newTestSession(t, st)
	val, err := s2.Env().Lookup("counter")
	if err != nil || !Equal(val, IntVal(1)) {
		t.Fatalf("expected counter=1 after replay, got %s, %v", val.String(), err)
	}
	if out2.Len() != 0 {
		t.Fatalf("replay should not write output, got %q", out2.String())
	}
	if _, err := s2.Eval(`(display "after")`); err != nil {
		t.Fatal(err)
	}
	if out2.String() != "after" {
		t.Fatalf("output should be restored after replay, got %q", out2.String())
	}
}

func TestSessionClearTruncatesJournal(t *testing.T) {
	st := openTestStore(t, filepath.Join(t.TempDir(), "fez.db"))
	defer st.Close()
	s, _ := newTestSession(t, st)
	s.Eval("(set! foo 1)")
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	entries, err := st.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty journal, got %d entries", len(entries))
	}
}

func TestSessionCircularResult(t *testing.T) {
	s, _ := newTestSession(t, nil)
	done := make(chan map[string]any, 1)
	go func() {
		done <- s.HandleRequest(map[string]any{"op": "eval", "expr": "(set! foo (cons 1 '())) (set-cdr! foo foo)"})
	}()
	select {
	case resp := <-done:
		if resp["ok"] != true || resp["value"] != "(1 . ...)" {
			t.Fatalf("unexpected response: %v", resp)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("eval of a circular result did not return")
	}

	val, err := s.Eval("(equal? foo (cdr foo))")
	if err != nil || !Eq(val, True) {
		t.Fatalf("equal? on circular list: %s, %v", val.String(), err)
	}
	if ts := s.HandleRequest(map[string]any{"op": "traces"}); ts["ok"] != true {
		t.Fatalf("traces failed: %v", ts)
	}
}

func TestSessionPartialBatchReplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fez.db")

	st := openTestStore(t, path)
	s, _ := newTestSession(t, st)
	if _, err := s.Eval("(set! foo 1) (car 5) (set! bar 2)"); err == nil {
		t.Fatal("expected error from (car 5)")
	}
	live, _ := s.Env().Lookup("foo")
	st.Close()

	st = openTestStore(t, path)
	defer st.Close()
	entries, err := st.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Source != "(set! foo 1)" {
		t.Fatalf("expected only the successful form journaled, got %v", entries)
	}

	s2, _ := newTestSession(t, st)
	replayed, _ := s2.Env().Lookup("foo")
	if !Equal(live, replayed) {
		t.Fatalf("live foo=%s, replayed foo=%s", live.String(), replayed.String())
	}
	bar, _ := s2.Env().Lookup("bar")
	if bar.Kind != ValUnspecified {
		t.Fatalf("forms after the failure should not run, bar=%s", bar.String())
	}
}

func TestSessionJournalsReadableForms(t *testing.T) {
	st := openTestStore(t, filepath.Join(t.TempDir(), "fez.db"))
	defer st.Close()
	s, _ := newTestSession(t, st)
	src := `(set! foo '(a "b\n" #(1 2.0) (c . d)))`
	if _, err := s.Eval(src); err != nil {
		t.Fatal(err)
	}
	want, _ := s.Env().Lookup("foo")

	s2, _ := newTestSession(t, st)
	got, _ := s2.Env().Lookup("foo")
	if !Equal(want, got) {
		t.Fatalf("replayed %s, want %s", got.String(), want.String())
	}
}

func TestSessionTraceSnapshot(t *testing.T) {
	s, _ := newTestSession(t, nil)
	if _, err := s.Eval("(set! foo (cons 1 2))"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Eval("(set-car! foo 9)"); err != nil {
		t.Fatal(err)
	}
	first := s.Traces(-1)[0].ToGo()
	if first["result"] != "(1 . 2)" {
		t.Fatalf("trace history changed after mutation: %v", first["result"])
	}
}

func TestSessionShutdownWithOpenConnection(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "fez.sock")
	s, _ := newTestSession(t, nil)
	if err := s.Listen(sock); err != nil {
		t.Fatal(err)
	}
	ran := make(chan struct{})
	go func() {
		s.Run()
		close(ran)
	}()

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if err := WriteMsg(conn, map[string]any{"id": "r1", "op": "eval", "expr": "(+ 1 2)"}); err != nil {
		t.Fatal(err)
	}
	resp, err := ReadMsg(conn)
	if err != nil || resp["value"] != "3" {
		t.Fatalf("unexpected response: %v, %v", resp, err)
	}

	stopped := make(chan struct{})
	go func() {
		s.Shutdown()
		s.Shutdown()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Shutdown did not return with a client connected")
	}
	<-ran

	if _, err := ReadMsg(conn); err != io.EOF {
		t.Fatalf("expected connection closed by server, got %v", err)
	}
}
