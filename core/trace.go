package fez

// Trace records one top-level request handled by a session: the source it
// was given and how it ended.
type Trace struct {
	Op        string // "eval" or "definitial"
	Entry     string // source text
	Result    Value  // shares structure with the session's data
	Printed   string // Result as printed when the request finished
	Error     string // non-empty on error
	Timestamp string // ISO 8601
}

// ToValue converts a Trace to an association list for the traces primitive.
// The result entry is the live value, so later set-car! or set-cdr! on it
// shows through.
func (t *Trace) ToValue() Value {
	result := t.Result
	if t.Error != "" {
		result = False
	}
	errVal := False
	if t.Error != "" {
		errVal = StringVal(t.Error)
	}
	return List(
		Cons(Sym("op"), Sym(t.Op)),
		Cons(Sym("entry"), StringVal(t.Entry)),
		Cons(Sym("result"), result),
		Cons(Sym("error"), errVal),
		Cons(Sym("timestamp"), StringVal(t.Timestamp)),
	)
}

// ToGo converts a Trace to a JSON-friendly map for the traces op.
func (t *Trace) ToGo() map[string]any {
	m := map[string]any{
		"op":        t.Op,
		"entry":     t.Entry,
		"timestamp": t.Timestamp,
	}
	if t.Error != "" {
		m["error"] = t.Error
	} else {
		m["result"] = t.Printed
	}
	return m
}
