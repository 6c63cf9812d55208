package fez

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/RobotDisco/fez-scheme/store"
)

// Journal persists accepted top-level forms. *store.Store implements it.
type Journal interface {
	Append(entries ...store.Entry) error
	Entries() ([]store.Entry, error)
	Truncate() error
	Close() error
}

// Session owns a global environment. Socket clients reach it through a
// single actor goroutine, so the environment is never touched concurrently.
type Session struct {
	env       *Env
	eval      *Evaluator
	journal   Journal // may be nil
	out       *switchWriter
	traces    []Trace
	maxTraces int
	requests  chan sessionRequest
	listener  net.Listener

	mu        sync.Mutex
	closing   bool
	conns     map[net.Conn]struct{}
	handlers  sync.WaitGroup
	actorDone chan struct{}
	stopOnce  sync.Once
}

type sessionRequest struct {
	msg      map[string]any
	response chan map[string]any
}

// switchWriter lets display output be silenced while the journal replays.
type switchWriter struct {
	w io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) { return s.w.Write(p) }

// NewSession builds the default global environment and replays journal
// into it. journal may be nil; out receives display output.
func NewSession(journal Journal, out io.Writer) (*Session, error) {
	if out == nil {
		out = os.Stdout
	}
	s := &Session{
		eval:      NewEvaluator(),
		journal:   journal,
		out:       &switchWriter{w: out},
		maxTraces: 1000,
		requests:  make(chan sessionRequest, 64),
		conns:     make(map[net.Conn]struct{}),
	}
	if err := s.reset(); err != nil {
		return nil, err
	}
	if err := s.replay(); err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}
	return s, nil
}

func (s *Session) reset() error {
	prims := DefaultPrimitives(s.out)
	prims = append(prims, Primitive{Name: "traces", Arity: 0, Fn: s.primTraces})
	env, err := BuildGlobalEnv(prims, DefaultPlaceholders())
	if err != nil {
		return fmt.Errorf("build global env: %w", err)
	}
	s.env = env
	return nil
}

func (s *Session) replay() error {
	if s.journal == nil {
		return nil
	}
	entries, err := s.journal.Entries()
	if err != nil {
		return err
	}
	saved := s.out.w
	s.out.w = io.Discard
	defer func() { s.out.w = saved }()

	for _, e := range entries {
		switch e.Kind {
		case store.KindEval:
			_, err = s.eval.EvalAll(e.Source, s.env)
		case store.KindDefinitial:
			_, err = s.definitial(e.Name, e.Source)
		default:
			err = fmt.Errorf("unknown entry kind %q", e.Kind)
		}
		if err != nil {
			log.Printf("replay entry %d (%s): %v", e.Seq, e.Kind, err)
		}
	}
	return nil
}

// Env returns the session's global environment.
func (s *Session) Env() *Env { return s.env }

// Eval evaluates every form in src in the global environment and records a
// trace. Each form is journaled as soon as it succeeds, so a batch that fails
// part way replays to the same state the live session is left in.
func (s *Session) Eval(src string) (Value, error) {
	trace := &Trace{Op: "eval", Entry: src, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	val, err := s.evalForms(src)
	s.finishTrace(trace, val, err)
	return val, err
}

func (s *Session) evalForms(src string) (Value, error) {
	exprs, err := ReadAll(src)
	if err != nil {
		return Value{}, fmt.Errorf("parse error: %w", err)
	}
	val := Unspecified
	for _, expr := range exprs {
		if val, err = s.eval.Eval(expr, s.env); err != nil {
			return Value{}, err
		}
		if s.journal == nil {
			continue
		}
		if err := s.journal.Append(store.Entry{Kind: store.KindEval, Source: expr.String()}); err != nil {
			return Value{}, fmt.Errorf("journal: %w", err)
		}
	}
	return val, nil
}

// Definitial declares a new global. An empty src binds the unspecified
// value, as a bare placeholder.
func (s *Session) Definitial(name, src string) (Value, error) {
	trace := &Trace{Op: "definitial", Entry: name, Timestamp: time.Now().UTC().Format(time.RFC3339)}
	val, err := s.definitial(name, src)
	if err == nil && s.journal != nil {
		if jerr := s.journal.Append(store.Entry{Kind: store.KindDefinitial, Name: name, Source: src}); jerr != nil {
			err = fmt.Errorf("journal: %w", jerr)
		}
	}
	s.finishTrace(trace, val, err)
	return val, err
}

func (s *Session) definitial(name, src string) (Value, error) {
	if name == "" {
		return Value{}, fmt.Errorf("definitial: missing name")
	}
	if _, err := s.env.Lookup(name); err == nil {
		return Value{}, &DuplicateBindingError{Name: name}
	}
	val := Unspecified
	if src != "" {
		var err error
		if val, err = s.eval.EvalString(src, s.env); err != nil {
			return Value{}, err
		}
	}
	if err := s.env.Define(name, val); err != nil {
		return Value{}, err
	}
	return val, nil
}

// Bindings returns the sorted names of the global environment.
func (s *Session) Bindings() []string {
	names := s.env.Names()
	sort.Strings(names)
	return names
}

// Clear rebuilds the default global environment, truncates the journal and
// drops traces.
func (s *Session) Clear() error {
	if s.journal != nil {
		if err := s.journal.Truncate(); err != nil {
			return err
		}
	}
	s.traces = nil
	return s.reset()
}

func (s *Session) finishTrace(t *Trace, val Value, err error) {
	if err != nil {
		t.Error = err.Error()
	} else {
		t.Result = val
		t.Printed = val.String()
	}
	s.appendTrace(t)
}

// appendTrace adds a trace and enforces the maxTraces cap.
func (s *Session) appendTrace(t *Trace) {
	s.traces = append(s.traces, *t)
	if len(s.traces) > s.maxTraces {
		excess := len(s.traces) - s.maxTraces
		s.traces = s.traces[excess:]
	}
}

// Traces returns up to the last n traces, oldest first. n < 0 means all.
func (s *Session) Traces(n int) []Trace {
	if n < 0 || n > len(s.traces) {
		n = len(s.traces)
	}
	out := make([]Trace, n)
	copy(out, s.traces[len(s.traces)-n:])
	return out
}

// primTraces: (traces) -> list of association lists, oldest first.
func (s *Session) primTraces(args []Value) (Value, error) {
	ts := s.Traces(-1)
	elems := make([]Value, len(ts))
	for i := range ts {
		elems[i] = ts[i].ToValue()
	}
	return List(elems...), nil
}

// --- Request handling ---

// HandleRequest executes one wire request on the calling goroutine.
// Callers that share a Session across goroutines must go through Run.
func (s *Session) HandleRequest(msg map[string]any) map[string]any {
	id, _ := msg["id"].(string)

	op, _ := msg["op"].(string)
	switch op {
	case "":
		return s.manual(id)
	case "eval":
		return s.handleEval(id, msg)
	case "definitial":
		return s.handleDefinitial(id, msg)
	case "bindings":
		return s.handleBindings(id)
	case "traces":
		return s.handleTraces(id, msg)
	case "clear":
		return s.handleClear(id)
	default:
		return errorResponse(id, fmt.Errorf("unknown op: %s", op))
	}
}

func (s *Session) manual(id string) map[string]any {
	return map[string]any{
		"id": id,
		"ok": true,
		"value": map[string]any{
			"name":    "fez",
			"version": "1.0.0",
			"ops": map[string]any{
				"eval":       "Evaluate Scheme forms in the global environment. Params: expr (string)",
				"definitial": "Declare a new global variable. Params: name (string), expr (string, optional)",
				"bindings":   "List global variable names.",
				"traces":     "Return recent evaluation traces. Params: n (int, optional)",
				"clear":      "Reset the global environment, truncate the journal, drop traces.",
			},
			"primitives": toAnySlice(s.Bindings()),
			"forms":      []any{"quote", "if", "begin", "set!", "lambda"},
		},
	}
}

func (s *Session) handleEval(id string, msg map[string]any) map[string]any {
	expr, ok := msg["expr"].(string)
	if !ok {
		return errorResponse(id, fmt.Errorf("eval: missing 'expr' string"))
	}
	val, err := s.Eval(expr)
	if err != nil {
		return errorResponse(id, err)
	}
	return valueResponse(id, val)
}

func (s *Session) handleDefinitial(id string, msg map[string]any) map[string]any {
	name, ok := msg["name"].(string)
	if !ok {
		return errorResponse(id, fmt.Errorf("definitial: missing 'name' string"))
	}
	expr, _ := msg["expr"].(string)
	val, err := s.Definitial(name, expr)
	if err != nil {
		return errorResponse(id, err)
	}
	return map[string]any{
		"id":    id,
		"ok":    true,
		"value": map[string]any{"name": name, "value": val.String()},
	}
}

func (s *Session) handleBindings(id string) map[string]any {
	return map[string]any{"id": id, "ok": true, "value": toAnySlice(s.Bindings())}
}

func (s *Session) handleTraces(id string, msg map[string]any) map[string]any {
	n := -1
	if raw, ok := msg["n"].(float64); ok {
		n = int(raw)
	}
	ts := s.Traces(n)
	out := make([]any, len(ts))
	for i := range ts {
		out[i] = ts[i].ToGo()
	}
	return map[string]any{"id": id, "ok": true, "value": out}
}

func (s *Session) handleClear(id string) map[string]any {
	if err := s.Clear(); err != nil {
		return errorResponse(id, err)
	}
	return map[string]any{"id": id, "ok": true, "value": "cleared"}
}

func valueResponse(id string, val Value) map[string]any {
	resp := map[string]any{"id": id, "ok": true, "value": val.String()}
	if data, err := ValueToGo(val); err == nil {
		resp["data"] = data
	}
	return resp
}

func errorResponse(id string, err error) map[string]any {
	return map[string]any{"id": id, "ok": false, "error": err.Error(), "kind": ErrorKind(err)}
}

// ErrorKind classifies err for clients.
func ErrorKind(err error) string {
	var (
		unbound   *UnboundVariableError
		unevalErr *UnevaluableError
		arity     *ArityError
		notCall   *NotCallableError
		syntax    *SyntaxError
		dup       *DuplicateBindingError
		prim      *PrimitiveError
	)
	switch {
	case errors.As(err, &unbound):
		return "unbound-variable"
	case errors.As(err, &unevalErr):
		return "unevaluable-expression"
	case errors.As(err, &arity):
		return "arity-mismatch"
	case errors.As(err, &notCall):
		return "not-callable"
	case errors.As(err, &syntax):
		return "syntax"
	case errors.As(err, &dup):
		return "duplicate-binding"
	case errors.As(err, &prim):
		return "primitive"
	case errors.Is(err, ErrDepthExceeded):
		return "depth-exceeded"
	default:
		return "error"
	}
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// --- Serving ---

// Listen opens the unix socket clients connect to.
func (s *Session) Listen(sockPath string) error {
	// Clean up stale socket
	os.Remove(sockPath)
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = listener
	return nil
}

// Run starts the actor goroutine and accepts connections. Blocks until
// Shutdown closes the listener.
func (s *Session) Run() {
	done := make(chan struct{})
	s.mu.Lock()
	s.actorDone = done
	s.mu.Unlock()
	go func() {
		defer close(done)
		s.actorLoop()
	}()
	s.acceptClients()
}

func (s *Session) acceptClients() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		go s.handleClientConnection(conn)
	}
}

// track registers conn so Shutdown can close it and wait for its handler.
// It reports false once shutdown has started.
func (s *Session) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Session) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.handlers.Done()
}

// Shutdown stops accepting, closes client connections and waits for their
// handlers, then stops the actor and closes the journal. Safe to call more
// than once.
func (s *Session) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		done := s.actorDone
		s.mu.Unlock()

		s.handlers.Wait()
		close(s.requests)
		if done != nil {
			<-done
		}
		if s.journal != nil {
			s.journal.Close()
		}
	})
}

// actorLoop is the single goroutine that owns the global environment.
func (s *Session) actorLoop() {
	for req := range s.requests {
		req.response <- s.HandleRequest(req.msg)
	}
}

// sendToActor sends a request to the actor and waits for the response.
func (s *Session) sendToActor(msg map[string]any) map[string]any {
	resp := make(chan map[string]any, 1)
	s.requests <- sessionRequest{msg: msg, response: resp}
	return <-resp
}

func (s *Session) handleClientConnection(conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	for {
		msg, err := ReadMsg(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("read client message: %v", err)
			}
			return
		}

		resp := s.sendToActor(msg)
		if err := WriteMsg(conn, resp); err != nil {
			log.Printf("write client response: %v", err)
			return
		}
	}
}
