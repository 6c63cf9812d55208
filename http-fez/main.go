package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	fez "github.com/RobotDisco/fez-scheme/core"
)

const maxBody = 1 << 20

// Sender performs one request/response round trip with the daemon.
type Sender func(req map[string]any) (map[string]any, error)

// Gateway exposes a fez daemon over HTTP.
type Gateway struct {
	send    Sender
	timeout time.Duration
}

func NewGateway(send Sender, timeout time.Duration) *Gateway {
	return &Gateway{send: send, timeout: timeout}
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /eval", g.handleEval)
	mux.HandleFunc("GET /bindings", g.handleOp("bindings"))
	mux.HandleFunc("GET /traces", g.handleOp("traces"))
	return mux
}

func (g *Gateway) handleEval(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) == 0 {
		http.Error(w, "empty body", http.StatusBadRequest)
		return
	}
	g.forward(w, map[string]any{"op": "eval", "expr": string(body)})
}

func (g *Gateway) handleOp(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.forward(w, map[string]any{"op": op})
	}
}

type result struct {
	resp map[string]any
	err  error
}

func (g *Gateway) forward(w http.ResponseWriter, req map[string]any) {
	req["id"] = uuid.NewString()

	ch := make(chan result, 1)
	go func() {
		resp, err := g.send(req)
		ch <- result{resp, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			http.Error(w, "failed to reach fez daemon", http.StatusBadGateway)
			return
		}
		status := http.StatusOK
		if ok, _ := res.resp["ok"].(bool); !ok {
			status = http.StatusUnprocessableEntity
		}
		delete(res.resp, "id")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(res.resp)

	case <-time.After(g.timeout):
		http.Error(w, "fez daemon timeout", http.StatusGatewayTimeout)
	}
}

// socketSender serializes round trips over one daemon connection.
func socketSender(conn net.Conn) Sender {
	var mu sync.Mutex
	return func(req map[string]any) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		if err := fez.WriteMsg(conn, req); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		return fez.ReadMsg(conn)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	sockPath := envOr("FEZ_SOCK", "/tmp/fez.sock")
	addr := envOr("FEZ_HTTP_ADDR", ":8080")

	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		log.Fatalf("connect to fez daemon: %v", err)
	}
	defer conn.Close()
	log.Printf("connected to fez daemon: %s", sockPath)

	srv := &http.Server{
		Addr:    addr,
		Handler: NewGateway(socketSender(conn), 30*time.Second).Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server: %v", err)
	}
}
