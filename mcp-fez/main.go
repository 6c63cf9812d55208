package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	fez "github.com/RobotDisco/fez-scheme/core"
)

var (
	conn   net.Conn
	connMu sync.Mutex
)

// send sends a request to the fez daemon and returns the response.
func send(req map[string]any) (map[string]any, error) {
	req["id"] = fez.NextID()
	connMu.Lock()
	defer connMu.Unlock()
	if err := fez.WriteMsg(conn, req); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	resp, err := fez.ReadMsg(conn)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return resp, nil
}

// formatResult turns a daemon response into an MCP tool result.
func formatResult(resp map[string]any) (*mcp.CallToolResult, error) {
	ok, _ := resp["ok"].(bool)
	if !ok {
		errMsg, _ := resp["error"].(string)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		if kind, _ := resp["kind"].(string); kind != "" {
			errMsg = kind + ": " + errMsg
		}
		return mcp.NewToolResultError(errMsg), nil
	}
	if s, isString := resp["value"].(string); isString {
		return mcp.NewToolResultText(s), nil
	}
	out, err := json.MarshalIndent(resp["value"], "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return mcp.NewToolResultText(string(out)), nil
}

func forward(req map[string]any) (*mcp.CallToolResult, error) {
	resp, err := send(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return formatResult(resp)
}

func handleEval(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr, err := request.RequireString("expr")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return forward(map[string]any{"op": "eval", "expr": expr})
}

func handleDefinitial(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	req := map[string]any{"op": "definitial", "name": name}
	if expr := request.GetString("expr", ""); expr != "" {
		req["expr"] = expr
	}
	return forward(req)
}

func handleBindings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return forward(map[string]any{"op": "bindings"})
}

func handleTraces(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := map[string]any{"op": "traces"}
	if n := request.GetInt("n", -1); n >= 0 {
		req["n"] = n
	}
	return forward(req)
}

func handleClear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return forward(map[string]any{"op": "clear"})
}

func main() {
	sockPath := os.Getenv("FEZ_SOCK")
	if sockPath == "" {
		sockPath = "/tmp/fez.sock"
	}

	var err error
	conn, err = net.Dial("unix", sockPath)
	if err != nil {
		log.Fatalf("connect to %s: %v", sockPath, err)
	}
	defer conn.Close()
	log.Printf("connected to fez daemon: %s", sockPath)

	s := server.NewMCPServer(
		"fez",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s.AddTool(
		mcp.NewTool("fez_eval",
			mcp.WithDescription("Evaluate Scheme forms in the session's global environment. Returns the printed value of the last form."),
			mcp.WithString("expr",
				mcp.Required(),
				mcp.Description("Scheme source, e.g. ((lambda (x) (+ x 1)) 41)"),
			),
		),
		handleEval,
	)

	s.AddTool(
		mcp.NewTool("fez_definitial",
			mcp.WithDescription("Declare a new global variable. set! only works on variables that already exist."),
			mcp.WithString("name",
				mcp.Required(),
				mcp.Description("Variable name"),
			),
			mcp.WithString("expr",
				mcp.Description("Initial value expression; omitted means unspecified"),
			),
		),
		handleDefinitial,
	)

	s.AddTool(
		mcp.NewTool("fez_bindings",
			mcp.WithDescription("List the names bound in the global environment."),
		),
		handleBindings,
	)

	s.AddTool(
		mcp.NewTool("fez_traces",
			mcp.WithDescription("Return recent evaluation traces (entry, result or error, timestamp)."),
			mcp.WithNumber("n",
				mcp.Description("How many of the most recent traces to return"),
			),
		),
		handleTraces,
	)

	s.AddTool(
		mcp.NewTool("fez_clear",
			mcp.WithDescription("Reset the global environment to its bootstrap state, truncate the journal and clear traces."),
		),
		handleClear,
	)

	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
