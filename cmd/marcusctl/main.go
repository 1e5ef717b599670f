// Command marcusctl is a thin operator CLI for marcusd's SSE
// transport: it issues one JSON-RPC tools/call per invocation and
// prints the result, for inspecting coordinator state from a shell or
// a script without writing an MCP client. Adapted from the teacher's
// cmd/cliaimonitor instance-status flags (a one-shot command that
// talks to the running daemon over HTTP and prints a result).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func main() {
	addr := flag.String("addr", "http://localhost:8585", "marcusd SSE transport base URL")
	agentID := flag.String("agent-id", "marcusctl", "X-Agent-ID header to present")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: marcusctl [-addr url] <tool-name> [key=value ...]")
		fmt.Fprintln(os.Stderr, "       marcusctl list-tools")
		os.Exit(1)
	}

	if err := dispatch(*addr, *agentID, *timeout, args); err != nil {
		fmt.Fprintf(os.Stderr, "marcusctl: %v\n", err)
		os.Exit(1)
	}
}

func dispatch(addr, agentID string, timeout time.Duration, args []string) error {
	client := &http.Client{Timeout: timeout}

	if args[0] == "list-tools" {
		return call(client, addr, agentID, "tools/list", nil)
	}

	toolName := args[0]
	toolArgs := make(map[string]interface{}, len(args)-1)
	for _, kv := range args[1:] {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("argument %q must be key=value", kv)
		}
		toolArgs[k] = parseValue(v)
	}

	return call(client, addr, agentID, "tools/call", map[string]interface{}{
		"name":      toolName,
		"arguments": toolArgs,
	})
}

// parseValue converts a raw CLI value into an int or bool when it
// looks like one, falling back to the literal string — good enough for
// the scalar arguments every marcusd tool takes.
func parseValue(raw string) interface{} {
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err == nil && fmt.Sprintf("%d", n) == raw {
		return n
	}
	return raw
}

func call(client *http.Client, addr, agentID, method string, params interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(addr, "/")+"/sse", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", agentID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request marcusd: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var decoded rpcResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decode response (status %d): %s", resp.StatusCode, data)
	}
	if decoded.Error != nil {
		return fmt.Errorf("marcusd error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}

	pretty, err := json.MarshalIndent(decoded.Result, "", "  ")
	if err != nil {
		fmt.Println(string(decoded.Result))
		return nil
	}
	fmt.Println(string(pretty))
	return nil
}
