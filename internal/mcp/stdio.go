package mcp

import (
	"bufio"
	"encoding/json"
	"io"
	"log"
)

// Stdio transport: newline-delimited JSON-RPC over stdin/stdout, the
// default wire format for an MCP server launched as a subprocess (spec
// §6). One request per line in, one response per line out.
type Stdio struct {
	server *Server
	r      *bufio.Scanner
	w      io.Writer
}

// NewStdio builds a stdio transport around an existing Server.
func NewStdio(server *Server, r io.Reader, w io.Writer) *Stdio {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stdio{server: server, r: scanner, w: w}
}

// agentID used for stdio connections: a stdio server is always a
// single local agent process, so there is no per-connection agent
// header to read (unlike SSE's X-Agent-ID).
const stdioAgentID = "stdio"

// Run reads one JSON-RPC request per line until EOF, dispatching each
// through the same handleRequest path the SSE transport uses.
func (s *Stdio) Run() error {
	for s.r.Scan() {
		line := s.r.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(Response{JSONRPC: "2.0", Error: &Error{Code: -32700, Message: "Parse error"}})
			continue
		}

		resp := s.server.handleRequest(stdioAgentID, &req)
		if req.ID == nil {
			continue // notification: no response
		}
		s.writeResponse(resp)
	}
	return s.r.Err()
}

func (s *Stdio) writeResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Printf("[MCP] failed to marshal stdio response: %v", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		log.Printf("[MCP] failed to write stdio response: %v", err)
	}
}
