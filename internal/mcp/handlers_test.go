package mcp

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/CLIAIMONITOR/internal/ai"
	"github.com/CLIAIMONITOR/internal/coordinator"
	"github.com/CLIAIMONITOR/internal/domain"
	"github.com/CLIAIMONITOR/internal/health"
	"github.com/CLIAIMONITOR/internal/kanban"
	"github.com/CLIAIMONITOR/internal/persistence"
)

// toolResult decodes a tools/call response's single text content block
// into a generic map, the shape every tool handler returns.
func toolResult(t *testing.T, resp Response) map[string]interface{} {
	t.Helper()
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected result map, got %T", resp.Result)
	}
	content, ok := result["content"].([]map[string]interface{})
	if !ok || len(content) == 0 {
		t.Fatalf("expected non-empty content slice, got %v", result["content"])
	}
	text, _ := content[0]["text"].(string)
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		t.Fatalf("decode tool result %q: %v", text, err)
	}
	return decoded
}

func newTestServer(t *testing.T, seed []*domain.Task) *Server {
	t.Helper()
	provider := kanban.NewMemoryProvider(seed)
	store := persistence.NewFileStore(filepath.Join(t.TempDir(), "assignments.json"))
	adapter := ai.NewLLMAdapter(ai.DefaultConfig(""), nil)
	c := coordinator.New(provider, store, adapter, nil, nil)

	s := NewServer(nil)
	RegisterMarcusTools(s, c, health.New(c, provider, store, nil, nil))
	return s
}

func callTool(s *Server, name string, args map[string]interface{}) Response {
	req := &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: map[string]interface{}{
		"name":      name,
		"arguments": args,
	}}
	return s.handleRequest("caller", req)
}

func TestRegisterAgentToolEndToEnd(t *testing.T) {
	s := newTestServer(t, nil)

	resp := callTool(s, "register_agent", map[string]interface{}{
		"agent_id": "a1",
		"name":     "Agent A1",
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestRequestNextTaskToolEndToEnd(t *testing.T) {
	s := newTestServer(t, []*domain.Task{
		{ID: "t1", Name: "t1", Status: domain.StatusTODO, Priority: domain.PriorityHigh},
	})

	callTool(s, "register_agent", map[string]interface{}{"agent_id": "a1", "name": "Agent A1"})
	resp := callTool(s, "request_next_task", map[string]interface{}{"agent_id": "a1"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestUnknownToolReturnsError(t *testing.T) {
	s := newTestServer(t, nil)

	req := &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: map[string]interface{}{
		"name":      "does_not_exist",
		"arguments": map[string]interface{}{},
	}}
	resp := s.handleRequest("caller", req)
	if resp.Error == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestPingTool(t *testing.T) {
	s := newTestServer(t, nil)
	resp := callTool(s, "ping", map[string]interface{}{"echo": "hi"})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	decoded := toolResult(t, resp)
	if decoded["status"] != "online" {
		t.Fatalf("expected status=online, got %v", decoded["status"])
	}
	if decoded["echo"] != "hi" {
		t.Fatalf("expected echo=hi, got %v", decoded["echo"])
	}
}

func TestRequestNextTaskUnregisteredAgentReturnsErrorCode(t *testing.T) {
	s := newTestServer(t, nil)
	resp := callTool(s, "request_next_task", map[string]interface{}{"agent_id": "ghost"})
	if resp.Error != nil {
		t.Fatalf("unexpected protocol error: %+v", resp.Error)
	}
	decoded := toolResult(t, resp)
	if decoded["success"] != false {
		t.Fatalf("expected success=false, got %v", decoded["success"])
	}
	if decoded["error_code"] != "not_registered" {
		t.Fatalf("expected error_code=not_registered, got %v", decoded["error_code"])
	}
}

func TestRequestNextTaskNoTaskAvailableReturnsSuccessMessage(t *testing.T) {
	s := newTestServer(t, nil)
	callTool(s, "register_agent", map[string]interface{}{"agent_id": "a1", "name": "Agent A1"})

	resp := callTool(s, "request_next_task", map[string]interface{}{"agent_id": "a1"})
	if resp.Error != nil {
		t.Fatalf("unexpected protocol error: %+v", resp.Error)
	}
	decoded := toolResult(t, resp)
	if decoded["success"] != true {
		t.Fatalf("expected success=true, got %v", decoded["success"])
	}
	if decoded["message"] != "no tasks" {
		t.Fatalf("expected message=\"no tasks\", got %v", decoded["message"])
	}
	if _, hasError := decoded["error"]; hasError {
		t.Fatalf("expected no error field on the no-task response, got %v", decoded)
	}
}

func TestCheckAssignmentHealthReportsShapeFromSpec(t *testing.T) {
	s := newTestServer(t, []*domain.Task{
		{ID: "t1", Name: "t1", Status: domain.StatusTODO, Priority: domain.PriorityMedium},
	})
	callTool(s, "register_agent", map[string]interface{}{"agent_id": "a1", "name": "Agent A1"})
	if resp := callTool(s, "request_next_task", map[string]interface{}{"agent_id": "a1"}); resp.Error != nil {
		t.Fatalf("request_next_task: %+v", resp.Error)
	}

	resp := callTool(s, "check_assignment_health", map[string]interface{}{})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	decoded := toolResult(t, resp)
	if decoded["health_status"] != "healthy" {
		t.Fatalf("expected health_status=healthy, got %v", decoded["health_status"])
	}
	checks, ok := decoded["checks"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected checks object, got %T", decoded["checks"])
	}
	if checks["assignments_checked"] != float64(1) {
		t.Fatalf("expected 1 assignment checked, got %v", checks["assignments_checked"])
	}
	metrics, ok := decoded["metrics"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected metrics object, got %T", decoded["metrics"])
	}
	if metrics["success_rate"] != float64(1) {
		t.Fatalf("expected success_rate=1, got %v", metrics["success_rate"])
	}
	issues, ok := decoded["issues"].([]interface{})
	if !ok {
		t.Fatalf("expected issues array, got %T", decoded["issues"])
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues for a healthy assignment, got %v", issues)
	}
}

func TestToolsListIncludesMarcusTools(t *testing.T) {
	s := newTestServer(t, nil)
	req := &Request{JSONRPC: "2.0", ID: 1, Method: "tools/list"}
	resp := s.handleRequest("caller", req)

	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatal("expected tools/list result map")
	}
	tools, ok := result["tools"].([]map[string]interface{})
	if !ok {
		t.Fatal("expected tools slice")
	}
	if len(tools) < 8 {
		t.Fatalf("expected at least 8 registered tools, got %d", len(tools))
	}
}
